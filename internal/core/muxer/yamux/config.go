// Package yamux 提供隧道使用的 yamux 多路复用封装
package yamux

import (
	"io"
	"time"

	"github.com/hashicorp/yamux"
)

// Config 多路复用配置
type Config struct {
	// MaxStreams 最大待接受流数量
	MaxStreams int

	// MaxStreamWindowSize 单流最大窗口
	MaxStreamWindowSize uint32

	// StreamOpenTimeout 打开流等待 ACK 的超时
	StreamOpenTimeout time.Duration

	// WriteTimeout 连接写超时
	WriteTimeout time.Duration

	// EnableKeepAlive 启用 yamux 内建保活
	//
	// 隧道自身在控制流上发送心跳，默认关闭。
	EnableKeepAlive bool

	// KeepAliveInterval yamux 保活间隔
	KeepAliveInterval time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxStreams:          256,
		MaxStreamWindowSize: 256 * 1024, // 256 KB
		StreamOpenTimeout:   30 * time.Second,
		WriteTimeout:        10 * time.Second,
		EnableKeepAlive:     false,
		KeepAliveInterval:   30 * time.Second,
	}
}

// ToYamux 将 Config 转换为 yamux.Config
func (c Config) ToYamux() *yamux.Config {
	ycfg := yamux.DefaultConfig()
	ycfg.LogOutput = io.Discard // 禁用日志输出

	if c.MaxStreams > 0 {
		ycfg.AcceptBacklog = c.MaxStreams
	}
	if c.MaxStreamWindowSize >= 256*1024 {
		ycfg.MaxStreamWindowSize = c.MaxStreamWindowSize
	}
	if c.StreamOpenTimeout > 0 {
		ycfg.StreamOpenTimeout = c.StreamOpenTimeout
	}
	if c.WriteTimeout > 0 {
		ycfg.ConnectionWriteTimeout = c.WriteTimeout
	}
	ycfg.EnableKeepAlive = c.EnableKeepAlive
	if c.KeepAliveInterval > 0 {
		ycfg.KeepAliveInterval = c.KeepAliveInterval
	}
	return ycfg
}
