// Package tunnel 实现隧道会话
//
// 会话建立在 yamux 之上：第一条流为控制流，负责注册与心跳；
// 其余每条流对应一个本地中继连接。
package tunnel

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Config 会话配置
type Config struct {
	// HeartbeatInterval 心跳间隔
	// 默认值: 10s；服务器在 register_ack 中指定 heartbeat_ms 时以服务器为准
	HeartbeatInterval time.Duration

	// MaxMissedHeartbeats 连续丢失多少次心跳判定会话失效
	// 默认值: 3
	MaxMissedHeartbeats int

	// RegisterTimeout 注册往返超时
	// 默认值: 10s
	RegisterTimeout time.Duration

	// StreamOpenTimeout 打开中继流超时
	// 默认值: 10s
	StreamOpenTimeout time.Duration

	// Clock 时钟（测试中替换为 mock）
	Clock clock.Clock
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:   10 * time.Second,
		MaxMissedHeartbeats: 3,
		RegisterTimeout:     10 * time.Second,
		StreamOpenTimeout:   10 * time.Second,
		Clock:               clock.New(),
	}
}

// Validate 校验配置，无效值回退为默认值
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.MaxMissedHeartbeats <= 0 {
		c.MaxMissedHeartbeats = def.MaxMissedHeartbeats
	}
	if c.RegisterTimeout <= 0 {
		c.RegisterTimeout = def.RegisterTimeout
	}
	if c.StreamOpenTimeout <= 0 {
		c.StreamOpenTimeout = def.StreamOpenTimeout
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	return nil
}
