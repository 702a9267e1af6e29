// Package server 实现参考代理服务器
//
// 与工作节点使用同一套隧道协议：ws 升级、yamux 服务端、控制流注册与心跳、
// 中继流帧转发。用于本地开发与集成测试。
package server

import "time"

// Config 服务器配置
type Config struct {
	// ListenAddr 监听地址
	// 默认值: 127.0.0.1:0
	ListenAddr string

	// Credentials sn -> token；为空时接受任意非空凭证
	Credentials map[string]string

	// HeartbeatInterval 下发给工作节点的心跳间隔，0 表示由工作节点决定
	HeartbeatInterval time.Duration

	// Upstream 中继流转发目标，为空时回显
	Upstream string

	// EnableSTUN 在同一端口上应答 UDP STUN Binding
	EnableSTUN bool

	// CertFile / KeyFile 启用 TLS（wss）
	CertFile string
	KeyFile  string

	// RegisterTimeout 等待注册消息超时
	// 默认值: 10s
	RegisterTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:0",
		EnableSTUN:      true,
		RegisterTimeout: 10 * time.Second,
	}
}
