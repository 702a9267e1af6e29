package types

import (
	"log/slog"
	"net"
	"strconv"
)

// WorkerConfig 代理工作节点配置
//
// 由宿主应用以 JSON 下发，接受后不可变；仅能通过 Start/Restart 重新提供。
type WorkerConfig struct {
	// SerialNumber 设备序列号
	SerialNumber string `json:"sn"`

	// AuthToken 认证 Token
	AuthToken string `json:"token"`

	// TunnelID 隧道 ID
	TunnelID string `json:"tunnel_id"`

	// ProxyServerIP 代理服务器地址
	ProxyServerIP string `json:"proxy_server_ip"`

	// ProxyServerPort 代理服务器端口
	ProxyServerPort int `json:"proxy_server_port"`

	// LocalPort 本地中继监听端口
	LocalPort int `json:"local_port"`

	// NATType NAT 类型
	NATType NATType `json:"nat_type"`

	// FixedPort 固定本地源端口（0 表示临时端口）
	FixedPort int `json:"fixed_port"`

	// DisableTLS 禁用 TLS（使用 ws 而非 wss）
	DisableTLS bool `json:"disable_tls,omitempty"`

	// TLSSecure 校验服务器证书
	TLSSecure bool `json:"tls_secure,omitempty"`

	// ServerName TLS ServerName，为空时使用 ProxyServerIP
	ServerName string `json:"server_name,omitempty"`
}

// ProxyAddr 返回代理服务器 host:port
func (c WorkerConfig) ProxyAddr() string {
	return net.JoinHostPort(c.ProxyServerIP, strconv.Itoa(c.ProxyServerPort))
}

// TLSServerName 返回 TLS 握手使用的 ServerName
func (c WorkerConfig) TLSServerName() string {
	if c.ServerName != "" {
		return c.ServerName
	}
	return c.ProxyServerIP
}

// LogValue 实现 slog.LogValuer，日志中不输出 token
func (c WorkerConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("sn", c.SerialNumber),
		slog.String("tunnel_id", c.TunnelID),
		slog.String("proxy", c.ProxyAddr()),
		slog.Int("local_port", c.LocalPort),
		slog.String("nat_type", c.NATType.String()),
		slog.Int("fixed_port", c.FixedPort),
		slog.Bool("tls", !c.DisableTLS),
	)
}
