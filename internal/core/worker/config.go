package worker

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/aro-network/go-proxyworker/internal/core/nat"
	"github.com/aro-network/go-proxyworker/internal/core/relay"
	"github.com/aro-network/go-proxyworker/internal/core/transport"
	"github.com/aro-network/go-proxyworker/internal/core/tunnel"
)

// ============================================================================
//                              运行时配置
// ============================================================================

// Config 工作节点运行时参数
//
// 与 types.WorkerConfig（宿主下发的隧道参数）分离。
type Config struct {
	// HeartbeatInterval 心跳间隔
	// 默认值: 10s
	HeartbeatInterval time.Duration

	// MaxMissedHeartbeats 连续丢失多少次心跳判定隧道中断
	// 默认值: 3
	MaxMissedHeartbeats int

	// DialTimeout 拨号超时
	// 默认值: 10s
	DialTimeout time.Duration

	// HandshakeTimeout websocket 握手超时
	// 默认值: 10s
	HandshakeTimeout time.Duration

	// MaxAttempts 单次协商最大尝试次数
	// 默认值: 5
	MaxAttempts int

	// Backoff 协商与重连退避
	Backoff nat.Backoff

	// ReconnectGrace 隧道中断后保持中继连接的时间窗口
	// 默认值: 30s
	ReconnectGrace time.Duration

	// StopGrace Stop 等待运行循环退出的上限
	// 默认值: 3s
	StopGrace time.Duration

	// ListenHost 本地中继监听地址
	// 默认值: 127.0.0.1
	ListenHost string

	// MaxConnections 最大并发中继连接（0 = 不限制）
	MaxConnections int

	// MaxBandwidth 中继带宽（字节/秒，0 = 不限制）
	MaxBandwidth int64

	// ProbeTimeout STUN 探测超时
	// 默认值: 2s
	ProbeTimeout time.Duration

	// EnableNATPMP 在网关上映射固定源端口
	// 默认值: false
	EnableNATPMP bool

	// Prober 受限型 NAT 注册前的 STUN 探测器，nil 时使用内置客户端
	Prober nat.Prober

	// Clock 心跳与退避使用的时钟
	Clock clock.Clock
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:   10 * time.Second,
		MaxMissedHeartbeats: 3,
		DialTimeout:         10 * time.Second,
		HandshakeTimeout:    10 * time.Second,
		MaxAttempts:         5,
		Backoff:             nat.DefaultBackoff(),
		ReconnectGrace:      30 * time.Second,
		StopGrace:           3 * time.Second,
		ListenHost:          "127.0.0.1",
		ProbeTimeout:        2 * time.Second,
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
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.ReconnectGrace <= 0 {
		c.ReconnectGrace = def.ReconnectGrace
	}
	if c.StopGrace <= 0 {
		c.StopGrace = def.StopGrace
	}
	if c.ListenHost == "" {
		c.ListenHost = def.ListenHost
	}
	if c.MaxConnections < 0 {
		c.MaxConnections = 0
	}
	if c.MaxBandwidth < 0 {
		c.MaxBandwidth = 0
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	return nil
}

// natConfig 转换为协商器配置
func (c Config) natConfig() nat.Config {
	cfg := nat.DefaultConfig()
	cfg.MaxAttempts = c.MaxAttempts
	cfg.Backoff = c.Backoff
	cfg.ProbeTimeout = c.ProbeTimeout
	cfg.EnableNATPMP = c.EnableNATPMP
	cfg.Prober = c.Prober
	cfg.Clock = c.Clock

	cfg.Transport = transport.DefaultConfig()
	cfg.Transport.DialTimeout = c.DialTimeout
	cfg.Transport.HandshakeTimeout = c.HandshakeTimeout

	cfg.Tunnel = tunnel.DefaultConfig()
	cfg.Tunnel.HeartbeatInterval = c.HeartbeatInterval
	cfg.Tunnel.MaxMissedHeartbeats = c.MaxMissedHeartbeats
	cfg.Tunnel.Clock = c.Clock
	return cfg
}

// relayConfig 转换为中继配置
func (c Config) relayConfig() relay.Config {
	cfg := relay.DefaultConfig()
	cfg.Host = c.ListenHost
	cfg.MaxConnections = c.MaxConnections
	cfg.MaxBandwidth = c.MaxBandwidth
	return cfg
}

// ============================================================================
//                              配置选项
// ============================================================================

var (
	// ErrInvalidOption 选项参数无效
	ErrInvalidOption = errors.New("worker: invalid option")
)

// Option 配置选项
type Option func(*Config) error

// NewConfig 在默认配置上应用选项
func NewConfig(opts ...Option) (Config, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return Config{}, err
		}
	}
	_ = cfg.Validate()
	return cfg, nil
}

// WithHeartbeat 设置心跳间隔与失效阈值
func WithHeartbeat(interval time.Duration, maxMissed int) Option {
	return func(c *Config) error {
		if interval <= 0 || maxMissed <= 0 {
			return ErrInvalidOption
		}
		c.HeartbeatInterval = interval
		c.MaxMissedHeartbeats = maxMissed
		return nil
	}
}

// WithDialTimeout 设置拨号与握手超时
func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return ErrInvalidOption
		}
		c.DialTimeout = d
		c.HandshakeTimeout = d
		return nil
	}
}

// WithRetry 设置协商重试次数与退避
func WithRetry(maxAttempts int, backoff nat.Backoff) Option {
	return func(c *Config) error {
		if maxAttempts <= 0 {
			return ErrInvalidOption
		}
		c.MaxAttempts = maxAttempts
		c.Backoff = backoff
		return nil
	}
}

// WithReconnectGrace 设置重连窗口
func WithReconnectGrace(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return ErrInvalidOption
		}
		c.ReconnectGrace = d
		return nil
	}
}

// WithStopGrace 设置停止等待上限
func WithStopGrace(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return ErrInvalidOption
		}
		c.StopGrace = d
		return nil
	}
}

// WithListenHost 设置本地中继监听地址
func WithListenHost(host string) Option {
	return func(c *Config) error {
		if host == "" {
			return ErrInvalidOption
		}
		c.ListenHost = host
		return nil
	}
}

// WithLimits 设置中继连接数与带宽限制（0 = 不限制）
func WithLimits(maxConnections int, maxBandwidth int64) Option {
	return func(c *Config) error {
		if maxConnections < 0 || maxBandwidth < 0 {
			return ErrInvalidOption
		}
		c.MaxConnections = maxConnections
		c.MaxBandwidth = maxBandwidth
		return nil
	}
}

// WithProbeTimeout 设置 STUN 探测超时
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return ErrInvalidOption
		}
		c.ProbeTimeout = d
		return nil
	}
}

// WithNATPMP 启用/禁用 NAT-PMP 端口映射
func WithNATPMP(enable bool) Option {
	return func(c *Config) error {
		c.EnableNATPMP = enable
		return nil
	}
}

// WithClock 替换时钟
func WithClock(clk clock.Clock) Option {
	return func(c *Config) error {
		if clk == nil {
			return ErrInvalidOption
		}
		c.Clock = clk
		return nil
	}
}

// WithProber 替换 STUN 探测器
func WithProber(p nat.Prober) Option {
	return func(c *Config) error {
		if p == nil {
			return ErrInvalidOption
		}
		c.Prober = p
		return nil
	}
}
