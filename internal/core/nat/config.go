package nat

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/aro-network/go-proxyworker/internal/core/muxer/yamux"
	"github.com/aro-network/go-proxyworker/internal/core/transport"
	"github.com/aro-network/go-proxyworker/internal/core/tunnel"
)

// ============================================================================
//                              协商配置
// ============================================================================

// Config 协商器配置
type Config struct {
	// MaxAttempts 单次协商最大尝试次数
	// 默认值: 5
	MaxAttempts int

	// Backoff 重试退避
	Backoff Backoff

	// ProbeTimeout STUN 探测超时
	// 默认值: 2s
	ProbeTimeout time.Duration

	// EnableNATPMP 在网关上映射固定源端口
	// 默认值: false
	EnableNATPMP bool

	// MappingLifetime NAT-PMP 映射租期
	// 默认值: 1h
	MappingLifetime time.Duration

	// Prober STUN 探测器，nil 时使用内置 STUN 客户端
	Prober Prober

	Transport transport.Config
	Muxer     yamux.Config
	Tunnel    tunnel.Config

	Clock clock.Clock
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     5,
		Backoff:         DefaultBackoff(),
		ProbeTimeout:    2 * time.Second,
		EnableNATPMP:    false,
		MappingLifetime: time.Hour,
		Transport:       transport.DefaultConfig(),
		Muxer:           yamux.DefaultConfig(),
		Tunnel:          tunnel.DefaultConfig(),
		Clock:           clock.New(),
	}
}

// Validate 校验配置，无效值回退为默认值
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	c.Backoff.normalize()
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	if c.MappingLifetime <= 0 {
		c.MappingLifetime = def.MappingLifetime
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	if c.Tunnel.Clock == nil {
		c.Tunnel.Clock = c.Clock
	}
	return c.Tunnel.Validate()
}

// ============================================================================
//                              退避策略
// ============================================================================

// Backoff 指数退避
type Backoff struct {
	// Initial 初始退避
	// 默认值: 500ms
	Initial time.Duration

	// Max 退避上限
	// 默认值: 30s
	Max time.Duration

	// Factor 退避因子
	// 默认值: 2
	Factor float64
}

// DefaultBackoff 返回默认退避
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 500 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
	}
}

func (b *Backoff) normalize() {
	def := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = def.Initial
	}
	if b.Max <= 0 {
		b.Max = def.Max
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Factor < 1 {
		b.Factor = def.Factor
	}
}

// Duration 返回第 attempt 次失败后的等待时间（attempt 从 0 开始）
func (b Backoff) Duration(attempt int) time.Duration {
	b.normalize()
	d := float64(b.Initial)
	for i := 0; i < attempt; i++ {
		d *= b.Factor
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	return time.Duration(d)
}
