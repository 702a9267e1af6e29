package relay

import "time"

// Config 中继配置
type Config struct {
	// Host 监听地址
	// 默认值: 127.0.0.1
	Host string

	// MaxConnections 最大并发连接（0 = 不限制）
	MaxConnections int

	// MaxBandwidth 每个方向的总带宽（字节/秒，0 = 不限制）
	MaxBandwidth int64

	// StreamOpenTimeout 打开中继流超时
	// 默认值: 10s
	StreamOpenTimeout time.Duration

	// BufferSize 复制缓冲区大小
	// 默认值: 32KB
	BufferSize int
}

// DefaultConfig 返回默认配置（不限制）
func DefaultConfig() Config {
	return Config{
		Host:              "127.0.0.1",
		StreamOpenTimeout: 10 * time.Second,
		BufferSize:        32 * 1024,
	}
}

// Validate 校验配置，无效值回退为默认值
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.MaxConnections < 0 {
		c.MaxConnections = 0
	}
	if c.MaxBandwidth < 0 {
		c.MaxBandwidth = 0
	}
	if c.StreamOpenTimeout <= 0 {
		c.StreamOpenTimeout = def.StreamOpenTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	return nil
}
