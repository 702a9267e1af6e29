package relay

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter 带宽限流器
//
// 所有连接共享，nil 表示不限制。
type Limiter struct {
	bandwidth *rate.Limiter
}

// NewLimiter 创建限流器，bytesPerSec <= 0 时返回 nil
func NewLimiter(bytesPerSec int64) *Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := int(bytesPerSec)
	if burst < 64*1024 {
		burst = 64 * 1024
	}
	return &Limiter{bandwidth: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// WaitN 等待 n 字节的配额
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if l == nil {
		return nil
	}
	burst := l.bandwidth.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := l.bandwidth.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
