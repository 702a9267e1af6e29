package metrics

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// rateBuckets 速率窗口桶数（每桶 1 秒）
const rateBuckets = 60

// RateMeter 速率计算器（基于滑动窗口）
//
// 使用 60 个 1 秒桶计算最近 60 秒的平均速率。
type RateMeter struct {
	clock clock.Clock

	mu       sync.Mutex
	buckets  [rateBuckets]int64
	idx      int
	lastTime time.Time
}

// NewRateMeter 创建速率计算器，clk 为 nil 时使用系统时钟
func NewRateMeter(clk clock.Clock) *RateMeter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateMeter{
		clock:    clk,
		lastTime: clk.Now(),
	}
}

// Add 添加字节数到当前桶
func (r *RateMeter) Add(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.advanceLocked()
	r.buckets[r.idx] += n
}

// Rate 返回平均速率（字节/秒）
func (r *RateMeter) Rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.advanceLocked()
	var total int64
	for _, v := range r.buckets {
		total += v
	}
	return float64(total) / rateBuckets
}

// Reset 清空窗口
func (r *RateMeter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buckets = [rateBuckets]int64{}
	r.idx = 0
	r.lastTime = r.clock.Now()
}

// advanceLocked 按经过的整秒数滚动桶
func (r *RateMeter) advanceLocked() {
	now := r.clock.Now()
	seconds := int(now.Sub(r.lastTime) / time.Second)
	if seconds <= 0 {
		return
	}
	if seconds >= rateBuckets {
		r.buckets = [rateBuckets]int64{}
		r.idx = 0
	} else {
		for i := 0; i < seconds; i++ {
			r.idx = (r.idx + 1) % rateBuckets
			r.buckets[r.idx] = 0
		}
	}
	r.lastTime = r.lastTime.Add(time.Duration(seconds) * time.Second)
}
