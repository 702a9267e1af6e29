package metrics

import (
	"go.uber.org/fx"
)

// Params Metrics 依赖参数
type Params struct {
	fx.In

	Config *Config `optional:"true"`
}

// Module 是 metrics 的 Fx 模块
//
// 未提供 *Config 时使用 DefaultConfig；Enabled 为 false 时提供 nil *Metrics。
var Module = fx.Module("metrics",
	fx.Provide(NewFromParams),
)

// NewFromParams 从参数创建 Metrics
func NewFromParams(p Params) *Metrics {
	cfg := DefaultConfig()
	if p.Config != nil {
		cfg = *p.Config
	}
	return New(cfg)
}
