package worker

import (
	"context"

	"go.uber.org/fx"

	"github.com/aro-network/go-proxyworker/internal/core/metrics"
)

// Params Worker 依赖参数
type Params struct {
	fx.In

	Config  *Config          `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

// Module 是 worker 的 Fx 模块
//
// 应用停止时停止工作节点。
var Module = fx.Module("worker",
	fx.Provide(NewFromParams),
	fx.Invoke(registerLifecycle),
)

// NewFromParams 从参数创建 Worker
func NewFromParams(p Params) *Worker {
	cfg := DefaultConfig()
	if p.Config != nil {
		cfg = *p.Config
	}
	return New(cfg, p.Metrics)
}

func registerLifecycle(lc fx.Lifecycle, w *Worker) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return w.Stop()
		},
	})
}
