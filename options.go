package proxyworker

import (
	"github.com/aro-network/go-proxyworker/internal/core/nat"
	"github.com/aro-network/go-proxyworker/internal/core/worker"
)

// Option 工作节点运行时选项
type Option = worker.Option

// Backoff 协商与重连退避参数
type Backoff = nat.Backoff

// Prober STUN 探测器
type Prober = nat.Prober

// 运行时选项
var (
	// WithHeartbeat 设置心跳间隔与失效阈值（默认 10s / 3 次）
	WithHeartbeat = worker.WithHeartbeat

	// WithDialTimeout 设置拨号与握手超时（默认 10s）
	WithDialTimeout = worker.WithDialTimeout

	// WithRetry 设置协商重试次数与退避（默认 5 次，500ms 起，上限 30s）
	WithRetry = worker.WithRetry

	// WithReconnectGrace 设置隧道中断后保持连接的窗口（默认 30s）
	WithReconnectGrace = worker.WithReconnectGrace

	// WithStopGrace 设置停止等待上限（默认 3s）
	WithStopGrace = worker.WithStopGrace

	// WithListenHost 设置本地中继监听地址（默认 127.0.0.1）
	WithListenHost = worker.WithListenHost

	// WithLimits 设置中继连接数与带宽限制
	WithLimits = worker.WithLimits

	// WithProbeTimeout 设置 STUN 探测超时
	WithProbeTimeout = worker.WithProbeTimeout

	// WithNATPMP 启用 NAT-PMP 端口映射
	WithNATPMP = worker.WithNATPMP

	// WithProber 替换 STUN 探测器
	WithProber = worker.WithProber

	// WithClock 替换时钟
	WithClock = worker.WithClock
)
