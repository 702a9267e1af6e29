package metrics

import (
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aro-network/go-proxyworker/pkg/types"
)

// Config 指标配置
type Config struct {
	// Enabled 是否启用指标收集
	Enabled bool

	// Namespace 指标名前缀
	// 默认值: proxyworker
	Namespace string

	// ProcessCollectors 是否注册 Go 运行时与进程指标
	ProcessCollectors bool

	// Clock 速率窗口时钟，测试中可替换
	Clock clock.Clock
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Namespace: "proxyworker",
	}
}

// allStates 状态标签取值
var allStates = []types.WorkerState{
	types.StateIdle,
	types.StateStarting,
	types.StateNegotiating,
	types.StateTunneled,
	types.StateRelaying,
	types.StateReconnecting,
	types.StateStopping,
	types.StateFailed,
}

// Metrics 工作节点指标
type Metrics struct {
	registry *prometheus.Registry

	state        *prometheus.GaugeVec
	connections  prometheus.Gauge
	bytes        *prometheus.CounterVec
	negotiations *prometheus.CounterVec
	sessions     *prometheus.CounterVec
	reconnects   prometheus.Counter

	inRate  *RateMeter
	outRate *RateMeter
}

// New 创建指标集合，cfg.Enabled 为 false 时返回 nil
func New(cfg Config) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = DefaultConfig().Namespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "state",
			Help:      "Current worker state (1 for the active state).",
		}, []string{"state"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "relay_connections",
			Help:      "Number of open relay connections.",
		}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "relay_bytes_total",
			Help:      "Bytes relayed through the tunnel.",
		}, []string{"direction"}),
		negotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "negotiations_total",
			Help:      "Tunnel negotiations by result.",
		}, []string{"result"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "sessions_total",
			Help:      "Tunnel sessions established by mode.",
		}, []string{"mode"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "reconnects_total",
			Help:      "Successful reconnections after tunnel loss.",
		}),
		inRate:  NewRateMeter(cfg.Clock),
		outRate: NewRateMeter(cfg.Clock),
	}

	rate := func(direction string, r *RateMeter) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "relay_bytes_rate",
			Help:        "Average relay throughput over the last 60 seconds in bytes per second.",
			ConstLabels: prometheus.Labels{"direction": direction},
		}, r.Rate)
	}

	m.registry.MustRegister(
		m.state,
		m.connections,
		m.bytes,
		m.negotiations,
		m.sessions,
		m.reconnects,
		rate("in", m.inRate),
		rate("out", m.outRate),
	)
	if cfg.ProcessCollectors {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m.SetState(types.StateIdle)
	return m
}

// Registry 返回私有 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler 返回 /metrics HTTP 处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ============================================================================
//                              工作节点事件
// ============================================================================

// SetState 记录状态切换
func (m *Metrics) SetState(s types.WorkerState) {
	if m == nil {
		return
	}
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(st.String()).Set(v)
	}
}

// NegotiationResult 记录一次协商结果
func (m *Metrics) NegotiationResult(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = string(types.KindOf(err))
	}
	m.negotiations.WithLabelValues(result).Inc()
}

// SessionEstablished 记录新会话
func (m *Metrics) SessionEstablished(mode types.TunnelMode) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(string(mode)).Inc()
}

// Reconnected 记录重连成功
func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// ============================================================================
//                              relay.Observer
// ============================================================================

// ConnOpened 中继连接打开
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnClosed 中继连接关闭
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// Traffic 记录中继流量
func (m *Metrics) Traffic(in, out int) {
	if m == nil {
		return
	}
	if in > 0 {
		m.bytes.WithLabelValues("in").Add(float64(in))
		m.inRate.Add(int64(in))
	}
	if out > 0 {
		m.bytes.WithLabelValues("out").Add(float64(out))
		m.outRate.Add(int64(out))
	}
}

// Rates 返回最近 60 秒的平均速率（字节/秒）
func (m *Metrics) Rates() (in, out float64) {
	if m == nil {
		return 0, 0
	}
	return m.inRate.Rate(), m.outRate.Rate()
}
