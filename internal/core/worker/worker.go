package worker

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aro-network/go-proxyworker/internal/core/config"
	"github.com/aro-network/go-proxyworker/internal/core/metrics"
	"github.com/aro-network/go-proxyworker/internal/core/relay"
	"github.com/aro-network/go-proxyworker/internal/core/tunnel"
	"github.com/aro-network/go-proxyworker/internal/util/logger"
	"github.com/aro-network/go-proxyworker/pkg/types"
)

var log = logger.Logger("worker")

// Worker 代理工作节点
type Worker struct {
	config  Config
	metrics *metrics.Metrics

	// 生命周期锁，串行化 Start/Stop/Restart
	mu     sync.Mutex
	stored *types.WorkerConfig
	cancel context.CancelFunc
	done   chan struct{}

	// 运行状态，由 stateMu 保护，每次变更后发布快照
	stateMu    sync.Mutex
	state      types.WorkerState
	wcfg       types.WorkerConfig
	session    *tunnel.Session
	listener   *relay.Listener
	startedAt  time.Time
	lastErr    error
	reconnects int64
	bytesIn    int64
	bytesOut   int64

	snap atomic.Pointer[snapshot]
}

// snapshot 已发布的状态快照
type snapshot struct {
	status    types.WorkerStatus
	listener  *relay.Listener
	startedAt time.Time
}

// New 创建工作节点，m 为 nil 时不采集指标
func New(config Config, m *metrics.Metrics) *Worker {
	_ = config.Validate()
	w := &Worker{
		config:  config,
		metrics: m,
	}
	w.stateMu.Lock()
	w.publishLocked()
	w.stateMu.Unlock()
	return w
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 以给定配置启动
//
// 仅在 idle 状态有效：校验配置、保存并进入 starting，协商在后台进行，
// 返回 started=true。非 idle 状态为空操作，返回 started=false，原配置保持有效。
// 配置无效时返回 types.KindConfig 错误，状态保持 idle。
func (w *Worker) Start(cfg types.WorkerConfig) (started bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if st := w.State(); st != types.StateIdle {
		log.Info("工作节点已在运行，忽略启动请求", "state", st)
		return false, nil
	}
	if err := config.Validate(cfg); err != nil {
		return false, err
	}

	w.startLocked(cfg)
	return true, nil
}

func (w *Worker) startLocked(cfg types.WorkerConfig) {
	stored := cfg
	w.stored = &stored

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done

	w.stateMu.Lock()
	w.state = types.StateStarting
	w.wcfg = cfg
	w.session = nil
	w.listener = nil
	w.startedAt = w.config.Clock.Now()
	w.lastErr = nil
	w.reconnects = 0
	w.bytesIn, w.bytesOut = 0, 0
	w.publishLocked()
	w.stateMu.Unlock()

	log.Info("工作节点启动", "config", cfg)
	go w.run(ctx, cfg, done)
}

// Stop 停止工作节点
//
// 取消协商与中继，关闭会话与监听，最多等待 StopGrace 后回到 idle。
// idle 状态下为空操作。
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopLocked()
}

func (w *Worker) stopLocked() error {
	if w.cancel == nil {
		return nil
	}

	w.stateMu.Lock()
	w.state = types.StateStopping
	w.publishLocked()
	w.stateMu.Unlock()

	w.cancel()
	timer := time.NewTimer(w.config.StopGrace)
	defer timer.Stop()
	select {
	case <-w.done:
	case <-timer.C:
		log.Warn("运行循环未在限定时间内退出", "grace", w.config.StopGrace)
	}
	w.cancel = nil
	w.done = nil

	w.stateMu.Lock()
	w.state = types.StateIdle
	w.session = nil
	w.listener = nil
	w.publishLocked()
	w.stateMu.Unlock()

	log.Info("工作节点已停止")
	return nil
}

// Restart 使用已保存的配置重启
//
// 从未启动过时返回 types.KindState 错误。
func (w *Worker) Restart() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stored == nil {
		return types.NewError(types.KindState, "restart", "no configuration stored, start first", nil)
	}
	cfg := *w.stored
	if err := w.stopLocked(); err != nil {
		return err
	}
	w.startLocked(cfg)
	return nil
}

// Close 停止工作节点（用于 fx 生命周期）
func (w *Worker) Close() error {
	return w.Stop()
}

// ============================================================================
//                              状态读取
// ============================================================================

// State 返回当前状态
func (w *Worker) State() types.WorkerState {
	return w.snap.Load().status.State
}

// IsRunning 状态属于 starting/negotiating/tunneled/relaying/reconnecting
func (w *Worker) IsRunning() bool {
	return w.State().IsRunning()
}

// Status 返回状态快照，不等待生命周期锁
func (w *Worker) Status() types.WorkerStatus {
	s := w.snap.Load()
	st := s.status
	if st.Running {
		st.Uptime = w.config.Clock.Since(s.startedAt).Seconds()
	}
	if s.listener != nil {
		st.ActiveConnections = s.listener.ActiveConnections()
		in, out := s.listener.Traffic()
		st.BytesIn += in
		st.BytesOut += out
	}
	return st
}

// Session 返回当前隧道会话快照
func (w *Worker) Session() (types.TunnelSession, bool) {
	w.stateMu.Lock()
	sess := w.session
	w.stateMu.Unlock()
	if sess == nil {
		return types.TunnelSession{}, false
	}
	return sess.Snapshot(), true
}

// Conns 返回当前中继连接
func (w *Worker) Conns() []relay.ConnInfo {
	ln := w.snap.Load().listener
	if ln == nil {
		return nil
	}
	return ln.Conns()
}

// LocalAddr 返回本地中继监听地址，未绑定时为空
func (w *Worker) LocalAddr() string {
	ln := w.snap.Load().listener
	if ln == nil {
		return ""
	}
	return ln.Addr().String()
}

// publishLocked 发布快照，调用方持有 stateMu
func (w *Worker) publishLocked() {
	st := types.WorkerStatus{
		State:      w.state,
		Running:    w.state.IsRunning(),
		PID:        os.Getpid(),
		BytesIn:    w.bytesIn,
		BytesOut:   w.bytesOut,
		Reconnects: w.reconnects,
	}
	if w.wcfg.TunnelID != "" {
		st.TunnelID = w.wcfg.TunnelID
		st.LocalPort = w.wcfg.LocalPort
		st.FixedPort = w.wcfg.FixedPort
		st.NATType = w.wcfg.NATType.String()
		st.Mode = types.ModeForNAT(w.wcfg.NATType)
		st.StartTime = w.startedAt.Unix()
	}

	if w.session != nil {
		id := w.session.ID()
		st.TunnelSessionID = &id
		st.Mode = w.session.Mode()
	}
	if w.lastErr != nil {
		msg := w.lastErr.Error()
		st.LastError = &msg
		st.LastErrorCode = types.CodeOf(w.lastErr)
	}

	w.snap.Store(&snapshot{
		status:    st,
		listener:  w.listener,
		startedAt: w.startedAt,
	})
	w.metrics.SetState(w.state)
}
