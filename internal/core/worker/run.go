package worker

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/multierr"

	"github.com/aro-network/go-proxyworker/internal/core/nat"
	"github.com/aro-network/go-proxyworker/internal/core/relay"
	"github.com/aro-network/go-proxyworker/internal/core/tunnel"
	"github.com/aro-network/go-proxyworker/pkg/types"
)

// runner 一次 Start 对应的运行循环状态，只由运行循环 goroutine 访问
type runner struct {
	w    *Worker
	ctx  context.Context
	cfg  types.WorkerConfig
	neg  *nat.Negotiator
	ln   *relay.Listener
	sess *tunnel.Session
}

// run 运行循环
func (w *Worker) run(ctx context.Context, cfg types.WorkerConfig, done chan struct{}) {
	defer close(done)

	r := &runner{
		w:   w,
		ctx: ctx,
		cfg: cfg,
		neg: nat.NewNegotiator(w.config.natConfig()),
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error("运行循环 panic", "panic", p, "stack", string(debug.Stack()))
			w.fail(ctx, types.NewError(types.KindState, "run", fmt.Sprintf("panic: %v", p), nil))
		}
		r.teardown()
	}()

	r.loop()
}

func (r *runner) loop() {
	w := r.w
	for {
		if !w.transition(r.ctx, types.StateNegotiating) {
			return
		}
		sess, err := r.negotiate(r.ctx)
		if err != nil {
			w.fail(r.ctx, err)
			return
		}
		r.setSession(sess)
		if !w.transition(r.ctx, types.StateTunneled) {
			return
		}

		fresh := r.ln == nil
		if fresh {
			if err := r.listen(); err != nil {
				w.fail(r.ctx, err)
				return
			}
		}
		r.ln.Attach(sess)
		if !w.transition(r.ctx, types.StateRelaying) {
			return
		}
		if fresh {
			// 进入 relaying 后才开始 accept，此前的连接留在 backlog 中
			r.ln.Start()
		}

		if !r.supervise() {
			return
		}
	}
}

// listen 绑定本地中继端口，accept 循环由调用方在 Attach 之后启动
//
// 本地端口与固定源端口相同时，监听与隧道拨号共享端口。
func (r *runner) listen() error {
	reuse := r.cfg.FixedPort > 0 && r.cfg.LocalPort == r.cfg.FixedPort
	ln, err := relay.Listen(r.ctx, r.cfg.LocalPort, reuse, r.w.config.relayConfig(), r.w.metrics)
	if err != nil {
		return err
	}
	r.ln = ln

	r.w.stateMu.Lock()
	r.w.listener = ln
	r.w.publishLocked()
	r.w.stateMu.Unlock()
	return nil
}

// supervise 监督当前会话
//
// 返回 true 表示重连窗口耗尽、需要重新协商；false 表示运行循环应退出。
func (r *runner) supervise() bool {
	w := r.w
	for {
		select {
		case <-r.ctx.Done():
			return false
		case <-r.sess.Done():
		}

		log.Warn("隧道中断，开始重连", "session", r.sess.ID(), "err", r.sess.Err())
		if !w.transition(r.ctx, types.StateReconnecting) {
			return false
		}
		r.ln.Detach()
		_ = r.sess.Close()

		next, err := r.reconnect()
		if r.ctx.Err() != nil {
			if next != nil {
				_ = next.Close()
			}
			return false
		}
		if err == nil {
			r.setSession(next)
			resumed := r.ln.Attach(next)
			w.reconnected()
			log.Info("隧道已恢复", "session", next.ID(), "resumed", resumed)
			if !w.transition(r.ctx, types.StateRelaying) {
				return false
			}
			continue
		}

		if types.KindOf(err).Fatal() {
			w.fail(r.ctx, err)
			return false
		}

		interrupted := r.ln.InterruptAll()
		log.Warn("重连超时，中断中继连接",
			"grace", w.config.ReconnectGrace,
			"interrupted", interrupted,
			"err", err)
		r.setSession(nil)
		w.recordError(err)
		return true
	}
}

// reconnect 在重连窗口内重新协商
func (r *runner) reconnect() (*tunnel.Session, error) {
	w := r.w
	grace := w.config.ReconnectGrace
	ctx, cancel := w.config.Clock.WithTimeout(r.ctx, grace)
	defer cancel()

	var lastErr error
	for round := 0; ; round++ {
		if round > 0 {
			select {
			case <-ctx.Done():
			case <-w.config.Clock.After(w.config.Backoff.Duration(round - 1)):
			}
		}
		if ctx.Err() != nil {
			break
		}

		sess, err := r.negotiate(ctx)
		if err == nil {
			return sess, nil
		}
		if types.KindOf(err).Fatal() {
			return nil, err
		}
		lastErr = err
		log.Debug("重连失败", "round", round+1, "err", err)
	}

	if r.ctx.Err() != nil {
		return nil, r.ctx.Err()
	}
	return nil, types.NewError(types.KindTunnelLost, "reconnect",
		fmt.Sprintf("tunnel not restored within %s", grace), lastErr)
}

// negotiate 协商并记录指标
func (r *runner) negotiate(ctx context.Context) (*tunnel.Session, error) {
	sess, err := r.neg.Negotiate(ctx, r.cfg)
	if err == nil || ctx.Err() == nil {
		r.w.metrics.NegotiationResult(err)
	}
	if err != nil {
		return nil, err
	}
	r.w.metrics.SessionEstablished(sess.Mode())
	return sess, nil
}

// setSession 替换当前会话（旧会话由调用方关闭）
func (r *runner) setSession(sess *tunnel.Session) {
	r.sess = sess

	r.w.stateMu.Lock()
	defer r.w.stateMu.Unlock()
	r.w.session = sess
	r.w.publishLocked()
}

// teardown 释放本次运行的全部资源
func (r *runner) teardown() {
	var err error
	if r.sess != nil {
		err = multierr.Append(err, r.sess.Close())
	}
	if r.ln != nil {
		err = multierr.Append(err, r.ln.Close())
	}
	err = multierr.Append(err, r.neg.Close())
	if err != nil {
		log.Debug("释放运行资源出错", "err", err)
	}

	w := r.w
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if r.sess != nil && w.session == r.sess {
		w.session = nil
	}
	if r.ln != nil && w.listener == r.ln {
		in, out := r.ln.Traffic()
		w.bytesIn += in
		w.bytesOut += out
		w.listener = nil
	}
	w.publishLocked()
}

// ============================================================================
//                              状态切换
// ============================================================================

// transition 切换运行状态
//
// 运行已取消、正在停止或已失败时拒绝切换，返回 false。
func (w *Worker) transition(ctx context.Context, to types.WorkerState) bool {
	if ctx.Err() != nil {
		return false
	}

	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	from := w.state
	switch from {
	case types.StateIdle, types.StateStopping, types.StateFailed:
		return false
	}
	if from == to {
		return true
	}
	w.state = to
	w.publishLocked()
	log.Debug("状态切换", "from", from, "to", to)
	return true
}

// fail 进入 failed 并记录错误，停止过程中的错误忽略
func (w *Worker) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}

	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	switch w.state {
	case types.StateIdle, types.StateStopping, types.StateFailed:
		return
	}
	w.state = types.StateFailed
	w.lastErr = err
	w.publishLocked()
	log.Error("工作节点失败", "err", err, "code", types.CodeOf(err))
}

// recordError 记录非致命错误
func (w *Worker) recordError(err error) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	w.lastErr = err
	w.publishLocked()
}

func (w *Worker) reconnected() {
	w.stateMu.Lock()
	w.reconnects++
	w.publishLocked()
	w.stateMu.Unlock()

	w.metrics.Reconnected()
}
