package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aro-network/go-proxyworker/internal/core/muxer/yamux"
	"github.com/aro-network/go-proxyworker/internal/core/protocol"
	"github.com/aro-network/go-proxyworker/internal/util/logger"
	"github.com/aro-network/go-proxyworker/pkg/types"
)

var log = logger.Logger("tunnel")

// Stream 中继流
type Stream interface {
	io.ReadWriteCloser
	ID() uint32
}

// Registration 注册信息
type Registration struct {
	SerialNumber string
	Token        string
	TunnelID     string
	Mode         types.TunnelMode
	NATType      types.NATType
	PublicAddr   string
}

// Session 隧道会话
//
// 一个会话对应一次成功的注册；重连时创建新会话，序列号随之从 0 开始。
type Session struct {
	id            string
	remote        string
	mode          types.TunnelMode
	establishedAt time.Time
	config        Config

	mux     *yamux.Muxer
	control *yamux.Stream
	codec   *protocol.Codec
	seq     protocol.Sequencer

	lastHeartbeat atomic.Int64 // Unix nano
	hbSent        atomic.Uint64
	hbAcked       atomic.Uint64

	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.Mutex
	err      error

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open 在多路复用器上注册并建立会话
//
// 注册失败时关闭 mux。服务器拒绝时返回 *RejectedError。
func Open(ctx context.Context, mux *yamux.Muxer, remote string, reg Registration, config Config) (*Session, error) {
	_ = config.Validate()

	sess, err := open(ctx, mux, remote, reg, config)
	if err != nil {
		_ = mux.Close()
		return nil, err
	}
	sess.start()
	return sess, nil
}

func open(ctx context.Context, mux *yamux.Muxer, remote string, reg Registration, config Config) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, config.RegisterTimeout)
	defer cancel()

	control, err := mux.NewStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("打开控制流失败: %w", err)
	}

	// 注册往返受 RegisterTimeout 约束
	if deadline, ok := ctx.Deadline(); ok {
		_ = control.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = control.SetDeadline(time.Now()) })
	defer stop()

	codec := protocol.NewCodec(control)
	err = codec.WriteMessage(&protocol.Message{
		Type:         protocol.TypeRegister,
		SerialNumber: reg.SerialNumber,
		Token:        reg.Token,
		TunnelID:     reg.TunnelID,
		Mode:         string(reg.Mode),
		NATType:      reg.NATType.String(),
		PublicAddr:   reg.PublicAddr,
	})
	if err != nil {
		return nil, fmt.Errorf("发送注册失败: %w", err)
	}

	ack, err := codec.Expect(protocol.TypeRegisterAck)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("等待注册响应超时: %w", ctx.Err())
		}
		return nil, fmt.Errorf("读取注册响应失败: %w", err)
	}
	if !ack.OK {
		return nil, &RejectedError{Status: ack.Status, Reason: ack.Reason}
	}
	if ack.SessionID == "" {
		return nil, &RejectedError{Status: protocol.StatusBadRequest, Reason: "empty session id"}
	}
	_ = control.SetDeadline(time.Time{})

	if ack.HeartbeatMS > 0 {
		config.HeartbeatInterval = time.Duration(ack.HeartbeatMS) * time.Millisecond
	}

	now := config.Clock.Now()
	sess := &Session{
		id:            ack.SessionID,
		remote:        remote,
		mode:          reg.Mode,
		establishedAt: now,
		config:        config,
		mux:           mux,
		control:       control,
		codec:         codec,
		done:          make(chan struct{}),
	}
	sess.lastHeartbeat.Store(now.UnixNano())
	return sess, nil
}

func (s *Session) start() {
	s.wg.Add(3)
	go s.readLoop()
	go s.heartbeatLoop()
	go s.watchMux()

	log.Info("隧道会话已建立",
		"session", s.id,
		"remote", s.remote,
		"mode", s.mode,
		"heartbeat", s.config.HeartbeatInterval)
}

// ============================================================================
//                              访问器
// ============================================================================

// ID 返回会话 ID
func (s *Session) ID() string { return s.id }

// RemoteEndpoint 返回远端地址
func (s *Session) RemoteEndpoint() string { return s.remote }

// Mode 返回隧道模式
func (s *Session) Mode() types.TunnelMode { return s.mode }

// Sequencer 返回会话序列号计数器
func (s *Session) Sequencer() *protocol.Sequencer { return &s.seq }

// HeartbeatInterval 返回实际使用的心跳间隔
func (s *Session) HeartbeatInterval() time.Duration { return s.config.HeartbeatInterval }

// NumStreams 返回打开的流数量（含控制流）
func (s *Session) NumStreams() int { return s.mux.NumStreams() }

// Snapshot 返回会话快照
func (s *Session) Snapshot() types.TunnelSession {
	return types.TunnelSession{
		SessionID:       s.id,
		RemoteEndpoint:  s.remote,
		Mode:            s.mode,
		EstablishedAt:   s.establishedAt,
		LastHeartbeatAt: time.Unix(0, s.lastHeartbeat.Load()),
		Sequence:        s.seq.Current(),
	}
}

// Done 会话失效或关闭时关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// Alive 会话是否仍可用
//
// 底层连接断开时立即返回 false，早于 Done 关闭。
func (s *Session) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
	}
	return !s.mux.IsClosed()
}

// Err 返回会话失效原因
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// ============================================================================
//                              中继流
// ============================================================================

// OpenStream 打开中继流并写入流头
func (s *Session) OpenStream(ctx context.Context, h protocol.StreamHeader) (Stream, error) {
	select {
	case <-s.done:
		return nil, ErrSessionClosed
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.StreamOpenTimeout)
	defer cancel()

	stream, err := s.mux.NewStream(ctx)
	if err != nil {
		return nil, err
	}
	if err := protocol.WriteStreamHeader(stream, h); err != nil {
		_ = stream.Close()
		return nil, err
	}
	return stream, nil
}

// ============================================================================
//                              生命周期
// ============================================================================

// Close 关闭会话
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.fail(ErrSessionClosed)
		err = s.mux.Close()
		s.wg.Wait()
		log.Debug("隧道会话已关闭", "session", s.id)
	})
	return err
}

// fail 标记会话失效，只有第一次调用生效
func (s *Session) fail(err error) {
	s.doneOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.done)

		if !errors.Is(err, ErrSessionClosed) {
			log.Warn("隧道会话失效", "session", s.id, "err", err)
		}
	})
}

func (s *Session) watchMux() {
	defer s.wg.Done()
	select {
	case <-s.mux.CloseChan():
		s.fail(types.NewError(types.KindTunnelLost, "session", "connection closed", nil))
	case <-s.done:
	}
}

// readLoop 读取控制流上的心跳响应
func (s *Session) readLoop() {
	defer s.wg.Done()
	for {
		msg, err := s.codec.ReadMessage()
		if err != nil {
			s.fail(types.NewError(types.KindTunnelLost, "control", "read failed", err))
			return
		}
		switch msg.Type {
		case protocol.TypeHeartbeatAck:
			s.ack(msg.Seq)
		default:
			log.Debug("忽略控制消息", "type", msg.Type)
		}
	}
}
