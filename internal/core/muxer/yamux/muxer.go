package yamux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/yamux"
	"go.uber.org/multierr"
)

// ErrMuxerClosed 多路复用器已关闭
var ErrMuxerClosed = errors.New("yamux: muxer closed")

// Muxer 封装 yamux.Session
type Muxer struct {
	session    *yamux.Session
	isServer   bool
	closed     int32 // atomic
	numStreams int32 // atomic

	streamsMu sync.RWMutex
	streams   map[uint32]*Stream
}

// NewMuxer 从 yamux.Session 创建 Muxer 封装
func NewMuxer(session *yamux.Session, isServer bool) *Muxer {
	return &Muxer{
		session:  session,
		isServer: isServer,
		streams:  make(map[uint32]*Stream),
	}
}

// NewStream 创建新流
func (m *Muxer) NewStream(ctx context.Context) (*Stream, error) {
	if m.IsClosed() {
		return nil, ErrMuxerClosed
	}

	// OpenStream 不接受 context，调用方放弃后由 goroutine 关闭迟到的流
	type result struct {
		stream *yamux.Stream
		err    error
	}
	resultCh := make(chan result)
	abandoned := make(chan struct{})

	go func() {
		s, err := m.session.OpenStream()
		select {
		case resultCh <- result{stream: s, err: err}:
		case <-abandoned:
			if s != nil {
				_ = s.Close()
			}
		}
	}()

	select {
	case <-ctx.Done():
		close(abandoned)
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return nil, fmt.Errorf("创建流失败: %w", r.err)
		}
		return m.track(r.stream), nil
	}
}

// AcceptStream 接受新流
func (m *Muxer) AcceptStream(ctx context.Context) (*Stream, error) {
	if m.IsClosed() {
		return nil, ErrMuxerClosed
	}

	s, err := m.session.AcceptStreamWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("接受流失败: %w", err)
	}
	return m.track(s), nil
}

// Close 关闭多路复用器及其所有流
func (m *Muxer) Close() error {
	if !atomic.CompareAndSwapInt32(&m.closed, 0, 1) {
		return nil // 已经关闭
	}

	m.streamsMu.Lock()
	streams := m.streams
	m.streams = make(map[uint32]*Stream)
	m.streamsMu.Unlock()

	var err error
	for _, stream := range streams {
		err = multierr.Append(err, stream.Close())
	}
	atomic.StoreInt32(&m.numStreams, 0)

	return multierr.Append(err, m.session.Close())
}

// IsClosed 检查是否已关闭
func (m *Muxer) IsClosed() bool {
	return atomic.LoadInt32(&m.closed) == 1 || m.session.IsClosed()
}

// CloseChan 在底层 session 关闭时关闭
func (m *Muxer) CloseChan() <-chan struct{} {
	return m.session.CloseChan()
}

// NumStreams 返回当前流数量
func (m *Muxer) NumStreams() int {
	return int(atomic.LoadInt32(&m.numStreams))
}

// IsServer 返回是否是服务端
func (m *Muxer) IsServer() bool {
	return m.isServer
}

// Ping 发送 ping 消息
func (m *Muxer) Ping() (time.Duration, error) {
	if m.IsClosed() {
		return 0, ErrMuxerClosed
	}
	return m.session.Ping()
}

func (m *Muxer) track(s *yamux.Stream) *Stream {
	stream := newStream(s, m)

	m.streamsMu.Lock()
	defer m.streamsMu.Unlock()

	if _, exists := m.streams[stream.ID()]; !exists {
		m.streams[stream.ID()] = stream
		atomic.AddInt32(&m.numStreams, 1)
	}
	return stream
}

// removeStream 流关闭时回调，Muxer 关闭后为空操作
func (m *Muxer) removeStream(streamID uint32) {
	if atomic.LoadInt32(&m.closed) == 1 {
		return
	}
	m.streamsMu.Lock()
	defer m.streamsMu.Unlock()

	if _, ok := m.streams[streamID]; ok {
		delete(m.streams, streamID)
		atomic.AddInt32(&m.numStreams, -1)
	}
}
