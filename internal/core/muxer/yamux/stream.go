package yamux

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/yamux"
)

// Stream 隧道上的一条 yamux 流
//
// 控制流与每个中继连接各占一条。关闭时从所属 Muxer 的计数中移除。
type Stream struct {
	stream *yamux.Stream
	owner  *Muxer
	id     uint32
	closed atomic.Bool
}

func newStream(s *yamux.Stream, owner *Muxer) *Stream {
	return &Stream{
		stream: s,
		owner:  owner,
		id:     s.StreamID(),
	}
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.stream.Read(p)
}

func (s *Stream) Write(p []byte) (int, error) {
	return s.stream.Write(p)
}

// Close 关闭流，可重复调用
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.owner != nil {
		s.owner.removeStream(s.id)
	}
	return s.stream.Close()
}

// ID 流 ID
func (s *Stream) ID() uint32 {
	return s.id
}

// SetDeadline 同时设置读写截止时间
func (s *Stream) SetDeadline(t time.Time) error {
	return s.stream.SetDeadline(t)
}

func (s *Stream) SetReadDeadline(t time.Time) error {
	return s.stream.SetReadDeadline(t)
}

func (s *Stream) SetWriteDeadline(t time.Time) error {
	return s.stream.SetWriteDeadline(t)
}

// IsClosed 本端是否已调用 Close
func (s *Stream) IsClosed() bool {
	return s.closed.Load()
}
