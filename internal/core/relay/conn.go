package relay

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aro-network/go-proxyworker/internal/core/protocol"
	"github.com/aro-network/go-proxyworker/internal/core/tunnel"
)

// Tunnel 中继流所在的隧道会话
type Tunnel interface {
	OpenStream(ctx context.Context, h protocol.StreamHeader) (tunnel.Stream, error)
	Sequencer() *protocol.Sequencer
	Alive() bool
}

// ConnInfo 中继连接快照
type ConnInfo struct {
	ID             string
	TunnelStreamID uint32
	BytesIn        int64
	BytesOut       int64
	OpenedAt       time.Time
	Attached       bool
}

// Conn 中继连接
//
// 本地一侧在整个生命周期内只有一个读 goroutine（upstream）；
// 每次挂载到会话时启动一个 downstream goroutine 读取中继流。
type Conn struct {
	id       string
	openedAt time.Time
	local    net.Conn
	l        *Listener

	ctx    context.Context
	cancel context.CancelFunc

	bytesIn  atomic.Int64 // 隧道 -> 本地
	bytesOut atomic.Int64 // 本地 -> 隧道

	attachMu sync.Mutex // 串行化 attach

	mu     sync.Mutex
	tun    Tunnel
	stream tunnel.Stream
	writer *protocol.FrameWriter
	gen    uint64
	ready  chan struct{} // 挂载期间为关闭状态

	closeOnce sync.Once
}

func newConn(l *Listener, id string, local net.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:       id,
		openedAt: time.Now(),
		local:    local,
		l:        l,
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
	}
}

// ID 返回连接 ID
func (c *Conn) ID() string { return c.id }

// Info 返回连接快照
func (c *Conn) Info() ConnInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := ConnInfo{
		ID:       c.id,
		BytesIn:  c.bytesIn.Load(),
		BytesOut: c.bytesOut.Load(),
		OpenedAt: c.openedAt,
		Attached: c.stream != nil,
	}
	if c.stream != nil {
		info.TunnelStreamID = c.stream.ID()
	}
	return info
}

// tunnel 返回当前挂载的会话
func (c *Conn) tunnel() Tunnel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tun
}

// attach 在会话上打开中继流并开始转发
func (c *Conn) attach(t Tunnel, resume bool) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.l.config.StreamOpenTimeout)
	defer cancel()

	st, err := t.OpenStream(ctx, protocol.StreamHeader{ConnID: c.id, Resume: resume})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		_ = st.Close()
		return c.ctx.Err()
	}
	c.detachLocked()
	c.gen++
	gen := c.gen
	c.tun = t
	c.stream = st
	c.writer = protocol.NewFrameWriter(st, t.Sequencer())
	close(c.ready)
	c.mu.Unlock()

	go c.downstream(gen, t, st)
	return nil
}

// detach 关闭当前中继流，本地连接保持打开
func (c *Conn) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detachLocked()
}

func (c *Conn) detachLocked() {
	if c.stream == nil {
		return
	}
	_ = c.stream.Close()
	c.stream = nil
	c.writer = nil
	c.tun = nil
	c.ready = make(chan struct{})
}

// streamFailed 处理中继流错误，返回连接是否仍然存活
//
// 会话已失效时分离等待重新挂载；会话健康说明远端关闭了该流，关闭连接。
func (c *Conn) streamFailed(gen uint64, t Tunnel) bool {
	c.mu.Lock()
	stale := gen != c.gen || c.stream == nil
	c.mu.Unlock()
	if stale {
		return c.ctx.Err() == nil
	}

	if !t.Alive() {
		c.mu.Lock()
		if gen == c.gen {
			c.detachLocked()
		}
		c.mu.Unlock()
		return c.ctx.Err() == nil
	}

	c.Close()
	return false
}

// upstream 本地 -> 隧道
func (c *Conn) upstream() {
	defer c.l.wg.Done()

	buf := make([]byte, c.l.config.BufferSize)
	for {
		n, err := c.local.Read(buf)
		if n > 0 {
			if werr := c.l.limiter.WaitN(c.ctx, n); werr != nil {
				c.Close()
				return
			}
			if !c.send(buf[:n]) {
				return
			}
		}
		if err != nil {
			c.Close()
			return
		}
	}
}

// send 写入当前中继流；分离期间等待重新挂载
func (c *Conn) send(p []byte) bool {
	for {
		c.mu.Lock()
		w, gen, t, ready := c.writer, c.gen, c.tun, c.ready
		c.mu.Unlock()

		if w == nil {
			select {
			case <-ready:
				continue
			case <-c.ctx.Done():
				return false
			}
		}

		if _, err := w.Write(p); err != nil {
			if !c.streamFailed(gen, t) {
				return false
			}
			continue
		}
		c.bytesOut.Add(int64(len(p)))
		c.l.traffic(0, len(p))
		return true
	}
}

// downstream 隧道 -> 本地
func (c *Conn) downstream(gen uint64, t Tunnel, st tunnel.Stream) {
	fr := protocol.NewFrameReader(bufio.NewReaderSize(st, 4096))
	for {
		_, payload, err := fr.ReadFrame()
		if err != nil {
			c.streamFailed(gen, t)
			return
		}
		if err := c.l.limiter.WaitN(c.ctx, len(payload)); err != nil {
			return
		}
		if _, err := c.local.Write(payload); err != nil {
			c.Close()
			return
		}
		c.bytesIn.Add(int64(len(payload)))
		c.l.traffic(len(payload), 0)
	}
}

// Interrupt 通知本地对端隧道中断并关闭连接
func (c *Conn) Interrupt() {
	if c.ctx.Err() != nil {
		return
	}
	_ = c.local.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = c.local.Write([]byte(InterruptMessage))
	c.Close()
}

// Close 关闭连接
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.detach()
		_ = c.local.Close()
		c.l.remove(c)
	})
}
