package relay

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aro-network/go-proxyworker/internal/core/transport"
	"github.com/aro-network/go-proxyworker/internal/util/logger"
	"github.com/aro-network/go-proxyworker/pkg/types"
)

var log = logger.Logger("relay")

// Observer 中继事件观察者（指标）
type Observer interface {
	ConnOpened()
	ConnClosed()
	Traffic(in, out int)
}

// Listener 本地中继监听器
type Listener struct {
	config   Config
	ln       net.Listener
	limiter  *Limiter
	observer Observer

	mu     sync.Mutex
	tun    Tunnel
	epoch  uint64
	conns  map[string]*Conn
	closed bool

	bytesIn  atomic.Int64
	bytesOut atomic.Int64

	wg sync.WaitGroup
}

// Listen 绑定本地端口
//
// reuse 为 true 时设置端口复用（本地端口与隧道固定源端口相同时需要）。
// 绑定失败返回 types.KindBind 错误。
func Listen(ctx context.Context, port int, reuse bool, config Config, observer Observer) (*Listener, error) {
	_ = config.Validate()
	addr := net.JoinHostPort(config.Host, strconv.Itoa(port))

	var ln net.Listener
	var err error
	if reuse {
		ln, err = transport.Listen(ctx, addr)
	} else {
		var lc net.ListenConfig
		ln, err = lc.Listen(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, types.NewError(types.KindBind, "listen", addr, err)
	}

	log.Info("本地中继监听已绑定", "addr", ln.Addr().String())
	return &Listener{
		config:   config,
		ln:       ln,
		limiter:  NewLimiter(config.MaxBandwidth),
		observer: observer,
		conns:    make(map[string]*Conn),
	}, nil
}

// Addr 返回监听地址
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Start 开始接受连接
func (l *Listener) Start() {
	l.wg.Add(1)
	go l.acceptLoop()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		local, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || l.isClosed() {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			log.Warn("接受连接失败", "err", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		l.handle(local)
	}
}

func (l *Listener) handle(local net.Conn) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = local.Close()
		return
	}
	if l.config.MaxConnections > 0 && len(l.conns) >= l.config.MaxConnections {
		l.mu.Unlock()
		log.Warn("拒绝本地连接", "remote", local.RemoteAddr().String(), "err", ErrConnLimit)
		_ = local.Close()
		return
	}

	c := newConn(l, uuid.NewString(), local)
	l.conns[c.id] = c
	t, epoch := l.tun, l.epoch
	l.wg.Add(1)
	l.mu.Unlock()

	if l.observer != nil {
		l.observer.ConnOpened()
	}
	log.Debug("接受本地连接", "conn", c.id, "remote", local.RemoteAddr().String())

	go c.upstream()

	if t == nil {
		// 没有可用会话
		c.Interrupt()
		return
	}
	go l.attachConn(c, t, epoch, false)
}

// attachConn 将连接挂载到会话，会话已被替换时放弃
func (l *Listener) attachConn(c *Conn, t Tunnel, epoch uint64, resume bool) {
	c.attachMu.Lock()
	defer c.attachMu.Unlock()

	if !l.isCurrent(t, epoch) || c.tunnel() == t {
		return
	}
	if err := c.attach(t, resume); err != nil {
		if c.ctx.Err() != nil {
			return
		}
		log.Debug("打开中继流失败", "conn", c.id, "resume", resume, "err", err)
		if l.isCurrent(t, epoch) {
			c.Interrupt()
		}
	}
}

func (l *Listener) isCurrent(t Tunnel, epoch uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tun == t && l.epoch == epoch && !l.closed
}

// ============================================================================
//                              会话切换
// ============================================================================

// Attach 设置当前会话，并将已分离的连接恢复到该会话
//
// 返回恢复的连接数。
func (l *Listener) Attach(t Tunnel) int {
	l.mu.Lock()
	l.tun = t
	l.epoch++
	epoch := l.epoch
	conns := l.snapshotLocked()
	l.mu.Unlock()

	var wg sync.WaitGroup
	var resumed atomic.Int32
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			l.attachConn(c, t, epoch, true)
			if c.tunnel() == t {
				resumed.Add(1)
			}
		}(c)
	}
	wg.Wait()

	if n := resumed.Load(); n > 0 {
		log.Info("中继连接已恢复", "count", n)
	}
	return int(resumed.Load())
}

// Detach 清除当前会话，所有连接分离等待恢复
func (l *Listener) Detach() {
	l.mu.Lock()
	l.tun = nil
	l.epoch++
	conns := l.snapshotLocked()
	l.mu.Unlock()

	for _, c := range conns {
		c.detach()
	}
	if len(conns) > 0 {
		log.Debug("中继连接已分离", "count", len(conns))
	}
}

// InterruptAll 清除当前会话并中断所有连接
func (l *Listener) InterruptAll() int {
	l.mu.Lock()
	l.tun = nil
	l.epoch++
	conns := l.snapshotLocked()
	l.mu.Unlock()

	for _, c := range conns {
		c.Interrupt()
	}
	if len(conns) > 0 {
		log.Info("中继连接已中断", "count", len(conns))
	}
	return len(conns)
}

// ============================================================================
//                              状态与关闭
// ============================================================================

// ActiveConnections 返回活跃连接数
func (l *Listener) ActiveConnections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Conns 返回连接快照
func (l *Listener) Conns() []ConnInfo {
	l.mu.Lock()
	conns := l.snapshotLocked()
	l.mu.Unlock()

	infos := make([]ConnInfo, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, c.Info())
	}
	return infos
}

// Traffic 返回累计流量（入：隧道 -> 本地，出：本地 -> 隧道）
func (l *Listener) Traffic() (in, out int64) {
	return l.bytesIn.Load(), l.bytesOut.Load()
}

// Close 关闭监听并关闭所有连接
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.tun = nil
	l.epoch++
	conns := l.snapshotLocked()
	l.mu.Unlock()

	err := l.ln.Close()
	for _, c := range conns {
		c.Close()
	}
	l.wg.Wait()
	log.Debug("本地中继监听已关闭", "addr", l.ln.Addr().String())
	return err
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Listener) snapshotLocked() []*Conn {
	conns := make([]*Conn, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	return conns
}

func (l *Listener) remove(c *Conn) {
	l.mu.Lock()
	_, ok := l.conns[c.id]
	delete(l.conns, c.id)
	l.mu.Unlock()

	if ok && l.observer != nil {
		l.observer.ConnClosed()
	}
}

func (l *Listener) traffic(in, out int) {
	l.bytesIn.Add(int64(in))
	l.bytesOut.Add(int64(out))
	if l.observer != nil {
		l.observer.Traffic(in, out)
	}
}
