package relay

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aro-network/go-proxyworker/internal/core/nat"
	"github.com/aro-network/go-proxyworker/internal/core/tunnel"
	"github.com/aro-network/go-proxyworker/internal/server"
	"github.com/aro-network/go-proxyworker/pkg/types"
)

// testEnv 参考服务器 + 协商器
type testEnv struct {
	srv *server.Server
	neg *nat.Negotiator
	cfg types.WorkerConfig
}

func newEnv(t *testing.T) *testEnv {
	srv := server.New(server.DefaultConfig())
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Close() })

	return &testEnv{
		srv: srv,
		neg: nat.NewNegotiator(nat.DefaultConfig()),
		cfg: types.WorkerConfig{
			SerialNumber:    "X",
			AuthToken:       "T",
			TunnelID:        "Y",
			ProxyServerIP:   "127.0.0.1",
			ProxyServerPort: srv.Addr().Port,
			LocalPort:       1,
			DisableTLS:      true,
		},
	}
}

func (e *testEnv) session(t *testing.T) *tunnel.Session {
	sess, err := e.neg.Negotiate(context.Background(), e.cfg)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess
}

func listen(t *testing.T, config Config) *Listener {
	l, err := Listen(context.Background(), 0, false, config, nil)
	require.NoError(t, err)
	l.Start()
	t.Cleanup(func() { l.Close() })
	return l
}

func dialLocal(t *testing.T, l *Listener) net.Conn {
	c, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func roundTrip(t *testing.T, c net.Conn, msg string) {
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	defer c.SetDeadline(time.Time{})

	_, err := c.Write([]byte(msg))
	require.NoError(t, err)
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, msg, string(buf))
}

func TestRelay_Echo(t *testing.T) {
	env := newEnv(t)
	l := listen(t, DefaultConfig())
	l.Attach(env.session(t))

	c := dialLocal(t, l)
	roundTrip(t, c, "hello through the tunnel")

	assert.Equal(t, 1, l.ActiveConnections())
	infos := l.Conns()
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Attached)
	assert.NotZero(t, infos[0].TunnelStreamID)

	in, out := l.Traffic()
	assert.Equal(t, int64(len("hello through the tunnel")), in)
	assert.Equal(t, in, out)

	c.Close()
	require.Eventually(t, func() bool { return l.ActiveConnections() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRelay_NoTunnelInterrupts(t *testing.T) {
	l := listen(t, DefaultConfig())

	c := dialLocal(t, l)
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := bufio.NewReader(c).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, InterruptMessage, line)

	require.Eventually(t, func() bool { return l.ActiveConnections() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRelay_BindError(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	_, err = Listen(context.Background(), busy.Addr().(*net.TCPAddr).Port, false, DefaultConfig(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrBind)
	assert.Equal(t, 423, types.CodeOf(err))
}

func TestRelay_ReattachAfterTunnelLoss(t *testing.T) {
	env := newEnv(t)
	l := listen(t, DefaultConfig())
	first := env.session(t)
	l.Attach(first)

	c := dialLocal(t, l)
	roundTrip(t, c, "before")

	// 模拟隧道丢失
	env.srv.DropSessions()
	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session not lost")
	}
	l.Detach()
	assert.Equal(t, 1, l.ActiveConnections(), "local side stays open while detached")

	second := env.session(t)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, uint64(0), second.Snapshot().Sequence)

	assert.Equal(t, 1, l.Attach(second))
	roundTrip(t, c, "after")
	assert.Equal(t, int64(1), env.srv.ResumedStreams())
}

func TestRelay_DataWrittenWhileDetached(t *testing.T) {
	env := newEnv(t)
	l := listen(t, DefaultConfig())
	first := env.session(t)
	l.Attach(first)

	c := dialLocal(t, l)
	roundTrip(t, c, "warmup")

	env.srv.DropSessions()
	<-first.Done()
	l.Detach()

	// 分离期间写入的数据在恢复后送达
	_, err := c.Write([]byte("queued"))
	require.NoError(t, err)

	l.Attach(env.session(t))
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, len("queued"))
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, "queued", string(buf))
}

func TestRelay_InterruptAll(t *testing.T) {
	env := newEnv(t)
	l := listen(t, DefaultConfig())
	l.Attach(env.session(t))

	c := dialLocal(t, l)
	roundTrip(t, c, "ping")

	l.Detach()
	assert.Equal(t, 1, l.InterruptAll())

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, InterruptMessage, string(data))
	require.Eventually(t, func() bool { return l.ActiveConnections() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRelay_MaxConnections(t *testing.T) {
	env := newEnv(t)
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	l := listen(t, cfg)
	l.Attach(env.session(t))

	first := dialLocal(t, l)
	roundTrip(t, first, "one")

	second := dialLocal(t, l)
	_ = second.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := io.ReadAll(second)
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Equal(t, 1, l.ActiveConnections())
}

func TestRelay_CloseClosesConnections(t *testing.T) {
	env := newEnv(t)
	l, err := Listen(context.Background(), 0, false, DefaultConfig(), nil)
	require.NoError(t, err)
	l.Start()
	l.Attach(env.session(t))

	c := dialLocal(t, l)
	roundTrip(t, c, "x")

	require.NoError(t, l.Close())
	assert.Equal(t, 0, l.ActiveConnections())

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = c.Read(make([]byte, 1))
	assert.Error(t, err)
	// 重复关闭
	assert.NoError(t, l.Close())
}

func TestLimiter(t *testing.T) {
	assert.Nil(t, NewLimiter(0))
	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.WaitN(context.Background(), 1<<20))

	l := NewLimiter(1 << 20)
	require.NotNil(t, l)
	assert.NoError(t, l.WaitN(context.Background(), 32*1024))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.WaitN(ctx, 1<<22))
}
