package yamux

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createConnPair 创建一对连接的网络连接
func createConnPair(t *testing.T) (net.Conn, net.Conn) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	var serverConn net.Conn
	var serverErr error
	done := make(chan struct{})

	go func() {
		serverConn, serverErr = listener.Accept()
		close(done)
	}()

	clientConn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)

	<-done
	require.NoError(t, serverErr)

	return serverConn, clientConn
}

// createMuxerPair 创建一对 Muxer（服务端和客户端）
func createMuxerPair(t *testing.T) (*Muxer, *Muxer) {
	serverConn, clientConn := createConnPair(t)
	factory := NewFactory(DefaultConfig())

	serverMuxer, err := factory.NewMuxer(serverConn, true)
	require.NoError(t, err)
	clientMuxer, err := factory.NewMuxer(clientConn, false)
	require.NoError(t, err)

	t.Cleanup(func() {
		serverMuxer.Close()
		clientMuxer.Close()
	})
	return serverMuxer, clientMuxer
}

func TestNewMuxer(t *testing.T) {
	serverMuxer, clientMuxer := createMuxerPair(t)

	assert.True(t, serverMuxer.IsServer())
	assert.False(t, clientMuxer.IsServer())
	assert.False(t, clientMuxer.IsClosed())
	assert.Equal(t, 0, clientMuxer.NumStreams())
}

func TestFactory_NilConn(t *testing.T) {
	_, err := NewFactory(DefaultConfig()).NewMuxer(nil, false)
	assert.ErrorIs(t, err, ErrNilConn)
}

func TestMuxer_StreamRoundTrip(t *testing.T) {
	serverMuxer, clientMuxer := createMuxerPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan *Stream, 1)
	go func() {
		s, err := serverMuxer.AcceptStream(ctx)
		if err == nil {
			accepted <- s
		}
	}()

	cs, err := clientMuxer.NewStream(ctx)
	require.NoError(t, err)
	_, err = cs.Write([]byte("ping"))
	require.NoError(t, err)

	var ss *Stream
	select {
	case ss = <-accepted:
	case <-ctx.Done():
		t.Fatal("accept timeout")
	}

	buf := make([]byte, 4)
	_, err = io.ReadFull(ss, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	assert.Equal(t, 1, clientMuxer.NumStreams())
	require.NoError(t, cs.Close())
	assert.Equal(t, 0, clientMuxer.NumStreams())
	assert.True(t, cs.IsClosed())
}

func TestMuxer_CloseClosesStreams(t *testing.T) {
	_, clientMuxer := createMuxerPair(t)

	cs, err := clientMuxer.NewStream(context.Background())
	require.NoError(t, err)

	require.NoError(t, clientMuxer.Close())
	assert.True(t, clientMuxer.IsClosed())
	assert.True(t, cs.IsClosed())

	select {
	case <-clientMuxer.CloseChan():
	case <-time.After(time.Second):
		t.Fatal("close chan not closed")
	}

	_, err = clientMuxer.NewStream(context.Background())
	assert.ErrorIs(t, err, ErrMuxerClosed)
	// 重复关闭
	assert.NoError(t, clientMuxer.Close())
}

func TestMuxer_NewStreamCancelled(t *testing.T) {
	_, clientMuxer := createMuxerPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := clientMuxer.NewStream(ctx)
	// 可能在取消前已经拿到结果
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestMuxer_CancelledOpenClosesStream(t *testing.T) {
	serverMuxer, clientMuxer := createMuxerPair(t)

	var accepted, finished atomic.Int32
	go func() {
		for {
			s, err := serverMuxer.AcceptStream(context.Background())
			if err != nil {
				return
			}
			accepted.Add(1)
			go func() {
				_, _ = io.Copy(io.Discard, s)
				_ = s.Close()
				finished.Add(1)
			}()
		}
	}()

	const n = 50
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < n; i++ {
		s, err := clientMuxer.NewStream(ctx)
		if err == nil {
			// 取消前已拿到的流由调用方关闭
			require.NoError(t, s.Close())
		}
	}

	// 被放弃的流在两端都关闭
	require.Eventually(t, func() bool {
		return accepted.Load() == n &&
			finished.Load() == n &&
			clientMuxer.session.NumStreams() == 0
	}, 5*time.Second, 10*time.Millisecond,
		"accepted=%d finished=%d open=%d", accepted.Load(), finished.Load(), clientMuxer.session.NumStreams())
	assert.Equal(t, 0, clientMuxer.NumStreams())
}

func TestMuxer_CloseRacesStreamClose(t *testing.T) {
	for round := 0; round < 10; round++ {
		_, clientMuxer := createMuxerPair(t)

		streams := make([]*Stream, 20)
		for i := range streams {
			s, err := clientMuxer.NewStream(context.Background())
			require.NoError(t, err)
			streams[i] = s
		}
		require.Equal(t, len(streams), clientMuxer.NumStreams())

		var wg sync.WaitGroup
		for _, s := range streams {
			wg.Add(1)
			go func(s *Stream) {
				defer wg.Done()
				_ = s.Close()
			}(s)
		}
		require.NoError(t, clientMuxer.Close())
		wg.Wait()

		for _, s := range streams {
			assert.True(t, s.IsClosed())
		}
		assert.Equal(t, 0, clientMuxer.NumStreams())
	}
}

func TestConfig_ToYamux(t *testing.T) {
	cfg := DefaultConfig()
	ycfg := cfg.ToYamux()

	assert.Equal(t, 256, ycfg.AcceptBacklog)
	assert.False(t, ycfg.EnableKeepAlive)
	assert.Equal(t, 10*time.Second, ycfg.ConnectionWriteTimeout)
}
