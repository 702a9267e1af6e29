package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aro-network/go-proxyworker/pkg/types"
)

// newEchoServer 启动回显 websocket 服务，校验 Basic 认证
func newEchoServer(t *testing.T) (*httptest.Server, types.WorkerConfig) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sn, token, ok := r.BasicAuth()
		if !ok || sn != "X" || token != "T" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Path != TunnelPath || r.URL.Query().Get("tunnel.id") != "Y" {
			http.NotFound(w, r)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConn(ws)
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	}))
	t.Cleanup(srv.Close)

	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, _ := strconv.Atoi(port)

	return srv, types.WorkerConfig{
		SerialNumber:    "X",
		AuthToken:       "T",
		TunnelID:        "Y",
		ProxyServerIP:   host,
		ProxyServerPort: p,
		LocalPort:       1,
		DisableTLS:      true,
	}
}

func TestTunnelURL(t *testing.T) {
	cfg := types.WorkerConfig{TunnelID: "tid 1", ProxyServerIP: "10.0.0.1", ProxyServerPort: 8443}
	assert.Equal(t, "wss://10.0.0.1:8443/tunnel?tunnel.id=tid+1", TunnelURL(cfg).String())

	cfg.DisableTLS = true
	assert.Equal(t, "ws", TunnelURL(cfg).Scheme)
}

func TestDial_Echo(t *testing.T) {
	_, cfg := newEchoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := NewDialer(DefaultConfig()).Dial(ctx, cfg, 0)
	require.NoError(t, err)
	defer conn.Close()
	assert.NotZero(t, LocalPort(conn))

	_, err = conn.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = conn.Write([]byte("tunnel"))
	require.NoError(t, err)

	buf := make([]byte, len("hello tunnel"))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello tunnel", string(buf))
}

func TestDial_Rejected(t *testing.T) {
	_, cfg := newEchoServer(t)
	cfg.AuthToken = "wrong"

	_, err := NewDialer(DefaultConfig()).Dial(context.Background(), cfg, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, ErrHandshake)
}

func TestDial_FixedSourcePortSharedWithListener(t *testing.T) {
	_, cfg := newEchoServer(t)

	// 本地中继端口与固定源端口相同
	ln, err := Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	conn, err := NewDialer(DefaultConfig()).Dial(context.Background(), cfg, port)
	require.NoError(t, err)
	defer conn.Close()
	assert.NotZero(t, LocalPort(conn))
}
