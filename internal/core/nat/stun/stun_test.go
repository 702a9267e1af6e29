package stun

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startResponder(t *testing.T) string {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	r := NewResponder(conn)
	go r.Serve()
	t.Cleanup(func() { r.Close() })
	return conn.LocalAddr().String()
}

func TestProbe_Loopback(t *testing.T) {
	server := startResponder(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr, err := NewClient(time.Second, 2).Probe(ctx, server, 0)
	require.NoError(t, err)
	assert.True(t, addr.IP.IsLoopback())
	assert.NotZero(t, addr.Port)
}

func TestProbe_FixedLocalPort(t *testing.T) {
	server := startResponder(t)

	// 取一个空闲 UDP 端口
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	port := pc.LocalAddr().(*net.UDPAddr).Port
	pc.Close()

	addr, err := NewClient(time.Second, 2).Probe(context.Background(), server, port)
	require.NoError(t, err)
	assert.Equal(t, port, addr.Port)
}

func TestProbe_NoResponse(t *testing.T) {
	// 无应答的 UDP 端口
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	_, err = NewClient(100*time.Millisecond, 1).Probe(context.Background(), pc.LocalAddr().String(), 0)
	require.Error(t, err)
	var se *STUNError
	assert.True(t, errors.As(err, &se))
}

func TestProbe_NoServer(t *testing.T) {
	_, err := NewClient(0, 0).Probe(context.Background(), "", 0)
	assert.Equal(t, ErrNoServer, err)
}

func TestProbe_QueryHook(t *testing.T) {
	c := NewClient(0, 0)
	c.SetQueryFunc(func(server string, localPort int) (*net.UDPAddr, error) {
		assert.Equal(t, "1.2.3.4:8000", server)
		assert.Equal(t, 10800, localPort)
		return &net.UDPAddr{IP: net.IPv4(5, 6, 7, 8), Port: 10800}, nil
	})
	addr, err := c.Probe(context.Background(), "1.2.3.4:8000", 10800)
	require.NoError(t, err)
	assert.Equal(t, "5.6.7.8:10800", addr.String())
}
