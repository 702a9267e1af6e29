package proxyworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aro-network/go-proxyworker/internal/server"
	"github.com/aro-network/go-proxyworker/pkg/types"
)

// envelope 解码后的响应
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, s string) envelope {
	t.Helper()
	var e envelope
	require.NoError(t, json.Unmarshal([]byte(s), &e), s)
	return e
}

func decodeStatus(t *testing.T, s string) types.WorkerStatus {
	t.Helper()
	e := decode(t, s)
	require.Equal(t, 200, e.Code, s)
	var st types.WorkerStatus
	require.NoError(t, json.Unmarshal(e.Data, &st))
	return st
}

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func newTestFacade(t *testing.T) *Facade {
	f, err := NewFacade(
		WithHeartbeat(50*time.Millisecond, 3),
		WithRetry(2, Backoff{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, Factor: 2}),
		WithDialTimeout(2*time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(func() { f.Stop() })
	return f
}

func startServer(t *testing.T) *server.Server {
	srv := server.New(server.DefaultConfig())
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Close() })
	return srv
}

func configJSON(srvPort, localPort, fixedPort int, tunnelID string) string {
	return fmt.Sprintf(`{"sn":"X","token":"T","tunnel_id":%q,"proxy_server_ip":"127.0.0.1",`+
		`"proxy_server_port":%d,"local_port":%d,"nat_type":1,"fixed_port":%d,"disable_tls":true}`,
		tunnelID, srvPort, localPort, fixedPort)
}

// ============================================================================
//                              生命周期
// ============================================================================

func TestFacade_StartScenario(t *testing.T) {
	srv := startServer(t)
	f := newTestFacade(t)
	port := freePort(t)

	e := decode(t, f.Start(configJSON(srv.Addr().Port, port, port, "Y")))
	assert.Equal(t, 200, e.Code)
	assert.JSONEq(t, `{"state":"starting"}`, string(e.Data))

	require.Eventually(t, func() bool {
		return decodeStatus(t, f.Status()).State == types.StateRelaying
	}, 5*time.Second, 10*time.Millisecond)

	st := decodeStatus(t, f.Status())
	assert.Zero(t, st.ActiveConnections)
	assert.True(t, st.Running)
	require.NotNil(t, st.TunnelSessionID)
	assert.Nil(t, st.LastError)
	assert.Equal(t, port, st.LocalPort)
	assert.Equal(t, "Y", st.TunnelID)

	e = decode(t, f.IsRunning())
	assert.JSONEq(t, `{"running":true}`, string(e.Data))

	e = decode(t, f.Stop())
	assert.Equal(t, 200, e.Code)
	assert.JSONEq(t, `{"state":"idle"}`, string(e.Data))

	st = decodeStatus(t, f.Status())
	assert.Equal(t, types.StateIdle, st.State)
	assert.Zero(t, st.ActiveConnections)
}

func TestFacade_SecondStartIsNoop(t *testing.T) {
	srv := startServer(t)
	f := newTestFacade(t)

	first := decode(t, f.Start(configJSON(srv.Addr().Port, freePort(t), 0, "Y")))
	require.Equal(t, 200, first.Code)

	second := decode(t, f.Start(configJSON(srv.Addr().Port, freePort(t), 0, "Z")))
	assert.Equal(t, 200, second.Code)
	assert.Equal(t, "already running", second.Message)
	var data StateData
	require.NoError(t, json.Unmarshal(second.Data, &data))
	assert.True(t, data.AlreadyRunning)
	assert.True(t, data.State.IsRunning())

	assert.Equal(t, "Y", decodeStatus(t, f.Status()).TunnelID)
}

func TestFacade_StopWhileIdle(t *testing.T) {
	f := newTestFacade(t)
	e := decode(t, f.Stop())
	assert.Equal(t, 200, e.Code)
	assert.JSONEq(t, `{"state":"idle"}`, string(e.Data))
}

func TestFacade_RestartBeforeStart(t *testing.T) {
	f := newTestFacade(t)
	e := decode(t, f.Restart())
	assert.Equal(t, 409, e.Code)
	assert.NotEmpty(t, e.Message)
	assert.Equal(t, "null", string(e.Data))
}

func TestFacade_Restart(t *testing.T) {
	srv := startServer(t)
	f := newTestFacade(t)

	require.Equal(t, 200, decode(t, f.Start(configJSON(srv.Addr().Port, freePort(t), 0, "Y"))).Code)
	e := decode(t, f.Restart())
	assert.Equal(t, 200, e.Code)
	assert.JSONEq(t, `{"state":"starting"}`, string(e.Data))

	require.Eventually(t, func() bool {
		return decodeStatus(t, f.Status()).State == types.StateRelaying
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFacade_ConfigErrors(t *testing.T) {
	f := newTestFacade(t)

	cases := []struct {
		name string
		json string
	}{
		{"malformed", `{"sn":`},
		{"missing token", `{"sn":"X","tunnel_id":"Y","proxy_server_ip":"127.0.0.1","proxy_server_port":8000,"local_port":10800}`},
		{"bad nat type", `{"sn":"X","token":"T","tunnel_id":"Y","proxy_server_ip":"127.0.0.1","proxy_server_port":8000,"local_port":10800,"nat_type":9}`},
		{"bad port", `{"sn":"X","token":"T","tunnel_id":"Y","proxy_server_ip":"127.0.0.1","proxy_server_port":70000,"local_port":10800}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := decode(t, f.Start(tc.json))
			assert.Equal(t, 400, e.Code)
			assert.NotEmpty(t, e.Message)
		})
	}
	assert.False(t, f.Worker().IsRunning())
}

func TestFacade_AuthFailureSurfacesInStatus(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.Credentials = map[string]string{"X": "other"}
	srv := server.New(cfg)
	require.NoError(t, srv.Start())
	defer srv.Close()

	f := newTestFacade(t)
	require.Equal(t, 200, decode(t, f.Start(configJSON(srv.Addr().Port, freePort(t), 0, "Y"))).Code)

	require.Eventually(t, func() bool {
		return decodeStatus(t, f.Status()).State == types.StateFailed
	}, 5*time.Second, 10*time.Millisecond)
	st := decodeStatus(t, f.Status())
	assert.Equal(t, 401, st.LastErrorCode)
	require.NotNil(t, st.LastError)

	assert.JSONEq(t, `{"running":false}`, string(decode(t, f.IsRunning()).Data))

	// failed 状态下再次 Start 不报告 already running
	e := decode(t, f.Start(configJSON(srv.Addr().Port, freePort(t), 0, "Y")))
	assert.Equal(t, 200, e.Code)
	assert.Equal(t, "worker not idle", e.Message)
	assert.JSONEq(t, `{"state":"failed"}`, string(e.Data))

	assert.Equal(t, 200, decode(t, f.Stop()).Code)
}

func TestFacade_Cleanup(t *testing.T) {
	srv := startServer(t)
	f := newTestFacade(t)

	require.Equal(t, 200, decode(t, f.Start(configJSON(srv.Addr().Port, freePort(t), 0, "Y"))).Code)
	assert.Equal(t, 200, decode(t, f.Cleanup()).Code)
	assert.Equal(t, types.StateIdle, f.Worker().State())

	// idle 状态下重复清理
	assert.Equal(t, 200, decode(t, f.Cleanup()).Code)
}

// stuckProber 阻塞到 release 关闭
type stuckProber struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *stuckProber) Probe(context.Context, string, int) (*net.UDPAddr, error) {
	p.once.Do(func() { close(p.entered) })
	<-p.release
	return nil, errors.New("released")
}

func TestFacade_StatusWhileStopInFlight(t *testing.T) {
	srv := startServer(t)
	prober := &stuckProber{entered: make(chan struct{}), release: make(chan struct{})}
	f, err := NewFacade(
		WithRetry(1, Backoff{Initial: 10 * time.Millisecond, Max: 10 * time.Millisecond, Factor: 1}),
		WithStopGrace(time.Second),
		WithProber(prober),
	)
	require.NoError(t, err)
	t.Cleanup(func() { f.Stop() })

	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { close(prober.release) }) }
	t.Cleanup(release)

	cfg := strings.Replace(configJSON(srv.Addr().Port, freePort(t), 0, "Y"), `"nat_type":1`, `"nat_type":2`, 1)
	require.Equal(t, 200, decode(t, f.Start(cfg)).Code)
	select {
	case <-prober.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("probe not started")
	}

	stopped := make(chan string, 1)
	go func() { stopped <- f.Stop() }()
	require.Eventually(t, func() bool {
		return decodeStatus(t, f.Status()).State == types.StateStopping
	}, 5*time.Second, 5*time.Millisecond)

	// Stop 持有门面锁期间查询仍立即返回
	begin := time.Now()
	st := decodeStatus(t, f.Status())
	running := decode(t, f.IsRunning())
	assert.Less(t, time.Since(begin), 20*time.Millisecond)
	assert.Equal(t, types.StateStopping, st.State)
	assert.JSONEq(t, `{"running":false}`, string(running.Data))
	select {
	case <-stopped:
		t.Fatal("stop returned while the run loop was blocked")
	default:
	}

	release()
	select {
	case out := <-stopped:
		assert.Equal(t, 200, decode(t, out).Code)
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return")
	}
}

// ============================================================================
//                              异常与默认实例
// ============================================================================

func TestFacade_RecoversPanics(t *testing.T) {
	f := &Facade{}

	for _, out := range []string{f.Status(), f.IsRunning(), f.Stop(), f.Restart()} {
		e := decode(t, out)
		assert.Equal(t, 500, e.Code)
		assert.Contains(t, e.Message, "panic")
	}
}

func TestDefault_Singleton(t *testing.T) {
	assert.Same(t, Default(), Default())

	assert.Equal(t, 200, decode(t, StopProxyWorker()).Code)
	assert.JSONEq(t, `{"running":false}`, string(decode(t, IsProxyWorkerRunning()).Data))
	assert.Equal(t, 409, decode(t, RestartProxyWorker()).Code)
	assert.Equal(t, types.StateIdle, decodeStatus(t, GetProxyWorkerStatus()).State)
	assert.Equal(t, 200, decode(t, Cleanup()).Code)

	e := decode(t, GetCurrentVersion())
	assert.JSONEq(t, fmt.Sprintf(`{"version":%q}`, Version), string(e.Data))
}
