package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/aro-network/go-proxyworker/pkg/types"
)

// ============================================================================
//                              RateMeter
// ============================================================================

func TestRateMeter_Window(t *testing.T) {
	mock := clock.NewMock()
	r := NewRateMeter(mock)

	r.Add(600)
	assert.InDelta(t, 10.0, r.Rate(), 0.001)

	mock.Add(30 * time.Second)
	r.Add(600)
	assert.InDelta(t, 20.0, r.Rate(), 0.001)

	// 第一个桶滑出窗口
	mock.Add(31 * time.Second)
	assert.InDelta(t, 10.0, r.Rate(), 0.001)

	mock.Add(2 * time.Minute)
	assert.Zero(t, r.Rate())
}

func TestRateMeter_Reset(t *testing.T) {
	r := NewRateMeter(clock.NewMock())
	r.Add(1 << 20)
	r.Reset()
	assert.Zero(t, r.Rate())
}

// ============================================================================
//                              Metrics
// ============================================================================

func TestMetrics_State(t *testing.T) {
	m := New(DefaultConfig())
	require.NotNil(t, m)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("idle")))

	m.SetState(types.StateRelaying)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("relaying")))
	assert.Equal(t, len(allStates), testutil.CollectAndCount(m.state))
}

func TestMetrics_RelayObserver(t *testing.T) {
	m := New(Config{Enabled: true, Clock: clock.NewMock()})

	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))

	m.Traffic(120, 0)
	m.Traffic(0, 60)
	m.Traffic(0, 0)
	assert.Equal(t, 120.0, testutil.ToFloat64(m.bytes.WithLabelValues("in")))
	assert.Equal(t, 60.0, testutil.ToFloat64(m.bytes.WithLabelValues("out")))

	in, out := m.Rates()
	assert.InDelta(t, 2.0, in, 0.001)
	assert.InDelta(t, 1.0, out, 0.001)
}

func TestMetrics_Negotiations(t *testing.T) {
	m := New(DefaultConfig())

	m.NegotiationResult(nil)
	m.NegotiationResult(types.NewError(types.KindAuth, "register", "rejected", nil))
	m.NegotiationResult(errors.New("boom"))
	m.SessionEstablished(types.TunnelModeDirect)
	m.Reconnected()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.negotiations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.negotiations.WithLabelValues("auth")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.negotiations.WithLabelValues("internal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("direct")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects))
}

func TestMetrics_Handler(t *testing.T) {
	m := New(DefaultConfig())
	m.Traffic(10, 20)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `proxyworker_relay_bytes_total{direction="in"} 10`)
	assert.Contains(t, string(body), `proxyworker_state{state="idle"} 1`)
	assert.Contains(t, string(body), "proxyworker_relay_bytes_rate")
}

func TestMetrics_Disabled(t *testing.T) {
	m := New(Config{Enabled: false})
	assert.Nil(t, m)

	// nil 接收者上为空操作
	assert.NotPanics(t, func() {
		m.SetState(types.StateRelaying)
		m.ConnOpened()
		m.ConnClosed()
		m.Traffic(1, 1)
		m.NegotiationResult(nil)
		m.SessionEstablished(types.TunnelModeRelay)
		m.Reconnected()
	})
	assert.Nil(t, m.Registry())
	assert.NotNil(t, m.Handler())
}

// ============================================================================
//                              Fx 模块
// ============================================================================

func TestModule_Provides(t *testing.T) {
	var m *Metrics
	app := fxtest.New(t,
		Module,
		fx.Populate(&m),
	)
	defer app.RequireStart().RequireStop()

	require.NotNil(t, m)
	assert.NotNil(t, m.Registry())
}

func TestModule_Disabled(t *testing.T) {
	var m *Metrics
	app := fxtest.New(t,
		fx.Supply(&Config{Enabled: false}),
		Module,
		fx.Populate(&m),
	)
	defer app.RequireStart().RequireStop()

	assert.Nil(t, m)
}
