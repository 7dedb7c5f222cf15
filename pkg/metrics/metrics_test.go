package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionMetricsRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConnectionMetricsWith(reg).(*connectionMetrics)

	m.RecordConnectionAccepted()
	m.RecordConnectionAccepted()
	m.SetActiveConnections(2)
	m.RecordExchange("complete", time.Millisecond)
	m.RecordBytesTransferred("recv", 5)
	m.RecordBytesTransferred("send", 5)
	m.RecordBytesTransferred("send", 0)
	m.RecordConnectionClosed("closed", time.Second)
	m.RecordAcceptError()
	m.RecordAllocationFailure()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsAccepted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.activeConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exchangesTotal.WithLabelValues("complete")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.bytesTransferred.WithLabelValues("recv")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.bytesTransferred.WithLabelValues("send")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsClosed.WithLabelValues("closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.acceptErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.allocationFailures))
}

func TestNewConnectionMetricsDisabled(t *testing.T) {
	if IsEnabled() {
		t.Skip("registry already initialized")
	}
	_, ok := NewConnectionMetrics().(noopConnectionMetrics)
	assert.True(t, ok)
}

func TestServerRoutes(t *testing.T) {
	ready := true
	srv := NewServer(ServerConfig{Port: 9191, Ready: func() bool { return ready }})
	h := srv.Handler()

	tests := []struct {
		name     string
		path     string
		ready    bool
		wantCode int
		wantBody string
	}{
		{"Index", "/", true, http.StatusOK, "/metrics"},
		{"HealthReady", "/healthz", true, http.StatusOK, "ok"},
		{"HealthDraining", "/healthz", false, http.StatusServiceUnavailable, "draining"},
		{"Unknown", "/nope", true, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ready = tt.ready
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}

	assert.Equal(t, 9191, srv.Port())
}

func TestServerMetricsDisabledEndpoint(t *testing.T) {
	if IsEnabled() {
		t.Skip("registry already initialized")
	}
	rec := httptest.NewRecorder()
	NewServer(ServerConfig{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerServeAndStop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(ServerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok\n", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}

	assert.NoError(t, srv.Stop(context.Background()))
}
