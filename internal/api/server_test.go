package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/stridescan/internal/config"
	"github.com/anstrom/stridescan/internal/metrics"
	"github.com/anstrom/stridescan/internal/scanning"
	"github.com/anstrom/stridescan/internal/services"
	"github.com/anstrom/stridescan/internal/workers"
)

// MockDB provides a mock database for testing
type MockDB struct {
	mock.Mock
}

func (m *MockDB) PingContext(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// holdSubmitter accepts jobs without running them.
type holdSubmitter struct{}

func (holdSubmitter) Submit(workers.Job) error { return nil }

// openDialer accepts connections on the configured ports.
type openDialer map[uint16]bool

func (d openDialer) DialContext(ctx context.Context, _, address string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil, err
	}
	if !d[ap.Port()] {
		return nil, fmt.Errorf("connection refused")
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func createTestConfig() *config.Config {
	cfg := config.Default()
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 0
	return cfg
}

func newTestServer(t *testing.T, deps Dependencies) *Server {
	t.Helper()
	if deps.Scans == nil {
		deps.Scans = services.NewScanService(holdSubmitter{})
	}
	srv, err := New(createTestConfig(), deps)
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewRequiresScanService(t *testing.T) {
	_, err := New(createTestConfig(), Dependencies{})
	assert.Error(t, err)
}

func TestLivenessHandler(t *testing.T) {
	srv := newTestServer(t, Dependencies{})

	rec := get(t, srv.Handler(), "/api/v1/liveness")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alive", body["status"])
	assert.Contains(t, body, "uptime")
}

func TestHealthHandler(t *testing.T) {
	t.Run("without database", func(t *testing.T) {
		srv := newTestServer(t, Dependencies{})
		rec := get(t, srv.Handler(), "/api/v1/health")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "not configured")
	})

	t.Run("database healthy", func(t *testing.T) {
		database := &MockDB{}
		database.On("PingContext", mock.Anything).Return(nil)

		srv := newTestServer(t, Dependencies{Database: database})
		rec := get(t, srv.Handler(), "/api/v1/health")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"healthy"`)
		database.AssertExpectations(t)
	})

	t.Run("database down", func(t *testing.T) {
		database := &MockDB{}
		database.On("PingContext", mock.Anything).Return(fmt.Errorf("connection refused"))

		srv := newTestServer(t, Dependencies{Database: database})
		rec := get(t, srv.Handler(), "/api/v1/health")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "unhealthy")
		assert.Contains(t, rec.Body.String(), "connection refused")
	})
}

func TestIndexHandler(t *testing.T) {
	srv := newTestServer(t, Dependencies{Metrics: metrics.NewPrometheusMetrics()})

	rec := get(t, srv.Handler(), "/")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Service   string            `json:"service"`
		Endpoints map[string]string `json:"endpoints"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "stridescan", body.Service)
	assert.Equal(t, "/metrics", body.Endpoints["metrics"])
}

func TestMetricsEndpoint(t *testing.T) {
	pm := metrics.NewPrometheusMetrics()
	srv := newTestServer(t, Dependencies{Metrics: pm})

	get(t, srv.Handler(), "/api/v1/liveness")
	rec := get(t, srv.Handler(), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stridescan_api_requests_total")
	assert.Contains(t, rec.Body.String(),
		`stridescan_api_requests_total{method="GET",path="/api/v1/liveness",status="200"} 1`)
}

func TestMetricsEndpointDisabled(t *testing.T) {
	cfg := createTestConfig()
	cfg.Metrics.Enabled = false
	srv, err := New(cfg, Dependencies{
		Scans:   services.NewScanService(holdSubmitter{}),
		Metrics: metrics.NewPrometheusMetrics(),
	})
	require.NoError(t, err)

	rec := get(t, srv.Handler(), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, Dependencies{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/scans", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestContentTypeRejected(t *testing.T) {
	srv := newTestServer(t, Dependencies{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", strings.NewReader("target=10.0.0.1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestGetAddress(t *testing.T) {
	srv := newTestServer(t, Dependencies{})
	assert.Equal(t, "127.0.0.1:0", srv.GetAddress())
}

func TestScanEndToEnd(t *testing.T) {
	pool := workers.New(workers.Config{Size: 1, QueueSize: 4, ShutdownTimeout: 10 * time.Second}, nil)
	pool.Start()
	defer func() { _ = pool.Shutdown() }()

	svc := services.NewScanService(pool,
		services.WithScanOptions(scanning.WithDialer(openDialer{22: true, 8443: true})))
	srv := newTestServer(t, Dependencies{Scans: svc})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/scans", "application/json",
		strings.NewReader(`{"target": "127.0.0.1", "workers": 64}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	var final struct {
		Status    string   `json:"status"`
		OpenPorts []uint16 `json:"open_ports"`
	}
	require.Eventually(t, func() bool {
		r, err := http.Get(ts.URL + "/api/v1/scans/" + created.ID)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&final); err != nil {
			return false
		}
		return final.Status == services.StatusCompleted
	}, 10*time.Second, 10*time.Millisecond)

	assert.Equal(t, []uint16{22, 8443}, final.OpenPorts)
}

func TestStartAndStop(t *testing.T) {
	srv := newTestServer(t, Dependencies{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
