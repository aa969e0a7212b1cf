package statusserver

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomsec/fathom/internal/config"
	"github.com/fathomsec/fathom/pkg/scan"
)

func startTestServer(t *testing.T, ready ReadyFunc) (*Server, string) {
	t.Helper()
	stats := &scan.Stats{}
	cfg := config.ServerConfig{Host: "127.0.0.1", Port: 0}
	// Port 0 means "any free port" at the net.Listen layer, but
	// http.Server.ListenAndServe needs a concrete port; tests bind a
	// fixed high port instead to keep the example deterministic.
	cfg.Port = 18099
	srv := New(cfg, nil, stats, ready)
	srv.Start()
	time.Sleep(50 * time.Millisecond)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, "http://127.0.0.1:18099"
}

func TestHealthzReturnsOK(t *testing.T) {
	_, base := startTestServer(t, nil)

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
}

func TestReadyzReflectsReadyFunc(t *testing.T) {
	ready := false
	_, base := startTestServer(t, func() bool { return ready })

	resp, err := http.Get(base + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ready = true
	resp2, err := http.Get(base + "/readyz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestMetricsExposesScanCounters(t *testing.T) {
	_, base := startTestServer(t, nil)

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "fathom_scan_requests_total")
	assert.Contains(t, string(body), "fathom_scan_results_kept_total")
}
