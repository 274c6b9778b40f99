package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warren-mq/warren/config"
)

func TestHealthzAlwaysOK(t *testing.T) {
	m := NewMonitor(config.Default(), nil)

	rec := httptest.NewRecorder()
	m.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReadyzReflectsProbe(t *testing.T) {
	ready := NewMonitor(config.Default(), func(ctx context.Context) error { return nil })
	rec := httptest.NewRecorder()
	ready.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down := NewMonitor(config.Default(), func(ctx context.Context) error {
		return errors.New("no broker")
	})
	rec = httptest.NewRecorder()
	down.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsMounted(t *testing.T) {
	m := NewMonitor(config.Default(), nil)

	rec := httptest.NewRecorder()
	m.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRunTouchesHealthFile(t *testing.T) {
	cfg := config.Default()
	cfg.HealthCheckFile = filepath.Join(t.TempDir(), "alive")
	cfg.HealthCheckInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewMonitor(cfg, nil).Run(ctx)
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.HealthCheckFile)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	before, err := os.Stat(cfg.HealthCheckFile)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		after, err := os.Stat(cfg.HealthCheckFile)
		return err == nil && after.ModTime().After(before.ModTime())
	}, time.Second, 5*time.Millisecond, "file must be re-touched on the interval")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
