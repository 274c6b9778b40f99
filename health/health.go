// Package health exposes liveness for supervisors: a periodically
// touched file for file-based probes and a small HTTP endpoint for
// orchestrators, with the metrics scrape mounted alongside.
package health

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/warren-mq/warren/config"
	"github.com/warren-mq/warren/logger"
	"github.com/warren-mq/warren/metrics"
)

// Probe reports readiness, typically by checking out a broker
// connection. A nil probe means always ready.
type Probe func(ctx context.Context) error

// Monitor keeps the health surfaces alive until its context ends.
type Monitor struct {
	cfg   *config.Config
	probe Probe
	log   zerolog.Logger
}

// NewMonitor builds a Monitor. The probe backs /readyz.
func NewMonitor(cfg *config.Config, probe Probe) *Monitor {
	return &Monitor{
		cfg:   cfg,
		probe: probe,
		log:   logger.Component("health"),
	}
}

// Run touches the health file on the configured interval and serves
// the HTTP endpoint when an address is configured. It blocks until ctx
// is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	srv := m.startHTTP()

	if m.cfg.HealthCheckFile != "" && m.cfg.HealthCheckInterval > 0 {
		m.touch()
		ticker := time.NewTicker(m.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return m.stop(srv)
			case <-ticker.C:
				m.touch()
			}
		}
	}

	<-ctx.Done()
	return m.stop(srv)
}

// touch updates the health file mtime, creating it if needed.
func (m *Monitor) touch() {
	now := time.Now()
	if err := os.Chtimes(m.cfg.HealthCheckFile, now, now); err == nil {
		return
	}
	if err := os.WriteFile(m.cfg.HealthCheckFile, []byte(now.Format(time.RFC3339)+"\n"), 0o644); err != nil {
		m.log.Error().Err(err).Str("file", m.cfg.HealthCheckFile).Msg("touch health file")
	}
}

// Router builds the HTTP surface: /healthz, /readyz and /metrics.
func (m *Monitor) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if m.probe != nil {
			if err := m.probe(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("broker not ready"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())
	return r
}

func (m *Monitor) startHTTP() *http.Server {
	if m.cfg.HealthHTTPAddr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:    m.cfg.HealthHTTPAddr,
		Handler: m.Router(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Error().Err(err).Str("addr", srv.Addr).Msg("health server failed")
		}
	}()
	m.log.Info().Str("addr", srv.Addr).Msg("health server started")
	return srv
}

func (m *Monitor) stop(srv *http.Server) error {
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
