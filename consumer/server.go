package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warren-mq/warren/config"
	"github.com/warren-mq/warren/controller"
	"github.com/warren-mq/warren/logger"
	"github.com/warren-mq/warren/session"
)

// Server runs one or more subscriptions over the connection pool,
// restarting each after a broken connection until ctx is cancelled.
type Server struct {
	pool     *session.Pool
	registry *controller.Registry
	cfg      *config.Config
	log      zerolog.Logger
}

// NewServer builds a Server over a pool and a controller registry.
func NewServer(pool *session.Pool, registry *controller.Registry, cfg *config.Config) *Server {
	return &Server{
		pool:     pool,
		registry: registry,
		cfg:      cfg,
		log:      logger.Component("server"),
	}
}

// Run blocks until ctx is cancelled, keeping every subscription alive.
// A subscription that fails waits the recovery interval and resumes on
// a fresh connection.
func (s *Server) Run(ctx context.Context, subs ...SubscribeOptions) error {
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(opts SubscribeOptions) {
			defer wg.Done()
			s.serve(ctx, opts)
		}(sub)
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Server) serve(ctx context.Context, opts SubscribeOptions) {
	for {
		err := s.pool.With(ctx, func(sess *session.Session) error {
			return New(sess, s.registry, s.cfg).Subscribe(ctx, opts)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.log.Error().Err(err).
				Str("queue", opts.Queue).
				Dur("retry_in", s.cfg.NetworkRecoveryInterval).
				Msg("subscription lost")
		}
		if !s.cfg.AutomaticallyRecover {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.NetworkRecoveryInterval):
		}
	}
}
