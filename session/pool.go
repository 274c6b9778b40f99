package session

import (
	"context"

	"github.com/jackc/puddle/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/warren-mq/warren/config"
	werrors "github.com/warren-mq/warren/errors"
	"github.com/warren-mq/warren/logger"
)

// Pool is a bounded set of broker connections. Callers check one out
// for the duration of a With block; the wrapped Session is exclusive to
// that checkout.
type Pool struct {
	cfg   *config.Config
	inner *puddle.Pool[*amqp.Connection]
	log   zerolog.Logger
}

// NewPool builds a lazy connection pool sized by cfg.PoolSize.
// Connections are dialed on first acquire, not up front.
func NewPool(cfg *config.Config) (*Pool, error) {
	p := &Pool{
		cfg: cfg,
		log: logger.Component("pool"),
	}
	inner, err := puddle.NewPool(&puddle.Config[*amqp.Connection]{
		Constructor: func(ctx context.Context) (*amqp.Connection, error) {
			return p.dial()
		},
		Destructor: func(conn *amqp.Connection) {
			if !conn.IsClosed() {
				_ = conn.Close()
			}
		},
		MaxSize: int32(cfg.PoolSize),
	})
	if err != nil {
		return nil, err
	}
	p.inner = inner
	return p, nil
}

func (p *Pool) dial() (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(p.cfg.URL(), amqp.Config{
		Vhost:     p.cfg.Vhost,
		Heartbeat: p.cfg.Heartbeat,
		Dial:      amqp.DefaultDial(p.cfg.ConnectionTimeout),
	})
	if err != nil {
		return nil, werrors.Communication("rabbitmq dial", err)
	}
	return conn, nil
}

// With checks out a connection, hands a Session over it to fn and
// returns the connection to the pool afterwards. Connections found dead
// are discarded and replaced before fn runs; a connection the session
// had to restart mid-flight is discarded on the way back.
func (p *Pool) With(ctx context.Context, fn func(*Session) error) error {
	for {
		res, err := p.inner.Acquire(ctx)
		if err != nil {
			if _, ok := err.(*werrors.CommunicationError); ok {
				return err
			}
			return werrors.Communication("acquire connection", err)
		}
		if res.Value().IsClosed() {
			res.Destroy()
			continue
		}

		sess := New(res.Value(), p.cfg, p.dial)
		fnErr := fn(sess)
		_ = sess.Close()

		if sess.Replaced() {
			// the pooled connection died; the session used its own
			res.Destroy()
		} else {
			res.Release()
		}
		return fnErr
	}
}

// Ping checks out a connection and opens a channel on it, verifying
// the broker is reachable. Used as a readiness probe.
func (p *Pool) Ping(ctx context.Context) error {
	return p.With(ctx, func(sess *Session) error {
		_, err := sess.Channel()
		return err
	})
}

// Close tears down all pooled connections.
func (p *Pool) Close() {
	p.inner.Close()
}
