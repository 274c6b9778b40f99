// Package session manages the broker connection pool and the per
// checkout channel lifecycle.
package session

import (
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/warren-mq/warren/config"
	werrors "github.com/warren-mq/warren/errors"
	"github.com/warren-mq/warren/logger"
	"github.com/warren-mq/warren/message"
)

// Session owns one channel bound to a pooled connection. The channel is
// opened lazily and reopened on demand; a channel handed to callers is
// always live or freshly opened.
type Session struct {
	cfg    *config.Config
	redial func() (*amqp.Connection, error)
	log    zerolog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	ownConn bool
	closed  bool
}

// New wraps a checked-out connection. The optional redial function is
// used to restart a connection found closed; without one, a dead
// connection surfaces as a CommunicationError.
func New(conn *amqp.Connection, cfg *config.Config, redial func() (*amqp.Connection, error)) *Session {
	return &Session{
		cfg:    cfg,
		conn:   conn,
		redial: redial,
		log:    logger.Component("session"),
	}
}

// Channel returns a live channel, opening one if needed. Fresh channels
// are put in confirm mode and given the configured prefetch.
func (s *Session) Channel() (*amqp.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, werrors.Communication("session is closed", nil)
	}
	if s.ch != nil && !s.ch.IsClosed() {
		return s.ch, nil
	}

	if s.conn == nil || s.conn.IsClosed() {
		if s.redial == nil {
			return nil, werrors.Communication("broker connection is closed", nil)
		}
		conn, err := s.redial()
		if err != nil {
			return nil, werrors.Communication("restart broker connection", err)
		}
		s.log.Warn().Msg("broker connection restarted")
		s.conn = conn
		s.ownConn = true
	}

	ch, err := s.conn.Channel()
	if err != nil {
		return nil, werrors.Communication("open channel", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, werrors.Communication("enable publisher confirms", err)
	}
	if prefetch := s.cfg.ChannelPrefetch; prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, werrors.Communication("set channel prefetch", err)
		}
	}
	s.ch = ch
	return ch, nil
}

// Exchange declares an exchange with the default options merged with
// opts and returns its name. The empty name is the default exchange and
// needs no declaration.
func (s *Session) Exchange(name string, kind message.ExchangeType, opts *message.ExchangeOptions) (string, error) {
	if name == "" {
		return "", nil
	}
	ch, err := s.Channel()
	if err != nil {
		return "", err
	}
	if kind == "" {
		kind = message.Direct
	}
	merged := MergeExchangeOptions(s.cfg.ExchangeOptions, opts)
	err = ch.ExchangeDeclare(
		name,
		string(kind),
		merged.Durable,
		merged.AutoDelete,
		merged.Internal,
		merged.NoWait,
		merged.Args,
	)
	if err != nil {
		return "", werrors.Communication("declare exchange "+name, err)
	}
	return name, nil
}

// Queue declares a queue with the default options merged with opts.
// An empty name yields a broker-generated one.
func (s *Session) Queue(name string, opts *message.QueueOptions) (amqp.Queue, error) {
	ch, err := s.Channel()
	if err != nil {
		return amqp.Queue{}, err
	}
	merged := MergeQueueOptions(s.cfg.QueueOptions, opts)
	q, err := ch.QueueDeclare(
		name,
		merged.Durable,
		merged.AutoDelete,
		merged.Exclusive,
		merged.NoWait,
		merged.Args,
	)
	if err != nil {
		return amqp.Queue{}, werrors.Communication("declare queue "+name, err)
	}
	return q, nil
}

// QueuePassive verifies a queue still exists on the broker. Used as a
// liveness probe by subscribed consumers.
func (s *Session) QueuePassive(name string) error {
	ch, err := s.Channel()
	if err != nil {
		return err
	}
	if _, err := ch.QueueDeclarePassive(name, true, false, false, false, nil); err != nil {
		return werrors.Communication("passive declare queue "+name, err)
	}
	return nil
}

// Bind routes messages matching key from exchange into queue.
func (s *Session) Bind(queue, key, exchange string) error {
	ch, err := s.Channel()
	if err != nil {
		return err
	}
	if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
		return werrors.Communication("bind queue "+queue, err)
	}
	return nil
}

// Replaced reports whether the session had to restart its connection,
// meaning the originally checked-out one is dead.
func (s *Session) Replaced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownConn
}

// Close closes the channel, and the connection too when the session
// owns it after a restart. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.ch != nil && !s.ch.IsClosed() {
		_ = s.ch.Close()
	}
	s.ch = nil
	if s.ownConn && s.conn != nil && !s.conn.IsClosed() {
		_ = s.conn.Close()
	}
	return nil
}

// MergeExchangeOptions overlays call-level exchange options on the
// configured defaults. Flags come from the override when present; args
// tables are merged key by key.
func MergeExchangeOptions(defaults message.ExchangeOptions, opts *message.ExchangeOptions) message.ExchangeOptions {
	if opts == nil {
		return defaults
	}
	merged := *opts
	merged.Args = mergeTables(defaults.Args, opts.Args)
	return merged
}

// MergeQueueOptions overlays call-level queue options on the configured
// defaults.
func MergeQueueOptions(defaults message.QueueOptions, opts *message.QueueOptions) message.QueueOptions {
	if opts == nil {
		return defaults
	}
	merged := *opts
	merged.Args = mergeTables(defaults.Args, opts.Args)
	return merged
}

func mergeTables(base, over amqp.Table) amqp.Table {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	out := amqp.Table{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}
