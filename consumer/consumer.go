// Package consumer implements the server side: it subscribes a queue,
// routes each delivery through its virtual URL to a registered
// controller and replies to the caller's reply queue.
package consumer

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/warren-mq/warren/config"
	"github.com/warren-mq/warren/controller"
	werrors "github.com/warren-mq/warren/errors"
	"github.com/warren-mq/warren/logger"
	"github.com/warren-mq/warren/message"
	"github.com/warren-mq/warren/metrics"
	"github.com/warren-mq/warren/session"
)

// wire is the slice of channel operations the consumer needs; tests
// substitute an in-memory fake.
type wire interface {
	DeclareExchange(name string, kind message.ExchangeType, opts *message.ExchangeOptions) (string, error)
	DeclareQueue(name string, opts *message.QueueOptions) (string, error)
	Bind(queue, key, exchange string) error
	Consume(queue string, autoAck bool) (<-chan amqp.Delivery, error)
	Publish(ctx context.Context, exchange, routingKey string, pub amqp.Publishing) error
	QueuePassive(name string) error
}

type sessionWire struct {
	sess *session.Session
}

func (w sessionWire) DeclareExchange(name string, kind message.ExchangeType, opts *message.ExchangeOptions) (string, error) {
	return w.sess.Exchange(name, kind, opts)
}

func (w sessionWire) DeclareQueue(name string, opts *message.QueueOptions) (string, error) {
	q, err := w.sess.Queue(name, opts)
	if err != nil {
		return "", err
	}
	return q.Name, nil
}

func (w sessionWire) Bind(queue, key, exchange string) error {
	return w.sess.Bind(queue, key, exchange)
}

func (w sessionWire) Consume(queue string, autoAck bool) (<-chan amqp.Delivery, error) {
	ch, err := w.sess.Channel()
	if err != nil {
		return nil, err
	}
	deliveries, err := ch.Consume(queue, "", autoAck, false, false, false, nil)
	if err != nil {
		return nil, werrors.Communication("consume "+queue, err)
	}
	return deliveries, nil
}

func (w sessionWire) Publish(ctx context.Context, exchange, routingKey string, pub amqp.Publishing) error {
	ch, err := w.sess.Channel()
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, pub); err != nil {
		return werrors.Communication("publish reply", err)
	}
	return nil
}

func (w sessionWire) QueuePassive(name string) error {
	return w.sess.QueuePassive(name)
}

// SubscribeOptions describe the topology one subscription establishes.
type SubscribeOptions struct {
	// Exchange to consume through. Empty means the default exchange,
	// in which case the queue name alone routes.
	Exchange     string
	ExchangeType message.ExchangeType

	// Queue to consume from. Empty yields a broker-generated name.
	Queue string

	// RoutingKey binds the queue to the exchange. Defaults to the
	// queue name.
	RoutingKey string

	ExchangeOptions *message.ExchangeOptions
	QueueOptions    *message.QueueOptions
}

// Consumer subscribes queues and dispatches deliveries to controllers.
// Each delivery is acknowledged exactly once: ack after a reply is
// produced, reject without requeue on anything unroutable or failed.
type Consumer struct {
	cfg      *config.Config
	registry *controller.Registry
	w        wire
	log      zerolog.Logger
}

// New builds a Consumer over a session and a controller registry.
func New(sess *session.Session, registry *controller.Registry, cfg *config.Config) *Consumer {
	return newConsumer(sessionWire{sess: sess}, registry, cfg)
}

func newConsumer(w wire, registry *controller.Registry, cfg *config.Config) *Consumer {
	return &Consumer{
		cfg:      cfg,
		registry: registry,
		w:        w,
		log:      logger.Component("consumer"),
	}
}

// Subscribe declares the topology and consumes until ctx is cancelled
// or the broker breaks the subscription. Cancellation is a clean stop;
// in-flight deliveries finish before return.
func (c *Consumer) Subscribe(ctx context.Context, opts SubscribeOptions) error {
	exchange, err := c.w.DeclareExchange(opts.Exchange, opts.ExchangeType, opts.ExchangeOptions)
	if err != nil {
		return err
	}
	queue, err := c.w.DeclareQueue(opts.Queue, opts.QueueOptions)
	if err != nil {
		return err
	}
	if exchange != "" {
		key := opts.RoutingKey
		if key == "" {
			key = queue
		}
		if err := c.w.Bind(queue, key, exchange); err != nil {
			return err
		}
	}

	deliveries, err := c.w.Consume(queue, false)
	if err != nil {
		return err
	}

	c.log.Info().
		Str("queue", queue).
		Str("exchange", exchange).
		Msg("subscribed")

	var probe <-chan time.Time
	if c.cfg.HealthCheckInterval > 0 {
		ticker := time.NewTicker(c.cfg.HealthCheckInterval)
		defer ticker.Stop()
		probe = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Str("queue", queue).Msg("subscription stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return werrors.Communication("deliveries channel closed for "+queue, nil)
			}
			c.handle(ctx, &d)
		case <-probe:
			if err := c.w.QueuePassive(queue); err != nil {
				return err
			}
		}
	}
}

// handle dispatches one delivery and settles it exactly once.
func (c *Consumer) handle(ctx context.Context, d *amqp.Delivery) {
	headers, err := route(d)
	if err != nil {
		c.log.Warn().Err(err).Str("type", d.Type).Msg("unroutable delivery")
		c.reject(d)
		return
	}

	log := c.log.With().
		Str("controller", c.registry.Qualify(headers.Controller)).
		Str("action", headers.Action).
		Str("correlation_id", headers.CorrelationID).
		Logger()

	def, ok := c.registry.Resolve(headers.Controller)
	if !ok {
		log.Warn().Msg("unknown controller")
		c.replyTo(ctx, d, &message.Response{
			Status:  501,
			Body:    map[string]any{"error": "not_implemented", "controller": c.registry.Qualify(headers.Controller)},
			Headers: map[string]string{},
		})
		c.reject(d)
		return
	}

	start := time.Now()
	resp := def.Call(headers, d.Body)
	metrics.RecordController(headers.Controller, headers.Action, resp.Status, time.Since(start))

	if !c.replyTo(ctx, d, resp) {
		c.reject(d)
		return
	}
	if resp.Status >= 500 {
		log.Error().Int("status", resp.Status).Msg("action failed")
		c.reject(d)
		return
	}

	if err := d.Ack(false); err != nil {
		log.Error().Err(err).Msg("ack failed")
		return
	}
	metrics.RecordDelivery("ack")
	log.Debug().Int("status", resp.Status).Msg("handled")
}

// replyTo publishes the structured response to the caller's reply
// queue over the default exchange. Fire-and-forget deliveries carry no
// reply address and are a no-op success.
func (c *Consumer) replyTo(ctx context.Context, d *amqp.Delivery, resp *message.Response) bool {
	if d.ReplyTo == "" {
		return true
	}
	body, err := json.Marshal(resp)
	if err != nil {
		c.log.Error().Err(err).Msg("encode reply")
		return false
	}
	pub := amqp.Publishing{
		ContentType:   message.ContentTypeJSON,
		CorrelationId: d.CorrelationId,
		Body:          body,
		Timestamp:     time.Now(),
	}
	if err := c.w.Publish(ctx, "", d.ReplyTo, pub); err != nil {
		c.log.Error().Err(err).Str("reply_to", d.ReplyTo).Msg("publish reply")
		return false
	}
	return true
}

// reject settles a delivery negatively, never requeueing: redelivery
// loops are worse than a lost message with a structured error reply.
func (c *Consumer) reject(d *amqp.Delivery) {
	if err := d.Reject(false); err != nil {
		c.log.Error().Err(err).Msg("reject failed")
		return
	}
	metrics.RecordDelivery("reject")
}
