// Package client implements the producer side: fire-and-forget and RPC
// publication through a middleware onion, multiplexing concurrent RPCs
// over one channel via the broker's direct reply queue.
package client

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	werrors "github.com/warren-mq/warren/errors"
	"github.com/warren-mq/warren/message"
	"github.com/warren-mq/warren/session"
)

// wire is the slice of channel operations the producer needs. The
// session-backed implementation is the production one; tests substitute
// an in-memory fake.
type wire interface {
	DeclareExchange(name string, kind message.ExchangeType, opts *message.ExchangeOptions) (string, error)
	Publish(ctx context.Context, exchange, routingKey string, pub amqp.Publishing) error
	Consume(queue string, autoAck bool) (<-chan amqp.Delivery, error)
}

type sessionWire struct {
	sess *session.Session
}

func (w sessionWire) DeclareExchange(name string, kind message.ExchangeType, opts *message.ExchangeOptions) (string, error) {
	return w.sess.Exchange(name, kind, opts)
}

func (w sessionWire) Publish(ctx context.Context, exchange, routingKey string, pub amqp.Publishing) error {
	ch, err := w.sess.Channel()
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, pub); err != nil {
		return werrors.Communication("publish", err)
	}
	return nil
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
