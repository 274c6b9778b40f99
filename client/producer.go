package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/warren-mq/warren/config"
	werrors "github.com/warren-mq/warren/errors"
	"github.com/warren-mq/warren/logger"
	"github.com/warren-mq/warren/message"
	"github.com/warren-mq/warren/metrics"
	"github.com/warren-mq/warren/session"
)

// Producer publishes requests over one session. Fire is plain publish;
// RPC publishes and blocks for the correlated reply. Many RPCs can be
// in flight at once: replies are demultiplexed by correlation id from a
// single consumer on the direct reply queue.
type Producer struct {
	wire wire
	cfg  *config.Config
	log  zerolog.Logger

	// pending maps correlation id -> chan []byte. Every inserted
	// entry is removed on success, timeout or error.
	pending sync.Map

	mu              sync.Mutex
	listenerStarted bool
}

// NewProducer binds a producer to a checked-out session.
func NewProducer(sess *session.Session, cfg *config.Config) *Producer {
	return newProducer(sessionWire{sess: sess}, cfg)
}

func newProducer(w wire, cfg *config.Config) *Producer {
	return &Producer{
		wire: w,
		cfg:  cfg,
		log:  logger.Component("producer"),
	}
}

// Fire publishes the request without waiting for a reply.
func (p *Producer) Fire(ctx context.Context, req *message.Request) error {
	exchange, err := p.wire.DeclareExchange(req.Exchange, req.ExchangeType, req.ExchangeOptions)
	if err != nil {
		return err
	}
	body, err := req.EncodedBody()
	if err != nil {
		return err
	}
	pub := req.Properties()
	pub.Body = body

	if err := p.wire.Publish(ctx, exchange, req.FinalRoutingKey(), pub); err != nil {
		return err
	}
	metrics.RecordPublish(exchange)
	p.log.Debug().
		Str("type", pub.Type).
		Str("routing_key", req.FinalRoutingKey()).
		Str("exchange", exchange).
		Msg("published")
	return nil
}

// RPC publishes the request and blocks until the correlated reply
// arrives or the timeout elapses. The reply bytes are decoded as a
// structured response.
func (p *Producer) RPC(ctx context.Context, req *message.Request) (*message.Response, error) {
	start := time.Now()

	if err := p.ensureReplyListener(); err != nil {
		return nil, err
	}

	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	req.ReplyTo = message.DirectReplyQueue

	replyCh := make(chan []byte, 1)
	p.pending.Store(req.CorrelationID, replyCh)
	defer p.pending.Delete(req.CorrelationID)

	if err := p.Fire(ctx, req); err != nil {
		metrics.RecordRPC("error", time.Since(start))
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = p.cfg.RPCTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case body := <-replyCh:
		resp, err := message.DecodeResponse(body)
		if err != nil {
			metrics.RecordRPC("error", time.Since(start))
			return nil, err
		}
		metrics.RecordRPC("ok", time.Since(start))
		return resp, nil
	case <-timer.C:
		metrics.RecordRPC("timeout", time.Since(start))
		p.log.Warn().
			Str("correlation_id", req.CorrelationID).
			Dur("timeout", timeout).
			Str("type", req.FinalType()).
			Msg("rpc timed out")
		return nil, werrors.NewRequestTimeout()
	case <-ctx.Done():
		metrics.RecordRPC("error", time.Since(start))
		return nil, ctx.Err()
	}
}

// ensureReplyListener starts, at most once per producer, the consumer
// on the direct reply pseudo-queue. Double-checked so concurrent RPCs
// race safely on first use.
func (p *Producer) ensureReplyListener() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listenerStarted {
		return nil
	}

	deliveries, err := p.wire.Consume(message.DirectReplyQueue, true)
	if err != nil {
		return err
	}
	p.listenerStarted = true
	go p.listen(deliveries)
	return nil
}

// listen completes pending futures by correlation id. An id with no
// pending entry (a late reply after timeout, or a duplicate) is logged
// and dropped; LoadAndDelete guarantees each future completes once.
func (p *Producer) listen(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		entry, ok := p.pending.LoadAndDelete(d.CorrelationId)
		if !ok {
			p.log.Warn().
				Str("correlation_id", d.CorrelationId).
				Msg("dropping reply with no pending request")
			continue
		}
		entry.(chan []byte) <- d.Body
	}
}
