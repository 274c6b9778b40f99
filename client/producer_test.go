package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warren-mq/warren/config"
	werrors "github.com/warren-mq/warren/errors"
	"github.com/warren-mq/warren/message"
)

type published struct {
	exchange   string
	routingKey string
	pub        amqp.Publishing
}

// fakeWire is an in-memory broker: published messages are recorded and
// onPublish, when set, generates the reply deliveries.
type fakeWire struct {
	mu         sync.Mutex
	log        []published
	deliveries chan amqp.Delivery
	onPublish  func(pub amqp.Publishing)
	publishErr error
	consumeErr error
}

func newFakeWire() *fakeWire {
	return &fakeWire{deliveries: make(chan amqp.Delivery, 16)}
}

func (w *fakeWire) DeclareExchange(name string, kind message.ExchangeType, opts *message.ExchangeOptions) (string, error) {
	return name, nil
}

func (w *fakeWire) Publish(ctx context.Context, exchange, routingKey string, pub amqp.Publishing) error {
	if w.publishErr != nil {
		return w.publishErr
	}
	w.mu.Lock()
	w.log = append(w.log, published{exchange: exchange, routingKey: routingKey, pub: pub})
	w.mu.Unlock()
	if w.onPublish != nil {
		w.onPublish(pub)
	}
	return nil
}

func (w *fakeWire) Consume(queue string, autoAck bool) (<-chan amqp.Delivery, error) {
	if w.consumeErr != nil {
		return nil, w.consumeErr
	}
	return w.deliveries, nil
}

func (w *fakeWire) lastPublished(t *testing.T) published {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	require.NotEmpty(t, w.log)
	return w.log[len(w.log)-1]
}

// reply completes a request with a canned structured response.
func (w *fakeWire) reply(correlationID string, resp message.Response) {
	body, _ := json.Marshal(resp)
	w.deliveries <- amqp.Delivery{CorrelationId: correlationID, Body: body}
}

func pendingCount(p *Producer) int {
	n := 0
	p.pending.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func TestFirePublishesWireContract(t *testing.T) {
	w := newFakeWire()
	p := newProducer(w, config.Default())

	req := message.NewRequest("users/42")
	req.Method = message.DELETE
	req.Exchange = "city"
	req.ExchangeType = message.Topic
	req.RoutingKey = "users.destroy"

	require.NoError(t, p.Fire(context.Background(), req))

	got := w.lastPublished(t)
	assert.Equal(t, "city", got.exchange)
	assert.Equal(t, "users.destroy", got.routingKey)
	assert.Equal(t, "users/42", got.pub.Type)
	assert.Equal(t, "DELETE", got.pub.Headers["method"])
	assert.Equal(t, message.ContentTypeJSON, got.pub.ContentType)
}

func TestRPCSuccess(t *testing.T) {
	w := newFakeWire()
	p := newProducer(w, config.Default())
	w.onPublish = func(pub amqp.Publishing) {
		w.reply(pub.CorrelationId, message.Response{
			Status: 200,
			Body:   map[string]any{"message": "Pong!"},
		})
	}

	resp, err := p.RPC(context.Background(), message.NewRequest("test_user/ping"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "Pong!", resp.BodyMap()["message"])

	assert.Zero(t, pendingCount(p), "pending table must be empty after success")
}

func TestRPCSetsReplyToAndCorrelation(t *testing.T) {
	w := newFakeWire()
	p := newProducer(w, config.Default())
	w.onPublish = func(pub amqp.Publishing) {
		w.reply(pub.CorrelationId, message.Response{Status: 204})
	}

	_, err := p.RPC(context.Background(), message.NewRequest("users"))
	require.NoError(t, err)

	got := w.lastPublished(t)
	assert.Equal(t, message.DirectReplyQueue, got.pub.ReplyTo)
	assert.NotEmpty(t, got.pub.CorrelationId)
}

func TestRPCTimeout(t *testing.T) {
	w := newFakeWire()
	p := newProducer(w, config.Default())

	req := message.NewRequest("nowhere/x")
	req.Timeout = 20 * time.Millisecond

	start := time.Now()
	_, err := p.RPC(context.Background(), req)
	elapsed := time.Since(start)

	var pe *werrors.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, werrors.KindRequestTimeout, pe.Kind)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)

	assert.Zero(t, pendingCount(p), "pending table must be empty after timeout")
}

func TestRPCPublishErrorCleansPending(t *testing.T) {
	w := newFakeWire()
	w.publishErr = werrors.Communication("publish", errors.New("channel closed"))
	p := newProducer(w, config.Default())

	_, err := p.RPC(context.Background(), message.NewRequest("users"))
	require.Error(t, err)
	assert.Zero(t, pendingCount(p))
}

func TestRPCDuplicateReplyCompletesOnce(t *testing.T) {
	w := newFakeWire()
	p := newProducer(w, config.Default())
	w.onPublish = func(pub amqp.Publishing) {
		w.reply(pub.CorrelationId, message.Response{Status: 200, Body: map[string]any{"n": 1}})
		// late duplicate with the same correlation id
		w.reply(pub.CorrelationId, message.Response{Status: 200, Body: map[string]any{"n": 2}})
	}

	resp, err := p.RPC(context.Background(), message.NewRequest("users/1"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, resp.BodyMap()["n"])

	// second RPC still works; the duplicate was dropped, not misrouted
	w.onPublish = func(pub amqp.Publishing) {
		w.reply(pub.CorrelationId, message.Response{Status: 200, Body: map[string]any{"n": 3}})
	}
	resp, err = p.RPC(context.Background(), message.NewRequest("users/2"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, resp.BodyMap()["n"])
	assert.Zero(t, pendingCount(p))
}

func TestConcurrentRPCsNoCrossTalk(t *testing.T) {
	w := newFakeWire()
	p := newProducer(w, config.Default())
	w.onPublish = func(pub amqp.Publishing) {
		// echo the request path back so callers can verify pairing
		w.reply(pub.CorrelationId, message.Response{
			Status: 200,
			Body:   map[string]any{"echo": pub.Type},
		})
	}

	const n = 25
	var wg sync.WaitGroup
	errs := make([]error, n)
	bodies := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := p.RPC(context.Background(), message.NewRequest(fmt.Sprintf("users/%d", i)))
			errs[i] = err
			if err == nil {
				bodies[i], _ = resp.BodyMap()["echo"].(string)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("users/%d", i), bodies[i])
	}
	assert.Zero(t, pendingCount(p))
}

func TestReplyListenerStartsOnce(t *testing.T) {
	w := newFakeWire()
	p := newProducer(w, config.Default())

	require.NoError(t, p.ensureReplyListener())
	require.NoError(t, p.ensureReplyListener())

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.True(t, p.listenerStarted)
}

func TestRPCConsumeFailureSurfaces(t *testing.T) {
	w := newFakeWire()
	w.consumeErr = werrors.Communication("consume", errors.New("connection refused"))
	p := newProducer(w, config.Default())

	_, err := p.RPC(context.Background(), message.NewRequest("users"))
	var comm *werrors.CommunicationError
	require.ErrorAs(t, err, &comm)
}
