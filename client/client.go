package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/warren-mq/warren/config"
	"github.com/warren-mq/warren/logger"
	"github.com/warren-mq/warren/message"
	"github.com/warren-mq/warren/session"
)

// Client is the public producer facade. Each call checks a connection
// out of the pool, runs the middleware chain over a fresh session-bound
// producer and returns the connection when done.
type Client struct {
	pool        *session.Pool
	cfg         *config.Config
	middlewares []Middleware
	log         zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithMiddleware registers middlewares outside the built-in ones. The
// first registered is outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *Client) {
		c.middlewares = append(c.middlewares, mw...)
	}
}

// New builds a Client over a connection pool.
func New(pool *session.Pool, cfg *config.Config, opts ...Option) *Client {
	c := &Client{
		pool: pool,
		cfg:  cfg,
		log:  logger.Component("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// stack is the full onion: user middlewares wrap the two built-ins.
// RaiseError sits outside JSONResponse so it inspects decoded bodies.
func (c *Client) stack() []Middleware {
	out := make([]Middleware, 0, len(c.middlewares)+2)
	out = append(out, c.middlewares...)
	out = append(out, RaiseError(), JSONResponse())
	return out
}

// RequestOption mutates the outgoing request before it is published.
type RequestOption func(*message.Request)

// WithMethod sets the REST verb.
func WithMethod(m message.Method) RequestOption {
	return func(r *message.Request) { r.Method = m }
}

// WithBody sets the request body.
func WithBody(body any) RequestOption {
	return func(r *message.Request) { r.Body = body }
}

// WithExchange routes the request through the named exchange.
func WithExchange(name string, kind message.ExchangeType) RequestOption {
	return func(r *message.Request) {
		r.Exchange = name
		r.ExchangeType = kind
	}
}

// WithRoutingKey overrides the routing key; the default is the path.
func WithRoutingKey(key string) RequestOption {
	return func(r *message.Request) { r.RoutingKey = key }
}

// WithTimeout bounds an RPC call.
func WithTimeout(d time.Duration) RequestOption {
	return func(r *message.Request) { r.Timeout = d }
}

// WithHeaders merges headers into the request.
func WithHeaders(headers map[string]string) RequestOption {
	return func(r *message.Request) {
		for k, v := range headers {
			r.Headers[k] = v
		}
	}
}

// WithParams appends a bracket-nested query to the virtual URL.
func WithParams(params map[string]any) RequestOption {
	return func(r *message.Request) { r.Params = params }
}

// WithExchangeOptions overrides the declare-time exchange options.
func WithExchangeOptions(opts *message.ExchangeOptions) RequestOption {
	return func(r *message.Request) { r.ExchangeOptions = opts }
}

// WithQueueOptions overrides the declare-time queue options.
func WithQueueOptions(opts *message.QueueOptions) RequestOption {
	return func(r *message.Request) { r.QueueOptions = opts }
}

// Configure runs an arbitrary mutation on the request, for anything the
// named options do not cover.
func Configure(fn func(*message.Request)) RequestOption {
	return func(r *message.Request) { fn(r) }
}

func buildRequest(path string, opts []RequestOption) *message.Request {
	req := message.NewRequest(path)
	for _, opt := range opts {
		opt(req)
	}
	return req
}

// Request performs a synchronous RPC and returns the structured
// response, or an error from the taxonomy.
func (c *Client) Request(ctx context.Context, path string, opts ...RequestOption) (*message.Response, error) {
	req := buildRequest(path, opts)

	var resp *message.Response
	err := c.pool.With(ctx, func(sess *session.Session) error {
		producer := NewProducer(sess, c.cfg)
		h := Chain(producer.RPC, c.stack()...)
		r, err := h(ctx, req)
		resp = r
		return err
	})
	return resp, err
}

// Publish fires the request without waiting for a reply. It returns
// once the publish is accepted.
func (c *Client) Publish(ctx context.Context, path string, opts ...RequestOption) error {
	req := buildRequest(path, opts)

	return c.pool.With(ctx, func(sess *session.Session) error {
		producer := NewProducer(sess, c.cfg)
		fire := func(ctx context.Context, req *message.Request) (*message.Response, error) {
			return nil, producer.Fire(ctx, req)
		}
		h := Chain(fire, c.stack()...)
		_, err := h(ctx, req)
		return err
	})
}
