// Package resource layers record-style persistence over the RPC
// client: schemas describe remote resources, records carry their
// attributes with dirty tracking and validation errors.
package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/warren-mq/warren/client"
	werrors "github.com/warren-mq/warren/errors"
	"github.com/warren-mq/warren/internal/urlx"
	"github.com/warren-mq/warren/logger"
	"github.com/warren-mq/warren/message"
)

// Requester is the slice of the client the resource layer calls
// through. *client.Client satisfies it; tests substitute a fake.
type Requester interface {
	Request(ctx context.Context, path string, opts ...client.RequestOption) (*message.Response, error)
}

// Validation inspects a record before save and reports problems
// through AddError. A record with errors is not sent to the wire.
type Validation func(*Record)

// Callback observes a record around save and destroy.
type Callback func(*Record)

// Schema describes one remote resource: its naming, routing and the
// client it talks through. Unset fields resolve up the parent chain,
// so a base schema can hold the exchange and client for a family of
// resources.
type Schema struct {
	name   string
	parent *Schema

	client       Requester
	exchange     string
	exchangeType message.ExchangeType
	resourceName string
	routingKey   string
	paramKey     string

	validations    []Validation
	beforeSave     []Callback
	afterSave      []Callback
	beforeDestroy  []Callback
	afterDestroy   []Callback

	log zerolog.Logger
}

// SchemaOption configures a Schema.
type SchemaOption func(*Schema)

// WithParent chains configuration lookup to a base schema.
func WithParent(parent *Schema) SchemaOption {
	return func(s *Schema) { s.parent = parent }
}

// WithClient sets the client the schema requests through.
func WithClient(c Requester) SchemaOption {
	return func(s *Schema) { s.client = c }
}

// WithExchange routes the schema's requests through an exchange.
func WithExchange(name string, kind message.ExchangeType) SchemaOption {
	return func(s *Schema) {
		s.exchange = name
		s.exchangeType = kind
	}
}

// WithResourceName overrides the derived path segment ("users").
func WithResourceName(name string) SchemaOption {
	return func(s *Schema) { s.resourceName = name }
}

// WithRoutingKey overrides the derived routing key.
func WithRoutingKey(key string) SchemaOption {
	return func(s *Schema) { s.routingKey = key }
}

// WithParamKey overrides the body wrapper key ("user").
func WithParamKey(key string) SchemaOption {
	return func(s *Schema) { s.paramKey = key }
}

// WithValidation registers a pre-save validation.
func WithValidation(v Validation) SchemaOption {
	return func(s *Schema) { s.validations = append(s.validations, v) }
}

// BeforeSave registers a callback run before each save attempt.
func BeforeSave(cb Callback) SchemaOption {
	return func(s *Schema) { s.beforeSave = append(s.beforeSave, cb) }
}

// AfterSave registers a callback run after a successful save.
func AfterSave(cb Callback) SchemaOption {
	return func(s *Schema) { s.afterSave = append(s.afterSave, cb) }
}

// BeforeDestroy registers a callback run before each destroy attempt.
func BeforeDestroy(cb Callback) SchemaOption {
	return func(s *Schema) { s.beforeDestroy = append(s.beforeDestroy, cb) }
}

// AfterDestroy registers a callback run after a successful destroy.
func AfterDestroy(cb Callback) SchemaOption {
	return func(s *Schema) { s.afterDestroy = append(s.afterDestroy, cb) }
}

// NewSchema declares a resource by its terminal name, e.g. "User".
func NewSchema(name string, opts ...SchemaOption) *Schema {
	s := &Schema{
		name: name,
		log:  logger.Component("resource"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the schema's terminal name.
func (s *Schema) Name() string { return s.name }

// Overrides are scoped configuration for With: zero fields inherit.
type Overrides struct {
	Exchange     string
	ExchangeType message.ExchangeType
	RoutingKey   string
	Client       Requester
}

// With returns a scoped copy of the schema carrying the overrides.
// The copy is independent: records built from it capture its routing
// at construction, so they keep it even when used after the caller has
// moved on to the unscoped schema.
func (s *Schema) With(o Overrides) *Schema {
	clone := *s
	if o.Exchange != "" {
		clone.exchange = o.Exchange
	}
	if o.ExchangeType != "" {
		clone.exchangeType = o.ExchangeType
	}
	if o.RoutingKey != "" {
		clone.routingKey = o.RoutingKey
	}
	if o.Client != nil {
		clone.client = o.Client
	}
	return &clone
}

// Client resolves the requester up the parent chain.
func (s *Schema) Client() Requester {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.client != nil {
			return cur.client
		}
	}
	return nil
}

// Exchange resolves the exchange name up the parent chain.
func (s *Schema) Exchange() string {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.exchange != "" {
			return cur.exchange
		}
	}
	return ""
}

// ExchangeType resolves the exchange type up the parent chain.
func (s *Schema) ExchangeType() message.ExchangeType {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.exchangeType != "" {
			return cur.exchangeType
		}
	}
	return message.Direct
}

// ResourceName is the path segment: configured, or the pluralized
// underscored terminal name ("User" -> "users").
func (s *Schema) ResourceName() string {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.resourceName != "" {
			return cur.resourceName
		}
	}
	return urlx.Pluralize(urlx.Underscore(s.name))
}

// RoutingKey is the configured key, falling back to the resource name.
func (s *Schema) RoutingKey() string {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.routingKey != "" {
			return cur.routingKey
		}
	}
	return s.ResourceName()
}

// ParamKey wraps save bodies: configured, or the underscored terminal
// name ("User" -> "user").
func (s *Schema) ParamKey() string {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.paramKey != "" {
			return cur.paramKey
		}
	}
	return urlx.Underscore(s.name)
}

// check verifies the schema can build outgoing requests.
func (s *Schema) check() error {
	if s.Exchange() == "" {
		return fmt.Errorf("resource %s: no exchange configured", s.name)
	}
	if s.Client() == nil {
		return fmt.Errorf("resource %s: no client configured", s.name)
	}
	return nil
}

// requestOptions are the common routing options for one call.
func (s *Schema) requestOptions(extra ...client.RequestOption) []client.RequestOption {
	opts := []client.RequestOption{
		client.WithExchange(s.Exchange(), s.ExchangeType()),
		client.WithRoutingKey(s.RoutingKey()),
	}
	return append(opts, extra...)
}

// Find fetches one record by id. A 404 returns (nil, nil).
func (s *Schema) Find(ctx context.Context, id any) (*Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("%s/%v", s.ResourceName(), id)
	resp, err := s.Client().Request(ctx, path, s.requestOptions()...)
	if err != nil {
		var pe *werrors.ProtocolError
		if errors.As(err, &pe) && pe.Kind == werrors.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	attrs := resp.BodyMap()
	if attrs == nil {
		return nil, fmt.Errorf("resource %s: find %v: body is not a mapping", s.name, id)
	}
	return s.hydrate(attrs), nil
}

// Where fetches the records matching the nested filters.
func (s *Schema) Where(ctx context.Context, filters map[string]any) ([]*Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	opts := s.requestOptions()
	if len(filters) > 0 {
		opts = append(opts, client.WithParams(filters))
	}
	resp, err := s.Client().Request(ctx, s.ResourceName(), opts...)
	if err != nil {
		return nil, err
	}
	items, ok := resp.Body.([]any)
	if !ok {
		return nil, fmt.Errorf("resource %s: where: body is not a sequence", s.name)
	}
	records := make([]*Record, 0, len(items))
	for _, item := range items {
		attrs, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("resource %s: where: element is not a mapping", s.name)
		}
		records = append(records, s.hydrate(attrs))
	}
	return records, nil
}

// All fetches every record.
func (s *Schema) All(ctx context.Context) ([]*Record, error) {
	return s.Where(ctx, nil)
}

// Create builds and saves a record in one step. The record comes back
// regardless of the save outcome; inspect Persisted and Errors. The
// error is non-nil only for hard failures (transport, non-422 4xx/5xx).
func (s *Schema) Create(ctx context.Context, attrs map[string]any) (*Record, error) {
	r := s.New(attrs)
	_, err := r.Save(ctx)
	return r, err
}
