// Package message holds the wire-level value objects: the Request
// describing one publication and the Response returned by consumers.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/warren-mq/warren/internal/urlx"
)

// Method is the REST verb encoded in the message headers.
type Method string

const (
	GET    Method = "GET"
	POST   Method = "POST"
	PUT    Method = "PUT"
	PATCH  Method = "PATCH"
	DELETE Method = "DELETE"
)

// ExchangeType names the AMQP exchange kinds.
type ExchangeType string

const (
	Direct  ExchangeType = "direct"
	Topic   ExchangeType = "topic"
	Fanout  ExchangeType = "fanout"
	Headers ExchangeType = "headers"
)

// DirectReplyQueue is the broker pseudo-queue used for RPC replies.
const DirectReplyQueue = "amq.rabbitmq.reply-to"

// ContentTypeJSON is the default content type for request bodies.
const ContentTypeJSON = "application/json"

// Request describes a single publication: body, virtual URL, exchange
// parameters and AMQP properties. It is a passive value bag; middlewares
// and callers mutate it freely before it is published.
type Request struct {
	Path   string
	Method Method

	// Body is serialized as JSON unless it is a string or []byte,
	// which pass through raw.
	Body any

	// Params, when set, are appended to the path as a bracket-nested
	// query string on the wire.
	Params map[string]any

	Exchange        string
	ExchangeType    ExchangeType
	RoutingKey      string
	ExchangeOptions *ExchangeOptions
	QueueOptions    *QueueOptions

	// Timeout bounds an RPC call; zero falls back to the configured
	// default. Ignored by fire-and-forget publishes.
	Timeout time.Duration

	Headers         map[string]string
	CorrelationID   string
	ReplyTo         string
	ContentType     string
	ContentEncoding string
	Persistent      bool
	Timestamp       time.Time
	Priority        uint8
	Expiration      string
	AppID           string
	MessageID       string
}

// ExchangeOptions carry declare-time flags for an exchange. A nil value
// means "use the configured defaults".
type ExchangeOptions struct {
	Durable    bool
	AutoDelete bool
	Internal   bool
	NoWait     bool
	Args       amqp.Table
}

// QueueOptions carry declare-time flags for a queue. A nil value means
// "use the configured defaults".
type QueueOptions struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	NoWait     bool
	Args       amqp.Table
}

// NewRequest returns a Request with the documented defaults: GET,
// JSON content type, direct exchange, current timestamp.
func NewRequest(path string) *Request {
	return &Request{
		Path:         path,
		Method:       GET,
		ExchangeType: Direct,
		ContentType:  ContentTypeJSON,
		Timestamp:    time.Now(),
		Headers:      map[string]string{},
	}
}

// FinalRoutingKey is the routing key placed on the wire: the explicit
// key when present, the path otherwise.
func (r *Request) FinalRoutingKey() string {
	if r.RoutingKey != "" {
		return r.RoutingKey
	}
	return r.Path
}

// FinalType is the virtual URL placed in the AMQP type property:
// the path plus the encoded params, when any.
func (r *Request) FinalType() string {
	return urlx.Join(r.Path, r.Params)
}

// EncodedBody serializes the body for publication. Strings and byte
// slices pass through unchanged; anything else is JSON-encoded.
func (r *Request) EncodedBody() ([]byte, error) {
	switch b := r.Body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		out, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		return out, nil
	}
}

// Properties assembles the AMQP publishing properties. Unset fields
// stay at their zero value and are dropped by the wire encoder. The
// REST method travels in the headers table.
func (r *Request) Properties() amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range r.Headers {
		headers[k] = v
	}
	method := r.Method
	if method == "" {
		method = GET
	}
	headers["method"] = string(method)

	pub := amqp.Publishing{
		Headers:         headers,
		Type:            r.FinalType(),
		ContentType:     r.ContentType,
		ContentEncoding: r.ContentEncoding,
		CorrelationId:   r.CorrelationID,
		ReplyTo:         r.ReplyTo,
		Timestamp:       r.Timestamp,
		Priority:        r.Priority,
		Expiration:      r.Expiration,
		AppId:           r.AppID,
		MessageId:       r.MessageID,
	}
	if r.Persistent {
		pub.DeliveryMode = amqp.Persistent
	}
	return pub
}
