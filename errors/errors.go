// Package errors defines the error taxonomy surfaced by the producer
// side: communication failures on one axis, protocol (status-mapped)
// failures on the other.
package errors

import (
	"fmt"
)

// Kind identifies a protocol error family member.
type Kind string

const (
	KindBadRequest          Kind = "bad_request"
	KindNotFound            Kind = "not_found"
	KindNotAcceptable       Kind = "not_acceptable"
	KindRequestTimeout      Kind = "request_timeout"
	KindUnprocessableEntity Kind = "unprocessable_entity"
	KindClientError         Kind = "client_error"
	KindInternalServerError Kind = "internal_server_error"
	KindServerError         Kind = "server_error"
)

// CommunicationError reports broker connection or socket level issues.
type CommunicationError struct {
	Message string
	Err     error
}

func (e *CommunicationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// Communication wraps a transport failure.
func Communication(message string, err error) *CommunicationError {
	return &CommunicationError{Message: message, Err: err}
}

// ProtocolError is a response whose status falls outside the 2xx range,
// mapped onto the taxonomy. UnprocessableEntity additionally carries the
// raw body and a best-effort parse of the remote validation errors.
type ProtocolError struct {
	Kind   Kind
	Status int

	// Body is the response body as received, when available.
	Body any

	// ValidationErrors holds the parsed errors map of a 422 response,
	// keyed by attribute name.
	ValidationErrors map[string][]string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: status %d", e.Kind, e.Status)
}

// IsClient reports whether the error belongs to the client family.
func (e *ProtocolError) IsClient() bool {
	return e.Status >= 400 && e.Status < 500
}

// IsServer reports whether the error belongs to the server family.
func (e *ProtocolError) IsServer() bool {
	return e.Status >= 500
}

// NewRequestTimeout is the error surfaced when an RPC does not complete
// before its deadline.
func NewRequestTimeout() *ProtocolError {
	return &ProtocolError{Kind: KindRequestTimeout, Status: 408}
}

// FromStatus maps a response status to the taxonomy. Statuses in the
// 2xx range map to nil; everything else produces a ProtocolError.
func FromStatus(status int, body any) *ProtocolError {
	if status >= 200 && status < 300 {
		return nil
	}
	e := &ProtocolError{Status: status, Body: body}
	switch {
	case status == 400:
		e.Kind = KindBadRequest
	case status == 404:
		e.Kind = KindNotFound
	case status == 406:
		e.Kind = KindNotAcceptable
	case status == 408:
		e.Kind = KindRequestTimeout
	case status == 422:
		e.Kind = KindUnprocessableEntity
		e.ValidationErrors = ParseValidationErrors(body)
	case status >= 500 && status < 600:
		e.Kind = KindInternalServerError
	case status >= 400 && status < 500:
		e.Kind = KindClientError
	default:
		e.Kind = KindServerError
	}
	return e
}

// ParseValidationErrors extracts an attribute -> messages map from a
// 422 body of the form {"errors": {"email": ["..."]}}. Unrecognized
// shapes collapse into the "base" key.
func ParseValidationErrors(body any) map[string][]string {
	out := map[string][]string{}
	m, ok := body.(map[string]any)
	if !ok {
		if body != nil {
			out["base"] = []string{fmt.Sprint(body)}
		}
		return out
	}
	raw, ok := m["errors"]
	if !ok {
		raw = m
	}
	errsMap, ok := raw.(map[string]any)
	if !ok {
		out["base"] = []string{fmt.Sprint(raw)}
		return out
	}
	for field, v := range errsMap {
		switch msgs := v.(type) {
		case []any:
			for _, msg := range msgs {
				out[field] = append(out[field], fmt.Sprint(msg))
			}
		case []string:
			out[field] = append(out[field], msgs...)
		default:
			out[field] = append(out[field], fmt.Sprint(msgs))
		}
	}
	return out
}
