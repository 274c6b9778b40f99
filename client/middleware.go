package client

import (
	"context"
	"encoding/json"

	werrors "github.com/warren-mq/warren/errors"
	"github.com/warren-mq/warren/message"
)

// Handler is one step of the producer call: it sees the request on the
// way down and produces the response on the way up. The terminal
// handler is the producer's RPC or Fire.
type Handler func(ctx context.Context, req *message.Request) (*message.Response, error)

// Middleware wraps a Handler. The first registered middleware is the
// outermost layer of the onion.
type Middleware func(next Handler) Handler

// Chain folds the middlewares around the terminal handler, last
// registered innermost.
func Chain(terminal Handler, middlewares ...Middleware) Handler {
	h := terminal
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// JSONResponse decodes a string response body as JSON on the way up.
// Non-JSON strings pass through untouched, as do non-string bodies and
// fire-and-forget calls with no response.
func JSONResponse() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			resp, err := next(ctx, req)
			if err != nil || resp == nil {
				return resp, err
			}
			if s, ok := resp.Body.(string); ok {
				var decoded any
				if json.Unmarshal([]byte(s), &decoded) == nil {
					resp.Body = decoded
				}
			}
			return resp, nil
		}
	}
}

// RaiseError maps non-2xx response statuses onto the error taxonomy on
// the way up. Successful responses return untouched.
func RaiseError() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			resp, err := next(ctx, req)
			if err != nil || resp == nil {
				return resp, err
			}
			if e := werrors.FromStatus(resp.Status, resp.Body); e != nil {
				return nil, e
			}
			return resp, nil
		}
	}
}
