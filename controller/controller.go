// Package controller implements the per-message action execution
// model: parameter unification, before-action filters, rescue handlers
// and structured rendering.
package controller

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/warren-mq/warren/internal/urlx"
	"github.com/warren-mq/warren/message"
)

// Headers carry the request metadata extracted from the delivery.
type Headers struct {
	Method        string
	Type          string
	Controller    string
	Action        string
	ID            string
	CorrelationID string
	ReplyTo       string
	ContentType   string
}

// Context is the per-message controller instance. It lives for exactly
// one delivery and is never reused.
type Context struct {
	Headers Headers

	// Params are unified from the query string, the path id and the
	// body, in that order; later sources win on collisions.
	Params map[string]any

	// Body holds a parsed non-mapping JSON body; RawBody holds the
	// body verbatim when it was not a mapping.
	Body    any
	RawBody string

	response *message.Response
}

// Param returns a unified parameter value.
func (c *Context) Param(key string) any {
	return c.Params[key]
}

// ParamString returns a parameter coerced to string, or "".
func (c *Context) ParamString(key string) string {
	v, ok := c.Params[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Render records the structured response. Status is an integer or a
// symbolic name ("ok", "unprocessable_entity", ...). Rendering twice
// keeps the first response.
func (c *Context) Render(status any, body any) error {
	return c.RenderWithHeaders(status, body, nil)
}

// RenderWithHeaders is Render with explicit response headers.
func (c *Context) RenderWithHeaders(status any, body any, headers map[string]string) error {
	code, err := message.StatusCode(status)
	if err != nil {
		return err
	}
	if c.response != nil {
		return nil
	}
	if headers == nil {
		headers = map[string]string{}
	}
	c.response = &message.Response{Status: code, Body: body, Headers: headers}
	return nil
}

// Rendered returns the recorded response, or nil.
func (c *Context) Rendered() *message.Response {
	return c.response
}

// Action handles one routed request.
type Action func(*Context) error

// Filter runs before an action. A filter that renders halts the chain.
type Filter func(*Context) error

// RescueFunc handles an error raised by an action or filter.
type RescueFunc func(*Context, error)

type rescueEntry struct {
	match  func(error) bool
	handle RescueFunc
}

// Definition is a controller: a named set of actions plus its filter
// and rescue chains. Definitions are immutable at dispatch time; all
// mutable state lives in the per-message Context.
type Definition struct {
	name       string
	actions    map[string]Action
	beforeAll  []Filter
	beforeOnly map[string][]Filter
	rescues    []rescueEntry
}

// New declares a controller under its registry name, e.g. "TestUser".
func New(name string) *Definition {
	return &Definition{
		name:       name,
		actions:    map[string]Action{},
		beforeOnly: map[string][]Filter{},
	}
}

// Name returns the controller's registry name.
func (d *Definition) Name() string { return d.name }

// Action registers a named action.
func (d *Definition) Action(name string, fn Action) *Definition {
	d.actions[name] = fn
	return d
}

// BeforeAction registers a filter. With no action names it runs before
// every action; otherwise only before the named ones.
func (d *Definition) BeforeAction(fn Filter, actions ...string) *Definition {
	if len(actions) == 0 {
		d.beforeAll = append(d.beforeAll, fn)
		return d
	}
	for _, a := range actions {
		d.beforeOnly[a] = append(d.beforeOnly[a], fn)
	}
	return d
}

// RescueFrom registers an error handler. Handlers are consulted in
// LIFO order; the first whose matcher accepts the error wins.
func (d *Definition) RescueFrom(match func(error) bool, handle RescueFunc) *Definition {
	d.rescues = append(d.rescues, rescueEntry{match: match, handle: handle})
	return d
}

// Call executes one message: unify params, run the filter chain,
// dispatch the action and return the rendered response. It never
// panics; failures come back as a structured 500.
func (d *Definition) Call(headers Headers, body []byte) *message.Response {
	ctx := &Context{Headers: headers, Params: map[string]any{}}
	d.unifyParams(ctx, body)

	if resp, err := d.runFilters(ctx); resp != nil || err != nil {
		if err != nil {
			return d.rescue(ctx, err)
		}
		return resp
	}

	action, ok := d.actions[headers.Action]
	if !ok {
		return d.rescue(ctx, fmt.Errorf("controller %s has no action %q", d.name, headers.Action))
	}

	if err := d.invoke(action, ctx); err != nil {
		return d.rescue(ctx, err)
	}

	if resp := ctx.Rendered(); resp != nil {
		return resp
	}
	return &message.Response{Status: 204, Body: nil, Headers: map[string]string{}}
}

// unifyParams merges, in priority order, the query string, the path id
// and the body. Later sources win.
func (d *Definition) unifyParams(ctx *Context, body []byte) {
	_, rawQuery := urlx.Split(ctx.Headers.Type)
	if params, err := urlx.ParseQuery(rawQuery); err == nil {
		for k, v := range params {
			ctx.Params[k] = v
		}
	}

	if ctx.Headers.ID != "" {
		ctx.Params["id"] = ctx.Headers.ID
	}

	if len(body) == 0 {
		return
	}
	isJSON := ctx.Headers.ContentType == "" ||
		strings.HasPrefix(ctx.Headers.ContentType, message.ContentTypeJSON)
	if isJSON {
		var decoded any
		if json.Unmarshal(body, &decoded) == nil {
			if m, ok := decoded.(map[string]any); ok {
				for k, v := range m {
					ctx.Params[k] = v
				}
				return
			}
			ctx.Body = decoded
			ctx.RawBody = string(body)
			return
		}
	}
	ctx.RawBody = string(body)
}

// runFilters executes the _all chain then the per-action chain,
// de-duplicated by function identity. A filter that renders halts.
func (d *Definition) runFilters(ctx *Context) (*message.Response, error) {
	seen := map[uintptr]bool{}
	chain := append(append([]Filter{}, d.beforeAll...), d.beforeOnly[ctx.Headers.Action]...)
	for _, f := range chain {
		ptr := reflect.ValueOf(f).Pointer()
		if seen[ptr] {
			continue
		}
		seen[ptr] = true

		if err := d.invoke(Action(f), ctx); err != nil {
			return nil, err
		}
		if resp := ctx.Rendered(); resp != nil {
			return resp, nil
		}
	}
	return nil, nil
}

// invoke runs fn, converting panics into errors so they flow through
// the rescue chain like any other failure.
func (d *Definition) invoke(fn Action, ctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in controller %s: %v", d.name, r)
		}
	}()
	return fn(ctx)
}

// rescue walks the registry in LIFO order. A matching handler's render
// becomes the response; no match yields a structured 500.
func (d *Definition) rescue(ctx *Context, cause error) *message.Response {
	for i := len(d.rescues) - 1; i >= 0; i-- {
		entry := d.rescues[i]
		if !entry.match(cause) {
			continue
		}
		ctx.response = nil
		entry.handle(ctx, cause)
		if resp := ctx.Rendered(); resp != nil {
			return resp
		}
		break
	}
	return &message.Response{
		Status: 500,
		Body: map[string]any{
			"error":  "internal_server_error",
			"detail": cause.Error(),
		},
		Headers: map[string]string{},
	}
}
