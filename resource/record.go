package resource

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/warren-mq/warren/client"
	werrors "github.com/warren-mq/warren/errors"
	"github.com/warren-mq/warren/message"
)

// idAliases are the keys an id may arrive under from a remote service.
var idAliases = []string{"id", "ID", "Id", "_id"}

// Record is one resource instance. Attributes live in a map with their
// original key spelling preserved; lookup is spelling-insensitive so
// remote services that answer "Name" and "name" interchangeably still
// hydrate the same attribute. Records capture their schema's routing
// at construction and keep it for their whole life.
type Record struct {
	schema     *Schema
	routingKey string
	exchange   string
	exchangeType message.ExchangeType

	attrs     map[string]any
	dirty     map[string]bool
	persisted bool
	errs      map[string][]string
}

// New builds an unpersisted record; every given attribute is dirty.
func (s *Schema) New(attrs map[string]any) *Record {
	r := s.newRecord()
	for k, v := range attrs {
		r.Set(k, v)
	}
	return r
}

// hydrate builds a persisted, clean record from remote attributes.
func (s *Schema) hydrate(attrs map[string]any) *Record {
	r := s.newRecord()
	r.assign(attrs)
	r.persisted = true
	return r
}

func (s *Schema) newRecord() *Record {
	return &Record{
		schema:       s,
		routingKey:   s.RoutingKey(),
		exchange:     s.Exchange(),
		exchangeType: s.ExchangeType(),
		attrs:        map[string]any{},
		dirty:        map[string]bool{},
		errs:         map[string][]string{},
	}
}

// Schema returns the schema the record was built from.
func (r *Record) Schema() *Schema { return r.schema }

// Persisted reports whether the record exists remotely.
func (r *Record) Persisted() bool { return r.persisted }

// Errors returns the validation errors from the last failed save.
func (r *Record) Errors() map[string][]string { return r.errs }

// AddError appends a validation message under an attribute key.
func (r *Record) AddError(key, msg string) {
	r.errs[key] = append(r.errs[key], msg)
}

// storedKey finds the preserved spelling for a key, if any.
func (r *Record) storedKey(key string) (string, bool) {
	if _, ok := r.attrs[key]; ok {
		return key, true
	}
	for k := range r.attrs {
		if strings.EqualFold(k, key) {
			return k, true
		}
	}
	return "", false
}

// Get reads an attribute, tolerating spelling differences.
func (r *Record) Get(key string) any {
	if k, ok := r.storedKey(key); ok {
		return r.attrs[k]
	}
	return nil
}

// GetString reads an attribute coerced to string, or "".
func (r *Record) GetString(key string) string {
	v := r.Get(key)
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Set writes an attribute and marks it dirty when the value changed.
// An existing spelling of the key is kept.
func (r *Record) Set(key string, value any) {
	if k, ok := r.storedKey(key); ok {
		if !reflect.DeepEqual(r.attrs[k], value) {
			r.attrs[k] = value
			r.dirty[k] = true
		}
		return
	}
	r.attrs[key] = value
	r.dirty[key] = true
}

// assign overwrites attributes from the remote without dirtying them.
func (r *Record) assign(attrs map[string]any) {
	for k, v := range attrs {
		if stored, ok := r.storedKey(k); ok {
			r.attrs[stored] = v
			continue
		}
		r.attrs[k] = v
	}
}

// ID reads the record id under any of its accepted aliases.
func (r *Record) ID() any {
	for _, alias := range idAliases {
		if v, ok := r.attrs[alias]; ok && v != nil {
			return v
		}
	}
	return nil
}

// SetID writes the canonical id attribute without dirtying it.
func (r *Record) SetID(id any) {
	r.attrs["id"] = id
}

// Dirty returns the changed attributes that a save would send.
func (r *Record) Dirty() map[string]any {
	out := map[string]any{}
	for k := range r.dirty {
		out[k] = r.attrs[k]
	}
	return out
}

// Save validates and persists the record: POST for a new record, PUT
// for an existing one, with the dirty attributes wrapped under the
// schema's param key. A 422 loads the remote errors and returns false
// with a nil error; other protocol and transport failures return the
// error. On success the returned attributes are assigned, the record
// is marked persisted and the dirty set is cleared.
func (r *Record) Save(ctx context.Context) (bool, error) {
	if err := r.schema.check(); err != nil {
		return false, err
	}

	r.errs = map[string][]string{}
	for _, validate := range r.schema.validations {
		validate(r)
	}
	if len(r.errs) > 0 {
		return false, nil
	}

	for _, cb := range r.schema.beforeSave {
		cb(r)
	}

	path := r.schema.ResourceName()
	method := message.POST
	if r.persisted {
		method = message.PUT
		path = fmt.Sprintf("%s/%v", path, r.ID())
	}
	body := map[string]any{r.schema.ParamKey(): r.Dirty()}

	resp, err := r.request(ctx, path, client.WithMethod(method), client.WithBody(body))
	if err != nil {
		var pe *werrors.ProtocolError
		if errors.As(err, &pe) && pe.Kind == werrors.KindUnprocessableEntity {
			r.loadRemoteErrors(pe)
			return false, nil
		}
		return false, err
	}

	if attrs := resp.BodyMap(); attrs != nil {
		r.assign(attrs)
	}
	r.persisted = true
	r.dirty = map[string]bool{}

	for _, cb := range r.schema.afterSave {
		cb(r)
	}
	return true, nil
}

// Destroy deletes the record remotely. Protocol failures are swallowed
// into false; only transport failures surface as errors.
func (r *Record) Destroy(ctx context.Context) (bool, error) {
	if err := r.schema.check(); err != nil {
		return false, err
	}
	for _, cb := range r.schema.beforeDestroy {
		cb(r)
	}

	path := fmt.Sprintf("%s/%v", r.schema.ResourceName(), r.ID())
	_, err := r.request(ctx, path, client.WithMethod(message.DELETE))
	if err != nil {
		var pe *werrors.ProtocolError
		if errors.As(err, &pe) {
			return false, nil
		}
		return false, err
	}

	r.persisted = false
	for _, cb := range r.schema.afterDestroy {
		cb(r)
	}
	return true, nil
}

// request issues one call using the routing captured at construction.
func (r *Record) request(ctx context.Context, path string, extra ...client.RequestOption) (*message.Response, error) {
	opts := []client.RequestOption{
		client.WithExchange(r.exchange, r.exchangeType),
		client.WithRoutingKey(r.routingKey),
	}
	return r.schema.Client().Request(ctx, path, append(opts, extra...)...)
}

// loadRemoteErrors maps a 422 body into the instance's error map.
func (r *Record) loadRemoteErrors(pe *werrors.ProtocolError) {
	if len(pe.ValidationErrors) == 0 {
		r.AddError("base", pe.Error())
		return
	}
	for k, msgs := range pe.ValidationErrors {
		r.errs[k] = append(r.errs[k], msgs...)
	}
}
