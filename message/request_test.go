package message

import (
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestDefaults(t *testing.T) {
	req := NewRequest("users/42")

	assert.Equal(t, "users/42", req.Path)
	assert.Equal(t, GET, req.Method)
	assert.Equal(t, Direct, req.ExchangeType)
	assert.Equal(t, ContentTypeJSON, req.ContentType)
	assert.False(t, req.Persistent)
	assert.WithinDuration(t, time.Now(), req.Timestamp, time.Second)
	assert.NotNil(t, req.Headers)
}

func TestFinalRoutingKey(t *testing.T) {
	req := NewRequest("users/42")
	assert.Equal(t, "users/42", req.FinalRoutingKey())

	req.RoutingKey = "users.find"
	assert.Equal(t, "users.find", req.FinalRoutingKey())
}

func TestFinalType(t *testing.T) {
	req := NewRequest("users")
	assert.Equal(t, "users", req.FinalType())

	req.Params = map[string]any{
		"q": map[string]any{"active": true, "roles": []string{"admin"}},
	}
	assert.Equal(t, "users?q[active]=true&q[roles][]=admin", req.FinalType())
}

func TestEncodedBody(t *testing.T) {
	req := NewRequest("users")

	req.Body = nil
	body, err := req.EncodedBody()
	require.NoError(t, err)
	assert.Nil(t, body)

	req.Body = "raw payload"
	body, err = req.EncodedBody()
	require.NoError(t, err)
	assert.Equal(t, []byte("raw payload"), body)

	req.Body = map[string]any{"name": "New"}
	body, err = req.EncodedBody()
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"New"}`, string(body))
}

func TestProperties(t *testing.T) {
	req := NewRequest("users/42")
	req.Method = PUT
	req.CorrelationID = "cid-1"
	req.ReplyTo = DirectReplyQueue
	req.Headers["tenant"] = "acme"
	req.Persistent = true

	props := req.Properties()
	assert.Equal(t, "users/42", props.Type)
	assert.Equal(t, "cid-1", props.CorrelationId)
	assert.Equal(t, DirectReplyQueue, props.ReplyTo)
	assert.Equal(t, "PUT", props.Headers["method"])
	assert.Equal(t, "acme", props.Headers["tenant"])
	assert.Equal(t, amqp.Persistent, props.DeliveryMode)
}

func TestPropertiesDropUnset(t *testing.T) {
	req := NewRequest("users")
	props := req.Properties()

	assert.Empty(t, props.CorrelationId)
	assert.Empty(t, props.ReplyTo)
	assert.Empty(t, props.Expiration)
	assert.Empty(t, props.AppId)
	assert.Zero(t, props.DeliveryMode)
}

func TestDecodeResponse(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"status":  200,
		"body":    map[string]any{"message": "Pong!"},
		"headers": map[string]string{},
	})
	resp, err := DecodeResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "Pong!", resp.BodyMap()["message"])
	assert.True(t, resp.Success())
}

func TestStatusCode(t *testing.T) {
	code, err := StatusCode("ok")
	require.NoError(t, err)
	assert.Equal(t, 200, code)

	code, err = StatusCode("unprocessable_entity")
	require.NoError(t, err)
	assert.Equal(t, 422, code)

	code, err = StatusCode(204)
	require.NoError(t, err)
	assert.Equal(t, 204, code)

	_, err = StatusCode("bogus")
	assert.Error(t, err)

	_, err = StatusCode(3.14)
	assert.Error(t, err)
}
