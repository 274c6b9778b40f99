package errors

import (
	goerrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{400, KindBadRequest},
		{404, KindNotFound},
		{406, KindNotAcceptable},
		{408, KindRequestTimeout},
		{422, KindUnprocessableEntity},
		{409, KindClientError},
		{429, KindClientError},
		{500, KindInternalServerError},
		{503, KindInternalServerError},
		{599, KindInternalServerError},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			e := FromStatus(tc.status, nil)
			require.NotNil(t, e)
			assert.Equal(t, tc.kind, e.Kind)
			assert.Equal(t, tc.status, e.Status)
		})
	}
}

func TestFromStatusSuccessIsNil(t *testing.T) {
	assert.Nil(t, FromStatus(200, nil))
	assert.Nil(t, FromStatus(204, nil))
	assert.Nil(t, FromStatus(299, nil))
}

func TestUnprocessableEntityCarriesBody(t *testing.T) {
	body := map[string]any{
		"errors": map[string]any{
			"email": []any{"no se permiten .org"},
		},
	}
	e := FromStatus(422, body)
	require.NotNil(t, e)
	assert.Equal(t, KindUnprocessableEntity, e.Kind)
	assert.Equal(t, body, e.Body)
	assert.Equal(t, []string{"no se permiten .org"}, e.ValidationErrors["email"])
}

func TestParseValidationErrorsShapes(t *testing.T) {
	// errors map directly, no wrapper
	out := ParseValidationErrors(map[string]any{"name": []any{"is required"}})
	assert.Equal(t, []string{"is required"}, out["name"])

	// scalar message
	out = ParseValidationErrors(map[string]any{"errors": map[string]any{"name": "taken"}})
	assert.Equal(t, []string{"taken"}, out["name"])

	// unrecognized shape collapses into base
	out = ParseValidationErrors("boom")
	assert.Equal(t, []string{"boom"}, out["base"])
}

func TestCommunicationError(t *testing.T) {
	cause := goerrors.New("connection refused")
	e := Communication("rabbitmq dial", cause)
	assert.EqualError(t, e, "rabbitmq dial: connection refused")
	assert.ErrorIs(t, e, cause)
}

func TestProtocolErrorFamilies(t *testing.T) {
	assert.True(t, FromStatus(404, nil).IsClient())
	assert.False(t, FromStatus(404, nil).IsServer())
	assert.True(t, FromStatus(500, nil).IsServer())

	var pe *ProtocolError
	err := error(FromStatus(404, nil))
	require.True(t, goerrors.As(err, &pe))
	assert.Equal(t, KindNotFound, pe.Kind)
}
