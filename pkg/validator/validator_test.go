package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type joinPayload struct {
	AgentID string `json:"agentId" validate:"required,uuid"`
	Role    string `json:"role,omitempty" validate:"omitempty,oneof=ADMIN AGENT"`
}

func TestValidate(t *testing.T) {
	v := New()

	assert.NoError(t, v.Validate(joinPayload{AgentID: "6f1c1d9e-3b7a-4a57-9d7e-0f4f2b8d1c11"}))

	err := v.Validate(joinPayload{AgentID: "nope", Role: "ROOT"})
	require.Error(t, err)

	var fields Errors
	require.True(t, errors.As(err, &fields))
	require.Len(t, fields, 2)
	assert.Equal(t, FieldError{Field: "agentId", Message: "must be a valid uuid"}, fields[0])
	assert.Equal(t, FieldError{Field: "role", Message: "must be one of [ADMIN AGENT]"}, fields[1])
	assert.Contains(t, err.Error(), "agentId: must be a valid uuid")

	err = v.Validate(&joinPayload{})
	require.ErrorAs(t, err, &fields)
	assert.Equal(t, "is required", fields[0].Message)
}

func TestTranslatePassesThroughOtherErrors(t *testing.T) {
	plain := errors.New("boom")
	assert.Equal(t, plain, Translate(plain))
}
