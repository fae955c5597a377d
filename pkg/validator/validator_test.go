package validator_test

import (
	"errors"
	"testing"

	"github.com/marcodd23/go-txscope/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type isolation struct {
	Level  string `validate:"omitempty,oneof=ReadCommitted Serializable"`
	Client string `validate:"required"`
}

func TestValidateStruct(t *testing.T) {
	v := validator.NewValidator()

	assert.Empty(t, v.ValidateStruct(isolation{Client: "pgx"}))

	failures := v.ValidateStruct(isolation{Level: "Snapshot"})
	require.Len(t, failures, 2)
	assert.Equal(t, "isolation.Level", failures[0].FailedField)
	assert.Equal(t, "oneof", failures[0].Tag)
	assert.Equal(t, "isolation.Client", failures[1].FailedField)
	assert.Equal(t, "required", failures[1].Tag)
}

func TestValidateReturnsValidationError(t *testing.T) {
	err := validator.NewValidator().Validate(isolation{})
	require.Error(t, err)

	var vErr *validator.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Len(t, vErr.GetErrorsDetails(), 1)
	assert.Contains(t, err.Error(), `"failedField":"isolation.Client"`)
}

func TestSharedInstance(t *testing.T) {
	assert.Same(t, validator.NewValidator(), validator.NewValidator())
}
