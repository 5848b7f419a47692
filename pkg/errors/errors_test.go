package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromError(t *testing.T) {
	appErr := FromError(Clone(ErrNotFound, "course not found"))
	assert.Equal(t, "NOT_FOUND", appErr.Code)
	assert.Equal(t, http.StatusNotFound, appErr.Status)
	assert.Equal(t, "course not found", appErr.Message)

	wrapped := fmt.Errorf("handler: %w", Clone(ErrForbidden, ""))
	assert.Equal(t, "FORBIDDEN", FromError(wrapped).Code)

	opaque := FromError(fmt.Errorf("connection refused"))
	assert.Equal(t, "INTERNAL_ERROR", opaque.Code)
	assert.Equal(t, http.StatusInternalServerError, opaque.Status)

	assert.Nil(t, FromError(nil))
}

func TestCloneDoesNotMutateOriginal(t *testing.T) {
	clone := Clone(ErrConflict, "email already registered")
	assert.Equal(t, "email already registered", clone.Message)
	assert.Equal(t, "resource already exists", ErrConflict.Message)
}

func TestValidationExpandsFields(t *testing.T) {
	type payload struct {
		Email string `validate:"required,email"`
		Grade string `validate:"required,oneof=A B C"`
	}

	err := validator.New().Struct(payload{Email: "nope", Grade: ""})
	require.Error(t, err)

	appErr := Validation(err, "invalid payload")
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
	assert.Equal(t, http.StatusBadRequest, appErr.Status)
	assert.Equal(t, "must be a valid email address", appErr.Fields["Email"])
	assert.Equal(t, "is required", appErr.Fields["Grade"])
}

func TestWithField(t *testing.T) {
	appErr := WithField("max_students", "cannot be lower than the current enrollment count")
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
	assert.Equal(t, "cannot be lower than the current enrollment count", appErr.Fields["max_students"])
}
