package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := NewNotFoundError("target")
	assert.Equal(t, "NOT_FOUND: target not found", err.Error())

	err = NewInternalError("query failed").WithCause(stderrors.New("boom"))
	assert.Equal(t, "INTERNAL_ERROR: query failed (caused by: boom)", err.Error())
}

func TestIsType_Wrapped(t *testing.T) {
	base := NewCircuitOpenError("cpu")
	wrapped := fmt.Errorf("collect cpu: %w", base)

	assert.True(t, IsType(wrapped, ErrorTypeCircuitOpen))
	assert.False(t, IsType(wrapped, ErrorTypeTransient))
	assert.Equal(t, "CIRCUIT_OPEN", GetCode(wrapped))
	assert.Equal(t, ErrorTypeCircuitOpen, GetType(wrapped))
	assert.Equal(t, "cpu", base.Details["breaker"])
}

func TestGetType_PlainError(t *testing.T) {
	err := stderrors.New("plain")
	assert.Equal(t, ErrorTypeInternal, GetType(err))
	assert.Equal(t, "UNKNOWN_ERROR", GetCode(err))
	assert.False(t, IsNotFound(err))
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("dial tcp: refused")
	err := NewTransientError("probe failed").WithCause(cause)
	assert.ErrorIs(t, err, cause)
}
