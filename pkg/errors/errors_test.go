package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_TypeChecks(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		checker func(error) bool
		typ     ErrorType
	}{
		{"validation", NewValidationError("bad input", nil), IsValidationError, ErrorTypeValidation},
		{"not_found", NewNotFoundError("missing", nil), IsNotFoundError, ErrorTypeNotFound},
		{"conflict", NewConflictError("busy", nil), IsConflictError, ErrorTypeConflict},
		{"dependency", NewDependencyError("unresolved", nil), IsDependencyError, ErrorTypeDependency},
		{"cycle", NewCycleError("loop", nil), IsCycleError, ErrorTypeCycle},
		{"process", NewProcessError("spawn failed", nil), IsProcessError, ErrorTypeProcess},
		{"timeout", NewTimeoutError("too slow", nil), IsTimeoutError, ErrorTypeTimeout},
		{"io", NewIOError("read failed", nil), IsIOError, ErrorTypeIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.checker(tt.err))
			assert.Equal(t, tt.typ, TypeOf(tt.err))
			// Checkers are type-exclusive
			if tt.typ != ErrorTypeValidation {
				assert.False(t, IsValidationError(tt.err))
			}
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := NewProcessError("spawn failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "spawn failed")
	assert.Contains(t, err.Error(), "root cause")
}

func TestDomainError_WithContext(t *testing.T) {
	err := NewNotFoundError("unknown service", nil).
		WithContext("name", "web").
		WithContext("dir", "/srv/units")

	assert.Equal(t, "web", err.Context["name"])
	assert.Equal(t, "/srv/units", err.Context["dir"])
	assert.True(t, IsNotFoundError(err))
}

func TestTypeOf_NonDomainError(t *testing.T) {
	assert.Equal(t, ErrorTypeInternal, TypeOf(fmt.Errorf("plain error")))
	assert.Equal(t, ErrorTypeInternal, TypeOf(nil))
}

func TestTypeOf_WrappedDomainError(t *testing.T) {
	inner := NewTimeoutError("deadline exceeded", nil)
	wrapped := fmt.Errorf("request failed: %w", inner)

	assert.True(t, IsTimeoutError(wrapped))
	assert.Equal(t, ErrorTypeTimeout, TypeOf(wrapped))
}
