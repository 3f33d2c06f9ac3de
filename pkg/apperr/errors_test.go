package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSentinels(t *testing.T) {
	errSame := New(KindValidation, "new password must differ")
	wrapped := fmt.Errorf("change password: %w", errSame)

	assert.True(t, errors.Is(wrapped, ErrValidation))
	assert.True(t, errors.Is(wrapped, errSame))
	assert.False(t, errors.Is(wrapped, ErrConflict))
	assert.False(t, errors.Is(wrapped, New(KindValidation, "new password must differ")))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"classified", NotFound("role"), KindNotFound},
		{"wrapped", fmt.Errorf("outer: %w", New(KindConflict, "dup")), KindConflict},
		{"plain", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKind_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, KindValidation.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, KindConflict.HTTPStatus())
	assert.Equal(t, http.StatusUnauthorized, KindUnauthenticated.HTTPStatus())
	assert.Equal(t, http.StatusForbidden, KindForbidden.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, KindNotFound.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, KindInternal.HTTPStatus())
}

func TestValidation(t *testing.T) {
	err := Validation("email is required", "password must be at least 8 characters")
	assert.Equal(t, "validation failed: email is required, password must be at least 8 characters", err.Error())
	assert.Len(t, err.Fields, 2)

	e, ok := As(fmt.Errorf("wrap: %w", err))
	assert.True(t, ok)
	assert.Equal(t, KindValidation, e.Kind)
}
