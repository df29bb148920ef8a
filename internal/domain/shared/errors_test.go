package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Is(t *testing.T) {
	t.Run("specific error matches sentinel by code", func(t *testing.T) {
		err := NotFound("payment", "p-1")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.False(t, errors.Is(err, ErrInvalidInput))
		assert.Equal(t, "payment p-1 not found", err.Error())
	})

	t.Run("wrapped error still matches", func(t *testing.T) {
		err := fmt.Errorf("failed to load payment: %w", NotFound("payment", 1))
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("non domain error never matches", func(t *testing.T) {
		assert.False(t, errors.Is(errors.New("boom"), ErrNotFound))
	})

	t.Run("formatted constructor", func(t *testing.T) {
		err := NewDomainErrorf("INVALID_INPUT", "amount %s must be positive", "-1")
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, "amount -1 must be positive", err.Message)
	})
}
