package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("amount must be positive")))
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("lookup: %w", NotFound("loan %s not found", "x"))))
	assert.Equal(t, KindInternal, KindOf(errors.New("disk on fire")))
	assert.False(t, Is(nil, KindValidation))
}

func TestErrorMessage(t *testing.T) {
	err := Internal(errors.New("locked"), "failed to update loan")
	assert.Equal(t, "failed to update loan: locked", err.Error())
	assert.Equal(t, "failed to update loan", MessageOf(err))
	assert.Equal(t, "plain", MessageOf(errors.New("plain")))
}

func TestRetryOnConflict(t *testing.T) {
	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), 3, func() error {
			calls++
			if calls < 3 {
				return Conflict("stale")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), 2, func() error {
			calls++
			return Conflict("stale")
		})
		assert.True(t, Is(err, KindConcurrencyConflict))
		assert.Equal(t, 2, calls)
	})

	t.Run("does not retry other kinds", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), 5, func() error {
			calls++
			return Validation("bad")
		})
		assert.True(t, Is(err, KindValidation))
		assert.Equal(t, 1, calls)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := RetryOnConflict(ctx, 3, func() error { return nil })
		assert.True(t, Is(err, KindInternal))
	})
}
