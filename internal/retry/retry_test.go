package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/smallbiznis/checkout/internal/apperror"
	"github.com/smallbiznis/checkout/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		Multiplier:      2,
		MaxInterval:     4 * time.Millisecond,
	}
}

func TestExecute_ConvergesAfterConflicts(t *testing.T) {
	e := NewExecutor(zap.NewNop(), nil)

	for k := 0; k < 3; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			calls := 0
			got, err := Execute(context.Background(), e, "test", fastPolicy(3), func(ctx context.Context, attempt int) (string, error) {
				calls++
				assert.Equal(t, calls, attempt)
				if calls <= k {
					return "", fmt.Errorf("save balance: %w", apperror.ErrVersionConflict)
				}
				return "ok", nil
			})

			require.NoError(t, err)
			assert.Equal(t, "ok", got)
			assert.Equal(t, k+1, calls)
		})
	}
}

func TestExecute_SurfacesLastConflictUnchanged(t *testing.T) {
	e := NewExecutor(zap.NewNop(), nil)
	calls := 0
	var last error

	err := e.Do(context.Background(), "test", fastPolicy(3), func(ctx context.Context, attempt int) error {
		calls++
		last = fmt.Errorf("attempt %d: %w", attempt, apperror.ErrVersionConflict)
		return last
	})

	assert.Equal(t, 3, calls)
	assert.Same(t, last, err)
	assert.True(t, errors.Is(err, apperror.ErrVersionConflict))
}

func TestExecute_OtherErrorsPropagateImmediately(t *testing.T) {
	e := NewExecutor(zap.NewNop(), nil)
	businessErr := apperror.New(apperror.KindInsufficientBalance, "B002", "insufficient_balance")
	calls := 0

	err := e.Do(context.Background(), "test", fastPolicy(3), func(ctx context.Context, attempt int) error {
		calls++
		return businessErr
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, businessErr, err)
}

func TestExecute_SingleAttemptPermanentErrorIsUnwrapped(t *testing.T) {
	e := NewExecutor(zap.NewNop(), nil)
	boom := errors.New("boom")

	err := e.Do(context.Background(), "test", fastPolicy(1), func(ctx context.Context, attempt int) error {
		return boom
	})

	assert.Same(t, boom, err)
}

func TestPolicy_BackoffSchedule(t *testing.T) {
	b := DefaultPolicy().backOff()

	assert.Equal(t, 100*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 200*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 400*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 800*time.Millisecond, b.NextBackOff())
	assert.Equal(t, time.Second, b.NextBackOff())
}

func TestPolicy_WithDefaults(t *testing.T) {
	p := Policy{}.withDefaults()
	assert.Equal(t, DefaultPolicy(), p)
}

func TestPolicyFromConfig_ZeroMaxIntervalKeepsDefaultCap(t *testing.T) {
	p := PolicyFromConfig(config.RetryConfig{MaxAttempts: 5, InitialInterval: 50 * time.Millisecond})

	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, p.InitialInterval)
	assert.Equal(t, time.Second, p.MaxInterval)
}
