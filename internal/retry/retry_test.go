package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tempErr struct{ temporary bool }

func (e tempErr) Error() string   { return "service error" }
func (e tempErr) Temporary() bool { return e.temporary }

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2, Jitter: 0.1}
}

func TestDo_SucceedsAfterTemporaryFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return tempErr{temporary: true}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return tempErr{temporary: false}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		return tempErr{temporary: true}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	var te tempErr
	assert.True(t, errors.As(err, &te))
}

func TestDo_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}
	calls := 0
	err := Do(ctx, p, func(context.Context) error {
		calls++
		cancel()
		return tempErr{temporary: true}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomRetryable(t *testing.T) {
	sentinel := errors.New("flaky")
	calls := 0
	err := Do(context.Background(), fastPolicy(2), func(context.Context) error {
		calls++
		return sentinel
	}, If(func(err error) bool { return errors.Is(err, sentinel) }))
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 2, calls)
}

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(3))
	assert.Equal(t, time.Second, p.Backoff(4))
	assert.Equal(t, time.Second, p.Backoff(20))
}

func TestPolicy_Normalize(t *testing.T) {
	assert.Equal(t, DefaultPolicy(), Policy{}.Normalize())
	p := Policy{MaxAttempts: 1, InitialDelay: time.Second, MaxDelay: time.Millisecond, Multiplier: 3, Jitter: 0.5}.Normalize()
	assert.Equal(t, time.Second, p.MaxDelay)
	assert.Equal(t, 1, p.MaxAttempts)
}

func TestIsTemporary(t *testing.T) {
	assert.True(t, IsTemporary(tempErr{temporary: true}))
	assert.True(t, IsTemporary(errors.Join(errors.New("x"), tempErr{temporary: true})))
	assert.False(t, IsTemporary(tempErr{}))
	assert.False(t, IsTemporary(errors.New("plain")))
	assert.False(t, IsTemporary(nil))
}
