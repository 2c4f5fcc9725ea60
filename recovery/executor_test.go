package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velsin/swarmflow/types"
)

// fakeClock records sleeps without real delay.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) sleepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sleeps)
}

func transientErr() error {
	return types.NewError(types.ErrTimeout, "upstream timed out")
}

func TestExecutor_SuccessFirstAttempt(t *testing.T) {
	t.Parallel()
	e := NewExecutor(RetryThenFail, DefaultRetryPolicy(), nil, newFakeClock(), nil)

	ok, result, ec := e.ExecuteWithRecovery(context.Background(), "s1", "step one",
		func(context.Context) (any, error) { return 42, nil }, nil)

	require.True(t, ok)
	assert.Equal(t, 42, result)
	assert.Nil(t, ec)
}

func TestExecutor_TransientRetriedThenSucceeds(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	e := NewExecutor(RetryThenFail, RetryPolicy{Kind: PolicyFixed, MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: time.Second}, nil, clock, nil)

	calls := 0
	ok, result, ec := e.ExecuteWithRecovery(context.Background(), "s1", "flaky",
		func(context.Context) (any, error) {
			calls++
			if calls < 3 {
				return nil, transientErr()
			}
			return "done", nil
		}, nil)

	require.True(t, ok)
	assert.Equal(t, "done", result)
	assert.Nil(t, ec)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, clock.sleepCount())
}

func TestExecutor_RetriesExhausted(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	e := NewExecutor(RetryThenFail, RetryPolicy{Kind: PolicyFixed, MaxAttempts: 3, InitialDelay: time.Second}, nil, clock, nil)

	calls := 0
	ok, _, ec := e.ExecuteWithRecovery(context.Background(), "s1", "always down",
		func(context.Context) (any, error) { calls++; return nil, transientErr() }, nil)

	require.False(t, ok)
	require.NotNil(t, ec)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, ec.Attempts)
	assert.Equal(t, types.ClassTransient, ec.Class)
	assert.Equal(t, ActionAborted, ec.Action)
}

func TestExecutor_RetryThenSkipMarksSkipped(t *testing.T) {
	t.Parallel()
	e := NewExecutor(RetryThenSkip, RetryPolicy{Kind: PolicyFixed, MaxAttempts: 3, InitialDelay: time.Second}, nil, newFakeClock(), nil)

	ok, _, ec := e.ExecuteWithRecovery(context.Background(), "s1", "always down",
		func(context.Context) (any, error) { return nil, transientErr() }, nil)

	require.False(t, ok)
	require.NotNil(t, ec)
	assert.Equal(t, 3, ec.Attempts)
	assert.Equal(t, ActionSkipped, ec.Action)
}

func TestExecutor_ValidationErrorNeverRetried(t *testing.T) {
	t.Parallel()
	e := NewExecutor(RetryThenFail, DefaultRetryPolicy(), nil, newFakeClock(), nil)

	calls := 0
	ok, _, ec := e.ExecuteWithRecovery(context.Background(), "s1", "bad output",
		func(context.Context) (any, error) {
			calls++
			return nil, types.NewError(types.ErrSchemaMismatch, "output shape wrong")
		}, nil)

	require.False(t, ok)
	assert.Equal(t, 1, calls)
	assert.Equal(t, types.ClassValidation, ec.Class)
}

func TestExecutor_FatalAlwaysAborts(t *testing.T) {
	t.Parallel()
	e := NewExecutor(RetryThenSkip, DefaultRetryPolicy(), nil, newFakeClock(), nil)

	ok, _, ec := e.ExecuteWithRecovery(context.Background(), "s1", "no perms",
		func(context.Context) (any, error) {
			return nil, types.NewError(types.ErrPermissionDenied, "denied")
		}, nil)

	require.False(t, ok)
	assert.Equal(t, types.ClassFatal, ec.Class)
	assert.Equal(t, ActionAborted, ec.Action)
	assert.Equal(t, 1, ec.Attempts)
}

func TestExecutor_FailFastNeverRetries(t *testing.T) {
	t.Parallel()
	e := NewExecutor(FailFast, DefaultRetryPolicy(), nil, newFakeClock(), nil)

	calls := 0
	ok, _, ec := e.ExecuteWithRecovery(context.Background(), "s1", "down",
		func(context.Context) (any, error) { calls++; return nil, transientErr() }, nil)

	require.False(t, ok)
	assert.Equal(t, 1, calls)
	assert.Equal(t, ActionAborted, ec.Action)
}

func TestExecutor_RollbackRunsOnFailureAndNeverMasks(t *testing.T) {
	t.Parallel()
	e := NewExecutor(FailFast, DefaultRetryPolicy(), nil, newFakeClock(), nil)

	rolledBack := false
	ok, _, ec := e.ExecuteWithRecovery(context.Background(), "s1", "side effects",
		func(context.Context) (any, error) { return nil, transientErr() },
		func(context.Context) error { rolledBack = true; return errors.New("rollback broke too") })

	require.False(t, ok)
	assert.True(t, rolledBack)
	// The original failure survives the rollback error.
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(ec.Err))
}

func TestExecutor_CanceledContextStopsRetrying(t *testing.T) {
	t.Parallel()
	e := NewExecutor(RetryThenFail, RetryPolicy{Kind: PolicyFixed, MaxAttempts: 5, InitialDelay: time.Second}, nil, newFakeClock(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	ok, _, ec := e.ExecuteWithRecovery(ctx, "s1", "slow",
		func(context.Context) (any, error) {
			calls++
			cancel()
			return nil, transientErr()
		}, nil)

	require.False(t, ok)
	assert.Equal(t, 1, calls)
	assert.Equal(t, types.ClassFatal, ec.Class)
}

func TestExecutor_OnRetryObserved(t *testing.T) {
	t.Parallel()
	e := NewExecutor(RetryThenFail, RetryPolicy{Kind: PolicyFixed, MaxAttempts: 2, InitialDelay: time.Second}, nil, newFakeClock(), nil)

	var retries []int
	e.OnRetry = func(_ string, attempt int, _ error) { retries = append(retries, attempt) }

	_, _, _ = e.ExecuteWithRecovery(context.Background(), "s1", "down",
		func(context.Context) (any, error) { return nil, transientErr() }, nil)

	assert.Equal(t, []int{1}, retries)
}

func TestRetryPolicy_ExponentialDelayCapped(t *testing.T) {
	t.Parallel()
	p := RetryPolicy{Kind: PolicyExponential, MaxAttempts: 10, InitialDelay: time.Second, MaxDelay: 4 * time.Second}

	assert.Equal(t, 1*time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(5))
}

func TestRetryPolicy_JitterWithinBounds(t *testing.T) {
	t.Parallel()
	p := RetryPolicy{Kind: PolicyExponential, MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Minute, Jitter: true}

	for i := 0; i < 100; i++ {
		d := p.Delay(2) // base 4s, jitter keeps it in [2s, 6s]
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 6*time.Second)
	}
}
