package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/playbook/pkg/protocol"
	"github.com/dukex/playbook/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestPolicy_Delay(t *testing.T) {
	t.Parallel()

	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(30))
	assert.Equal(t, 100*time.Millisecond, p.Delay(-1))
}

type recorder struct {
	mu       sync.Mutex
	attempts []Attempt
	before   []int
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		Before: func(number, retryCount int) error {
			r.mu.Lock()
			defer r.mu.Unlock()

			r.before = append(r.before, number)

			return nil
		},
		After: func(a Attempt) {
			r.mu.Lock()
			defer r.mu.Unlock()

			r.attempts = append(r.attempts, a)
		},
	}
}

func fastController() *Controller {
	return NewController(Policy{BaseDelay: 5 * time.Millisecond, MaxDelay: time.Second})
}

func TestController_SucceedsAfterRetries(t *testing.T) {
	t.Parallel()

	calls := 0
	rec := &recorder{}

	outcome := fastController().Run(context.Background(), Plan{StepID: "b", Timeout: time.Second, MaxRetries: 2},
		func(context.Context, int) (*protocol.Result, error) {
			calls++
			if calls < 3 {
				return nil, errBoom
			}

			return &protocol.Result{Output: map[string]any{"ok": true}}, nil
		}, rec.hooks())

	require.Nil(t, outcome.Err)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 2, outcome.RetryCount)
	assert.Equal(t, true, outcome.Result.Output["ok"])

	require.Len(t, rec.attempts, 3)
	assert.Equal(t, []int{1, 2, 3}, rec.before)
	assert.Less(t, rec.attempts[0].Backoff, rec.attempts[1].Backoff)
	assert.Equal(t, time.Duration(0), rec.attempts[2].Backoff)
	assert.True(t, rec.attempts[2].Final)

	for i := 1; i < len(rec.attempts); i++ {
		prev, next := rec.attempts[i-1], rec.attempts[i]
		assert.False(t, next.StartedAt.Before(prev.CompletedAt), "attempts never overlap")
		assert.GreaterOrEqual(t, next.StartedAt.Sub(prev.CompletedAt), prev.Backoff)
	}
}

func TestController_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	calls := 0
	rec := &recorder{}

	outcome := fastController().Run(context.Background(), Plan{StepID: "b", Timeout: time.Second, MaxRetries: 2},
		func(context.Context, int) (*protocol.Result, error) {
			calls++

			return nil, errBoom
		}, rec.hooks())

	require.NotNil(t, outcome.Err)
	assert.Equal(t, KindHandler, outcome.Err.Kind)
	assert.ErrorIs(t, outcome.Err, errBoom)
	assert.Equal(t, 3, calls, "maxRetries+1 attempts, never more")
	assert.Equal(t, 2, outcome.RetryCount)
}

func TestController_NonRetryableErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"permanent handler error", protocol.Permanent(errBoom), KindHandler},
		{"unknown step kind", fmt.Errorf("resolve: %w", registry.ErrUnknownStepKind), KindUnknownStepKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0

			outcome := fastController().Run(context.Background(), Plan{StepID: "x", Timeout: time.Second, MaxRetries: 5},
				func(context.Context, int) (*protocol.Result, error) {
					calls++

					return nil, tt.err
				}, Hooks{})

			require.NotNil(t, outcome.Err)
			assert.Equal(t, tt.kind, outcome.Err.Kind)
			assert.False(t, outcome.Err.Retryable())
			assert.Equal(t, 1, calls)
		})
	}
}

func TestController_TimeoutIsRetryable(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	rec := &recorder{}

	outcome := fastController().Run(context.Background(), Plan{StepID: "slow", Timeout: 20 * time.Millisecond, MaxRetries: 1},
		func(ctx context.Context, _ int) (*protocol.Result, error) {
			n := calls.Add(1)
			if n == 1 {
				// Ignores its context on purpose.
				time.Sleep(200 * time.Millisecond)

				return &protocol.Result{}, nil
			}

			return &protocol.Result{Output: map[string]any{"n": n}}, nil
		}, rec.hooks())

	require.Nil(t, outcome.Err)
	require.Len(t, rec.attempts, 2)
	assert.Equal(t, KindTimeout, rec.attempts[0].Err.Kind)
	assert.ErrorIs(t, rec.attempts[0].Err, ErrTimeout)
	assert.Less(t, rec.attempts[0].CompletedAt.Sub(rec.attempts[0].StartedAt), 150*time.Millisecond)
}

func TestController_WaitsForAbandonedHandler(t *testing.T) {
	t.Parallel()

	var (
		calls  atomic.Int32
		active atomic.Int32
		peak   atomic.Int32
	)

	outcome := fastController().Run(context.Background(), Plan{StepID: "slow", Timeout: 100 * time.Millisecond, MaxRetries: 1},
		func(ctx context.Context, _ int) (*protocol.Result, error) {
			if n := active.Add(1); n > peak.Load() {
				peak.Store(n)
			}
			defer active.Add(-1)

			if calls.Add(1) == 1 {
				// Ignores its context on purpose and outlives the deadline.
				time.Sleep(150 * time.Millisecond)
			}

			return &protocol.Result{}, nil
		}, Hooks{})

	require.Nil(t, outcome.Err)
	assert.Equal(t, 2, outcome.Attempts)
	assert.Equal(t, int32(1), peak.Load())
}

func TestController_CancelDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	controller := NewController(Policy{BaseDelay: time.Hour, MaxDelay: time.Hour})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	outcome := controller.Run(ctx, Plan{StepID: "x", Timeout: time.Second, MaxRetries: 3},
		func(context.Context, int) (*protocol.Result, error) {
			return nil, errBoom
		}, Hooks{})

	require.NotNil(t, outcome.Err)
	assert.Equal(t, KindCancelled, outcome.Err.Kind)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Less(t, time.Since(start), time.Second)
}

func TestController_CancelDuringHandler(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	outcome := fastController().Run(ctx, Plan{StepID: "x", Timeout: time.Minute, MaxRetries: 3},
		func(attemptCtx context.Context, _ int) (*protocol.Result, error) {
			cancel()
			<-attemptCtx.Done()

			return nil, attemptCtx.Err()
		}, Hooks{})

	require.NotNil(t, outcome.Err)
	assert.Equal(t, KindCancelled, outcome.Err.Kind)
	assert.ErrorIs(t, outcome.Err, ErrCancelled)
	assert.False(t, outcome.Err.Retryable())
}

func TestController_BeforeHookAborts(t *testing.T) {
	t.Parallel()

	outcome := fastController().Run(context.Background(), Plan{StepID: "x", Timeout: time.Second},
		func(context.Context, int) (*protocol.Result, error) {
			t.Fatal("attempt must not start")

			return nil, nil
		}, Hooks{Before: func(int, int) error { return errors.New("stopped") }})

	require.NotNil(t, outcome.Err)
	assert.Equal(t, KindCancelled, outcome.Err.Kind)
	assert.Equal(t, 0, outcome.Attempts)
}

func TestController_RecoversPanics(t *testing.T) {
	t.Parallel()

	outcome := fastController().Run(context.Background(), Plan{StepID: "x", Timeout: time.Second, MaxRetries: 3},
		func(context.Context, int) (*protocol.Result, error) {
			panic("kaboom")
		}, Hooks{})

	require.NotNil(t, outcome.Err)
	assert.Contains(t, outcome.Err.Error(), "kaboom")
	assert.Equal(t, 1, outcome.Attempts)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	expired, stop := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer stop()

	live := context.Background()

	tests := []struct {
		name      string
		runCtx    context.Context
		attempt   context.Context
		err       error
		kind      ErrorKind
		retryable bool
	}{
		{name: "handler error", runCtx: live, attempt: live, err: errBoom, kind: KindHandler, retryable: true},
		{name: "permanent handler error", runCtx: live, attempt: live, err: protocol.Permanent(errBoom), kind: KindHandler},
		{name: "deadline", runCtx: live, attempt: expired, err: errBoom, kind: KindTimeout, retryable: true},
		{name: "unknown kind", runCtx: live, attempt: live, err: fmt.Errorf("resolve: %w", registry.ErrUnknownStepKind), kind: KindUnknownStepKind},
		{name: "stopped execution", runCtx: cancelled, attempt: expired, err: errBoom, kind: KindCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			se := Classify(tt.runCtx, tt.attempt, "notify", 2, tt.err)
			require.NotNil(t, se)

			assert.Equal(t, tt.kind, se.Kind)
			assert.Equal(t, tt.retryable, se.Retryable())
			assert.Equal(t, tt.kind, KindOf(fmt.Errorf("wrapped: %w", se)))
			assert.ErrorIs(t, se, tt.err)
			assert.Contains(t, se.Error(), "step notify attempt 2")
		})
	}

	assert.Nil(t, Classify(live, live, "notify", 1, nil))
	assert.Equal(t, ErrorKind(""), KindOf(errBoom))
}
