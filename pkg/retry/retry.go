// Package retry runs a single step through its timeout and bounded exponential retry policy.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/dukex/playbook/pkg/protocol"
)

const (
	DefaultBaseDelay = 500 * time.Millisecond
	DefaultMaxDelay  = 30 * time.Second
)

// Policy computes the delay inserted before a retry.
type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

// Delay returns BaseDelay * 2^retryCount, capped at MaxDelay. There is no jitter.
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	delay := float64(p.BaseDelay) * math.Pow(2, float64(retryCount))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}

	return time.Duration(delay)
}

// Plan describes one node run.
type Plan struct {
	StepID     string
	Timeout    time.Duration
	MaxRetries int
}

// AttemptFunc performs a single attempt. ctx carries the attempt deadline.
type AttemptFunc func(ctx context.Context, attempt int) (*protocol.Result, error)

// Attempt is the record of one try handed to Hooks.After.
type Attempt struct {
	Number      int
	RetryCount  int
	StartedAt   time.Time
	CompletedAt time.Time
	Result      *protocol.Result
	Err         *StepError
	// Backoff is the delay before the next attempt, zero when Final.
	Backoff time.Duration
	Final   bool

	// straggler is closed when an abandoned handler call finally returns.
	straggler <-chan struct{}
}

// Hooks let the caller observe every attempt while it still owns ordering.
type Hooks struct {
	// Before runs before an attempt starts. An error aborts the run as cancelled.
	Before func(number, retryCount int) error
	// After runs once an attempt has finished and before any backoff wait.
	After func(Attempt)
}

// Outcome is the terminal result of a node run.
type Outcome struct {
	Result     *protocol.Result
	Err        *StepError
	Attempts   int
	RetryCount int
}

// Controller applies a Policy to node runs.
type Controller struct {
	policy Policy
	now    func() time.Time
}

func NewController(policy Policy) *Controller {
	return &Controller{policy: policy, now: time.Now}
}

// WithClock replaces the time source used for attempt timestamps.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now

	return c
}

// Policy returns the backoff policy.
func (c *Controller) Policy() Policy {
	return c.policy
}

// Run executes attempts until one succeeds, a non-retryable error occurs, retries are
// exhausted, or ctx is cancelled. Attempts are strictly sequential: After for attempt N
// returns before attempt N+1 starts.
//
// A handler that ignores its deadline keeps running after its attempt is recorded as a
// timeout. The next attempt waits for that call to return, for at most one more step
// timeout; past that grace the two calls may overlap. Cancellation does not wait.
func (c *Controller) Run(ctx context.Context, plan Plan, fn AttemptFunc, hooks Hooks) Outcome {
	retryCount := 0

	for number := 1; ; number++ {
		if hooks.Before != nil {
			if err := hooks.Before(number, retryCount); err != nil {
				return Outcome{
					Err:        &StepError{Kind: KindCancelled, StepID: plan.StepID, Attempt: number, Err: err},
					Attempts:   number - 1,
					RetryCount: retryCount,
				}
			}
		}

		if ctx.Err() != nil {
			return Outcome{
				Err:        &StepError{Kind: KindCancelled, StepID: plan.StepID, Attempt: number, Err: ErrCancelled},
				Attempts:   number - 1,
				RetryCount: retryCount,
			}
		}

		attempt := c.attempt(ctx, plan, number, fn)
		attempt.RetryCount = retryCount

		retry := attempt.Err != nil && attempt.Err.Retryable() && retryCount < plan.MaxRetries
		if retry {
			attempt.Backoff = c.policy.Delay(retryCount)
		} else {
			attempt.Final = true
		}

		if hooks.After != nil {
			hooks.After(attempt)
		}

		if !retry {
			return Outcome{Result: attempt.Result, Err: attempt.Err, Attempts: number, RetryCount: retryCount}
		}

		if !sleep(ctx, attempt.Backoff) || !settle(ctx, attempt.straggler, plan.Timeout) {
			return Outcome{
				Err:        &StepError{Kind: KindCancelled, StepID: plan.StepID, Attempt: number, Err: ErrCancelled},
				Attempts:   number,
				RetryCount: retryCount,
			}
		}

		retryCount++
	}
}

type attemptResult struct {
	result *protocol.Result
	err    error
}

// attempt runs fn under the step deadline. A handler that ignores its context is
// abandoned when the deadline passes.
func (c *Controller) attempt(ctx context.Context, plan Plan, number int, fn AttemptFunc) Attempt {
	started := c.now()

	attemptCtx, cancel := context.WithTimeout(ctx, plan.Timeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: protocol.Permanent(panicError{value: r})}
			}
		}()

		result, err := fn(attemptCtx, number)
		done <- attemptResult{result: result, err: err}
	}()

	var (
		res       attemptResult
		straggler <-chan struct{}
	)

	select {
	case res = <-done:
	case <-attemptCtx.Done():
		select {
		case res = <-done:
		default:
			res = attemptResult{err: attemptCtx.Err()}
			straggler = finished
		}
	}

	out := Attempt{
		Number:      number,
		StartedAt:   started,
		CompletedAt: c.now(),
		Result:      res.result,
		straggler:   straggler,
	}

	out.Err = Classify(ctx, attemptCtx, plan.StepID, number, res.err)

	return out
}

// settle waits for an abandoned handler call to return, up to grace. It reports false
// when ctx is cancelled first.
func settle(ctx context.Context, straggler <-chan struct{}, grace time.Duration) bool {
	if straggler == nil {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-straggler:
		return true
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

type panicError struct {
	value any
}

func (p panicError) Error() string {
	return "handler panicked: " + stringOf(p.value)
}

func stringOf(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}

	if s, ok := v.(string); ok {
		return s
	}

	return "non-error panic value"
}
