package datasvc

import (
	"time"

	"github.com/amuzetnoM/datasvc/internal/backoff"
)

// RetryPolicy configures the retry engine. Retries apply only to transient
// failures (see IsTransient); terminal failures propagate on first
// occurrence.
type RetryPolicy struct {
	Enabled            bool
	MaxRetries         int
	BaseDelay          time.Duration
	ExponentialBackoff bool
}

type retryEngine struct {
	policy   RetryPolicy
	strategy backoff.Strategy

	// onRetry is invoked before each retry sleep; used by the facade for
	// metrics and logging. May be nil.
	onRetry func(attempt int, delay time.Duration, err error)

	// sleep is swapped in tests to observe the schedule without waiting.
	sleep func(time.Duration)
}

func newRetryEngine(policy RetryPolicy) *retryEngine {
	var strategy backoff.Strategy = backoff.Constant{}
	if policy.ExponentialBackoff {
		strategy = backoff.Exponential{}
	}
	return &retryEngine{
		policy:   policy,
		strategy: strategy,
		sleep:    time.Sleep,
	}
}

// Execute runs op, re-issuing it on transient failures with the configured
// backoff schedule until it succeeds or the retry budget is exhausted. The
// last failure is surfaced with attempt counts attached. Once dispatched a
// retry sequence runs to completion; it does not observe cancellation.
func (e *retryEngine) Execute(op func() (any, error)) (any, error) {
	attempt := 0
	for {
		v, err := op()
		if err == nil {
			return v, nil
		}
		if !e.policy.Enabled || attempt >= e.policy.MaxRetries || !IsTransient(err) {
			return nil, e.annotate(err, attempt)
		}

		attempt++
		delay := e.strategy.Delay(attempt, e.policy.BaseDelay)
		if e.onRetry != nil {
			e.onRetry(attempt, delay, err)
		}
		e.sleep(delay)
	}
}

// annotate attaches attempt counts to the surfaced failure without
// touching its status or message.
func (e *retryEngine) annotate(err error, attempt int) error {
	if de, ok := err.(*Error); ok {
		de.Attempt = attempt
		de.MaxAttempts = e.policy.MaxRetries
		return de
	}
	return err
}
