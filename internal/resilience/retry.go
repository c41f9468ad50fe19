package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how many times a call is attempted and how long to wait
// between attempts.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 mean a single attempt.
	MaxAttempts int

	// NewBackOff returns a fresh delay sequence. Nil means no delay.
	NewBackOff func() backoff.BackOff
}

// Exponential doubles the delay after each failure, starting at initial and
// capped at ceiling, without jitter: min(initial·2^i, ceiling).
func Exponential(initial, ceiling time.Duration, attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = ceiling
			b.Multiplier = 2
			b.RandomizationFactor = 0
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		},
	}
}

// Linear waits step·n before the n-th retry.
func Linear(step time.Duration, attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		NewBackOff:  func() backoff.BackOff { return &linearBackOff{step: step} },
	}
}

// NoRetry attempts once.
func NoRetry() Policy { return Policy{MaxAttempts: 1} }

func (p Policy) attempts() int { return max(p.MaxAttempts, 1) }

func (p Policy) backOff() backoff.BackOff {
	if p.NewBackOff == nil {
		return &backoff.ZeroBackOff{}
	}
	return p.NewBackOff()
}

// Delays returns the waits the policy inserts between its attempts.
func (p Policy) Delays() []time.Duration {
	b := p.backOff()
	out := make([]time.Duration, 0, p.attempts()-1)
	for range p.attempts() - 1 {
		d := b.NextBackOff()
		if d == backoff.Stop {
			break
		}
		out = append(out, d)
	}
	return out
}

type linearBackOff struct {
	mu   sync.Mutex
	step time.Duration
	n    int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.n++
	return time.Duration(l.n) * l.step
}

func (l *linearBackOff) Reset() {
	l.mu.Lock()
	l.n = 0
	l.mu.Unlock()
}

// Retry runs op until it succeeds, the policy is exhausted, or ctx is done.
// Errors for which retryable returns false end the loop immediately; a nil
// retryable retries everything. The last error is returned.
func Retry(ctx context.Context, p Policy, name string, op func(ctx context.Context) error, retryable func(error) bool) error {
	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(p.attempts()-1)), ctx)
	return backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err != nil && retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		slog.Warn("attempt failed, retrying",
			"name", name,
			"attempt", attempt,
			"max_attempts", p.attempts(),
			"wait", wait,
			"err", err,
		)
	})
}
