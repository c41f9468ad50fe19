package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails, is
// gated off, or has an open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// ErrNotReady is the gate error used when an entry reports it is not ready.
var ErrNotReady = errors.New("provider not ready")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker; Name is
	// replaced by the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Terminal reports errors that end the whole call without trying further
	// entries and without counting against the breaker (for example "no
	// speech"). Nil treats no error as terminal.
	Terminal func(error) bool
}

// EntryOption configures one entry of a [FallbackGroup].
type EntryOption[T any] func(*fallbackEntry[T])

// WithRetry retries an entry under p before moving on.
func WithRetry[T any](p Policy) EntryOption[T] {
	return func(e *fallbackEntry[T]) { e.retry = p }
}

// WithGate runs gate before each call to the entry; a non-nil error skips the
// entry. Gate failures count against the entry's breaker.
func WithGate[T any](gate func(ctx context.Context, v T) error) EntryOption[T] {
	return func(e *fallbackEntry[T]) { e.gate = gate }
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
	retry   Policy
	gate    func(ctx context.Context, v T) error
}

// FallbackGroup holds a primary and zero or more fallbacks of the same type,
// tried in registration order.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig, opts ...EntryOption[T]) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary, opts...)
	return fg
}

// AddFallback appends an entry tried after all previously added ones.
func (fg *FallbackGroup[T]) AddFallback(name string, v T, opts ...EntryOption[T]) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	terminal, inner := fg.cfg.Terminal, cbCfg.IsFailure
	cbCfg.IsFailure = func(err error) bool {
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			return false
		case terminal != nil && terminal(err):
			return false
		}
		return inner == nil || inner(err)
	}
	e := fallbackEntry[T]{
		name:    name,
		value:   v,
		breaker: NewCircuitBreaker(cbCfg),
		retry:   NoRetry(),
	}
	for _, o := range opts {
		o(&e)
	}
	fg.entries = append(fg.entries, e)
}

// Names returns the entry names in order.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// Breaker returns the circuit breaker of the named entry, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for i := range fg.entries {
		if fg.entries[i].name == name {
			return fg.entries[i].breaker
		}
	}
	return nil
}

// Execute tries fn against each entry until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry until one succeeds, returning
// its result. Each entry is gated, then retried under its policy inside its
// breaker. A terminal error is returned as is; exhausting every entry returns
// [ErrAllFailed] wrapping the last error.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		e := &fg.entries[i]

		var result R
		err := e.breaker.Execute(func() error {
			if e.gate != nil {
				if gerr := e.gate(ctx, e.value); gerr != nil {
					return fmt.Errorf("%s: %w", e.name, gerr)
				}
			}
			return Retry(ctx, e.retry, e.name, func(ctx context.Context) error {
				var inner error
				result, inner = fn(ctx, e.value)
				return inner
			}, fg.retryable)
		})
		if err == nil {
			return result, nil
		}
		if fg.cfg.Terminal != nil && fg.cfg.Terminal(err) {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (fg *FallbackGroup[T]) retryable(err error) bool {
	return fg.cfg.Terminal == nil || !fg.cfg.Terminal(err)
}
