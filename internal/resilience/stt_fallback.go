package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/scrumscribe/pkg/provider/stt"
)

var _ stt.Backend = (*STTFallback)(nil)

// STTFallback implements [stt.Backend] over a tiered list of backends. A tier
// that implements [stt.HealthChecker] is probed before each call and skipped
// while unhealthy. [stt.ErrNoSpeech] from any tier ends the call without
// falling through.
type STTFallback struct {
	group *FallbackGroup[stt.Backend]
}

// NewSTTFallback creates an [STTFallback] with primary as the first tier.
func NewSTTFallback(primary stt.Backend, retry Policy, cb CircuitBreakerConfig) *STTFallback {
	cfg := FallbackConfig{
		CircuitBreaker: cb,
		Terminal:       func(err error) bool { return errors.Is(err, stt.ErrNoSpeech) },
	}
	return &STTFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg, sttEntryOptions(retry)...),
	}
}

// AddFallback registers the next tier.
func (f *STTFallback) AddFallback(b stt.Backend, retry Policy) {
	f.group.AddFallback(b.Name(), b, sttEntryOptions(retry)...)
}

func sttEntryOptions(retry Policy) []EntryOption[stt.Backend] {
	return []EntryOption[stt.Backend]{
		WithRetry[stt.Backend](retry),
		WithGate(healthGate),
	}
}

func healthGate(ctx context.Context, b stt.Backend) error {
	hc, ok := b.(stt.HealthChecker)
	if !ok {
		return nil
	}
	h, err := hc.Health(ctx)
	if err != nil {
		return err
	}
	if !h.Ready {
		return ErrNotReady
	}
	return nil
}

// Name returns the tier names joined, e.g. "remote+local".
func (f *STTFallback) Name() string {
	return strings.Join(f.group.Names(), "+")
}

// Breaker exposes the breaker of a tier for status reporting.
func (f *STTFallback) Breaker(name string) *CircuitBreaker { return f.group.Breaker(name) }

// Transcribe runs req through the tiers in order.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	res, err := ExecuteWithResult(ctx, f.group, func(ctx context.Context, b stt.Backend) (*stt.Result, error) {
		return b.Transcribe(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("stt fallback: %w", err)
	}
	return res, nil
}
