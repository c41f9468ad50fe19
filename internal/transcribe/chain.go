package transcribe

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/scrumscribe/internal/observe"
	"github.com/MrWong99/scrumscribe/internal/resilience"
	"github.com/MrWong99/scrumscribe/pkg/provider/stt"
	"go.opentelemetry.io/otel/metric"
)

// Tier is one backend of a transcription chain with its own retry policy.
type Tier struct {
	Backend stt.Backend
	Retry   resilience.Policy
}

// NewChain builds the fallback chain over tiers, in order. Each backend is
// instrumented with m when it is non-nil.
func NewChain(cb resilience.CircuitBreakerConfig, m *observe.Metrics, tiers ...Tier) (*resilience.STTFallback, error) {
	if len(tiers) == 0 {
		return nil, errors.New("transcribe: at least one backend tier is required")
	}
	wrap := func(b stt.Backend) stt.Backend {
		if m == nil {
			return b
		}
		return &instrumented{Backend: b, metrics: m}
	}
	chain := resilience.NewSTTFallback(wrap(tiers[0].Backend), tiers[0].Retry, cb)
	for _, t := range tiers[1:] {
		chain.AddFallback(wrap(t.Backend), t.Retry)
	}
	return chain, nil
}

// instrumented records latency and outcome of every call to the wrapped
// backend. It always satisfies [stt.HealthChecker]; backends without a probe
// report ready.
type instrumented struct {
	stt.Backend
	metrics *observe.Metrics
}

var (
	_ stt.Backend       = (*instrumented)(nil)
	_ stt.HealthChecker = (*instrumented)(nil)
)

func (i *instrumented) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	start := time.Now()
	res, err := i.Backend.Transcribe(ctx, req)
	name := i.Backend.Name()

	status := "ok"
	switch {
	case errors.Is(err, stt.ErrNoSpeech):
		status = "no_speech"
	case err != nil:
		status = "error"
	}
	i.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("backend", name)))
	i.metrics.RecordSTTRequest(ctx, name, status)
	return res, err
}

func (i *instrumented) Health(ctx context.Context) (stt.Health, error) {
	if hc, ok := i.Backend.(stt.HealthChecker); ok {
		return hc.Health(ctx)
	}
	return stt.Health{Ready: true}, nil
}
