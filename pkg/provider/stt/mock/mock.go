// Package mock provides test doubles for the stt package interfaces.
//
// Backend returns queued results or errors in call order and records every
// request it receives:
//
//	b := &mock.Backend{
//	    BackendName: "remote",
//	    Responses:   []mock.Response{{Err: errors.New("boom")}, {Result: &stt.Result{Text: "hi"}}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scrumscribe/pkg/provider/stt"
)

// Response is one scripted outcome of Backend.Transcribe.
type Response struct {
	Result *stt.Result
	Err    error
}

// Backend is a mock implementation of stt.Backend and stt.HealthChecker.
type Backend struct {
	mu sync.Mutex

	// BackendName is returned by Name. Defaults to "mock".
	BackendName string

	// Responses are consumed in order. When exhausted the last entry is
	// repeated; with no entries Transcribe returns stt.ErrNoSpeech.
	Responses []Response

	// HealthResult and HealthErr are returned by Health.
	HealthResult stt.Health
	HealthErr    error

	// TranscribeCalls records every request passed to Transcribe.
	TranscribeCalls []stt.Request

	// HealthCalls is the number of times Health was called.
	HealthCalls int
}

// Name returns BackendName or "mock".
func (b *Backend) Name() string {
	if b.BackendName == "" {
		return "mock"
	}
	return b.BackendName
}

// Transcribe records the call and returns the next scripted response.
func (b *Backend) Transcribe(_ context.Context, req stt.Request) (*stt.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.TranscribeCalls = append(b.TranscribeCalls, req)
	if len(b.Responses) == 0 {
		return nil, stt.ErrNoSpeech
	}
	idx := min(len(b.TranscribeCalls)-1, len(b.Responses)-1)
	r := b.Responses[idx]
	if r.Result != nil {
		cp := *r.Result
		return &cp, r.Err
	}
	return nil, r.Err
}

// Health records the call and returns HealthResult, HealthErr.
func (b *Backend) Health(_ context.Context) (stt.Health, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.HealthCalls++
	return b.HealthResult, b.HealthErr
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (b *Backend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.TranscribeCalls = nil
	b.HealthCalls = 0
}

var (
	_ stt.Backend       = (*Backend)(nil)
	_ stt.HealthChecker = (*Backend)(nil)
)
