// Package stt defines the Backend interface for batch speech-to-text engines.
//
// A Backend receives one complete utterance as a WAV buffer and returns a
// single [Result]. Backends differ in where inference runs (a remote GPU
// service, a local subprocess) but all of them adapt their native response
// into the same canonical types so callers can chain them freely.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrNoSpeech is returned by a Backend when the engine completed successfully
// but recognised no text. Callers treat it as "no result" rather than a fault.
var ErrNoSpeech = errors.New("stt: no speech recognised")

// Backend is the abstraction over any batch STT engine.
type Backend interface {
	// Name identifies the backend in logs and metrics (e.g. "remote", "local").
	Name() string

	// Transcribe recognises the speech in req.Audio. It returns ErrNoSpeech
	// when the engine produced no text; any other error is a failure that the
	// caller may retry.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// HealthChecker is implemented by backends that can report readiness before a
// transcription is attempted.
type HealthChecker interface {
	Health(ctx context.Context) (Health, error)
}
