package stt

import "time"

// Format describes the PCM layout of the audio inside a WAV request.
type Format struct {
	SampleRate int
	Channels   int
}

// Request is one utterance to transcribe.
type Request struct {
	// SpeakerID is forwarded to backends that accept a caller identifier.
	SpeakerID string

	// Audio is a complete RIFF/WAV file.
	Audio []byte

	Format Format

	// Language is a hint (e.g. "th", "en"). Empty lets the backend decide.
	Language string
}

// Segment is a timed span of recognised text.
type Segment struct {
	Start   time.Duration
	End     time.Duration
	Text    string
	LogProb float64
}

// Result is a canonical transcription result.
type Result struct {
	SpeakerID  string
	Text       string
	Confidence float64
	Timestamp  time.Time
	Language   string
	Segments   []Segment

	// Backend is the Name of the backend that produced the result.
	Backend string

	// Duration is the audio length reported by the backend, if any.
	Duration time.Duration
}

// Health is a backend readiness report. Model, Device, and WER are
// informational.
type Health struct {
	Ready  bool
	Model  string
	Device string
	WER    float64
}

// DefaultConfidence is reported when a backend does not supply a confidence.
const DefaultConfidence = 0.95
