// Package transcribe turns captured utterances into transcript entries.
//
// An [Orchestrator] takes one [audio.Segment], wraps it as WAV, and sends it
// through a backend chain (normally remote first, local second; see
// [NewChain]). Failures are logged and absorbed: the caller only ever sees a
// result or nil.
package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/scrumscribe/internal/observe"
	"github.com/MrWong99/scrumscribe/internal/transcriptlog"
	"github.com/MrWong99/scrumscribe/pkg/audio"
	"github.com/MrWong99/scrumscribe/pkg/provider/stt"
)

// MinAudioBytes is the smallest buffer worth sending to a backend.
const MinAudioBytes = 1024

// Sink receives accepted transcriptions. *session.Session implements it.
type Sink interface {
	// Begin marks one transcription in flight; the returned func ends it and
	// is safe to call more than once.
	Begin() (done func())

	// AddEntry stores a transcription and reports whether it was new.
	AddEntry(speakerID, text string, confidence float64) bool
}

// Appender persists accepted transcriptions. *transcriptlog.Log implements it.
type Appender interface {
	Append(transcriptlog.Line) error
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	backend  stt.Backend
	upload   audio.Format
	language string
	minBytes int
	log      Appender
	metrics  *observe.Metrics
	now      func() time.Time

	wg sync.WaitGroup
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithUploadFormat converts PCM segments to f before upload. The zero value
// keeps the capture format.
func WithUploadFormat(f audio.Format) Option {
	return func(o *Orchestrator) { o.upload = f }
}

// WithLanguage sets the language hint passed to backends.
func WithLanguage(lang string) Option {
	return func(o *Orchestrator) { o.language = lang }
}

// WithMinAudioBytes overrides [MinAudioBytes].
func WithMinAudioBytes(n int) Option {
	return func(o *Orchestrator) { o.minBytes = n }
}

// WithTranscriptLog appends every accepted result to a.
func WithTranscriptLog(a Appender) Option {
	return func(o *Orchestrator) { o.log = a }
}

// WithMetrics records the pending gauge and entry counter to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator over backend.
func New(backend stt.Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:  backend,
		minBytes: MinAudioBytes,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Backend returns the backend chain.
func (o *Orchestrator) Backend() stt.Backend { return o.backend }

// Transcribe returns the recognised text of seg, or nil when the segment is
// too short, every backend failed, or nothing was said.
func (o *Orchestrator) Transcribe(ctx context.Context, seg audio.Segment) *stt.Result {
	if len(seg.Data) == 0 || len(seg.Data) < o.minBytes {
		slog.Debug("transcribe: segment too short, skipping",
			"speaker", seg.SpeakerID, "bytes", len(seg.Data), "min_bytes", o.minBytes)
		return nil
	}

	upload := o.upload
	if !upload.Valid() {
		upload = seg.Format
	}
	req := stt.Request{
		SpeakerID: seg.SpeakerID,
		Audio:     seg.WAV(upload),
		Format:    stt.Format{SampleRate: upload.SampleRate, Channels: upload.Channels},
		Language:  o.language,
	}
	if seg.Encoding == audio.EncodingWAV {
		req.Format = stt.Format{SampleRate: seg.Format.SampleRate, Channels: seg.Format.Channels}
	}

	ctx, span := observe.StartSpan(ctx, "transcribe.segment",
		observe.KeySpeakerID.String(seg.SpeakerID),
		observe.KeyBytes.Int(len(seg.Data)),
	)
	res, err := o.backend.Transcribe(ctx, req)
	if res != nil {
		span.SetAttributes(observe.KeyBackend.String(res.Backend))
	}
	observe.EndSpan(span, err, stt.ErrNoSpeech)

	switch {
	case errors.Is(err, stt.ErrNoSpeech):
		slog.Debug("transcribe: no speech recognised", "speaker", seg.SpeakerID)
		return nil
	case err != nil:
		slog.Warn("transcribe: all backends failed", "speaker", seg.SpeakerID, "bytes", len(seg.Data), "err", err)
		return nil
	case res == nil:
		return nil
	}

	res.Text = strings.TrimSpace(res.Text)
	if res.Text == "" {
		return nil
	}
	res.SpeakerID = seg.SpeakerID
	if res.Timestamp.IsZero() {
		res.Timestamp = seg.End
		if res.Timestamp.IsZero() {
			res.Timestamp = o.now()
		}
	}
	if res.Confidence <= 0 {
		res.Confidence = stt.DefaultConfidence
	}
	if res.Duration == 0 {
		res.Duration = seg.Duration()
	}
	return res
}

// Process transcribes seg under sink's pending guard, then records the result
// in the transcript log and in sink. It returns the accepted result or nil.
func (o *Orchestrator) Process(ctx context.Context, sink Sink, seg audio.Segment) *stt.Result {
	done := o.begin(ctx, sink)
	defer done()
	return o.process(ctx, sink, seg)
}

// Submit is Process on a new goroutine. The pending guard is taken before
// Submit returns, so a drain started afterwards waits for this segment.
func (o *Orchestrator) Submit(ctx context.Context, sink Sink, seg audio.Segment) {
	done := o.begin(ctx, sink)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer done()
		o.process(ctx, sink, seg)
	}()
}

// Wait blocks until every submitted segment has been processed.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) begin(ctx context.Context, sink Sink) func() {
	release := sink.Begin()
	if o.metrics == nil {
		return release
	}
	o.metrics.PendingTranscriptions.Add(ctx, 1)
	var once sync.Once
	return func() {
		once.Do(func() {
			o.metrics.PendingTranscriptions.Add(context.WithoutCancel(ctx), -1)
		})
		release()
	}
}

func (o *Orchestrator) process(ctx context.Context, sink Sink, seg audio.Segment) *stt.Result {
	res := o.Transcribe(ctx, seg)
	if res == nil {
		return nil
	}

	if o.log != nil {
		line := transcriptlog.Line{
			Timestamp:  res.Timestamp,
			Speaker:    res.SpeakerID,
			Text:       res.Text,
			Confidence: res.Confidence,
		}
		if err := o.log.Append(line); err != nil {
			slog.Warn("transcribe: failed to append transcript log", "err", err)
		}
	}

	if !sink.AddEntry(res.SpeakerID, res.Text, res.Confidence) {
		slog.Debug("transcribe: duplicate entry ignored", "speaker", res.SpeakerID)
		return res
	}
	if o.metrics != nil {
		o.metrics.TranscriptEntries.Add(ctx, 1)
	}
	slog.Info("transcribed utterance",
		"speaker", res.SpeakerID,
		"backend", res.Backend,
		"confidence", res.Confidence,
		"chars", len(res.Text),
	)
	return res
}
