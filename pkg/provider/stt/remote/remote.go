// Package remote provides an STT backend that posts WAV audio to a hosted
// Whisper service (typically a GPU notebook exposed through a tunnel).
//
// The service exposes two endpoints:
//
//	POST /transcribe  {"audio": "<base64 wav>", "user_id": "<speaker>"}
//	GET  /health      {"status": "healthy", "model": "...", "device": "...", "wer": 3.2}
//
// Large uploads take longer to transfer and decode, so every call runs under a
// deadline scaled by the audio size (see [TimeoutFor]).
//
// Usage:
//
//	b, err := remote.New("https://example.ngrok.app", remote.WithLanguage("th"))
//	res, err := b.Transcribe(ctx, stt.Request{SpeakerID: "42", Audio: wav})
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/scrumscribe/pkg/provider/stt"
)

const (
	mib = 1 << 20

	defaultLanguage      = "th"
	defaultHealthTimeout = 10 * time.Second

	// maxErrorBody bounds how much of a failed response body is kept in the
	// returned error.
	maxErrorBody = 512
)

var (
	_ stt.Backend       = (*Backend)(nil)
	_ stt.HealthChecker = (*Backend)(nil)
)

// TimeoutStep maps uploads smaller than Below bytes to Timeout.
type TimeoutStep struct {
	Below   int
	Timeout time.Duration
}

// DefaultTimeoutSteps returns the standard size-scaled deadlines: 30 s under
// 1 MiB, 120 s under 10 MiB.
func DefaultTimeoutSteps() []TimeoutStep {
	return []TimeoutStep{
		{Below: 1 * mib, Timeout: 30 * time.Second},
		{Below: 10 * mib, Timeout: 120 * time.Second},
	}
}

// DefaultMaxTimeout applies to uploads beyond every step.
const DefaultMaxTimeout = 300 * time.Second

// TimeoutFor returns the deadline for an upload of size bytes using the
// default steps.
func TimeoutFor(size int) time.Duration {
	return timeoutFor(size, DefaultTimeoutSteps(), DefaultMaxTimeout)
}

func timeoutFor(size int, steps []TimeoutStep, ceiling time.Duration) time.Duration {
	for _, s := range steps {
		if size < s.Below {
			return s.Timeout
		}
	}
	return ceiling
}

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithLanguage sets the language reported when the service omits one.
// Defaults to "th".
func WithLanguage(lang string) Option {
	return func(b *Backend) { b.language = lang }
}

// WithTimeoutSteps overrides the size-scaled deadlines. Steps must be sorted
// by Below ascending; ceiling applies beyond the last step.
func WithTimeoutSteps(steps []TimeoutStep, ceiling time.Duration) Option {
	return func(b *Backend) {
		b.steps = steps
		b.ceiling = ceiling
	}
}

// WithHealthTimeout sets the deadline of the health probe. Defaults to 10 s.
func WithHealthTimeout(d time.Duration) Option {
	return func(b *Backend) { b.healthTimeout = d }
}

// WithHTTPClient replaces the HTTP client. The client should not carry its own
// Timeout since deadlines are applied per request.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.client = c }
}

// Backend implements stt.Backend against a hosted Whisper service.
type Backend struct {
	baseURL       string
	language      string
	steps         []TimeoutStep
	ceiling       time.Duration
	healthTimeout time.Duration
	client        *http.Client
}

// New creates a Backend for the service at baseURL. baseURL must be non-empty;
// a trailing slash is ignored.
func New(baseURL string, opts ...Option) (*Backend, error) {
	if baseURL == "" {
		return nil, errors.New("remote: baseURL must not be empty")
	}
	b := &Backend{
		baseURL:       strings.TrimRight(baseURL, "/"),
		language:      defaultLanguage,
		steps:         DefaultTimeoutSteps(),
		ceiling:       DefaultMaxTimeout,
		healthTimeout: defaultHealthTimeout,
		client:        &http.Client{},
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Name returns "remote".
func (b *Backend) Name() string { return "remote" }

// TimeoutFor returns the deadline this backend applies to an upload of size
// bytes.
func (b *Backend) TimeoutFor(size int) time.Duration {
	return timeoutFor(size, b.steps, b.ceiling)
}

type transcribeRequest struct {
	Audio  string `json:"audio"`
	UserID string `json:"user_id"`
}

type transcribeResponse struct {
	Transcript string            `json:"transcript"`
	Confidence *float64          `json:"confidence"`
	Segments   []stt.WireSegment `json:"segments"`
	Language   string            `json:"language"`
	Duration   float64           `json:"duration"`
	WER        float64           `json:"wer"`
	Device     string            `json:"device"`
}

// Transcribe uploads req.Audio and returns the service's transcript. A
// response without transcript yields [stt.ErrNoSpeech].
func (b *Backend) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	payload, err := json.Marshal(transcribeRequest{
		Audio:  base64.StdEncoding.EncodeToString(req.Audio),
		UserID: req.SpeakerID,
	})
	if err != nil {
		return nil, fmt.Errorf("remote: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.TimeoutFor(len(req.Audio)))
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/transcribe", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("remote: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("remote: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("remote: decode response: %w", err)
	}
	if strings.TrimSpace(out.Transcript) == "" {
		return nil, stt.ErrNoSpeech
	}

	res := &stt.Result{
		SpeakerID:  req.SpeakerID,
		Text:       out.Transcript,
		Confidence: stt.DefaultConfidence,
		Timestamp:  time.Now(),
		Language:   b.language,
		Segments:   stt.Segments(out.Segments),
		Backend:    b.Name(),
		Duration:   time.Duration(out.Duration * float64(time.Second)),
	}
	if out.Confidence != nil && *out.Confidence > 0 {
		res.Confidence = *out.Confidence
	}
	if out.Language != "" {
		res.Language = out.Language
	}
	return res, nil
}

type healthResponse struct {
	Status string  `json:"status"`
	Model  string  `json:"model"`
	Device string  `json:"device"`
	WER    float64 `json:"wer"`
}

// Health probes GET /health. A reachable service that does not report
// "healthy" returns Ready=false with a nil error.
func (b *Backend) Health(ctx context.Context) (stt.Health, error) {
	ctx, cancel := context.WithTimeout(ctx, b.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return stt.Health{}, fmt.Errorf("remote: create health request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return stt.Health{}, fmt.Errorf("remote: health request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Health{}, fmt.Errorf("remote: health returned HTTP %d", resp.StatusCode)
	}
	var hr healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return stt.Health{}, fmt.Errorf("remote: decode health: %w", err)
	}
	return stt.Health{
		Ready:  hr.Status == "healthy",
		Model:  hr.Model,
		Device: hr.Device,
		WER:    hr.WER,
	}, nil
}
