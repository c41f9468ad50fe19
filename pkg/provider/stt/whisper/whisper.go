// Package whisper provides an STT backend for a whisper.cpp server
// (the whisper-server binary), which exposes:
//
//	POST /inference  multipart form: file=<wav>, language, response_format
//	GET  /health     {"status": "ok"} once the model is loaded
//
// whisper-server runs one inference at a time, so it suits a small team on a
// single machine with a GPU.
//
// Usage:
//
//	b, err := whisper.New("http://localhost:8080", whisper.WithLanguage("th"))
//	res, err := b.Transcribe(ctx, stt.Request{SpeakerID: "42", Audio: wav})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/scrumscribe/pkg/provider/stt"
)

const (
	defaultLanguage = "th"
	defaultTimeout  = 5 * time.Minute

	maxErrorBody = 512
)

var (
	_ stt.Backend       = (*Backend)(nil)
	_ stt.HealthChecker = (*Backend)(nil)
)

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithLanguage sets the language sent when a request carries none.
// Defaults to "th".
func WithLanguage(lang string) Option {
	return func(b *Backend) { b.language = lang }
}

// WithTimeout bounds one inference. Defaults to 5 minutes.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) { b.timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.client = c }
}

// Backend implements stt.Backend against whisper-server.
type Backend struct {
	serverURL string
	language  string
	timeout   time.Duration
	client    *http.Client
}

// New creates a Backend for the server at serverURL (e.g.
// "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Backend, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	b := &Backend{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		timeout:   defaultTimeout,
		client:    &http.Client{},
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Name returns "whisper".
func (b *Backend) Name() string { return "whisper" }

type inferenceResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads req.Audio to /inference.
func (b *Backend) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	lang := req.Language
	if lang == "" {
		lang = b.language
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("whisper: write wav data: %w", err)
	}
	for k, v := range map[string]string{"language": lang, "response_format": "verbose_json"} {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return nil, stt.ErrNoSpeech
	}

	res := &stt.Result{
		SpeakerID:  req.SpeakerID,
		Text:       text,
		Confidence: stt.DefaultConfidence,
		Timestamp:  time.Now(),
		Language:   lang,
		Backend:    b.Name(),
		Duration:   time.Duration(out.Duration * float64(time.Second)),
	}
	if out.Language != "" {
		res.Language = out.Language
	}
	for _, s := range out.Segments {
		res.Segments = append(res.Segments, stt.Segment{
			Start: time.Duration(s.Start * float64(time.Second)),
			End:   time.Duration(s.End * float64(time.Second)),
			Text:  strings.TrimSpace(s.Text),
		})
	}
	return res, nil
}

// Health probes GET /health. The server answers 503 while the model loads,
// which reports Ready=false with a nil error.
func (b *Backend) Health(ctx context.Context) (stt.Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.serverURL+"/health", nil)
	if err != nil {
		return stt.Health{}, fmt.Errorf("whisper: create health request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return stt.Health{}, fmt.Errorf("whisper: health request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return stt.Health{Ready: true, Model: "whisper.cpp"}, nil
	case http.StatusServiceUnavailable:
		return stt.Health{Model: "whisper.cpp"}, nil
	default:
		return stt.Health{}, fmt.Errorf("whisper: health returned HTTP %d", resp.StatusCode)
	}
}
