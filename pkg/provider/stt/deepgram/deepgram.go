// Package deepgram provides an STT backend built on the Deepgram streaming
// WebSocket API.
//
// Each utterance is sent over its own short-lived stream: the WAV file is
// written as binary frames, a CloseStream message flushes the recogniser, and
// the final results received before the server closes are joined into one
// [stt.Result]. Deepgram detects the WAV container itself, so no encoding
// parameters are sent.
//
// Usage:
//
//	b, err := deepgram.New(apiKey, deepgram.WithLanguage("th"))
//	res, err := b.Transcribe(ctx, stt.Request{SpeakerID: "42", Audio: wav})
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/scrumscribe/pkg/provider/stt"
)

const (
	defaultEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "th"
	defaultTimeout  = 2 * time.Minute

	// chunkSize is the size of each binary frame.
	chunkSize = 8 << 10

	readLimit = 1 << 20
)

var _ stt.Backend = (*Backend)(nil)

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithModel sets the Deepgram model (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(b *Backend) { b.model = model }
}

// WithLanguage sets the language used when a request carries none.
func WithLanguage(language string) Option {
	return func(b *Backend) { b.language = language }
}

// WithEndpoint overrides the streaming endpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(b *Backend) { b.endpoint = endpoint }
}

// WithTimeout bounds one Transcribe call. Defaults to 2 minutes.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) { b.timeout = d }
}

// Backend implements stt.Backend against Deepgram.
type Backend struct {
	apiKey   string
	endpoint string
	model    string
	language string
	timeout  time.Duration
}

// New creates a Backend. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Backend, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	b := &Backend{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Name returns "deepgram".
func (b *Backend) Name() string { return "deepgram" }

// buildURL constructs the streaming endpoint URL for one request.
func (b *Backend) buildURL(language string) (string, error) {
	u, err := url.Parse(b.endpoint)
	if err != nil {
		return "", err
	}
	if language == "" {
		language = b.language
	}
	q := u.Query()
	q.Set("model", b.model)
	q.Set("language", language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// response is one Deepgram server message. Only Results and Metadata are
// used.
type response struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Transcribe streams req.Audio and returns the joined final transcript.
// A stream with no final text yields [stt.ErrNoSpeech].
func (b *Backend) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	wsURL, err := b.buildURL(req.Language)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+b.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	for off := 0; off < len(req.Audio); off += chunkSize {
		end := min(off+chunkSize, len(req.Audio))
		if err := conn.Write(ctx, websocket.MessageBinary, req.Audio[off:end]); err != nil {
			return nil, fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return nil, fmt.Errorf("deepgram: close stream: %w", err)
	}

	var (
		texts    []string
		segments []stt.Segment
		confSum  float64
		duration float64
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return nil, fmt.Errorf("deepgram: read: %w", err)
		}
		var r response
		if err := json.Unmarshal(msg, &r); err != nil {
			continue
		}
		if r.Type == "Metadata" {
			duration = r.Duration
			continue
		}
		if r.Type != "Results" || !r.IsFinal || len(r.Channel.Alternatives) == 0 {
			continue
		}
		alt := r.Channel.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			continue
		}
		texts = append(texts, text)
		confSum += alt.Confidence
		segments = append(segments, stt.Segment{
			Start: seconds(r.Start),
			End:   seconds(r.Start + r.Duration),
			Text:  text,
		})
	}
	conn.Close(websocket.StatusNormalClosure, "")

	if len(texts) == 0 {
		return nil, stt.ErrNoSpeech
	}
	res := &stt.Result{
		SpeakerID:  req.SpeakerID,
		Text:       strings.Join(texts, " "),
		Confidence: confSum / float64(len(texts)),
		Timestamp:  time.Now(),
		Language:   req.Language,
		Segments:   segments,
		Backend:    b.Name(),
		Duration:   seconds(duration),
	}
	if res.Language == "" {
		res.Language = b.language
	}
	if res.Confidence <= 0 {
		res.Confidence = stt.DefaultConfidence
	}
	return res, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
