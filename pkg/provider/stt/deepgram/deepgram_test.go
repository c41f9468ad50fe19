package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/scrumscribe/pkg/provider/stt"
)

// fakeDeepgram accepts one stream, collects the binary audio until
// CloseStream, replies with msgs, and closes normally.
type fakeDeepgram struct {
	msgs []string

	mu       sync.Mutex
	auth     string
	query    url.Values
	received int
	closed   bool
}

func (f *fakeDeepgram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.auth = r.Header.Get("Authorization")
	f.query = r.URL.Query()
	f.mu.Unlock()

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.CloseNow()

	ctx := r.Context()
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageText && strings.Contains(string(data), "CloseStream") {
			f.mu.Lock()
			f.closed = true
			f.mu.Unlock()
			break
		}
		f.mu.Lock()
		f.received += len(data)
		f.mu.Unlock()
	}
	for _, m := range f.msgs {
		if err := c.Write(ctx, websocket.MessageText, []byte(m)); err != nil {
			return
		}
	}
	c.Close(websocket.StatusNormalClosure, "")
}

func newBackend(t *testing.T, f *fakeDeepgram, opts ...Option) *Backend {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/listen"
	b, err := New("test-key", append([]Option{WithEndpoint(endpoint)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty apiKey, got nil")
	}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		opts     []Option
		language string
		wantLang string
		model    string
	}{
		{name: "defaults", wantLang: "th", model: "nova-3"},
		{name: "request language wins", opts: []Option{WithLanguage("en")}, language: "de", wantLang: "de", model: "nova-3"},
		{name: "custom model", opts: []Option{WithModel("base"), WithLanguage("en")}, wantLang: "en", model: "base"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b, err := New("key", tc.opts...)
			if err != nil {
				t.Fatal(err)
			}
			raw, err := b.buildURL(tc.language)
			if err != nil {
				t.Fatalf("buildURL: %v", err)
			}
			u, err := url.Parse(raw)
			if err != nil {
				t.Fatal(err)
			}
			q := u.Query()
			if q.Get("language") != tc.wantLang || q.Get("model") != tc.model || q.Get("punctuate") != "true" {
				t.Errorf("query = %v", q)
			}
			if q.Has("encoding") || q.Has("sample_rate") {
				t.Errorf("containerized audio must not set encoding parameters: %v", q)
			}
		})
	}
}

func TestTranscribe_JoinsFinalResults(t *testing.T) {
	t.Parallel()

	f := &fakeDeepgram{msgs: []string{
		`{"type":"Results","is_final":false,"start":0,"duration":0.5,"channel":{"alternatives":[{"transcript":"login","confidence":0.5}]}}`,
		`{"type":"Results","is_final":true,"start":0,"duration":1.0,"channel":{"alternatives":[{"transcript":"login feature","confidence":0.8}]}}`,
		`{"type":"Results","is_final":true,"start":1.0,"duration":0.5,"channel":{"alternatives":[{"transcript":"","confidence":0}]}}`,
		`not json`,
		`{"type":"Results","is_final":true,"start":1.5,"duration":0.5,"channel":{"alternatives":[{"transcript":" done ","confidence":1.0}]}}`,
		`{"type":"Metadata","duration":2.0}`,
	}}
	b := newBackend(t, f)

	audio := make([]byte, 3*chunkSize+100)
	res, err := b.Transcribe(context.Background(), stt.Request{SpeakerID: "42", Audio: audio})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "login feature done" {
		t.Errorf("Text = %q, want %q", res.Text, "login feature done")
	}
	if res.Confidence < 0.9-1e-9 || res.Confidence > 0.9+1e-9 {
		t.Errorf("Confidence = %v, want 0.9", res.Confidence)
	}
	if res.SpeakerID != "42" || res.Backend != "deepgram" || res.Language != "th" {
		t.Errorf("result = %+v", res)
	}
	if res.Duration != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", res.Duration)
	}
	if len(res.Segments) != 2 || res.Segments[1].Start != 1500*time.Millisecond {
		t.Errorf("Segments = %+v", res.Segments)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auth != "Token test-key" {
		t.Errorf("Authorization = %q", f.auth)
	}
	if f.received != len(audio) || !f.closed {
		t.Errorf("server received %d bytes (closed=%v), want %d", f.received, f.closed, len(audio))
	}
}

func TestTranscribe_NoSpeech(t *testing.T) {
	t.Parallel()

	f := &fakeDeepgram{msgs: []string{`{"type":"Metadata","duration":1.0}`}}
	b := newBackend(t, f)

	_, err := b.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 100)})
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
}

func TestTranscribe_DialFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	b, err := New("bad", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 10)}); err == nil {
		t.Fatal("expected dial error, got nil")
	}
}

func TestTranscribe_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	b, err := New("key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")), WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 10)}); err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}
