package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/scrumscribe/internal/match"
	"github.com/MrWong99/scrumscribe/internal/session"
	"github.com/MrWong99/scrumscribe/pkg/audio"
)

type fakeStandup struct {
	mu         sync.Mutex
	active     *session.Session
	segs       []audio.Segment
	stopErr    error
	matchErr   error
	matchCalls [][2]string
}

func (f *fakeStandup) Open(_ context.Context, label, startedBy string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active != nil {
		return nil, session.ErrSessionActive
	}
	f.active = session.New(label, startedBy)
	return f.active, nil
}

func (f *fakeStandup) Active() *session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeStandup) Submit(_ context.Context, seg audio.Segment) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil, session.ErrNoSession
	}
	f.segs = append(f.segs, seg)
	return f.active, nil
}

func (f *fakeStandup) Stop(_ context.Context) (*session.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil, session.ErrNoSession
	}
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	r := &session.Report{SessionID: f.active.ID, Matches: []session.SpeakerMatches{}}
	f.active = nil
	return r, nil
}

func (f *fakeStandup) Match(_ context.Context, text, assignee string) (match.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matchCalls = append(f.matchCalls, [2]string{text, assignee})
	if f.matchErr != nil {
		return match.Result{}, f.matchErr
	}
	return match.Result{Text: text, Keywords: []string{"login"}, Matches: []match.Match{{TaskID: "t1", Score: 0.9}}}, nil
}

func newMux(st Standup, opts ...Option) *http.ServeMux {
	mux := http.NewServeMux()
	New(st, opts...).Register(mux)
	return mux
}

func do(t *testing.T, h http.Handler, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e
}

func TestStart(t *testing.T) {
	t.Parallel()
	st := &fakeStandup{}
	mux := newMux(st)

	rec := do(t, mux, "POST", "/v1/sessions", "application/json", []byte(`{"channel_id":"room-1","started_by":"ops"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body)
	}
	var info SessionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.ID == "" || info.ChannelID != "room-1" || info.StartedBy != "ops" {
		t.Errorf("info = %+v", info)
	}

	rec = do(t, mux, "POST", "/v1/sessions", "application/json", []byte(`{"channel_id":"room-1","started_by":"ops"}`))
	if rec.Code != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409", rec.Code)
	}
	if e := decodeError(t, rec); e.Error != "session_active" {
		t.Errorf("error = %q", e.Error)
	}
}

func TestStart_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"missing started_by", `{"channel_id":"room-1"}`, "validation_failed"},
		{"unknown field", `{"channel_id":"a","started_by":"b","x":1}`, "invalid_request"},
		{"not json", `channel=a`, "invalid_request"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, newMux(&fakeStandup{}), "POST", "/v1/sessions", "application/json", []byte(tc.body))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if e := decodeError(t, rec); e.Error != tc.wantCode {
				t.Errorf("error = %q, want %q", e.Error, tc.wantCode)
			}
		})
	}
}

func TestCurrent(t *testing.T) {
	t.Parallel()
	st := &fakeStandup{}
	mux := newMux(st)

	if rec := do(t, mux, "GET", "/v1/sessions/current", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("idle status = %d, want 404", rec.Code)
	}

	s, _ := st.Open(context.Background(), "room-1", "ops")
	s.AddEntry("alice", "fixed the login bug", 0.9)
	done := s.Begin()
	defer done()

	rec := do(t, mux, "GET", "/v1/sessions/current", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var info SessionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.ID != s.ID || info.Entries != 1 || info.Pending != 1 {
		t.Errorf("info = %+v", info)
	}
}

func TestSegment_PCM(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		query      string
		wantFormat audio.Format
	}{
		{"capture defaults", "speaker_id=alice", audio.DiscordFormat},
		{"explicit format", "speaker_id=alice&sample_rate=16000&channels=1", audio.Format{SampleRate: 16000, Channels: 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			st := &fakeStandup{}
			_, _ = st.Open(context.Background(), "room", "ops")
			pcm := make([]byte, 4096)

			rec := do(t, newMux(st), "POST", "/v1/sessions/current/segments?"+tc.query, "application/octet-stream", pcm)
			if rec.Code != http.StatusAccepted {
				t.Fatalf("status = %d, want 202; body %s", rec.Code, rec.Body)
			}
			var got SegmentAccepted
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatal(err)
			}
			if got.SpeakerID != "alice" || got.Bytes != len(pcm) {
				t.Errorf("accepted = %+v", got)
			}
			if len(st.segs) != 1 {
				t.Fatalf("submitted %d segments, want 1", len(st.segs))
			}
			seg := st.segs[0]
			if seg.Format != tc.wantFormat || seg.Encoding != audio.EncodingPCM {
				t.Errorf("segment format = %+v encoding = %v", seg.Format, seg.Encoding)
			}
		})
	}
}

func TestSegment_WAV(t *testing.T) {
	t.Parallel()
	st := &fakeStandup{}
	_, _ = st.Open(context.Background(), "room", "ops")

	f := audio.Format{SampleRate: 16000, Channels: 1}
	pcm := bytes.Repeat([]byte{1, 0}, 2048)
	body := audio.EncodeWAV(pcm, f)

	rec := do(t, newMux(st), "POST", "/v1/sessions/current/segments?speaker_id=bob&sample_rate=1", "audio/wav", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", rec.Code, rec.Body)
	}
	seg := st.segs[0]
	if seg.Format != f {
		t.Errorf("format = %+v, want the WAV header's %+v", seg.Format, f)
	}
	if !bytes.Equal(seg.Data, pcm) {
		t.Errorf("data is %d bytes, want the %d PCM bytes", len(seg.Data), len(pcm))
	}
}

func TestSegment_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		active      bool
		query       string
		contentType string
		body        []byte
		opts        []Option
		wantStatus  int
	}{
		{"no session", false, "speaker_id=a", "", []byte{1, 2}, nil, http.StatusNotFound},
		{"missing speaker", true, "", "", []byte{1, 2}, nil, http.StatusBadRequest},
		{"bad rate", true, "speaker_id=a&sample_rate=fast", "", []byte{1, 2}, nil, http.StatusBadRequest},
		{"rate out of range", true, "speaker_id=a&sample_rate=100", "", []byte{1, 2}, nil, http.StatusBadRequest},
		{"empty body", true, "speaker_id=a", "", nil, nil, http.StatusBadRequest},
		{"not a wav", true, "speaker_id=a", "audio/wav", []byte("RIFFnope"), nil, http.StatusUnsupportedMediaType},
		{"wav without speaker", true, "", "audio/wav", []byte("RIFF"), nil, http.StatusBadRequest},
		{"too large", true, "speaker_id=a", "", make([]byte, 64), []Option{WithMaxBody(16)}, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			st := &fakeStandup{}
			if tc.active {
				_, _ = st.Open(context.Background(), "room", "ops")
			}
			rec := do(t, newMux(st, tc.opts...), "POST", "/v1/sessions/current/segments?"+tc.query, tc.contentType, tc.body)
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d; body %s", rec.Code, tc.wantStatus, rec.Body)
			}
			if len(st.segs) != 0 {
				t.Errorf("submitted %d segments, want 0", len(st.segs))
			}
		})
	}
}

func TestFinalize(t *testing.T) {
	t.Parallel()
	st := &fakeStandup{}
	mux := newMux(st)

	if rec := do(t, mux, "POST", "/v1/sessions/current/finalize", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("idle status = %d, want 404", rec.Code)
	}

	s, _ := st.Open(context.Background(), "room", "ops")
	rec := do(t, mux, "POST", "/v1/sessions/current/finalize", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var report session.Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.SessionID != s.ID {
		t.Errorf("session_id = %q, want %q", report.SessionID, s.ID)
	}
	if st.Active() != nil {
		t.Error("session still active after finalize")
	}
}

func TestFinalize_Error(t *testing.T) {
	t.Parallel()
	st := &fakeStandup{stopErr: errors.New("drain interrupted")}
	_, _ = st.Open(context.Background(), "room", "ops")

	rec := do(t, newMux(st), "POST", "/v1/sessions/current/finalize", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if e := decodeError(t, rec); !strings.Contains(e.Message, "drain interrupted") {
		t.Errorf("message = %q", e.Message)
	}
}

func TestMatch(t *testing.T) {
	t.Parallel()
	st := &fakeStandup{}

	rec := do(t, newMux(st), "POST", "/v1/match", "application/json", []byte(`{"text":"fixed the login bug","assignee":"42"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	var res match.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Text != "fixed the login bug" || len(res.Matches) != 1 || res.Matches[0].TaskID != "t1" {
		t.Errorf("result = %+v", res)
	}
	if len(st.matchCalls) != 1 || st.matchCalls[0] != [2]string{"fixed the login bug", "42"} {
		t.Errorf("match calls = %v", st.matchCalls)
	}
}

func TestMatch_Errors(t *testing.T) {
	t.Parallel()

	rec := do(t, newMux(&fakeStandup{}), "POST", "/v1/match", "application/json", []byte(`{"assignee":"42"}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing text status = %d, want 400", rec.Code)
	}

	st := &fakeStandup{matchErr: errors.New("clickup down")}
	rec = do(t, newMux(st), "POST", "/v1/match", "application/json", []byte(`{"text":"login"}`))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("tracker failure status = %d, want 502", rec.Code)
	}
}

func TestIsWAV(t *testing.T) {
	t.Parallel()
	for ct, want := range map[string]bool{
		"audio/wav":                true,
		"audio/x-wav; codecs=1":    true,
		"application/octet-stream": false,
		"":                         false,
	} {
		if got := isWAV(ct); got != want {
			t.Errorf("isWAV(%q) = %v, want %v", ct, got, want)
		}
	}
}
