package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/scrumscribe/internal/app"
	"github.com/MrWong99/scrumscribe/internal/config"
	"github.com/MrWong99/scrumscribe/internal/observe"
	"github.com/MrWong99/scrumscribe/internal/session"
	"github.com/MrWong99/scrumscribe/internal/tracker"
	trackermock "github.com/MrWong99/scrumscribe/internal/tracker/mock"
	"github.com/MrWong99/scrumscribe/pkg/audio"
	"github.com/MrWong99/scrumscribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/scrumscribe/pkg/provider/stt/mock"
)

// testConfig returns a config with Discord and the HTTP listener disabled
// and all storage under a temp dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.ListenAddr = ""
	cfg.Session.SpeakerDelay = 0
	cfg.Session.DrainPoll = 5 * time.Millisecond
	cfg.Storage = config.StorageConfig{
		TranscriptFile: filepath.Join(dir, "transcripts.txt"),
		ChannelFile:    filepath.Join(dir, "saved_channel.txt"),
		SpeakersFile:   filepath.Join(dir, "speakers.yaml"),
	}
	speakers := "speakers:\n  alice:\n    tracker_id: m-alice\n    name: Alice\n"
	if err := os.WriteFile(cfg.Storage.SpeakersFile, []byte(speakers), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func catalog() []tracker.Task {
	return []tracker.Task{
		{ID: "t1", Title: "Login Feature Implementation", Description: "Create login form and authentication logic", Assignees: []string{"m-alice"}},
		{ID: "t2", Title: "Database Integration", Description: "Setup database connection", Assignees: []string{"m-bob"}},
	}
}

type recordingPresenter struct {
	mu    sync.Mutex
	calls []string
}

func (p *recordingPresenter) record(c string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
}

func (p *recordingPresenter) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *recordingPresenter) SessionStarted(context.Context, *session.Session) error {
	p.record("started")
	return nil
}

func (p *recordingPresenter) SessionSummary(context.Context, session.Summary) error {
	p.record("summary")
	return nil
}

func (p *recordingPresenter) SpeakerMatches(_ context.Context, m session.SpeakerMatches) error {
	p.record("matches:" + m.SpeakerID)
	return nil
}

func (p *recordingPresenter) SessionEnded(context.Context, session.Report) error {
	p.record("ended")
	return nil
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
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

func TestNew_WithInjectedBackend(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t),
		app.WithSTTBackend(&sttmock.Backend{}),
		app.WithTaskSource(&trackermock.Tracker{}),
	)

	if a.Handler() == nil {
		t.Fatal("Handler is nil")
	}
	if a.Standup() == nil {
		t.Fatal("Standup is nil")
	}
	if a.Standup().Active() != nil {
		t.Error("new app has an active session")
	}

	for _, path := range []string{"/healthz", "/readyz"} {
		if rec := do(t, a.Handler(), http.MethodGet, path, "", nil); rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestNew_BuildsTiersFromRegistry(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	for _, name := range []string{"remote", "local"} {
		reg.RegisterSTT(name, func(config.STTConfig) (stt.Backend, error) {
			return &sttmock.Backend{BackendName: name, HealthResult: stt.Health{Ready: name == "local"}}, nil
		})
	}
	a := newApp(t, testConfig(t), app.WithRegistry(reg))

	rec := do(t, a.Handler(), http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /readyz = %d, want 200 (tiers are optional)", rec.Code)
	}
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Checks["stt_local"] != "ok" {
		t.Errorf("stt_local = %q, want ok", body.Checks["stt_local"])
	}
	if body.Checks["stt_remote"] != "warn: not ready" {
		t.Errorf("stt_remote = %q, want warn: not ready", body.Checks["stt_remote"])
	}
}

func TestNew_UnknownTier(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.STT.Tiers = []string{"nemo"}
	_, err := app.New(context.Background(), cfg, app.WithMetrics(testMetrics(t)), app.WithRegistry(config.NewRegistry()))
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("New = %v, want ErrProviderNotRegistered", err)
	}
}

func TestNew_BadSpeakersFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	if err := os.WriteFile(cfg.Storage.SpeakersFile, []byte("speakers: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := app.New(context.Background(), cfg, app.WithMetrics(testMetrics(t)), app.WithSTTBackend(&sttmock.Backend{})); err == nil {
		t.Fatal("New with a malformed speakers file succeeded")
	}
}

func TestIngest_RoundTrip(t *testing.T) {
	t.Parallel()

	backend := &sttmock.Backend{Responses: []sttmock.Response{
		{Result: &stt.Result{Text: "  login feature เสร็จแล้ว ", Confidence: 0.9}},
	}}
	presenter := &recordingPresenter{}
	cfg := testConfig(t)
	a := newApp(t, cfg,
		app.WithSTTBackend(backend),
		app.WithTaskSource(&trackermock.Tracker{Tasks: catalog()}),
		app.WithPresenter(presenter),
	)
	h := a.Handler()

	if rec := do(t, h, http.MethodPost, "/v1/sessions", "application/json", []byte(`{"channel_id":"daily","started_by":"alice"}`)); rec.Code != http.StatusCreated {
		t.Fatalf("start = %d: %s", rec.Code, rec.Body)
	}

	pcm := make([]byte, audio.DiscordFormat.BytesPerSecond()/2)
	if rec := do(t, h, http.MethodPost, "/v1/sessions/current/segments?speaker_id=alice", "application/octet-stream", pcm); rec.Code != http.StatusAccepted {
		t.Fatalf("segment = %d: %s", rec.Code, rec.Body)
	}

	rec := do(t, h, http.MethodPost, "/v1/sessions/current/finalize", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("finalize = %d: %s", rec.Code, rec.Body)
	}
	var report session.Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Summary.TotalEntries != 1 {
		t.Errorf("TotalEntries = %d, want 1", report.Summary.TotalEntries)
	}
	if len(report.Matches) != 1 || report.Matches[0].TrackerID != "m-alice" {
		t.Fatalf("Matches = %+v, want one for m-alice", report.Matches)
	}
	if got := report.Matches[0].Result.Matches; len(got) == 0 || got[0].TaskID != "t1" {
		t.Errorf("top task = %+v, want t1", got)
	}
	if backend.CallCount() != 1 {
		t.Errorf("backend calls = %d, want 1", backend.CallCount())
	}

	want := []string{"started", "summary", "matches:alice", "ended"}
	if got := presenter.Calls(); len(got) != len(want) {
		t.Errorf("presenter calls = %q, want %q", got, want)
	}

	data, err := os.ReadFile(cfg.Storage.TranscriptFile)
	if err != nil {
		t.Fatalf("read transcript log: %v", err)
	}
	if !bytes.Contains(data, []byte("login feature")) {
		t.Errorf("transcript log = %q, want the utterance", data)
	}

	if rec := do(t, h, http.MethodGet, "/v1/sessions/current", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("current after finalize = %d, want 404", rec.Code)
	}
}

func TestIngest_WithoutTracker(t *testing.T) {
	t.Parallel()

	backend := &sttmock.Backend{Responses: []sttmock.Response{{Result: &stt.Result{Text: "deployed the api"}}}}
	a := newApp(t, testConfig(t), app.WithSTTBackend(backend))
	h := a.Handler()

	do(t, h, http.MethodPost, "/v1/sessions", "application/json", []byte(`{"channel_id":"daily","started_by":"bob"}`))
	do(t, h, http.MethodPost, "/v1/sessions/current/segments?speaker_id=alice", "application/octet-stream",
		make([]byte, audio.DiscordFormat.BytesPerSecond()/2))

	rec := do(t, h, http.MethodPost, "/v1/sessions/current/finalize", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("finalize = %d: %s", rec.Code, rec.Body)
	}
	var report session.Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Summary.TotalEntries != 1 || len(report.Matches) != 0 {
		t.Errorf("report = %+v, want one entry and no matches", report)
	}
	if len(report.Unmapped) != 1 || report.Unmapped[0] != "alice" {
		t.Errorf("Unmapped = %q, want [alice]", report.Unmapped)
	}
}

func TestShutdown_FinalizesActiveStandup(t *testing.T) {
	t.Parallel()

	presenter := &recordingPresenter{}
	a, err := app.New(context.Background(), testConfig(t),
		app.WithMetrics(testMetrics(t)),
		app.WithSTTBackend(&sttmock.Backend{}),
		app.WithPresenter(presenter),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.Standup().Open(context.Background(), "daily", "alice"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if a.Standup().Active() != nil {
		t.Error("session still active after Shutdown")
	}
	got := presenter.Calls()
	if len(got) == 0 || got[len(got)-1] != "ended" {
		t.Errorf("presenter calls = %q, want the session ended", got)
	}

	// Idempotent.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestRun_StopsWithContext(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t), app.WithSTTBackend(&sttmock.Backend{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
