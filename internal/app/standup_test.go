package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/MrWong99/scrumscribe/internal/config"
	"github.com/MrWong99/scrumscribe/internal/identity"
	"github.com/MrWong99/scrumscribe/internal/match"
	"github.com/MrWong99/scrumscribe/internal/resilience"
	"github.com/MrWong99/scrumscribe/internal/session"
	"github.com/MrWong99/scrumscribe/internal/tracker"
	trackermock "github.com/MrWong99/scrumscribe/internal/tracker/mock"
	"github.com/MrWong99/scrumscribe/internal/transcribe"
	"github.com/MrWong99/scrumscribe/pkg/audio"
	audiomock "github.com/MrWong99/scrumscribe/pkg/audio/mock"
	"github.com/MrWong99/scrumscribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/scrumscribe/pkg/provider/stt/mock"
)

func testTasks() *trackermock.Tracker {
	return &trackermock.Tracker{Tasks: []tracker.Task{
		{ID: "t1", Title: "Login Feature Implementation", Description: "Create login form and authentication logic", Assignees: []string{"m-alice"}},
		{ID: "t2", Title: "Database Integration", Description: "Setup database connection", Assignees: []string{"m-bob"}},
	}}
}

func newTestStandup(t *testing.T, platform audio.Platform, backend stt.Backend) *Standup {
	t.Helper()
	tasks := testTasks()
	sessions := session.NewManager(session.Deps{
		Presenter: session.LogPresenter{},
		Directory: identity.NewMemory(map[string]identity.Identity{
			"alice": {TrackerID: "m-alice", Name: "Alice"},
		}),
		Tasks:   tasks,
		Matcher: match.NewMatcher(),
	}, session.WithDrainPoll(5*time.Millisecond))

	reconnect := resilience.Linear(time.Millisecond, 2)
	return NewStandup(StandupConfig{
		Sessions:     sessions,
		Orchestrator: transcribe.New(backend),
		Platform:     platform,
		Tasks:        tasks,
		Reconnect:    &reconnect,
	})
}

func speech(text string) *sttmock.Backend {
	return &sttmock.Backend{Responses: []sttmock.Response{{Result: &stt.Result{Text: text, Confidence: 0.9}}}}
}

func pcmSegment(speaker string) audio.Segment {
	now := time.Now()
	return audio.Segment{
		SpeakerID: speaker,
		Data:      make([]byte, audio.DiscordFormat.BytesPerSecond()/2),
		Format:    audio.DiscordFormat,
		Start:     now.Add(-500 * time.Millisecond),
		End:       now,
	}
}

func TestStandup_StartCapturesVoice(t *testing.T) {
	t.Parallel()

	segs := make(chan audio.Segment, 1)
	conn := &audiomock.Connection{SegmentsCh: segs}
	platform := &audiomock.Platform{ConnectResult: conn}
	backend := speech("login feature เสร็จแล้ว")
	st := newTestStandup(t, platform, backend)

	s, err := st.Start(context.Background(), "voice-1", "alice")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st.Active() != s {
		t.Fatal("Active does not return the started session")
	}
	if len(platform.ConnectCalls) != 1 || platform.ConnectCalls[0] != "voice-1" {
		t.Errorf("ConnectCalls = %q, want [voice-1]", platform.ConnectCalls)
	}
	if _, err := st.Start(context.Background(), "voice-2", "bob"); !errors.Is(err, session.ErrSessionActive) {
		t.Errorf("second Start = %v, want ErrSessionActive", err)
	}

	segs <- pcmSegment("alice")
	deadline := time.Now().Add(2 * time.Second)
	for s.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("segment was not transcribed within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}

	report, err := st.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if conn.CallCountDisconnect == 0 {
		t.Error("Stop did not leave the voice channel")
	}
	if report.Summary.TotalEntries != 1 || len(report.Matches) != 1 {
		t.Fatalf("report = %+v, want one entry matched for alice", report)
	}
	if top := report.Matches[0].Result.Matches; len(top) == 0 || top[0].TaskID != "t1" {
		t.Errorf("top match = %+v, want t1", top)
	}
	if st.Active() != nil || st.Speakers() != nil {
		t.Error("standup still running after Stop")
	}
}

func TestStandup_JoinFailureDiscardsSession(t *testing.T) {
	t.Parallel()

	platform := &audiomock.Platform{ConnectError: errors.New("voice gateway down")}
	st := newTestStandup(t, platform, &sttmock.Backend{})

	if _, err := st.Start(context.Background(), "voice-1", "alice"); err == nil {
		t.Fatal("Start succeeded with a failing platform")
	}
	if st.Active() != nil {
		t.Fatal("failed Start left a session open")
	}
	if _, err := st.Open(context.Background(), "daily", "alice"); err != nil {
		t.Errorf("Open after failed Start: %v", err)
	}
}

func TestStandup_NoPlatform(t *testing.T) {
	t.Parallel()

	st := newTestStandup(t, nil, &sttmock.Backend{})
	if _, err := st.Start(context.Background(), "voice-1", "alice"); !errors.Is(err, ErrNoVoice) {
		t.Fatalf("Start = %v, want ErrNoVoice", err)
	}
	if st.Active() != nil {
		t.Error("Start without voice opened a session")
	}
}

func TestStandup_SubmitRequiresSession(t *testing.T) {
	t.Parallel()

	backend := speech("deployed")
	st := newTestStandup(t, nil, backend)

	if _, err := st.Submit(context.Background(), pcmSegment("alice")); !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("Submit = %v, want ErrNoSession", err)
	}

	opened, err := st.Open(context.Background(), "daily", "alice")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	seg := pcmSegment("alice")
	seg.Start = time.Time{}
	got, err := st.Submit(context.Background(), seg)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got != opened {
		t.Error("Submit returned a different session")
	}

	report, err := st.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if report.Summary.TotalEntries != 1 {
		t.Errorf("TotalEntries = %d, want 1", report.Summary.TotalEntries)
	}
}

func TestStandup_SubmitRejectedWhileFinalizing(t *testing.T) {
	t.Parallel()

	st := newTestStandup(t, nil, speech("deployed"))
	opened, err := st.Open(context.Background(), "daily", "alice")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	done := opened.Begin()

	stopped := make(chan error, 1)
	go func() {
		_, err := st.Stop(context.Background())
		stopped <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for st.Active() != nil {
		if time.Now().After(deadline) {
			t.Fatal("session still reported active while finalizing")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := st.Submit(context.Background(), pcmSegment("alice")); !errors.Is(err, session.ErrNoSession) {
		t.Errorf("Submit during finalize = %v, want ErrNoSession", err)
	}

	done()
	if err := <-stopped; err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStandup_Match(t *testing.T) {
	t.Parallel()

	st := newTestStandup(t, nil, &sttmock.Backend{})

	res, err := st.Match(context.Background(), "login feature เสร็จแล้ว", "m-alice")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.Status != match.StatusCompleted {
		t.Errorf("Status = %q, want completed", res.Status)
	}
	if len(res.Matches) == 0 || res.Matches[0].TaskID != "t1" {
		t.Errorf("Matches = %+v, want t1 first", res.Matches)
	}

	failing := newTestStandup(t, nil, &sttmock.Backend{})
	failing.tasks = &trackermock.Tracker{Errs: map[string]error{"m-alice": errors.New("rate limited")}}
	if _, err := failing.Match(context.Background(), "login", "m-alice"); err == nil {
		t.Error("Match succeeded with a failing tracker")
	}
}

func TestApplyDiff(t *testing.T) {
	t.Parallel()

	a := &App{level: new(slog.LevelVar), sessions: session.NewManager(session.Deps{Matcher: match.NewMatcher()})}
	before := a.sessions.Matcher()

	a.ApplyDiff(config.ConfigDiff{})
	if a.sessions.Matcher() != before {
		t.Error("empty diff replaced the matcher")
	}

	th := match.DefaultThresholds()
	th.High = 0.95
	a.ApplyDiff(config.ConfigDiff{
		LogLevelChanged: true,
		NewLogLevel:     config.LogDebug,
		MatchingChanged: true,
		NewMatching:     th,
	})
	if got := a.level.Level(); got != config.LogDebug.SlogLevel() {
		t.Errorf("level = %v, want debug", got)
	}
	if a.sessions.Matcher() == before {
		t.Error("matching change kept the old matcher")
	}
}
