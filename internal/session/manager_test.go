package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/scrumscribe/internal/match"
	"github.com/MrWong99/scrumscribe/internal/tracker/mock"
)

func TestManager_StartStop(t *testing.T) {
	t.Parallel()

	p := &recordingPresenter{}
	m := NewManager(testDeps(p, &mock.Tracker{Tasks: catalog()}))

	if m.Active() != nil {
		t.Fatal("new manager has an active session")
	}
	if _, err := m.Stop(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Stop without session = %v, want ErrNoSession", err)
	}

	s, err := m.Start(context.Background(), "voice1", "alice")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.Active() != s {
		t.Error("Active does not return the started session")
	}
	if _, err := m.Start(context.Background(), "voice2", "bob"); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second Start = %v, want ErrSessionActive", err)
	}

	s.AddEntry("alice", "login", 0.9)
	report, err := m.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if report.SessionID != s.ID || len(report.Matches) != 1 {
		t.Errorf("report = %+v", report)
	}
	if m.Active() != nil {
		t.Error("session still active after Stop")
	}
	if got := p.Calls(); got[0] != "started" {
		t.Errorf("first presenter call = %q, want started", got[0])
	}

	if _, err := m.Start(context.Background(), "voice1", "alice"); err != nil {
		t.Fatalf("Start after Stop: %v", err)
	}
}

func TestManager_StartRejectedWhileFinalizing(t *testing.T) {
	t.Parallel()

	m := NewManager(testDeps(&recordingPresenter{}, &mock.Tracker{}), WithDrainPoll(time.Hour))
	s, err := m.Start(context.Background(), "v", "u")
	if err != nil {
		t.Fatal(err)
	}
	done := s.Begin()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_, _ = m.Stop(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := m.Start(context.Background(), "v", "u"); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Start during finalize = %v, want ErrSessionActive", err)
	}
	if _, err := m.Stop(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("concurrent Stop = %v, want ErrNoSession", err)
	}
	if m.Active() != nil {
		t.Error("Active returns a session that is finalizing")
	}

	done()
	<-stopped
	if m.Active() != nil {
		t.Error("session still active")
	}
}

func TestManager_ConcurrentStart(t *testing.T) {
	t.Parallel()

	m := NewManager(testDeps(&recordingPresenter{}, &mock.Tracker{}))
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for range 20 {
		wg.Go(func() {
			if _, err := m.Start(context.Background(), "v", "u"); err == nil {
				mu.Lock()
				started++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	if started != 1 {
		t.Errorf("started = %d, want exactly 1", started)
	}
}

func TestManager_Setters(t *testing.T) {
	t.Parallel()

	m := NewManager(testDeps(&recordingPresenter{}, &mock.Tracker{}))
	mt := match.NewMatcher(match.WithThresholds(match.DefaultThresholds()))
	m.SetMatcher(mt)
	m.SetSpeakerDelay(3 * time.Second)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deps.Matcher != mt || m.deps.SpeakerDelay != 3*time.Second {
		t.Errorf("deps = %+v", m.deps)
	}
}

func TestManager_MatcherGetter(t *testing.T) {
	t.Parallel()

	m := NewManager(testDeps(&recordingPresenter{}, &mock.Tracker{}))
	mt := match.NewMatcher()
	m.SetMatcher(mt)
	if m.Matcher() != mt {
		t.Error("Matcher does not return the swapped matcher")
	}
}

func TestManager_Discard(t *testing.T) {
	t.Parallel()

	p := &recordingPresenter{}
	m := NewManager(testDeps(p, &mock.Tracker{}))
	m.Discard(context.Background())

	s, err := m.Start(context.Background(), "v", "u")
	if err != nil {
		t.Fatal(err)
	}
	s.AddEntry("u", "hello", 0.9)
	m.Discard(context.Background())

	if m.Active() != nil {
		t.Fatal("session still active after Discard")
	}
	if s.Len() != 0 {
		t.Errorf("discarded session kept %d entries", s.Len())
	}
	if got := p.Calls(); len(got) != 1 || got[0] != "started" {
		t.Errorf("presenter calls = %v, want only started", got)
	}
	if _, err := m.Start(context.Background(), "v", "u"); err != nil {
		t.Fatalf("Start after Discard: %v", err)
	}
}
