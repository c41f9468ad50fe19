package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/scrumscribe/internal/match"
	"github.com/MrWong99/scrumscribe/internal/observe"
)

var (
	// ErrSessionActive is returned by [Manager.Start] while a session runs.
	ErrSessionActive = errors.New("session: a recording session is already active")

	// ErrNoSession is returned when an operation needs an active session.
	ErrNoSession = errors.New("session: no active recording session")
)

// Manager owns at most one active [Session]. It is safe for concurrent use.
type Manager struct {
	opts []Option

	mu     sync.Mutex
	deps   Deps
	active *Session
	// stopping is set while the active session finalizes; Start keeps
	// rejecting until it is released.
	stopping bool
}

// NewManager creates a Manager that finalizes sessions with deps. opts is
// applied to every session it starts.
func NewManager(deps Deps, opts ...Option) *Manager {
	return &Manager{deps: deps, opts: opts}
}

// Start begins a new session.
func (m *Manager) Start(ctx context.Context, channelID, startedBy string) (*Session, error) {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	s := New(channelID, startedBy, m.opts...)
	m.active = s
	deps := m.deps
	m.mu.Unlock()

	if deps.Metrics != nil {
		deps.Metrics.ActiveSessions.Add(ctx, 1)
	}
	if deps.Presenter != nil {
		if err := deps.Presenter.SessionStarted(ctx, s); err != nil {
			slog.Warn("session: failed to present start", "session_id", s.ID, "err", err)
		}
	}
	return s, nil
}

// Active returns the running session, or nil. A session that has begun
// finalizing no longer accepts audio and is reported as nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopping {
		return nil
	}
	return m.active
}

// Stop finalizes the active session and releases it.
func (m *Manager) Stop(ctx context.Context) (*Report, error) {
	m.mu.Lock()
	s := m.active
	if s == nil || m.stopping {
		m.mu.Unlock()
		return nil, ErrNoSession
	}
	m.stopping = true
	deps := m.deps
	m.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "session.finalize", observe.KeySessionID.String(s.ID))
	report, err := s.Finalize(ctx, deps)
	if report != nil {
		span.SetAttributes(observe.KeyEntries.Int(report.Summary.TotalEntries))
	}
	observe.EndSpan(span, err)

	m.mu.Lock()
	m.active = nil
	m.stopping = false
	m.mu.Unlock()
	if deps.Metrics != nil {
		deps.Metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}
	return report, err
}

// SetMatcher swaps the matcher used by later finalizes.
func (m *Manager) SetMatcher(mt *match.Matcher) {
	m.mu.Lock()
	m.deps.Matcher = mt
	m.mu.Unlock()
}

// SetSpeakerDelay changes the delay used by later finalizes.
func (m *Manager) SetSpeakerDelay(d time.Duration) {
	m.mu.Lock()
	m.deps.SpeakerDelay = d
	m.mu.Unlock()
}

// Matcher returns the matcher later finalizes will use.
func (m *Manager) Matcher() *match.Matcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deps.Matcher
}

// Discard releases the active session without finalizing it. It is used
// when a session could not get going, e.g. the voice join failed.
func (m *Manager) Discard(ctx context.Context) {
	m.mu.Lock()
	s := m.active
	if s == nil || m.stopping {
		m.mu.Unlock()
		return
	}
	m.active = nil
	deps := m.deps
	m.mu.Unlock()

	s.reset()
	if deps.Metrics != nil {
		deps.Metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}
	slog.Info("session discarded", "session_id", s.ID)
}
