package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/scrumscribe/internal/match"
	"github.com/MrWong99/scrumscribe/internal/observe"
	"github.com/MrWong99/scrumscribe/internal/resilience"
	"github.com/MrWong99/scrumscribe/internal/session"
	"github.com/MrWong99/scrumscribe/internal/tracker"
	"github.com/MrWong99/scrumscribe/internal/transcribe"
	"github.com/MrWong99/scrumscribe/internal/voice"
	"github.com/MrWong99/scrumscribe/pkg/audio"
)

// ErrNoVoice is returned by [Standup.Start] when no voice platform is
// configured.
var ErrNoVoice = errors.New("app: no voice platform configured")

// StandupConfig holds all dependencies for a [Standup].
type StandupConfig struct {
	Sessions     *session.Manager
	Orchestrator *transcribe.Orchestrator

	// Platform captures voice channels. Nil limits the standup to segments
	// pushed through [Standup.Submit].
	Platform audio.Platform

	// Tasks feeds [Standup.Match]. Nil matches against an empty catalog.
	Tasks tracker.Source

	// Reconnect overrides the voice rejoin policy.
	Reconnect *resilience.Policy

	Metrics *observe.Metrics
}

// Standup ties one recording session to its voice capture. At most one
// stand-up runs at a time. All exported methods are safe for concurrent use.
type Standup struct {
	sessions  *session.Manager
	orch      *transcribe.Orchestrator
	platform  audio.Platform
	tasks     tracker.Source
	reconnect *resilience.Policy
	metrics   *observe.Metrics

	mu       sync.Mutex
	recorder *voice.Recorder
}

// NewStandup creates a Standup with the given dependencies.
func NewStandup(cfg StandupConfig) *Standup {
	return &Standup{
		sessions:  cfg.Sessions,
		orch:      cfg.Orchestrator,
		platform:  cfg.Platform,
		tasks:     cfg.Tasks,
		reconnect: cfg.Reconnect,
		metrics:   cfg.Metrics,
	}
}

// Start opens a session and joins voiceChannelID to capture it. If the
// join fails the session is discarded.
func (st *Standup) Start(ctx context.Context, voiceChannelID, startedBy string) (*session.Session, error) {
	if st.platform == nil {
		return nil, ErrNoVoice
	}
	s, err := st.sessions.Start(ctx, voiceChannelID, startedBy)
	if err != nil {
		return nil, err
	}

	// The capture outlives the request that started it.
	rec, err := voice.Start(context.WithoutCancel(ctx), voice.Config{
		Platform:  st.platform,
		ChannelID: voiceChannelID,
		Submitter: st.orch,
		Sink:      s,
		Source:    "discord",
		Reconnect: st.reconnect,
		OnParticipant: func(ev audio.Event) {
			slog.Debug("standup: participant event", "session_id", s.ID, "event", ev.Type, "user", ev.UserID)
		},
		Metrics: st.metrics,
	})
	if err != nil {
		st.sessions.Discard(ctx)
		return nil, fmt.Errorf("app: start voice capture: %w", err)
	}

	st.mu.Lock()
	st.recorder = rec
	st.mu.Unlock()

	slog.Info("standup started",
		"session_id", s.ID,
		"channel_id", voiceChannelID,
		"started_by", startedBy,
	)
	return s, nil
}

// Open starts a session without voice capture. Audio arrives through
// [Standup.Submit].
func (st *Standup) Open(ctx context.Context, label, startedBy string) (*session.Session, error) {
	s, err := st.sessions.Start(ctx, label, startedBy)
	if err != nil {
		return nil, err
	}
	slog.Info("standup opened for external audio", "session_id", s.ID, "label", label, "started_by", startedBy)
	return s, nil
}

// Submit queues seg for transcription into the active session.
func (st *Standup) Submit(ctx context.Context, seg audio.Segment) (*session.Session, error) {
	s := st.sessions.Active()
	if s == nil {
		return nil, session.ErrNoSession
	}
	if st.metrics != nil {
		st.metrics.RecordSegment(ctx, "http")
	}
	if seg.Start.IsZero() {
		seg.Start = time.Now()
	}
	st.orch.Submit(context.WithoutCancel(ctx), s, seg)
	return s, nil
}

// Stop leaves the voice channel, finalizes the session, and returns the
// report. Segments flushed by leaving are transcribed before the summary.
func (st *Standup) Stop(ctx context.Context) (*session.Report, error) {
	st.mu.Lock()
	rec := st.recorder
	st.recorder = nil
	st.mu.Unlock()

	if rec != nil {
		if err := rec.Stop(); err != nil {
			slog.Warn("standup: voice disconnect error", "channel_id", rec.ChannelID(), "err", err)
		}
	}

	report, err := st.sessions.Stop(ctx)
	if err != nil {
		return report, err
	}
	slog.Info("standup stopped",
		"session_id", report.SessionID,
		"entries", report.Summary.TotalEntries,
		"matched", len(report.Matches),
	)
	return report, nil
}

// Active returns the running session, or nil.
func (st *Standup) Active() *session.Session { return st.sessions.Active() }

// Speakers returns the participants of the captured voice channel.
func (st *Standup) Speakers() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.recorder == nil {
		return nil
	}
	return st.recorder.Speakers()
}

// Match scores text against the open tasks of assignee with the current
// matcher. An empty assignee uses the whole open catalog.
func (st *Standup) Match(ctx context.Context, text, assignee string) (match.Result, error) {
	var tasks []tracker.Task
	if st.tasks != nil {
		var err error
		tasks, err = st.tasks.OpenTasks(ctx, assignee)
		if err != nil {
			return match.Result{}, fmt.Errorf("app: fetch open tasks: %w", err)
		}
	}
	return st.sessions.Matcher().Match(text, tasks), nil
}
