// Package session aggregates one stand-up recording: the transcript entries
// collected while people talk, the pending counter that tracks in-flight
// transcriptions, and the finalize pass that summarises the meeting and
// matches each speaker's words against their open tasks.
//
// A [Session] carries no exclusivity of its own; [Manager] enforces that at
// most one is active.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultDrainPoll is the fallback polling interval of [Session.Drain].
const DefaultDrainPoll = time.Second

// Entry is one accepted transcription.
type Entry struct {
	SpeakerID  string    `json:"speaker_id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

type entryKey struct{ speaker, text string }

// Session is safe for concurrent use.
type Session struct {
	ID        string
	ChannelID string
	StartedBy string
	StartedAt time.Time

	now       func() time.Time
	drainPoll time.Duration

	mu      sync.Mutex
	entries []Entry
	seen    map[entryKey]struct{}

	pending atomic.Int64
	idle    chan struct{}
}

// Option configures a [Session].
type Option func(*Session)

// WithClock overrides time.Now for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithDrainPoll overrides [DefaultDrainPoll].
func WithDrainPoll(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.drainPoll = d
		}
	}
}

// New starts a session for channelID.
func New(channelID, startedBy string, opts ...Option) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		StartedBy: startedBy,
		now:       time.Now,
		drainPoll: DefaultDrainPoll,
		seen:      make(map[entryKey]struct{}),
		idle:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.StartedAt = s.now()
	return s
}

// AddEntry appends a transcription unless the same speaker already said the
// exact same text in this session. It reports whether the entry was added.
func (s *Session) AddEntry(speakerID, text string, confidence float64) bool {
	k := entryKey{speakerID, text}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[k]; dup {
		return false
	}
	s.seen[k] = struct{}{}
	s.entries = append(s.entries, Entry{
		SpeakerID:  speakerID,
		Text:       text,
		Confidence: confidence,
		Timestamp:  s.now(),
	})
	return true
}

// Entries returns a copy of the entries in arrival order.
func (s *Session) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Len returns the number of entries.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear drops every entry. The pending counter is left alone.
func (s *Session) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.seen = make(map[entryKey]struct{})
	s.mu.Unlock()
}

// Begin marks one transcription in flight. The returned func ends it; extra
// calls are no-ops.
func (s *Session) Begin() (done func()) {
	s.pending.Add(1)
	var once sync.Once
	return func() { once.Do(s.release) }
}

func (s *Session) release() {
	for {
		cur := s.pending.Load()
		if cur <= 0 {
			return
		}
		if s.pending.CompareAndSwap(cur, cur-1) {
			if cur == 1 {
				s.signalIdle()
			}
			return
		}
	}
}

func (s *Session) signalIdle() {
	select {
	case s.idle <- struct{}{}:
	default:
	}
}

// Pending returns the number of transcriptions in flight.
func (s *Session) Pending() int64 { return s.pending.Load() }

// Drain blocks until no transcription is in flight or ctx is done. It wakes
// on every return to zero and, failing that, polls.
func (s *Session) Drain(ctx context.Context) error {
	t := time.NewTicker(s.drainPoll)
	defer t.Stop()
	for s.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.idle:
		case <-t.C:
		}
	}
	return nil
}

// reset clears entries and zeroes the counter.
func (s *Session) reset() {
	s.Clear()
	s.pending.Store(0)
	s.signalIdle()
}
