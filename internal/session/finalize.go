package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/scrumscribe/internal/identity"
	"github.com/MrWong99/scrumscribe/internal/match"
	"github.com/MrWong99/scrumscribe/internal/observe"
	"github.com/MrWong99/scrumscribe/internal/tracker"
)

// DefaultSpeakerDelay separates consecutive speakers during finalize so the
// tracker API and the notification channel are not flooded.
const DefaultSpeakerDelay = time.Second

// Directory resolves speakers to tracker members. *identity.Store
// implements it.
type Directory interface {
	Lookup(speakerID string) (identity.Identity, bool)
}

// Deps are the collaborators of [Session.Finalize]. Presenter, Directory,
// Tasks, and Matcher are required.
type Deps struct {
	Presenter Presenter
	Directory Directory
	Tasks     tracker.Source
	Matcher   *match.Matcher

	// SpeakerDelay is waited between consecutive matched speakers.
	SpeakerDelay time.Duration

	// Metrics is optional.
	Metrics *observe.Metrics
}

// Report is the outcome of a finalize.
type Report struct {
	SessionID string           `json:"session_id"`
	Summary   Summary          `json:"summary"`
	Matches   []SpeakerMatches `json:"matches"`

	// Unmapped lists speakers with no tracker identity.
	Unmapped []string  `json:"unmapped,omitempty"`
	EndedAt  time.Time `json:"ended_at"`
}

// Finalize waits for every in-flight transcription, presents the summary,
// and matches each mapped speaker's utterances against their open tasks.
// Entries and the pending counter are cleared on return, whatever happens.
//
// The only error is ctx ending during the drain or between speakers.
func (s *Session) Finalize(ctx context.Context, deps Deps) (*Report, error) {
	if err := s.Drain(ctx); err != nil {
		s.reset()
		return nil, err
	}
	defer s.reset()

	report := &Report{SessionID: s.ID, Matches: []SpeakerMatches{}}
	if s.Len() == 0 {
		report.Summary = Summary{SessionID: s.ID, ChannelID: s.ChannelID, StartedAt: s.StartedAt}
		report.EndedAt = s.now()
		slog.Info("session finalized with no entries", "session_id", s.ID)
		if err := deps.Presenter.SessionEnded(ctx, *report); err != nil {
			slog.Warn("session: failed to present end of session", "session_id", s.ID, "err", err)
		}
		return report, nil
	}

	report.Summary = s.Summary()
	if err := deps.Presenter.SessionSummary(ctx, report.Summary); err != nil {
		slog.Warn("session: failed to present summary", "session_id", s.ID, "err", err)
	}

	matched := 0
	for _, sp := range report.Summary.Speakers {
		ident, ok := deps.Directory.Lookup(sp.SpeakerID)
		if !ok {
			report.Unmapped = append(report.Unmapped, sp.SpeakerID)
			slog.Debug("session: speaker has no tracker identity", "speaker", sp.SpeakerID)
			continue
		}
		if matched > 0 && deps.SpeakerDelay > 0 {
			if err := sleep(ctx, deps.SpeakerDelay); err != nil {
				return report, err
			}
		}
		matched++

		tasks, err := deps.Tasks.OpenTasks(ctx, ident.TrackerID)
		if err != nil {
			slog.Warn("session: failed to fetch tasks, skipping speaker",
				"speaker", sp.SpeakerID, "tracker_id", ident.TrackerID, "err", err)
			continue
		}

		text := sp.Text()
		start := time.Now()
		result := deps.Matcher.Match(text, tasks)
		if deps.Metrics != nil {
			deps.Metrics.MatchDuration.Record(ctx, time.Since(start).Seconds())
		}

		sm := SpeakerMatches{
			SpeakerID: sp.SpeakerID,
			Name:      ident.Name,
			TrackerID: ident.TrackerID,
			Text:      text,
			Result:    result,
		}
		report.Matches = append(report.Matches, sm)
		if err := deps.Presenter.SpeakerMatches(ctx, sm); err != nil {
			slog.Warn("session: failed to present matches", "speaker", sp.SpeakerID, "err", err)
		}
	}

	report.EndedAt = s.now()
	if err := deps.Presenter.SessionEnded(ctx, *report); err != nil {
		slog.Warn("session: failed to present end of session", "session_id", s.ID, "err", err)
	}
	return report, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
