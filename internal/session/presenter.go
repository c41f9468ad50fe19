package session

import (
	"context"
	"log/slog"

	"github.com/MrWong99/scrumscribe/internal/match"
)

// SpeakerMatches is the matching outcome for one speaker.
type SpeakerMatches struct {
	SpeakerID string `json:"speaker_id"`
	Name      string `json:"name,omitempty"`
	TrackerID string `json:"tracker_id"`

	// Text is the speaker's utterances joined in spoken order.
	Text   string       `json:"text"`
	Result match.Result `json:"result"`
}

// Presenter renders session progress to people. Implementations must not
// block for long; errors are logged and never abort a finalize.
type Presenter interface {
	SessionStarted(ctx context.Context, s *Session) error
	SessionSummary(ctx context.Context, sum Summary) error
	SpeakerMatches(ctx context.Context, m SpeakerMatches) error
	SessionEnded(ctx context.Context, r Report) error
}

// LogPresenter writes session progress through slog.
type LogPresenter struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

var _ Presenter = LogPresenter{}

func (p LogPresenter) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p LogPresenter) SessionStarted(_ context.Context, s *Session) error {
	p.log().Info("standup recording started", "session_id", s.ID, "channel_id", s.ChannelID, "started_by", s.StartedBy)
	return nil
}

func (p LogPresenter) SessionSummary(_ context.Context, sum Summary) error {
	for i, sp := range sum.Speakers {
		if i == SummaryFieldCap {
			p.log().Info("standup summary truncated", "more_speakers", sum.Overflow(SummaryFieldCap))
			break
		}
		latest := sp.Latest()
		p.log().Info("standup summary",
			"speaker", sp.SpeakerID,
			"entries", len(sp.Entries),
			"latest", latest.Text,
			"confidence", latest.Confidence,
		)
	}
	return nil
}

func (p LogPresenter) SpeakerMatches(_ context.Context, m SpeakerMatches) error {
	if len(m.Result.Matches) == 0 {
		p.log().Info("no matching tasks", "speaker", m.SpeakerID, "keywords", m.Result.Keywords)
		return nil
	}
	for _, tm := range m.Result.Matches {
		p.log().Info("task match",
			"speaker", m.SpeakerID,
			"task_id", tm.TaskID,
			"title", tm.Title,
			"score", tm.Score,
			"tier", tm.Tier,
			"status", m.Result.Status,
		)
	}
	return nil
}

func (p LogPresenter) SessionEnded(_ context.Context, r Report) error {
	p.log().Info("standup recording finished",
		"session_id", r.SessionID,
		"entries", r.Summary.TotalEntries,
		"speakers", len(r.Summary.Speakers),
		"matched_speakers", len(r.Matches),
	)
	return nil
}
