package session

import (
	"sort"
	"strings"
	"time"
)

// SummaryFieldCap is the number of speakers presenters render before
// collapsing the rest into an "and N more" note.
const SummaryFieldCap = 20

// SpeakerSummary is one speaker's part of a [Summary].
type SpeakerSummary struct {
	SpeakerID string `json:"speaker_id"`

	// Entries are newest first.
	Entries []Entry `json:"entries"`
}

// Latest returns the speaker's most recent entry.
func (s SpeakerSummary) Latest() Entry { return s.Entries[0] }

// Text joins the speaker's utterances in the order they were spoken.
func (s SpeakerSummary) Text() string {
	parts := make([]string, 0, len(s.Entries))
	for i := len(s.Entries) - 1; i >= 0; i-- {
		parts = append(parts, s.Entries[i].Text)
	}
	return strings.Join(parts, " ")
}

// Summary groups a session's entries by speaker.
type Summary struct {
	SessionID    string    `json:"session_id"`
	ChannelID    string    `json:"channel_id"`
	StartedAt    time.Time `json:"started_at"`
	TotalEntries int       `json:"total_entries"`

	// Speakers are ordered by most recent entry, most recent first.
	Speakers []SpeakerSummary `json:"speakers"`
}

// Overflow returns how many speakers exceed fieldCap.
func (s Summary) Overflow(fieldCap int) int {
	return max(len(s.Speakers)-fieldCap, 0)
}

// Summary builds the per-speaker view of the current entries.
func (s *Session) Summary() Summary {
	entries := s.Entries()
	sum := Summary{
		SessionID:    s.ID,
		ChannelID:    s.ChannelID,
		StartedAt:    s.StartedAt,
		TotalEntries: len(entries),
	}

	type group struct {
		speaker string
		last    int
		entries []Entry
	}
	index := make(map[string]*group)
	var groups []*group
	for i, e := range entries {
		g, ok := index[e.SpeakerID]
		if !ok {
			g = &group{speaker: e.SpeakerID}
			index[e.SpeakerID] = g
			groups = append(groups, g)
		}
		g.last = i
		g.entries = append(g.entries, e)
	}
	// Arrival order breaks timestamp ties.
	sort.SliceStable(groups, func(a, b int) bool {
		ta := groups[a].entries[len(groups[a].entries)-1].Timestamp
		tb := groups[b].entries[len(groups[b].entries)-1].Timestamp
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return groups[a].last > groups[b].last
	})

	sum.Speakers = make([]SpeakerSummary, 0, len(groups))
	for _, g := range groups {
		newest := make([]Entry, len(g.entries))
		for i, e := range g.entries {
			newest[len(g.entries)-1-i] = e
		}
		sum.Speakers = append(sum.Speakers, SpeakerSummary{SpeakerID: g.speaker, Entries: newest})
	}
	return sum
}
