package session

import (
	"testing"
	"time"
)

var fixed = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestSummary_GroupsNewestFirst(t *testing.T) {
	t.Parallel()

	s := New("c", "u", WithClock(stepClock()))
	s.AddEntry("alice", "a1", 0.9)
	s.AddEntry("bob", "b1", 0.9)
	s.AddEntry("alice", "a2", 0.9)
	s.AddEntry("carol", "c1", 0.9)
	s.AddEntry("bob", "b2", 0.9)

	sum := s.Summary()
	if sum.TotalEntries != 5 || sum.SessionID != s.ID {
		t.Fatalf("summary = %+v", sum)
	}

	wantOrder := []string{"bob", "carol", "alice"}
	if len(sum.Speakers) != len(wantOrder) {
		t.Fatalf("speakers = %d, want %d", len(sum.Speakers), len(wantOrder))
	}
	for i, sp := range sum.Speakers {
		if sp.SpeakerID != wantOrder[i] {
			t.Errorf("speaker[%d] = %q, want %q", i, sp.SpeakerID, wantOrder[i])
		}
	}

	alice := sum.Speakers[2]
	if alice.Latest().Text != "a2" || alice.Entries[1].Text != "a1" {
		t.Errorf("alice entries = %+v, want newest first", alice.Entries)
	}
	if got := alice.Text(); got != "a1 a2" {
		t.Errorf("alice Text = %q, want chronological %q", got, "a1 a2")
	}
}

func TestSummary_TiedTimestampsUseArrivalOrder(t *testing.T) {
	t.Parallel()

	s := New("c", "u", WithClock(func() time.Time { return fixed }))
	s.AddEntry("alice", "a", 1)
	s.AddEntry("bob", "b", 1)

	sum := s.Summary()
	if sum.Speakers[0].SpeakerID != "bob" {
		t.Errorf("first speaker = %q, want bob (most recent arrival)", sum.Speakers[0].SpeakerID)
	}
}

func TestSummary_Empty(t *testing.T) {
	t.Parallel()

	sum := New("c", "u").Summary()
	if sum.TotalEntries != 0 || len(sum.Speakers) != 0 {
		t.Errorf("summary = %+v, want empty", sum)
	}
}

func TestSummary_Overflow(t *testing.T) {
	t.Parallel()

	s := New("c", "u", WithClock(stepClock()))
	for i := range SummaryFieldCap + 3 {
		s.AddEntry(string(rune('A'+i)), "x", 1)
	}
	sum := s.Summary()
	if got := sum.Overflow(SummaryFieldCap); got != 3 {
		t.Errorf("Overflow = %d, want 3", got)
	}
	if got := (Summary{}).Overflow(SummaryFieldCap); got != 0 {
		t.Errorf("empty Overflow = %d, want 0", got)
	}
}
