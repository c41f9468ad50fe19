// Package audio defines the audio types and voice-platform abstractions used
// to capture a stand-up meeting.
//
// Capture is receive-only: a [Platform] joins a voice channel and returns a
// [Connection] that yields one [Segment] per speaker utterance. Segments carry
// raw PCM (or a ready WAV file) plus enough timing to order them. Helpers for
// WAV encoding, PCM remixing and resampling, and silence-based segmentation
// live alongside.
//
// This package lives under pkg/ because platform adapters outside this module
// are expected to implement [Platform] and [Connection].
package audio

import "context"

// EventType classifies participant lifecycle events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant is first heard or enters the
	// channel.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the voice channel.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant lifecycle change on a voice channel.
type Event struct {
	Type   EventType
	UserID string
}

// Connection is an active capture session on a voice channel.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// Segments delivers completed utterances. The channel is closed after
	// Disconnect has flushed every open utterance.
	Segments() <-chan Segment

	// OnParticipantChange registers cb for join and leave events, replacing
	// any previous callback. The callback runs on an internal goroutine and
	// must not block.
	OnParticipantChange(cb func(Event))

	// Disconnect leaves the channel and flushes pending audio. Calling it more
	// than once is safe.
	Disconnect() error
}

// Platform joins voice channels.
type Platform interface {
	// Connect joins channelID and starts capturing. ctx bounds the join
	// attempt only.
	Connect(ctx context.Context, channelID string) (Connection, error)
}
