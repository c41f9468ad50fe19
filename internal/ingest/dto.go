package ingest

import (
	"time"

	"github.com/MrWong99/scrumscribe/internal/session"
)

// StartRequest is the body of POST /v1/sessions.
type StartRequest struct {
	ChannelID string `json:"channel_id" validate:"required,max=128"`
	StartedBy string `json:"started_by" validate:"required,max=128"`
}

// SegmentParams are the query parameters of a segment upload. Rate and
// channels describe raw PCM bodies and are ignored for WAV.
type SegmentParams struct {
	SpeakerID  string `validate:"required,max=128"`
	SampleRate int    `validate:"min=8000,max=192000"`
	Channels   int    `validate:"min=1,max=8"`
}

// MatchRequest is the body of POST /v1/match.
type MatchRequest struct {
	Text     string `json:"text" validate:"required,max=65536"`
	Assignee string `json:"assignee" validate:"max=128"`
}

// SessionInfo describes the active session.
type SessionInfo struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	StartedBy string    `json:"started_by"`
	StartedAt time.Time `json:"started_at"`
	Entries   int       `json:"entries"`
	Pending   int64     `json:"pending"`
}

func infoOf(s *session.Session) SessionInfo {
	return SessionInfo{
		ID:        s.ID,
		ChannelID: s.ChannelID,
		StartedBy: s.StartedBy,
		StartedAt: s.StartedAt,
		Entries:   s.Len(),
		Pending:   s.Pending(),
	}
}

// SegmentAccepted is the 202 body of a segment upload.
type SegmentAccepted struct {
	SessionID string `json:"session_id"`
	SpeakerID string `json:"speaker_id"`
	Bytes     int    `json:"bytes"`
	Pending   int64  `json:"pending"`
}

// ErrorResponse is the body of every 4xx and 5xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
