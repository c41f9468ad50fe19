// Package ingest is the HTTP API for audio sources other than Discord and
// for operations tooling. It controls the recording session, accepts
// utterance segments, and runs ad-hoc task matching.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/MrWong99/scrumscribe/internal/match"
	"github.com/MrWong99/scrumscribe/internal/observe"
	"github.com/MrWong99/scrumscribe/internal/session"
	"github.com/MrWong99/scrumscribe/pkg/audio"
)

// DefaultMaxBody caps segment uploads.
const DefaultMaxBody = 64 << 20

const maxJSONBody = 1 << 20

// Standup is the session control used by the API. *app.Standup
// implements it.
type Standup interface {
	Open(ctx context.Context, label, startedBy string) (*session.Session, error)
	Active() *session.Session
	Submit(ctx context.Context, seg audio.Segment) (*session.Session, error)
	Stop(ctx context.Context) (*session.Report, error)
	Match(ctx context.Context, text, assignee string) (match.Result, error)
}

// Server serves the /v1 routes.
type Server struct {
	standup  Standup
	validate *validator.Validate
	maxBody  int64
}

// Option configures a [Server].
type Option func(*Server)

// WithMaxBody caps segment uploads at n bytes.
func WithMaxBody(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// New creates a Server over st.
func New(st Standup, opts ...Option) *Server {
	s := &Server{
		standup:  st,
		validate: validator.New(),
		maxBody:  DefaultMaxBody,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the /v1 routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", s.handleStart)
	mux.HandleFunc("GET /v1/sessions/current", s.handleCurrent)
	mux.HandleFunc("POST /v1/sessions/current/segments", s.handleSegment)
	mux.HandleFunc("POST /v1/sessions/current/finalize", s.handleFinalize)
	mux.HandleFunc("POST /v1/match", s.handleMatch)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.standup.Open(r.Context(), req.ChannelID, req.StartedBy)
	if errors.Is(err, session.ErrSessionActive) {
		writeError(w, http.StatusConflict, "session_active", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "start_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, infoOf(sess))
}

func (s *Server) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	sess := s.standup.Active()
	if sess == nil {
		writeError(w, http.StatusNotFound, "no_session", session.ErrNoSession.Error())
		return
	}
	writeJSON(w, http.StatusOK, infoOf(sess))
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := SegmentParams{
		SpeakerID:  q.Get("speaker_id"),
		SampleRate: audio.DiscordFormat.SampleRate,
		Channels:   audio.DiscordFormat.Channels,
	}
	for _, p := range []struct {
		key string
		dst *int
	}{{"sample_rate", &params.SampleRate}, {"channels", &params.Channels}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("%s: %v", p.key, err))
			return
		}
		*p.dst = n
	}

	wav := isWAV(r.Header.Get("Content-Type"))
	if !wav {
		if err := s.validate.Struct(params); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
	} else if err := s.validate.Var(params.SpeakerID, "required,max=128"); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "speaker_id: "+err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty_body", "segment body is empty")
		return
	}

	seg := audio.Segment{
		SpeakerID: params.SpeakerID,
		Data:      body,
		Encoding:  audio.EncodingPCM,
		Format:    audio.Format{SampleRate: params.SampleRate, Channels: params.Channels},
	}
	if wav {
		f, pcm, err := audio.DecodeWAV(body)
		if err != nil {
			writeError(w, http.StatusUnsupportedMediaType, "invalid_wav", err.Error())
			return
		}
		seg.Data, seg.Format = pcm, f
	}

	sess, err := s.standup.Submit(r.Context(), seg)
	if errors.Is(err, session.ErrNoSession) {
		writeError(w, http.StatusNotFound, "no_session", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "submit_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, SegmentAccepted{
		SessionID: sess.ID,
		SpeakerID: seg.SpeakerID,
		Bytes:     len(seg.Data),
		Pending:   sess.Pending(),
	})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	// A client that disconnects must not abort finalization halfway.
	report, err := s.standup.Stop(context.WithoutCancel(r.Context()))
	if errors.Is(err, session.ErrNoSession) {
		writeError(w, http.StatusNotFound, "no_session", err.Error())
		return
	}
	if err != nil {
		observe.Logger(r.Context()).Warn("ingest: finalize failed", "err", err)
		writeError(w, http.StatusInternalServerError, "finalize_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.standup.Match(r.Context(), req.Text, req.Assignee)
	if err != nil {
		observe.Logger(r.Context()).Warn("ingest: match failed", "assignee", req.Assignee, "err", err)
		writeError(w, http.StatusBadGateway, "tracker_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decode reads a JSON body into v and validates it, answering 400 on
// failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

func isWAV(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mt {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return true
	}
	return false
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("ingest: encode response", "err", err)
	}
}
