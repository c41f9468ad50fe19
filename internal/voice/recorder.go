// Package voice keeps a voice-channel capture alive for the length of a
// stand-up and feeds every captured utterance to the transcription pipeline.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/scrumscribe/internal/observe"
	"github.com/MrWong99/scrumscribe/internal/resilience"
	"github.com/MrWong99/scrumscribe/internal/transcribe"
	"github.com/MrWong99/scrumscribe/pkg/audio"
)

// Submitter hands one segment to the transcription pipeline without
// blocking. *transcribe.Orchestrator implements it.
type Submitter interface {
	Submit(ctx context.Context, sink transcribe.Sink, seg audio.Segment)
}

// Config configures a [Recorder]. Platform, ChannelID, Submitter, and Sink
// are required.
type Config struct {
	Platform  audio.Platform
	ChannelID string
	Submitter Submitter
	Sink      transcribe.Sink

	// Source labels the segments metric (e.g. "discord").
	Source string

	// Reconnect governs both the initial join and rejoining after a drop.
	// Default: exponential from 1s, capped at 30s, 10 attempts.
	Reconnect *resilience.Policy

	// OnParticipant, if set, observes join and leave events. It must not
	// block.
	OnParticipant func(audio.Event)

	Metrics *observe.Metrics
}

// DefaultReconnect is the policy used when Config.Reconnect is nil.
func DefaultReconnect() resilience.Policy {
	return resilience.Exponential(time.Second, 30*time.Second, 10)
}

// Recorder owns one voice connection. All methods are safe for concurrent
// use.
type Recorder struct {
	cfg    Config
	policy resilience.Policy

	// submitCtx outlives the recorder so that segments flushed on Stop are
	// still transcribed.
	submitCtx context.Context
	cancel    context.CancelFunc

	mu       sync.Mutex
	conn     audio.Connection
	speakers map[string]struct{}

	stopped  chan struct{}
	stopOnce sync.Once
	pumpDone chan struct{}
	stopErr  error
}

// Start joins the channel, retrying under the reconnect policy, and begins
// forwarding segments. ctx is used for transcription of every forwarded
// segment; cancelling it also ends reconnect attempts.
func Start(ctx context.Context, cfg Config) (*Recorder, error) {
	if cfg.Platform == nil || cfg.Submitter == nil || cfg.Sink == nil || cfg.ChannelID == "" {
		return nil, errors.New("voice: platform, channel id, submitter, and sink are required")
	}
	if cfg.Source == "" {
		cfg.Source = "voice"
	}
	policy := DefaultReconnect()
	if cfg.Reconnect != nil {
		policy = *cfg.Reconnect
	}

	rctx, cancel := context.WithCancel(ctx)
	r := &Recorder{
		cfg:       cfg,
		policy:    policy,
		submitCtx: context.WithoutCancel(ctx),
		cancel:    cancel,
		speakers:  make(map[string]struct{}),
		stopped:   make(chan struct{}),
		pumpDone:  make(chan struct{}),
	}

	conn, err := r.connect(rctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("voice: join %s: %w", cfg.ChannelID, err)
	}
	r.conn = conn

	go r.pump(rctx, conn)
	return r, nil
}

func (r *Recorder) connect(ctx context.Context) (audio.Connection, error) {
	var conn audio.Connection
	err := resilience.Retry(ctx, r.policy, "voice:"+r.cfg.ChannelID, func(ctx context.Context) error {
		c, err := r.cfg.Platform.Connect(ctx, r.cfg.ChannelID)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	conn.OnParticipantChange(r.onEvent)
	return conn, nil
}

func (r *Recorder) pump(ctx context.Context, conn audio.Connection) {
	defer close(r.pumpDone)
	for {
		for seg := range conn.Segments() {
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.RecordSegment(r.submitCtx, r.cfg.Source)
			}
			r.cfg.Submitter.Submit(r.submitCtx, r.cfg.Sink, seg)
		}

		if r.isStopped() {
			return
		}
		slog.Warn("voice connection lost, rejoining", "channel_id", r.cfg.ChannelID)

		next, err := r.connect(ctx)
		if err != nil {
			if !r.isStopped() {
				slog.Error("voice: giving up on rejoining", "channel_id", r.cfg.ChannelID, "err", err)
			}
			return
		}

		r.mu.Lock()
		if r.isStopped() {
			r.mu.Unlock()
			_ = next.Disconnect()
			return
		}
		r.conn = next
		r.mu.Unlock()
		conn = next
		slog.Info("voice connection restored", "channel_id", r.cfg.ChannelID)
	}
}

func (r *Recorder) isStopped() bool {
	select {
	case <-r.stopped:
		return true
	default:
		return false
	}
}

func (r *Recorder) onEvent(ev audio.Event) {
	r.mu.Lock()
	_, known := r.speakers[ev.UserID]
	delta := int64(0)
	switch ev.Type {
	case audio.EventJoin:
		if !known {
			r.speakers[ev.UserID] = struct{}{}
			delta = 1
		}
	case audio.EventLeave:
		if known {
			delete(r.speakers, ev.UserID)
			delta = -1
		}
	}
	r.mu.Unlock()

	if delta != 0 && r.cfg.Metrics != nil {
		r.cfg.Metrics.ActiveSpeakers.Add(r.submitCtx, delta)
	}
	slog.Debug("voice participant change", "channel_id", r.cfg.ChannelID, "event", ev.Type.String(), "user_id", ev.UserID)
	if r.cfg.OnParticipant != nil {
		r.cfg.OnParticipant(ev)
	}
}

// ChannelID returns the voice channel being recorded.
func (r *Recorder) ChannelID() string { return r.cfg.ChannelID }

// Speakers returns the participants currently in the channel, sorted.
func (r *Recorder) Speakers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.speakers))
	for id := range r.speakers {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// NotifyDisconnect tells the recorder its connection died. The current
// connection is torn down and a rejoin begins.
func (r *Recorder) NotifyDisconnect() {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn != nil && !r.isStopped() {
		_ = conn.Disconnect()
	}
}

// Stop leaves the channel and returns once every flushed segment has been
// handed to the submitter. Safe to call more than once.
func (r *Recorder) Stop() error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		close(r.stopped)
		conn := r.conn
		r.mu.Unlock()

		r.cancel()
		if conn != nil {
			r.stopErr = conn.Disconnect()
		}
		<-r.pumpDone

		if r.cfg.Metrics != nil {
			r.mu.Lock()
			n := len(r.speakers)
			clear(r.speakers)
			r.mu.Unlock()
			r.cfg.Metrics.ActiveSpeakers.Add(r.submitCtx, -int64(n))
		}
	})
	return r.stopErr
}
