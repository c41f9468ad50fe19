package audio

import (
	"sync"
	"time"
)

const (
	// DefaultSilenceGap is how long a speaker must stay quiet before their
	// utterance is closed.
	DefaultSilenceGap = time.Second

	// DefaultMaxUtterance forces a flush of very long monologues.
	DefaultMaxUtterance = 2 * time.Minute
)

// SegmenterOption configures a [Segmenter].
type SegmenterOption func(*Segmenter)

// WithSilenceGap sets the quiet period that ends an utterance.
func WithSilenceGap(d time.Duration) SegmenterOption {
	return func(s *Segmenter) { s.gap = d }
}

// WithMaxUtterance caps the length of a single segment. Zero disables the cap.
func WithMaxUtterance(d time.Duration) SegmenterOption {
	return func(s *Segmenter) { s.maxLen = d }
}

// WithMinRMS drops segments whose overall level is below threshold. Zero keeps
// everything.
func WithMinRMS(threshold float64) SegmenterOption {
	return func(s *Segmenter) { s.minRMS = threshold }
}

// WithBuffer sets the capacity of the Segments channel.
func WithBuffer(n int) SegmenterOption {
	return func(s *Segmenter) { s.bufSize = n }
}

type utterance struct {
	pcm   []byte
	start time.Time
	last  time.Time
}

// Segmenter accumulates per-speaker PCM and emits one [Segment] per utterance
// once a speaker has been silent for the configured gap. Voice platforms stop
// sending packets while a user is quiet, so silence is the absence of Push
// calls rather than low signal energy.
//
// Push is safe for concurrent use. Callers must read Segments until it is
// closed by Close.
type Segmenter struct {
	format  Format
	gap     time.Duration
	maxLen  time.Duration
	minRMS  float64
	bufSize int

	mu      sync.Mutex
	active  map[string]*utterance
	ready   []Segment // capped utterances awaiting emission
	closed  bool
	out     chan Segment
	done    chan struct{}
	stopped chan struct{}
}

// NewSegmenter starts a Segmenter for PCM in format f.
func NewSegmenter(f Format, opts ...SegmenterOption) *Segmenter {
	s := &Segmenter{
		format:  f,
		gap:     DefaultSilenceGap,
		maxLen:  DefaultMaxUtterance,
		bufSize: 64,
		active:  make(map[string]*utterance),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.out = make(chan Segment, s.bufSize)
	go s.loop()
	return s
}

// Segments returns the channel of completed utterances.
func (s *Segmenter) Segments() <-chan Segment { return s.out }

// Push appends pcm to speaker's open utterance, opening one if needed. Pushes
// after Close are dropped.
func (s *Segmenter) Push(speaker string, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	now := time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	u, ok := s.active[speaker]
	if !ok {
		u = &utterance{start: now}
		s.active[speaker] = u
	}
	u.pcm = append(u.pcm, pcm...)
	u.last = now

	if s.maxLen > 0 && s.lengthOf(u) >= s.maxLen {
		s.ready = append(s.ready, s.take(speaker, u))
	}
	s.mu.Unlock()
}

// Close flushes every open utterance, stops the Segmenter, and closes the
// Segments channel. Calling Close more than once is safe.
func (s *Segmenter) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.stopped
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	<-s.stopped
}

func (s *Segmenter) loop() {
	defer close(s.stopped)
	defer close(s.out)

	tick := min(max(s.gap/4, 10*time.Millisecond), 250*time.Millisecond)
	t := time.NewTicker(tick)
	defer t.Stop()

	for {
		select {
		case <-s.done:
			for _, seg := range s.collect(func(*utterance) bool { return true }) {
				s.emit(seg)
			}
			return
		case now := <-t.C:
			for _, seg := range s.collect(func(u *utterance) bool { return now.Sub(u.last) >= s.gap }) {
				s.emit(seg)
			}
		}
	}
}

// collect removes and returns capped utterances plus the open ones selected
// by ready.
func (s *Segmenter) collect(ready func(*utterance) bool) []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	segs := s.ready
	s.ready = nil
	for speaker, u := range s.active {
		if ready(u) {
			segs = append(segs, s.take(speaker, u))
		}
	}
	return segs
}

// take must be called with mu held.
func (s *Segmenter) take(speaker string, u *utterance) Segment {
	delete(s.active, speaker)
	return Segment{
		SpeakerID: speaker,
		Data:      u.pcm,
		Encoding:  EncodingPCM,
		Format:    s.format,
		Start:     u.start,
		End:       u.last,
	}
}

func (s *Segmenter) lengthOf(u *utterance) time.Duration {
	return Segment{Data: u.pcm, Format: s.format}.Duration()
}

// emit is only called from loop, which owns the out channel.
func (s *Segmenter) emit(seg Segment) {
	if s.minRMS > 0 && RMS(seg.Data) < s.minRMS {
		return
	}
	s.out <- seg
}
