package stt

import "time"

// WireSegment is the JSON shape of a segment as emitted by Whisper-style
// engines. Two layouts occur in practice: openai-whisper segments carry
// start/end/avg_logprob, while Hugging Face pipeline chunks carry a
// [start, end] timestamp pair. Both decode into WireSegment.
type WireSegment struct {
	Start      *float64   `json:"start,omitempty"`
	End        *float64   `json:"end,omitempty"`
	Timestamp  []*float64 `json:"timestamp,omitempty"`
	Text       string     `json:"text"`
	AvgLogProb float64    `json:"avg_logprob,omitempty"`
}

// Segment converts w into the canonical form. Missing bounds become zero.
func (w WireSegment) Segment() Segment {
	var start, end float64
	switch {
	case w.Start != nil || w.End != nil:
		start, end = deref(w.Start), deref(w.End)
	case len(w.Timestamp) > 0:
		start = deref(w.Timestamp[0])
		if len(w.Timestamp) > 1 {
			end = deref(w.Timestamp[1])
		}
	}
	return Segment{
		Start:   seconds(start),
		End:     seconds(end),
		Text:    w.Text,
		LogProb: w.AvgLogProb,
	}
}

// Segments converts a slice of wire segments.
func Segments(ws []WireSegment) []Segment {
	if len(ws) == 0 {
		return nil
	}
	out := make([]Segment, len(ws))
	for i, w := range ws {
		out[i] = w.Segment()
	}
	return out
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
