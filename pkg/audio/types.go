package audio

import "time"

// Format describes the PCM layout of an audio buffer. All PCM handled by this
// package is signed 16-bit little-endian, interleaved by channel.
type Format struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// DiscordFormat is the layout produced by decoding Discord voice: 48 kHz
// stereo.
var DiscordFormat = Format{SampleRate: 48000, Channels: 2}

// BytesPerSecond returns the PCM byte rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * bytesPerSample
}

// Valid reports whether f has a positive rate and channel count.
func (f Format) Valid() bool { return f.SampleRate > 0 && f.Channels > 0 }

// Encoding tells how the bytes of a [Segment] are laid out.
type Encoding int

const (
	// EncodingPCM is raw interleaved 16-bit PCM in Segment.Format.
	EncodingPCM Encoding = iota

	// EncodingWAV is a complete RIFF/WAV file.
	EncodingWAV
)

// Segment is one speaker's utterance, bounded by silence.
type Segment struct {
	SpeakerID string
	Data      []byte
	Encoding  Encoding

	// Format is the PCM layout of Data (for WAV, of the embedded samples).
	Format Format

	Start time.Time
	End   time.Time
}

// Duration returns the audio length implied by the PCM byte count. WAV
// segments subtract the canonical 44-byte header.
func (s Segment) Duration() time.Duration {
	bps := s.Format.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	n := len(s.Data)
	if s.Encoding == EncodingWAV {
		n = max(n-wavHeaderSize, 0)
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// WAV returns the segment as a WAV file converted to target. A WAV segment is
// returned unchanged; a zero target keeps the segment's own format.
func (s Segment) WAV(target Format) []byte {
	if s.Encoding == EncodingWAV {
		return s.Data
	}
	if !target.Valid() {
		target = s.Format
	}
	return EncodeWAV(Convert(s.Data, s.Format, target), target)
}
