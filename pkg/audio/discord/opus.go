package discord

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/scrumscribe/pkg/audio"
)

// Discord voice uses 48 kHz stereo Opus at 20 ms frame size.
const (
	opusSampleRate = 48000
	opusChannels   = 2
	opusFrameSize  = opusSampleRate / 50 // samples per channel in 20 ms

	// maxConcealFrames caps the silence inserted for a burst of lost
	// packets. Longer gaps are a speaker muting, not loss.
	maxConcealFrames = 5
)

// opusDecoder decodes the packets of one SSRC stream. It tracks RTP sequence
// numbers so a single lost packet is rebuilt from the forward error
// correction data of its successor, and short bursts become silence. This
// keeps each utterance at its real length.
type opusDecoder struct {
	dec     *gopus.Decoder
	lastSeq uint16
	started bool
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// decode returns the PCM for packet seq, preceded by the recovered or
// concealed audio of any packets lost since the previous call. Packets that
// arrive out of order are dropped.
func (d *opusDecoder) decode(seq uint16, opus []byte) ([]byte, error) {
	lost := 0
	if d.started {
		delta := seq - d.lastSeq
		if delta == 0 || delta > 0x8000 {
			return nil, nil
		}
		lost = int(delta) - 1
	}
	d.lastSeq, d.started = seq, true

	var out []byte
	switch {
	case lost == 1:
		if pcm, err := d.dec.Decode(opus, opusFrameSize, true); err == nil {
			out = audio.Int16ToBytes(pcm)
		} else {
			out = silence(1)
		}
	case lost > 1:
		out = silence(min(lost, maxConcealFrames))
	}

	pcm, err := d.dec.Decode(opus, opusFrameSize, false)
	if err != nil {
		return out, fmt.Errorf("discord: opus decode: %w", err)
	}
	return append(out, audio.Int16ToBytes(pcm)...), nil
}

func silence(frames int) []byte {
	return make([]byte, frames*opusFrameSize*opusChannels*2)
}
