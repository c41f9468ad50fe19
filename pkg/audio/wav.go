package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const wavHeaderSize = 44

// ErrNotWAV is returned by DecodeWAV for data that is not a PCM RIFF/WAVE file.
var ErrNotWAV = errors.New("audio: not a PCM WAV file")

// EncodeWAV wraps 16-bit PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	blockAlign := f.Channels * bytesPerSample
	buf := make([]byte, wavHeaderSize+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 8*bytesPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

// DecodeWAV parses a 16-bit PCM WAV file and returns its format and samples.
// Chunks other than "fmt " and "data" are skipped.
func DecodeWAV(data []byte) (Format, []byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, ErrNotWAV
	}
	var (
		f      Format
		gotFmt bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			// Streaming writers leave the data size unset; take the rest.
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, nil, fmt.Errorf("audio: short fmt chunk (%d bytes): %w", size, ErrNotWAV)
			}
			if tag := binary.LittleEndian.Uint16(data[body:]); tag != 1 {
				return Format{}, nil, fmt.Errorf("audio: format tag %d: %w", tag, ErrNotWAV)
			}
			if bits := binary.LittleEndian.Uint16(data[body+14:]); bits != 16 {
				return Format{}, nil, fmt.Errorf("audio: %d bits per sample: %w", bits, ErrNotWAV)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			gotFmt = true
		case "data":
			if !gotFmt {
				return Format{}, nil, fmt.Errorf("audio: data before fmt: %w", ErrNotWAV)
			}
			return f, data[body : body+size], nil
		}
		off = body + size + size%2
	}
	return Format{}, nil, fmt.Errorf("audio: no data chunk: %w", ErrNotWAV)
}
