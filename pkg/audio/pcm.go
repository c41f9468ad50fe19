package audio

import (
	"encoding/binary"
	"math"
)

const bytesPerSample = 2

// Convert changes the channel count and sample rate of 16-bit PCM. Channels
// are reduced by averaging (or widened by duplicating the first channel)
// before resampling so the resampler touches as few samples as possible.
func Convert(pcm []byte, from, to Format) []byte {
	if !from.Valid() || !to.Valid() || from == to {
		return pcm
	}
	out := pcm
	if from.Channels != to.Channels {
		out = Remix(out, from.Channels, to.Channels)
	}
	if from.SampleRate != to.SampleRate {
		out = Resample(out, to.Channels, from.SampleRate, to.SampleRate)
	}
	return out
}

// Remix converts interleaved PCM from src to dst channels. Going down, every
// output sample is the mean of the input frame, clamped to int16. Going up,
// mono is copied to every output channel.
func Remix(pcm []byte, src, dst int) []byte {
	if src <= 0 || dst <= 0 || src == dst {
		return pcm
	}
	frames := len(pcm) / (src * bytesPerSample)
	out := make([]byte, frames*dst*bytesPerSample)
	for f := range frames {
		var sum int32
		for c := range src {
			sum += int32(sampleAt(pcm, f*src+c))
		}
		v := clamp16(sum / int32(src))
		if dst < src {
			for c := range dst {
				putSample(out, f*dst+c, v)
			}
			continue
		}
		first := sampleAt(pcm, f*src)
		for c := range dst {
			putSample(out, f*dst+c, first)
		}
	}
	return out
}

// Resample changes the rate of interleaved PCM with linear interpolation per
// channel.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if channels <= 0 || srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (channels * bytesPerSample)
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]byte, dstFrames*channels*bytesPerSample)
	step := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for c := range channels {
			a := float64(sampleAt(pcm, idx*channels+c))
			b := float64(sampleAt(pcm, next*channels+c))
			putSample(out, i*channels+c, int16(math.Round(a+(b-a)*frac)))
		}
	}
	return out
}

// RMS returns the root-mean-square level of 16-bit PCM in sample units
// (0 to 32767). Buffers shorter than one sample return 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / bytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(sampleAt(pcm, i))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// Int16ToBytes serialises samples as little-endian PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		putSample(out, i, s)
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:]))
}

func putSample(pcm []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(pcm[i*bytesPerSample:], uint16(v))
}

func clamp16(v int32) int16 {
	return int16(max(math.MinInt16, min(math.MaxInt16, v)))
}
