package transcode

import (
	"fmt"

	"github.com/viert/go-fdkaac/fdkaac"
)

// AACEncoder wraps fdk-aac's AAC-LC encoder at a fixed bitrate, buffering
// input samples into 1024-sample frames (AAC-LC's fixed frame size) since
// upstream decoders rarely hand over exactly one frame's worth of samples
// per call.
type AACEncoder struct {
	enc      *fdkaac.AacEncoder
	sampleRate int
	channels   int
	pending    []float32 // interleaved samples awaiting a full 1024-sample frame
}

const aacFrameSize = 1024

func NewAACEncoder(sampleRate, channels, bitrate int) (*AACEncoder, error) {
	enc := fdkaac.NewAacEncoder()
	if err := enc.InitRaw(fdkaac.AacEncoderParams{
		SampleRate:  sampleRate,
		Channels:    channels,
		BitRate:     bitrate,
		BitRateMode: 0,
		Afterburner: true,
	}); err != nil {
		return nil, fmt.Errorf("transcode: init AAC encoder: %w", err)
	}
	return &AACEncoder{enc: enc, sampleRate: sampleRate, channels: channels}, nil
}

// Encode interleaves planar float32 input, converts to int16, and emits
// zero or more raw (no ADTS header) AAC-LC frames -- HLS fMP4 audio
// segments carry raw AAC access units, framing comes from the moof/trun
// sample table instead.
func (e *AACEncoder) Encode(planar [][]float32) ([][]byte, error) {
	interleaved := interleave(planar)
	e.pending = append(e.pending, interleaved...)

	var frames [][]byte
	frameLen := aacFrameSize * e.channels
	for len(e.pending) >= frameLen {
		pcm := floatToInt16(e.pending[:frameLen])
		e.pending = e.pending[frameLen:]

		frame, err := e.enc.Encode(pcm)
		if err != nil {
			return nil, fmt.Errorf("transcode: AAC encode: %w", err)
		}
		if len(frame) > 0 {
			frames = append(frames, frame)
		}
	}
	return frames, nil
}

// Flush pads any remaining partial frame with silence and encodes it, per
// the encoder's requirement that every call receives a full frame.
func (e *AACEncoder) Flush() ([][]byte, error) {
	frameLen := aacFrameSize * e.channels
	if len(e.pending) == 0 {
		return nil, nil
	}
	padded := make([]float32, frameLen)
	copy(padded, e.pending)
	e.pending = nil

	pcm := floatToInt16(padded)
	frame, err := e.enc.Encode(pcm)
	if err != nil {
		return nil, fmt.Errorf("transcode: AAC flush encode: %w", err)
	}
	if len(frame) == 0 {
		return nil, nil
	}
	return [][]byte{frame}, nil
}

func (e *AACEncoder) Close() error {
	return e.enc.Close()
}

func interleave(planar [][]float32) []float32 {
	if len(planar) == 0 {
		return nil
	}
	nrSamples := len(planar[0])
	channels := len(planar)
	out := make([]float32, nrSamples*channels)
	for s := 0; s < nrSamples; s++ {
		for ch := 0; ch < channels; ch++ {
			out[s*channels+ch] = planar[ch][s]
		}
	}
	return out
}

func floatToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int16(s * 32767)
	}
	return out
}
