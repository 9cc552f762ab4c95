package transcode

import (
	"fmt"

	"github.com/hraban/opus"
)

// OpusDecoder wraps hraban/opus, decoding fixed 960-sample (20ms @ 48kHz)
// Opus frames into planar float32 -- the only decode path this origin
// needs, since Opus is the sole non-AAC codec in the pack with source
// material likely to require AAC transcoding for wider client support.
type OpusDecoder struct {
	dec      *opus.Decoder
	channels int
}

const opusFrameSamples = 960

func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("transcode: init Opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, channels: channels}, nil
}

// Decode returns planar float32 PCM for one Opus packet.
func (d *OpusDecoder) Decode(packet []byte) ([][]float32, error) {
	pcm := make([]float32, opusFrameSamples*d.channels)
	n, err := d.dec.DecodeFloat32(packet, pcm)
	if err != nil {
		return nil, fmt.Errorf("transcode: Opus decode: %w", err)
	}
	pcm = pcm[:n*d.channels]

	planar := make([][]float32, d.channels)
	for ch := 0; ch < d.channels; ch++ {
		planar[ch] = make([]float32, n)
		for i := 0; i < n; i++ {
			planar[ch][i] = pcm[i*d.channels+ch]
		}
	}
	return planar, nil
}
