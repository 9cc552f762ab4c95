// Package transcode implements the one narrow decode/resample/encode path
// the origin needs: turning an Opus source audio track into AAC-LC when a
// client's accept-codecs list requires it. Opus is the only source codec
// this package decodes; Vorbis, FLAC and MP3 sources have no decode path.
// No resampling library appears anywhere in the example pack (see
// DESIGN.md), so the resampler itself is the one deliberately hand-written
// DSP component of this package; decode and encode are delegated to real
// codec libraries.
package transcode

// Resampler performs linear-interpolation sample-rate conversion on
// planar float32 (FLTP) audio, carrying fractional-sample phase across
// calls so a multi-segment transcode never accumulates drift at segment
// boundaries.
type Resampler struct {
	srcRate, dstRate int
	channels         int
	phase            float64 // source-sample position of the next output sample, relative to the next input block
	tail             [][]float32 // last source frame per channel, for interpolation across Feed calls
}

func NewResampler(srcRate, dstRate, channels int) *Resampler {
	return &Resampler{
		srcRate:  srcRate,
		dstRate:  dstRate,
		channels: channels,
		tail:     make([][]float32, channels),
	}
}

// Feed resamples one block of planar input (in[ch][sample]) and returns
// planar output at the target rate. Call Flush after the last Feed to
// retrieve any samples still pending due to fractional phase.
func (r *Resampler) Feed(in [][]float32) [][]float32 {
	if r.srcRate == r.dstRate {
		return in
	}
	if len(in) == 0 || len(in[0]) == 0 {
		return nil
	}

	ratio := float64(r.srcRate) / float64(r.dstRate)
	nrIn := len(in[0])
	out := make([][]float32, r.channels)

	for ch := 0; ch < r.channels; ch++ {
		var samples []float32
		pos := r.phase
		for pos < float64(nrIn) {
			i0 := int(pos)
			frac := pos - float64(i0)

			var s0, s1 float32
			if i0 == 0 && len(r.tail[ch]) > 0 {
				s0 = r.tail[ch][0]
			} else if i0-1 >= 0 && i0-1 < nrIn {
				s0 = in[ch][i0-1]
			} else if i0 < nrIn {
				s0 = in[ch][i0]
			}
			if i0 < nrIn {
				s1 = in[ch][i0]
			} else if i0-1 >= 0 {
				s1 = in[ch][i0-1]
			}

			sample := s0 + float32(frac)*(s1-s0)
			samples = append(samples, sample)
			pos += ratio
		}
		out[ch] = samples
		if nrIn > 0 {
			r.tail[ch] = []float32{in[ch][nrIn-1]}
		}
	}

	r.phase = r.phase + ratio*float64(len(out[0])) - float64(nrIn)
	return out
}

func fracPart(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v - float64(int(v))
}

// Flush has nothing to emit for the linear-interpolation resampler: unlike
// a windowed-sinc implementation there is no filter tail to drain, only
// the last-frame carry already folded into the next Feed call.
func (r *Resampler) Flush() [][]float32 { return nil }
