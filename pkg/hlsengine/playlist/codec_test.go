package playlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVideoCodecString(t *testing.T) {
	assert.Equal(t, "avc1.640028", VideoCodecString("h264", 100, 40), "high profile carries no constraint flags")
	assert.Equal(t, "avc1.4d0028", VideoCodecString("h264", 77, 40), "main profile carries no constraint flags")
	assert.Equal(t, "avc1.42400a", VideoCodecString("h264", 66, 10), "baseline profile sets constraint_set1_flag")
	assert.Equal(t, "hvc1.1.6.L93.90", VideoCodecString("hevc", 0, 0))
	assert.Equal(t, "vp09.00.10.08", VideoCodecString("vp9", 0, 0))
	assert.Equal(t, "av01.0.04M.08", VideoCodecString("av1", 0, 0))
	assert.Equal(t, "unknown", VideoCodecString("unknown", 0, 0))
}

func TestAudioCodecString(t *testing.T) {
	assert.Equal(t, "mp4a.40.2", AudioCodecString("aac"))
	assert.Equal(t, "ac-3", AudioCodecString("ac3"))
	assert.Equal(t, "ec-3", AudioCodecString("eac3"))
	assert.Equal(t, "opus", AudioCodecString("opus"))
}

func TestEstimateBandwidth(t *testing.T) {
	// original's 60% overhead multiplier over the raw bitrate sum.
	assert.Equal(t, int64(1_600_000), EstimateBandwidth(1_000_000, 0))
	assert.Equal(t, int64(0), EstimateBandwidth(0, 0))
}
