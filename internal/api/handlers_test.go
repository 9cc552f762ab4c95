package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestPath_MasterPlaylistSuffix(t *testing.T) {
	mediaPath, suffix, ok := parseRequestPath("/test.mp4.as.m3u8")

	require.True(t, ok)
	assert.Equal(t, "/test.mp4", mediaPath)
	assert.Equal(t, "as.m3u8", suffix)
}

func TestParseRequestPath_VideoSegment(t *testing.T) {
	mediaPath, suffix, ok := parseRequestPath("/test.mp4/v/1.0.m4s")

	require.True(t, ok)
	assert.Equal(t, "/test.mp4", mediaPath)
	assert.Equal(t, "v/1.0.m4s", suffix)
}

func TestParseRequestPath_AudioSegment(t *testing.T) {
	mediaPath, suffix, ok := parseRequestPath("/test.mp4/a/1.0.m4s")

	require.True(t, ok)
	assert.Equal(t, "/test.mp4", mediaPath)
	assert.Equal(t, "a/1.0.m4s", suffix)
}

func TestParseRequestPath_SubtitleSegment(t *testing.T) {
	mediaPath, suffix, ok := parseRequestPath("/test.mkv/s/1.0.vtt")

	require.True(t, ok)
	assert.Equal(t, "/test.mkv", mediaPath)
	assert.Equal(t, "s/1.0.vtt", suffix)
}

func TestParseRequestPath_NestedDirectories(t *testing.T) {
	mediaPath, suffix, ok := parseRequestPath("/movies/2024/test.webm/v/1.init.mp4")

	require.True(t, ok)
	assert.Equal(t, "/movies/2024/test.webm", mediaPath)
	assert.Equal(t, "v/1.init.mp4", suffix)
}

func TestParseRequestPath_SkipsInitSegmentWhenScanningForExtension(t *testing.T) {
	// the trailing "1.init.mp4" segment ends in ".mp4" too, but it names an
	// HLS init segment, not the underlying media file.
	mediaPath, suffix, ok := parseRequestPath("/test.mp4/v/1.init.mp4")

	require.True(t, ok)
	assert.Equal(t, "/test.mp4", mediaPath)
	assert.Equal(t, "v/1.init.mp4", suffix)
}

func TestParseRequestPath_UnrecognizedExtensionIsRejected(t *testing.T) {
	_, _, ok := parseRequestPath("/test.avi/v/1.m3u8")

	assert.False(t, ok)
}

func TestParseTrackSeq_SplitsTrackAndSequence(t *testing.T) {
	track, seq, ok := parseTrackSeq("1.14.m4s", ".m4s")

	require.True(t, ok)
	assert.Equal(t, 1, track)
	assert.Equal(t, 14, seq)
}

func TestParseTrackSeq_RejectsMalformedFragment(t *testing.T) {
	_, _, ok := parseTrackSeq("garbage.m4s", ".m4s")

	assert.False(t, ok)
}

func TestParseTrack_ParsesBareInteger(t *testing.T) {
	track, ok := parseTrack("2")

	require.True(t, ok)
	assert.Equal(t, 2, track)
}
