package playlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avian-media/hlsorigin/pkg/hlsengine"
)

func testDescriptor() *hlsengine.StreamDescriptor {
	return &hlsengine.StreamDescriptor{
		ID: "abc123",
		VideoStreams: []hlsengine.VideoStreamInfo{
			{StreamIndex: 0, CodecID: "h264", Profile: 100, Level: 40, Bitrate: 2_000_000, Width: 1920, Height: 1080},
		},
		SubtitleStreams: []hlsengine.SubtitleStreamInfo{
			{StreamIndex: 0, Language: "eng", Format: hlsengine.CodecFormatSRT},
		},
		Segments: []hlsengine.Segment{
			{Sequence: 0, DurationS: 4.0},
			{Sequence: 1, DurationS: 3.8},
			{Sequence: 2, DurationS: 4.2},
		},
	}
}

func TestBuildMaster_IncludesStreamInfAndMediaLines(t *testing.T) {
	desc := testDescriptor()
	opts := MasterOptions{
		AudioVariants: []hlsengine.AudioVariant{
			{GroupID: "audio-aac", Language: "eng", CodecID: "aac", Default: true, SourceIndex: 0},
		},
		URLPrefix: "/videos/test.mp4",
	}

	m3u8 := BuildMaster(desc, opts)

	assert.Contains(t, m3u8, "#EXTM3U")
	assert.Contains(t, m3u8, `#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="audio-aac"`)
	assert.Contains(t, m3u8, `DEFAULT=YES`)
	assert.Contains(t, m3u8, `#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs"`)
	assert.Contains(t, m3u8, `AUDIO="audio-aac"`)
	assert.Contains(t, m3u8, `SUBTITLES="subs"`)
	assert.Contains(t, m3u8, "CODECS=\"avc1.640028,mp4a.40.2\"")
	assert.Contains(t, m3u8, "/videos/test.mp4/v/1.m3u8")
	assert.Contains(t, m3u8, "/videos/test.mp4/a/1.m3u8")
	assert.Contains(t, m3u8, "/videos/test.mp4/s/1.m3u8")
}

func TestBuildMaster_NoVideoStreamProducesEmptyPlaylist(t *testing.T) {
	desc := &hlsengine.StreamDescriptor{}

	m3u8 := BuildMaster(desc, MasterOptions{})

	assert.NotContains(t, m3u8, "#EXT-X-STREAM-INF")
}

func TestBuildMaster_OneStreamInfPerAudioGroup(t *testing.T) {
	desc := testDescriptor()
	opts := MasterOptions{
		AudioVariants: []hlsengine.AudioVariant{
			{GroupID: "audio-aac", Language: "eng", CodecID: "aac", Default: true, SourceIndex: 0},
			{GroupID: "audio-ac3", Language: "spa", CodecID: "ac3", SourceIndex: 1},
		},
		URLPrefix: "/videos/test.mp4",
	}

	m3u8 := BuildMaster(desc, opts)

	count := 0
	for i := 0; i+len("#EXT-X-STREAM-INF") <= len(m3u8); i++ {
		if m3u8[i:i+len("#EXT-X-STREAM-INF")] == "#EXT-X-STREAM-INF" {
			count++
		}
	}
	assert.Equal(t, 2, count, "each distinct audio group gets its own STREAM-INF variant")
}

func TestBuildMedia_RendersFullVODTimeline(t *testing.T) {
	desc := testDescriptor()
	opts := MediaOptions{
		InitSegmentURL: "1.init.mp4",
		SegmentURLFmt:  "1.%d.m4s",
	}

	m3u8 := BuildMedia(desc, opts)

	require.Contains(t, m3u8, "#EXT-X-PLAYLIST-TYPE:VOD")
	assert.Contains(t, m3u8, "#EXT-X-MAP:URI=\"1.init.mp4\"")
	assert.Contains(t, m3u8, "#EXT-X-TARGETDURATION:5", "rounds the max segment duration up to the next integer second")
	assert.Contains(t, m3u8, "#EXTINF:4.20000,")
	assert.Contains(t, m3u8, "1.2.m4s")
	assert.Contains(t, m3u8, "#EXT-X-ENDLIST")
}
