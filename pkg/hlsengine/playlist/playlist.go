package playlist

import (
	"fmt"
	"strings"

	"github.com/avian-media/hlsorigin/pkg/hlsengine"
)

// MasterOptions carries the request-scoped inputs the master playlist needs
// beyond what's in the descriptor: the client's Accept-derived codec list
// (already applied by the caller via hlsengine.PlanAudio) and the URL
// prefix under which this stream's variant/media playlists are served, i.e.
// the "{*path}.{ext}" portion of the request URL.
type MasterOptions struct {
	AudioVariants []hlsengine.AudioVariant
	URLPrefix     string // e.g. "/videos/test.mp4"
}

// BuildMaster renders the EXT-X-STREAM-INF master playlist: one EXT-X-MEDIA
// line per planned audio rendition, one EXT-X-MEDIA SUBTITLES line per text
// subtitle stream, and one video EXT-X-STREAM-INF per audio GROUP-ID (a
// single one without an AUDIO attribute when no audio variant is planned).
// A descriptor with no video stream yields only the playlist header.
func BuildMaster(desc *hlsengine.StreamDescriptor, opts MasterOptions) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:7\n")

	video, hasVideo := desc.VideoStream()
	if !hasVideo {
		return b.String()
	}

	audioGroups := map[string]bool{}
	for _, v := range opts.AudioVariants {
		if audioGroups[v.GroupID] {
			continue
		}
		audioGroups[v.GroupID] = true
	}
	if len(audioGroups) == 0 {
		audioGroups[""] = true // video only: one STREAM-INF with no AUDIO attribute
	}

	// track numbers in the URL are 1-based positions within the planned
	// variant / subtitle-stream list, not source stream indices.
	for i, v := range opts.AudioVariants {
		def := "NO"
		if v.Default {
			def = "YES"
		}
		fmt.Fprintf(&b, "#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=%q,NAME=%q,LANGUAGE=%q,AUTOSELECT=YES,DEFAULT=%s,URI=%q\n",
			v.GroupID, variantName(v), v.Language, def,
			fmt.Sprintf("%s/a/%d.m3u8", opts.URLPrefix, i+1))
	}

	subtitlesPresent := len(desc.SubtitleStreams) > 0
	if subtitlesPresent {
		for i, s := range desc.SubtitleStreams {
			def := "NO"
			if i == 0 {
				def = "YES"
			}
			fmt.Fprintf(&b, "#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID=\"subs\",NAME=%q,LANGUAGE=%q,AUTOSELECT=YES,DEFAULT=%s,URI=%q\n",
				subtitleName(s), s.Language,
				def, fmt.Sprintf("%s/s/%d.m3u8", opts.URLPrefix, i+1))
		}
	}

	// One STREAM-INF per exposed audio codec group, since each group
	// implies a distinct CODECS string and, for non-AAC groups, a
	// different container mux.
	for group := range audioGroups {
		var audioCodec string
		for _, v := range opts.AudioVariants {
			if v.GroupID == group {
				audioCodec = AudioCodecString(v.CodecID)
				break
			}
		}
		codecs := VideoCodecString(video.CodecID, video.Profile, video.Level)
		if audioCodec != "" {
			codecs += "," + audioCodec
		}
		bandwidth := EstimateBandwidth(video.Bitrate, 128000)

		attrs := fmt.Sprintf("BANDWIDTH=%d,CODECS=%q,RESOLUTION=%dx%d",
			bandwidth, codecs, video.Width, video.Height)
		if group != "" {
			attrs += fmt.Sprintf(",AUDIO=%q", group)
		}
		if subtitlesPresent {
			attrs += ",SUBTITLES=\"subs\""
		}
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:%s\n", attrs)
		fmt.Fprintf(&b, "%s/v/1.m3u8\n", opts.URLPrefix)
	}

	return b.String()
}

func variantName(v hlsengine.AudioVariant) string {
	if v.Language == "" {
		return strings.ToUpper(v.CodecID)
	}
	return v.Language
}

func subtitleName(s hlsengine.SubtitleStreamInfo) string {
	if s.Language == "" {
		return "Subtitles"
	}
	return s.Language
}

// MediaOptions carries the render-time inputs for one variant playlist.
type MediaOptions struct {
	InitSegmentURL string
	SegmentURLFmt  string // fmt.Sprintf template taking the sequence number
}

// BuildMedia renders a VOD EXT-X-PLAYLIST-TYPE media playlist for one
// track's full segment timeline. It is always the entire timeline: VOD
// playlists never grow after the first render for a given descriptor.
func BuildMedia(desc *hlsengine.StreamDescriptor, opts MediaOptions) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:7\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	b.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration(desc.Segments))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	fmt.Fprintf(&b, "#EXT-X-MAP:URI=%q\n", opts.InitSegmentURL)

	for _, seg := range desc.Segments {
		fmt.Fprintf(&b, "#EXTINF:%.5f,\n", seg.DurationS)
		fmt.Fprintf(&b, opts.SegmentURLFmt+"\n", seg.Sequence)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

func targetDuration(segments []hlsengine.Segment) int {
	max := 0.0
	for _, s := range segments {
		if s.DurationS > max {
			max = s.DurationS
		}
	}
	return int(max + 0.999) // round up, per RFC 8216's integer-seconds requirement
}
