package subtitle

import (
	"fmt"
	"strings"
)

// Cue is the subset of hlsengine.SubtitleCue this package needs, kept
// local so subtitle has no dependency on the parent package.
type Cue struct {
	StartSeconds float64
	EndSeconds   float64
	Text         string
}

// BuildSegment renders one WebVTT segment document covering
// [windowStart, windowEnd) seconds of program time, including only cues
// that intersect the window. mpegtsBase is the value HLS players expect in
// X-TIMESTAMP-MAP to align this segment's local VTT clock with the
// program timeline.
func BuildSegment(cues []Cue, windowStart, windowEnd float64, mpegtsBase int64) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	fmt.Fprintf(&b, "X-TIMESTAMP-MAP=MPEGTS:%d,LOCAL:00:00:00.000\n\n", mpegtsBase)

	for _, c := range cues {
		if c.EndSeconds <= windowStart || c.StartSeconds >= windowEnd {
			continue
		}
		fmt.Fprintf(&b, "%s --> %s\n", formatTimestamp(c.StartSeconds), formatTimestamp(c.EndSeconds))
		b.WriteString(EscapeVTT(c.Text))
		b.WriteString("\n\n")
	}

	return b.String()
}

func formatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMS := int64(seconds*1000 + 0.5)
	ms := totalMS % 1000
	totalS := totalMS / 1000
	s := totalS % 60
	totalM := totalS / 60
	m := totalM % 60
	h := totalM / 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
