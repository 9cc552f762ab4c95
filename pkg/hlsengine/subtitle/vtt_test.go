package subtitle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSegment_IncludesOnlyIntersectingCues(t *testing.T) {
	cues := []Cue{
		{StartSeconds: 0, EndSeconds: 2, Text: "before window"},
		{StartSeconds: 5, EndSeconds: 7, Text: "inside window"},
		{StartSeconds: 20, EndSeconds: 22, Text: "after window"},
	}

	doc := BuildSegment(cues, 4, 8, 900000)

	require.True(t, strings.HasPrefix(doc, "WEBVTT\n\n"))
	assert.Contains(t, doc, "X-TIMESTAMP-MAP=MPEGTS:900000,LOCAL:00:00:00.000")
	assert.Contains(t, doc, "inside window")
	assert.NotContains(t, doc, "before window")
	assert.NotContains(t, doc, "after window")
}

func TestBuildSegment_EscapesCueText(t *testing.T) {
	cues := []Cue{{StartSeconds: 0, EndSeconds: 1, Text: "Tom & Jerry <live>"}}

	doc := BuildSegment(cues, 0, 2, 0)

	assert.Contains(t, doc, "Tom &amp; Jerry &lt;live&gt;")
}

func TestBuildSegment_FormatsTimestamps(t *testing.T) {
	cues := []Cue{{StartSeconds: 3661.5, EndSeconds: 3662.25, Text: "x"}}

	doc := BuildSegment(cues, 0, 4000, 0)

	assert.Contains(t, doc, "01:01:01.500 --> 01:01:02.250")
}

func TestBuildSegment_ClampsNegativeStart(t *testing.T) {
	cues := []Cue{{StartSeconds: -1, EndSeconds: 1, Text: "x"}}

	doc := BuildSegment(cues, -5, 5, 0)

	assert.Contains(t, doc, "00:00:00.000 -->")
}
