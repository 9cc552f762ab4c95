// Package subtitle turns demuxed subtitle packets into plain cue text and,
// downstream, WebVTT segment documents. Grounded on original_source's
// subtitle/decoder.rs: strip container/markup framing, keep the payload
// text and nothing else.
package subtitle

import (
	"regexp"
	"strings"
)

// DecodePayload converts one subtitle packet's raw bytes into plain cue
// text for the given codec tag. Bitmap formats are rejected by the caller
// before reaching here (see hlsengine.isBitmapSubtitleCodec).
func DecodePayload(codecTag string, data []byte) string {
	switch codecTag {
	case "ass", "ssa":
		return stripASSTags(string(data))
	case "mov_text":
		return stripMovTextHeader(data)
	default: // srt, webvtt, plain UTF-8 payloads
		return strings.TrimSpace(string(data))
	}
}

// stripASSTags removes an ASS/SSA Dialogue line's field prefix (everything
// up to the 8th comma; the Text field is the 9th) and any {\...} override tags, leaving plain
// text with \N/\n converted to real newlines.
func stripASSTags(line string) string {
	text := line
	if idx := nthComma(line, 8); idx >= 0 {
		text = line[idx+1:]
	}

	var b strings.Builder
	depth := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '{':
			depth++
		case c == '}':
			if depth > 0 {
				depth--
			}
		case depth == 0:
			b.WriteByte(c)
		}
	}

	out := b.String()
	out = strings.ReplaceAll(out, `\N`, "\n")
	out = strings.ReplaceAll(out, `\n`, "\n")
	out = strings.ReplaceAll(out, `\h`, " ")
	return strings.TrimSpace(out)
}

func nthComma(s string, n int) int {
	count := 0
	for i, c := range s {
		if c == ',' {
			count++
			if count == n {
				return i
			}
		}
	}
	return -1
}

// stripMovTextHeader drops the 2-byte big-endian text length prefix that
// precedes a 3GPP Timed Text (mov_text) sample, keeps only the text it
// covers (dropping any trailing style boxes), then removes any <...> tags.
func stripMovTextHeader(data []byte) string {
	if len(data) < 2 {
		return ""
	}
	textLen := int(data[0])<<8 | int(data[1])
	if 2+textLen > len(data) {
		textLen = len(data) - 2
	}
	text := string(data[2 : 2+textLen])
	return strings.TrimSpace(movTextTagPattern.ReplaceAllString(text, ""))
}

var movTextTagPattern = regexp.MustCompile(`<[^>]*>`)

// EscapeVTT applies WebVTT's minimal cue-text escaping.
func EscapeVTT(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
