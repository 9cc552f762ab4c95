package subtitle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodePayload_StripsASSOverrideTagsAndFieldPrefix(t *testing.T) {
	line := `0,0,Default,,0,0,0,,{\an8}Hello {\i1}world{\i0}!`
	assert.Equal(t, "Hello world!", DecodePayload("ass", []byte(line)))
}

func TestDecodePayload_ASSConvertsLineBreakEscapes(t *testing.T) {
	line := `0,0,Default,,0,0,0,,Line one\NLine two\hindented`
	assert.Equal(t, "Line one\nLine two indented", DecodePayload("ssa", []byte(line)))
}

func TestDecodePayload_MovTextStripsLengthPrefixAndMarkup(t *testing.T) {
	text := "<b>bold</b>"
	data := append([]byte{0, byte(len(text))}, text...)
	assert.Equal(t, "bold", DecodePayload("mov_text", data))
}

func TestDecodePayload_MovTextClampsOversizedLength(t *testing.T) {
	data := append([]byte{0, 200}, "short"...)
	assert.Equal(t, "short", DecodePayload("mov_text", data))
}

func TestDecodePayload_PlainPayloadIsTrimmed(t *testing.T) {
	assert.Equal(t, "hello", DecodePayload("srt", []byte("  hello  \n")))
}

func TestEscapeVTT(t *testing.T) {
	assert.Equal(t, "a &amp; b &lt;tag&gt;", EscapeVTT("a & b <tag>"))
}
