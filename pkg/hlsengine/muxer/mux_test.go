package muxer

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func aacTrackSpec() TrackSpec {
	return TrackSpec{
		TrackID:    2,
		Timescale:  48000,
		MediaType:  "audio",
		CodecTag:   "aac",
		SampleRate: 48000,
		Channels:   2,
	}
}

// findMoofOffsets returns the byte offset of every top-level moof box in buf.
func findMoofOffsets(t *testing.T, buf []byte) []int {
	t.Helper()
	var offsets []int
	pos := 0
	for pos+8 <= len(buf) {
		size := int(binary.BigEndian.Uint32(buf[pos : pos+4]))
		typ := string(buf[pos+4 : pos+8])
		require.GreaterOrEqual(t, size, 8)
		if typ == "moof" {
			offsets = append(offsets, pos)
		}
		pos += size
	}
	return offsets
}

func TestBuildFragmentedMediaSegment_EmitsOneMoofPerSample(t *testing.T) {
	samples := []Sample{
		{Data: []byte{0x01, 0x02, 0x03}, DurationTicks: 1024, IsSync: true},
		{Data: []byte{0x04, 0x05, 0x06}, DurationTicks: 1024, IsSync: true},
		{Data: []byte{0x07, 0x08, 0x09}, DurationTicks: 1024, IsSync: true},
	}

	data, err := BuildFragmentedMediaSegment(aacTrackSpec(), samples, 5, 100000)
	require.NoError(t, err)

	offsets := findMoofOffsets(t, data)
	require.Len(t, offsets, 3, "one fragment per sample")
}

func TestBuildFragmentedMediaSegment_SequenceAndDecodeTimeAdvancePerFragment(t *testing.T) {
	samples := []Sample{
		{Data: []byte{0xAA}, DurationTicks: 1024, IsSync: true},
		{Data: []byte{0xBB}, DurationTicks: 1024, IsSync: true},
	}

	data, err := BuildFragmentedMediaSegment(aacTrackSpec(), samples, 7, 200000)
	require.NoError(t, err)

	offsets := findMoofOffsets(t, data)
	require.Len(t, offsets, 2)

	for i, off := range offsets {
		size := int(binary.BigEndian.Uint32(data[off : off+4]))
		moof := boxLoc{start: off, bodyStart: off + 8, end: off + size}

		mfhd, err := findChildBox(data, moof, "mfhd")
		require.NoError(t, err)
		seq := binary.BigEndian.Uint32(data[mfhd.bodyStart+4 : mfhd.bodyStart+8])
		require.Equal(t, uint32(7+i), seq, "mfhd sequence numbers increase one per fragment")

		traf, err := findChildBox(data, moof, "traf")
		require.NoError(t, err)
		tfdt, err := findChildBox(data, traf, "tfdt")
		require.NoError(t, err)
		version := data[tfdt.bodyStart]
		var bmdt uint64
		if version == 0 {
			bmdt = uint64(binary.BigEndian.Uint32(data[tfdt.bodyStart+4 : tfdt.bodyStart+8]))
		} else {
			bmdt = binary.BigEndian.Uint64(data[tfdt.bodyStart+4 : tfdt.bodyStart+12])
		}
		require.Equal(t, uint64(200000+i*1024), bmdt, "decode time advances by the preceding fragment's duration")
	}
}

func TestBuildFragmentedMediaSegment_NoSamplesProducesEmptySegment(t *testing.T) {
	data, err := BuildFragmentedMediaSegment(aacTrackSpec(), nil, 1, 0)
	require.NoError(t, err)
	require.Empty(t, data)
}
