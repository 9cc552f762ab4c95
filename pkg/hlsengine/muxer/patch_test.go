package muxer

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// box builds a size-prefixed ISOBMFF box: 4-byte size, 4-byte type, body.
func box(typ string, body []byte) []byte {
	b := make([]byte, 8+len(body))
	binary.BigEndian.PutUint32(b[0:4], uint32(len(b)))
	copy(b[4:8], typ)
	copy(b[8:], body)
	return b
}

func mfhdBody(seq uint32) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[4:8], seq)
	return b
}

func tfdtBody(version byte, bmdt uint64) []byte {
	if version == 0 {
		b := make([]byte, 8)
		b[0] = 0
		binary.BigEndian.PutUint32(b[4:8], uint32(bmdt))
		return b
	}
	b := make([]byte, 12)
	b[0] = 1
	binary.BigEndian.PutUint64(b[4:12], bmdt)
	return b
}

func TestPatchSequenceNumber(t *testing.T) {
	mfhd := box("mfhd", mfhdBody(1))
	moof := box("moof", mfhd)

	patched, err := PatchSequenceNumber(moof, 42)
	require.NoError(t, err)

	seq := binary.BigEndian.Uint32(patched[8+8+4 : 8+8+8])
	require.Equal(t, uint32(42), seq)

	// original buffer left untouched
	origSeq := binary.BigEndian.Uint32(moof[8+8+4 : 8+8+8])
	require.Equal(t, uint32(1), origSeq)
}

func TestPatchBaseMediaDecodeTime_Version0(t *testing.T) {
	tfdt := box("tfdt", tfdtBody(0, 1000))
	traf := box("traf", tfdt)
	moof := box("moof", traf)

	patched, err := PatchBaseMediaDecodeTime(moof, 5_000_000)
	require.NoError(t, err)

	tfdtBodyStart := 8 + 8 + 8 // moof header + traf header + tfdt header
	version := patched[tfdtBodyStart]
	require.Equal(t, byte(0), version)
	got := binary.BigEndian.Uint32(patched[tfdtBodyStart+4 : tfdtBodyStart+8])
	require.Equal(t, uint32(5_000_000), got)
}

func TestPatchBaseMediaDecodeTime_Version1(t *testing.T) {
	tfdt := box("tfdt", tfdtBody(1, 1000))
	traf := box("traf", tfdt)
	moof := box("moof", traf)

	const big = uint64(1) << 40 // exceeds a 32-bit field
	patched, err := PatchBaseMediaDecodeTime(moof, big)
	require.NoError(t, err)

	tfdtBodyStart := 8 + 8 + 8
	got := binary.BigEndian.Uint64(patched[tfdtBodyStart+4 : tfdtBodyStart+12])
	require.Equal(t, big, got)
}

func TestPatchFragmentedTimestamps_PatchesEveryTopLevelMoof(t *testing.T) {
	frag := func(seq uint32, bmdt uint64) []byte {
		tfdt := box("tfdt", tfdtBody(0, bmdt))
		traf := box("traf", tfdt)
		mfhd := box("mfhd", mfhdBody(seq))
		return box("moof", append(append([]byte{}, mfhd...), traf...))
	}

	segment := append(append(frag(1, 0), frag(1, 0)...), frag(1, 0)...)
	durations := []uint64{1024, 1024, 1024}

	patched, err := PatchFragmentedTimestamps(segment, 10, 500000, durations)
	require.NoError(t, err)

	offsets := findMoofOffsets(t, patched)
	require.Len(t, offsets, 3)

	wantSeq := []uint32{10, 11, 12}
	wantBMDT := []uint64{500000, 501024, 502048}
	for i, off := range offsets {
		size := binary.BigEndian.Uint32(patched[off : off+4])
		moof := boxLoc{start: off, bodyStart: off + 8, end: off + int(size)}

		mfhd, err := findChildBox(patched, moof, "mfhd")
		require.NoError(t, err)
		seq := binary.BigEndian.Uint32(patched[mfhd.bodyStart+4 : mfhd.bodyStart+8])
		require.Equal(t, wantSeq[i], seq)

		traf, err := findChildBox(patched, moof, "traf")
		require.NoError(t, err)
		tfdt, err := findChildBox(patched, traf, "tfdt")
		require.NoError(t, err)
		bmdt := binary.BigEndian.Uint32(patched[tfdt.bodyStart+4 : tfdt.bodyStart+8])
		require.Equal(t, uint32(wantBMDT[i]), bmdt)
	}
}

func TestPatchBaseMediaDecodeTime_Version0OverflowRejected(t *testing.T) {
	tfdt := box("tfdt", tfdtBody(0, 0))
	traf := box("traf", tfdt)
	moof := box("moof", traf)

	_, err := PatchBaseMediaDecodeTime(moof, uint64(1)<<40)
	require.Error(t, err)
}
