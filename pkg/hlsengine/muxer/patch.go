package muxer

import (
	"encoding/binary"
	"fmt"
)

// PatchSequenceNumber returns a copy of segment with moof/mfhd's
// sequence_number field rewritten, without re-encoding the fragment; the
// input slice is left unchanged. The cache stores one canonical build
// per (descriptor, track, source-sequence); when the same bytes are served
// under a different HLS media-sequence numbering (e.g. after a registry
// re-index), only this field needs to change.
func PatchSequenceNumber(segment []byte, seq uint32) ([]byte, error) {
	out := append([]byte(nil), segment...)
	moof, err := findTopBox(out, "moof")
	if err != nil {
		return nil, err
	}
	if err := patchMfhd(out, moof, seq); err != nil {
		return nil, err
	}
	return out, nil
}

// patchMfhd rewrites moof's child mfhd's sequence_number field in place.
func patchMfhd(buf []byte, moof boxLoc, seq uint32) error {
	mfhd, err := findChildBox(buf, moof, "mfhd")
	if err != nil {
		return err
	}
	// mfhd body: version(1) + flags(3) + sequence_number(4), right after
	// the 8-byte box header.
	offset := mfhd.bodyStart + 4
	if offset+4 > len(buf) {
		return fmt.Errorf("muxer: mfhd too short to patch")
	}
	binary.BigEndian.PutUint32(buf[offset:offset+4], seq)
	return nil
}

// PatchBaseMediaDecodeTime rewrites moof/traf/tfdt's baseMediaDecodeTime,
// preserving whichever version (0: 32-bit, 1: 64-bit) the box was encoded
// with -- a version-1 tfdt written with a 32-bit value would silently
// truncate a VOD asset's later segments once decode time exceeds 2^32
// ticks.
func PatchBaseMediaDecodeTime(segment []byte, bmdt uint64) ([]byte, error) {
	out := append([]byte(nil), segment...)
	moof, err := findTopBox(out, "moof")
	if err != nil {
		return nil, err
	}
	if err := patchTfdt(out, moof, bmdt); err != nil {
		return nil, err
	}
	return out, nil
}

// patchTfdt rewrites moof/traf/tfdt's baseMediaDecodeTime in place,
// preserving whichever version (0: 32-bit, 1: 64-bit) the box was encoded
// with -- a version-1 tfdt written with a 32-bit value would silently
// truncate a VOD asset's later segments once decode time exceeds 2^32
// ticks.
func patchTfdt(buf []byte, moof boxLoc, bmdt uint64) error {
	traf, err := findChildBox(buf, moof, "traf")
	if err != nil {
		return err
	}
	tfdt, err := findChildBox(buf, traf, "tfdt")
	if err != nil {
		return err
	}

	// tfdt body: version(1) + flags(3) + baseMediaDecodeTime (4 or 8 bytes),
	// right after the 8-byte box header.
	if tfdt.bodyStart+4 > tfdt.end {
		return fmt.Errorf("muxer: tfdt too short to patch")
	}
	version := buf[tfdt.bodyStart] // first byte of the 4-byte version+flags word
	offset := tfdt.bodyStart + 4
	switch version {
	case 0:
		if bmdt > 0xFFFFFFFF {
			return fmt.Errorf("muxer: baseMediaDecodeTime %d overflows a version-0 tfdt", bmdt)
		}
		if offset+4 > tfdt.end {
			return fmt.Errorf("muxer: tfdt too short to patch")
		}
		binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(bmdt))
	case 1:
		if offset+8 > tfdt.end {
			return fmt.Errorf("muxer: tfdt too short to patch")
		}
		binary.BigEndian.PutUint64(buf[offset:offset+8], bmdt)
	default:
		return fmt.Errorf("muxer: unsupported tfdt version %d", version)
	}
	return nil
}

// PatchFragmentedTimestamps walks every top-level moof box in a
// concatenated multi-fragment audio segment and, in a returned copy, rewrites
// each one's mfhd sequence_number and tfdt baseMediaDecodeTime, advancing the
// decode time by each fragment's own duration as it goes. This is the
// "default-base-is-moof" per-frame fragment mode's failure mode made
// explicit: the underlying muxer builds each frame as an independent
// fragment against a zero baseline, so every tfdt in the finished segment
// must be patched with the running decode time computed from the
// cumulative frame durations that precede it.
func PatchFragmentedTimestamps(segment []byte, startSeq uint32, startBaseMediaDecodeTime uint64, frameDurationTicks []uint64) ([]byte, error) {
	out := append([]byte(nil), segment...)
	pos := 0
	seq := startSeq
	bmdt := startBaseMediaDecodeTime
	frame := 0
	for pos+8 <= len(out) {
		size := int(binary.BigEndian.Uint32(out[pos : pos+4]))
		typ := string(out[pos+4 : pos+8])
		if size < 8 || pos+size > len(out) {
			return nil, fmt.Errorf("muxer: malformed top-level box at offset %d", pos)
		}
		if typ == "moof" {
			moof := boxLoc{start: pos, bodyStart: pos + 8, end: pos + size}
			if err := patchMfhd(out, moof, seq); err != nil {
				return nil, err
			}
			if err := patchTfdt(out, moof, bmdt); err != nil {
				return nil, err
			}
			seq++
			if frame < len(frameDurationTicks) {
				bmdt += frameDurationTicks[frame]
			}
			frame++
		}
		pos += size
	}
	return out, nil
}

type boxLoc struct {
	start     int // offset of the 4-byte size field
	bodyStart int // offset just past the 8-byte size+type header
	end       int // offset one past the box's last byte
}

// findTopBox scans a flat sequence of size-prefixed boxes at the top level
// of buf for the first box whose type matches want.
func findTopBox(buf []byte, want string) (boxLoc, error) {
	pos := 0
	for pos+8 <= len(buf) {
		size := int(binary.BigEndian.Uint32(buf[pos : pos+4]))
		typ := string(buf[pos+4 : pos+8])
		if size < 8 || pos+size > len(buf) {
			return boxLoc{}, fmt.Errorf("muxer: malformed box at offset %d", pos)
		}
		if typ == want {
			return boxLoc{start: pos, bodyStart: pos + 8, end: pos + size}, nil
		}
		pos += size
	}
	return boxLoc{}, fmt.Errorf("muxer: box %q not found", want)
}

// findChildBox scans inside parent (a container box already located) for
// the first direct child box whose type matches want.
func findChildBox(buf []byte, parent boxLoc, want string) (boxLoc, error) {
	pos := parent.bodyStart
	for pos+8 <= parent.end {
		size := int(binary.BigEndian.Uint32(buf[pos : pos+4]))
		typ := string(buf[pos+4 : pos+8])
		if size < 8 || pos+size > parent.end {
			return boxLoc{}, fmt.Errorf("muxer: malformed child box at offset %d", pos)
		}
		if typ == want {
			return boxLoc{start: pos, bodyStart: pos + 8, end: pos + size}, nil
		}
		pos += size
	}
	return boxLoc{}, fmt.Errorf("muxer: child box %q not found in %s", want, "parent")
}
