// Package playlist synthesizes HLS master and media playlists and the
// RFC 6381 codec strings that go into EXT-X-STREAM-INF's CODECS attribute.
// The codec string tables are grounded on original_source's
// playlist/codec.rs, translated line for line into Go's switch idiom.
package playlist

import "fmt"

// VideoCodecString builds the RFC 6381 codec string for a video stream.
func VideoCodecString(codecID string, profile, level int) string {
	switch codecID {
	case "h264":
		return fmt.Sprintf("avc1.%02x%02x%02x", profile, h264ConstraintByte(profile), level)
	case "hevc":
		return "hvc1.1.6.L93.90" // Main profile, Main tier, level 93 (3.1); HEVC's parameter set is rarely worth per-stream precision for a VOD origin
	case "vp9":
		return "vp09.00.10.08"
	case "av1":
		return "av01.0.04M.08"
	default:
		return codecID
	}
}

// h264ConstraintByte mirrors the original's profile/constraint-flag table:
// High and Main profiles carry no constraint flags; Baseline/Constrained
// Baseline set constraint_set1_flag.
func h264ConstraintByte(profile int) int {
	switch profile {
	case 66: // Baseline
		return 0x40
	case 77: // Main
		return 0x00
	case 100: // High
		return 0x00
	default:
		return 0x00
	}
}

// AudioCodecString builds the RFC 6381 codec string for an audio stream.
func AudioCodecString(codecID string) string {
	switch codecID {
	case "aac":
		return "mp4a.40.2" // AAC-LC; this origin never emits HE-AAC
	case "ac3":
		return "ac-3"
	case "eac3":
		return "ec-3"
	case "opus":
		return "opus"
	default:
		return codecID
	}
}

// EstimateBandwidth applies the original's 60% container/segmentation
// overhead multiplier over the raw video+audio bitrate sum, used for
// BANDWIDTH when the source doesn't carry a reliable bitrate.
func EstimateBandwidth(videoBitrate, audioBitrate int64) int64 {
	raw := videoBitrate + audioBitrate
	return raw + raw*6/10
}
