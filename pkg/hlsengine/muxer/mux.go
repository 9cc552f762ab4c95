// Package muxer builds fragmented MP4 (CMAF) init and media segments from
// demuxed packets, using github.com/Eyevinn/mp4ff for box construction.
// Grounded on Dash-Industry-Forum-livesim2's asset.go/livesegment.go, which
// is the pack's only example of mp4ff driving CMAF fragment output rather
// than plain progressive MP4.
package muxer

import (
	"bytes"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/avian-media/hlsorigin/pkg/hlsengine/mediaio"
)

// TrackSpec is everything the muxer needs about one track to build its
// init segment, independent of the descriptor type in package hlsengine so
// this package has no dependency on it.
type TrackSpec struct {
	TrackID      uint32
	Timescale    uint32
	MediaType    string // "video" or "audio"
	CodecTag     string
	CodecPrivate []byte
	Width        int
	Height       int
	SampleRate   int
	Channels     int
}

// BuildInitSegment renders ftyp+moov (with mvex/trex, no samples) for one
// track. HLS's EXT-X-MAP init segment is exactly this: a moov with zero
// sample data, since all media lives in per-segment moof+mdat pairs.
func BuildInitSegment(spec TrackSpec) ([]byte, error) {
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(spec.Timescale, spec.MediaType, "und")

	trak := init.Moov.Trak
	if trak.Tkhd != nil {
		trak.Tkhd.TrackID = spec.TrackID
	}

	switch spec.MediaType {
	case "video":
		if err := setVideoSampleEntry(trak, spec); err != nil {
			return nil, err
		}
	case "audio":
		if err := setAudioSampleEntry(trak, spec); err != nil {
			return nil, err
		}
	}

	init.Moov.Mvex = &mp4.MvexBox{}
	init.Moov.Mvex.AddChild(&mp4.TrexBox{TrackID: spec.TrackID, DefaultSampleDescriptionIndex: 1})

	var buf bytes.Buffer
	if err := init.Encode(&buf); err != nil {
		return nil, fmt.Errorf("muxer: encode init segment: %w", err)
	}
	return buf.Bytes(), nil
}

func setVideoSampleEntry(trak *mp4.TrakBox, spec TrackSpec) error {
	switch spec.CodecTag {
	case "h264":
		return trak.SetAVCDescriptor("avc1", [][]byte{}, [][]byte{}, spec.CodecPrivate != nil)
	case "hevc":
		return trak.SetHEVCDescriptor("hvc1", [][]byte{}, [][]byte{}, [][]byte{}, spec.CodecPrivate != nil, false)
	default:
		return fmt.Errorf("muxer: unsupported video codec %q for fMP4 output", spec.CodecTag)
	}
}

func setAudioSampleEntry(trak *mp4.TrakBox, spec TrackSpec) error {
	switch spec.CodecTag {
	case "aac":
		return trak.SetAACDescriptor(mp4.AACLC, spec.SampleRate)
	default:
		return fmt.Errorf("muxer: unsupported audio codec %q for fMP4 output", spec.CodecTag)
	}
}

// Sample is one packet ready to be written into a moof+mdat, in the
// track's own timescale.
type Sample struct {
	Data            []byte
	DurationTicks   uint32
	IsSync          bool
	CompositionTime int32
}

// BuildMediaSegment renders a single moof+mdat fragment: no ftyp, no moov,
// exactly what HLS media segments after the initial EXT-X-MAP require.
// sequenceNumber goes into mfhd and baseMediaDecodeTime into tfdt, both
// later adjustable via PatchSequenceNumber/PatchBaseMediaDecodeTime (which
// return a patched copy) without a full re-mux.
func BuildMediaSegment(spec TrackSpec, samples []Sample, sequenceNumber uint32, baseMediaDecodeTime uint64) ([]byte, error) {
	frag, err := mp4.CreateFragment(sequenceNumber, spec.TrackID)
	if err != nil {
		return nil, fmt.Errorf("muxer: create fragment: %w", err)
	}

	for _, s := range samples {
		flags := uint32(mp4.NonSyncSampleFlags)
		if s.IsSync {
			flags = mp4.SyncSampleFlags
		}
		full := mp4.FullSample{
			Sample: mp4.Sample{
				Flags:                 flags,
				Dur:                   s.DurationTicks,
				Size:                  uint32(len(s.Data)),
				CompositionTimeOffset: s.CompositionTime,
			},
			DecodeTime: baseMediaDecodeTime,
			Data:       s.Data,
		}
		frag.AddFullSample(full)
	}

	var buf bytes.Buffer
	if err := frag.Encode(&buf); err != nil {
		return nil, fmt.Errorf("muxer: encode media segment: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildFragmentedMediaSegment renders one HLS media segment as a sequence
// of single-sample moof+mdat fragments, one per sample, rather than one
// fragment holding every sample -- the "default-base-is-moof" per-frame
// fragment mode audio segments require. Each fragment is built independently
// against a zero baseline and then corrected by PatchFragmentedTimestamps,
// since mp4ff has no API for building several fragments that share one
// track's running decode clock in a single pass.
func BuildFragmentedMediaSegment(spec TrackSpec, samples []Sample, startSeq uint32, startBaseMediaDecodeTime uint64) ([]byte, error) {
	var buf bytes.Buffer
	durations := make([]uint64, len(samples))
	for i, s := range samples {
		frag, err := BuildMediaSegment(spec, []Sample{s}, 1, 0)
		if err != nil {
			return nil, err
		}
		buf.Write(frag)
		durations[i] = uint64(s.DurationTicks)
	}
	return PatchFragmentedTimestamps(buf.Bytes(), startSeq, startBaseMediaDecodeTime, durations)
}

// PacketsToSamples converts demuxed packets in a track's own timebase into
// muxer Samples, deriving each sample's duration from the delta to the
// following packet's DTS (the last sample reuses the previous delta).
func PacketsToSamples(packets []mediaio.Packet) []Sample {
	out := make([]Sample, len(packets))
	for i, p := range packets {
		var dur uint32
		if i+1 < len(packets) {
			dur = uint32(packets[i+1].DTS - p.DTS)
		} else if i > 0 {
			dur = uint32(p.DTS - packets[i-1].DTS)
		}
		out[i] = Sample{
			Data:            p.Data,
			DurationTicks:   dur,
			IsSync:          p.IsKeyframe,
			CompositionTime: int32(p.PTS - p.DTS),
		}
	}
	return out
}
