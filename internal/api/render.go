package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/avian-media/hlsorigin/pkg/hlsengine"
	"github.com/avian-media/hlsorigin/pkg/hlsengine/mediaio"
	"github.com/avian-media/hlsorigin/pkg/hlsengine/muxer"
	"github.com/avian-media/hlsorigin/pkg/hlsengine/subtitle"
	"github.com/avian-media/hlsorigin/pkg/hlsengine/transcode"
)

func (m *ManagerCtx) openerFor(path string) (mediaio.Opener, error) {
	switch {
	case strings.HasSuffix(path, ".mkv"), strings.HasSuffix(path, ".webm"):
		return mediaio.MKVOpener{}, nil
	case strings.HasSuffix(path, ".mp4"), strings.HasSuffix(path, ".m4v"), strings.HasSuffix(path, ".mov"):
		return mediaio.MP4Opener{}, nil
	default:
		return nil, hlsengine.NewError(hlsengine.ErrKindUnsupportedContainer, "api.openerFor", fmt.Errorf("%s", path))
	}
}

// renderVideoInit builds the video track's init segment.
func (m *ManagerCtx) renderVideoInit(ctx context.Context, desc *hlsengine.StreamDescriptor) ([]byte, error) {
	video, ok := desc.VideoStream()
	if !ok {
		return nil, hlsengine.NewError(hlsengine.ErrKindUnsupportedContainer, "api.renderVideoInit", nil)
	}
	opener, err := m.openerFor(desc.SourcePath)
	if err != nil {
		return nil, err
	}
	container, err := opener.Open(desc.SourcePath)
	if err != nil {
		return nil, hlsengine.NewError(hlsengine.ErrKindMuxFailed, "api.renderVideoInit", err)
	}
	defer container.Close()

	var codecPrivate []byte
	for _, s := range container.Streams() {
		if s.Index == video.StreamIndex {
			codecPrivate = s.CodecPrivate
			break
		}
	}

	data, err := muxer.BuildInitSegment(muxer.TrackSpec{
		TrackID:      1,
		Timescale:    uint32(video.Timebase.Den),
		MediaType:    "video",
		CodecTag:     video.CodecID,
		CodecPrivate: codecPrivate,
		Width:        video.Width,
		Height:       video.Height,
	})
	if err != nil {
		return nil, hlsengine.NewError(hlsengine.ErrKindMuxFailed, "api.renderVideoInit", err)
	}
	return data, nil
}

// renderVideoSegment mux-copies one segment's video packets, keyframe to
// keyframe, with no transcoding.
func (m *ManagerCtx) renderVideoSegment(ctx context.Context, desc *hlsengine.StreamDescriptor, seq int) ([]byte, error) {
	video, ok := desc.VideoStream()
	if !ok {
		return nil, hlsengine.NewError(hlsengine.ErrKindUnsupportedContainer, "api.renderVideoSegment", nil)
	}
	segment, ok := desc.SegmentAt(seq)
	if !ok {
		return nil, hlsengine.NewError(hlsengine.ErrKindBadSegmentNumber, "api.renderVideoSegment", nil)
	}

	opener, err := m.openerFor(desc.SourcePath)
	if err != nil {
		return nil, err
	}
	container, err := opener.Open(desc.SourcePath)
	if err != nil {
		return nil, hlsengine.NewError(hlsengine.ErrKindMuxFailed, "api.renderVideoSegment", err)
	}
	defer container.Close()

	reader, err := container.SelectPackets(video.StreamIndex, segment.StartPTS, segment.EndPTS)
	if err != nil {
		return nil, hlsengine.NewError(hlsengine.ErrKindMuxFailed, "api.renderVideoSegment", err)
	}
	defer reader.Close()

	var packets []mediaio.Packet
	for {
		pkt, err := reader.Read()
		if err == mediaio.ErrEndOfStream {
			break
		}
		if err != nil {
			return nil, hlsengine.NewError(hlsengine.ErrKindMuxFailed, "api.renderVideoSegment", err)
		}
		packets = append(packets, pkt)
	}

	samples := muxer.PacketsToSamples(packets)
	data, err := muxer.BuildMediaSegment(muxer.TrackSpec{
		TrackID:   1,
		Timescale: uint32(video.Timebase.Den),
		MediaType: "video",
		CodecTag:  video.CodecID,
	}, samples, uint32(seq+1), uint64(segment.StartPTS))
	if err != nil {
		return nil, hlsengine.NewError(hlsengine.ErrKindMuxFailed, "api.renderVideoSegment", err)
	}
	return data, nil
}

// renderAudioInit builds one audio variant's init segment, either exposing
// the source codec as-is or an AAC init segment for a transcoded variant.
func (m *ManagerCtx) renderAudioInit(ctx context.Context, desc *hlsengine.StreamDescriptor, variant hlsengine.AudioVariant) ([]byte, error) {
	opener, err := m.openerFor(desc.SourcePath)
	if err != nil {
		return nil, err
	}
	container, err := opener.Open(desc.SourcePath)
	if err != nil {
		return nil, hlsengine.NewError(hlsengine.ErrKindMuxFailed, "api.renderAudioInit", err)
	}
	defer container.Close()

	var meta mediaio.StreamMeta
	for _, s := range container.Streams() {
		if s.Index == variant.SourceIndex {
			meta = s
			break
		}
	}

	spec := muxer.TrackSpec{
		TrackID:    2,
		Timescale:  uint32(m.cfg.AudioSampleRate),
		MediaType:  "audio",
		CodecTag:   variant.CodecID,
		SampleRate: m.cfg.AudioSampleRate,
		Channels:   meta.Channels,
	}
	if !variant.Transcoded {
		spec.Timescale = uint32(meta.SampleRate)
		spec.CodecPrivate = meta.CodecPrivate
	}

	data, err := muxer.BuildInitSegment(spec)
	if err != nil {
		return nil, hlsengine.NewError(hlsengine.ErrKindMuxFailed, "api.renderAudioInit", err)
	}
	return data, nil
}

// renderAudioSegment either mux-copies source packets (exposed-as-is
// variants) or decodes+resamples+re-encodes to AAC (transcoded variants).
func (m *ManagerCtx) renderAudioSegment(ctx context.Context, desc *hlsengine.StreamDescriptor, variant hlsengine.AudioVariant, seq int) ([]byte, error) {
	segment, ok := desc.SegmentAt(seq)
	if !ok {
		return nil, hlsengine.NewError(hlsengine.ErrKindBadSegmentNumber, "api.renderAudioSegment", nil)
	}

	opener, err := m.openerFor(desc.SourcePath)
	if err != nil {
		return nil, err
	}
	container, err := opener.Open(desc.SourcePath)
	if err != nil {
		return nil, hlsengine.NewError(hlsengine.ErrKindMuxFailed, "api.renderAudioSegment", err)
	}
	defer container.Close()

	var meta mediaio.StreamMeta
	for _, s := range container.Streams() {
		if s.Index == variant.SourceIndex {
			meta = s
			break
		}
	}

	videoTB := mediaio.Rational{Num: desc.VideoTimebase.Num, Den: desc.VideoTimebase.Den}
	startTicks := meta.Timebase.Rescale(segment.StartPTS, videoTB)
	endTicks := meta.Timebase.Rescale(segment.EndPTS, videoTB)

	reader, err := container.SelectPackets(variant.SourceIndex, startTicks, endTicks)
	if err != nil {
		return nil, hlsengine.NewError(hlsengine.ErrKindMuxFailed, "api.renderAudioSegment", err)
	}
	defer reader.Close()

	var packets []mediaio.Packet
	for {
		pkt, err := reader.Read()
		if err == mediaio.ErrEndOfStream {
			break
		}
		if err != nil {
			return nil, hlsengine.NewError(hlsengine.ErrKindMuxFailed, "api.renderAudioSegment", err)
		}
		packets = append(packets, pkt)
	}

	if !variant.Transcoded {
		samples := muxer.PacketsToSamples(packets)
		data, err := muxer.BuildFragmentedMediaSegment(muxer.TrackSpec{
			TrackID:   2,
			Timescale: uint32(meta.SampleRate),
			MediaType: "audio",
			CodecTag:  meta.CodecTag,
		}, samples, uint32(seq+1), uint64(startTicks))
		if err != nil {
			return nil, hlsengine.NewError(hlsengine.ErrKindMuxFailed, "api.renderAudioSegment", err)
		}
		return data, nil
	}

	frames, err := m.transcodeToAAC(meta, packets)
	if err != nil {
		return nil, hlsengine.NewError(hlsengine.ErrKindTranscodeFailed, "api.renderAudioSegment", err)
	}

	var samples []muxer.Sample
	frameTicks := uint32(1024)
	for _, f := range frames {
		samples = append(samples, muxer.Sample{Data: f, DurationTicks: frameTicks, IsSync: true})
	}

	data, err := muxer.BuildFragmentedMediaSegment(muxer.TrackSpec{
		TrackID:   2,
		Timescale: uint32(m.cfg.AudioSampleRate),
		MediaType: "audio",
		CodecTag:  "aac",
	}, samples, uint32(seq+1), uint64(m.cfg.AudioSampleRate)*uint64(segment.StartPTS)/uint64(desc.VideoTimebase.Den))
	if err != nil {
		return nil, hlsengine.NewError(hlsengine.ErrKindMuxFailed, "api.renderAudioSegment", err)
	}
	return data, nil
}

// transcodeToAAC decodes source packets (Opus is the only decode path
// wired today; other codecs return ErrKindTranscodeFailed) and re-encodes
// to AAC-LC at the configured bitrate.
func (m *ManagerCtx) transcodeToAAC(meta mediaio.StreamMeta, packets []mediaio.Packet) ([][]byte, error) {
	if meta.CodecTag != "opus" {
		return nil, fmt.Errorf("no decoder wired for source codec %q", meta.CodecTag)
	}

	dec, err := transcode.NewOpusDecoder(48000, meta.Channels)
	if err != nil {
		return nil, err
	}
	resampler := transcode.NewResampler(48000, m.cfg.AudioSampleRate, meta.Channels)
	enc, err := transcode.NewAACEncoder(m.cfg.AudioSampleRate, meta.Channels, m.cfg.AACBitrate)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	var frames [][]byte
	for _, pkt := range packets {
		planar, err := dec.Decode(pkt.Data)
		if err != nil {
			return nil, err
		}
		resampled := resampler.Feed(planar)
		encoded, err := enc.Encode(resampled)
		if err != nil {
			return nil, err
		}
		frames = append(frames, encoded...)
	}
	tail, err := enc.Flush()
	if err != nil {
		return nil, err
	}
	frames = append(frames, tail...)
	return frames, nil
}

// renderSubtitleSegment slices the descriptor's pre-extracted cues to the
// segment's PTS window and renders a WebVTT document.
func (m *ManagerCtx) renderSubtitleSegment(desc *hlsengine.StreamDescriptor, subIdx int, seq int) ([]byte, error) {
	segment, ok := desc.SegmentAt(seq)
	if !ok {
		return nil, hlsengine.NewError(hlsengine.ErrKindBadSegmentNumber, "api.renderSubtitleSegment", nil)
	}
	if subIdx < 0 || subIdx >= len(desc.SubtitleCues) {
		return nil, hlsengine.NewError(hlsengine.ErrKindBadTrack, "api.renderSubtitleSegment", nil)
	}

	var cues []subtitle.Cue
	for _, c := range desc.SubtitleCues[subIdx] {
		cues = append(cues, subtitle.Cue{
			StartSeconds: desc.VideoTimebase.Seconds(c.StartPTS),
			EndSeconds:   desc.VideoTimebase.Seconds(c.EndPTS),
			Text:         c.Text,
		})
	}

	windowStart := desc.VideoTimebase.Seconds(segment.StartPTS)
	windowEnd := desc.VideoTimebase.Seconds(segment.EndPTS)
	mpegtsBase := int64(windowStart * 90000)

	doc := subtitle.BuildSegment(cues, windowStart, windowEnd, mpegtsBase)
	return []byte(doc), nil
}
