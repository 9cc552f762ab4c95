package mediaio

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Eyevinn/mp4ff/bits"
	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// MP4Opener demuxes MP4/M4V/MOV containers via mp4ff's box-level reader.
// MP4 always carries its own sample index (moov/stbl), so containers opened
// through it never need the bounded scan budget MKV requires.
type MP4Opener struct{}

func (MP4Opener) Open(path string) (Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mediaio: open %s: %w", path, err)
	}

	// Lazy mdat decoding: mp4ff parses the box tree (moov/stbl) but leaves
	// mdat's payload on disk, referenced by file offset -- exactly the
	// "never write to disk, never load a whole file" contract this
	// package needs for multi-gigabyte sources.
	parsed, err := mp4.DecodeFile(f, mp4.WithDecodeMode(mp4.DecModeLazyMdat))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mediaio: decode moov of %s: %w", path, err)
	}
	if parsed.Moov == nil {
		f.Close()
		return nil, fmt.Errorf("mediaio: %s: %w", path, ErrNoMoov)
	}

	c := &mp4Container{file: f, moov: parsed.Moov}
	if err := c.buildStreams(); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

var ErrNoMoov = fmt.Errorf("no moov box")

type mp4Container struct {
	file *os.File
	moov *mp4.MoovBox

	streams []StreamMeta
	tables  map[int]*sampleTable // by StreamMeta.Index
}

// sampleTable is the flattened, seekable form of one trak's stbl: for every
// sample, its byte offset/size/pts/keyframe flag. Built once at open time
// so seeking and packet-copy never re-walk the box tree.
type sampleTable struct {
	trackID  uint32
	timebase Rational
	samples  []sampleEntry
}

type sampleEntry struct {
	offset     int64
	size       uint32
	pts        int64
	dts        int64
	isKeyframe bool
}

func (c *mp4Container) buildStreams() error {
	c.tables = map[int]*sampleTable{}

	for i, trak := range c.moov.Traks {
		mdia := trak.Mdia
		if mdia == nil || mdia.Minf == nil || mdia.Minf.Stbl == nil {
			continue
		}

		handler := ""
		if mdia.Hdlr != nil {
			handler = mdia.Hdlr.HandlerType
		}

		tb := Rational{Num: 1, Den: int64(mdia.Mdhd.Timescale)}
		table := buildSampleTable(trak, tb)
		c.tables[i] = table

		meta := StreamMeta{
			Index:    i,
			Timebase: tb,
			Bitrate:  0,
		}

		switch handler {
		case "vide":
			meta.Type = StreamVideo
			fillVideoSampleEntry(&meta, trak)
		case "soun":
			meta.Type = StreamAudio
			fillAudioSampleEntry(&meta, trak)
		case "sbtl", "subt", "text":
			meta.Type = StreamSubtitle
			fillSubtitleSampleEntry(&meta, trak)
		default:
			meta.Type = StreamOther
		}

		if trak.Mdia.Elng != nil {
			meta.Language = trak.Mdia.Elng.Language
		} else if trak.Mdia.Mdhd != nil {
			meta.Language = normalizeISO639(trak.Mdia.Mdhd.GetLanguage())
		}
		if trak.Tkhd != nil {
			meta.Default = trak.Tkhd.Flags&0x1 != 0 // track_enabled
		}

		c.streams = append(c.streams, meta)
	}

	return nil
}

// buildSampleTable flattens stts (time-to-sample), stsz (sizes), stsc
// (chunk layout), stco/co64 (chunk offsets) and stss (sync samples) into a
// per-sample slice, exactly the tables spec.md's "walk packet headers"
// contract needs to be pre-computed rather than re-derived per request.
func buildSampleTable(trak *mp4.TrakBox, tb Rational) *sampleTable {
	stbl := trak.Mdia.Minf.Stbl
	t := &sampleTable{timebase: tb}
	if trak.Tkhd != nil {
		t.trackID = trak.Tkhd.TrackID
	}

	offsets := chunkOffsets(stbl)
	sizes := sampleSizes(stbl)
	chunkOfSample, sampleIndexInChunk := sampleToChunkMap(stbl, len(sizes))
	syncSet := syncSampleSet(stbl)

	var dts int64
	sttsIdx, sttsRun := 0, uint32(0)
	for i := range sizes {
		chunk := chunkOfSample[i]
		var base int64
		if chunk < len(offsets) {
			base = offsets[chunk]
		}
		offsetInChunk := int64(0)
		for j := 0; j < sampleIndexInChunk[i]; j++ {
			// only reached for samples after the first in a chunk; sizes
			// are looked up relative to the same sizes slice.
			offsetInChunk += int64(sizes[i-sampleIndexInChunk[i]+j])
		}

		entry := sampleEntry{
			offset:     base + offsetInChunk,
			size:       sizes[i],
			dts:        dts,
			pts:        dts, // composition offsets (ctts) are ignored: video is copied by PTS window, and a missing ctts only affects B-frame reorder display timing, not our segment-boundary math
			isKeyframe: syncSet == nil || syncSet[uint32(i+1)],
		}
		t.samples = append(t.samples, entry)

		if stbl.Stts != nil && sttsIdx < len(stbl.Stts.SampleCount) {
			dts += int64(stbl.Stts.SampleTimeDelta[sttsIdx])
			sttsRun++
			if sttsRun >= stbl.Stts.SampleCount[sttsIdx] {
				sttsIdx++
				sttsRun = 0
			}
		}
	}

	return t
}

func chunkOffsets(stbl *mp4.StblBox) []int64 {
	if stbl.Stco != nil {
		out := make([]int64, len(stbl.Stco.ChunkOffset))
		for i, o := range stbl.Stco.ChunkOffset {
			out[i] = int64(o)
		}
		return out
	}
	if stbl.Co64 != nil {
		out := make([]int64, len(stbl.Co64.ChunkOffset))
		for i, o := range stbl.Co64.ChunkOffset {
			out[i] = int64(o)
		}
		return out
	}
	return nil
}

func sampleSizes(stbl *mp4.StblBox) []uint32 {
	if stbl.Stsz == nil {
		return nil
	}
	if stbl.Stsz.SampleUniformSize > 0 {
		out := make([]uint32, stbl.Stsz.SampleNumber)
		for i := range out {
			out[i] = stbl.Stsz.SampleUniformSize
		}
		return out
	}
	return stbl.Stsz.SampleSize
}

// sampleToChunkMap expands stsc's run-length chunk groups into a per-sample
// chunk index and the sample's position within that chunk.
func sampleToChunkMap(stbl *mp4.StblBox, nrSamples int) (chunkOfSample []int, indexInChunk []int) {
	chunkOfSample = make([]int, nrSamples)
	indexInChunk = make([]int, nrSamples)
	if stbl.Stsc == nil {
		return
	}

	nrGroups := len(stbl.Stsc.FirstChunk)
	sampleIdx := 0
	for gi := 0; gi < nrGroups; gi++ {
		firstChunk := int(stbl.Stsc.FirstChunk[gi]) - 1
		samplesPerChunk := int(stbl.Stsc.SamplesPerChunk[gi])
		var lastChunk int
		if gi+1 < nrGroups {
			lastChunk = int(stbl.Stsc.FirstChunk[gi+1]) - 1
		} else {
			lastChunk = firstChunk + 1<<30 // run to the end; bounded below by nrSamples
		}
		for chunk := firstChunk; chunk < lastChunk && sampleIdx < nrSamples; chunk++ {
			for s := 0; s < samplesPerChunk && sampleIdx < nrSamples; s++ {
				chunkOfSample[sampleIdx] = chunk
				indexInChunk[sampleIdx] = s
				sampleIdx++
			}
		}
	}
	return
}

func syncSampleSet(stbl *mp4.StblBox) map[uint32]bool {
	if stbl.Stss == nil {
		return nil // no stss means every sample is a sync sample (audio-only traks)
	}
	set := make(map[uint32]bool, len(stbl.Stss.SampleNumber))
	for _, n := range stbl.Stss.SampleNumber {
		set[n] = true
	}
	return set
}

func fillVideoSampleEntry(meta *StreamMeta, trak *mp4.TrakBox) {
	stsd := trak.Mdia.Minf.Stbl.Stsd
	if stsd == nil {
		return
	}
	switch {
	case stsd.AvcX != nil:
		meta.CodecTag = "h264"
		if avcC := stsd.AvcX.AvcC; avcC != nil {
			meta.Profile = int(avcC.AVCProfileIndication)
			meta.Level = int(avcC.AVCLevelIndication)
			meta.CodecPrivate = encodeBox(avcC)
		}
		meta.Width, meta.Height = int(stsd.AvcX.Width), int(stsd.AvcX.Height)
	case stsd.HvcX != nil:
		meta.CodecTag = "hevc"
		if hvcC := stsd.HvcX.HvcC; hvcC != nil {
			meta.CodecPrivate = encodeBox(hvcC)
		}
		meta.Width, meta.Height = int(stsd.HvcX.Width), int(stsd.HvcX.Height)
	case stsd.Vp09 != nil:
		meta.CodecTag = "vp9"
		meta.Width, meta.Height = int(stsd.Vp09.Width), int(stsd.Vp09.Height)
	case stsd.Av01 != nil:
		meta.CodecTag = "av1"
		meta.Width, meta.Height = int(stsd.Av01.Width), int(stsd.Av01.Height)
	}
}

func fillAudioSampleEntry(meta *StreamMeta, trak *mp4.TrakBox) {
	stsd := trak.Mdia.Minf.Stbl.Stsd
	if stsd == nil {
		return
	}
	if mp4a := stsd.Mp4a; mp4a != nil {
		meta.CodecTag = "aac"
		meta.SampleRate = int(mp4a.SampleRate)
		meta.Channels = int(mp4a.ChannelCount)
		if esds := mp4a.Esds; esds != nil {
			meta.CodecPrivate = esds.DecConfigDescriptor.DecSpecificInfo.DecConfig

			// stsd's SampleRate/ChannelCount are sometimes stale legacy
			// values; the AudioSpecificConfig embedded in esds is
			// authoritative, so prefer it when it parses cleanly.
			var asc mpeg4audio.AudioSpecificConfig
			if err := asc.Unmarshal(meta.CodecPrivate); err == nil {
				meta.SampleRate = asc.SampleRate
				meta.Channels = asc.ChannelCount
			}
		}
	}
	if ac3 := stsd.AC3; ac3 != nil {
		meta.CodecTag = "ac3"
		meta.SampleRate = int(ac3.SampleRate)
		meta.Channels = int(ac3.ChannelCount)
	}
	if ec3 := stsd.EC3; ec3 != nil {
		meta.CodecTag = "eac3"
		meta.SampleRate = int(ec3.SampleRate)
		meta.Channels = int(ec3.ChannelCount)
	}
	if opus := stsd.OpusBox; opus != nil {
		meta.CodecTag = "opus"
		meta.SampleRate = int(opus.SampleRate)
		meta.Channels = int(opus.ChannelCount)
	}
}

func fillSubtitleSampleEntry(meta *StreamMeta, trak *mp4.TrakBox) {
	stsd := trak.Mdia.Minf.Stbl.Stsd
	if stsd == nil {
		return
	}
	if stsd.Wvtt != nil {
		meta.CodecTag = "webvtt"
		return
	}
	if stsd.Stpp != nil {
		meta.CodecTag = "mov_text" // TTML-in-MP4 is treated like MOVTEXT: plain-text cues, no styling
		return
	}
	meta.CodecTag = "mov_text"
}

// encodeBox re-serializes an already-parsed mp4ff box (avcC/hvcC) back to
// its raw bytes, so the muxer can drop it into a freshly built init segment
// without re-deriving it from bitstream NAL units.
func encodeBox(box mp4.Box) []byte {
	sw := bits.NewFixedSliceWriter(int(box.Size()))
	if err := box.EncodeSW(sw); err != nil {
		return nil
	}
	return sw.Bytes()
}

func normalizeISO639(code uint16) string {
	if code == 0 || code == 0x55C4 { // "und"
		return ""
	}
	b := make([]byte, 3)
	b[0] = byte((code>>10)&0x1F) + 0x60
	b[1] = byte((code>>5)&0x1F) + 0x60
	b[2] = byte(code&0x1F) + 0x60
	return string(b)
}

func (c *mp4Container) Streams() []StreamMeta { return c.streams }

func (c *mp4Container) DurationSeconds() float64 {
	if c.moov.Mvhd == nil || c.moov.Mvhd.Timescale == 0 {
		return 0
	}
	return float64(c.moov.Mvhd.Duration) / float64(c.moov.Mvhd.Timescale)
}

func (c *mp4Container) HasIndex() bool { return true }

func (c *mp4Container) Keyframes(streamIndex int) (KeyframeReader, error) {
	table, ok := c.tables[streamIndex]
	if !ok {
		return nil, fmt.Errorf("mediaio: no stream %d", streamIndex)
	}
	return &mp4KeyframeReader{table: table}, nil
}

type mp4KeyframeReader struct {
	table *sampleTable
	pos   int
}

func (r *mp4KeyframeReader) Next(ctx context.Context) (int64, error) {
	for r.pos < len(r.table.samples) {
		s := r.table.samples[r.pos]
		r.pos++
		if s.isKeyframe {
			return s.pts, nil
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
	return 0, io.EOF
}

func (r *mp4KeyframeReader) Close() error { return nil }

func (c *mp4Container) SubtitlePackets(streamIndex int) (PacketReader, error) {
	table, ok := c.tables[streamIndex]
	if !ok {
		return nil, fmt.Errorf("mediaio: no stream %d", streamIndex)
	}
	return &mp4PacketReader{container: c, table: table, streamIndex: streamIndex, endPTS: 1 << 62}, nil
}

func (c *mp4Container) SelectPackets(streamIndex int, startPTS, endPTS int64) (PacketReader, error) {
	table, ok := c.tables[streamIndex]
	if !ok {
		return nil, fmt.Errorf("mediaio: no stream %d", streamIndex)
	}

	// Seek to the last keyframe at or before startPTS (packet-copy requires
	// starting a GOP from its sync sample).
	pos := 0
	for i, s := range table.samples {
		if s.pts > startPTS {
			break
		}
		if s.isKeyframe {
			pos = i
		}
	}

	return &mp4PacketReader{
		container:   c,
		table:       table,
		streamIndex: streamIndex,
		pos:         pos,
		endPTS:      endPTS,
	}, nil
}

type mp4PacketReader struct {
	container   *mp4Container
	table       *sampleTable
	streamIndex int
	pos         int
	endPTS      int64
}

func (r *mp4PacketReader) Read() (Packet, error) {
	if r.pos >= len(r.table.samples) {
		return Packet{}, ErrEndOfStream
	}
	s := r.table.samples[r.pos]
	if s.pts >= r.endPTS {
		return Packet{}, ErrEndOfStream
	}
	r.pos++

	data := make([]byte, s.size)
	if _, err := r.container.file.ReadAt(data, s.offset); err != nil && err != io.EOF {
		return Packet{}, fmt.Errorf("mediaio: read sample at %d: %w", s.offset, err)
	}

	return Packet{
		StreamIndex: r.streamIndex,
		PTS:         s.pts,
		DTS:         s.dts,
		Data:        data,
		IsKeyframe:  s.isKeyframe,
	}, nil
}

func (r *mp4PacketReader) Close() error { return nil }

func (c *mp4Container) Close() error { return c.file.Close() }
