package mediaio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"time"
)

// MKVOpener demuxes Matroska/WebM containers via a hand-rolled bounded EBML
// walker. Unlike MP4, Matroska carries no mandatory sample index: Cues are
// optional and frequently absent from files produced by non-muxing-aware
// tools, so this reader walks Cluster/SimpleBlock/BlockGroup elements
// directly. No third-party EBML/Matroska library appears anywhere in the
// example pack (see DESIGN.md), so this walker is the one deliberately
// stdlib-only component of the media-IO layer.
type MKVOpener struct{}

func (MKVOpener) Open(path string) (Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mediaio: open %s: %w", path, err)
	}
	c := &mkvContainer{file: f}
	if err := c.readHeaders(); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

const (
	idEBML          = 0x1A45DFA3
	idSegment       = 0x18538067
	idInfo          = 0x1549A966
	idTimestampScale = 0x2AD7B1
	idDuration      = 0x4489
	idTracks        = 0x1654AE6B
	idTrackEntry    = 0xAE
	idTrackNumber   = 0xD7
	idTrackType     = 0x83
	idCodecID       = 0x86
	idCodecPrivate  = 0x63A2
	idLanguage      = 0x22B59C
	idLanguageIETF  = 0x22B59D
	idFlagDefault   = 0x88
	idVideo         = 0xE0
	idPixelWidth    = 0xB0
	idPixelHeight   = 0xBA
	idAudio         = 0xE1
	idSamplingFreq  = 0xB5
	idChannels      = 0x9F
	idCluster       = 0x1F43B675
	idTimestamp     = 0xE7
	idSimpleBlock   = 0xA3
	idBlockGroup    = 0xA0
	idBlock         = 0xA1
	idBlockDuration = 0x9B
)

// mkvTrack is the demuxer's view of one <TrackEntry>.
type mkvTrack struct {
	number       uint64
	trackType    uint64 // 1=video 2=audio 17=subtitle
	codecID      string
	codecPrivate []byte
	language     string
	isDefault    bool
	width, height int
	sampleRate   float64
	channels     int
}

type mkvContainer struct {
	file            *os.File
	timestampScale  uint64 // ns per timestamp tick, default 1_000_000
	durationTicks   float64
	segmentDataOff  int64
	segmentDataSize int64
	tracks          []mkvTrack
	streams         []StreamMeta
}

// readHeaders walks EBML header + Segment/Info/Tracks only -- it never
// touches Cluster data. This is the "cheap, always-fast" half of opening a
// file; the expensive keyframe/packet scan happens lazily and is the part
// bounded by the indexer's Config.IndexTimeout deadline.
func (c *mkvContainer) readHeaders() error {
	r := &ebmlReader{f: c.file}

	id, size, err := r.readElementHeader(0, 1<<62)
	if err != nil || id != idEBML {
		return fmt.Errorf("mediaio: %s: %w", "not an EBML file", ErrUnsupportedContainer)
	}
	if err := r.skip(size); err != nil {
		return err
	}

	id, size, err = r.readElementHeader(r.pos, 1<<62)
	if err != nil || id != idSegment {
		return fmt.Errorf("mediaio: missing Segment element: %w", ErrUnsupportedContainer)
	}
	c.segmentDataOff = r.pos
	c.segmentDataSize = size
	segmentEnd := r.pos + size

	c.timestampScale = 1_000_000

	for r.pos < segmentEnd {
		childID, childSize, err := r.readElementHeader(r.pos, segmentEnd)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		childEnd := r.pos + childSize

		switch childID {
		case idInfo:
			if err := c.readInfo(r, childEnd); err != nil {
				return err
			}
		case idTracks:
			if err := c.readTracks(r, childEnd); err != nil {
				return err
			}
		}
		r.pos = childEnd
	}

	c.buildStreamMeta()
	return nil
}

var ErrUnsupportedContainer = fmt.Errorf("unsupported container")

func (c *mkvContainer) readInfo(r *ebmlReader, end int64) error {
	for r.pos < end {
		id, size, err := r.readElementHeader(r.pos, end)
		if err != nil {
			return err
		}
		switch id {
		case idTimestampScale:
			v, err := r.readUint(size)
			if err != nil {
				return err
			}
			c.timestampScale = v
		case idDuration:
			v, err := r.readFloat(size)
			if err != nil {
				return err
			}
			c.durationTicks = v
		}
		r.pos += size
	}
	return nil
}

func (c *mkvContainer) readTracks(r *ebmlReader, end int64) error {
	for r.pos < end {
		id, size, err := r.readElementHeader(r.pos, end)
		if err != nil {
			return err
		}
		if id == idTrackEntry {
			t, err := c.readTrackEntry(r, r.pos+size)
			if err != nil {
				return err
			}
			c.tracks = append(c.tracks, t)
		}
		r.pos += size
	}
	return nil
}

func (c *mkvContainer) readTrackEntry(r *ebmlReader, end int64) (mkvTrack, error) {
	var t mkvTrack
	for r.pos < end {
		id, size, err := r.readElementHeader(r.pos, end)
		if err != nil {
			return t, err
		}
		elemEnd := r.pos + size

		switch id {
		case idTrackNumber:
			t.number, _ = r.readUint(size)
		case idTrackType:
			t.trackType, _ = r.readUint(size)
		case idCodecID:
			s, _ := r.readString(size)
			t.codecID = s
		case idCodecPrivate:
			b, err := r.readBytes(size)
			if err != nil {
				return t, err
			}
			t.codecPrivate = b
		case idLanguageIETF:
			s, _ := r.readString(size)
			t.language = s
		case idLanguage:
			if t.language == "" {
				s, _ := r.readString(size)
				t.language = s
			}
		case idFlagDefault:
			v, _ := r.readUint(size)
			t.isDefault = v != 0
		case idVideo:
			for r.pos < elemEnd {
				vid, vsize, err := r.readElementHeader(r.pos, elemEnd)
				if err != nil {
					return t, err
				}
				switch vid {
				case idPixelWidth:
					v, _ := r.readUint(vsize)
					t.width = int(v)
				case idPixelHeight:
					v, _ := r.readUint(vsize)
					t.height = int(v)
				}
				r.pos += vsize
			}
			continue
		case idAudio:
			for r.pos < elemEnd {
				aid, asize, err := r.readElementHeader(r.pos, elemEnd)
				if err != nil {
					return t, err
				}
				switch aid {
				case idSamplingFreq:
					v, _ := r.readFloat(asize)
					t.sampleRate = v
				case idChannels:
					v, _ := r.readUint(asize)
					t.channels = int(v)
				}
				r.pos += asize
			}
			continue
		}
		r.pos = elemEnd
	}
	return t, nil
}

func (c *mkvContainer) buildStreamMeta() {
	for i, t := range c.tracks {
		meta := StreamMeta{
			Index:        i,
			Language:     normalizeMatroskaLang(t.language),
			Default:      t.isDefault,
			CodecPrivate: t.codecPrivate,
			Width:        t.width,
			Height:       t.height,
			SampleRate:   int(t.sampleRate),
			Channels:     t.channels,
			Timebase:     Rational{Num: int64(c.timestampScale), Den: 1_000_000_000},
		}
		switch t.trackType {
		case 1:
			meta.Type = StreamVideo
		case 2:
			meta.Type = StreamAudio
		case 17:
			meta.Type = StreamSubtitle
		default:
			meta.Type = StreamOther
		}
		meta.CodecTag = matroskaCodecTag(t.codecID)
		c.streams = append(c.streams, meta)
	}
}

func normalizeMatroskaLang(s string) string {
	if s == "" || s == "und" {
		return ""
	}
	return s
}

func matroskaCodecTag(codecID string) string {
	switch codecID {
	case "V_MPEG4/ISO/AVC":
		return "h264"
	case "V_MPEGH/ISO/HEVC":
		return "hevc"
	case "V_VP9":
		return "vp9"
	case "V_AV1":
		return "av1"
	case "A_AAC":
		return "aac"
	case "A_AC3":
		return "ac3"
	case "A_EAC3":
		return "eac3"
	case "A_OPUS":
		return "opus"
	case "A_VORBIS":
		return "vorbis"
	case "A_FLAC":
		return "flac"
	case "S_TEXT/UTF8":
		return "srt"
	case "S_TEXT/ASS", "S_TEXT/SSA":
		return "ass"
	case "S_VOBSUB", "S_HDMV/PGS":
		return "pgs"
	default:
		return codecID
	}
}

func (c *mkvContainer) Streams() []StreamMeta { return c.streams }

func (c *mkvContainer) DurationSeconds() float64 {
	if c.durationTicks == 0 {
		return 0
	}
	return c.durationTicks * float64(c.timestampScale) / 1e9
}

// HasIndex is always false: Matroska has no per-sample offset table
// comparable to MP4's stbl. The indexer applies its bounded scan budget
// whenever this returns false.
func (c *mkvContainer) HasIndex() bool { return false }

// Keyframes walks Cluster/SimpleBlock (and BlockGroup/Block) elements
// looking only at the keyframe flag byte of each block header -- it never
// copies frame payloads. Next respects ctx so the indexer's bounded-time
// budget can cut a scan short on a pathological file.
func (c *mkvContainer) Keyframes(streamIndex int) (KeyframeReader, error) {
	if streamIndex < 0 || streamIndex >= len(c.tracks) {
		return nil, fmt.Errorf("mediaio: no stream %d", streamIndex)
	}
	return &mkvBlockScanner{
		container:   c,
		trackNumber: c.tracks[streamIndex].number,
		pos:         c.segmentDataOff,
		end:         c.segmentDataOff + c.segmentDataSize,
		keyframesOnly: true,
	}, nil
}

func (c *mkvContainer) SubtitlePackets(streamIndex int) (PacketReader, error) {
	if streamIndex < 0 || streamIndex >= len(c.tracks) {
		return nil, fmt.Errorf("mediaio: no stream %d", streamIndex)
	}
	return &mkvBlockScanner{
		container:   c,
		trackNumber: c.tracks[streamIndex].number,
		pos:         c.segmentDataOff,
		end:         c.segmentDataOff + c.segmentDataSize,
		emitPackets: true,
	}, nil
}

func (c *mkvContainer) SelectPackets(streamIndex int, startPTS, endPTS int64) (PacketReader, error) {
	if streamIndex < 0 || streamIndex >= len(c.tracks) {
		return nil, fmt.Errorf("mediaio: no stream %d", streamIndex)
	}
	return &mkvBlockScanner{
		container:   c,
		trackNumber: c.tracks[streamIndex].number,
		pos:         c.segmentDataOff,
		end:         c.segmentDataOff + c.segmentDataSize,
		emitPackets: true,
		startPTS:    startPTS,
		endPTS:      endPTS,
		hasWindow:   true,
	}, nil
}

// mkvBlockScanner is both the KeyframeReader and PacketReader implementation:
// a single forward walk over Cluster elements that either reports keyframe
// timestamps or yields matching-track packets, depending on which fields are
// set. Matroska's Block layout makes it cheap to serve both from one walker.
type mkvBlockScanner struct {
	container     *mkvContainer
	trackNumber   uint64
	pos, end      int64
	clusterTS     int64
	keyframesOnly bool
	emitPackets   bool
	startPTS      int64
	endPTS        int64
	hasWindow     bool
	seekedToKey   bool
}

func (s *mkvBlockScanner) Next(ctx context.Context) (int64, error) {
	for {
		pts, isKey, _, err := s.advance(ctx)
		if err != nil {
			return 0, err
		}
		if isKey {
			return pts, nil
		}
	}
}

func (s *mkvBlockScanner) Read() (Packet, error) {
	for {
		pts, isKey, data, err := s.advance(nil)
		if err != nil {
			if err == io.EOF {
				return Packet{}, ErrEndOfStream
			}
			return Packet{}, err
		}
		if data == nil {
			continue
		}
		if s.hasWindow {
			if !s.seekedToKey {
				if !isKey || pts < s.startPTS {
					continue
				}
				s.seekedToKey = true
			}
			if pts >= s.endPTS {
				return Packet{}, ErrEndOfStream
			}
		}
		return Packet{PTS: pts, DTS: pts, Data: data, IsKeyframe: isKey}, nil
	}
}

// advance reads the next EBML element in the segment, tracking Cluster
// Timestamp state, and returns block data belonging to trackNumber when it
// finds one. ctx may be nil when called from Read (no time budget there --
// the budget only bounds indexing, not the per-request packet copy).
func (s *mkvBlockScanner) advance(ctx context.Context) (pts int64, isKey bool, data []byte, err error) {
	r := &ebmlReader{f: s.container.file, pos: s.pos}

	for s.pos < s.end {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return 0, false, nil, err
			}
		}

		id, size, herr := r.readElementHeader(s.pos, s.end)
		if herr == io.EOF {
			s.pos = r.pos
			return 0, false, nil, io.EOF
		}
		if herr != nil {
			return 0, false, nil, herr
		}
		elemEnd := r.pos + size

		switch id {
		case idCluster:
			s.pos = r.pos // descend into the cluster
			continue
		case idTimestamp:
			v, _ := r.readUint(size)
			s.clusterTS = int64(v)
			s.pos = elemEnd
			continue
		case idSimpleBlock, idBlock:
			trackNum, rel, key, payload, berr := decodeBlock(r, size)
			s.pos = elemEnd
			if berr != nil {
				return 0, false, nil, berr
			}
			if trackNum != s.trackNumber {
				continue
			}
			absTS := s.clusterTS + int64(rel)
			return absTS, key, payload, nil
		case idBlockGroup:
			s.pos = r.pos
			continue
		default:
			s.pos = elemEnd
			continue
		}
	}
	return 0, false, nil, io.EOF
}

func (s *mkvBlockScanner) Close() error { return nil }

// decodeBlock reads a (Simple)Block's track-number vint, 16-bit relative
// timestamp, and flags byte, then returns the remaining bytes as payload.
// Lacing is not supported: a laced block returns an error, matching the
// scanner's "give up rather than guess" stance on formats the corpus never
// exercises.
func decodeBlock(r *ebmlReader, size int64) (trackNumber uint64, relTS int16, keyframe bool, payload []byte, err error) {
	start := r.pos
	trackNumber, n, err := r.readVintAt(r.pos)
	if err != nil {
		return
	}
	r.pos += n

	var tsBuf [2]byte
	if _, err = r.f.ReadAt(tsBuf[:], r.pos); err != nil {
		return
	}
	relTS = int16(binary.BigEndian.Uint16(tsBuf[:]))
	r.pos += 2

	var flags [1]byte
	if _, err = r.f.ReadAt(flags[:], r.pos); err != nil {
		return
	}
	r.pos++
	if flags[0]&0x06 != 0 {
		err = fmt.Errorf("mediaio: laced blocks unsupported")
		return
	}
	keyframe = flags[0]&0x80 != 0

	payloadSize := size - (r.pos - start)
	payload = make([]byte, payloadSize)
	_, err = r.f.ReadAt(payload, r.pos)
	return
}

func (c *mkvContainer) Close() error { return c.file.Close() }

// ebmlReader is a minimal seek-by-offset EBML primitive reader: it never
// holds the file position implicitly, every call states the absolute offset
// it reads from, so the block scanner and header walker can interleave
// freely without a shared cursor.
type ebmlReader struct {
	f   *os.File
	pos int64
}

// readElementHeader reads an EBML ID + size vint at r.pos (advancing it past
// the header), bounded so a corrupt size vint can never claim bytes past
// limit.
func (r *ebmlReader) readElementHeader(at, limit int64) (id uint32, size int64, err error) {
	r.pos = at
	idVal, idLen, err := r.readIDAt(r.pos)
	if err != nil {
		return 0, 0, err
	}
	r.pos += idLen

	sizeVal, sizeLen, err := r.readVintAt(r.pos)
	if err != nil {
		return 0, 0, err
	}
	r.pos += sizeLen

	if r.pos+int64(sizeVal) > limit {
		return 0, 0, fmt.Errorf("mediaio: EBML element overruns container bound")
	}
	return uint32(idVal), int64(sizeVal), nil
}

// readIDAt reads an EBML element ID: like a vint but the marker bit is kept
// as part of the value (IDs are compared including their length marker).
func (r *ebmlReader) readIDAt(at int64) (id uint64, length int, err error) {
	var first [1]byte
	if _, err = r.f.ReadAt(first[:], at); err != nil {
		return 0, 0, err
	}
	length = vintLength(first[0])
	if length == 0 {
		return 0, 0, fmt.Errorf("mediaio: invalid EBML ID marker at %d", at)
	}
	buf := make([]byte, length)
	if _, err = r.f.ReadAt(buf, at); err != nil {
		return 0, 0, err
	}
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v, length, nil
}

// readVintAt reads an EBML variable-length integer with its length marker
// bit masked off, per the spec's size-of-size encoding.
func (r *ebmlReader) readVintAt(at int64) (value uint64, length int, err error) {
	var first [1]byte
	if _, err = r.f.ReadAt(first[:], at); err != nil {
		return 0, 0, err
	}
	length = vintLength(first[0])
	if length == 0 {
		return 0, 0, fmt.Errorf("mediaio: invalid EBML vint marker at %d", at)
	}
	buf := make([]byte, length)
	if _, err = r.f.ReadAt(buf, at); err != nil {
		return 0, 0, err
	}
	mask := byte(0xFF >> uint(length))
	value = uint64(buf[0] & mask)
	for i := 1; i < length; i++ {
		value = value<<8 | uint64(buf[i])
	}
	return value, length, nil
}

func vintLength(first byte) int {
	for i := 0; i < 8; i++ {
		if first&(0x80>>uint(i)) != 0 {
			return i + 1
		}
	}
	return 0
}

func (r *ebmlReader) skip(n int64) error {
	r.pos += n
	return nil
}

func (r *ebmlReader) readUint(size int64) (uint64, error) {
	buf := make([]byte, size)
	if _, err := r.f.ReadAt(buf, r.pos); err != nil {
		return 0, err
	}
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

func (r *ebmlReader) readFloat(size int64) (float64, error) {
	buf := make([]byte, size)
	if _, err := r.f.ReadAt(buf, r.pos); err != nil {
		return 0, err
	}
	switch size {
	case 4:
		bits := binary.BigEndian.Uint32(buf)
		return float64(math.Float32frombits(bits)), nil
	case 8:
		bits := binary.BigEndian.Uint64(buf)
		return math.Float64frombits(bits), nil
	default:
		return 0, fmt.Errorf("mediaio: unsupported float width %d", size)
	}
}

func (r *ebmlReader) readString(size int64) (string, error) {
	buf := make([]byte, size)
	if _, err := r.f.ReadAt(buf, r.pos); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (r *ebmlReader) readBytes(size int64) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := r.f.ReadAt(buf, r.pos); err != nil {
		return nil, err
	}
	return buf, nil
}

// IndexOptions holds a scan timeout for index-less containers. Nothing in
// this package or the indexer reads it; the indexer's scan budget is
// hlsengine.Config.IndexTimeout, applied as a context deadline.
type IndexOptions struct {
	Timeout time.Duration
}
