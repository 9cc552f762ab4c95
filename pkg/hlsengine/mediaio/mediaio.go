// Package mediaio is the Media-IO adapter: it opens a container file and
// exposes a pull-based packet stream, per-stream metadata, seeking by
// timestamp, and nothing else. It never buffers a whole file and never
// shells out to an external media tool.
package mediaio

import (
	"context"
	"errors"
	"io"
)

// StreamType classifies an elementary stream inside a container.
type StreamType int

const (
	StreamVideo StreamType = iota
	StreamAudio
	StreamSubtitle
	StreamOther
)

// Rational is a small local copy of hlsengine.Rational to keep this package
// free of a dependency on its parent (it is imported by hlsengine, not the
// other way around).
type Rational struct {
	Num int64
	Den int64
}

// Seconds converts a tick count in this timebase to wall-clock seconds.
func (r Rational) Seconds(ticks int64) float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(ticks) * float64(r.Num) / float64(r.Den)
}

// Ticks converts wall-clock seconds into this timebase's tick count.
func (r Rational) Ticks(seconds float64) int64 {
	if r.Num == 0 {
		return 0
	}
	return int64(seconds * float64(r.Den) / float64(r.Num))
}

// Rescale converts a tick count in the from timebase into this timebase.
func (r Rational) Rescale(ticks int64, from Rational) int64 {
	if r == from {
		return ticks
	}
	return r.Ticks(from.Seconds(ticks))
}

// StreamMeta is everything the indexer needs to know about one elementary
// stream without decoding a single frame.
type StreamMeta struct {
	Index      int
	Type       StreamType
	CodecTag   string // "h264", "hevc", "vp9", "av1", "aac", "ac3", "eac3", "opus", "mp3", "flac", "vorbis", "srt", "ass", "mov_text", "webvtt", "pgs", "dvb_subtitle", "xsub"
	Timebase   Rational
	Language   string
	Default    bool

	// Video-only.
	Width, Height int
	FPS           float64
	Profile       int
	Level         int

	// Audio-only.
	SampleRate int
	Channels   int

	Bitrate int64

	// CodecPrivate carries the container's codec configuration record
	// (avcC/hvcC SPS+PPS, esds AudioSpecificConfig, ...) verbatim, so the
	// muxer can build init segments without re-parsing bitstreams.
	CodecPrivate []byte
}

// Packet is one demuxed access unit, still in its container encoding
// (never decoded here).
type Packet struct {
	StreamIndex int
	PTS         int64 // stream-local timebase
	DTS         int64
	Data        []byte
	IsKeyframe  bool
}

// ErrEndOfStream is returned by PacketReader.Read once the container is
// exhausted or the requested window has been fully delivered.
var ErrEndOfStream = errors.New("mediaio: end of stream")

// PacketReader pulls packets one at a time. Callers drive it; nothing here
// spawns goroutines or does read-ahead beyond what the underlying decoder
// library buffers internally.
type PacketReader interface {
	// Read returns the next packet or ErrEndOfStream. It never returns a
	// packet from a stream that was not requested via Container.SelectPackets.
	Read() (Packet, error)
	Close() error
}

// KeyframeReader walks the video stream and reports each keyframe's PTS,
// used only by the indexer to build the segment timeline. It is separate
// from PacketReader because index-less containers (MKV) may need a
// dedicated bounded-time header scan rather than a full packet pull.
type KeyframeReader interface {
	// Next returns the next keyframe PTS in the video stream's timebase,
	// or io.EOF.
	Next(ctx context.Context) (pts int64, err error)
	Close() error
}

// Container is an opened media file. It is not safe for concurrent use by
// multiple goroutines; callers open one Container per concurrent reader.
type Container interface {
	// Streams enumerates every elementary stream in declaration order.
	Streams() []StreamMeta

	// DurationSeconds is the container-level duration, when known. For
	// index-less containers this may be 0 until a full scan happens.
	DurationSeconds() float64

	// HasIndex reports whether the container format carries a native
	// sample index (true for MP4/MOV, false for typical MKV/WebM),
	// determining whether the indexer must apply a bounded scan budget.
	HasIndex() bool

	// Keyframes opens a keyframe-only scan of the given video stream.
	Keyframes(streamIndex int) (KeyframeReader, error)

	// SubtitlePackets reads every packet of a subtitle stream up front;
	// subtitle streams are small enough that the indexer fully drains them
	// once. The reader's Read returns ErrEndOfStream when done.
	SubtitlePackets(streamIndex int) (PacketReader, error)

	// SelectPackets seeks streamIndex to approximately startPTS (in the
	// stream's own timebase) and returns a reader that yields packets with
	// PTS in [startPTS, endPTS). All other streams are discarded
	// (AVDISCARD_ALL equivalent) for the lifetime of the reader.
	SelectPackets(streamIndex int, startPTS, endPTS int64) (PacketReader, error)

	Close() error
}

// Sink receives fully-formed fMP4 boxes from a muxer. It is a thin
// io.Writer alias so muxers can write directly into a caller-owned
// bytes.Buffer without an intermediate copy.
type Sink = io.Writer

// Opener opens a container file by path, dispatching on file extension to
// the concrete demuxer (mp4.go for MP4/M4V, mkv.go for MKV/WebM).
type Opener interface {
	Open(path string) (Container, error)
}
