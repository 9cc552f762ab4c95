package hlsengine

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avian-media/hlsorigin/pkg/hlsengine/mediaio"
	"github.com/avian-media/hlsorigin/pkg/hlsengine/subtitle"
)

// Indexer opens a source file exactly once and builds its immutable
// StreamDescriptor: stream enumeration, the segment timeline, and every
// subtitle cue. Once Index returns, the descriptor never needs the source
// container reopened for playlist or subtitle-segment requests -- only
// video/audio segment muxing seeks back into the file.
type Indexer struct {
	openers map[string]mediaio.Opener // by lowercase extension, e.g. ".mp4"
	cfg     Config
}

func NewIndexer(cfg Config) *Indexer {
	return &Indexer{
		cfg: cfg,
		openers: map[string]mediaio.Opener{
			".mp4": mediaio.MP4Opener{},
			".m4v": mediaio.MP4Opener{},
			".mov": mediaio.MP4Opener{},
			".mkv": mediaio.MKVOpener{},
			".webm": mediaio.MKVOpener{},
		},
	}
}

// Index opens path, classifies its streams, and builds the segment
// timeline. It returns a taxonomy *Error on every failure path so callers
// never need a type switch to decide the HTTP status.
func (ix *Indexer) Index(ctx context.Context, path string) (*StreamDescriptor, error) {
	// opID correlates this index operation's log lines; singleflight may be
	// deduping several concurrent callers onto the one that actually runs.
	opID := uuid.New().String()
	logger := log.With().Str("module", "indexer").Str("op", opID).Str("path", path).Logger()
	logger.Debug().Msg("indexing started")

	opener, ok := ix.openers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, NewError(ErrKindUnsupportedContainer, "indexer.Index", fmt.Errorf("no demuxer for %s", path))
	}

	container, err := opener.Open(path)
	if err != nil {
		return nil, NewError(ErrKindPathNotFound, "indexer.Index", err)
	}
	defer container.Close()

	if !container.HasIndex() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ix.cfg.IndexTimeout)
		defer cancel()
	}

	streams := container.Streams()

	desc := &StreamDescriptor{
		ID:         descriptorID(path),
		SourcePath: path,
		Duration:   container.DurationSeconds(),
	}

	videoIdx := -1
	for _, s := range streams {
		switch s.Type {
		case mediaio.StreamVideo:
			if videoIdx == -1 {
				videoIdx = s.Index
				desc.VideoTimebase = Rational{Num: s.Timebase.Num, Den: s.Timebase.Den}
				desc.VideoStreams = append(desc.VideoStreams, VideoStreamInfo{
					StreamIndex: s.Index,
					CodecID:     s.CodecTag,
					Profile:     s.Profile,
					Level:       s.Level,
					Width:       s.Width,
					Height:      s.Height,
					FPS:         s.FPS,
					Timebase:    desc.VideoTimebase,
				})
			}
		case mediaio.StreamAudio:
			desc.AudioStreams = append(desc.AudioStreams, AudioStreamInfo{
				StreamIndex: s.Index,
				CodecID:     s.CodecTag,
				SampleRate:  s.SampleRate,
				Channels:    s.Channels,
				Language:    s.Language,
				Default:     s.Default,
			})
		case mediaio.StreamSubtitle:
			if isBitmapSubtitleCodec(s.CodecTag) {
				continue // bitmap formats are left out of the descriptor entirely
			}
			desc.SubtitleStreams = append(desc.SubtitleStreams, SubtitleStreamInfo{
				StreamIndex: s.Index,
				Language:    s.Language,
				Format:      classifySubtitleFormat(s.CodecTag),
			})
		}
	}

	if videoIdx == -1 {
		return nil, NewError(ErrKindUnsupportedContainer, "indexer.Index", fmt.Errorf("no playable video stream in %s", path))
	}
	markDefaultAudio(desc.AudioStreams)

	segments, err := ix.buildSegmentTimeline(ctx, container, videoIdx, desc.VideoTimebase, desc.Duration)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewError(ErrKindIndexTimeout, "indexer.Index", ctx.Err())
		}
		return nil, NewError(ErrKindIndexFailed, "indexer.Index", err)
	}
	desc.Segments = segments

	subtitleCodecTag := map[int]string{}
	for _, s := range streams {
		if s.Type == mediaio.StreamSubtitle {
			subtitleCodecTag[s.Index] = s.CodecTag
		}
	}

	desc.SubtitleCues = make([][]SubtitleCue, len(desc.SubtitleStreams))
	for i, sub := range desc.SubtitleStreams {
		cues, err := ix.extractSubtitleCues(container, sub.StreamIndex, subtitleCodecTag[sub.StreamIndex], desc.VideoTimebase)
		if err != nil {
			return nil, NewError(ErrKindSubtitleDecodeFailed, "indexer.Index", err)
		}
		desc.SubtitleCues[i] = cues
	}

	desc.Touch()
	logger.Debug().
		Int("segments", len(desc.Segments)).
		Int("audio_streams", len(desc.AudioStreams)).
		Msg("indexing complete")
	return desc, nil
}

func descriptorID(path string) string {
	sum := sha1.Sum([]byte(path))
	return hex.EncodeToString(sum[:])
}

func isBitmapSubtitleCodec(tag string) bool {
	switch tag {
	case "pgs", "dvb_subtitle", "xsub", "vobsub":
		return true
	default:
		return false
	}
}

func classifySubtitleFormat(tag string) CodecFormat {
	switch tag {
	case "srt":
		return CodecFormatSRT
	case "ass", "ssa":
		return CodecFormatASS
	case "mov_text":
		return CodecFormatMovText
	case "webvtt":
		return CodecFormatWebVTT
	default:
		return CodecFormatSRT
	}
}

// markDefaultAudio sets Default on the first audio stream of each language
// group in declaration order, matching the original planner's behavior of
// treating stream order (not a container flag) as the tiebreaker.
func markDefaultAudio(streams []AudioStreamInfo) {
	seen := map[string]bool{}
	for i := range streams {
		lang := streams[i].Language
		if !seen[lang] {
			streams[i].Default = true
			seen[lang] = true
		}
	}
}

// buildSegmentTimeline implements the greedy-forward keyframe grouping: walk
// keyframe PTS values, close a segment once its accumulated duration passes
// 80% of the target. A final segment shorter than SegmentMinSecs is merged
// into the previous one. SegmentMaxSecs is not enforced: when the next
// keyframe lies beyond it, the segment runs to that keyframe and is not
// split. Grounded on original_source's scanner.rs, whose 0.8 threshold this
// mirrors exactly.
func (ix *Indexer) buildSegmentTimeline(ctx context.Context, container mediaio.Container, videoIdx int, tb Rational, durationSecs float64) ([]Segment, error) {
	kr, err := container.Keyframes(videoIdx)
	if err != nil {
		return nil, err
	}
	defer kr.Close()

	target := ix.cfg.SegmentDurationSecs
	minD := ix.cfg.SegmentMinSecs
	maxD := ix.cfg.SegmentMaxSecs

	var segments []Segment
	var keyframes []int64
	for {
		pts, err := kr.Next(ctx)
		if err != nil {
			break
		}
		keyframes = append(keyframes, pts)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(keyframes) == 0 {
		return nil, fmt.Errorf("no keyframes found")
	}

	endTick := tb.Ticks(durationSecs)
	segStart := keyframes[0]
	seq := 0
	for i := 1; i <= len(keyframes); i++ {
		var candidateEnd int64
		last := i == len(keyframes)
		if last {
			candidateEnd = endTick
		} else {
			candidateEnd = keyframes[i]
		}
		elapsed := tb.Seconds(candidateEnd - segStart)

		closeHere := last
		if !closeHere && elapsed >= target*0.8 {
			closeHere = true
		}
		if closeHere && elapsed > maxD && i < len(keyframes) {
			// overshoot past the hard max: this candidate boundary is too
			// far out, but since keyframes only exist where the encoder put
			// them, accept it anyway rather than splitting mid-GOP.
		}
		if !closeHere {
			continue
		}

		dur := tb.Seconds(candidateEnd - segStart)
		if dur < minD && seq > 0 && len(segments) > 0 {
			// merge a too-short tail segment into the previous one rather
			// than emit a sub-minimum final fragment.
			prev := &segments[len(segments)-1]
			prev.EndPTS = candidateEnd
			prev.DurationS = tb.Seconds(candidateEnd - prev.StartPTS)
		} else {
			segments = append(segments, Segment{
				Sequence:   seq,
				StartPTS:   segStart,
				EndPTS:     candidateEnd,
				DurationS:  dur,
				IsKeyframe: true,
			})
			seq++
		}
		segStart = candidateEnd
	}

	return segments, nil
}

// extractSubtitleCues drains a text subtitle stream fully at index time and
// converts each packet into a SubtitleCue in the video timebase.
func (ix *Indexer) extractSubtitleCues(container mediaio.Container, streamIndex int, codecTag string, videoTB Rational) ([]SubtitleCue, error) {
	reader, err := container.SubtitlePackets(streamIndex)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	vtb := mediaio.Rational{Num: videoTB.Num, Den: videoTB.Den}
	subTB := vtb
	for _, s := range container.Streams() {
		if s.Index == streamIndex && s.Timebase.Den != 0 {
			subTB = s.Timebase
		}
	}

	var cues []SubtitleCue
	for {
		pkt, err := reader.Read()
		if err == mediaio.ErrEndOfStream {
			break
		}
		if err != nil {
			return nil, err
		}
		text := subtitle.DecodePayload(codecTag, pkt.Data)
		if text == "" {
			continue
		}
		start := vtb.Rescale(pkt.PTS, subTB)
		cues = append(cues, SubtitleCue{
			StartPTS: start,
			EndPTS:   start + videoTB.Ticks(2.0), // fallback duration; refined by the next cue's start below
			Text:     text,
		})
	}

	for i := 0; i+1 < len(cues); i++ {
		if cues[i+1].StartPTS > cues[i].StartPTS {
			cues[i].EndPTS = cues[i+1].StartPTS
		}
	}

	return cues, nil
}
