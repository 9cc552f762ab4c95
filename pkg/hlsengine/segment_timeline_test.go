package hlsengine

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avian-media/hlsorigin/pkg/hlsengine/mediaio"
)

type fakeKeyframeReader struct {
	pts []int64
	i   int
}

func (f *fakeKeyframeReader) Next(ctx context.Context) (int64, error) {
	if f.i >= len(f.pts) {
		return 0, io.EOF
	}
	pts := f.pts[f.i]
	f.i++
	return pts, nil
}

func (f *fakeKeyframeReader) Close() error { return nil }

type fakeContainer struct {
	keyframePTS []int64
}

func (f *fakeContainer) Streams() []mediaio.StreamMeta { return nil }
func (f *fakeContainer) DurationSeconds() float64      { return 0 }
func (f *fakeContainer) HasIndex() bool                { return true }
func (f *fakeContainer) Keyframes(streamIndex int) (mediaio.KeyframeReader, error) {
	return &fakeKeyframeReader{pts: f.keyframePTS}, nil
}
func (f *fakeContainer) SubtitlePackets(streamIndex int) (mediaio.PacketReader, error) {
	return nil, nil
}
func (f *fakeContainer) SelectPackets(streamIndex int, startPTS, endPTS int64) (mediaio.PacketReader, error) {
	return nil, nil
}
func (f *fakeContainer) Close() error { return nil }

func testIndexer() *Indexer {
	return NewIndexer(Config{
		SegmentDurationSecs: 4,
		SegmentMinSecs:      3,
		SegmentMaxSecs:      6,
	})
}

func TestBuildSegmentTimeline_ClosesSegmentAt80PercentOfTarget(t *testing.T) {
	// timebase 1:1 (seconds), keyframes every 4s -- each candidate boundary
	// hits exactly 100% of target, well past the 80% threshold.
	tb := Rational{Num: 1, Den: 1}
	c := &fakeContainer{keyframePTS: []int64{0, 4, 8, 12}}
	ix := testIndexer()

	segs, err := ix.buildSegmentTimeline(context.Background(), c, 0, tb, 16)
	require.NoError(t, err)

	require.Len(t, segs, 4)
	for i, s := range segs {
		assert.Equal(t, i, s.Sequence)
		assert.InDelta(t, 4.0, s.DurationS, 0.001)
	}
}

func TestBuildSegmentTimeline_TrailingKeyframeBelowMinDoesNotFragmentTail(t *testing.T) {
	tb := Rational{Num: 1, Den: 1}
	// keyframe at 15s is only 3s after the previous boundary at 12s (under
	// the 3.2s close threshold) and would leave just 1s to the 16s duration
	// end, below SegmentMinSecs; the final segment absorbs it and runs to
	// the true end instead.
	c := &fakeContainer{keyframePTS: []int64{0, 4, 8, 12, 15}}
	ix := testIndexer()

	segs, err := ix.buildSegmentTimeline(context.Background(), c, 0, tb, 16)
	require.NoError(t, err)

	require.Len(t, segs, 4)
	last := segs[len(segs)-1]
	assert.InDelta(t, 4.0, last.DurationS, 0.001)
	assert.Equal(t, int64(16), last.EndPTS)
}

func TestBuildSegmentTimeline_NoKeyframesReturnsError(t *testing.T) {
	tb := Rational{Num: 1, Den: 1}
	c := &fakeContainer{keyframePTS: nil}
	ix := testIndexer()

	_, err := ix.buildSegmentTimeline(context.Background(), c, 0, tb, 10)
	assert.Error(t, err)
}

func TestBuildSegmentTimeline_SegmentsCoverFullDurationContiguously(t *testing.T) {
	tb := Rational{Num: 1, Den: 1}
	c := &fakeContainer{keyframePTS: []int64{0, 5, 9, 13}}
	ix := testIndexer()

	segs, err := ix.buildSegmentTimeline(context.Background(), c, 0, tb, 18)
	require.NoError(t, err)
	require.NotEmpty(t, segs)

	assert.Equal(t, int64(0), segs[0].StartPTS)
	for i := 1; i < len(segs); i++ {
		assert.Equal(t, segs[i-1].EndPTS, segs[i].StartPTS, "segments must be contiguous with no gaps")
	}
	assert.Equal(t, int64(18), segs[len(segs)-1].EndPTS)
}
