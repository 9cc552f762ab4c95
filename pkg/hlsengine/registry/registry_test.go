package registry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avian-media/hlsorigin/pkg/hlsengine"
	"github.com/avian-media/hlsorigin/pkg/hlsengine/cache"
)

type fakeIndexer struct {
	calls int32
	err   error
}

func (f *fakeIndexer) Index(ctx context.Context, path string) (*hlsengine.StreamDescriptor, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	time.Sleep(5 * time.Millisecond)
	d := &hlsengine.StreamDescriptor{ID: "id-" + path, SourcePath: path}
	d.Touch()
	return d, nil
}

func newTestRegistry(indexer Indexer, maxStreams int) *Registry {
	c := cache.New(0, 0, 0)
	return New(indexer, c, time.Hour, time.Hour, maxStreams)
}

func TestRegistry_GetOrIndexIndexesOnFirstAccess(t *testing.T) {
	idx := &fakeIndexer{}
	r := newTestRegistry(idx, 0)

	desc, err := r.GetOrIndex(context.Background(), "a.mp4")
	require.NoError(t, err)
	assert.Equal(t, "id-a.mp4", desc.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&idx.calls))

	_, err = r.GetOrIndex(context.Background(), "a.mp4")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&idx.calls), "second call reuses the cached descriptor")
}

func TestRegistry_GetOrIndexDedupsConcurrentCallers(t *testing.T) {
	idx := &fakeIndexer{}
	r := newTestRegistry(idx, 0)

	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := r.GetOrIndex(context.Background(), "a.mp4")
			results <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-results)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&idx.calls), "singleflight collapses concurrent index calls for the same path")
}

func TestRegistry_GetOrIndexPropagatesIndexError(t *testing.T) {
	boom := assert.AnError
	idx := &fakeIndexer{err: boom}
	r := newTestRegistry(idx, 0)

	_, err := r.GetOrIndex(context.Background(), "bad.mp4")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, r.Len(), "a failed index must not register a descriptor")
}

func TestRegistry_RemoveByIDEvictsDescriptorAndCache(t *testing.T) {
	idx := &fakeIndexer{}
	c := cache.New(0, 0, 0)
	r := New(idx, c, time.Hour, time.Hour, 0)

	desc, err := r.GetOrIndex(context.Background(), "a.mp4")
	require.NoError(t, err)
	c.Insert(hlsengine.CacheKey{DescriptorID: desc.ID, Kind: hlsengine.KindVideoSeg, Sequence: 1}, []byte("seg"))

	r.RemoveByID(desc.ID)

	assert.Equal(t, 0, r.Len())
	_, ok := c.Get(hlsengine.CacheKey{DescriptorID: desc.ID, Kind: hlsengine.KindVideoSeg, Sequence: 1})
	assert.False(t, ok, "removing a descriptor invalidates its cached artifacts")
}

func TestRegistry_CapacityEvictsOldestIdleStream(t *testing.T) {
	idx := &fakeIndexer{}
	r := newTestRegistry(idx, 2)

	descA, err := r.GetOrIndex(context.Background(), "a.mp4")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = r.GetOrIndex(context.Background(), "b.mp4")
	require.NoError(t, err)

	// touch b again so a is strictly the oldest idle entry
	_, err = r.GetOrIndex(context.Background(), "b.mp4")
	require.NoError(t, err)

	_, err = r.GetOrIndex(context.Background(), "c.mp4")
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len(), "registry stays at maxStreams capacity")

	r.mu.RLock()
	_, stillPresent := r.byID[descA.ID]
	r.mu.RUnlock()
	assert.False(t, stillPresent, "the least recently touched stream is evicted to make room")
}

func TestRegistry_ReapEvictsPastIdleWindow(t *testing.T) {
	idx := &fakeIndexer{}
	c := cache.New(0, 0, 0)
	r := New(idx, c, time.Millisecond, time.Hour, 0)

	_, err := r.GetOrIndex(context.Background(), "a.mp4")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	r.reapOnce()

	assert.Equal(t, 0, r.Len())
}
