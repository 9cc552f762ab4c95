package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avian-media/hlsorigin/pkg/hlsengine"
)

func key(descriptorID string, seq int) hlsengine.CacheKey {
	return hlsengine.CacheKey{DescriptorID: descriptorID, Kind: hlsengine.KindVideoSeg, Track: 0, Sequence: seq}
}

func TestCache_InsertAndGet(t *testing.T) {
	c := New(0, 0, 0)

	c.Insert(key("a", 1), []byte("hello"))

	data, ok := c.Get(key("a", 1))
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)

	_, ok = c.Get(key("a", 2))
	assert.False(t, ok, "unknown key is a miss")
}

func TestCache_EvictsLeastRecentlyUsedByEntryCount(t *testing.T) {
	c := New(0, 2, 0)

	c.Insert(key("a", 1), []byte("1"))
	c.Insert(key("a", 2), []byte("2"))
	c.Insert(key("a", 3), []byte("3")) // evicts seq 1, the oldest

	_, ok := c.Get(key("a", 1))
	assert.False(t, ok)
	_, ok = c.Get(key("a", 2))
	assert.True(t, ok)
	_, ok = c.Get(key("a", 3))
	assert.True(t, ok)
}

func TestCache_GetPromotesToMostRecentlyUsed(t *testing.T) {
	c := New(0, 2, 0)

	c.Insert(key("a", 1), []byte("1"))
	c.Insert(key("a", 2), []byte("2"))
	c.Get(key("a", 1)) // touch 1, making 2 the LRU entry
	c.Insert(key("a", 3), []byte("3"))

	_, ok := c.Get(key("a", 2))
	assert.False(t, ok, "seq 2 was least recently used and gets evicted")
	_, ok = c.Get(key("a", 1))
	assert.True(t, ok)
}

func TestCache_EvictsByByteBudget(t *testing.T) {
	c := New(10, 0, 0)

	c.Insert(key("a", 1), []byte("12345")) // 5 bytes
	c.Insert(key("a", 2), []byte("12345")) // 10 bytes total, fits
	entries, bytes := c.Stats()
	require.Equal(t, 2, entries)
	require.Equal(t, int64(10), bytes)

	c.Insert(key("a", 3), []byte("123")) // pushes over budget, evicts seq 1
	_, ok := c.Get(key("a", 1))
	assert.False(t, ok)
	_, ok = c.Get(key("a", 2))
	assert.True(t, ok)
	_, ok = c.Get(key("a", 3))
	assert.True(t, ok)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(0, 0, time.Millisecond)

	c.Insert(key("a", 1), []byte("x"))
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(key("a", 1))
	assert.False(t, ok, "entry expired and is evicted on access")
}

func TestCache_GetOrBuildDedupsConcurrentCallers(t *testing.T) {
	c := New(0, 0, 0)

	var builds int32
	build := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&builds, 1)
		time.Sleep(10 * time.Millisecond)
		return []byte("built"), nil
	}

	results := make(chan []byte, 4)
	for i := 0; i < 4; i++ {
		go func() {
			data, err := c.GetOrBuild(context.Background(), key("a", 1), build)
			require.NoError(t, err)
			results <- data
		}()
	}

	for i := 0; i < 4; i++ {
		assert.Equal(t, []byte("built"), <-results)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&builds), "singleflight collapses concurrent builds for the same key")
}

func TestCache_GetOrBuildPropagatesBuildError(t *testing.T) {
	c := New(0, 0, 0)
	errBoom := assert.AnError

	_, err := c.GetOrBuild(context.Background(), key("a", 1), func(ctx context.Context) ([]byte, error) {
		return nil, errBoom
	})
	require.Error(t, err)

	entries, _ := c.Stats()
	assert.Equal(t, 0, entries, "a failed build must not populate the cache")
}

func TestCache_InvalidateByDescriptorRemovesOnlyMatchingKeys(t *testing.T) {
	c := New(0, 0, 0)

	c.Insert(key("a", 1), []byte("1"))
	c.Insert(key("a", 2), []byte("2"))
	c.Insert(key("b", 1), []byte("3"))

	c.InvalidateByDescriptor("a")

	_, ok := c.Get(key("a", 1))
	assert.False(t, ok)
	_, ok = c.Get(key("a", 2))
	assert.False(t, ok)
	_, ok = c.Get(key("b", 1))
	assert.True(t, ok, "descriptor b's entries are untouched")
}
