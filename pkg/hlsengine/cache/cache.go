// Package cache holds rendered HLS artifacts (init segments, media
// segments, subtitle segments, playlists) keyed by hlsengine.CacheKey.
// Grounded on starsinc1708-TorrX's internal/storage/memory provider: a
// container/list-backed LRU bounded by both entry count and total bytes,
// with golang.org/x/sync/singleflight collapsing concurrent builds of the
// same key into one.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/avian-media/hlsorigin/pkg/hlsengine"
)

type entry struct {
	key       hlsengine.CacheKey
	data      []byte
	size      int64
	expiresAt time.Time
}

// Cache is safe for concurrent use. One mutex guards every key's entry;
// GetOrBuild runs its build function outside that mutex.
type Cache struct {
	mu          sync.Mutex
	ll          *list.List // front = most recently used
	items       map[hlsengine.CacheKey]*list.Element
	curBytes    int64
	maxBytes    int64
	maxEntries  int
	ttl         time.Duration
	group       singleflight.Group
}

func New(maxBytes int64, maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		ll:         list.New(),
		items:      make(map[hlsengine.CacheKey]*list.Element),
		maxBytes:   maxBytes,
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// Get returns a cached artifact and whether it was present and unexpired.
func (c *Cache) Get(key hlsengine.CacheKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if c.ttl > 0 && time.Now().After(e.expiresAt) {
		c.removeElement(el)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return e.data, true
}

// GetOrBuild returns the cached artifact for key, building it via build if
// absent. Concurrent callers for the same key share one build via
// singleflight, matching the registry's single-flight indexing contract.
func (c *Cache) GetOrBuild(ctx context.Context, key hlsengine.CacheKey, build func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if data, ok := c.Get(key); ok {
		return data, nil
	}

	v, err, _ := c.group.Do(cacheKeyToString(key), func() (interface{}, error) {
		if data, ok := c.Get(key); ok {
			return data, nil
		}
		data, err := build(ctx)
		if err != nil {
			return nil, err
		}
		c.Insert(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Insert stores data under key, evicting LRU entries as needed to respect
// both the byte and entry bounds.
func (c *Cache) Insert(key hlsengine.CacheKey, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(data))
	if el, ok := c.items[key]; ok {
		old := el.Value.(*entry)
		c.curBytes -= old.size
		el.Value = &entry{key: key, data: data, size: size, expiresAt: c.expiry()}
		c.curBytes += size
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&entry{key: key, data: data, size: size, expiresAt: c.expiry()})
		c.items[key] = el
		c.curBytes += size
	}

	for (c.maxBytes > 0 && c.curBytes > c.maxBytes) || (c.maxEntries > 0 && c.ll.Len() > c.maxEntries) {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.removeElement(back)
	}
}

func (c *Cache) expiry() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.ttl)
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.items, e.key)
	c.ll.Remove(el)
	c.curBytes -= e.size
}

// InvalidateByDescriptor drops every cached artifact belonging to
// descriptorID, called by the registry when a StreamDescriptor is evicted
// for idleness so a stale artifact never outlives its source.
func (c *Cache) InvalidateByDescriptor(descriptorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for k, el := range c.items {
		if k.DescriptorID == descriptorID {
			toRemove = append(toRemove, el)
		}
	}
	for _, el := range toRemove {
		c.removeElement(el)
	}
}

// Stats reports the cache's current size for metrics export.
func (c *Cache) Stats() (entries int, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len(), c.curBytes
}

func cacheKeyToString(k hlsengine.CacheKey) string {
	return k.DescriptorID + "|" + k.Kind.String() + "|" + itoa(k.Track) + "|" + itoa(k.Sequence)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
