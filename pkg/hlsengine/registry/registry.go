// Package registry maps source file paths to their indexed
// StreamDescriptor, single-flighting concurrent index requests for the
// same path and reaping descriptors that go unused past an idle window.
// Grounded on the teacher's ManagerCtx ready-state machine in
// pkg/hlsvod/manager.go, generalized from one path per process to a
// keyed table of paths.
package registry

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/avian-media/hlsorigin/pkg/hlsengine"
	"github.com/avian-media/hlsorigin/pkg/hlsengine/cache"
)

// Indexer is the subset of *hlsengine.Indexer the registry depends on,
// kept as an interface so tests can supply a fake.
type Indexer interface {
	Index(ctx context.Context, path string) (*hlsengine.StreamDescriptor, error)
}

type cell struct {
	descriptor *hlsengine.StreamDescriptor
	err        error
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	byPath  map[string]*cell
	byID    map[string]string // descriptor ID -> source path, for O(1) removal
	group   singleflight.Group
	indexer Indexer
	cache   *cache.Cache

	idleWindow   time.Duration
	reaperPeriod time.Duration
	maxStreams   int

	stopCh chan struct{}
}

func New(indexer Indexer, artifactCache *cache.Cache, idleWindow, reaperPeriod time.Duration, maxStreams int) *Registry {
	r := &Registry{
		byPath:       make(map[string]*cell),
		byID:         make(map[string]string),
		indexer:      indexer,
		cache:        artifactCache,
		idleWindow:   idleWindow,
		reaperPeriod: reaperPeriod,
		maxStreams:   maxStreams,
		stopCh:       make(chan struct{}),
	}
	return r
}

// evictOldestLocked removes the descriptor with the oldest lastAccessed
// time to make room for a new one. Caller must hold r.mu for writing.
func (r *Registry) evictOldestLocked() (string, bool) {
	var oldestID, oldestPath string
	var oldest time.Duration = -1
	for id, path := range r.byID {
		c := r.byPath[path]
		if c == nil || c.descriptor == nil {
			continue
		}
		idle := c.descriptor.IdleFor()
		if idle > oldest {
			oldest = idle
			oldestID = id
			oldestPath = path
		}
	}
	if oldestPath == "" {
		return "", false
	}
	delete(r.byID, oldestID)
	delete(r.byPath, oldestPath)
	return oldestID, true
}

// StartReaper launches the idle-eviction loop; call Stop to end it.
func (r *Registry) StartReaper() {
	go r.reapLoop()
}

func (r *Registry) Stop() {
	close(r.stopCh)
}

// GetOrIndex returns the descriptor for path, indexing it on first access.
// Concurrent callers for a path in flight share the same index call.
func (r *Registry) GetOrIndex(ctx context.Context, path string) (*hlsengine.StreamDescriptor, error) {
	r.mu.RLock()
	if c, ok := r.byPath[path]; ok {
		r.mu.RUnlock()
		if c.err == nil {
			c.descriptor.Touch()
		}
		return c.descriptor, c.err
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do(path, func() (interface{}, error) {
		// Re-check under the singleflight key: another goroutine may have
		// finished indexing between the RUnlock above and Do acquiring the
		// flight.
		r.mu.RLock()
		if c, ok := r.byPath[path]; ok {
			r.mu.RUnlock()
			return c, nil
		}
		r.mu.RUnlock()

		desc, indexErr := r.indexer.Index(ctx, path)
		c := &cell{descriptor: desc, err: indexErr}

		if indexErr == nil {
			r.mu.Lock()
			var evicted string
			if r.maxStreams > 0 && len(r.byPath) >= r.maxStreams {
				evicted, _ = r.evictOldestLocked()
			}
			r.byPath[path] = c
			r.byID[desc.ID] = path
			r.mu.Unlock()

			if evicted != "" {
				r.cache.InvalidateByDescriptor(evicted)
			}
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	c := v.(*cell)
	if c.err == nil {
		c.descriptor.Touch()
	}
	return c.descriptor, c.err
}

// RemoveByID evicts a descriptor and its cached artifacts in O(1), using
// the source-path index built at insertion time instead of a linear scan
// over every registered path.
func (r *Registry) RemoveByID(id string) {
	r.mu.Lock()
	path, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		delete(r.byPath, path)
	}
	r.mu.Unlock()

	if ok {
		r.cache.InvalidateByDescriptor(id)
	}
}

func (r *Registry) reapLoop() {
	ticker := time.NewTicker(r.reaperPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.reapOnce()
		}
	}
}

func (r *Registry) reapOnce() {
	r.mu.RLock()
	var stale []string
	for id, path := range r.byID {
		c := r.byPath[path]
		if c != nil && c.descriptor != nil && c.descriptor.IdleFor() > r.idleWindow {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.RemoveByID(id)
	}
}

// Len reports the number of currently indexed descriptors, for /health and
// the active-streams gauge.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPath)
}
