// Package api wires the hlsengine components (indexer, registry, cache,
// muxer, transcoder, subtitle builder, playlist synthesis) into an HTTP
// surface. Grounded on the teacher's internal/api/hlsvod.go and router.go
// path-dispatch style, generalized from one static VOD tree to arbitrary
// registered source paths.
package api

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avian-media/hlsorigin/internal/config"
	"github.com/avian-media/hlsorigin/pkg/hlsengine"
	"github.com/avian-media/hlsorigin/pkg/hlsengine/cache"
	"github.com/avian-media/hlsorigin/pkg/hlsengine/registry"
)

// ManagerCtx owns every long-lived engine component and the blocking-call
// worker pool CPU-bound operations run on, kept separate from the async
// HTTP goroutines per the concurrency model: a client disconnecting mid
// request must not cancel an in-flight segment build another request may
// already be waiting on via the cache's singleflight group.
type ManagerCtx struct {
	logger zerolog.Logger
	cfg    hlsengine.Config

	indexer  *hlsengine.Indexer
	registry *registry.Registry
	cache    *cache.Cache

	pool chan struct{} // blocking-pool capacity semaphore
}

func New(serverCfg *config.Server) *ManagerCtx {
	e := serverCfg.Engine
	cfg := hlsengine.Config{
		MediaRoot:            e.MediaRoot,
		SegmentDurationSecs:  e.SegmentDurationSecs,
		SegmentMinSecs:       e.SegmentMinSecs,
		SegmentMaxSecs:       e.SegmentMaxSecs,
		AudioSampleRate:      e.AudioSampleRate,
		AACBitrate:           e.AACBitrate,
		CacheMemoryBytes:     e.CacheMemoryBytes,
		CacheMaxSegments:     e.CacheMaxSegments,
		CacheTTL:             time.Duration(e.CacheTTLSecs) * time.Second,
		IndexTimeout:         time.Duration(e.IndexTimeoutSecs) * time.Second,
		IdleWindow:           time.Duration(e.IdleWindowSecs) * time.Second,
		ReaperPeriod:         time.Duration(e.ReaperPeriodSecs) * time.Second,
		MaxConcurrentStreams: e.MaxConcurrentStreams,
		BlockingPoolSize:     e.BlockingPoolSize,
	}.WithDefaults()

	indexer := hlsengine.NewIndexer(cfg)
	artifactCache := cache.New(cfg.CacheMemoryBytes, cfg.CacheMaxSegments, cfg.CacheTTL)
	reg := registry.New(indexer, artifactCache, cfg.IdleWindow, cfg.ReaperPeriod, cfg.MaxConcurrentStreams)
	reg.StartReaper()

	return &ManagerCtx{
		logger:   log.With().Str("module", "api").Logger(),
		cfg:      cfg,
		indexer:  indexer,
		registry: reg,
		cache:    artifactCache,
		pool:     make(chan struct{}, cfg.BlockingPoolSize),
	}
}

// runBlocking executes fn on the blocking-call pool, bounded to
// BlockingPoolSize concurrent CPU-bound operations regardless of how many
// HTTP requests are in flight. It does not honor ctx cancellation once fn
// has started: an in-flight build completes and populates the cache even
// if the requesting client disconnects, so a second request for the same
// artifact never restarts the work.
func (m *ManagerCtx) runBlocking(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	select {
	case m.pool <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-m.pool }()
	return fn()
}

func (m *ManagerCtx) Shutdown() {
	m.registry.Stop()
}
