package hlsengine

import "time"

// Config mirrors the teacher's Config.withDefaultValues() pattern: a plain
// struct with a defaulting method applied once at construction, instead of
// scattered nil checks through the engine.
type Config struct {
	// MediaRoot is optionally prepended to every URL-derived path before
	// filesystem lookup.
	MediaRoot string

	SegmentDurationSecs float64 // target duration; segments close at the first keyframe past 80% of it
	SegmentMinSecs      float64
	SegmentMaxSecs      float64

	AudioSampleRate int // resample target, Hz
	AACBitrate      int // bits/sec

	CacheMemoryBytes int64
	CacheMaxSegments int
	CacheTTL         time.Duration

	IndexTimeout time.Duration // bounded scan budget for index-less (MKV) files

	IdleWindow    time.Duration // registry eviction idle window
	ReaperPeriod  time.Duration // registry reaper tick

	MaxConcurrentStreams int
	BlockingPoolSize     int
}

func (c Config) WithDefaults() Config {
	if c.SegmentDurationSecs == 0 {
		c.SegmentDurationSecs = 4.0
	}
	if c.SegmentMinSecs == 0 {
		c.SegmentMinSecs = 3.0
	}
	if c.SegmentMaxSecs == 0 {
		c.SegmentMaxSecs = 6.0
	}
	if c.AudioSampleRate == 0 {
		c.AudioSampleRate = 48000
	}
	if c.AACBitrate == 0 {
		c.AACBitrate = 128000
	}
	if c.CacheMemoryBytes == 0 {
		c.CacheMemoryBytes = 512 * 1024 * 1024
	}
	if c.CacheMaxSegments == 0 {
		c.CacheMaxSegments = 4096
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 300 * time.Second
	}
	if c.IndexTimeout == 0 {
		c.IndexTimeout = 30 * time.Second
	}
	if c.IdleWindow == 0 {
		c.IdleWindow = 300 * time.Second
	}
	if c.ReaperPeriod == 0 {
		c.ReaperPeriod = 60 * time.Second
	}
	if c.MaxConcurrentStreams == 0 {
		c.MaxConcurrentStreams = 100
	}
	if c.BlockingPoolSize == 0 {
		c.BlockingPoolSize = 8
	}
	return c
}
