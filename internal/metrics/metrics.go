// Package metrics registers this origin's Prometheus collectors. Grounded
// on starsinc1708-TorrX's internal/metrics/metrics.go: package-level
// vectors built with prometheus.NewCounterVec/NewHistogramVec/NewGauge and
// a single Register(reg prometheus.Registerer) call site.
package metrics

import (
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_requests_total",
		Help: "HTTP requests served, by route and status class.",
	}, []string{"route", "status"})

	BytesServedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_bytes_served_total",
		Help: "Bytes written in response bodies, by artifact kind.",
	}, []string{"kind"})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_cache_hits_total",
		Help: "Segment cache lookups that found a cached artifact.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_cache_misses_total",
		Help: "Segment cache lookups that required a build.",
	})

	CacheHitRatio = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "hls_cache_hit_ratio",
		Help: "Rolling cache hit ratio since process start.",
	}, currentHitRatio)

	ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hls_active_streams",
		Help: "Number of source files currently indexed in the registry.",
	})

	TranscodeOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_transcode_operations_total",
		Help: "Audio transcode operations performed, by outcome.",
	}, []string{"outcome"})

	ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_errors_total",
		Help: "Requests that ended in a taxonomy error, by kind.",
	}, []string{"kind"})

	ServerUptimeSeconds = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "hls_server_uptime_seconds",
		Help: "Seconds since the process started.",
	}, func() float64 { return time.Since(processStart).Seconds() })
)

var processStart = time.Now()

func currentHitRatio() float64 {
	hits := getCounterValue(CacheHitsTotal)
	misses := getCounterValue(CacheMissesTotal)
	if hits+misses == 0 {
		return 0
	}
	return hits / (hits + misses)
}

func getCounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// Register attaches every collector in this package to reg. Call it once
// at startup with the registry the HTTP /metrics handler serves.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		RequestsTotal,
		BytesServedTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheHitRatio,
		ActiveStreams,
		TranscodeOperationsTotal,
		ErrorsTotal,
		ServerUptimeSeconds,
	)
}
