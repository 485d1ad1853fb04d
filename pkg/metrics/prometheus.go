package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Segment sources
const (
	SourceCache   = "cache"
	SourceService = "service"
	SourceFailed  = "failed"
)

// Metrics holds the counters a run reports. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FilesProcessed  *prometheus.CounterVec
	Segments        *prometheus.CounterVec
	ServiceRetries  prometheus.Counter
	ServiceDuration prometheus.Histogram
	SegmentBytes    prometheus.Histogram
	CacheEntries    prometheus.Gauge
	RunDuration     prometheus.Gauge
	LastRun         prometheus.Gauge
}

// NewMetrics creates all metrics on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		FilesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkscribe_files_processed_total",
			Help: "Files handled, by outcome status",
		}, []string{"status"}),
		Segments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkscribe_segments_total",
			Help: "Segments handled, by where their text came from",
		}, []string{"source"}),
		ServiceRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkscribe_service_retries_total",
			Help: "Transcription attempts beyond the first",
		}),
		ServiceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chunkscribe_service_call_duration_seconds",
			Help:    "Time spent in transcription calls including retries",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),
		SegmentBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chunkscribe_segment_size_bytes",
			Help:    "Size of segment payloads",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 10), // 64KB to ~32MB
		}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chunkscribe_cache_entries",
			Help: "Transcripts held by the segment cache",
		}),
		RunDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chunkscribe_last_run_duration_seconds",
			Help: "Wall time of the most recent run",
		}),
		LastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chunkscribe_last_run_timestamp_seconds",
			Help: "Unix time the most recent run finished",
		}),
	}
}

// Registry exposes the registry for gathering
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveFile counts a finished file
func (m *Metrics) ObserveFile(status string) {
	if m == nil {
		return
	}
	m.FilesProcessed.WithLabelValues(status).Inc()
}

// ObserveSegment counts a segment and its payload size
func (m *Metrics) ObserveSegment(source string, size int) {
	if m == nil {
		return
	}
	m.Segments.WithLabelValues(source).Inc()
	if size > 0 {
		m.SegmentBytes.Observe(float64(size))
	}
}

// ObserveServiceCall records one transcription call
func (m *Metrics) ObserveServiceCall(d time.Duration, attempts int) {
	if m == nil {
		return
	}
	m.ServiceDuration.Observe(d.Seconds())
	if attempts > 1 {
		m.ServiceRetries.Add(float64(attempts - 1))
	}
}

// SetCacheEntries reports the cache size
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

// ObserveRun records the end of a run
func (m *Metrics) ObserveRun(d time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.Set(d.Seconds())
	m.LastRun.SetToCurrentTime()
}

// WriteTextfile writes all metrics in the node_exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
