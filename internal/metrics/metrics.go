// Package metrics exposes counters for archive, decode and batch activity.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "mangaview"

type Metrics struct {
	Registry *prometheus.Registry

	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	skippedCorrupted prometheus.Counter
	extractFailures  *prometheus.CounterVec
	openFailures     *prometheus.CounterVec
	extractedBytes   prometheus.Histogram
	decodeSeconds    *prometheus.HistogramVec
	batchItems       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "archive", Name: "cache_hits_total",
			Help: "Extractions served from the entry cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "archive", Name: "cache_misses_total",
			Help: "Extractions that re-scanned the container.",
		}),
		skippedCorrupted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "archive", Name: "skipped_corrupted_total",
			Help: "Extractions refused because the entry failed earlier.",
		}),
		extractFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "archive", Name: "extract_failures_total",
			Help: "Failed entry extractions by reason.",
		}, []string{"reason"}),
		openFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "archive", Name: "open_failures_total",
			Help: "Failed archive opens by reason.",
		}, []string{"reason"}),
		extractedBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "archive", Name: "extracted_bytes",
			Help:    "Size of extracted entries.",
			Buckets: prometheus.ExponentialBuckets(16<<10, 4, 8),
		}),
		decodeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "codec", Name: "decode_seconds",
			Help:    "Image decode latency by format.",
			Buckets: prometheus.DefBuckets,
		}, []string{"format"}),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "batch", Name: "items_total",
			Help: "Batch slots processed by result.",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(m.cacheHits, m.cacheMisses, m.skippedCorrupted, m.extractFailures,
		m.openFailures, m.extractedBytes, m.decodeSeconds, m.batchItems)
	return m
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) SkippedCorrupted() {
	if m != nil {
		m.skippedCorrupted.Inc()
	}
}

func (m *Metrics) ExtractFailed(reason string) {
	if m != nil {
		m.extractFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) OpenFailed(reason string) {
	if m != nil {
		m.openFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Extracted(n int) {
	if m != nil {
		m.extractedBytes.Observe(float64(n))
	}
}

func (m *Metrics) Decoded(format string, d time.Duration) {
	if m != nil {
		m.decodeSeconds.WithLabelValues(format).Observe(d.Seconds())
	}
}

func (m *Metrics) BatchItem(loaded bool) {
	if m == nil {
		return
	}
	result := "loaded"
	if !loaded {
		result = "failed"
	}
	m.batchItems.WithLabelValues(result).Inc()
}

// WriteText writes every family in the text exposition format.
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.Registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
