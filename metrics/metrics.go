// Package metrics exposes Prometheus metrics for siva readers.
//
// A Collector is passed to readers with siva.WithMetrics and registered like
// any other prometheus.Collector:
//
//	m := metrics.New("siva")
//	prometheus.MustRegister(m)
//	r := siva.NewReader(src, siva.WithMetrics(m))
//
// All methods are safe to call on a nil *Collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Traversal results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Collector records index traversals and content reads.
type Collector struct {
	traversals        *prometheus.CounterVec
	traversalDuration *prometheus.HistogramVec
	blocks            prometheus.Counter
	entries           prometheus.Counter
	integrityFailures prometheus.Counter
	contentReads      *prometheus.CounterVec
	contentBytes      prometheus.Counter
	checksumFailures  prometheus.Counter
}

// New creates a Collector whose metric names start with namespace.
func New(namespace string) *Collector {
	return &Collector{
		traversals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_traversals_total",
			Help:      "Total number of index traversals by policy and result",
		}, []string{"policy", "result"}),
		traversalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_traversal_duration_seconds",
			Help:      "Histogram of index traversal duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"policy"}),
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_blocks_read_total",
			Help:      "Total number of index blocks decoded",
		}),
		entries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_entries_read_total",
			Help:      "Total number of index entries decoded",
		}),
		integrityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_integrity_failures_total",
			Help:      "Total number of index blocks whose CRC32 did not match",
		}),
		contentReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_reads_total",
			Help:      "Total number of entry content reads by source",
		}, []string{"source"}),
		contentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_read_bytes_total",
			Help:      "Total bytes of entry content returned",
		}),
		checksumFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_checksum_failures_total",
			Help:      "Total number of entry reads whose content CRC32 did not match",
		}),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	if c == nil {
		return
	}
	for _, m := range c.collectors() {
		m.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c == nil {
		return
	}
	for _, m := range c.collectors() {
		m.Collect(ch)
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.traversals,
		c.traversalDuration,
		c.blocks,
		c.entries,
		c.integrityFailures,
		c.contentReads,
		c.contentBytes,
		c.checksumFailures,
	}
}

// ObserveBlock records one decoded block holding n entries.
func (c *Collector) ObserveBlock(n int) {
	if c == nil {
		return
	}
	c.blocks.Inc()
	c.entries.Add(float64(n))
}

// ObserveIntegrityFailure records a block whose CRC32 did not match.
func (c *Collector) ObserveIntegrityFailure() {
	if c == nil {
		return
	}
	c.integrityFailures.Inc()
}

// ObserveTraversal records a finished traversal.
func (c *Collector) ObserveTraversal(policy string, d time.Duration, err error) {
	if c == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	c.traversals.WithLabelValues(policy, result).Inc()
	c.traversalDuration.WithLabelValues(policy).Observe(d.Seconds())
}

// ObserveContentRead records an entry read served from source ("file" or
// "cache") returning n bytes.
func (c *Collector) ObserveContentRead(source string, n int) {
	if c == nil {
		return
	}
	c.contentReads.WithLabelValues(source).Inc()
	c.contentBytes.Add(float64(n))
}

// ObserveChecksumFailure records an entry whose content CRC32 did not match.
func (c *Collector) ObserveChecksumFailure() {
	if c == nil {
		return
	}
	c.checksumFailures.Inc()
}

var _ prometheus.Collector = (*Collector)(nil)
