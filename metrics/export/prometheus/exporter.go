package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	sentra "github.com/sentra-auth/sentra"
	"github.com/sentra-auth/sentra/internal/metrics"
)

// Source is anything exposing engine metric snapshots; *sentra.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() sentra.MetricsSnapshot
	AuditDropped() uint64
}

// Collector adapts an engine's metric snapshot to the Prometheus
// collector contract. Register it with prometheus.MustRegister.
type Collector struct {
	source       Source
	descs        map[sentra.MetricID]*prometheus.Desc
	verifyDesc   *prometheus.Desc
	droppedDesc  *prometheus.Desc
	verifyBounds []float64
}

// NewCollector creates a Collector reading from source. namespace
// prefixes every metric name; it defaults to "sentra".
func NewCollector(source Source, namespace string) *Collector {
	if namespace == "" {
		namespace = "sentra"
	}

	descs := make(map[sentra.MetricID]*prometheus.Desc)
	for _, id := range metrics.IDs() {
		descs[id] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", id.Name()+"_total"),
			"Engine counter "+id.Name()+".",
			nil, nil,
		)
	}

	bounds := make([]float64, len(metrics.VerifyBuckets))
	for i, ms := range metrics.VerifyBuckets {
		bounds[i] = float64(ms) / 1000.0
	}

	return &Collector{
		source: source,
		descs:  descs,
		verifyDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "verify_duration_seconds"),
			"Access token verification latency.",
			nil, nil,
		),
		droppedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "audit_dropped_total"),
			"Audit events shed under dispatcher backpressure.",
			nil, nil,
		),
		verifyBounds: bounds,
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
	ch <- c.verifyDesc
	ch <- c.droppedDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.source.MetricsSnapshot()

	for id, desc := range c.descs {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(snapshot.Counters[id]))
	}

	ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(c.source.AuditDropped()))

	if len(snapshot.VerifyLatency) == 0 {
		return
	}
	buckets := make(map[float64]uint64, len(c.verifyBounds))
	var count uint64
	for i, bound := range c.verifyBounds {
		count += snapshot.VerifyLatency[i]
		buckets[bound] = count
	}
	count += snapshot.VerifyLatency[len(snapshot.VerifyLatency)-1]
	// Per-sample sums are not tracked; expose count and buckets only.
	ch <- prometheus.MustNewConstHistogram(c.verifyDesc, count, 0, buckets)
}
