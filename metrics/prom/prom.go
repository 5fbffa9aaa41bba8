// Package prom exports Indexer metrics to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	mc, err := prom.NewCollector(reg)
//	ix := visualindex.New(visualindex.WithMetricsCollector(mc), ...)
//	prom.RegisterStats(reg, ix.Stats)
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/visualindex"
)

const namespace = "visualindex"

// Collector implements visualindex.MetricsCollector with Prometheus metrics.
type Collector struct {
	latency      *prometheus.HistogramVec
	operations   *prometheus.CounterVec
	deleted      prometheus.Counter
	purged       prometheus.Counter
	backpressure prometheus.Counter
}

var _ visualindex.MetricsCollector = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of indexer operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"op", "status"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Indexer operations by type and outcome.",
		}, []string{"op", "status"}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deleted_entries_total",
			Help:      "Entries marked as deleted.",
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_entries_total",
			Help:      "Deleted entries physically removed by purge.",
		}),
		backpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backpressure_events_total",
			Help:      "Submissions rejected because too many tasks were outstanding.",
		}),
	}
	for _, col := range []prometheus.Collector{c.latency, c.operations, c.deleted, c.purged, c.backpressure} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *Collector) observe(op string, d time.Duration, err error) {
	s := status(err)
	c.latency.WithLabelValues(op, s).Observe(d.Seconds())
	c.operations.WithLabelValues(op, s).Inc()
}

// RecordVectorize implements visualindex.MetricsCollector.
func (c *Collector) RecordVectorize(d time.Duration, err error) { c.observe("vectorize", d, err) }

// RecordInsert implements visualindex.MetricsCollector.
func (c *Collector) RecordInsert(d time.Duration, err error) { c.observe("insert", d, err) }

// RecordSearch implements visualindex.MetricsCollector.
func (c *Collector) RecordSearch(_ int, d time.Duration, err error) { c.observe("search", d, err) }

// RecordDelete implements visualindex.MetricsCollector.
func (c *Collector) RecordDelete(marked int, d time.Duration, err error) {
	c.observe("delete", d, err)
	c.deleted.Add(float64(marked))
}

// RecordPurge implements visualindex.MetricsCollector.
func (c *Collector) RecordPurge(removed int, d time.Duration, err error) {
	c.observe("purge", d, err)
	c.purged.Add(float64(removed))
}

// RecordBackpressure implements visualindex.MetricsCollector.
func (c *Collector) RecordBackpressure() { c.backpressure.Inc() }

// RegisterStats registers gauges that read index statistics on every
// scrape. Scrapes before the Indexer is ready report zero.
func RegisterStats(reg prometheus.Registerer, stats func() (visualindex.Stats, error)) error {
	gauge := func(name, help string, value func(visualindex.Stats) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 {
			s, err := stats()
			if err != nil {
				return 0
			}
			return float64(value(s))
		})
	}

	for _, g := range []prometheus.GaugeFunc{
		gauge("live_entries", "Entries visible to search.", func(s visualindex.Stats) int { return s.Live }),
		gauge("pending_purge_entries", "Deleted entries waiting for purge.", func(s visualindex.Stats) int { return s.PendingPurge }),
		gauge("largest_cell_entries", "Entries in the largest posting list.", func(s visualindex.Stats) int { return s.LargestCell }),
		gauge("outstanding_tasks", "Images submitted but not yet retrieved.", func(s visualindex.Stats) int { return s.Outstanding }),
	} {
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}
