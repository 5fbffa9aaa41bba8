package visualindex

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement it to integrate with a monitoring system; metrics/prom provides
// a Prometheus implementation.
type MetricsCollector interface {
	// RecordVectorize is called after each image has been vectorized.
	RecordVectorize(duration time.Duration, err error)

	// RecordInsert is called after each insert into the index.
	RecordInsert(duration time.Duration, err error)

	// RecordSearch is called after each search. k is the number of
	// requested results.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordDelete is called after each delete call with the number of
	// entries that were marked.
	RecordDelete(marked int, duration time.Duration, err error)

	// RecordPurge is called after each purge with the number of entries
	// that were physically removed.
	RecordPurge(removed int, duration time.Duration, err error)

	// RecordBackpressure is called whenever a submission is rejected
	// because the outstanding-task ceiling is reached.
	RecordBackpressure()
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordVectorize(time.Duration, error)   {}
func (NoopMetricsCollector) RecordInsert(time.Duration, error)      {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordDelete(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordPurge(int, time.Duration, error)  {}
func (NoopMetricsCollector) RecordBackpressure()                    {}

// BasicMetricsCollector keeps simple in-memory counters.
type BasicMetricsCollector struct {
	VectorizeCount      atomic.Int64
	VectorizeErrors     atomic.Int64
	VectorizeTotalNanos atomic.Int64
	InsertCount         atomic.Int64
	InsertErrors        atomic.Int64
	InsertTotalNanos    atomic.Int64
	SearchCount         atomic.Int64
	SearchErrors        atomic.Int64
	SearchTotalNanos    atomic.Int64
	DeleteCount         atomic.Int64
	DeleteMarked        atomic.Int64
	DeleteErrors        atomic.Int64
	PurgeCount          atomic.Int64
	PurgeRemoved        atomic.Int64
	PurgeErrors         atomic.Int64
	Backpressure        atomic.Int64
}

// RecordVectorize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordVectorize(duration time.Duration, err error) {
	b.VectorizeCount.Add(1)
	b.VectorizeTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.VectorizeErrors.Add(1)
	}
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(marked int, _ time.Duration, err error) {
	b.DeleteCount.Add(1)
	b.DeleteMarked.Add(int64(marked))
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordPurge implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPurge(removed int, _ time.Duration, err error) {
	b.PurgeCount.Add(1)
	b.PurgeRemoved.Add(int64(removed))
	if err != nil {
		b.PurgeErrors.Add(1)
	}
}

// RecordBackpressure implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBackpressure() {
	b.Backpressure.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		VectorizeCount:    b.VectorizeCount.Load(),
		VectorizeErrors:   b.VectorizeErrors.Load(),
		VectorizeAvgNanos: avg(b.VectorizeTotalNanos.Load(), b.VectorizeCount.Load()),
		InsertCount:       b.InsertCount.Load(),
		InsertErrors:      b.InsertErrors.Load(),
		InsertAvgNanos:    avg(b.InsertTotalNanos.Load(), b.InsertCount.Load()),
		SearchCount:       b.SearchCount.Load(),
		SearchErrors:      b.SearchErrors.Load(),
		SearchAvgNanos:    avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		DeleteCount:       b.DeleteCount.Load(),
		DeleteMarked:      b.DeleteMarked.Load(),
		DeleteErrors:      b.DeleteErrors.Load(),
		PurgeCount:        b.PurgeCount.Load(),
		PurgeRemoved:      b.PurgeRemoved.Load(),
		PurgeErrors:       b.PurgeErrors.Load(),
		Backpressure:      b.Backpressure.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	VectorizeCount    int64
	VectorizeErrors   int64
	VectorizeAvgNanos int64
	InsertCount       int64
	InsertErrors      int64
	InsertAvgNanos    int64
	SearchCount       int64
	SearchErrors      int64
	SearchAvgNanos    int64
	DeleteCount       int64
	DeleteMarked      int64
	DeleteErrors      int64
	PurgeCount        int64
	PurgeRemoved      int64
	PurgeErrors       int64
	Backpressure      int64
}
