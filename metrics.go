package walbuf

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/walbuf/flusher"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    appendBytes   prometheus.Counter
//	    flushDuration prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordFlush(records int, duration time.Duration, err error) {
//	    p.flushDuration.Observe(duration.Seconds())
//	}
type MetricsCollector interface {
	// RecordAppend is called after each append. bytes is the payload size.
	RecordAppend(bytes int, duration time.Duration, err error)

	// RecordFlush is called after each flush attempt, background or explicit.
	RecordFlush(records int, duration time.Duration, err error)

	// RecordBackpressure is called when an append has to wait for pending budget.
	RecordBackpressure(bytes int64)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAppend(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordFlush(int, time.Duration, error)  {}
func (NoopMetricsCollector) RecordBackpressure(int64)               {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	AppendCount      atomic.Int64
	AppendErrors     atomic.Int64
	AppendBytes      atomic.Int64
	FlushCount       atomic.Int64
	FlushErrors      atomic.Int64
	FlushRecords     atomic.Int64
	FlushTotalNanos  atomic.Int64
	BackpressureHits atomic.Int64
}

// RecordAppend implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAppend(bytes int, _ time.Duration, err error) {
	b.AppendCount.Add(1)
	if err != nil {
		b.AppendErrors.Add(1)
		return
	}
	b.AppendBytes.Add(int64(bytes))
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(records int, duration time.Duration, err error) {
	b.FlushCount.Add(1)
	b.FlushRecords.Add(int64(records))
	b.FlushTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FlushErrors.Add(1)
	}
}

// RecordBackpressure implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBackpressure(int64) {
	b.BackpressureHits.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	stats := BasicMetricsStats{
		AppendCount:      b.AppendCount.Load(),
		AppendErrors:     b.AppendErrors.Load(),
		AppendBytes:      b.AppendBytes.Load(),
		FlushCount:       b.FlushCount.Load(),
		FlushErrors:      b.FlushErrors.Load(),
		FlushRecords:     b.FlushRecords.Load(),
		BackpressureHits: b.BackpressureHits.Load(),
	}
	if stats.FlushCount > 0 {
		stats.FlushAvgNanos = b.FlushTotalNanos.Load() / stats.FlushCount
	}
	return stats
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AppendCount      int64
	AppendErrors     int64
	AppendBytes      int64
	FlushCount       int64
	FlushErrors      int64
	FlushRecords     int64
	FlushAvgNanos    int64
	BackpressureHits int64
}

// metricsObserver forwards flusher events to a MetricsCollector and an optional
// user observer.
type metricsObserver struct {
	metrics MetricsCollector
	next    flusher.Observer
}

func (m metricsObserver) OnFlush(duration time.Duration, records int, err error) {
	m.metrics.RecordFlush(records, duration, err)
	m.next.OnFlush(duration, records, err)
}

func (m metricsObserver) OnPending(count int, bytes int64) {
	m.next.OnPending(count, bytes)
}
