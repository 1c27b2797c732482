package infrastructure

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// RuntimeMetrics publishes Go runtime statistics through OpenTelemetry.
type RuntimeMetrics struct {
	goRoutines    metric.Int64Gauge
	heapAlloc     metric.Int64Gauge
	heapSys       metric.Int64Gauge
	gcPause       metric.Float64Histogram
	processUptime metric.Float64Gauge
}

// NewRuntimeMetrics creates the runtime instruments.
func NewRuntimeMetrics(meter metric.Meter) (*RuntimeMetrics, error) {
	goRoutines, err := meter.Int64Gauge(
		"runtime_goroutines",
		metric.WithDescription("Number of active goroutines"),
	)
	if err != nil {
		return nil, err
	}

	heapAlloc, err := meter.Int64Gauge(
		"runtime_heap_alloc_bytes",
		metric.WithDescription("Bytes of allocated heap objects"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	heapSys, err := meter.Int64Gauge(
		"runtime_heap_sys_bytes",
		metric.WithDescription("Bytes of heap memory obtained from the OS"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	gcPause, err := meter.Float64Histogram(
		"runtime_gc_pause_seconds",
		metric.WithDescription("Garbage collection pause duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	processUptime, err := meter.Float64Gauge(
		"runtime_process_uptime_seconds",
		metric.WithDescription("Process uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &RuntimeMetrics{
		goRoutines:    goRoutines,
		heapAlloc:     heapAlloc,
		heapSys:       heapSys,
		gcPause:       gcPause,
		processUptime: processUptime,
	}, nil
}

// RuntimeStats holds one collection sample.
type RuntimeStats struct {
	GoRoutines  int64
	HeapAlloc   int64
	HeapSys     int64
	GCCount     uint32
	LastGCPause time.Duration
	Uptime      time.Duration
	Timestamp   time.Time
}

// Collect samples the runtime and records the instruments.
func (rm *RuntimeMetrics) Collect(ctx context.Context, startTime time.Time) *RuntimeStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := &RuntimeStats{
		GoRoutines:  int64(runtime.NumGoroutine()),
		HeapAlloc:   int64(memStats.HeapAlloc),
		HeapSys:     int64(memStats.HeapSys),
		GCCount:     memStats.NumGC,
		LastGCPause: time.Duration(memStats.PauseNs[(memStats.NumGC+255)%256]),
		Uptime:      time.Since(startTime),
		Timestamp:   time.Now(),
	}

	rm.goRoutines.Record(ctx, stats.GoRoutines)
	rm.heapAlloc.Record(ctx, stats.HeapAlloc)
	rm.heapSys.Record(ctx, stats.HeapSys)
	rm.processUptime.Record(ctx, stats.Uptime.Seconds())

	if stats.LastGCPause > 0 {
		rm.gcPause.Record(ctx, stats.LastGCPause.Seconds())
	}

	return stats
}

// RuntimeCollector samples runtime metrics on a fixed interval.
type RuntimeCollector struct {
	metrics   *RuntimeMetrics
	startTime time.Time
	interval  time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewRuntimeCollector creates a collector sampling every interval.
func NewRuntimeCollector(meter metric.Meter, interval time.Duration) (*RuntimeCollector, error) {
	metrics, err := NewRuntimeMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime metrics: %w", err)
	}

	return &RuntimeCollector{
		metrics:   metrics,
		startTime: time.Now(),
		interval:  interval,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start blocks collecting until the context is cancelled or Stop is called.
func (rc *RuntimeCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	rc.metrics.Collect(ctx, rc.startTime)

	for {
		select {
		case <-ticker.C:
			rc.metrics.Collect(ctx, rc.startTime)
		case <-rc.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the collector. Safe to call more than once.
func (rc *RuntimeCollector) Stop() {
	rc.stopOnce.Do(func() { close(rc.stopCh) })
}

// CurrentStats returns a fresh sample.
func (rc *RuntimeCollector) CurrentStats(ctx context.Context) *RuntimeStats {
	return rc.metrics.Collect(ctx, rc.startTime)
}
