package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DaemonMetrics holds operational metrics of the crawl loop.
type DaemonMetrics struct {
	cycles            metric.Int64Counter
	cycleDuration     metric.Float64Histogram
	serversTracked    metric.Int64Gauge
	changeEvents      metric.Int64Counter
	archiveOperations metric.Int64Counter
}

// NewDaemonMetrics creates the daemon metrics on the global meter provider.
func NewDaemonMetrics() (*DaemonMetrics, error) {
	return newDaemonMetricsWithProvider(otel.GetMeterProvider())
}

func newDaemonMetricsWithProvider(mp metric.MeterProvider) (*DaemonMetrics, error) {
	meter := mp.Meter("cmdb.daemon")

	cycles, err := meter.Int64Counter(
		"cmdb.daemon.cycles",
		metric.WithDescription("Number of crawl and reconcile cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	cycleDuration, err := meter.Float64Histogram(
		"cmdb.daemon.cycle.duration",
		metric.WithDescription("Duration of one crawl and reconcile cycle"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	serversTracked, err := meter.Int64Gauge(
		"cmdb.inventory.servers",
		metric.WithDescription("Servers seen by the last cycle"),
		metric.WithUnit("{server}"),
	)
	if err != nil {
		return nil, err
	}

	changeEvents, err := meter.Int64Counter(
		"cmdb.change_events",
		metric.WithDescription("Server changes written by reconciliation"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	archiveOperations, err := meter.Int64Counter(
		"cmdb.archive.operations",
		metric.WithDescription("Number of history archive operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		cycles:            cycles,
		cycleDuration:     cycleDuration,
		serversTracked:    serversTracked,
		changeEvents:      changeEvents,
		archiveOperations: archiveOperations,
	}, nil
}

// RecordCycle records a finished cycle with its status.
func (m *DaemonMetrics) RecordCycle(ctx context.Context, status string, durationSeconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.cycles.Add(ctx, 1, attrs)
	m.cycleDuration.Record(ctx, durationSeconds, attrs)
}

// RecordServersTracked records the number of servers in the last crawl.
func (m *DaemonMetrics) RecordServersTracked(ctx context.Context, count int64) {
	m.serversTracked.Record(ctx, count)
}

// RecordChangeEvents records count changes of one type.
func (m *DaemonMetrics) RecordChangeEvents(ctx context.Context, changeType string, count int) {
	if count == 0 {
		return
	}
	m.changeEvents.Add(ctx, int64(count),
		metric.WithAttributes(
			attribute.String("change.type", changeType),
		),
	)
}

// RecordArchiveOperation records an archive operation
func (m *DaemonMetrics) RecordArchiveOperation(ctx context.Context, operation string, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("status", "success"),
	}
	if err != nil {
		attrs[1] = attribute.String("status", "error")
	}

	m.archiveOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
}
