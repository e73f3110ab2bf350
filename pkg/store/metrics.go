package store

import (
	"context"
	"time"

	"github.com/tartfs/tartfs/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Metrics defines the telemetry interface for store operations.
type Metrics interface {
	telemetry.ComponentMetrics

	// RecordOperation records the duration and outcome of a store operation
	RecordOperation(ctx context.Context, op string, duration time.Duration, success bool)

	// RecordBytes records bytes moved by a read or write operation
	RecordBytes(ctx context.Context, op string, bytes int64)

	// RecordBlocksInserted records blocks inserted by a write split
	RecordBlocksInserted(ctx context.Context, count int64)

	// RecordBlocksReclaimed records blocks released by defragmentation
	RecordBlocksReclaimed(ctx context.Context, count int64)
}

// TelemetryMetrics implements Metrics using a telemetry backend.
type TelemetryMetrics struct {
	telemetry telemetry.Telemetry
}

// NewMetrics creates a store metrics recorder backed by the given
// telemetry instance.
func NewMetrics(tel telemetry.Telemetry) *TelemetryMetrics {
	return &TelemetryMetrics{telemetry: tel}
}

// RecordOperation records the duration and outcome of a store operation.
func (m *TelemetryMetrics) RecordOperation(ctx context.Context, op string, duration time.Duration, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrOperationType, op),
		attribute.Bool(telemetry.AttrSuccess, success),
	}
	m.telemetry.RecordHistogram(ctx, "store.operation.duration", duration.Seconds(), attrs...)
	m.telemetry.RecordCounter(ctx, "store.operation.count", 1, attrs...)
}

// RecordBytes records bytes moved by a read or write operation.
func (m *TelemetryMetrics) RecordBytes(ctx context.Context, op string, bytes int64) {
	m.telemetry.RecordCounter(ctx, "store.bytes", bytes,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrOperationType, op))
}

// RecordBlocksInserted records blocks inserted by a write split.
func (m *TelemetryMetrics) RecordBlocksInserted(ctx context.Context, count int64) {
	m.telemetry.RecordCounter(ctx, "store.blocks.inserted", count,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore))
}

// RecordBlocksReclaimed records blocks released by defragmentation.
func (m *TelemetryMetrics) RecordBlocksReclaimed(ctx context.Context, count int64) {
	m.telemetry.RecordCounter(ctx, "store.blocks.reclaimed", count,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentCompaction))
}

// Close releases resources held by the metrics recorder.
func (m *TelemetryMetrics) Close() error {
	return nil
}

// NoopMetrics implements Metrics with no-op operations.
type NoopMetrics struct{}

// NewNoopMetrics creates a metrics recorder that discards everything.
func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

// RecordOperation is a no-op.
func (m *NoopMetrics) RecordOperation(ctx context.Context, op string, duration time.Duration, success bool) {
}

// RecordBytes is a no-op.
func (m *NoopMetrics) RecordBytes(ctx context.Context, op string, bytes int64) {}

// RecordBlocksInserted is a no-op.
func (m *NoopMetrics) RecordBlocksInserted(ctx context.Context, count int64) {}

// RecordBlocksReclaimed is a no-op.
func (m *NoopMetrics) RecordBlocksReclaimed(ctx context.Context, count int64) {}

// Close is a no-op.
func (m *NoopMetrics) Close() error { return nil }

var (
	_ Metrics = (*TelemetryMetrics)(nil)
	_ Metrics = (*NoopMetrics)(nil)
)
