// Package metrics defines the shared OTel instruments every component
// records against, and the single-sourced throughput metric function the
// spec's Open Question asked to be pinned explicitly. Instrument shape
// follows dag_engine.go's DAGEngine fields (a histogram, a handful of
// counters, one gauge) rather than inventing a new metrics surface per
// component.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Instruments bundles the coordinator-wide OTel instruments. A no-op Meter
// (from go.opentelemetry.io/otel/metric/noop) is safe for tests; a nil Meter
// is not.
type Instruments struct {
	TransferDuration   metric.Float64Histogram
	BoundarySelectDuration metric.Float64Histogram
	TransfersApplied   metric.Int64Counter
	TransfersFailed    metric.Int64Counter
	Rollbacks          metric.Int64Counter
	OptimizationsApplied metric.Int64Counter
	Throughput         metric.Float64Gauge
}

// New builds Instruments from meter, naming them consistently under a
// "wavecoord." prefix.
func New(meter metric.Meter) (*Instruments, error) {
	var err error
	in := &Instruments{}

	in.TransferDuration, err = meter.Float64Histogram("wavecoord.transfer.duration",
		metric.WithDescription("duration of a single work-stealing transfer attempt"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	in.BoundarySelectDuration, err = meter.Float64Histogram("wavecoord.boundary.select_duration",
		metric.WithDescription("duration of frontier boundary selection"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	in.TransfersApplied, err = meter.Int64Counter("wavecoord.transfers.applied",
		metric.WithDescription("count of successfully applied transfers"))
	if err != nil {
		return nil, err
	}

	in.TransfersFailed, err = meter.Int64Counter("wavecoord.transfers.failed",
		metric.WithDescription("count of failed transfer attempts"))
	if err != nil {
		return nil, err
	}

	in.Rollbacks, err = meter.Int64Counter("wavecoord.rollbacks",
		metric.WithDescription("count of rollback_executed events"))
	if err != nil {
		return nil, err
	}

	in.OptimizationsApplied, err = meter.Int64Counter("wavecoord.optimizations.applied",
		metric.WithDescription("count of auto- or manually-applied optimizations"))
	if err != nil {
		return nil, err
	}

	in.Throughput, err = meter.Float64Gauge("wavecoord.throughput",
		metric.WithDescription("current frontier throughput metric"))
	if err != nil {
		return nil, err
	}

	return in, nil
}

// Throughput is the metric function the Rolling Frontier Manager uses for
// its aggregate throughput and optimization trigger: parallelism over 10,
// clamped to 1. The Frontier Calculator computes the same formula inline
// for its Throughput sub-score.
func Throughput(parallelism int) float64 {
	t := float64(parallelism) / 10
	if t > 1 {
		return 1
	}
	return t
}

// RecordThroughput is a small helper so callers don't need to thread ctx
// through every call site by hand.
func RecordThroughput(ctx context.Context, in *Instruments, value float64, attrs ...metric.RecordOption) {
	if in == nil || in.Throughput == nil {
		return
	}
	in.Throughput.Record(ctx, value, attrs...)
}
