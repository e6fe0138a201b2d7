package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/BaSui01/catalogflow/federation"
)

const meterName = "github.com/BaSui01/catalogflow/federation"

// FederationObserver records federation events as OTel metrics. It reads
// the global MeterProvider, so it is a no-op until Init enables the SDK.
type FederationObserver struct {
	queries        metric.Int64Counter
	duration       metric.Float64Histogram
	sourceDuration metric.Float64Histogram
	sourceErrors   metric.Int64Counter
}

var _ federation.Observer = (*FederationObserver)(nil)

// NewFederationObserver creates the instruments on mp, or on the global
// MeterProvider when mp is nil.
func NewFederationObserver(mp metric.MeterProvider) (*FederationObserver, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	o := &FederationObserver{}
	var err error
	if o.queries, err = meter.Int64Counter("catalogflow.federation.queries",
		metric.WithDescription("Federated queries completed")); err != nil {
		return nil, fmt.Errorf("create queries counter: %w", err)
	}
	if o.duration, err = meter.Float64Histogram("catalogflow.federation.duration",
		metric.WithDescription("Federated query duration"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	if o.sourceDuration, err = meter.Float64Histogram("catalogflow.source.duration",
		metric.WithDescription("Per-source query duration"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create source duration histogram: %w", err)
	}
	if o.sourceErrors, err = meter.Int64Counter("catalogflow.source.errors",
		metric.WithDescription("Per-source failures and timeouts")); err != nil {
		return nil, fmt.Errorf("create source errors counter: %w", err)
	}
	return o, nil
}

// SourceCompleted implements federation.Observer.
func (o *FederationObserver) SourceCompleted(ev federation.SourceEvent) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("source", ev.SourceID),
		attribute.String("strategy", ev.Strategy),
	)
	o.sourceDuration.Record(ctx, ev.Elapsed.Seconds(), attrs)
	if ev.Err != nil || ev.TimedOut {
		o.sourceErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", ev.SourceID),
			attribute.Bool("timed_out", ev.TimedOut),
		))
	}
}

// FederationCompleted implements federation.Observer.
func (o *FederationObserver) FederationCompleted(ev federation.FederationEvent) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("strategy", ev.Strategy),
		attribute.Bool("partial", ev.Failed > 0),
	)
	o.queries.Add(ctx, 1, attrs)
	o.duration.Record(ctx, ev.Elapsed.Seconds(), attrs)
}
