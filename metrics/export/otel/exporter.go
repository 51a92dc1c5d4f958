package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	sentra "github.com/sentra-auth/sentra"
	"github.com/sentra-auth/sentra/internal/metrics"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is anything exposing engine metric snapshots; *sentra.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() sentra.MetricsSnapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         sentra.MetricID
	instrument metric.Int64ObservableCounter
}

// Exporter registers observable counters on a meter and feeds them from
// engine snapshots during collection.
type Exporter struct {
	source       Source
	registration metric.Registration
	counters     []observedCounter
	auditDropped metric.Int64ObservableCounter
}

// NewExporter wires all engine counters onto meter under the
// "sentra_" prefix.
func NewExporter(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	ids := metrics.IDs()
	exporter := &Exporter{
		source:   source,
		counters: make([]observedCounter, 0, len(ids)),
	}
	observables := make([]metric.Observable, 0, len(ids)+1)

	for _, id := range ids {
		name := "sentra_" + id.Name() + "_total"
		ins, err := meter.Int64ObservableCounter(name, metric.WithDescription("Engine counter "+id.Name()+"."))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: id, instrument: ins})
		observables = append(observables, ins)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		"sentra_audit_dropped_total",
		metric.WithDescription("Audit events shed under dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, c := range exporter.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
		observer.ObserveInt64(exporter.auditDropped, int64(exporter.source.AuditDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	exporter.registration = registration
	return exporter, nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
