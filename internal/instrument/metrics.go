package instrument

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's collectors on their own registry.
type Metrics struct {
	Registry         *prometheus.Registry
	SpanDuration     *prometheus.HistogramVec
	ComputedFailures *prometheus.CounterVec
	SchemaOrphans    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		SpanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dyntables_span_duration_seconds",
				Help:    "Duration of traced operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source", "component", "action", "status"},
		),
		ComputedFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dyntables_computed_field_failures_total",
				Help: "Computed field values that degraded to null",
			},
			[]string{"kind"},
		),
		SchemaOrphans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dyntables_schema_orphans_total",
				Help: "Physical schema changes left without matching metadata",
			},
			[]string{"operation"},
		),
	}
}
