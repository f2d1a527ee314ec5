// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package evaluator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status values of the entity evaluation counter.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPanic   = "panic"
)

// PropertiesEvaluated counts evaluated dynamic properties by result kind.
// Use RegisterMetrics to register this with a Prometheus registry.
var PropertiesEvaluated = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "propeval_properties_evaluated_total",
		Help: "Total number of evaluated dynamic properties",
	},
	[]string{"result"},
)

// EntitiesEvaluated counts evaluated entities by status.
// Use RegisterMetrics to register this with a Prometheus registry.
var EntitiesEvaluated = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "propeval_entities_evaluated_total",
		Help: "Total number of entities passed through the evaluator",
	},
	[]string{"status"},
)

// EntityDuration is the histogram of per-entity evaluation time.
// Use RegisterMetrics to register this with a Prometheus registry.
var EntityDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "propeval_entity_evaluation_duration_seconds",
		Help:    "Entity evaluation duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
)

// RegisterMetrics registers evaluator metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(PropertiesEvaluated)
	reg.MustRegister(EntitiesEvaluated)
	reg.MustRegister(EntityDuration)
}

func recordResults(results []Result) {
	for _, r := range results {
		PropertiesEvaluated.WithLabelValues(r.Kind.String()).Inc()
	}
}

func recordEntity(status string, d time.Duration) {
	EntitiesEvaluated.WithLabelValues(status).Inc()
	EntityDuration.Observe(d.Seconds())
}
