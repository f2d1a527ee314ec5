// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package worker

import "github.com/prometheus/client_golang/prometheus"

// Outcome values of RequestsProcessed.
const (
	OutcomeDone   = "done"
	OutcomeFailed = "failed"
)

// RequestsProcessed counts queue requests by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var RequestsProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "propeval_queue_requests_total",
		Help: "Total number of evaluation requests processed from the queue",
	},
	[]string{"status"},
)

// RegisterMetrics registers worker metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(RequestsProcessed)
}
