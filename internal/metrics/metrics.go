// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TelemetryAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "oilfleet",
		Name:      "telemetry_accepted_total",
		Help:      "Telemetry samples persisted.",
	})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oilfleet",
		Name:      "status_transitions_total",
		Help:      "Device status changes caused by telemetry.",
	}, []string{"from", "to"})

	Receipts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oilfleet",
		Name:      "receipts_total",
		Help:      "Dispense receipts by outcome (created, updated).",
	}, []string{"outcome"})

	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oilfleet",
		Name:      "alerts_total",
		Help:      "Alerts raised by type and delivery result (sent, suppressed, failed).",
	}, []string{"type", "result"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oilfleet",
		Name:      "rate_limited_total",
		Help:      "Device calls rejected by the rate limiter.",
	}, []string{"operation"})

	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "oilfleet",
		Name:      "device_auth_failures_total",
		Help:      "Device requests rejected as unauthorized.",
	})

	BackgroundFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oilfleet",
		Name:      "background_failures_total",
		Help:      "Fire-and-forget tasks that failed.",
	}, []string{"task"})

	BackgroundInline = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oilfleet",
		Name:      "background_inline_total",
		Help:      "Tasks run on the request goroutine because the queue stayed full.",
	}, []string{"task"})
)
