// Package telemetry exposes Prometheus metrics for the rule engine and the
// HTTP API.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpm_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpm_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// Engine metrics
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpm_engine_passes_total",
			Help: "Total number of population passes",
		},
		[]string{"status"}, // status: ok, failed
	)

	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rpm_engine_pass_duration_seconds",
			Help:    "Duration of a full population pass",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	PassPatients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rpm_engine_pass_patients",
			Help: "Number of patients in the most recent pass",
		},
	)

	PatientFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpm_engine_patient_failures_total",
			Help: "Patient passes that did not complete",
		},
		[]string{"reason"}, // reason: timeout, error, panic
	)

	RuleEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpm_engine_rule_evaluations_total",
			Help: "Rule evaluations by metric and outcome",
		},
		[]string{"metric", "condition", "triggered"},
	)

	RuleFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpm_engine_rule_failures_total",
			Help: "Per-rule evaluation failures by stage",
		},
		[]string{"stage"}, // stage: fetch, evaluate, record, dispatch, panic
	)

	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpm_engine_actions_total",
			Help: "Triggered actions by kind and outcome",
		},
		[]string{"action", "outcome"}, // outcome: dispatched, suppressed, failed
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpm_events_published_total",
			Help: "Action events written to the event stream",
		},
		[]string{"event_type", "status"},
	)
)
