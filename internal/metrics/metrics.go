// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pve_monitor"

var (
	// Coordinator metrics
	coordinatorUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "updates_total",
			Help:      "Total number of coordinator updates by kind and result",
		},
		[]string{"connection", "kind", "result"},
	)

	coordinatorUpdateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "update_duration_seconds",
			Help:      "Duration of coordinator fetches in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"connection", "kind"},
	)

	coordinatorsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "active",
			Help:      "Number of live coordinators by kind",
		},
		[]string{"connection", "kind"},
	)

	// Reconciler metrics
	reconcileChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "changes_total",
			Help:      "Total number of tracked resources added or removed",
		},
		[]string{"connection", "platform", "change"},
	)

	trackedResources = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "tracked_resources",
			Help:      "Number of resources tracked per platform",
		},
		[]string{"connection", "platform"},
	)

	// Action metrics
	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "dispatched_total",
			Help:      "Total number of guest actions by service and result",
		},
		[]string{"service", "result"},
	)

	// API metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	httpPanicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "panics_total",
			Help:      "Total number of recovered handler panics",
		},
	)
)

func init() {
	prometheus.MustRegister(
		coordinatorUpdatesTotal,
		coordinatorUpdateDuration,
		coordinatorsActive,
		reconcileChangesTotal,
		trackedResources,
		actionsTotal,
		httpRequestsTotal,
		httpRequestDuration,
		httpPanicsTotal,
	)
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordCoordinatorUpdate records one coordinator fetch.
func RecordCoordinatorUpdate(connection, kind string, duration time.Duration, err error) {
	coordinatorUpdatesTotal.WithLabelValues(connection, kind, result(err)).Inc()
	coordinatorUpdateDuration.WithLabelValues(connection, kind).Observe(duration.Seconds())
}

// CoordinatorStarted increments the live coordinator gauge.
func CoordinatorStarted(connection, kind string) {
	coordinatorsActive.WithLabelValues(connection, kind).Inc()
}

// CoordinatorStopped decrements the live coordinator gauge.
func CoordinatorStopped(connection, kind string) {
	coordinatorsActive.WithLabelValues(connection, kind).Dec()
}

// RecordReconcile records the outcome of one reconciliation pass.
func RecordReconcile(connection, platform string, added, removed, tracked int) {
	if added > 0 {
		reconcileChangesTotal.WithLabelValues(connection, platform, "added").Add(float64(added))
	}
	if removed > 0 {
		reconcileChangesTotal.WithLabelValues(connection, platform, "removed").Add(float64(removed))
	}
	trackedResources.WithLabelValues(connection, platform).Set(float64(tracked))
}

// ForgetConnection drops every series labelled with the connection.
func ForgetConnection(connection string) {
	labels := prometheus.Labels{"connection": connection}
	coordinatorUpdatesTotal.DeletePartialMatch(labels)
	coordinatorUpdateDuration.DeletePartialMatch(labels)
	coordinatorsActive.DeletePartialMatch(labels)
	reconcileChangesTotal.DeletePartialMatch(labels)
	trackedResources.DeletePartialMatch(labels)
}

// RecordAction records one dispatched guest action.
func RecordAction(service string, err error) {
	actionsTotal.WithLabelValues(service, result(err)).Inc()
}

// RecordRequest records one API request. route is the matched route pattern,
// not the raw path, to keep cardinality bounded.
func RecordRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordPanic counts a recovered handler panic.
func RecordPanic() {
	httpPanicsTotal.Inc()
}
