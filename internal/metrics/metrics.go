// Package metrics holds Prometheus instruments used across the service.  All
// collectors are registered with the global registry, so importing this
// package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ScansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qrelay_scans_total",
			Help: "Cumulative number of successful code resolutions.",
		})

	ResolveErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrelay_resolve_errors_total",
			Help: "Resolutions that did not produce a redirect, by kind.",
		}, []string{"kind"}) // not_found, disabled, unavailable

	EntriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qrelay_entries",
			Help: "Number of entries currently held in the registry.",
		})

	TelemetryFlushTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qrelay_telemetry_flush_total",
			Help: "Cumulative number of telemetry flush cycles.",
		})

	TelemetryDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qrelay_telemetry_dropped_total",
			Help: "Scan increments dropped because the entry no longer exists.",
		})

	StoreWriteSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qrelay_store_write_seconds",
			Help:    "Durability write latency of the registry store.",
			Buckets: prometheus.DefBuckets,
		})

	WorkerRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qrelay_worker_restarts_total",
			Help: "Times the supervisor restarted the worker process.",
		})
)

func init() {
	prometheus.MustRegister(
		ScansTotal,
		ResolveErrorsTotal,
		EntriesTotal,
		TelemetryFlushTotal,
		TelemetryDroppedTotal,
		StoreWriteSeconds,
		WorkerRestartsTotal,
	)
}
