// Package metrics provides metrics collection and reporting.
//
// This package implements a simple in-memory metrics collector for counters,
// gauges, and histograms, with snapshot and aggregation capabilities. The
// server's driver loop records per-verb latency histograms here when metrics
// are enabled.
package metrics
