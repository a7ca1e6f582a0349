// Package sinks implements progress consumers: structured logging, Prometheus
// gauges and an in-memory table of the latest snapshot per batch.
package sinks
