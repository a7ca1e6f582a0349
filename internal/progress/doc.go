// Package progress carries batch progress snapshots from the scheduler to
// whoever is watching. Emit never blocks the scheduler: snapshots are
// buffered, batched on a background goroutine and fanned out to sinks such as
// structured logs, Prometheus gauges or an in-memory latest-value table.
package progress
