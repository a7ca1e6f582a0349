// Package batch runs a worker over a URL list with bounded concurrency.
//
// URLs are processed in chunks of Options.Concurrency: every item of a chunk
// runs concurrently and the next chunk starts only once the whole chunk has
// resolved, so peak concurrency never exceeds the configured value. Each
// item is raced against Options.PerItemTimeout. Worker errors, panics and
// timeouts become per-item failures; nothing aborts the batch except the
// caller's context, and even then finished outcomes are returned.
package batch
