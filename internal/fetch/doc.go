// Package fetch implements the retrying HTTP fetcher shared by every discovery
// strategy. It applies a per-attempt timeout, retries transient failures with
// jittered exponential backoff (or a server supplied Retry-After), enforces
// per-host politeness, and hands callers decompressed, UTF-8 bodies.
package fetch
