// The main package for the blogscan executable.
//
// Architecture overview:
//   - Discovery: internal/discovery normalizes a domain and tries, in order,
//     XML sitemaps (robots.txt declarations plus well-known paths, nested
//     indexes followed to a bounded depth), RSS/Atom feeds and HTML sitemap
//     pages. Candidate URLs are classified as articles or not, deduplicated,
//     sorted newest first and truncated.
//   - Fetching: every discovery request goes through internal/fetch, which
//     retries timeouts, connection failures, 429 and 5xx with jittered
//     exponential backoff (honoring Retry-After), decompresses gzip/deflate
//     bodies, converts HTML to UTF-8 and throttles per host.
//   - Batch analysis: internal/batch runs a worker per URL in sequential
//     chunks of bounded size, with a per-item timeout, panic recovery and a
//     progress snapshot per chunk. internal/analyzer is the colly-based worker
//     used by the CLI and the API. Pages that look like JavaScript shells can
//     be re-rendered in headless Chrome (internal/render).
//   - Recording: internal/archive writes each finished batch's report to a
//     blob store (local disk or GCS), its summary to a history store
//     (SQLite or Postgres) and a completion event to Pub/Sub.
//   - Plumbing: Viper loads config from file and BLOGSCAN_* env vars; zap
//     provides structured logging; Prometheus metrics are exported by the
//     API's /metrics route; progress snapshots fan out through a hub to log,
//     Prometheus and in-memory sinks.
package main

import (
	"github.com/JakeFAU/blogscan/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
