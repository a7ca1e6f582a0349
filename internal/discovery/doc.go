// Package discovery locates the article URLs a site publishes.
//
// An Engine tries three strategies in order and stops at the first one that
// yields at least one content URL:
//
//   - sitemap: robots.txt declarations plus well-known sitemap paths, with
//     sitemap indexes followed up to a fixed depth
//   - feed: well-known RSS/Atom/JSON feed paths
//   - html: human-facing sitemap and archive pages
//
// Every candidate passes through IsContentURL, a structural classifier that
// separates posts from hubs, utility pages and static assets. Strategy
// failures are absorbed; only exhaustion of all strategies is reported, and
// then as Result.Error rather than a returned error.
package discovery
