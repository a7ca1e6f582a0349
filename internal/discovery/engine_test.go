package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/blogscan/internal/fetch"
)

// testSite serves fixed bodies per path and records every request. Bodies may
// contain {{base}}, replaced by the server URL at request time.
type testSite struct {
	srv    *httptest.Server
	mu     sync.Mutex
	hits   map[string]int
	routes map[string]string
}

func newTestSite(t *testing.T, routes map[string]string) *testSite {
	t.Helper()
	site := &testSite{hits: make(map[string]int), routes: routes}
	site.srv = httptest.NewServer(http.HandlerFunc(site.serve))
	t.Cleanup(site.srv.Close)
	return site
}

func (s *testSite) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	s.mu.Unlock()

	body, ok := s.routes[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch {
	case strings.HasSuffix(r.URL.Path, ".txt"):
		w.Header().Set("Content-Type", "text/plain")
	case strings.HasSuffix(r.URL.Path, ".xml"):
		w.Header().Set("Content-Type", "application/xml")
	case strings.HasPrefix(strings.TrimSpace(body), "<rss"):
		w.Header().Set("Content-Type", "application/rss+xml")
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	_, _ = w.Write([]byte(strings.ReplaceAll(body, "{{base}}", s.srv.URL)))
}

func (s *testSite) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func newTestEngine(cfg Config) *Engine {
	getter := fetch.New(fetch.Config{Timeout: 2 * time.Second, MaxAttempts: 1})
	return NewEngine(getter, cfg, nil)
}

func urlset(locs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, loc := range locs {
		fmt.Fprintf(&b, "<url><loc>{{base}}%s</loc></url>", loc)
	}
	b.WriteString(`</urlset>`)
	return b.String()
}

func sitemapIndex(locs ...string) string {
	var b strings.Builder
	b.WriteString(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, loc := range locs {
		fmt.Fprintf(&b, "<sitemap><loc>{{base}}%s</loc></sitemap>", loc)
	}
	b.WriteString(`</sitemapindex>`)
	return b.String()
}

func TestDiscoverFetchesRobotsDeclaredSitemap(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]string{
		"/robots.txt": "User-agent: *\nDisallow: /private\nSitemap: {{base}}/a.xml\n",
		"/a.xml":      urlset("/blog/declared-only-post", "/about"),
	})

	res, err := newTestEngine(Config{}).Discover(context.Background(), site.srv.URL, 10)
	require.NoError(t, err)
	require.Equal(t, 1, site.hitCount("/a.xml"))
	require.Equal(t, SourceSitemap, res.Source)
	require.Equal(t, 1, res.TotalFound)
	require.Equal(t, site.srv.URL+"/blog/declared-only-post", res.Posts[0].URL)
	require.Empty(t, res.Error)
}

func TestDiscoverFollowsSitemapIndexAndStopsOnSelfReference(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]string{
		"/sitemap.xml":      sitemapIndex("/sitemap.xml", "/post-sitemap.xml", "/nested/posts.xml"),
		"/post-sitemap.xml": urlset("/blog/one-post", "/blog/two-post"),
		"/nested/posts.xml": sitemapIndex("/sitemap.xml", "/nested/posts.xml", "/nested/more.xml"),
		"/nested/more.xml":  urlset("/blog/three-post", "/blog/one-post"),
	})

	done := make(chan struct{})
	var (
		res Result
		err error
	)
	go func() {
		defer close(done)
		res, err = newTestEngine(Config{}).Discover(context.Background(), site.srv.URL, 0)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("discovery did not terminate")
	}

	require.NoError(t, err)
	require.Equal(t, SourceSitemap, res.Source)
	require.Equal(t, 3, res.TotalFound)
	require.Equal(t, 1, site.hitCount("/sitemap.xml"))
	require.Equal(t, 1, site.hitCount("/post-sitemap.xml"))
	require.Equal(t, 1, site.hitCount("/nested/posts.xml"))
	require.Equal(t, 1, site.hitCount("/nested/more.xml"))
}

func TestDiscoverBoundsSitemapDepth(t *testing.T) {
	t.Parallel()

	routes := map[string]string{
		"/sitemap.xml": sitemapIndex("/chain-1.xml"),
	}
	for i := 1; i <= 20; i++ {
		routes[fmt.Sprintf("/chain-%d.xml", i)] = sitemapIndex(fmt.Sprintf("/chain-%d.xml", i+1))
	}
	site := newTestSite(t, routes)

	res, err := newTestEngine(Config{MaxSitemapDepth: 3}).Discover(context.Background(), site.srv.URL, 10)
	require.NoError(t, err)
	require.Equal(t, 1, site.hitCount("/chain-1.xml"))
	require.Equal(t, 1, site.hitCount("/chain-2.xml"))
	require.Zero(t, site.hitCount("/chain-3.xml"))
	require.Zero(t, site.hitCount("/chain-20.xml"))

	require.Equal(t, SourceNone, res.Source)
	require.Empty(t, res.Posts)
	require.Zero(t, res.TotalFound)
	require.NotEmpty(t, res.Error)
}

func TestDiscoverSortsAndLimitsSitemapPosts(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]string{
		"/sitemap.xml": `<urlset>
<url><loc>{{base}}/blog/undated-post</loc><priority>0.9</priority></url>
<url><loc>{{base}}/blog/older-post</loc><lastmod>2023-06-01</lastmod></url>
<url><loc>{{base}}/blog/newest-post</loc><lastmod>2024-06-01</lastmod></url>
<url><loc>{{base}}/blog/older-post</loc><lastmod>2025-01-01</lastmod></url>
<url><loc>{{base}}/tag/go</loc></url>
</urlset>`,
	})

	res, err := newTestEngine(Config{}).Discover(context.Background(), site.srv.URL, 2)
	require.NoError(t, err)
	require.Equal(t, 3, res.TotalFound)
	require.Len(t, res.Posts, 2)
	require.Equal(t, site.srv.URL+"/blog/newest-post", res.Posts[0].URL)
	require.Equal(t, site.srv.URL+"/blog/older-post", res.Posts[1].URL)
	require.Equal(t, 2023, res.Posts[1].LastModified.Year(), "first-seen metadata wins")
}

func TestDiscoverFallsBackToFeed(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]string{
		"/rss": `<rss version="2.0"><channel><title>Example</title>
<item><title>One</title><link>{{base}}/blog/feed-post-one</link><pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate></item>
<item><title>Two</title><link>{{base}}/blog/feed-post-two</link><pubDate>Tue, 02 Jan 2024 10:00:00 GMT</pubDate></item>
<item><title>About</title><link>{{base}}/about</link></item>
</channel></rss>`,
	})

	res, err := newTestEngine(Config{}).Discover(context.Background(), site.srv.URL, 10)
	require.NoError(t, err)
	require.Equal(t, SourceFeed, res.Source)
	require.Equal(t, 2, res.TotalFound)
	require.Equal(t, site.srv.URL+"/blog/feed-post-two", res.Posts[0].URL, "newest item first")
	require.NotNil(t, res.Posts[0].LastModified)
	require.Equal(t, 1, site.hitCount("/feed"))
	require.Zero(t, site.hitCount("/rss.xml"), "stops at the first productive feed")
}

func TestDiscoverSkipsSitemapWithoutContent(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]string{
		"/sitemap.xml": urlset("/about", "/logo.png", "/blog/", "/about"),
		"/rss": `<rss version="2.0"><channel><title>Example</title>
<item><title>One</title><link>{{base}}/blog/only-real-article</link></item>
</channel></rss>`,
	})

	res, err := newTestEngine(Config{}).Discover(context.Background(), site.srv.URL, 10)
	require.NoError(t, err)
	require.Equal(t, 1, site.hitCount("/sitemap.xml"))
	require.Equal(t, SourceFeed, res.Source, "a sitemap with no content URLs is not terminal")
	require.Equal(t, 1, res.TotalFound)
	require.Equal(t, []string{site.srv.URL + "/blog/only-real-article"}, res.URLs())
}

func TestDiscoverScansBrokenFeed(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]string{
		"/feed.xml": `<items><entry><link href="{{base}}/blog/atom-ish-entry"/></entry><entry><link>{{base}}/posts/plain-link</link></entry></items>`,
	})

	res, err := newTestEngine(Config{}).Discover(context.Background(), site.srv.URL, 10)
	require.NoError(t, err)
	require.Equal(t, SourceFeed, res.Source)
	require.ElementsMatch(t, []string{
		site.srv.URL + "/blog/atom-ish-entry",
		site.srv.URL + "/posts/plain-link",
	}, res.URLs())
}

func TestDiscoverFallsBackToHTMLSitemap(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]string{
		"/sitemap": `<html><body><ul>
<li><a href="/blog/first-post">1</a></li>
<li><a href="/blog/second-post">2</a></li>
<li><a href="2024/01/new-year-plans">3</a></li>
<li><a href="{{base}}/guides/getting-started/install-the-cli">4</a></li>
<li><a href="/about">5</a></li>
<li><a href="/contact">6</a></li>
<li><a href="/">7</a></li>
<li><a href="/blog/">8</a></li>
<li><a href="/tag/go">9</a></li>
<li><a href="/logo.png">10</a></li>
<li><a href="https://other.example/blog/elsewhere-post">11</a></li>
<li><a href="/privacy">12</a></li>
</ul></body></html>`,
	})

	res, err := newTestEngine(Config{}).Discover(context.Background(), site.srv.URL, 50)
	require.NoError(t, err)
	require.Equal(t, SourceHTML, res.Source)
	require.Equal(t, 4, res.TotalFound)
	require.Len(t, res.Posts, 4)
	require.Equal(t, []string{
		site.srv.URL + "/blog/first-post",
		site.srv.URL + "/blog/second-post",
		site.srv.URL + "/2024/01/new-year-plans",
		site.srv.URL + "/guides/getting-started/install-the-cli",
	}, res.URLs())
}

func TestDiscoverExhaustionIsNotAnError(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]string{})

	res, err := newTestEngine(Config{}).Discover(context.Background(), site.srv.URL, 10)
	require.NoError(t, err)
	require.Equal(t, SourceNone, res.Source)
	require.NotNil(t, res.Posts)
	require.Empty(t, res.Posts)
	require.Zero(t, res.TotalFound)
	require.Contains(t, res.Error, "sitemap, feed, html")
}

func TestDiscoverInvalidDomain(t *testing.T) {
	t.Parallel()

	_, err := newTestEngine(Config{}).Discover(context.Background(), "ftp://example.com", 10)
	require.True(t, errors.Is(err, ErrInvalidDomain))
}

func TestDiscoverCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestEngine(Config{}).Discover(ctx, "example.invalid", 10)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestManual(t *testing.T) {
	t.Parallel()

	res := Manual([]string{" https://a.example/x ", "", "https://a.example/x", "https://a.example/y", "https://a.example/z"}, 2)
	require.Equal(t, SourceManual, res.Source)
	require.Equal(t, 3, res.TotalFound)
	require.Equal(t, []string{"https://a.example/x", "https://a.example/y"}, res.URLs())
}
