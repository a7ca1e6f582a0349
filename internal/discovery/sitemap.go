package discovery

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/blogscan/internal/fetch"
)

// wellKnownSitemaps are probed on every site in addition to robots.txt declarations.
var wellKnownSitemaps = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/wp-sitemap.xml",
	"/post-sitemap.xml",
	"/blog-sitemap.xml",
	"/sitemap-posts.xml",
	"/blog/sitemap.xml",
	"/sitemap_blogs_1.xml",
	"/sitemap.xml.gz",
}

type sitemapStrategy struct {
	getter      fetch.Getter
	concurrency int
	maxDepth    int
	logger      *zap.Logger
}

// sitemapPage is what one fetched sitemap document contributed.
type sitemapPage struct {
	docs   []CandidateDocument
	nested []string
}

func (s *sitemapStrategy) candidates(ctx context.Context, base *url.URL) []string {
	declared := declaredSitemaps(ctx, s.getter, base, s.logger)
	out := make([]string, 0, len(declared)+len(wellKnownSitemaps))
	seen := make(map[string]struct{}, cap(out))
	add := func(u string) {
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	for _, u := range declared {
		add(u)
	}
	for _, p := range wellKnownSitemaps {
		add(join(base, p))
	}
	return out
}

// discover walks the sitemap graph breadth-first. Each level is fetched under
// the concurrency cap; nested sitemaps feed the next level until maxDepth.
// The collected locations are deduplicated and classified before returning.
func (s *sitemapStrategy) discover(ctx context.Context, base *url.URL) []CandidateDocument {
	level := s.candidates(ctx, base)
	visited := make(map[string]struct{}, len(level))
	var all []CandidateDocument

	for depth := 0; len(level) > 0; depth++ {
		if depth >= s.maxDepth {
			s.logger.Warn("sitemap nesting exceeds max depth; not following further",
				zap.String("site", base.Host),
				zap.Int("max_depth", s.maxDepth),
				zap.Int("skipped", len(level)),
			)
			break
		}
		for _, u := range level {
			visited[u] = struct{}{}
		}

		pages := s.fetchLevel(ctx, level)

		var next []string
		for _, page := range pages {
			all = append(all, page.docs...)
			for _, n := range page.nested {
				if _, seen := visited[n]; seen {
					continue
				}
				visited[n] = struct{}{}
				next = append(next, n)
			}
		}
		level = next
		if ctx.Err() != nil {
			break
		}
	}
	return selectContent(all)
}

func (s *sitemapStrategy) fetchLevel(ctx context.Context, urls []string) []sitemapPage {
	pages := make([]sitemapPage, len(urls))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, u := range urls {
		g.Go(func() error {
			page, ok := s.fetchOne(ctx, u)
			if ok {
				pages[i] = page
			}
			return nil
		})
	}
	_ = g.Wait()
	return pages
}

func (s *sitemapStrategy) fetchOne(ctx context.Context, sitemapURL string) (sitemapPage, bool) {
	resp, err := s.getter.Fetch(ctx, sitemapURL)
	if err != nil {
		s.logger.Debug("sitemap fetch failed", zap.String("url", sitemapURL), zap.Error(err))
		return sitemapPage{}, false
	}
	page, err := parseSitemap(resp.Body)
	if err != nil {
		s.logger.Debug("strict sitemap parse failed; scanning for <loc>",
			zap.String("url", sitemapURL), zap.Error(err))
		page = scanLocs(resp.Body)
	}
	return page, true
}

type xmlSitemapDocument struct {
	XMLName  xml.Name
	URLs     []xmlSitemapURL `xml:"url"`
	Sitemaps []xmlSitemapRef `xml:"sitemap"`
}

type xmlSitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

type xmlSitemapRef struct {
	Loc string `xml:"loc"`
}

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// parseSitemap decodes a <urlset> or <sitemapindex> document.
func parseSitemap(body []byte) (sitemapPage, error) {
	dec := xml.NewDecoder(bytes.NewReader(bytes.TrimPrefix(body, utf8BOM)))
	dec.CharsetReader = charset.NewReaderLabel
	var doc xmlSitemapDocument
	if err := dec.Decode(&doc); err != nil {
		return sitemapPage{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	var page sitemapPage
	switch doc.XMLName.Local {
	case "urlset":
		for _, u := range doc.URLs {
			loc := strings.TrimSpace(u.Loc)
			if loc == "" {
				continue
			}
			page.docs = append(page.docs, CandidateDocument{
				URL:             loc,
				LastModified:    parseLastMod(u.LastMod),
				Priority:        parsePriority(u.Priority),
				ChangeFrequency: strings.ToLower(strings.TrimSpace(u.ChangeFreq)),
			})
		}
	case "sitemapindex":
		for _, ref := range doc.Sitemaps {
			if loc := strings.TrimSpace(ref.Loc); loc != "" {
				page.nested = append(page.nested, loc)
			}
		}
	default:
		return sitemapPage{}, fmt.Errorf("%w: unexpected root element <%s>", ErrParse, doc.XMLName.Local)
	}
	return page, nil
}

var locTag = regexp.MustCompile(`(?is)<loc>\s*(?:<!\[CDATA\[)?\s*(.*?)\s*(?:\]\]>)?\s*</loc>`)

// scanLocs extracts every <loc> value from a document the strict parser
// rejected. Locations that look like sitemaps are treated as nested.
func scanLocs(body []byte) sitemapPage {
	var page sitemapPage
	for _, m := range locTag.FindAllSubmatch(body, -1) {
		loc := strings.TrimSpace(html.UnescapeString(string(m[1])))
		if loc == "" {
			continue
		}
		if looksLikeSitemap(loc) {
			page.nested = append(page.nested, loc)
			continue
		}
		page.docs = append(page.docs, CandidateDocument{URL: loc})
	}
	return page
}

func looksLikeSitemap(loc string) bool {
	lower := strings.ToLower(loc)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	return strings.HasSuffix(lower, ".xml") || strings.HasSuffix(lower, ".xml.gz")
}

var lastModLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
	time.RFC1123Z,
	time.RFC1123,
}

func parseLastMod(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range lastModLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func parsePriority(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	p, err := strconv.ParseFloat(raw, 64)
	if err != nil || p < 0 || p > 1 {
		return nil
	}
	return &p
}
