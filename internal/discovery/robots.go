package discovery

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogscan/internal/fetch"
)

var sitemapDirective = regexp.MustCompile(`(?im)^\s*sitemap\s*:\s*(\S+)`)

// declaredSitemaps returns the Sitemap: entries of base's robots.txt. A
// missing or broken robots.txt yields nil.
func declaredSitemaps(ctx context.Context, getter fetch.Getter, base *url.URL, logger *zap.Logger) []string {
	robotsURL := join(base, "/robots.txt")
	resp, err := getter.Fetch(ctx, robotsURL)
	if err != nil {
		logger.Debug("robots.txt unavailable", zap.String("url", robotsURL), zap.Error(err))
		return nil
	}

	var declared []string
	if data, perr := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body); perr == nil {
		declared = data.Sitemaps
	} else {
		logger.Debug("robots.txt parse failed; scanning lines", zap.String("url", robotsURL), zap.Error(perr))
	}
	if len(declared) == 0 {
		for _, m := range sitemapDirective.FindAllSubmatch(resp.Body, -1) {
			declared = append(declared, string(m[1]))
		}
	}

	out := make([]string, 0, len(declared))
	for _, loc := range declared {
		if abs, ok := resolve(base, strings.TrimSpace(loc)); ok {
			out = append(out, abs)
		}
	}
	return out
}
