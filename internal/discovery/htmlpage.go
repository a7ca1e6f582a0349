package discovery

import (
	"bytes"
	"context"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogscan/internal/fetch"
)

var htmlSitemapPaths = []string{
	"/sitemap",
	"/sitemap.html",
	"/site-map",
	"/html-sitemap",
	"/archive",
}

type htmlStrategy struct {
	getter fetch.Getter
	logger *zap.Logger
}

func (s *htmlStrategy) discover(ctx context.Context, base *url.URL) []CandidateDocument {
	for _, path := range htmlSitemapPaths {
		if ctx.Err() != nil {
			return nil
		}
		pageURL := join(base, path)
		resp, err := s.getter.Fetch(ctx, pageURL)
		if err != nil {
			s.logger.Debug("html sitemap fetch failed", zap.String("url", pageURL), zap.Error(err))
			continue
		}
		pageBase := base
		if final, perr := url.Parse(resp.FinalURL); perr == nil && final.Host != "" {
			pageBase = final
		} else if page, perr := url.Parse(pageURL); perr == nil {
			pageBase = page
		}
		docs := selectContent(pageLinks(base, pageBase, resp.Body, s.logger))
		if len(docs) > 0 {
			return docs
		}
	}
	return nil
}

// pageLinks returns every same-site a[href] on the page, resolved against pageBase.
func pageLinks(site, pageBase *url.URL, body []byte, logger *zap.Logger) []CandidateDocument {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		logger.Debug("html parse failed", zap.Error(err))
		return nil
	}
	var docs []CandidateDocument
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		abs, ok := resolve(pageBase, href)
		if !ok {
			return
		}
		parsed, err := url.Parse(abs)
		if err != nil || !sameSite(parsed.Host, site.Host) {
			return
		}
		docs = append(docs, CandidateDocument{URL: abs})
	})
	return docs
}
