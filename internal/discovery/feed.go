package discovery

import (
	"bytes"
	"context"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogscan/internal/fetch"
)

var feedPaths = []string{
	"/feed",
	"/rss",
	"/rss.xml",
	"/feed.xml",
	"/atom.xml",
	"/index.xml",
	"/blog/feed",
	"/blog/rss.xml",
}

type feedStrategy struct {
	getter fetch.Getter
	logger *zap.Logger
}

// discover returns the classified posts of the first feed that has any.
func (s *feedStrategy) discover(ctx context.Context, base *url.URL) []CandidateDocument {
	for _, path := range feedPaths {
		if ctx.Err() != nil {
			return nil
		}
		feedURL := join(base, path)
		resp, err := s.getter.Fetch(ctx, feedURL)
		if err != nil {
			s.logger.Debug("feed fetch failed", zap.String("url", feedURL), zap.Error(err))
			continue
		}
		docs := selectContent(feedDocuments(base, resp.Body, s.logger))
		if len(docs) > 0 {
			return docs
		}
	}
	return nil
}

func feedDocuments(base *url.URL, body []byte, logger *zap.Logger) []CandidateDocument {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		logger.Debug("feed parse failed; scanning for links", zap.Error(err))
		return scanFeedLinks(base, body)
	}

	docs := make([]CandidateDocument, 0, len(feed.Items))
	for _, item := range feed.Items {
		link := item.Link
		if link == "" && len(item.Links) > 0 {
			link = item.Links[0]
		}
		abs, ok := resolve(base, link)
		if !ok {
			continue
		}
		doc := CandidateDocument{URL: abs}
		switch {
		case item.PublishedParsed != nil:
			t := item.PublishedParsed.UTC()
			doc.LastModified = &t
		case item.UpdatedParsed != nil:
			t := item.UpdatedParsed.UTC()
			doc.LastModified = &t
		}
		docs = append(docs, doc)
	}
	return docs
}

var (
	feedLinkText = regexp.MustCompile(`(?is)<link[^>]*>\s*(?:<!\[CDATA\[)?\s*([^<\s\]]+)\s*(?:\]\]>)?\s*</link>`)
	feedLinkHref = regexp.MustCompile(`(?i)<link[^>]*\shref\s*=\s*["']([^"']+)["']`)
)

func scanFeedLinks(base *url.URL, body []byte) []CandidateDocument {
	var docs []CandidateDocument
	for _, re := range []*regexp.Regexp{feedLinkText, feedLinkHref} {
		for _, m := range re.FindAllSubmatch(body, -1) {
			ref := strings.TrimSpace(html.UnescapeString(string(m[1])))
			if abs, ok := resolve(base, ref); ok {
				docs = append(docs, CandidateDocument{URL: abs})
			}
		}
	}
	return docs
}
