package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/blogscan/internal/fetch"
	"github.com/JakeFAU/blogscan/internal/metrics"
)

// Defaults applied when Config fields are left zero.
const (
	DefaultSitemapConcurrency = 5
	DefaultMaxSitemapDepth    = 5
	DefaultLimit              = 100
)

// Config tunes an Engine.
type Config struct {
	SitemapConcurrency int
	MaxSitemapDepth    int
	DefaultLimit       int
}

type strategy interface {
	discover(ctx context.Context, base *url.URL) []CandidateDocument
}

type namedStrategy struct {
	source Source
	impl   strategy
}

// Engine runs the discovery strategies against a domain.
type Engine struct {
	strategies   []namedStrategy
	defaultLimit int
	logger       *zap.Logger
}

// NewEngine wires the sitemap, feed and html strategies around getter.
func NewEngine(getter fetch.Getter, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SitemapConcurrency <= 0 {
		cfg.SitemapConcurrency = DefaultSitemapConcurrency
	}
	if cfg.MaxSitemapDepth <= 0 {
		cfg.MaxSitemapDepth = DefaultMaxSitemapDepth
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	return &Engine{
		strategies: []namedStrategy{
			{SourceSitemap, &sitemapStrategy{
				getter:      getter,
				concurrency: cfg.SitemapConcurrency,
				maxDepth:    cfg.MaxSitemapDepth,
				logger:      logger,
			}},
			{SourceFeed, &feedStrategy{getter: getter, logger: logger}},
			{SourceHTML, &htmlStrategy{getter: getter, logger: logger}},
		},
		defaultLimit: cfg.DefaultLimit,
		logger:       logger,
	}
}

// Discover finds up to limit content URLs on domain. A non-positive limit uses
// the configured default. Only an unusable domain or a canceled context is
// returned as an error; a site with nothing to find yields a Result whose
// Error field explains why.
func (e *Engine) Discover(ctx context.Context, domain string, limit int) (Result, error) {
	base, err := NormalizeDomain(domain)
	if err != nil {
		return Result{}, err
	}
	if limit <= 0 {
		limit = e.defaultLimit
	}
	logger := e.logger.With(zap.String("site", base.String()))

	tried := make([]string, 0, len(e.strategies))
	for _, s := range e.strategies {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("discover %s: %w", base.Host, err)
		}
		docs := s.impl.discover(ctx, base)
		tried = append(tried, string(s.source))
		if len(docs) == 0 {
			metrics.ObserveStrategy(string(s.source), "empty")
			logger.Debug("discovery strategy found nothing", zap.String("strategy", string(s.source)))
			continue
		}
		metrics.ObserveStrategy(string(s.source), "hit")
		res := buildResult(docs, s.source, limit)
		metrics.ObserveDiscovered(string(res.Source), res.TotalFound)
		logger.Info("discovery complete",
			zap.String("source", string(res.Source)),
			zap.Int("total_found", res.TotalFound),
			zap.Int("returned", len(res.Posts)),
		)
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("discover %s: %w", base.Host, err)
	}
	logger.Info("discovery exhausted all strategies")
	return Result{
		Posts:  []CandidateDocument{},
		Source: SourceNone,
		Error: fmt.Sprintf("no content URLs found on %s (tried %s)",
			base.Host, strings.Join(tried, ", ")),
	}, nil
}

// Manual wraps a caller-supplied URL list as a Result. Blank entries are
// dropped, duplicates collapse to their first occurrence and no
// classification is applied.
func Manual(urls []string, limit int) Result {
	seen := make(map[string]struct{}, len(urls))
	docs := make([]CandidateDocument, 0, len(urls))
	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		docs = append(docs, CandidateDocument{URL: u})
	}
	total := len(docs)
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return Result{Posts: docs, TotalFound: total, Source: SourceManual}
}
