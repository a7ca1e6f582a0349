// Package analyzer is the reference page analyzer used by the CLI and API. It
// collects a handful of structural facts about an article page; scoring them
// is left to callers.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogscan/internal/hash/sha256"
	"github.com/JakeFAU/blogscan/internal/render"
)

// PageAnalysis is what Analyze extracts from one page.
type PageAnalysis struct {
	URL               string        `json:"url"`
	StatusCode        int           `json:"status_code"`
	Title             string        `json:"title"`
	Description       string        `json:"description,omitempty"`
	WordCount         int           `json:"word_count"`
	Authors           []string      `json:"authors,omitempty"`
	HasStructuredData bool          `json:"has_structured_data"`
	StructuredTypes   []string      `json:"structured_types,omitempty"`
	OutboundCitations int           `json:"outbound_citations"`
	InternalLinks     int           `json:"internal_links"`
	Duration          time.Duration `json:"duration"`
	// ContentHash fingerprints the visible body text so syndicated copies of
	// a post can be matched across URLs.
	ContentHash string `json:"content_hash,omitempty"`
	// Rendered is set when the fields came from a headless browser render.
	Rendered bool `json:"rendered,omitempty"`
}

// Limiter throttles requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Renderer loads a page in a browser and returns the rendered document.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (render.Page, error)
}

// Detector decides whether a statically fetched page needs rendering.
type Detector interface {
	ShouldRender(status int, body []byte) bool
}

// Config controls collector behaviour.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithRenderer re-analyzes pages flagged by detector using renderer. Render
// failures fall back to the static analysis.
func WithRenderer(renderer Renderer, detector Detector) Option {
	return func(a *Analyzer) {
		a.renderer = renderer
		a.detector = detector
	}
}

// Analyzer fetches pages with colly and extracts a PageAnalysis.
type Analyzer struct {
	cfg      Config
	base     *colly.Collector
	limiter  Limiter
	renderer Renderer
	detector Detector
	logger   *zap.Logger
}

// New builds an Analyzer. limiter may be nil.
func New(cfg Config, limiter Limiter, logger *zap.Logger, opts ...Option) *Analyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	a := &Analyzer{cfg: cfg, base: c, limiter: limiter, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze fetches rawURL and extracts its PageAnalysis. It satisfies
// batch.Worker[PageAnalysis].
func (a *Analyzer) Analyze(ctx context.Context, rawURL string) (PageAnalysis, error) {
	page, err := url.Parse(rawURL)
	if err != nil || page.Host == "" {
		return PageAnalysis{}, fmt.Errorf("analyze %q: invalid url", rawURL)
	}
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, rawURL); err != nil {
			return PageAnalysis{}, fmt.Errorf("analyze %s: %w", rawURL, err)
		}
	}

	var (
		result   = PageAnalysis{URL: rawURL}
		body     []byte
		visitErr error
	)
	start := time.Now()
	collector := a.base.Clone()
	collector.Context = ctx
	collector.SetRequestTimeout(a.cfg.Timeout)
	collector.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		body = r.Body
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		visitErr = err
	})
	collector.OnHTML("html", func(e *colly.HTMLElement) {
		extract(e.DOM, e.Request.URL, &result)
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return PageAnalysis{}, fmt.Errorf("analyze %s: %w", rawURL, ctx.Err())
	case err := <-done:
		if err != nil {
			return PageAnalysis{}, fmt.Errorf("analyze %s: visit: %w", rawURL, err)
		}
		if visitErr != nil {
			return PageAnalysis{}, fmt.Errorf("analyze %s: %w", rawURL, visitErr)
		}
	}

	if a.renderer != nil && a.detector != nil && a.detector.ShouldRender(result.StatusCode, body) {
		rendered, err := a.analyzeRendered(ctx, rawURL, page)
		switch {
		case err == nil:
			result = rendered
		case ctx.Err() != nil:
			return PageAnalysis{}, fmt.Errorf("analyze %s: %w", rawURL, ctx.Err())
		default:
			a.logger.Warn("render failed, keeping static analysis",
				zap.String("url", rawURL),
				zap.Error(err),
			)
		}
	}

	result.Duration = time.Since(start)
	a.logger.Debug("page analyzed",
		zap.String("url", rawURL),
		zap.Int("status", result.StatusCode),
		zap.Int("words", result.WordCount),
		zap.Bool("rendered", result.Rendered),
	)
	return result, nil
}

func (a *Analyzer) analyzeRendered(ctx context.Context, rawURL string, page *url.URL) (PageAnalysis, error) {
	rendered, err := a.renderer.Render(ctx, rawURL)
	if err != nil {
		return PageAnalysis{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(rendered.HTML))
	if err != nil {
		return PageAnalysis{}, fmt.Errorf("parse rendered html: %w", err)
	}
	base := page
	if u, err := url.Parse(rendered.URL); err == nil && u.Host != "" {
		base = u
	}
	result := PageAnalysis{URL: rawURL, StatusCode: rendered.StatusCode, Rendered: true}
	extract(doc.Selection, base, &result)
	return result, nil
}

// extract fills result from the document rooted at root. base resolves
// relative links and decides which of them are internal.
func extract(root *goquery.Selection, base *url.URL, result *PageAnalysis) {
	seenAuthors := map[string]struct{}{}
	addAuthor := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, ok := seenAuthors[name]; ok {
			return
		}
		seenAuthors[name] = struct{}{}
		result.Authors = append(result.Authors, name)
	}

	result.Title = strings.TrimSpace(root.Find("head title").First().Text())
	if desc, ok := root.Find(`meta[name="description"]`).First().Attr("content"); ok {
		result.Description = strings.TrimSpace(desc)
	}
	root.Find(`meta[name="author"], meta[property="article:author"], [rel="author"]`).Each(func(_ int, s *goquery.Selection) {
		if content, ok := s.Attr("content"); ok && content != "" {
			addAuthor(content)
			return
		}
		addAuthor(s.Text())
	})
	root.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		types := structuredTypes([]byte(s.Text()))
		if len(types) == 0 {
			return
		}
		result.HasStructuredData = true
		result.StructuredTypes = append(result.StructuredTypes, types...)
	})

	body := root.Find("body").First().Clone()
	body.Find("script, style, noscript, nav, footer").Remove()
	text := body.Text()
	result.WordCount = len(strings.Fields(text))
	result.ContentHash = sha256.Text(text)

	host := strings.TrimPrefix(base.Hostname(), "www.")
	root.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		link := base.ResolveReference(ref)
		if link.Scheme != "http" && link.Scheme != "https" {
			return
		}
		if strings.EqualFold(strings.TrimPrefix(link.Hostname(), "www."), host) {
			result.InternalLinks++
			return
		}
		result.OutboundCitations++
	})
}

// structuredTypes returns the @type values declared in a JSON-LD block.
func structuredTypes(raw []byte) []string {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	var out []string
	var walk func(v any)
	walk = func(v any) {
		switch node := v.(type) {
		case []any:
			for _, item := range node {
				walk(item)
			}
		case map[string]any:
			switch t := node["@type"].(type) {
			case string:
				out = append(out, t)
			case []any:
				for _, item := range t {
					if s, ok := item.(string); ok {
						out = append(out, s)
					}
				}
			}
			if graph, ok := node["@graph"]; ok {
				walk(graph)
			}
		}
	}
	walk(doc)
	return out
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
