package analyzer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/blogscan/internal/hash/sha256"
	"github.com/JakeFAU/blogscan/internal/render"
)

const articleHTML = `<!doctype html>
<html>
<head>
<title> How to Choose a Skincare Routine </title>
<meta name="description" content="A practical guide.">
<meta name="author" content="Jane Doe">
<meta property="article:author" content="Jane Doe">
<script type="application/ld+json">{"@context":"https://schema.org","@graph":[{"@type":"Article"},{"@type":["BreadcrumbList","Thing"]}]}</script>
</head>
<body>
<nav>
Home About
</nav>
<article>
<h1>Hello World</h1>
<p>one two three four five</p>
<a href="https://other.example/ref">source</a>
<a href="https://another.example/x">another</a>
<a href="/blog/next-post">next</a>
<a href="mailto:someone@example.com">mail</a>
</article>
<script>var ignored = "not words";</script>
<footer>
copyright notice
</footer>
</body>
</html>`

func TestAnalyzeExtractsPageFacts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	a := New(Config{Timeout: 2 * time.Second}, nil, nil)
	res, err := a.Analyze(context.Background(), srv.URL+"/blog/how-to-choose")
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "How to Choose a Skincare Routine", res.Title)
	require.Equal(t, "A practical guide.", res.Description)
	require.Equal(t, []string{"Jane Doe"}, res.Authors)
	require.True(t, res.HasStructuredData)
	require.Equal(t, []string{"Article", "BreadcrumbList", "Thing"}, res.StructuredTypes)
	require.Equal(t, 2, res.OutboundCitations)
	require.Equal(t, 1, res.InternalLinks)
	require.Equal(t, 11, res.WordCount)
	require.Equal(t, sha256.Text("Hello World one two three four five source another next mail"), res.ContentHash)

	again, err := a.Analyze(context.Background(), srv.URL+"/blog/how-to-choose")
	require.NoError(t, err, "the same URL can be analyzed twice")
	require.Equal(t, res.Title, again.Title)
}

func TestAnalyzeReportsHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New(Config{}, nil, nil).Analyze(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
}

func TestAnalyzeHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 5 * time.Second}, nil, nil).Analyze(ctx, srv.URL)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestAnalyzeCancelsInFlightRequest(t *testing.T) {
	t.Parallel()

	released := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(released)
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 5 * time.Second}, nil, nil).Analyze(ctx, srv.URL)
	require.Error(t, err)

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("request kept running after the context was canceled")
	}
}

type countingLimiter struct{ calls atomic.Int32 }

func (l *countingLimiter) Wait(context.Context, string) error {
	l.calls.Add(1)
	return nil
}

func TestAnalyzeWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><head><title>t</title></head><body>x</body></html>"))
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	_, err := New(Config{}, limiter, nil).Analyze(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, int32(1), limiter.calls.Load())
}

func TestAnalyzeRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil).Analyze(context.Background(), "not a url")
	require.Error(t, err)
}

func TestStructuredTypes(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"BlogPosting"}, structuredTypes([]byte(`{"@type":"BlogPosting"}`)))
	require.Equal(t, []string{"Person", "Organization"}, structuredTypes([]byte(`[{"@type":"Person"},{"@type":"Organization"}]`)))
	require.Nil(t, structuredTypes([]byte(`{not json`)))
}

type fakeRenderer struct {
	page  render.Page
	err   error
	calls atomic.Int32
}

func (f *fakeRenderer) Render(context.Context, string) (render.Page, error) {
	f.calls.Add(1)
	return f.page, f.err
}

func newShellServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Loading</title></head><body><div id="__next"></div></body></html>`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyzeRendersJavaScriptShells(t *testing.T) {
	t.Parallel()

	srv := newShellServer(t)
	renderer := &fakeRenderer{page: render.Page{
		URL:        srv.URL + "/blog/spa-post",
		StatusCode: http.StatusOK,
		HTML:       []byte(articleHTML),
	}}
	a := New(Config{Timeout: 2 * time.Second}, nil, nil, WithRenderer(renderer, render.NewHeuristic(0)))

	res, err := a.Analyze(context.Background(), srv.URL+"/blog/spa-post")
	require.NoError(t, err)
	require.True(t, res.Rendered)
	require.Equal(t, "How to Choose a Skincare Routine", res.Title)
	require.Equal(t, 11, res.WordCount)
	require.Equal(t, sha256.Text("Hello World one two three four five source another next mail"), res.ContentHash)
	require.Equal(t, 1, res.InternalLinks)
	require.Equal(t, int32(1), renderer.calls.Load())
}

func TestAnalyzeKeepsStaticResultWhenRenderFails(t *testing.T) {
	t.Parallel()

	srv := newShellServer(t)
	renderer := &fakeRenderer{err: errors.New("chrome not found")}
	a := New(Config{Timeout: 2 * time.Second}, nil, nil, WithRenderer(renderer, render.NewHeuristic(0)))

	res, err := a.Analyze(context.Background(), srv.URL)
	require.NoError(t, err)
	require.False(t, res.Rendered)
	require.Equal(t, "Loading", res.Title)
}

func TestAnalyzeSkipsRenderForStaticPages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	renderer := &fakeRenderer{}
	a := New(Config{Timeout: 2 * time.Second}, nil, nil, WithRenderer(renderer, render.NewHeuristic(100)))
	res, err := a.Analyze(context.Background(), srv.URL)
	require.NoError(t, err)
	require.False(t, res.Rendered)
	require.Zero(t, renderer.calls.Load())
}
