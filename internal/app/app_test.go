// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogscan/internal/app"
	"github.com/JakeFAU/blogscan/internal/archive"
	"github.com/JakeFAU/blogscan/internal/config"
	"github.com/JakeFAU/blogscan/internal/discovery"
	"github.com/JakeFAU/blogscan/internal/progress"
	"github.com/JakeFAU/blogscan/internal/store"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Fetch.HostRPS = 0
	cfg.Fetch.MaxAttempts = 1
	cfg.Fetch.Timeout = 2 * time.Second
	return cfg
}

func newBlogServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%[1]s/blog/first-post</loc><lastmod>2024-03-01</lastmod></url>
  <url><loc>%[1]s/about</loc></url>
</urlset>`, base)
	})
	mux.HandleFunc("/blog/first-post", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>First Post</title></head><body><p>hello there world</p></body></html>`)
	})
	srv := httptest.NewServer(mux)
	base = srv.URL
	t.Cleanup(srv.Close)
	return srv
}

func TestNewApp_Success(t *testing.T) {
	t.Parallel()

	a, err := app.NewApp(context.Background(), testConfig(t), zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	require.NotNil(t, a)
	defer a.Close()

	assert.NotNil(t, a.Logger())
	assert.NotNil(t, a.Discoverer())
	assert.NotNil(t, a.Worker())
	assert.NotNil(t, a.Emitter())
	assert.NotNil(t, a.ProgressReader())
	assert.Equal(t, 3, a.Config().Batch.Concurrency)
	assert.NotNil(t, a.Recorder())
	assert.Nil(t, a.History(), "history is disabled by default")
}

func TestNewApp_NilLoggerAndRegistry(t *testing.T) {
	t.Parallel()

	a, err := app.NewApp(context.Background(), testConfig(t), nil, nil)
	require.NoError(t, err)
	a.Close()
}

func TestNewApp_SeparateLimiters(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Fetch.HostRPS = 0.1
	cfg.Fetch.HostBurst = 1
	a, err := app.NewApp(context.Background(), cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	defer a.Close()

	discoveryLimiter, analysisLimiter := a.Limiters()
	require.NotSame(t, discoveryLimiter, analysisLimiter)

	const page = "https://blog.example.com/posts/one"
	require.NoError(t, discoveryLimiter.Wait(context.Background(), page))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, analysisLimiter.Wait(ctx, page), "discovery traffic must not spend analysis tokens")
}

func TestNewApp_DuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	first, err := app.NewApp(context.Background(), testConfig(t), zap.NewNop(), reg)
	require.NoError(t, err)
	defer first.Close()

	_, err = app.NewApp(context.Background(), testConfig(t), zap.NewNop(), reg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "prometheus progress sink")
}

func TestApp_DiscoverAndAnalyze(t *testing.T) {
	t.Parallel()

	srv := newBlogServer(t)
	a, err := app.NewApp(context.Background(), testConfig(t), zap.NewNop(), nil)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := a.Discoverer().Discover(ctx, srv.URL, 10)
	require.NoError(t, err)
	require.Equal(t, discovery.SourceSitemap, res.Source)
	require.Equal(t, []string{srv.URL + "/blog/first-post"}, res.URLs())

	page, err := a.Worker()(ctx, res.Posts[0].URL)
	require.NoError(t, err)
	require.Equal(t, "First Post", page.Title)
}

func TestApp_ProgressReachesReader(t *testing.T) {
	t.Parallel()

	a, err := app.NewApp(context.Background(), testConfig(t), zap.NewNop(), nil)
	require.NoError(t, err)

	id := uuid.New()
	a.Emitter().Emit(progress.Snapshot{
		BatchID:   id,
		TS:        time.Now(),
		Total:     2,
		Completed: 2,
		Done:      true,
	})
	a.Close()

	snap, ok := a.ProgressReader().Get(id)
	require.True(t, ok)
	require.True(t, snap.Done)
	require.Equal(t, 2, snap.Completed)
}

func TestNewApp_MemoryPersistence(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.History.Provider = "memory"
	cfg.Archive.Provider = "memory"
	cfg.Notify.Provider = "memory"
	a, err := app.NewApp(context.Background(), cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	defer a.Close()

	id := uuid.New()
	rec, err := a.Recorder().Record(context.Background(), archive.Report{
		ID:     id,
		Status: store.StatusCompleted,
	})
	require.NoError(t, err)
	require.Equal(t, "memory://batches/"+id.String()+".json", rec.ReportURI)

	require.NotNil(t, a.History())
	saved, err := a.History().GetBatch(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, saved.Status)
}

func TestNewApp_LocalArchiveAndSQLiteHistory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.History.Provider = "sqlite"
	cfg.History.SQLitePath = filepath.Join(dir, "history", "blogscan.db")
	cfg.Archive.Provider = "local"
	cfg.Archive.BaseDir = filepath.Join(dir, "reports")
	a, err := app.NewApp(context.Background(), cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	defer a.Close()

	id := uuid.New()
	rec, err := a.Recorder().Record(context.Background(), archive.Report{
		ID:          id,
		Domain:      "example.com",
		Status:      store.StatusFailed,
		SubmittedAt: time.Now().UTC(),
		FinishedAt:  time.Now().UTC(),
		Error:       "dns failure",
	})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, "reports", "batches", id.String()+".json"))

	saved, err := a.History().GetBatch(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, rec.ReportURI, saved.ReportURI)
	require.Equal(t, "dns failure", saved.Error)
}

func TestNewApp_PostgresHistoryRequiresDSN(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.History.Provider = "postgres"
	_, err := app.NewApp(context.Background(), cfg, zap.NewNop(), nil)
	require.ErrorContains(t, err, "postgres history init failed")
}
