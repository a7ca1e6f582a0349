package fetch

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(ctx context.Context, delay time.Duration) error {
	p.mu.Lock()
	p.delays = append(p.delays, delay)
	p.mu.Unlock()
	return ctx.Err()
}

func (p *recordingPauser) recorded() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.delays...)
}

func newTestFetcher(p pauser, cfg Config) *Fetcher {
	return New(cfg, withPauser(p))
}

func TestFetchRetriesServerErrorsUpToMaxAttempts(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	pauser := &recordingPauser{}
	f := newTestFetcher(pauser, Config{})

	_, err := f.Fetch(context.Background(), srv.URL+"/sitemap.xml")
	require.Error(t, err)
	require.Equal(t, int32(3), hits.Load())

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	require.Equal(t, http.StatusServiceUnavailable, netErr.StatusCode)
	require.Equal(t, 3, netErr.Attempts)
	require.Len(t, pauser.recorded(), 2)
	for _, d := range pauser.recorded() {
		require.LessOrEqual(t, d, DefaultBackoffMax)
	}
}

func TestFetchHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	pauser := &recordingPauser{}
	f := newTestFetcher(pauser, Config{})

	resp, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "ok", string(resp.Body))
	require.Equal(t, 2, resp.Attempts)
	require.Equal(t, []time.Duration{2 * time.Second}, pauser.recorded())
}

func TestFetchCapsRetryAfter(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "3600")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pauser := &recordingPauser{}
	f := newTestFetcher(pauser, Config{MaxRetryAfter: 7 * time.Second})

	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{7 * time.Second}, pauser.recorded())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	pauser := &recordingPauser{}
	f := newTestFetcher(pauser, Config{})

	_, err := f.Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	require.True(t, IsNotFound(err))
	require.True(t, errors.Is(err, ErrUnexpectedStatus))
	require.Equal(t, int32(1), hits.Load())
	require.Empty(t, pauser.recorded())
}

func TestFetchRetriesAttemptTimeout(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = w.Write([]byte("late but fine"))
	}))
	defer srv.Close()

	pauser := &recordingPauser{}
	f := newTestFetcher(pauser, Config{Timeout: 50 * time.Millisecond})

	resp, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "late but fine", string(resp.Body))
	require.Equal(t, 2, resp.Attempts)
}

func TestFetchStopsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(Config{})
	start := time.Now()
	_, err := f.Fetch(ctx, srv.URL)
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
}

func TestFetchDecodesGzipContentEncoding(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write(gzipBytes(t, "<urlset></urlset>"))
	}))
	defer srv.Close()

	resp, err := New(Config{}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "<urlset></urlset>", string(resp.Body))
}

func TestFetchDecodesGzipSuffixedURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(gzipBytes(t, "<urlset><url><loc>x</loc></url></urlset>"))
	}))
	defer srv.Close()

	resp, err := New(Config{}).Fetch(context.Background(), srv.URL+"/sitemap.xml.gz")
	require.NoError(t, err)
	require.Contains(t, string(resp.Body), "<loc>x</loc>")
}

func TestFetchDecodesDeflate(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write([]byte("deflated body"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Encoding", "deflate")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	resp, err := New(Config{}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "deflated body", string(resp.Body))
}

func TestFetchConvertsHTMLCharset(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte("<p>caf\xe9</p>"))
	}))
	defer srv.Close()

	resp, err := New(Config{}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "<p>café</p>", string(resp.Body))
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("a"), 2048))
	}))
	defer srv.Close()

	pauser := &recordingPauser{}
	_, err := newTestFetcher(pauser, Config{MaxBodyBytes: 1024}).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBodyTooLarge))
	require.Empty(t, pauser.recorded())
}

type countingLimiter struct {
	calls atomic.Int32
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.calls.Add(1)
	return nil
}

func TestFetchConsultsLimiterEachAttempt(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	f := New(Config{}, withPauser(&recordingPauser{}), WithLimiter(limiter))
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.Equal(t, int32(3), limiter.calls.Load())
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
