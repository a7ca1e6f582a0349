package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/blogscan/internal/metrics"
)

// Defaults applied when Config fields are left zero.
const (
	DefaultTimeout       = 10 * time.Second
	DefaultMaxAttempts   = 3
	DefaultBackoffBase   = time.Second
	DefaultBackoffMax    = 5 * time.Second
	DefaultMaxRetryAfter = 30 * time.Second
	DefaultMaxBodyBytes  = 10 << 20
	DefaultUserAgent     = "blogscan/1.0 (+https://github.com/JakeFAU/blogscan)"
)

// Config controls fetch behaviour.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	MaxRetryAfter time.Duration
	MaxBodyBytes  int64
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.MaxRetryAfter <= 0 {
		c.MaxRetryAfter = DefaultMaxRetryAfter
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return c
}

// Response is a fully read, decoded HTTP response.
type Response struct {
	URL        string
	FinalURL   string
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
	Duration   time.Duration
}

// HostLimiter throttles requests per host.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Getter is the contract discovery strategies depend on.
type Getter interface {
	Fetch(ctx context.Context, rawURL string) (Response, error)
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(f *Fetcher) {
		if policy != nil {
			f.retry = policy
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithLimiter installs a per-host politeness limiter.
func WithLimiter(limiter HostLimiter) Option {
	return func(f *Fetcher) {
		f.limiter = limiter
	}
}

func withPauser(p pauser) Option {
	return func(f *Fetcher) {
		f.pause = p
	}
}

// Fetcher performs GET requests with per-attempt timeouts and retries.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	retry   RetryPolicy
	limiter HostLimiter
	pause   pauser
	logger  *zap.Logger
	now     func() time.Time
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	cfg = cfg.withDefaults()
	f := &Fetcher{
		cfg:    cfg,
		client: &http.Client{Transport: newHTTPTransport()},
		retry:  NewExponentialRetryPolicy(cfg.MaxAttempts, cfg.BackoffBase, cfg.BackoffMax),
		pause:  timerPauser{},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch GETs rawURL, retrying transient failures. Non-2xx responses and
// exhausted attempts are reported as *NetworkError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Response, error) {
	start := f.now()
	for attempt := 1; ; attempt++ {
		resp, retryAfter, err := f.attempt(ctx, rawURL, attempt)
		if err == nil {
			resp.Attempts = attempt
			resp.Duration = f.now().Sub(start)
			metrics.ObserveFetchAttempt(rawURL, metrics.FetchSuccess)
			metrics.ObserveFetch(metrics.FetchSuccess, resp.Duration)
			return resp, nil
		}

		if !f.retry.ShouldRetry(err, attempt) || ctx.Err() != nil {
			metrics.ObserveFetchAttempt(rawURL, metrics.FetchFailure)
			metrics.ObserveFetch(metrics.FetchFailure, f.now().Sub(start))
			return Response{}, finalize(err, attempt)
		}

		delay := f.retry.Backoff(attempt)
		if retryAfter > 0 {
			delay = retryAfter
		}
		metrics.ObserveFetchAttempt(rawURL, metrics.FetchRetry)
		f.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if pauseErr := f.pause.Pause(ctx, delay); pauseErr != nil {
			metrics.ObserveFetch(metrics.FetchFailure, f.now().Sub(start))
			return Response{}, finalize(err, attempt)
		}
	}
}

// attempt performs exactly one request. The returned duration is the server's
// Retry-After hint, if any.
func (f *Fetcher) attempt(ctx context.Context, rawURL string, attempt int) (Response, time.Duration, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return Response{}, 0, &NetworkError{URL: rawURL, Attempts: attempt, Err: err}
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return Response{}, 0, &NetworkError{URL: rawURL, Attempts: attempt, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	resp, err := f.client.Do(req)
	if err != nil {
		return Response{}, 0, &NetworkError{
			URL:       rawURL,
			Attempts:  attempt,
			Retryable: ctx.Err() == nil,
			Timeout:   isTimeout(err),
			Err:       err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		var retryAfter time.Duration
		if retryable {
			retryAfter = parseRetryAfter(resp.Header, f.now(), f.cfg.MaxRetryAfter)
		}
		return Response{}, retryAfter, &NetworkError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Attempts:   attempt,
			Retryable:  retryable,
			Err:        ErrUnexpectedStatus,
		}
	}

	body, err := readBody(resp, rawURL, f.cfg.MaxBodyBytes)
	if err != nil {
		return Response{}, 0, &NetworkError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Attempts:   attempt,
			Retryable:  !errors.Is(err, ErrBodyTooLarge) && ctx.Err() == nil,
			Timeout:    isTimeout(err),
			Err:        err,
		}
	}

	return Response{
		URL:        rawURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, 0, nil
}

func finalize(err error, attempts int) error {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		netErr.Attempts = attempts
		return netErr
	}
	return &NetworkError{Attempts: attempts, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
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
		DisableCompression:    true,
	}
}
