// Package render executes JavaScript-heavy pages in headless Chrome so the
// analyzer can inspect the DOM a browser would see.
package render

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const defaultNavigationTimeout = 45 * time.Second

// ErrClosed is returned by Render after Close.
var ErrClosed = errors.New("renderer closed")

// Config controls the behavior of the headless renderer.
type Config struct {
	// MaxParallel caps concurrent browser tabs; zero means unlimited.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Page is the rendered document.
type Page struct {
	URL        string
	StatusCode int
	HTML       []byte
	Duration   time.Duration
}

// Chromedp renders pages in tabs of one shared headless browser.
type Chromedp struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc

	mu            sync.Mutex
	browser       context.Context
	browserCancel context.CancelFunc
	closed        bool
}

// NewChromedp creates a renderer backed by chromedp. The browser process is
// started lazily on the first Render call and reused for every later one.
func NewChromedp(cfg Config) (*Chromedp, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Chromedp{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts down the browser and its allocator. Render fails with
// ErrClosed afterwards.
func (r *Chromedp) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.browserCancel != nil {
		r.browserCancel()
		r.browser, r.browserCancel = nil, nil
	}
	if r.allocCancel != nil {
		r.allocCancel()
	}
}

// browserContext returns the shared browser context, launching Chrome on
// first use or after the previous browser exited.
func (r *Chromedp) browserContext() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.browser != nil && r.browser.Err() == nil {
		return r.browser, nil
	}
	if r.browserCancel != nil {
		r.browserCancel()
	}
	browserCtx, cancel := chromedp.NewContext(r.allocator)
	// An empty Run allocates the browser and its first target.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		r.browser, r.browserCancel = nil, nil
		return nil, fmt.Errorf("start browser: %w", err)
	}
	r.browser, r.browserCancel = browserCtx, cancel
	return browserCtx, nil
}

// Render navigates to rawURL and returns the fully rendered DOM.
func (r *Chromedp) Render(ctx context.Context, rawURL string) (Page, error) {
	if err := r.acquire(ctx); err != nil {
		return Page{}, err
	}
	defer r.release()

	browserCtx, err := r.browserContext()
	if err != nil {
		return Page{}, fmt.Errorf("render %s: %w", rawURL, err)
	}
	// A context derived from the browser context opens a new tab; canceling
	// it closes the tab and leaves the browser running.
	taskCtx, taskCancel := chromedp.NewContext(browserCtx)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, r.navTimeout())
	defer cancel()
	// Tie the tab to the caller's context as well as the browser.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := &responseMeta{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	var html, finalURL string
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return Page{}, fmt.Errorf("render %s: %w", rawURL, ctx.Err())
		}
		return Page{}, fmt.Errorf("render %s: %w", rawURL, err)
	}

	status, pageURL := meta.snapshotWithFallbacks(rawURL, finalURL)
	return Page{
		URL:        pageURL,
		StatusCode: status,
		HTML:       []byte(html),
		Duration:   time.Since(start),
	}, nil
}

func (r *Chromedp) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Chromedp) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (r *Chromedp) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

func (r *Chromedp) navTimeout() time.Duration {
	if r.cfg.NavigationTimeout > 0 {
		return r.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

// responseMeta records the status and URL of the top-level document response.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
