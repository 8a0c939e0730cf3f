// Package fetcher provides rate-limited HTTP access for the scrapers.
// One limiter per host enforces the minimum inter-request delay; requests
// to the same host are issued in discovery order and never reordered.
package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/deal-tracker/internal/resilience"
)

// Response is a fetched HTTP response. Non-2xx statuses are returned to the
// caller rather than raised — the caller decides whether to skip.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the response status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Options configures the HTTP fetcher.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	RequestDelay time.Duration // minimum delay between requests to one host
	BackoffStart time.Duration // initial backoff after 429/5xx
}

// HTTPFetcher implements rate-limited fetching over net/http.
type HTTPFetcher struct {
	client *http.Client
	opts   Options

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates an HTTPFetcher with the given options.
func New(opts Options) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RequestDelay == 0 {
		opts.RequestDelay = 1500 * time.Millisecond
	}
	if opts.BackoffStart == 0 {
		opts.BackoffStart = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "deal-tracker/1.0"
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the per-host limiter, creating it on first use.
// Burst 1 means every request waits the full inter-request interval.
func (f *HTTPFetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limiters[host]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Every(f.opts.RequestDelay), 1)
	f.limiters[host] = lim
	return lim
}

// Fetch retrieves a URL, enforcing the per-host delay and retrying 429/5xx
// with exponential backoff starting at BackoffStart. After MaxRetries the
// failure is surfaced as a TransientError so the caller can record a skip.
// Other non-2xx responses are returned with their status for the caller to
// judge.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: parse url %s", rawURL)
	}
	lim := f.limiterFor(u.Hostname())

	backoff := f.opts.BackoffStart
	var lastErr error
	var lastStatus int

	for attempt := 0; attempt < f.opts.MaxRetries; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetch: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "fetch: create request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			zap.L().Warn("fetch attempt failed",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			f.sleep(ctx, backoff)
			backoff *= 2
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		zap.L().Info("fetch",
			zap.String("url", rawURL),
			zap.Int("status", resp.StatusCode),
			zap.Int("attempt", attempt+1),
		)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastStatus = resp.StatusCode
			lastErr = eris.Errorf("fetch: 429 from %s", u.Hostname())
			zap.L().Warn("rate limited, backing off",
				zap.String("url", rawURL),
				zap.Duration("backoff", backoff),
				zap.Int("attempt", attempt+1),
			)
			f.sleep(ctx, backoff)
			backoff *= 2
			continue

		case resp.StatusCode >= 500:
			lastStatus = resp.StatusCode
			lastErr = eris.Errorf("fetch: %d from %s", resp.StatusCode, u.Hostname())
			f.sleep(ctx, backoff)
			backoff *= 2
			continue
		}

		if readErr != nil {
			lastErr = readErr
			f.sleep(ctx, backoff)
			backoff *= 2
			continue
		}

		return &Response{StatusCode: resp.StatusCode, Body: body}, nil
	}

	return nil, resilience.NewTransientError(
		eris.Wrapf(lastErr, "fetch: retries exhausted for %s", rawURL),
		lastStatus,
	)
}

func (f *HTTPFetcher) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
