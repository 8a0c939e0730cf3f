package scraper

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-tracker/internal/cache"
	"github.com/sells-group/deal-tracker/internal/fetcher"
	"github.com/sells-group/deal-tracker/internal/model"
	"github.com/sells-group/deal-tracker/internal/watchlist"
)

// Fetcher fetches a single URL. Satisfied by fetcher.HTTPFetcher;
// tests substitute their own.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Response, error)
}

// Scraper discovers candidate deal records from one source.
type Scraper interface {
	Name() string
	Discover(ctx context.Context) ([]model.RawCandidate, error)
}

// Base carries the dependencies shared by all scrapers: the rate-limited
// fetcher, the on-disk cache, and the country/keyword watchlist.
//
// Caching runs in two layers. FetchPage stores raw page bodies keyed by
// URL, so re-runs never re-download. FetchExtract stores the cleaned
// article text keyed by the same URL, so matched pages are parsed once.
type Base struct {
	Fetch Fetcher
	Cache *cache.Store
	Watch *watchlist.Watchlist
}

// FetchPage returns the body of a URL, reading through the page cache.
// Only 2xx responses are cached.
func (b *Base) FetchPage(ctx context.Context, url string) ([]byte, error) {
	key := cache.URLKey(url)
	if body, ok := b.Cache.Get(cache.StagePage, key); ok {
		return body, nil
	}

	resp, err := b.Fetch.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, eris.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	if err := b.Cache.Put(cache.StagePage, key, resp.Body); err != nil {
		zap.L().Warn("page cache write failed", zap.String("url", url), zap.Error(err))
	}
	return resp.Body, nil
}

// FetchExtract returns the cleaned article text for a URL, reading
// through the extracted-text cache and falling back to FetchPage +
// ExtractText on a miss.
func (b *Base) FetchExtract(ctx context.Context, url string) (string, error) {
	key := cache.URLKey(url)
	if text, ok := b.Cache.Get(cache.StageExtracted, key); ok {
		return string(text), nil
	}

	body, err := b.FetchPage(ctx, url)
	if err != nil {
		return "", err
	}

	text := ExtractText(body)
	if err := b.Cache.Put(cache.StageExtracted, key, []byte(text)); err != nil {
		zap.L().Warn("extracted cache write failed", zap.String("url", url), zap.Error(err))
	}
	return text, nil
}

// truncate caps s at n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
