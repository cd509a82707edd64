package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// LimitedFetcher enforces a per-host request rate before delegating.
type LimitedFetcher struct {
	next  Fetcher
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Limited wraps next so each host receives at most perSecond requests per
// second. A non-positive perSecond disables limiting.
func Limited(next Fetcher, perSecond float64, burst int) Fetcher {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &LimitedFetcher{
		next:     next,
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch waits for the host's limiter, then fetches.
func (f *LimitedFetcher) Fetch(ctx context.Context, rawURL string, opts Options) (Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Response{URL: rawURL}, fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return Response{URL: rawURL}, fmt.Errorf("%w: rate limiter: %w", ErrTransport, err)
	}
	return f.next.Fetch(ctx, rawURL, opts)
}

func (f *LimitedFetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(f.limit, f.burst)
		f.limiters[host] = l
	}
	return l
}

// Close closes the wrapped fetcher.
func (f *LimitedFetcher) Close() error { return f.next.Close() }

// Type returns the wrapped fetcher's type.
func (f *LimitedFetcher) Type() string { return f.next.Type() }
