package fetcher

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jmylchreest/sitescout/internal/logger"
)

// RetryConfig controls retries of transient failures.
type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"gte=0"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" validate:"gte=0"`
	BackoffFactor  float64       `mapstructure:"backoff_factor" validate:"gte=1"`
	Jitter         bool          `mapstructure:"jitter"`
	RetryTimeouts  bool          `mapstructure:"retry_timeouts"`
}

// DefaultRetryConfig retries twice with a 0.5s base backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     4 * time.Second,
		BackoffFactor:  2,
	}
}

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// RetryingFetcher retries 429 and 5xx responses with exponential backoff.
type RetryingFetcher struct {
	next   Fetcher
	config RetryConfig
	sleep  func(context.Context, time.Duration) error
}

// Retrying wraps next with retry behaviour.
func Retrying(next Fetcher, cfg RetryConfig) *RetryingFetcher {
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	return &RetryingFetcher{next: next, config: cfg, sleep: sleepContext}
}

// Fetch calls the wrapped fetcher until it succeeds, returns a non-retryable
// result, or the retry budget is spent. The last result is returned.
func (f *RetryingFetcher) Fetch(ctx context.Context, rawURL string, opts Options) (Response, error) {
	backoff := f.config.InitialBackoff
	var (
		resp Response
		err  error
	)
	for attempt := 0; ; attempt++ {
		resp, err = f.next.Fetch(ctx, rawURL, opts)
		if attempt >= f.config.MaxRetries || !f.retryable(resp, err) {
			return resp, err
		}

		wait := backoff
		if f.config.Jitter && wait > 0 {
			wait = wait/2 + time.Duration(rand.Int64N(int64(wait/2)+1))
		}
		logger.Debug("retrying fetch",
			"url", rawURL,
			"attempt", attempt+1,
			"status", resp.StatusCode,
			"error", err,
			"backoff", wait)
		if serr := f.sleep(ctx, wait); serr != nil {
			return resp, err
		}

		backoff = time.Duration(float64(backoff) * f.config.BackoffFactor)
		if f.config.MaxBackoff > 0 && backoff > f.config.MaxBackoff {
			backoff = f.config.MaxBackoff
		}
	}
}

func (f *RetryingFetcher) retryable(resp Response, err error) bool {
	if err != nil {
		return f.config.RetryTimeouts && errors.Is(err, ErrTimeout)
	}
	return retryableStatus[resp.StatusCode]
}

// Close closes the wrapped fetcher.
func (f *RetryingFetcher) Close() error { return f.next.Close() }

// Type returns the wrapped fetcher's type.
func (f *RetryingFetcher) Type() string { return f.next.Type() }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
