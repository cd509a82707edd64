package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/jmylchreest/sitescout/internal/logger"
)

// StaticConfig holds configuration for the static fetcher.
type StaticConfig struct {
	UserAgent    string        `mapstructure:"user_agent" validate:"required"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxBodySize  int           `mapstructure:"-"`
	MaxRedirects int           `mapstructure:"max_redirects" validate:"gte=0"`
}

// DefaultStaticConfig returns sensible defaults.
func DefaultStaticConfig() StaticConfig {
	return StaticConfig{
		UserAgent:    DefaultUserAgent,
		Timeout:      10 * time.Second,
		MaxBodySize:  10 * 1024 * 1024,
		MaxRedirects: 10,
	}
}

// DefaultUserAgent is a desktop browser user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// StaticFetcher uses Colly for plain HTTP fetching without rendering.
// It implements the Fetcher interface.
type StaticFetcher struct {
	config    StaticConfig
	transport *http.Transport
}

// NewStatic creates a new static fetcher. Connections are pooled across
// requests.
func NewStatic(cfg StaticConfig) *StaticFetcher {
	def := DefaultStaticConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = def.MaxRedirects
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4
	return &StaticFetcher{config: cfg, transport: transport}
}

// Fetch retrieves rawURL using a fresh collector.
func (f *StaticFetcher) Fetch(ctx context.Context, rawURL string, opts Options) (Response, error) {
	result := Response{
		URL:       rawURL,
		FinalURL:  rawURL,
		FetchedAt: time.Now(),
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return result, fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = f.config.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := colly.NewCollector(
		colly.UserAgent(coalesce(opts.UserAgent, f.config.UserAgent)),
		colly.MaxBodySize(f.config.MaxBodySize),
		colly.AllowURLRevisit(),
	)
	c.ParseHTTPErrorResponse = true
	c.SetRequestTimeout(timeout)
	c.WithTransport(contextTransport{base: f.transport, ctx: reqCtx})
	c.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if opts.NoRedirects || len(via) >= f.config.MaxRedirects {
			return http.ErrUseLastResponse
		}
		return nil
	})

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.5")
		r.Headers.Set("Accept-Encoding", "gzip, deflate, br")
		for k, v := range opts.Headers {
			r.Headers.Set(k, v)
		}
	})

	var decodeErr error
	c.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		if r.Headers != nil {
			result.Header = *r.Headers
			result.ContentType = r.Headers.Get("Content-Type")
		}
		if r.Request != nil && r.Request.URL != nil {
			result.FinalURL = r.Request.URL.String()
		}
		result.Body, decodeErr = decodeBody(result.Header.Get("Content-Encoding"), r.Body)
		logger.Debug("fetch response received",
			"url", rawURL,
			"status", r.StatusCode,
			"content_type", result.ContentType,
			"body_size", len(result.Body))
	})

	var fetchErr error
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			result.StatusCode = r.StatusCode
		}
		fetchErr = err
	})

	if opts.Method == http.MethodHead {
		err = c.Head(rawURL)
	} else {
		err = c.Visit(rawURL)
	}
	result.Duration = time.Since(result.FetchedAt)
	if err == nil {
		err = fetchErr
	}

	if err != nil && result.StatusCode == 0 {
		logger.Debug("fetch failed", "url", rawURL, "error", err, "duration", result.Duration)
		return result, classifyError(ctx, reqCtx, err)
	}
	if decodeErr != nil {
		logger.Debug("fetch body decode failed", "url", rawURL, "error", decodeErr)
	}
	return result, nil
}

// Close releases pooled connections.
func (f *StaticFetcher) Close() error {
	f.transport.CloseIdleConnections()
	return nil
}

// Type returns the fetcher type.
func (f *StaticFetcher) Type() string {
	return "static"
}

// contextTransport binds every outgoing request to ctx so callers can cancel
// an in-flight collector.
type contextTransport struct {
	base http.RoundTripper
	ctx  context.Context
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

func classifyError(parent, reqCtx context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%w: %w", ErrTransport, parent.Err())
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if errors.Is(err, colly.ErrMissingURL) || strings.Contains(err.Error(), "unsupported protocol scheme") {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// coalesce returns the first non-empty string.
func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
