// Package sitescout provides the public API for site discovery: it resolves
// a seed URL's domain and subdomains, ingests existing sitemaps, generates
// likely URLs and deep-crawls the result into a titled URL set.
package sitescout

import (
	"time"

	"github.com/jmylchreest/sitescout/internal/crawler"
	"github.com/jmylchreest/sitescout/internal/hubs"
	"github.com/jmylchreest/sitescout/internal/patterns"
	"github.com/jmylchreest/sitescout/internal/resolver"
	"github.com/jmylchreest/sitescout/internal/robots"
	"github.com/jmylchreest/sitescout/internal/sitemap"
	"github.com/jmylchreest/sitescout/pkg/fetcher"
)

// Config holds all engine configuration.
type Config struct {
	// Crawl ceilings
	MaxURLs  int `mapstructure:"max_urls" validate:"gte=1"`
	MaxDepth int `mapstructure:"max_depth" validate:"gte=0"` // 0 = unlimited

	// Transport
	UserAgent    string               `mapstructure:"user_agent" validate:"required"`
	ProbeTimeout time.Duration        `mapstructure:"probe_timeout" validate:"gt=0"` // direct probe for failure diagnostics
	Fetch        fetcher.StaticConfig `mapstructure:"fetch"`
	Retry        fetcher.RetryConfig  `mapstructure:"retry"`
	RateLimit    float64              `mapstructure:"rate_limit" validate:"gte=0"` // requests/second per host, 0 = off
	RateBurst    int                  `mapstructure:"rate_burst" validate:"gte=1"`

	// Phases
	Robots   robots.Config   `mapstructure:"robots"`
	Resolver resolver.Config `mapstructure:"resolver"`
	Sitemap  sitemap.Config  `mapstructure:"sitemap"`
	Hubs     hubs.Config     `mapstructure:"hubs"`
	Patterns patterns.Config `mapstructure:"patterns"`
	Crawler  crawler.Config  `mapstructure:"crawler"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxURLs:      10000,
		MaxDepth:     8,
		UserAgent:    fetcher.DefaultUserAgent,
		ProbeTimeout: 10 * time.Second,
		Fetch:        fetcher.DefaultStaticConfig(),
		Retry:        fetcher.DefaultRetryConfig(),
		RateBurst:    1,
		Robots:       robots.DefaultConfig(),
		Resolver:     resolver.DefaultConfig(),
		Sitemap:      sitemap.DefaultConfig(),
		Hubs:         hubs.DefaultConfig(),
		Patterns:     patterns.DefaultConfig(),
		Crawler:      crawler.DefaultConfig(),
	}
}

type settings struct {
	config  Config
	fetcher fetcher.Fetcher
	store   Store
	phases  []Phase
	robots  *robots.Agent
	now     func() time.Time
}

// Option configures a Scout.
type Option func(*settings)

// WithConfig replaces the whole configuration. Apply it before options
// that adjust single fields.
func WithConfig(cfg Config) Option {
	return func(s *settings) {
		s.config = cfg
	}
}

// WithFetcher injects the transport used by every phase. The caller keeps
// ownership; Close does not close it.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(s *settings) {
		s.fetcher = f
	}
}

// WithStore enables snapshotting after every phase and at crawler
// checkpoints.
func WithStore(store Store) Option {
	return func(s *settings) {
		s.store = store
	}
}

// WithPhases replaces the default phase list.
func WithPhases(phases ...Phase) Option {
	return func(s *settings) {
		s.phases = phases
	}
}

// WithRobots injects the robots.txt agent shared by the sitemap and crawler
// phases.
func WithRobots(agent *robots.Agent) Option {
	return func(s *settings) {
		s.robots = agent
	}
}

// WithClock sets the time source used for completion times and durations.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// WithMaxURLs sets the global URL cap.
func WithMaxURLs(n int) Option {
	return func(s *settings) {
		s.config.MaxURLs = n
	}
}

// WithMaxDepth sets the maximum link depth.
func WithMaxDepth(depth int) Option {
	return func(s *settings) {
		s.config.MaxDepth = depth
	}
}

// WithUserAgent sets the HTTP user agent.
func WithUserAgent(ua string) Option {
	return func(s *settings) {
		s.config.UserAgent = ua
	}
}

// WithWorkers sets the number of deep-crawl workers.
func WithWorkers(n int) Option {
	return func(s *settings) {
		s.config.Crawler.Workers = n
	}
}
