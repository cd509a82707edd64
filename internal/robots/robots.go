// Package robots evaluates robots.txt exclusion rules. Any failure to fetch
// or parse a host's rules allows the fetch.
package robots

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/jmylchreest/sitescout/internal/logger"
	"github.com/jmylchreest/sitescout/pkg/fetcher"
)

// Config controls robots.txt handling.
type Config struct {
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gte=0"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
}

// DefaultConfig returns the defaults used by the crawler.
func DefaultConfig() Config {
	return Config{
		UserAgent: "*",
		Timeout:   2 * time.Second,
		CacheTTL:  30 * time.Minute,
	}
}

// Agent evaluates robots.txt rules with per-host caching.
type Agent struct {
	fetcher fetcher.Fetcher
	config  Config
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	fetched time.Time
	rules   *robotstxt.RobotsData // nil means allow everything
}

// NewAgent constructs a robots agent that fetches rules through f.
func NewAgent(f fetcher.Fetcher, cfg Config) *Agent {
	def := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	return &Agent{
		fetcher: f,
		config:  cfg,
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
}

// CanFetch reports whether userAgent may fetch rawURL. An empty userAgent
// uses the configured one.
func (a *Agent) CanFetch(ctx context.Context, userAgent, rawURL string) bool {
	target, err := url.Parse(rawURL)
	if err != nil || !target.IsAbs() {
		return true
	}
	rules := a.rules(ctx, target)
	if rules == nil {
		return true
	}
	if userAgent == "" {
		userAgent = a.config.UserAgent
	}
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return rules.TestAgent(path, userAgent)
}

// Sitemaps returns the Sitemap: entries of the host serving rawURL.
func (a *Agent) Sitemaps(ctx context.Context, rawURL string) []string {
	target, err := url.Parse(rawURL)
	if err != nil || !target.IsAbs() {
		return nil
	}
	rules := a.rules(ctx, target)
	if rules == nil {
		return nil
	}
	return append([]string(nil), rules.Sitemaps...)
}

func (a *Agent) rules(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	key := strings.ToLower(target.Scheme + "://" + target.Host)

	a.mu.Lock()
	entry, ok := a.cache[key]
	a.mu.Unlock()
	if ok && a.now().Sub(entry.fetched) < a.config.CacheTTL {
		return entry.rules
	}

	rules := a.load(ctx, key+"/robots.txt")

	a.mu.Lock()
	a.cache[key] = cacheEntry{fetched: a.now(), rules: rules}
	a.mu.Unlock()
	return rules
}

func (a *Agent) load(ctx context.Context, robotsURL string) *robotstxt.RobotsData {
	resp, err := a.fetcher.Fetch(ctx, robotsURL, fetcher.Options{Timeout: a.config.Timeout})
	if fetcher.Classify(resp, err) != fetcher.Fetched {
		logger.Debug("robots.txt unavailable", "url", robotsURL, "error", err)
		return nil
	}
	// robotstxt treats 5xx as disallow-all; an unreachable rules file allows.
	if resp.StatusCode != http.StatusOK {
		logger.Debug("robots.txt not served", "url", robotsURL, "status", resp.StatusCode)
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
	if err != nil {
		logger.Debug("robots.txt parse failed", "url", robotsURL, "error", err)
		return nil
	}
	return data
}
