// Package sitemap ingests existing sitemaps of every allowed host into the
// visited set.
package sitemap

import (
	"context"
	"net/url"
	"time"

	"github.com/jmylchreest/sitescout/internal/logger"
	"github.com/jmylchreest/sitescout/internal/robots"
	"github.com/jmylchreest/sitescout/internal/state"
	"github.com/jmylchreest/sitescout/internal/urlpolicy"
	"github.com/jmylchreest/sitescout/pkg/fetcher"
)

// Config controls sitemap ingestion.
type Config struct {
	Enabled      bool          `mapstructure:"enabled"`
	Paths        []string      `mapstructure:"paths"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	ChildTimeout time.Duration `mapstructure:"child_timeout" validate:"gt=0"`
	MaxDepth     int           `mapstructure:"max_depth" validate:"gte=0"`
	MaxDocuments int           `mapstructure:"max_documents" validate:"gte=0"`
	UseRobots    bool          `mapstructure:"use_robots"`
}

// DefaultConfig returns the default ingestion settings.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Paths:        []string{"/sitemap.xml", "/sitemap_index.xml", "/wp-sitemap.xml", "/post-sitemap.xml"},
		Timeout:      1500 * time.Millisecond,
		ChildTimeout: 1200 * time.Millisecond,
		MaxDepth:     3,
		MaxDocuments: 200,
		UseRobots:    true,
	}
}

// Ingestor is the sitemap phase.
type Ingestor struct {
	fetcher fetcher.Fetcher
	robots  *robots.Agent
	config  Config
}

// New creates a sitemap phase. agent may be nil, which skips robots.txt
// Sitemap: entries.
func New(f fetcher.Fetcher, agent *robots.Agent, cfg Config) *Ingestor {
	return &Ingestor{fetcher: f, robots: agent, config: cfg}
}

// Name implements the phase interface.
func (i *Ingestor) Name() string { return "sitemap" }

// run carries the per-crawl bookkeeping of one Run.
type run struct {
	st       *state.CrawlState
	seen     map[string]bool
	docs     int
	inserted int
}

// Run tries the configured sitemap paths, and the robots.txt Sitemap:
// entries, of every allowed host. Unreachable or malformed documents are
// skipped.
func (i *Ingestor) Run(ctx context.Context, st *state.CrawlState) {
	if !i.config.Enabled {
		return
	}
	r := &run{st: st, seen: make(map[string]bool)}

	for _, host := range st.Hosts() {
		if ctx.Err() != nil || st.Full() {
			break
		}
		start := time.Now()
		before := r.inserted
		for _, sm := range i.roots(ctx, st.HomeURL(host)) {
			i.ingest(ctx, r, sm, 0, i.config.Timeout)
		}
		logger.Info("sitemap check complete",
			"host", host,
			"urls", r.inserted-before,
			"elapsed", time.Since(start).Round(time.Millisecond))
	}

	logger.Info("sitemap ingestion complete",
		"documents", r.docs,
		"inserted", r.inserted,
		"visited", st.Len())
}

func (i *Ingestor) roots(ctx context.Context, home string) []string {
	out := make([]string, 0, len(i.config.Paths)+2)
	for _, p := range i.config.Paths {
		out = append(out, home+p)
	}
	if i.config.UseRobots && i.robots != nil {
		out = append(out, i.robots.Sitemaps(ctx, home)...)
	}
	return out
}

func (i *Ingestor) ingest(ctx context.Context, r *run, sitemapURL string, depth int, timeout time.Duration) {
	if ctx.Err() != nil || r.st.Full() || r.seen[sitemapURL] {
		return
	}
	if i.config.MaxDocuments > 0 && r.docs >= i.config.MaxDocuments {
		logger.Debug("sitemap document limit reached", "max_documents", i.config.MaxDocuments)
		return
	}
	r.seen[sitemapURL] = true
	r.docs++

	resp, err := i.fetcher.Fetch(ctx, sitemapURL, fetcher.Options{Timeout: timeout})
	if outcome := fetcher.Classify(resp, err); outcome != fetcher.Fetched || !resp.OK() {
		logger.Debug("sitemap unavailable", "url", sitemapURL, "outcome", outcome, "status", resp.StatusCode)
		return
	}

	doc, err := Parse(resp.Body)
	if err != nil {
		logger.Debug("sitemap unreadable", "url", sitemapURL, "error", err)
		return
	}
	base, _ := url.Parse(sitemapURL)

	if doc.Kind == KindIndex {
		if depth >= i.config.MaxDepth {
			logger.Debug("sitemap index too deep", "url", sitemapURL, "depth", depth)
			return
		}
		for _, child := range doc.Locations {
			if u, err := urlpolicy.Normalize(child, base); err == nil {
				i.ingest(ctx, r, u, depth+1, i.config.ChildTimeout)
			}
		}
		return
	}

	n := 0
	for _, loc := range doc.Locations {
		u, err := urlpolicy.Normalize(loc, base)
		if err != nil {
			continue
		}
		switch r.st.Insert(u, state.OriginSitemap) {
		case state.Inserted:
			n++
		case state.CapReached:
			r.inserted += n
			return
		}
	}
	r.inserted += n
	if n > 0 {
		logger.Debug("sitemap ingested", "url", sitemapURL, "kind", doc.Kind, "urls", n)
	}
}
