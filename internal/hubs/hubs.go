// Package hubs discovers content hubs (blog, news, articles and similar
// sections) on every allowed host and harvests their post and pagination
// links.
package hubs

import (
	"context"
	"net/url"
	"time"

	"github.com/jmylchreest/sitescout/internal/links"
	"github.com/jmylchreest/sitescout/internal/logger"
	"github.com/jmylchreest/sitescout/internal/metadata"
	"github.com/jmylchreest/sitescout/internal/state"
	"github.com/jmylchreest/sitescout/pkg/fetcher"
)

// Config controls hub discovery.
type Config struct {
	Enabled             bool          `mapstructure:"enabled"`
	Paths               []string      `mapstructure:"paths"`
	Timeout             time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Limit               int           `mapstructure:"limit" validate:"gte=0"`
	ContentSelectors    []string      `mapstructure:"content_selectors"`
	PaginationSelectors []string      `mapstructure:"pagination_selectors"`
	PerSelector         int           `mapstructure:"per_selector" validate:"gte=0"`
	PerPagination       int           `mapstructure:"per_pagination" validate:"gte=0"`
}

// DefaultConfig returns hub discovery defaults. The phase is disabled by
// default.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Paths: []string{
			"/blog/", "/articles/", "/news/", "/posts/", "/insights/", "/resources/", "/stories/",
			"/updates/", "/press/", "/events/", "/tutorials/", "/guides/", "/learn/",
		},
		Timeout: 3 * time.Second,
		Limit:   1000,
		ContentSelectors: []string{
			`a[href*="/blog/"]`, `a[href*="/article/"]`, `a[href*="/post/"]`,
			`a[href*="/news/"]`, `a[href*="/story/"]`, `a[href*="/insight/"]`,
			".blog-post a", ".article a", ".post a", ".news-item a",
			".content-item a", ".story a", ".resource a",
		},
		PaginationSelectors: []string{
			`a[href*="page"]`, `a[href*="Page"]`, ".pagination a",
			".pager a", ".next a", ".prev a", `a[rel="next"]`,
		},
		PerSelector:   50,
		PerPagination: 10,
	}
}

// Discoverer is the hub discovery phase.
type Discoverer struct {
	fetcher    fetcher.Fetcher
	config     Config
	content    []links.Selector
	pagination []links.Selector
}

// New creates a hub discovery phase.
func New(f fetcher.Fetcher, cfg Config) *Discoverer {
	d := &Discoverer{fetcher: f, config: cfg}
	for _, sel := range cfg.ContentSelectors {
		d.content = append(d.content, links.Selector(sel))
	}
	for _, sel := range cfg.PaginationSelectors {
		d.pagination = append(d.pagination, links.Selector(sel))
	}
	return d
}

// Name implements the phase interface.
func (d *Discoverer) Name() string { return "hubs" }

// Run checks every hub path of every allowed host. A hub answering 200 is
// inserted and titled, then its content and pagination links are inserted
// with OriginHub until Limit insertions have been made.
func (d *Discoverer) Run(ctx context.Context, st *state.CrawlState) {
	if !d.config.Enabled {
		return
	}
	found := 0
	budget := func() bool {
		return ctx.Err() == nil && !st.Full() && (d.config.Limit <= 0 || found < d.config.Limit)
	}

	for _, host := range st.Hosts() {
		for _, p := range d.config.Paths {
			if !budget() {
				logger.Info("hub discovery complete", "found", found)
				return
			}
			hub := st.HomeURL(host) + p
			if st.Contains(hub) {
				continue
			}

			resp, err := d.fetcher.Fetch(ctx, hub, fetcher.Options{Timeout: d.config.Timeout})
			if fetcher.Classify(resp, err) != fetcher.Fetched || !resp.OK() {
				continue
			}
			if st.Insert(hub, state.OriginHub) != state.Inserted {
				continue
			}
			found++
			st.MarkCrawled(true)

			doc, err := links.Parse(resp.Body)
			if err != nil {
				continue
			}
			st.SetTitle(hub, metadata.ExtractTitle(doc, st.Domain()), resp.StatusCode)

			base, _ := url.Parse(hub)
			var candidates []string
			for _, sel := range d.content {
				candidates = append(candidates, sel.Links(doc, base, d.config.PerSelector)...)
			}
			for _, sel := range d.pagination {
				candidates = append(candidates, sel.Links(doc, base, d.config.PerPagination)...)
			}
			for _, c := range candidates {
				if !budget() {
					break
				}
				if st.Insert(c, state.OriginHub) == state.Inserted {
					found++
				}
			}
			logger.Debug("hub harvested", "url", hub, "candidates", len(candidates))
		}
	}
	logger.Info("hub discovery complete", "found", found)
}
