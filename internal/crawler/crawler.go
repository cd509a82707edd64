// Package crawler implements the deep crawl: it fetches a bounded batch of
// already-known URLs, harvests further links from them and records a title
// or placeholder for every visited URL.
package crawler

import (
	"cmp"
	"context"
	"net/url"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/sitescout/internal/links"
	"github.com/jmylchreest/sitescout/internal/logger"
	"github.com/jmylchreest/sitescout/internal/metadata"
	"github.com/jmylchreest/sitescout/internal/robots"
	"github.com/jmylchreest/sitescout/internal/state"
	"github.com/jmylchreest/sitescout/internal/urlpolicy"
	"github.com/jmylchreest/sitescout/pkg/fetcher"
)

// Config holds crawler configuration.
type Config struct {
	// Batch
	BatchSize int           `mapstructure:"batch_size" validate:"gte=1"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`

	// High-signal pages get one extra immediate fetch
	HighSignalTimeout time.Duration `mapstructure:"high_signal_timeout" validate:"gt=0"`
	HighSignalMarkers []string      `mapstructure:"high_signal_markers"`
	HighSignalLinks   int           `mapstructure:"high_signal_links" validate:"gte=0"`

	// Finalization
	FinalizeLimit   int           `mapstructure:"finalize_limit" validate:"gte=0"`
	FinalizeTimeout time.Duration `mapstructure:"finalize_timeout" validate:"gt=0"`

	Workers         int    `mapstructure:"workers" validate:"gte=1,lte=64"`
	RespectRobots   bool   `mapstructure:"respect_robots"`
	UserAgent       string `mapstructure:"user_agent"`
	CheckpointEvery int    `mapstructure:"checkpoint_every" validate:"gte=0"` // 0 = never
}

// DefaultConfig returns sensible crawler defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:         300,
		Timeout:           time.Second,
		HighSignalTimeout: 1500 * time.Millisecond,
		HighSignalMarkers: []string{"/blog/", "/article/", "/post/", "/news/", "/story/"},
		HighSignalLinks:   20,
		FinalizeLimit:     500,
		FinalizeTimeout:   time.Second,
		Workers:           1,
		RespectRobots:     true,
		CheckpointEvery:   50,
	}
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithRobots enables exclusion checks against agent when RespectRobots is set.
func WithRobots(agent *robots.Agent) Option {
	return func(c *Crawler) { c.robots = agent }
}

// WithCheckpoint registers fn to be called every CheckpointEvery fetches.
func WithCheckpoint(fn func(*state.CrawlState)) Option {
	return func(c *Crawler) { c.checkpoint = fn }
}

// Crawler is the deep crawl phase. A Crawler holds no per-run state and may
// be shared by concurrent sessions.
type Crawler struct {
	fetcher    fetcher.Fetcher
	config     Config
	robots     *robots.Agent
	checkpoint func(*state.CrawlState)
}

// New creates a new Crawler.
func New(f fetcher.Fetcher, cfg Config, opts ...Option) *Crawler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	c := &Crawler{fetcher: f, config: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements the phase interface.
func (c *Crawler) Name() string { return "crawler" }

// run is the bookkeeping of one Run call.
type run struct {
	*Crawler
	st      *state.CrawlState
	total   int
	fetched atomic.Int64
	found   atomic.Int64
}

// Run fetches the first BatchSize visited URLs, then finalizes titles for
// every URL still untitled.
func (c *Crawler) Run(ctx context.Context, st *state.CrawlState) {
	batch := st.Batch(c.config.BatchSize)
	r := &run{Crawler: c, st: st, total: len(batch)}

	logger.Info("deep crawl starting",
		"batch", len(batch),
		"visited", st.Len(),
		"workers", c.config.Workers)

	frontier := NewFrontier()
	for _, u := range batch {
		frontier.Add(u, 0)
	}
	r.drain(ctx, frontier, r.crawl)

	logger.Info("deep crawl complete",
		"fetched", r.fetched.Load(),
		"discovered", humanize.Comma(r.found.Load()),
		"visited", humanize.Comma(int64(st.Len())))

	r.finalize(ctx)
}

// drain runs Workers goroutines that pop URLs from q and hand them to fn
// until q is empty or ctx is done.
func (r *run) drain(ctx context.Context, q *Frontier, fn func(context.Context, string, int) bool) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.config.Workers; i++ {
		g.Go(func() error {
			for gctx.Err() == nil {
				u, depth, ok := q.Pop()
				if !ok {
					return nil
				}
				if !fn(gctx, u, depth) {
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// crawl processes one batch URL. It returns false once the global cap is
// reached, which stops the worker.
func (r *run) crawl(ctx context.Context, rawURL string, depth int) bool {
	if r.st.Full() {
		logger.Debug("crawler reached url cap", "max_urls", r.st.MaxURLs())
		return false
	}
	if !r.allowed(ctx, rawURL) {
		r.st.SetTitle(rawURL, metadata.Disallowed, 0)
		return true
	}

	resp, err := r.fetch(ctx, rawURL, r.config.Timeout)
	outcome := fetcher.Classify(resp, err)
	if outcome != fetcher.Fetched || !resp.OK() {
		logger.Debug("crawler fetch failed", "url", rawURL, "outcome", outcome, "status", resp.StatusCode, "error", err)
		r.st.SetTitle(rawURL, placeholder(outcome, resp), resp.StatusCode)
		return true
	}

	doc, err := links.Parse(resp.Body)
	if err != nil {
		r.st.SetTitle(rawURL, titleOrPath(metadata.NotFound, rawURL), resp.StatusCode)
		return true
	}
	r.st.SetTitle(rawURL, titleOrPath(metadata.ExtractTitle(doc, r.st.Domain()), rawURL), resp.StatusCode)

	base := r.base(rawURL, resp)
	if !r.harvests(depth) {
		return true
	}
	added := 0
	for _, link := range links.Extract(doc, base, r.st.BaseDomain()) {
		res := r.st.Insert(link, state.OriginLink)
		if res == state.CapReached {
			break
		}
		if res != state.Inserted {
			continue
		}
		added++
		if r.highSignal(link) {
			added += r.followHighSignal(ctx, link, depth+1)
		}
	}
	r.found.Add(int64(added))
	if added > 0 {
		logger.Debug("crawler harvested links", "from", rawURL, "count", added)
	}
	return true
}

// followHighSignal fetches a freshly discovered content page once and
// inserts the first HighSignalLinks of its links. It returns the number of
// URLs inserted.
func (r *run) followHighSignal(ctx context.Context, rawURL string, depth int) int {
	if r.st.Full() || !r.allowed(ctx, rawURL) {
		return 0
	}
	resp, err := r.fetch(ctx, rawURL, r.config.HighSignalTimeout)
	if fetcher.Classify(resp, err) != fetcher.Fetched || !resp.OK() {
		return 0
	}
	doc, err := links.Parse(resp.Body)
	if err != nil {
		return 0
	}
	r.st.SetTitle(rawURL, titleOrPath(metadata.ExtractTitle(doc, r.st.Domain()), rawURL), resp.StatusCode)
	if !r.harvests(depth) {
		return 0
	}

	deeper := links.Extract(doc, r.base(rawURL, resp), r.st.BaseDomain())
	if r.config.HighSignalLinks > 0 && len(deeper) > r.config.HighSignalLinks {
		deeper = deeper[:r.config.HighSignalLinks]
	}
	added := 0
	for _, link := range deeper {
		res := r.st.Insert(link, state.OriginLink)
		if res == state.CapReached {
			break
		}
		if res == state.Inserted {
			added++
		}
	}
	return added
}

// finalize gives up to FinalizeLimit untitled URLs one more fetch and
// synthesizes a path title for the rest.
func (r *run) finalize(ctx context.Context) {
	untitled := r.st.Untitled()
	if len(untitled) == 0 {
		return
	}
	logger.Info("finalizing untitled urls", "count", humanize.Comma(int64(len(untitled))))

	// observed URLs get the fetch budget before generated guesses
	slices.SortStableFunc(untitled, func(a, b string) int {
		return cmp.Compare(r.generated(a), r.generated(b))
	})
	limit := min(len(untitled), r.config.FinalizeLimit)
	q := NewFrontier()
	for _, u := range untitled[:limit] {
		q.Add(u, 0)
	}
	r.drain(ctx, q, func(ctx context.Context, rawURL string, _ int) bool {
		title, status := r.finalTitle(ctx, rawURL)
		r.st.SetTitle(rawURL, title, status)
		return true
	})

	synthesized := 0
	for _, u := range r.st.Untitled() {
		r.st.SetTitle(u, metadata.FromPath(u), 0)
		synthesized++
	}
	if synthesized > 0 {
		logger.Debug("synthesized path titles", "count", synthesized)
	}
}

func (r *run) finalTitle(ctx context.Context, rawURL string) (string, int) {
	if !r.allowed(ctx, rawURL) {
		return metadata.Disallowed, 0
	}
	resp, err := r.fetch(ctx, rawURL, r.config.FinalizeTimeout)
	if fetcher.Classify(resp, err) != fetcher.Fetched {
		return metadata.FromPath(rawURL), 0
	}
	switch {
	case resp.OK():
		return titleOrPath(metadata.Title(resp.Body, r.st.Domain()), rawURL), resp.StatusCode
	case resp.IsRedirect():
		return metadata.Redirect, resp.StatusCode
	default:
		return metadata.StatusTitle(resp.StatusCode), resp.StatusCode
	}
}

func (r *run) fetch(ctx context.Context, rawURL string, timeout time.Duration) (fetcher.Response, error) {
	resp, err := r.fetcher.Fetch(ctx, rawURL, fetcher.Options{
		UserAgent: r.config.UserAgent,
		Timeout:   timeout,
	})
	r.st.MarkCrawled(err == nil && resp.OK())

	n := r.fetched.Add(1)
	if n%10 == 0 {
		logger.Debug("deep crawl progress",
			"fetched", n,
			"batch", r.total,
			"visited", humanize.Comma(int64(r.st.Len())))
	}
	if r.checkpoint != nil && r.config.CheckpointEvery > 0 && n%int64(r.config.CheckpointEvery) == 0 {
		r.checkpoint(r.st)
	}
	return resp, err
}

func (r *run) allowed(ctx context.Context, rawURL string) bool {
	if !r.config.RespectRobots || r.robots == nil {
		return true
	}
	ua := r.config.UserAgent
	if ua == "" {
		ua = "*"
	}
	return r.robots.CanFetch(ctx, ua, rawURL)
}

// harvests reports whether links are taken from a page at depth. A
// non-positive MaxDepth means no limit.
func (r *run) harvests(depth int) bool {
	limit := r.st.MaxDepth()
	return limit <= 0 || depth < limit
}

func (r *run) generated(rawURL string) int {
	if origin, _ := r.st.Origin(rawURL); origin == state.OriginGenerated {
		return 1
	}
	return 0
}

func (r *run) highSignal(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, m := range r.config.HighSignalMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// base returns the URL relative links resolve against. A redirect target
// inside the crawl scope is inserted as a discovered URL.
func (r *run) base(rawURL string, resp fetcher.Response) *url.URL {
	final := rawURL
	if resp.FinalURL != "" && resp.FinalURL != rawURL {
		if u, err := urlpolicy.Normalize(resp.FinalURL, nil); err == nil {
			final = u
			if r.st.Insert(u, state.OriginLink) == state.Inserted {
				r.found.Add(1)
			}
		}
	}
	b, err := url.Parse(final)
	if err != nil {
		b, _ = url.Parse(rawURL)
	}
	return b
}

// titleOrPath keeps an extracted title and otherwise falls back to a title
// synthesized from the URL path, then to the not-found sentinel.
func titleOrPath(title, rawURL string) string {
	if title != metadata.NotFound {
		return title
	}
	if t := metadata.FromPath(rawURL); t != metadata.Fallback {
		return t
	}
	return metadata.NotFound
}

// placeholder is the title recorded for a batch URL that did not answer 200.
func placeholder(outcome fetcher.Outcome, resp fetcher.Response) string {
	switch outcome {
	case fetcher.TimedOut:
		return metadata.TimedOut
	case fetcher.TransportError, fetcher.Invalid:
		return metadata.AccessErr
	}
	if resp.IsRedirect() {
		return metadata.Redirect
	}
	return metadata.StatusTitle(resp.StatusCode)
}
