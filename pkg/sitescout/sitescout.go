package sitescout

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/sitescout/internal/crawler"
	"github.com/jmylchreest/sitescout/internal/hubs"
	"github.com/jmylchreest/sitescout/internal/logger"
	"github.com/jmylchreest/sitescout/internal/metadata"
	"github.com/jmylchreest/sitescout/internal/output"
	"github.com/jmylchreest/sitescout/internal/patterns"
	"github.com/jmylchreest/sitescout/internal/resolver"
	"github.com/jmylchreest/sitescout/internal/robots"
	"github.com/jmylchreest/sitescout/internal/sitemap"
	"github.com/jmylchreest/sitescout/internal/state"
	"github.com/jmylchreest/sitescout/internal/urlpolicy"
	"github.com/jmylchreest/sitescout/pkg/fetcher"
)

// Snapshot is a detached copy of a crawl's state.
type Snapshot = state.Snapshot

// Phase is one step of the discovery pipeline. Run mutates st and never
// fails the crawl; partial failures are absorbed inside the phase. Phases
// are shared by concurrent crawls and must keep per-run data local.
type Phase interface {
	Name() string
	Run(ctx context.Context, st *state.CrawlState)
}

// Store persists snapshots. Save errors are logged and never fail a crawl.
type Store interface {
	Save(ctx context.Context, snap state.Snapshot) error
}

// saveTimeout bounds a single snapshot write.
const saveTimeout = 5 * time.Second

// Version returns the module version of the sitescout library.
// Returns "(devel)" when built from source without version info.
func Version() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.Main.Version
	}
	return "(unknown)"
}

// Scout runs the discovery pipeline. A Scout is safe for concurrent use;
// every crawl gets its own CrawlState.
type Scout struct {
	config     Config
	fetcher    fetcher.Fetcher
	ownFetcher bool
	store      Store
	phases     []Phase
	now        func() time.Time
}

// New creates a Scout. Without WithFetcher a static fetcher with retries and
// the optional per-host rate limit is created; without WithPhases the
// default pipeline is resolver, sitemap, hubs (when enabled), patterns and
// crawler.
func New(opts ...Option) (*Scout, error) {
	s := &settings{config: DefaultConfig(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	cfg := s.config
	if cfg.MaxURLs < 1 {
		return nil, fmt.Errorf("max urls must be positive, got %d", cfg.MaxURLs)
	}
	if cfg.Crawler.UserAgent == "" {
		cfg.Crawler.UserAgent = cfg.UserAgent
	}

	scout := &Scout{config: cfg, store: s.store, now: s.now}

	f := s.fetcher
	if f == nil {
		fetchCfg := cfg.Fetch
		fetchCfg.UserAgent = cfg.UserAgent
		f = fetcher.Limited(
			fetcher.Retrying(fetcher.NewStatic(fetchCfg), cfg.Retry),
			cfg.RateLimit, cfg.RateBurst)
		scout.ownFetcher = true
	}
	scout.fetcher = f

	if s.phases != nil {
		scout.phases = s.phases
		return scout, nil
	}

	agent := s.robots
	if agent == nil {
		agent = robots.NewAgent(f, cfg.Robots)
	}
	var sitemapRobots *robots.Agent
	if cfg.Sitemap.UseRobots {
		sitemapRobots = agent
	}

	scout.phases = append(scout.phases,
		resolver.New(f, cfg.Resolver),
		sitemap.New(f, sitemapRobots, cfg.Sitemap),
	)
	if cfg.Hubs.Enabled {
		scout.phases = append(scout.phases, hubs.New(f, cfg.Hubs))
	}
	scout.phases = append(scout.phases,
		patterns.New(f, cfg.Patterns),
		crawler.New(f, cfg.Crawler,
			crawler.WithRobots(agent),
			crawler.WithCheckpoint(scout.save)),
	)
	return scout, nil
}

// Phases returns the names of the configured phases in run order.
func (s *Scout) Phases() []string {
	names := make([]string, len(s.phases))
	for i, p := range s.phases {
		names[i] = p.Name()
	}
	return names
}

// NewState normalizes seed and creates the crawl state for it, with the seed
// inserted as the first visited URL.
func (s *Scout) NewState(seed string) (*state.CrawlState, error) {
	start, err := urlpolicy.Normalize(seed, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid seed url %q: %w", seed, err)
	}
	host := urlpolicy.Host(start)
	if host == "" {
		return nil, fmt.Errorf("invalid seed url %q: no host", seed)
	}

	st := state.New(state.Params{
		StartURL:   start,
		Domain:     host,
		BaseDomain: resolver.BaseDomain(host, s.config.Resolver.Prefixes),
		MaxURLs:    s.config.MaxURLs,
		MaxDepth:   s.config.MaxDepth,
	})
	if st.Insert(start, state.OriginSeed) != state.Inserted {
		return nil, fmt.Errorf("seed url %q is not crawlable", seed)
	}
	return st, nil
}

// Result is a completed crawl.
type Result struct {
	Snapshot    Snapshot
	CompletedAt time.Time
	Duration    time.Duration
}

// Records returns one record per visited URL, sorted by URL. URLs without a
// title carry the not-found sentinel.
func (r *Result) Records() []output.Record {
	snap := r.Snapshot
	records := make([]output.Record, 0, len(snap.Visited))
	for _, u := range snap.Visited {
		title, ok := snap.Titles[u]
		if !ok {
			title = metadata.NotFound
		}
		records = append(records, output.Record{
			URL:    u,
			Title:  title,
			Status: snap.Statuses[u],
			Origin: string(snap.Origins[u]),
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].URL < records[j].URL })
	return records
}

// Titled counts visited URLs whose title was read from the page itself
// rather than a placeholder.
func (r *Result) Titled() int {
	n := 0
	for _, u := range r.Snapshot.Visited {
		if t, ok := r.Snapshot.Titles[u]; ok && !metadata.IsPlaceholder(t) {
			n++
		}
	}
	return n
}

// Run executes every phase against st in order. It returns a
// *NoPagesError when nothing beyond the seed was discovered, or the context
// error when ctx ends first. st is completed in the first case only.
func (s *Scout) Run(ctx context.Context, st *state.CrawlState) (*Result, error) {
	started := s.now()
	logger.Info("crawl starting",
		"url", st.StartURL(),
		"domain", st.Domain(),
		"base_domain", st.BaseDomain(),
		"max_urls", humanize.Comma(int64(st.MaxURLs())))

	for _, p := range s.phases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st.SetPhase(p.Name())
		phaseStart := s.now()
		p.Run(ctx, st)
		logger.Info("phase complete",
			"phase", p.Name(),
			"visited", humanize.Comma(int64(st.Len())),
			"duration", s.now().Sub(phaseStart).Round(time.Millisecond))
		s.save(st)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	completed := s.now()
	if st.Evidence() == 0 {
		diag := s.diagnose(ctx, st)
		st.Complete(completed)
		s.save(st)
		logger.Warn("crawl found no pages", "url", st.StartURL(), "status", diag.StatusCode, "outcome", diag.Outcome)
		return nil, &NoPagesError{Diagnostics: diag}
	}

	st.Complete(completed)
	s.save(st)
	result := &Result{
		Snapshot:    st.Snapshot(),
		CompletedAt: completed,
		Duration:    completed.Sub(started),
	}
	logger.Info("crawl complete",
		"url", st.StartURL(),
		"visited", humanize.Comma(int64(len(result.Snapshot.Visited))),
		"subdomains", len(result.Snapshot.Subdomains),
		"duration", result.Duration.Round(time.Millisecond))
	return result, nil
}

// Discover creates the state for seed and runs the pipeline.
func (s *Scout) Discover(ctx context.Context, seed string) (*Result, error) {
	st, err := s.NewState(seed)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, st)
}

// Close releases the fetcher when the Scout created it.
func (s *Scout) Close() error {
	if s.ownFetcher && s.fetcher != nil {
		return s.fetcher.Close()
	}
	return nil
}

func (s *Scout) diagnose(ctx context.Context, st *state.CrawlState) Diagnostics {
	d := Diagnostics{
		StartURL:   st.StartURL(),
		Domain:     st.Domain(),
		BaseDomain: st.BaseDomain(),
	}
	resp, err := s.fetcher.Fetch(ctx, st.StartURL(), fetcher.Options{
		UserAgent: s.config.UserAgent,
		Timeout:   s.config.ProbeTimeout,
	})
	d.Outcome = fetcher.Classify(resp, err).String()
	if err != nil {
		d.Error = err.Error()
		return d
	}
	d.StatusCode = resp.StatusCode
	d.ContentType = resp.ContentType
	d.Size = len(resp.Body)
	return d
}

func (s *Scout) save(st *state.CrawlState) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.store.Save(ctx, st.Snapshot()); err != nil {
		logger.Warn("snapshot save failed", "domain", st.Domain(), "error", err)
	}
}
