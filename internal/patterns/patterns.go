// Package patterns learns path templates from observed URLs and generates
// candidate URLs from templates and fixed path catalogues.
//
// Generation is deliberately over-inclusive: the validity policy and the
// global URL cap, both enforced by state.Insert, are the only limits.
package patterns

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/sitescout/internal/links"
	"github.com/jmylchreest/sitescout/internal/logger"
	"github.com/jmylchreest/sitescout/internal/state"
	"github.com/jmylchreest/sitescout/internal/urlpolicy"
	"github.com/jmylchreest/sitescout/pkg/fetcher"
)

// Config holds the generation catalogues.
type Config struct {
	Enabled             bool          `mapstructure:"enabled"`
	PageTimeout         time.Duration `mapstructure:"page_timeout" validate:"gt=0"`
	Sections            []string      `mapstructure:"sections"`
	ListSections        []string      `mapstructure:"list_sections"`
	PaginationTemplates []string      `mapstructure:"pagination_templates"`
	PaginationCeiling   int           `mapstructure:"pagination_ceiling" validate:"gte=2"`
	Categories          []string      `mapstructure:"categories"`
	CategoryTemplates   []string      `mapstructure:"category_templates"`
	ArchiveTemplates    []string      `mapstructure:"archive_templates"`
	ArchiveFromYear     int           `mapstructure:"archive_from_year" validate:"gte=1990"`
	ArchiveToYear       int           `mapstructure:"archive_to_year" validate:"gtefield=ArchiveFromYear"`
}

// DefaultConfig returns the default catalogues.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		PageTimeout: 3 * time.Second,
		Sections: []string{
			"/blog/", "/news/", "/resources/", "/about/", "/contact/", "/support/",
			"/help/", "/docs/", "/pricing/", "/products/", "/solutions/",
		},
		ListSections: []string{"blog", "news", "resources", "case-studies"},
		PaginationTemplates: []string{
			"{section}page/{page}/", "{section}page/{page}", "{section}?page={page}",
			"{section}?p={page}", "{section}{page}/",
		},
		PaginationCeiling: 20,
		Categories: []string{
			"mentoring", "coaching", "leadership", "development", "hr", "talent",
			"engagement", "retention", "training", "learning", "skills", "performance",
			"culture", "diversity", "inclusion", "remote", "hybrid", "onboarding",
			"succession", "planning", "analytics", "reporting", "automation",
			"integration", "api", "security", "compliance", "enterprise",
			"small-business", "nonprofit", "education", "healthcare", "technology",
			"finance", "retail", "manufacturing", "consulting", "startup",
		},
		CategoryTemplates: []string{
			"/category/{cat}/", "/tag/{cat}/", "/topic/{cat}/",
			"/{cat}/", "/solutions/{cat}/", "/industries/{cat}/",
			"/use-cases/{cat}/", "/features/{cat}/", "/resources/{cat}/",
		},
		ArchiveTemplates: []string{
			"/blog/{year}/{month}/", "/news/{year}/{month}/", "/{year}/{month}/", "/archive/{year}/{month}/",
		},
		ArchiveFromYear: 2020,
		ArchiveToYear:   2024,
	}
}

// Generator is the pattern learning and generation phase.
type Generator struct {
	fetcher fetcher.Fetcher
	config  Config
}

// New creates a pattern phase.
func New(f fetcher.Fetcher, cfg Config) *Generator {
	return &Generator{fetcher: f, config: cfg}
}

// Name implements the phase interface.
func (g *Generator) Name() string { return "patterns" }

// emitter inserts generated URLs and tracks the cap.
type emitter struct {
	st        *state.CrawlState
	generated int
	full      bool
}

// emit inserts home+path and reports whether generation may continue.
func (e *emitter) emit(home, path string) bool {
	if e.full {
		return false
	}
	u, err := urlpolicy.Normalize(home+path, nil)
	if err != nil {
		return true
	}
	switch e.st.Insert(u, state.OriginGenerated) {
	case state.Inserted:
		e.generated++
	case state.CapReached:
		e.full = true
		return false
	}
	return true
}

// Run learns templates and sections from homepages and visited URLs, then
// generates candidates for every allowed host.
func (g *Generator) Run(ctx context.Context, st *state.CrawlState) {
	if !g.config.Enabled {
		return
	}
	hosts := st.Hosts()

	sections := append([]string(nil), g.config.Sections...)
	for _, host := range hosts {
		if ctx.Err() != nil {
			return
		}
		for _, s := range g.learnHomepage(ctx, st, host) {
			if !slices.Contains(sections, s) {
				sections = append(sections, s)
			}
		}
	}
	for _, u := range st.Visited() {
		learnURL(st, u)
	}
	logger.Info("url patterns learned", "patterns", len(st.Patterns()), "sections", len(sections))

	e := &emitter{st: st}
	homes := make([]string, len(hosts))
	for i, h := range hosts {
		homes[i] = st.HomeURL(h)
	}

	for _, home := range homes {
		before := e.generated
		g.sections(e, home, sections)
		logger.Debug("generated section urls", "host", home, "count", e.generated-before)
		if e.full || ctx.Err() != nil {
			break
		}
	}
	for _, home := range homes {
		if !g.categories(e, home) || ctx.Err() != nil {
			break
		}
	}
	for _, home := range homes {
		if !g.archives(e, home) || ctx.Err() != nil {
			break
		}
	}
	templates := st.Patterns()
	for _, home := range homes {
		if !g.templates(e, home, templates) || ctx.Err() != nil {
			break
		}
	}

	logger.Info("pattern generation complete",
		"generated", e.generated,
		"visited", st.Len(),
		"cap_reached", e.full)
}

// learnHomepage fetches a host's homepage, learns templates from its
// in-scope links and returns the top-level sections they reveal.
func (g *Generator) learnHomepage(ctx context.Context, st *state.CrawlState, host string) []string {
	home := st.HomeURL(host)
	resp, err := g.fetcher.Fetch(ctx, home, fetcher.Options{Timeout: g.config.PageTimeout})
	if outcome := fetcher.Classify(resp, err); outcome != fetcher.Fetched || !resp.OK() {
		logger.Debug("homepage unavailable for pattern discovery", "url", home, "outcome", outcome, "status", resp.StatusCode)
		return nil
	}
	doc, err := links.Parse(resp.Body)
	if err != nil {
		return nil
	}
	base, _ := url.Parse(home)

	var sections []string
	for _, link := range links.Anchors(doc, base) {
		u, err := url.Parse(link)
		if err != nil || !st.AllowsHost(u.Host) {
			continue
		}
		learnURL(st, link)
		if u.Host != host {
			continue
		}
		if s, ok := Section(u.Path); ok && !slices.Contains(sections, s) {
			sections = append(sections, s)
		}
	}
	return sections
}

func learnURL(st *state.CrawlState, rawURL string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	if t, ok := Template(u.Path); ok {
		st.AddPattern(t)
	}
}

func (g *Generator) sections(e *emitter, home string, sections []string) {
	for _, s := range sections {
		if !e.emit(home, s) {
			return
		}
		if !g.isList(s) {
			continue
		}
		for page := 2; page <= g.config.PaginationCeiling; page++ {
			for _, tmpl := range g.config.PaginationTemplates {
				p := strings.NewReplacer("{section}", s, "{page}", strconv.Itoa(page)).Replace(tmpl)
				if !e.emit(home, p) {
					return
				}
			}
		}
	}
}

func (g *Generator) isList(section string) bool {
	for _, word := range g.config.ListSections {
		if strings.Contains(section, word) {
			return true
		}
	}
	return false
}

func (g *Generator) categories(e *emitter, home string) bool {
	for _, tmpl := range g.config.CategoryTemplates {
		for _, cat := range g.config.Categories {
			if !e.emit(home, strings.ReplaceAll(tmpl, "{cat}", cat)) {
				return false
			}
		}
	}
	return true
}

func (g *Generator) archives(e *emitter, home string) bool {
	for year := g.config.ArchiveFromYear; year <= g.config.ArchiveToYear; year++ {
		for month := 1; month <= 12; month++ {
			r := strings.NewReplacer("{year}", strconv.Itoa(year), "{month}", fmt.Sprintf("%02d", month))
			for _, tmpl := range g.config.ArchiveTemplates {
				if !e.emit(home, r.Replace(tmpl)) {
					return false
				}
			}
		}
	}
	return true
}

// templates expands learned templates that have exactly one placeholder:
// {num} over 2..PaginationCeiling and {param} over the category slugs.
func (g *Generator) templates(e *emitter, home string, templates []string) bool {
	for _, tmpl := range templates {
		if Placeholders(tmpl) != 1 {
			continue
		}
		var values []string
		if strings.Contains(tmpl, placeholderNum) {
			for n := 2; n <= g.config.PaginationCeiling; n++ {
				values = append(values, strconv.Itoa(n))
			}
		} else {
			values = g.config.Categories
		}
		for _, v := range values {
			p := strings.NewReplacer(placeholderNum, v, placeholderParam, v).Replace(tmpl)
			if !e.emit(home, p) {
				return false
			}
		}
	}
	return true
}
