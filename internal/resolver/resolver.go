// Package resolver establishes the crawl's base domain and probes for live
// subdomains that join the allowed domain set.
package resolver

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/jmylchreest/sitescout/internal/links"
	"github.com/jmylchreest/sitescout/internal/logger"
	"github.com/jmylchreest/sitescout/internal/state"
	"github.com/jmylchreest/sitescout/pkg/fetcher"
)

// Config controls subdomain discovery.
type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	PageTimeout   time.Duration `mapstructure:"page_timeout" validate:"gt=0"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout" validate:"gt=0"`
	Quota         int           `mapstructure:"quota" validate:"gte=0"`
	MaxProbes     int           `mapstructure:"max_probes" validate:"gte=0"`
	Prefixes      []string      `mapstructure:"prefixes"`
	Labels        []string      `mapstructure:"labels"`
	ProbeStatuses []int         `mapstructure:"probe_statuses"`
}

// DefaultConfig returns the default discovery settings.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		PageTimeout:   3 * time.Second,
		ProbeTimeout:  2 * time.Second,
		Quota:         10,
		MaxProbes:     30,
		Prefixes:      []string{"www", "blog", "api", "app", "help", "support", "docs"},
		Labels:        []string{"www", "blog", "api", "app", "help", "support"},
		ProbeStatuses: []int{http.StatusOK, http.StatusMovedPermanently, http.StatusFound, http.StatusForbidden},
	}
}

const (
	minLabelLen = 2
	maxLabelLen = 19
)

// BaseDomain derives the registrable base of host. A host of three or more
// labels whose first label is one of prefixes loses that prefix down to
// eTLD+1, so "blog.example.com" becomes "example.com" and
// "www.example.com.tr" becomes "example.com.tr". Any other host, IP
// addresses included, is its own base. The port is dropped.
func BaseDomain(host string, prefixes []string) string {
	hostname := strings.TrimSuffix(strings.ToLower(host), ".")
	if h, _, err := net.SplitHostPort(hostname); err == nil {
		hostname = h
	}
	if isIP(hostname) {
		return hostname
	}

	labels := strings.Split(hostname, ".")
	if len(labels) < 3 || !slices.Contains(prefixes, labels[0]) {
		return hostname
	}

	keep := 2
	if suffix, _ := publicsuffix.PublicSuffix(hostname); strings.Contains(suffix, ".") {
		keep = strings.Count(suffix, ".") + 2
	}
	if keep >= len(labels) {
		return strings.Join(labels[1:], ".")
	}
	return strings.Join(labels[len(labels)-keep:], ".")
}

func isIP(hostname string) bool {
	return net.ParseIP(strings.Trim(hostname, "[]")) != nil
}

// Resolver is the subdomain discovery phase.
type Resolver struct {
	fetcher fetcher.Fetcher
	config  Config
}

// New creates a resolver phase.
func New(f fetcher.Fetcher, cfg Config) *Resolver {
	return &Resolver{fetcher: f, config: cfg}
}

// Name implements the phase interface.
func (r *Resolver) Name() string { return "resolver" }

// Run probes candidate subdomains of the state's base domain. Live hosts are
// allowed and their homepages inserted with OriginSubdomain. Probe failures
// mean "does not exist"; Run never fails the crawl.
func (r *Resolver) Run(ctx context.Context, st *state.CrawlState) {
	if !r.config.Enabled || st.BaseDomain() == "" {
		return
	}
	if isIP(st.BaseDomain()) {
		logger.Debug("skipping subdomain discovery for IP address", "host", st.BaseDomain())
		return
	}
	logger.Info("discovering subdomains", "base_domain", st.BaseDomain())

	labels := r.candidates(ctx, st)
	port := portSuffix(st.Domain())

	found, probes := 0, 0
	for _, label := range labels {
		if ctx.Err() != nil || found >= r.config.Quota {
			break
		}
		if r.config.MaxProbes > 0 && probes >= r.config.MaxProbes {
			logger.Debug("subdomain probe limit reached", "max_probes", r.config.MaxProbes)
			break
		}
		host := label + "." + st.BaseDomain() + port
		if st.AllowsHost(host) {
			continue
		}

		probes++
		home := st.HomeURL(host)
		if !r.exists(ctx, home) {
			continue
		}
		if st.AddSubdomain(host) {
			st.Insert(home, state.OriginSubdomain)
			found++
			logger.Info("found subdomain", "host", host)
		}
	}

	logger.Info("subdomain discovery complete",
		"probed", probes,
		"found", found,
		"allowed_domains", len(st.AllowedDomains()))
}

func (r *Resolver) exists(ctx context.Context, home string) bool {
	resp, err := r.fetcher.Fetch(ctx, home, fetcher.Options{
		Method:  http.MethodHead,
		Timeout: r.config.ProbeTimeout,
	})
	if outcome := fetcher.Classify(resp, err); outcome != fetcher.Fetched {
		logger.Debug("subdomain probe failed", "url", home, "outcome", outcome)
		return false
	}
	return slices.Contains(r.config.ProbeStatuses, resp.StatusCode)
}

// candidates returns the conventional labels followed by labels found in
// the start page, without duplicates.
func (r *Resolver) candidates(ctx context.Context, st *state.CrawlState) []string {
	out := append([]string(nil), r.config.Labels...)
	for _, label := range r.scanStartPage(ctx, st) {
		if !slices.Contains(out, label) {
			out = append(out, label)
		}
	}
	return out
}

func (r *Resolver) scanStartPage(ctx context.Context, st *state.CrawlState) []string {
	resp, err := r.fetcher.Fetch(ctx, st.StartURL(), fetcher.Options{Timeout: r.config.PageTimeout})
	if fetcher.Classify(resp, err) != fetcher.Fetched || !resp.OK() {
		logger.Debug("start page unavailable for subdomain scan", "url", st.StartURL(), "status", resp.StatusCode, "error", err)
		return nil
	}
	doc, err := links.Parse(resp.Body)
	if err != nil {
		return nil
	}
	labels := Labels(links.Hrefs(doc), links.Scripts(doc), st.BaseDomain(), st.Domain())
	logger.Debug("subdomain candidates from content", "count", len(labels))
	return labels
}

// Labels collects single-label subdomain candidates of baseDomain from
// anchor hrefs and inline script text. The crawl's own host is skipped.
func Labels(hrefs, scripts []string, baseDomain, domain string) []string {
	var out []string
	add := func(label string) {
		label = strings.ToLower(label)
		if len(label) < minLabelLen || len(label) > maxLabelLen || strings.Contains(label, ".") {
			return
		}
		if !slices.Contains(out, label) {
			out = append(out, label)
		}
	}

	self := strings.ToLower(domain)
	if h, _, err := net.SplitHostPort(self); err == nil {
		self = h
	}
	suffix := "." + baseDomain
	for _, href := range hrefs {
		if !strings.Contains(href, baseDomain) {
			continue
		}
		if strings.HasPrefix(href, "//") {
			href = "https:" + href
		}
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if host == "" || host == self || !strings.HasSuffix(host, suffix) {
			continue
		}
		add(strings.TrimSuffix(host, suffix))
	}

	pattern := regexp.MustCompile(`([a-zA-Z0-9\-]+)\.` + regexp.QuoteMeta(baseDomain))
	for _, text := range scripts {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			if strings.ToLower(m[1])+suffix == self {
				continue
			}
			add(m[1])
		}
	}
	return out
}

func portSuffix(host string) string {
	if _, port, err := net.SplitHostPort(host); err == nil && port != "" {
		return ":" + port
	}
	return ""
}
