// Package state holds the shared, per-crawl discovery state.
//
// A CrawlState is mutated by one pipeline at a time and may be observed
// concurrently by pollers through Snapshot. Every mutation happens under a
// single lock, so Insert also serves as the atomic dedup and cap arbiter when
// the deep crawl runs with several workers.
package state

import (
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/sitescout/internal/urlpolicy"
)

// Origin records how a URL entered the visited set.
type Origin string

const (
	OriginSeed      Origin = "seed"
	OriginSubdomain Origin = "subdomain"
	OriginSitemap   Origin = "sitemap"
	OriginHub       Origin = "hub"
	OriginGenerated Origin = "generated"
	OriginLink      Origin = "link"
)

// InsertResult is the outcome of Insert.
type InsertResult int

const (
	// Inserted means the URL was added to visited.
	Inserted InsertResult = iota
	// Rejected means the URL failed the validity policy (out of scope,
	// denied extension or already visited).
	Rejected
	// CapReached means visited already holds MaxURLs entries.
	CapReached
)

// Params are the immutable inputs of a crawl.
type Params struct {
	StartURL   string
	Domain     string
	BaseDomain string
	MaxURLs    int
	MaxDepth   int
}

// CrawlState is the single mutable record of one crawl.
type CrawlState struct {
	mu sync.RWMutex

	startURL   string
	domain     string
	baseDomain string
	maxURLs    int
	maxDepth   int

	allowed    map[string]struct{}
	subdomains []string

	visited map[string]Origin
	order   []string

	titles   map[string]string
	statuses map[string]int

	patterns   []string
	patternSet map[string]struct{}

	crawled     int
	fetchedOK   int
	phase       string
	completed   bool
	completedAt time.Time
}

// New creates a state whose allowed domain set is {Domain}. The start URL is
// not inserted; callers insert it with OriginSeed.
func New(p Params) *CrawlState {
	return &CrawlState{
		startURL:   p.StartURL,
		domain:     p.Domain,
		baseDomain: p.BaseDomain,
		maxURLs:    p.MaxURLs,
		maxDepth:   p.MaxDepth,
		allowed:    map[string]struct{}{p.Domain: {}},
		visited:    make(map[string]Origin),
		titles:     make(map[string]string),
		statuses:   make(map[string]int),
		patternSet: make(map[string]struct{}),
	}
}

func (s *CrawlState) StartURL() string   { return s.startURL }
func (s *CrawlState) Domain() string     { return s.domain }
func (s *CrawlState) BaseDomain() string { return s.baseDomain }
func (s *CrawlState) MaxURLs() int       { return s.maxURLs }
func (s *CrawlState) MaxDepth() int      { return s.maxDepth }

// HomeURL returns the canonical homepage of host using the start URL's
// scheme.
func (s *CrawlState) HomeURL(host string) string {
	scheme := "https"
	if u, err := url.Parse(s.startURL); err == nil && u.Scheme != "" {
		scheme = u.Scheme
	}
	return scheme + "://" + host
}

// scope is the lock-free view handed to the validity policy while s.mu is
// already held.
type scope struct{ s *CrawlState }

func (v scope) AllowsHost(host string) bool {
	_, ok := v.s.allowed[host]
	return ok
}

func (v scope) Contains(rawURL string) bool {
	_, ok := v.s.visited[rawURL]
	return ok
}

// AllowsHost reports whether host is in the allowed domain set.
func (s *CrawlState) AllowsHost(host string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scope{s}.AllowsHost(host)
}

// Contains reports whether rawURL is visited.
func (s *CrawlState) Contains(rawURL string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scope{s}.Contains(rawURL)
}

// IsValid applies the validity policy against the current state.
func (s *CrawlState) IsValid(rawURL string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return urlpolicy.IsValid(rawURL, scope{s})
}

// AddSubdomain allows host and records it as a discovered subdomain.
func (s *CrawlState) AddSubdomain(host string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.allowed[host]; ok {
		return false
	}
	s.allowed[host] = struct{}{}
	s.subdomains = append(s.subdomains, host)
	return true
}

// Subdomains returns discovered subdomains in discovery order.
func (s *CrawlState) Subdomains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.subdomains...)
}

// Hosts returns the crawl domain followed by discovered subdomains.
func (s *CrawlState) Hosts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hosts := make([]string, 0, len(s.subdomains)+1)
	hosts = append(hosts, s.domain)
	return append(hosts, s.subdomains...)
}

// AllowedDomains returns the allowed set, sorted.
func (s *CrawlState) AllowedDomains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.allowed))
	for h := range s.allowed {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Insert adds a canonical URL to visited when the cap allows it and the URL
// passes the validity policy. The cap is checked first.
func (s *CrawlState) Insert(rawURL string, origin Origin) InsertResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxURLs > 0 && len(s.order) >= s.maxURLs {
		return CapReached
	}
	if !urlpolicy.IsValid(rawURL, scope{s}) {
		return Rejected
	}
	s.visited[rawURL] = origin
	s.order = append(s.order, rawURL)
	return Inserted
}

// Full reports whether the global cap has been reached.
func (s *CrawlState) Full() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxURLs > 0 && len(s.order) >= s.maxURLs
}

// Len returns the number of visited URLs.
func (s *CrawlState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Origin returns how rawURL entered visited.
func (s *CrawlState) Origin(rawURL string) (Origin, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.visited[rawURL]
	return o, ok
}

// Visited returns visited URLs in insertion order.
func (s *CrawlState) Visited() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Batch returns at most n visited URLs, oldest first.
func (s *CrawlState) Batch(n int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.order) {
		n = len(s.order)
	}
	return append([]string(nil), s.order[:n]...)
}

// SetTitle records a title (or placeholder) and the HTTP status for a visited
// URL. Status 0 means no response was received. Unknown URLs are ignored.
func (s *CrawlState) SetTitle(rawURL, title string, status int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visited[rawURL]; !ok {
		return false
	}
	s.titles[rawURL] = title
	if status != 0 {
		s.statuses[rawURL] = status
	}
	return true
}

// Title returns the recorded title for rawURL.
func (s *CrawlState) Title(rawURL string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.titles[rawURL]
	return t, ok
}

// Titles returns a copy of the URL to title map.
func (s *CrawlState) Titles() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.titles))
	for u, t := range s.titles {
		out[u] = t
	}
	return out
}

// Untitled returns visited URLs without a title, in insertion order.
func (s *CrawlState) Untitled() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, u := range s.order {
		if _, ok := s.titles[u]; !ok {
			out = append(out, u)
		}
	}
	return out
}

// AddPattern appends a learned path template unless it is already known.
func (s *CrawlState) AddPattern(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patternSet[p]; ok {
		return false
	}
	s.patternSet[p] = struct{}{}
	s.patterns = append(s.patterns, p)
	return true
}

// Patterns returns learned templates in discovery order.
func (s *CrawlState) Patterns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.patterns...)
}

// MarkCrawled counts one page fetch. ok marks a 200 response.
func (s *CrawlState) MarkCrawled(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crawled++
	if ok {
		s.fetchedOK++
	}
}

// Crawled returns the number of page fetches performed.
func (s *CrawlState) Crawled() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.crawled
}

// SetPhase records the running phase name for progress reporting.
func (s *CrawlState) SetPhase(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = name
}

// Phase returns the running phase name, empty before the first phase and
// after completion.
func (s *CrawlState) Phase() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Complete freezes the state as finished.
func (s *CrawlState) Complete(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = true
	s.completedAt = at
	s.phase = ""
}

// Completed reports whether Complete was called.
func (s *CrawlState) Completed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed
}

// Evidence counts URLs, other than the seed, that were observed on the site
// rather than guessed, plus every URL answered with a 200. Generated URLs
// that were never confirmed do not count.
func (s *CrawlState) Evidence() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for u, origin := range s.visited {
		if origin == OriginSeed {
			continue
		}
		if origin != OriginGenerated || s.statuses[u] == 200 {
			n++
		}
	}
	return n
}
