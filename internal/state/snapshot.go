package state

import (
	"sort"
	"time"
)

// Snapshot is a detached copy of a CrawlState. It is what pollers observe and
// what the snapshot store persists.
type Snapshot struct {
	StartURL       string            `json:"start_url" yaml:"start_url"`
	Domain         string            `json:"domain" yaml:"domain"`
	BaseDomain     string            `json:"base_domain" yaml:"base_domain"`
	MaxURLs        int               `json:"max_urls" yaml:"max_urls"`
	MaxDepth       int               `json:"max_depth" yaml:"max_depth"`
	AllowedDomains []string          `json:"allowed_domains" yaml:"allowed_domains"`
	Subdomains     []string          `json:"subdomains,omitempty" yaml:"subdomains,omitempty"`
	Visited        []string          `json:"visited" yaml:"visited"`
	Origins        map[string]Origin `json:"origins,omitempty" yaml:"origins,omitempty"`
	Titles         map[string]string `json:"titles" yaml:"titles"`
	Statuses       map[string]int    `json:"statuses,omitempty" yaml:"statuses,omitempty"`
	Patterns       []string          `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	Crawled        int               `json:"crawled" yaml:"crawled"`
	Succeeded      int               `json:"succeeded" yaml:"succeeded"`
	Discovered     int               `json:"discovered" yaml:"discovered"`
	Phase          string            `json:"phase,omitempty" yaml:"phase,omitempty"`
	Completed      bool              `json:"completed" yaml:"completed"`
	CompletedAt    time.Time         `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	TakenAt        time.Time         `json:"taken_at" yaml:"taken_at"`
}

// Snapshot copies the current state. Visited keeps insertion order.
func (s *CrawlState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := make([]string, 0, len(s.allowed))
	for h := range s.allowed {
		allowed = append(allowed, h)
	}
	sort.Strings(allowed)

	origins := make(map[string]Origin, len(s.visited))
	for u, o := range s.visited {
		origins[u] = o
	}
	titles := make(map[string]string, len(s.titles))
	for u, t := range s.titles {
		titles[u] = t
	}
	statuses := make(map[string]int, len(s.statuses))
	for u, c := range s.statuses {
		statuses[u] = c
	}

	return Snapshot{
		StartURL:       s.startURL,
		Domain:         s.domain,
		BaseDomain:     s.baseDomain,
		MaxURLs:        s.maxURLs,
		MaxDepth:       s.maxDepth,
		AllowedDomains: allowed,
		Subdomains:     append([]string(nil), s.subdomains...),
		Visited:        append([]string(nil), s.order...),
		Origins:        origins,
		Titles:         titles,
		Statuses:       statuses,
		Patterns:       append([]string(nil), s.patterns...),
		Crawled:        s.crawled,
		Succeeded:      s.fetchedOK,
		Discovered:     len(s.order),
		Phase:          s.phase,
		Completed:      s.completed,
		CompletedAt:    s.completedAt,
		TakenAt:        time.Now().UTC(),
	}
}

// Restore rebuilds a state from a snapshot. Visited entries are restored as
// recorded, without re-applying the validity policy.
func Restore(snap Snapshot) *CrawlState {
	s := New(Params{
		StartURL:   snap.StartURL,
		Domain:     snap.Domain,
		BaseDomain: snap.BaseDomain,
		MaxURLs:    snap.MaxURLs,
		MaxDepth:   snap.MaxDepth,
	})
	for _, h := range snap.AllowedDomains {
		s.allowed[h] = struct{}{}
	}
	s.subdomains = append(s.subdomains, snap.Subdomains...)
	for _, u := range snap.Visited {
		if _, dup := s.visited[u]; dup {
			continue
		}
		origin := snap.Origins[u]
		if origin == "" {
			origin = OriginLink
		}
		s.visited[u] = origin
		s.order = append(s.order, u)
	}
	for u, t := range snap.Titles {
		if _, ok := s.visited[u]; ok {
			s.titles[u] = t
		}
	}
	for u, c := range snap.Statuses {
		if _, ok := s.visited[u]; ok {
			s.statuses[u] = c
		}
	}
	for _, p := range snap.Patterns {
		if _, ok := s.patternSet[p]; !ok {
			s.patternSet[p] = struct{}{}
			s.patterns = append(s.patterns, p)
		}
	}
	s.crawled = snap.Crawled
	s.fetchedOK = snap.Succeeded
	s.completed = snap.Completed
	s.completedAt = snap.CompletedAt
	return s
}

// SortedVisited returns the snapshot's visited URLs in lexicographic order.
func (snap Snapshot) SortedVisited() []string {
	out := append([]string(nil), snap.Visited...)
	sort.Strings(out)
	return out
}
