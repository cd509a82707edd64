// Package session tracks asynchronous crawls started by the HTTP service.
//
// A Registry hands out an opaque id per crawl, runs the pipeline in the
// background and answers progress polls from consistent state snapshots.
// Completed sessions expire once nobody has polled them for the TTL.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/jmylchreest/sitescout/internal/logger"
	"github.com/jmylchreest/sitescout/internal/state"
	"github.com/jmylchreest/sitescout/pkg/sitescout"
)

var (
	// ErrNotFound is returned for unknown or expired session ids.
	ErrNotFound = errors.New("session not found")
	// ErrMaxSessions is returned by Start when MaxActive crawls are running.
	ErrMaxSessions = errors.New("maximum concurrent sessions reached")
	// ErrRunning is returned by Result while the crawl is still in progress.
	ErrRunning = errors.New("session still running")
)

// Runner creates and runs crawls. *sitescout.Scout satisfies it.
type Runner interface {
	NewState(seed string) (*state.CrawlState, error)
	Run(ctx context.Context, st *state.CrawlState) (*sitescout.Result, error)
}

// Config controls registry limits.
type Config struct {
	MaxActive    int           `mapstructure:"max_active" yaml:"max_active" validate:"min=1"`
	TTL          time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gt=0"`
	ReapInterval time.Duration `mapstructure:"reap_interval" yaml:"reap_interval" validate:"gt=0"`
}

// DefaultConfig allows five running crawls and keeps finished ones for
// twenty minutes after the last poll.
func DefaultConfig() Config {
	return Config{
		MaxActive:    5,
		TTL:          20 * time.Minute,
		ReapInterval: 5 * time.Minute,
	}
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithContext sets the parent context of every crawl. Cancelling it stops
// all running crawls.
func WithContext(ctx context.Context) Option {
	return func(r *Registry) {
		r.ctx = ctx
	}
}

// Registry owns every live session.
type Registry struct {
	runner Runner
	config Config
	now    func() time.Time
	ctx    context.Context

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id      string
	url     string
	st      *state.CrawlState
	started time.Time
	done    chan struct{}
	cancel  context.CancelFunc

	// guarded by Registry.mu
	lastAccess time.Time
	finished   time.Time
	result     *sitescout.Result
	err        error
}

func (s *session) completed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// NewRegistry creates a registry that runs crawls with runner.
func NewRegistry(runner Runner, cfg Config, opts ...Option) *Registry {
	if cfg.MaxActive < 1 {
		cfg.MaxActive = DefaultConfig().MaxActive
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultConfig().ReapInterval
	}
	r := &Registry{
		runner:   runner,
		config:   cfg,
		now:      time.Now,
		ctx:      context.Background(),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start validates seed, registers a session and runs the crawl in the
// background. The returned id is usable immediately.
func (r *Registry) Start(seed string) (string, error) {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return "", errors.New("url is required")
	}
	st, err := r.runner.NewState(seed)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if r.activeLocked() >= r.config.MaxActive {
		r.mu.Unlock()
		return "", ErrMaxSessions
	}
	ctx, cancel := context.WithCancel(r.ctx)
	now := r.now()
	s := &session{
		id:         uuid.NewString(),
		url:        seed,
		st:         st,
		started:    now,
		lastAccess: now,
		done:       make(chan struct{}),
		cancel:     cancel,
	}
	r.sessions[s.id] = s
	r.mu.Unlock()

	logger.Info("session started", "session", s.id, "url", st.StartURL())
	go r.run(ctx, s)
	return s.id, nil
}

func (r *Registry) run(ctx context.Context, s *session) {
	defer s.cancel()
	result, err := r.runner.Run(ctx, s.st)

	r.mu.Lock()
	s.result = result
	s.err = err
	s.finished = r.now()
	s.lastAccess = s.finished
	close(s.done)
	r.mu.Unlock()

	if err != nil {
		logger.Warn("session failed", "session", s.id, "url", s.url, "error", err)
		return
	}
	logger.Info("session completed", "session", s.id, "url", s.url,
		"visited", humanize.Comma(int64(len(result.Snapshot.Visited))))
}

func (r *Registry) activeLocked() int {
	n := 0
	for _, s := range r.sessions {
		if !s.completed() {
			n++
		}
	}
	return n
}

// Active returns the number of running crawls.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked()
}

// Len returns the number of registered sessions, running or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// touch looks up id and refreshes its last access time.
func (r *Registry) touch(id string) (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.lastAccess = r.now()
	return s, nil
}

// Progress is a poll response.
type Progress struct {
	ID           string            `json:"session_id"`
	URL          string            `json:"url"`
	Crawled      int               `json:"crawled_urls"`
	Total        int               `json:"total_urls"`
	Percentage   float64           `json:"percentage"`
	Completed    bool              `json:"completed"`
	Phase        string            `json:"phase,omitempty"`
	Error        string            `json:"error,omitempty"`
	ErrorDetails string            `json:"error_details,omitempty"`
	Visited      []string          `json:"visited_urls,omitempty"`
	Titles       map[string]string `json:"url_titles,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// Progress reports the state of session id. Visited URLs and titles are
// included once the crawl has completed successfully.
func (r *Registry) Progress(id string) (Progress, error) {
	s, err := r.touch(id)
	if err != nil {
		return Progress{}, err
	}
	snap := s.st.Snapshot()

	r.mu.Lock()
	completed := s.completed()
	crawlErr := s.err
	finished := s.finished
	r.mu.Unlock()

	p := Progress{
		ID:        s.id,
		URL:       s.url,
		Crawled:   len(snap.Visited),
		Total:     snap.MaxURLs,
		Completed: completed,
		Phase:     snap.Phase,
		StartedAt: s.started,
	}
	switch {
	case completed:
		p.Percentage = 100
		p.CompletedAt = &finished
	case p.Total > 0:
		p.Percentage = math.Round(float64(p.Crawled)/float64(p.Total)*10000) / 100
	}
	if !completed {
		return p, nil
	}
	if crawlErr != nil {
		p.Error, p.ErrorDetails = describe(crawlErr, snap)
		return p, nil
	}
	p.Visited = snap.SortedVisited()
	p.Titles = snap.Titles
	return p, nil
}

// describe turns a crawl error into the short message and the multi-line
// diagnostic block shown to the user.
func describe(err error, snap state.Snapshot) (string, string) {
	var npe *sitescout.NoPagesError
	if !errors.As(err, &npe) {
		return err.Error(), ""
	}
	d := npe.Diagnostics
	var b strings.Builder
	fmt.Fprintf(&b, "Normalized URL: %s\n", d.StartURL)
	fmt.Fprintf(&b, "Domain: %s\n", d.Domain)
	fmt.Fprintf(&b, "Visited URLs: %d\n", len(snap.Visited))
	if d.Error != "" {
		fmt.Fprintf(&b, "URL test error: %s", d.Error)
		return "No pages found", b.String()
	}
	fmt.Fprintf(&b, "HTTP Status: %d\n", d.StatusCode)
	fmt.Fprintf(&b, "Content-Type: %s\n", d.ContentType)
	fmt.Fprintf(&b, "Response size: %s\n", humanize.Bytes(uint64(d.Size)))
	if d.StatusCode == 200 {
		b.WriteString("Page is reachable but no links were found")
	} else {
		fmt.Fprintf(&b, "Page access error: HTTP %d", d.StatusCode)
	}
	return "No pages found", b.String()
}

// Result returns the finished crawl of session id.
func (r *Registry) Result(id string) (*sitescout.Result, error) {
	s, err := r.touch(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !s.completed() {
		return nil, ErrRunning
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// Reap removes completed sessions whose last access is older than the TTL.
// Running sessions are never removed. It returns the number removed.
func (r *Registry) Reap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	n := 0
	for id, s := range r.sessions {
		if s.completed() && now.Sub(s.lastAccess) > r.config.TTL {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// Run reaps expired sessions every ReapInterval until ctx ends, then
// cancels all running crawls.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Shutdown()
			return
		case <-ticker.C:
			if n := r.Reap(); n > 0 {
				logger.Debug("expired sessions removed", "count", n, "remaining", r.Len())
			}
		}
	}
}

// Shutdown cancels every running crawl.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		s.cancel()
	}
}
