package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/sitescout/internal/state"
	"github.com/jmylchreest/sitescout/pkg/sitescout"
)

// fakeRunner blocks every Run until release is closed, then finishes with
// err or a result built from the state.
type fakeRunner struct {
	release chan struct{}
	err     error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{release: make(chan struct{})}
}

func (f *fakeRunner) NewState(seed string) (*state.CrawlState, error) {
	if seed == "bad" {
		return nil, errors.New("invalid seed url")
	}
	start := "https://" + seed
	st := state.New(state.Params{StartURL: start, Domain: seed, BaseDomain: seed, MaxURLs: 10})
	st.Insert(start, state.OriginSeed)
	return st, nil
}

func (f *fakeRunner) Run(ctx context.Context, st *state.CrawlState) (*sitescout.Result, error) {
	st.SetPhase("crawler")
	st.Insert(st.StartURL()+"/b", state.OriginLink)
	st.Insert(st.StartURL()+"/a", state.OriginLink)
	st.SetTitle(st.StartURL()+"/a", "Page A", 200)
	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	st.Complete(time.Now())
	return &sitescout.Result{Snapshot: st.Snapshot()}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func waitDone(t *testing.T, r *Registry, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		p, err := r.Progress(id)
		return err == nil && p.Completed
	}, 5*time.Second, 5*time.Millisecond, "session did not finish")
}

// --- Registry Tests ---

func TestRegistry_Start_InvalidSeed(t *testing.T) {
	r := NewRegistry(newFakeRunner(), DefaultConfig())

	_, err := r.Start("")
	assert.Error(t, err)
	_, err = r.Start("bad")
	assert.Error(t, err)
	assert.Zero(t, r.Len())
}

func TestRegistry_Progress_Running(t *testing.T) {
	runner := newFakeRunner()
	r := NewRegistry(runner, DefaultConfig())
	defer close(runner.release)

	id, err := r.Start("example.org")
	require.NoError(t, err)
	assert.Len(t, id, 36)

	require.Eventually(t, func() bool {
		p, err := r.Progress(id)
		return err == nil && p.Crawled == 3
	}, 5*time.Second, 10*time.Millisecond)

	p, err := r.Progress(id)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "example.org", p.URL)
	assert.Equal(t, 10, p.Total)
	assert.Equal(t, 30.0, p.Percentage)
	assert.False(t, p.Completed)
	assert.Equal(t, "crawler", p.Phase)
	assert.Empty(t, p.Visited)
	assert.Nil(t, p.CompletedAt)

	_, err = r.Result(id)
	assert.ErrorIs(t, err, ErrRunning)
	assert.Equal(t, 1, r.Active())
}

func TestRegistry_Progress_Completed(t *testing.T) {
	runner := newFakeRunner()
	r := NewRegistry(runner, DefaultConfig())

	id, err := r.Start("example.org")
	require.NoError(t, err)
	close(runner.release)
	waitDone(t, r, id)

	p, err := r.Progress(id)
	require.NoError(t, err)
	assert.True(t, p.Completed)
	assert.Equal(t, 100.0, p.Percentage)
	assert.Empty(t, p.Error)
	assert.Equal(t, []string{"https://example.org", "https://example.org/a", "https://example.org/b"}, p.Visited)
	assert.Equal(t, "Page A", p.Titles["https://example.org/a"])
	assert.NotNil(t, p.CompletedAt)

	result, err := r.Result(id)
	require.NoError(t, err)
	assert.Len(t, result.Snapshot.Visited, 3)
	assert.Zero(t, r.Active())
}

func TestRegistry_Progress_NoPages(t *testing.T) {
	runner := newFakeRunner()
	runner.err = &sitescout.NoPagesError{Diagnostics: sitescout.Diagnostics{
		StartURL:    "https://example.org",
		Domain:      "example.org",
		StatusCode:  404,
		ContentType: "text/html",
		Size:        1500,
		Outcome:     "fetched",
	}}
	r := NewRegistry(runner, DefaultConfig())

	id, err := r.Start("example.org")
	require.NoError(t, err)
	close(runner.release)
	waitDone(t, r, id)

	p, err := r.Progress(id)
	require.NoError(t, err)
	assert.True(t, p.Completed)
	assert.Equal(t, "No pages found", p.Error)
	assert.Contains(t, p.ErrorDetails, "Normalized URL: https://example.org")
	assert.Contains(t, p.ErrorDetails, "HTTP Status: 404")
	assert.Contains(t, p.ErrorDetails, "Response size: 1.5 kB")
	assert.Contains(t, p.ErrorDetails, "Page access error: HTTP 404")
	assert.Empty(t, p.Visited)

	_, err = r.Result(id)
	assert.ErrorIs(t, err, sitescout.ErrNoPagesFound)
}

func TestRegistry_Progress_NotFound(t *testing.T) {
	r := NewRegistry(newFakeRunner(), DefaultConfig())

	_, err := r.Progress("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Result("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_Start_MaxActive(t *testing.T) {
	runner := newFakeRunner()
	cfg := DefaultConfig()
	cfg.MaxActive = 2
	r := NewRegistry(runner, cfg)

	first, err := r.Start("a.example")
	require.NoError(t, err)
	_, err = r.Start("b.example")
	require.NoError(t, err)

	_, err = r.Start("c.example")
	assert.ErrorIs(t, err, ErrMaxSessions)

	close(runner.release)
	waitDone(t, r, first)
	require.Eventually(t, func() bool { return r.Active() == 0 }, 5*time.Second, 10*time.Millisecond)

	_, err = r.Start("c.example")
	assert.NoError(t, err)
}

func TestRegistry_Reap(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	runner := newFakeRunner()
	r := NewRegistry(runner, DefaultConfig(), WithClock(clock.Now))

	finished, err := r.Start("done.example")
	require.NoError(t, err)
	close(runner.release)
	waitDone(t, r, finished)

	runner.release = make(chan struct{})
	running, err := r.Start("running.example")
	require.NoError(t, err)
	defer close(runner.release)

	clock.Advance(19 * time.Minute)
	assert.Zero(t, r.Reap())

	// polling refreshes the access time
	_, err = r.Progress(finished)
	require.NoError(t, err)
	clock.Advance(19 * time.Minute)
	assert.Zero(t, r.Reap())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, r.Reap())

	_, err = r.Progress(finished)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Progress(running)
	assert.NoError(t, err, "running sessions never expire")
}

func TestRegistry_Run_ShutdownCancelsCrawls(t *testing.T) {
	runner := newFakeRunner()
	cfg := DefaultConfig()
	cfg.ReapInterval = 10 * time.Millisecond
	r := NewRegistry(runner, cfg)

	id, err := r.Start("example.org")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	waitDone(t, r, id)
	p, err := r.Progress(id)
	require.NoError(t, err)
	assert.True(t, p.Completed)
	assert.Equal(t, context.Canceled.Error(), p.Error)
}

func TestRegistry_WithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRegistry(newFakeRunner(), DefaultConfig(), WithContext(ctx))

	id, err := r.Start("example.org")
	require.NoError(t, err)
	cancel()
	waitDone(t, r, id)

	_, err = r.Result(id)
	assert.ErrorIs(t, err, context.Canceled)
}
