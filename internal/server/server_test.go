package server

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/sitescout/internal/session"
	"github.com/jmylchreest/sitescout/internal/state"
	"github.com/jmylchreest/sitescout/pkg/sitescout"
)

type fakeRegistry struct {
	mu       sync.Mutex
	started  []string
	startErr error
	progress map[string]session.Progress
	results  map[string]*sitescout.Result
	errs     map[string]error
	active   int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		progress: make(map[string]session.Progress),
		results:  make(map[string]*sitescout.Result),
		errs:     make(map[string]error),
	}
}

func (f *fakeRegistry) Start(seed string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, seed)
	return "sess-1", nil
}

func (f *fakeRegistry) Progress(id string) (session.Progress, error) {
	p, ok := f.progress[id]
	if !ok {
		return session.Progress{}, session.ErrNotFound
	}
	return p, nil
}

func (f *fakeRegistry) Active() int { return f.active }

func (f *fakeRegistry) Result(id string) (*sitescout.Result, error) {
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	r, ok := f.results[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return r, nil
}

func testResult() *sitescout.Result {
	return &sitescout.Result{
		CompletedAt: time.Date(2024, 3, 9, 17, 0, 0, 0, time.UTC),
		Snapshot: state.Snapshot{
			Visited: []string{"https://example.org/blog/", "https://example.org"},
			Titles: map[string]string{
				"https://example.org":       "Example",
				"https://example.org/blog/": "Blog Home",
			},
		},
	}
}

func postCrawl(t *testing.T, h http.Handler, body, remote string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/crawl", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if remote != "" {
		req.RemoteAddr = remote
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// --- Route Tests ---

func TestServer_Health(t *testing.T) {
	reg := newFakeRegistry()
	reg.active = 2
	s := New(reg, DefaultConfig())

	rr := get(s, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)
	assert.Contains(t, rr.Body.String(), `"active_sessions":2`)
}

func TestServer_Crawl_Started(t *testing.T) {
	reg := newFakeRegistry()
	s := New(reg, DefaultConfig())

	rr := postCrawl(t, s, `{"url": "  example.org "}`, "")
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var resp crawlResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.Equal(t, "example.org", resp.URL)
	assert.Equal(t, "Crawling started", resp.Message)
	assert.Equal(t, []string{"example.org"}, reg.started)
}

func TestServer_Crawl_BadRequest(t *testing.T) {
	s := New(newFakeRegistry(), DefaultConfig())

	for _, body := range []string{`not json`, `{}`, `{"url": "   "}`} {
		rr := postCrawl(t, s, body, "10.0.0.1:1234")
		assert.Equal(t, http.StatusBadRequest, rr.Code, "body %q", body)
	}

	rr := postCrawl(t, s, `{"url":"`+strings.Repeat("a", 2049)+`"}`, "10.0.0.2:1234")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServer_Crawl_InvalidSeed(t *testing.T) {
	reg := newFakeRegistry()
	reg.startErr = errors.New(`invalid seed url "ftp://x": unsupported scheme`)
	s := New(reg, DefaultConfig())

	rr := postCrawl(t, s, `{"url":"ftp://x"}`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "unsupported scheme")
}

func TestServer_Crawl_RegistryFull(t *testing.T) {
	reg := newFakeRegistry()
	reg.startErr = session.ErrMaxSessions
	s := New(reg, DefaultConfig())

	rr := postCrawl(t, s, `{"url":"example.org"}`, "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestServer_Crawl_RateLimited(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(newFakeRegistry(), DefaultConfig(), WithClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		rr := postCrawl(t, s, `{"url":"example.org"}`, "192.0.2.1:5555")
		require.Equal(t, http.StatusAccepted, rr.Code, "request %d", i)
	}
	rr := postCrawl(t, s, `{"url":"example.org"}`, "192.0.2.1:6666")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Contains(t, rr.Body.String(), "Maximum 3 requests per 30s")

	// other clients are unaffected
	rr = postCrawl(t, s, `{"url":"example.org"}`, "192.0.2.2:5555")
	assert.Equal(t, http.StatusAccepted, rr.Code)

	// still inside the window
	now = now.Add(20 * time.Second)
	rr = postCrawl(t, s, `{"url":"example.org"}`, "192.0.2.1:5555")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	// the first three have left the window
	now = now.Add(10 * time.Second)
	rr = postCrawl(t, s, `{"url":"example.org"}`, "192.0.2.1:5555")
	assert.Equal(t, http.StatusAccepted, rr.Code)
}

func TestServer_Progress(t *testing.T) {
	reg := newFakeRegistry()
	reg.progress["sess-1"] = session.Progress{ID: "sess-1", URL: "example.org", Crawled: 5, Total: 10, Percentage: 50}
	s := New(reg, DefaultConfig())

	rr := get(s, "/progress/sess-1")
	require.Equal(t, http.StatusOK, rr.Code)

	var p session.Progress
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	assert.Equal(t, 5, p.Crawled)
	assert.Equal(t, 50.0, p.Percentage)

	rr = get(s, "/progress/unknown")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// --- Download Tests ---

func TestServer_Download_CSV(t *testing.T) {
	reg := newFakeRegistry()
	reg.results["sess-1"] = testResult()
	s := New(reg, DefaultConfig())

	rr := get(s, "/download/sess-1/urls.csv")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="urls.csv"`, rr.Header().Get("Content-Disposition"))

	rows, err := csv.NewReader(rr.Body).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"URL", "Title"},
		{"https://example.org", "Example"},
		{"https://example.org/blog/", "Blog Home"},
	}, rows)
}

func TestServer_Download_Sitemap(t *testing.T) {
	reg := newFakeRegistry()
	reg.results["sess-1"] = testResult()
	s := New(reg, DefaultConfig())

	rr := get(s, "/download/sess-1/sitemap.xml")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/xml", rr.Header().Get("Content-Type"))
	body := rr.Body.String()
	assert.Contains(t, body, "<lastmod>2024-03-09</lastmod>")
	assert.Less(t, strings.Index(body, "<loc>https://example.org</loc>"), strings.Index(body, "<loc>https://example.org/blog/</loc>"))
}

func TestServer_Download_XLSX(t *testing.T) {
	reg := newFakeRegistry()
	reg.results["sess-1"] = testResult()
	s := New(reg, DefaultConfig())

	rr := get(s, "/download/sess-1/urls.xlsx")
	require.Equal(t, http.StatusOK, rr.Code)
	// xlsx files are zip archives
	assert.True(t, bytes.HasPrefix(rr.Body.Bytes(), []byte("PK")))
}

func TestServer_Download_Errors(t *testing.T) {
	reg := newFakeRegistry()
	reg.errs["running"] = session.ErrRunning
	reg.errs["failed"] = &sitescout.NoPagesError{}
	reg.results["sess-1"] = testResult()
	s := New(reg, DefaultConfig())

	assert.Equal(t, http.StatusNotFound, get(s, "/download/unknown/urls.csv").Code)
	assert.Equal(t, http.StatusConflict, get(s, "/download/running/urls.csv").Code)
	assert.Equal(t, http.StatusNotFound, get(s, "/download/failed/urls.csv").Code)
	assert.Equal(t, http.StatusNotFound, get(s, "/download/sess-1/urls.pdf").Code)
}

// --- Limiter Tests ---

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:4321"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	assert.Equal(t, "198.51.100.7", clientIP(req, false))
	assert.Equal(t, "203.0.113.9", clientIP(req, true))
}

func TestClientLimiter_PrunesIdleClients(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newClientLimiter(3, 30*time.Second, func() time.Time { return now })

	assert.True(t, l.Allow("a"))
	now = now.Add(2 * time.Minute)
	assert.True(t, l.Allow("b"))
	assert.Len(t, l.clients, 1)
}

func TestClientLimiter_SlidingWindow(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	l := newClientLimiter(3, 30*time.Second, func() time.Time { return now })

	admitted := 0
	for _, at := range []time.Duration{0, 0, 0, 10*time.Second + time.Millisecond, 20*time.Second + 2*time.Millisecond} {
		now = start.Add(at)
		if l.Allow("a") {
			admitted++
		}
	}
	assert.Equal(t, 3, admitted)

	now = start.Add(30 * time.Second)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
}
