package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jmylchreest/sitescout/internal/metadata"
	"github.com/jmylchreest/sitescout/internal/robots"
	"github.com/jmylchreest/sitescout/internal/state"
	"github.com/jmylchreest/sitescout/pkg/fetcher"
	"github.com/jmylchreest/sitescout/pkg/fetcher/fetchertest"
)

const home = "https://example.org"

func newState(t *testing.T, maxURLs, maxDepth int, extra ...string) *state.CrawlState {
	t.Helper()
	st := state.New(state.Params{
		StartURL:   home,
		Domain:     "example.org",
		BaseDomain: "example.org",
		MaxURLs:    maxURLs,
		MaxDepth:   maxDepth,
	})
	if st.Insert(home, state.OriginSeed) != state.Inserted {
		t.Fatal("seed not inserted")
	}
	for _, u := range extra {
		if st.Insert(u, state.OriginSitemap) != state.Inserted {
			t.Fatalf("insert %s failed", u)
		}
	}
	return st
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CheckpointEvery = 0
	return cfg
}

func anchors(paths ...string) string {
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, p, p)
	}
	return b.String()
}

func title(t *testing.T, st *state.CrawlState, rawURL string) string {
	t.Helper()
	got, ok := st.Title(rawURL)
	if !ok {
		t.Fatalf("no title recorded for %s", rawURL)
	}
	return got
}

// --- Crawler Tests ---

func TestCrawler_Name(t *testing.T) {
	if got := New(fetchertest.New(nil), DefaultConfig()).Name(); got != "crawler" {
		t.Errorf("Name() = %q", got)
	}
}

func TestCrawler_Run_TitlesAndLinks(t *testing.T) {
	f := fetchertest.New(map[string]fetchertest.Page{
		home:                        fetchertest.HTML(`<title>Example Home</title>` + anchors("/about", "/contact")),
		"https://example.org/about": fetchertest.HTML(`<title>About Us - example.org</title>`),
	})
	st := newState(t, 100, 3)

	New(f, testConfig()).Run(context.Background(), st)

	for _, u := range []string{home, "https://example.org/about", "https://example.org/contact"} {
		if !st.Contains(u) {
			t.Errorf("expected %s in visited", u)
		}
	}
	if got := title(t, st, home); got != "Example Home" {
		t.Errorf("home title = %q", got)
	}
	if got := title(t, st, "https://example.org/about"); got != "About Us" {
		t.Errorf("about title = %q", got)
	}
	if got := title(t, st, "https://example.org/contact"); got != "HTTP 404" {
		t.Errorf("contact title = %q", got)
	}
	if origin, _ := st.Origin("https://example.org/about"); origin != state.OriginLink {
		t.Errorf("about origin = %q, want link", origin)
	}
}

func TestCrawler_Run_Placeholders(t *testing.T) {
	f := fetchertest.New(map[string]fetchertest.Page{
		home:                          fetchertest.HTML(`<title>Example Home</title>`),
		"https://example.org/slow":    {Err: fetchertest.Timeout},
		"https://example.org/down":    {Err: fetchertest.Unreachable},
		"https://example.org/moved":   fetchertest.Status(301),
		"https://example.org/gone":    fetchertest.Status(410),
		"https://example.org/untitle": fetchertest.HTML(`<p>nothing here</p>`),
	})
	st := newState(t, 100, 3,
		"https://example.org/slow",
		"https://example.org/down",
		"https://example.org/moved",
		"https://example.org/gone",
		"https://example.org/untitle",
	)

	New(f, testConfig()).Run(context.Background(), st)

	tests := map[string]string{
		"https://example.org/slow":    metadata.TimedOut,
		"https://example.org/down":    metadata.AccessErr,
		"https://example.org/moved":   metadata.Redirect,
		"https://example.org/gone":    "HTTP 410",
		"https://example.org/untitle": "Untitle",
	}
	for u, want := range tests {
		if got := title(t, st, u); got != want {
			t.Errorf("title(%s) = %q, want %q", u, got, want)
		}
	}
	// placeholders count as titled, so finalization does not fetch again
	if n := f.Count("https://example.org/slow"); n != 1 {
		t.Errorf("slow fetched %d times, want 1", n)
	}
}

func TestCrawler_Run_HighSignalFollow(t *testing.T) {
	var deep []string
	for i := 1; i <= 30; i++ {
		deep = append(deep, fmt.Sprintf("/x%d", i))
	}
	f := fetchertest.New(map[string]fetchertest.Page{
		home:                              fetchertest.HTML(`<title>Example Home</title>` + anchors("/blog/post-a")),
		"https://example.org/blog/post-a": fetchertest.HTML(`<title>Post A</title>` + anchors(deep...)),
	})
	st := newState(t, 1000, 3)

	cfg := testConfig()
	cfg.FinalizeLimit = 0
	New(f, cfg).Run(context.Background(), st)

	if got := title(t, st, "https://example.org/blog/post-a"); got != "Post A" {
		t.Errorf("post title = %q", got)
	}
	if n := f.Count("https://example.org/blog/post-a"); n != 1 {
		t.Errorf("post fetched %d times, want 1", n)
	}
	if !st.Contains("https://example.org/x20") {
		t.Error("expected 20th deep link in visited")
	}
	if st.Contains("https://example.org/x21") {
		t.Error("deep links beyond HighSignalLinks should not be inserted")
	}
}

func TestCrawler_Run_MaxDepth(t *testing.T) {
	f := fetchertest.New(map[string]fetchertest.Page{
		home:                              fetchertest.HTML(`<title>Example Home</title>` + anchors("/blog/post-a")),
		"https://example.org/blog/post-a": fetchertest.HTML(`<title>Post A</title>` + anchors("/deeper")),
	})
	st := newState(t, 1000, 1)

	New(f, testConfig()).Run(context.Background(), st)

	if !st.Contains("https://example.org/blog/post-a") {
		t.Error("depth-0 page links should be harvested")
	}
	if got := title(t, st, "https://example.org/blog/post-a"); got != "Post A" {
		t.Errorf("post title = %q", got)
	}
	if st.Contains("https://example.org/deeper") {
		t.Error("links of a depth-1 page should not be harvested with MaxDepth 1")
	}
}

func TestCrawler_Run_RespectsCap(t *testing.T) {
	var paths []string
	for i := 0; i < 10; i++ {
		paths = append(paths, fmt.Sprintf("/p%d", i))
	}
	f := fetchertest.New(map[string]fetchertest.Page{
		home: fetchertest.HTML(`<title>Example Home</title>` + anchors(paths...)),
	})
	st := newState(t, 3, 3)

	New(f, testConfig()).Run(context.Background(), st)

	if st.Len() != 3 {
		t.Errorf("visited = %d, want 3", st.Len())
	}
	if len(st.Untitled()) != 0 {
		t.Errorf("untitled after run: %v", st.Untitled())
	}
}

func TestCrawler_Run_BatchSizeAndFinalizeLimit(t *testing.T) {
	f := fetchertest.New(map[string]fetchertest.Page{
		home: fetchertest.HTML(`<title>Example Home</title>`),
	})
	st := newState(t, 100, 3, "https://example.org/docs/getting-started", "https://example.org/b")

	cfg := testConfig()
	cfg.BatchSize = 1
	cfg.FinalizeLimit = 0
	New(f, cfg).Run(context.Background(), st)

	if n := f.Count("https://example.org/b"); n != 0 {
		t.Errorf("URL outside batch fetched %d times", n)
	}
	if got := title(t, st, "https://example.org/docs/getting-started"); got != "Docs Getting Started" {
		t.Errorf("synthesized title = %q", got)
	}
	if got := title(t, st, "https://example.org/b"); got != "B" {
		t.Errorf("synthesized title = %q", got)
	}
}

func TestCrawler_Run_FinalizePrefersObservedURLs(t *testing.T) {
	f := fetchertest.New(map[string]fetchertest.Page{
		home:                       fetchertest.HTML(`<title>Example Home</title>`),
		"https://example.org/seen": fetchertest.HTML(`<title>Seen Page</title>`),
	})
	st := newState(t, 100, 3)
	st.Insert("https://example.org/guess", state.OriginGenerated)
	st.Insert("https://example.org/seen", state.OriginLink)

	cfg := testConfig()
	cfg.BatchSize = 1
	cfg.FinalizeLimit = 1
	New(f, cfg).Run(context.Background(), st)

	if got := title(t, st, "https://example.org/seen"); got != "Seen Page" {
		t.Errorf("observed URL title = %q", got)
	}
	if n := f.Count("https://example.org/guess"); n != 0 {
		t.Errorf("generated URL fetched %d times, want 0", n)
	}
	if got := title(t, st, "https://example.org/guess"); got != "Guess" {
		t.Errorf("generated URL title = %q", got)
	}
}

func TestCrawler_Run_Robots(t *testing.T) {
	f := fetchertest.New(map[string]fetchertest.Page{
		home: fetchertest.HTML(`<title>Example Home</title>` + anchors("/private/x", "/public")),
		"https://example.org/robots.txt": {
			Status:      200,
			Body:        "User-agent: *\nDisallow: /private\n",
			ContentType: "text/plain",
		},
		"https://example.org/public": fetchertest.HTML(`<title>Public Page</title>`),
	})
	st := newState(t, 100, 3)

	agent := robots.NewAgent(f, robots.DefaultConfig())
	New(f, testConfig(), WithRobots(agent)).Run(context.Background(), st)

	if got := title(t, st, "https://example.org/private/x"); got != metadata.Disallowed {
		t.Errorf("private title = %q", got)
	}
	if n := f.Count("https://example.org/private/x"); n != 0 {
		t.Errorf("disallowed URL fetched %d times", n)
	}
	if got := title(t, st, "https://example.org/public"); got != "Public Page" {
		t.Errorf("public title = %q", got)
	}
}

func TestCrawler_Run_RobotsIgnoredWhenDisabled(t *testing.T) {
	f := fetchertest.New(map[string]fetchertest.Page{
		home: fetchertest.HTML(`<title>Example Home</title>`),
		"https://example.org/robots.txt": {
			Status: 200,
			Body:   "User-agent: *\nDisallow: /\n",
		},
	})
	st := newState(t, 100, 3)

	cfg := testConfig()
	cfg.RespectRobots = false
	New(f, cfg, WithRobots(robots.NewAgent(f, robots.DefaultConfig()))).Run(context.Background(), st)

	if got := title(t, st, home); got != "Example Home" {
		t.Errorf("home title = %q", got)
	}
}

func TestCrawler_Run_Checkpoint(t *testing.T) {
	f := fetchertest.New(map[string]fetchertest.Page{
		home: fetchertest.HTML(`<title>Example Home</title>`),
	})
	st := newState(t, 100, 3,
		"https://example.org/a", "https://example.org/b", "https://example.org/c")

	var calls atomic.Int32
	cfg := testConfig()
	cfg.CheckpointEvery = 2
	New(f, cfg, WithCheckpoint(func(got *state.CrawlState) {
		if got != st {
			t.Error("checkpoint received a different state")
		}
		calls.Add(1)
	})).Run(context.Background(), st)

	if got := calls.Load(); got != 2 {
		t.Errorf("checkpoint calls = %d, want 2", got)
	}
}

func TestCrawler_Run_Workers(t *testing.T) {
	f := fetchertest.New(nil)
	var seeds []string
	for i := 0; i < 40; i++ {
		u := fmt.Sprintf("https://example.org/p%d", i)
		seeds = append(seeds, u)
		f.Set(u, fetchertest.HTML(fmt.Sprintf(`<title>Page %d</title>%s`, i, anchors("/shared", fmt.Sprintf("/child%d", i)))))
	}
	f.Set(home, fetchertest.HTML(`<title>Example Home</title>`))
	st := newState(t, 1000, 3, seeds...)

	cfg := testConfig()
	cfg.Workers = 8
	New(f, cfg).Run(context.Background(), st)

	for i, u := range seeds {
		if got := title(t, st, u); got != fmt.Sprintf("Page %d", i) {
			t.Errorf("title(%s) = %q", u, got)
		}
		if n := f.Count(u); n != 1 {
			t.Errorf("%s fetched %d times, want 1", u, n)
		}
	}
	if st.Len() != 1+40+40+1 {
		t.Errorf("visited = %d, want %d", st.Len(), 82)
	}
	if len(st.Untitled()) != 0 {
		t.Errorf("untitled after run: %d", len(st.Untitled()))
	}
}

func TestCrawler_Run_CancelledContext(t *testing.T) {
	f := fetchertest.New(map[string]fetchertest.Page{
		home: fetchertest.HTML(`<title>Example Home</title>`),
	})
	st := newState(t, 100, 3, "https://example.org/docs")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	New(f, testConfig()).Run(ctx, st)

	if len(f.Calls()) != 0 {
		t.Errorf("expected no fetches, got %d", len(f.Calls()))
	}
	if got := title(t, st, "https://example.org/docs"); got != "Docs" {
		t.Errorf("synthesized title = %q", got)
	}
}

// --- Helper Tests ---

func TestPlaceholder(t *testing.T) {
	tests := []struct {
		name    string
		outcome fetcher.Outcome
		status  int
		want    string
	}{
		{"timeout", fetcher.TimedOut, 0, metadata.TimedOut},
		{"transport", fetcher.TransportError, 0, metadata.AccessErr},
		{"invalid", fetcher.Invalid, 0, metadata.AccessErr},
		{"redirect", fetcher.Fetched, 302, metadata.Redirect},
		{"server error", fetcher.Fetched, 500, "HTTP 500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := placeholder(tt.outcome, fetcher.Response{StatusCode: tt.status})
			if got != tt.want {
				t.Errorf("placeholder() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTitleOrPath(t *testing.T) {
	if got := titleOrPath("Post One", "https://example.org/blog/hello-world"); got != "Post One" {
		t.Errorf("titleOrPath(title) = %q", got)
	}
	if got := titleOrPath(metadata.NotFound, "https://example.org/blog/hello-world"); got != "Blog Hello World" {
		t.Errorf("titleOrPath() = %q", got)
	}
	if got := titleOrPath(metadata.NotFound, "https://example.org"); got != metadata.NotFound {
		t.Errorf("titleOrPath(root) = %q, want sentinel", got)
	}
}
