package resolver

import (
	"context"
	"net/http"
	"slices"
	"testing"

	"github.com/jmylchreest/sitescout/internal/state"
	"github.com/jmylchreest/sitescout/pkg/fetcher/fetchertest"
)

// --- BaseDomain Tests ---

func TestBaseDomain(t *testing.T) {
	prefixes := DefaultConfig().Prefixes
	tests := []struct {
		host string
		want string
	}{
		{"example.org", "example.org"},
		{"www.example.org", "example.org"},
		{"blog.example.com", "example.com"},
		{"docs.example.com", "example.com"},
		{"shop.example.com", "shop.example.com"},
		{"www.example.com.tr", "example.com.tr"},
		{"blog.example.co.uk", "example.co.uk"},
		{"WWW.Example.ORG.", "example.org"},
		{"www.example.org:8080", "example.org"},
		{"127.0.0.1:8080", "127.0.0.1"},
		{"localhost", "localhost"},
	}
	for _, tt := range tests {
		if got := BaseDomain(tt.host, prefixes); got != tt.want {
			t.Errorf("BaseDomain(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}

// --- Labels Tests ---

func TestLabels_FromAnchorsAndScripts(t *testing.T) {
	hrefs := []string{
		"https://shop.example.org/cart",
		"//status.example.org/",
		"https://example.org/about",
		"https://deep.nested.example.org/",
		"https://other.net/",
		"/relative",
	}
	scripts := []string{`var api = "https://graphql.example.org/v1"; var cdn = "x.example.org"; var me = "example.org";`}

	got := Labels(hrefs, scripts, "example.org", "example.org")
	want := []string{"shop", "status", "graphql"}
	if !slices.Equal(got, want) {
		t.Errorf("Labels() = %v, want %v", got, want)
	}
}

func TestLabels_SkipsOwnHost(t *testing.T) {
	got := Labels([]string{"https://www.example.org/"}, []string{"www.example.org"}, "example.org", "www.example.org")
	if len(got) != 0 {
		t.Errorf("expected own host to be skipped, got %v", got)
	}
}

// --- Resolver Tests ---

func newState(start, domain string) *state.CrawlState {
	st := state.New(state.Params{
		StartURL:   start,
		Domain:     domain,
		BaseDomain: BaseDomain(domain, DefaultConfig().Prefixes),
		MaxURLs:    100,
	})
	st.Insert(start, state.OriginSeed)
	return st
}

func TestResolver_Run_DiscoversSubdomains(t *testing.T) {
	f := fetchertest.New(map[string]fetchertest.Page{
		"https://example.org": fetchertest.HTML(`<a href="https://shop.example.org/">Shop</a>
<script>fetch("https://status.example.org/api")</script>`),
		"https://blog.example.org": fetchertest.Status(http.StatusOK),
		"https://help.example.org": fetchertest.Status(http.StatusForbidden),
		"https://shop.example.org": fetchertest.Status(http.StatusFound),
		"https://api.example.org":  {Err: fetchertest.Timeout},
		"https://app.example.org":  fetchertest.Status(http.StatusInternalServerError),
	})
	st := newState("https://example.org", "example.org")

	New(f, DefaultConfig()).Run(context.Background(), st)

	wantHosts := []string{"blog.example.org", "help.example.org", "shop.example.org"}
	if got := st.Subdomains(); !slices.Equal(got, wantHosts) {
		t.Errorf("Subdomains() = %v, want %v", got, wantHosts)
	}
	for _, h := range wantHosts {
		home := "https://" + h
		if o, ok := st.Origin(home); !ok || o != state.OriginSubdomain {
			t.Errorf("expected %s in visited as subdomain, got %q %v", home, o, ok)
		}
		if _, titled := st.Title(home); titled {
			t.Errorf("subdomain homepage %s should not be titled yet", home)
		}
	}
	if st.AllowsHost("api.example.org") || st.AllowsHost("app.example.org") {
		t.Error("failed probes must not allow hosts")
	}

	for _, c := range f.Calls() {
		if c.URL != "https://example.org" && c.Method != http.MethodHead {
			t.Errorf("probe %s used %s, want HEAD", c.URL, c.Method)
		}
	}
}

func TestResolver_Run_Quota(t *testing.T) {
	f := fetchertest.New(nil)
	f.Default = fetchertest.Status(http.StatusOK)
	st := newState("https://example.org", "example.org")

	cfg := DefaultConfig()
	cfg.Quota = 2
	New(f, cfg).Run(context.Background(), st)

	if got := st.Subdomains(); len(got) != 2 {
		t.Errorf("expected quota of 2 subdomains, got %v", got)
	}
}

func TestResolver_Run_MaxProbes(t *testing.T) {
	f := fetchertest.New(nil)
	st := newState("https://example.org", "example.org")

	cfg := DefaultConfig()
	cfg.MaxProbes = 3
	New(f, cfg).Run(context.Background(), st)

	heads := 0
	for _, c := range f.Calls() {
		if c.Method == http.MethodHead {
			heads++
		}
	}
	if heads != 3 {
		t.Errorf("expected 3 probes, got %d", heads)
	}
}

func TestResolver_Run_Disabled(t *testing.T) {
	f := fetchertest.New(nil)
	st := newState("https://example.org", "example.org")

	cfg := DefaultConfig()
	cfg.Enabled = false
	New(f, cfg).Run(context.Background(), st)

	if len(f.Calls()) != 0 {
		t.Errorf("disabled resolver made %d calls", len(f.Calls()))
	}
}

func TestResolver_Run_SkipsIPAddress(t *testing.T) {
	for _, tt := range []struct{ start, domain string }{
		{"http://127.0.0.1:8080", "127.0.0.1:8080"},
		{"http://[::1]:8080", "[::1]:8080"},
	} {
		f := fetchertest.New(nil)
		f.Default = fetchertest.Status(http.StatusOK)
		st := newState(tt.start, tt.domain)

		New(f, DefaultConfig()).Run(context.Background(), st)

		if len(f.Calls()) != 0 {
			t.Errorf("%s: expected no probes, got %d calls", tt.domain, len(f.Calls()))
		}
		if got := st.Subdomains(); len(got) != 0 {
			t.Errorf("%s: expected no subdomains, got %v", tt.domain, got)
		}
	}
}

func TestResolver_Run_KeepsPort(t *testing.T) {
	f := fetchertest.New(map[string]fetchertest.Page{
		"http://blog.example.org:8080": fetchertest.Status(http.StatusOK),
	})
	st := newState("http://example.org:8080", "example.org:8080")

	New(f, DefaultConfig()).Run(context.Background(), st)

	if !st.AllowsHost("blog.example.org:8080") {
		t.Errorf("expected port-qualified subdomain, allowed = %v", st.AllowedDomains())
	}
}
