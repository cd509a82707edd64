// Package fetchertest provides an in-memory Fetcher for tests.
package fetchertest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jmylchreest/sitescout/pkg/fetcher"
)

// Page is a canned response. A non-nil Err is returned instead of a response.
type Page struct {
	Status      int
	Body        string
	ContentType string
	Header      http.Header
	Err         error
}

// HTML returns a 200 text/html page.
func HTML(body string) Page {
	return Page{Status: http.StatusOK, Body: body, ContentType: "text/html; charset=utf-8"}
}

// XML returns a 200 application/xml page.
func XML(body string) Page {
	return Page{Status: http.StatusOK, Body: body, ContentType: "application/xml"}
}

// Status returns an empty page with the given status.
func Status(code int) Page {
	return Page{Status: code}
}

// Fake serves Pages by exact URL. Unknown URLs get Default, or a 404 when
// Default is the zero Page.
type Fake struct {
	mu      sync.Mutex
	pages   map[string]Page
	calls   []Call
	Default Page
}

// Call records one Fetch invocation.
type Call struct {
	URL    string
	Method string
}

// New creates a Fake from a URL -> Page map.
func New(pages map[string]Page) *Fake {
	if pages == nil {
		pages = make(map[string]Page)
	}
	return &Fake{pages: pages}
}

// Set registers or replaces a page.
func (f *Fake) Set(rawURL string, p Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[rawURL] = p
}

// Fetch implements fetcher.Fetcher.
func (f *Fake) Fetch(ctx context.Context, rawURL string, opts fetcher.Options) (fetcher.Response, error) {
	f.mu.Lock()
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	f.calls = append(f.calls, Call{URL: rawURL, Method: method})
	p, ok := f.pages[rawURL]
	if !ok {
		p = f.Default
	}
	f.mu.Unlock()

	resp := fetcher.Response{URL: rawURL, FinalURL: rawURL, FetchedAt: time.Now()}
	if err := ctx.Err(); err != nil {
		return resp, fmt.Errorf("%w: %w", fetcher.ErrTransport, err)
	}
	if p.Err != nil {
		return resp, p.Err
	}
	if p.Status == 0 {
		p.Status = http.StatusNotFound
	}
	resp.StatusCode = p.Status
	resp.ContentType = p.ContentType
	resp.Header = p.Header
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	if p.ContentType != "" {
		resp.Header.Set("Content-Type", p.ContentType)
	}
	if method != http.MethodHead {
		resp.Body = []byte(p.Body)
	}
	return resp, nil
}

// Calls returns every recorded call.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Count returns how often rawURL was fetched.
func (f *Fake) Count(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.URL == rawURL {
			n++
		}
	}
	return n
}

// Close implements fetcher.Fetcher.
func (f *Fake) Close() error { return nil }

// Type implements fetcher.Fetcher.
func (f *Fake) Type() string { return "fake" }

// Timeout is an error that classifies as fetcher.TimedOut.
var Timeout = fmt.Errorf("%w: fake deadline", fetcher.ErrTimeout)

// Unreachable is an error that classifies as fetcher.TransportError.
var Unreachable = fmt.Errorf("%w: fake connection refused", fetcher.ErrTransport)
