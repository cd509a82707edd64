// Package fetcher defines the transport used by every discovery phase.
// Implement the Fetcher interface to plug in a different HTTP stack; wrap an
// implementation with Retrying or Limited to add backoff or politeness.
package fetcher

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Fetcher abstracts page fetching.
type Fetcher interface {
	// Fetch retrieves rawURL. Any HTTP status is returned as a Response with
	// a nil error; errors are reserved for requests that got no response.
	Fetch(ctx context.Context, rawURL string, opts Options) (Response, error)

	// Close releases any resources.
	Close() error

	// Type returns a string identifying the fetcher type (e.g., "static").
	Type() string
}

// Options controls a single request.
type Options struct {
	Method      string // GET when empty; HEAD for existence probes
	UserAgent   string
	Timeout     time.Duration
	NoRedirects bool // return 3xx responses instead of following them
	Headers     map[string]string
}

// Response is a received HTTP response.
type Response struct {
	URL         string // requested URL
	FinalURL    string // URL after redirects
	StatusCode  int
	Header      http.Header
	ContentType string
	Body        []byte
	FetchedAt   time.Time
	Duration    time.Duration
}

// OK reports a 200 response.
func (r Response) OK() bool { return r.StatusCode == http.StatusOK }

// IsRedirect reports a 3xx response.
func (r Response) IsRedirect() bool { return r.StatusCode >= 300 && r.StatusCode < 400 }

// Error types for distinguishing failure reasons.
// Check with errors.Is(err, fetcher.ErrTimeout).
var (
	// ErrTimeout indicates the request did not complete within its timeout.
	ErrTimeout = errors.New("request timed out")
	// ErrTransport indicates a connection, TLS or protocol failure.
	ErrTransport = errors.New("transport error")
	// ErrInvalidURL indicates the URL could not be requested at all.
	ErrInvalidURL = errors.New("invalid url")
)

// Outcome classifies a fetch for the caller's explicit branching.
type Outcome int

const (
	// Fetched means a response was received (any status code).
	Fetched Outcome = iota
	// TimedOut means the request exceeded its timeout.
	TimedOut
	// TransportError means no response was received for another reason.
	TransportError
	// Invalid means the URL was rejected before any request was sent.
	Invalid
)

func (o Outcome) String() string {
	switch o {
	case Fetched:
		return "fetched"
	case TimedOut:
		return "timed_out"
	case TransportError:
		return "transport_error"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Classify maps a Fetch result to its Outcome.
func Classify(resp Response, err error) Outcome {
	switch {
	case err == nil && resp.StatusCode > 0:
		return Fetched
	case errors.Is(err, ErrInvalidURL):
		return Invalid
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return TimedOut
	default:
		return TransportError
	}
}
