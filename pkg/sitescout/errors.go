package sitescout

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// ErrNoPagesFound is returned when a crawl discovers nothing beyond its seed.
// Use errors.As with *NoPagesError for the diagnostics.
var ErrNoPagesFound = errors.New("no pages found")

// Diagnostics describes a direct probe of the start URL, taken after a crawl
// found no pages, so callers can tell an unreachable site from a site that
// answered but exposed no links.
type Diagnostics struct {
	StartURL    string `json:"start_url" yaml:"start_url"`
	Domain      string `json:"domain" yaml:"domain"`
	BaseDomain  string `json:"base_domain" yaml:"base_domain"`
	StatusCode  int    `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Size        int    `json:"size" yaml:"size"`
	Outcome     string `json:"outcome" yaml:"outcome"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

// String renders the diagnostics on one line.
func (d Diagnostics) String() string {
	if d.Error != "" {
		return fmt.Sprintf("url=%s domain=%s outcome=%s error=%q", d.StartURL, d.Domain, d.Outcome, d.Error)
	}
	return fmt.Sprintf("url=%s domain=%s status=%d content_type=%q size=%s",
		d.StartURL, d.Domain, d.StatusCode, d.ContentType, humanize.Bytes(uint64(d.Size)))
}

// NoPagesError is the terminal crawl failure.
type NoPagesError struct {
	Diagnostics Diagnostics
}

func (e *NoPagesError) Error() string {
	return fmt.Sprintf("%s for %s (%s)", ErrNoPagesFound, e.Diagnostics.StartURL, e.Diagnostics)
}

func (e *NoPagesError) Unwrap() error {
	return ErrNoPagesFound
}
