// Package snapshot persists crawl state snapshots keyed by target domain.
//
// Snapshots are a side channel for crash recovery and inspection. Nothing
// reads them back automatically; restoring one is a caller decision.
package snapshot

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmylchreest/sitescout/internal/state"
)

// ErrNotFound is returned by Load when no snapshot exists for a domain.
var ErrNotFound = errors.New("snapshot not found")

// Store saves and loads snapshots. Save replaces any earlier snapshot of the
// same domain.
type Store interface {
	Save(ctx context.Context, snap state.Snapshot) error
	Load(ctx context.Context, domain string) (state.Snapshot, error)
	List(ctx context.Context) ([]Summary, error)
	Close() error
}

// Summary describes a stored snapshot without its payload.
type Summary struct {
	Domain    string    `json:"domain" yaml:"domain"`
	StartURL  string    `json:"start_url" yaml:"start_url"`
	Phase     string    `json:"phase,omitempty" yaml:"phase,omitempty"`
	Completed bool      `json:"completed" yaml:"completed"`
	Visited   int       `json:"visited" yaml:"visited"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

func summarize(snap state.Snapshot) Summary {
	updated := snap.TakenAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return Summary{
		Domain:    snap.Domain,
		StartURL:  snap.StartURL,
		Phase:     snap.Phase,
		Completed: snap.Completed,
		Visited:   len(snap.Visited),
		UpdatedAt: updated.UTC(),
	}
}

// Open returns the store named by dsn:
//
//	""  or "memory"                      in-process MemoryStore
//	postgres://... or postgresql://...   SQLStore on lib/pq
//	sqlite3://path, sqlite://path, path  SQLStore on go-sqlite3
func Open(ctx context.Context, dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "" || dsn == "memory":
		return NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenSQL(ctx, DriverPostgres, dsn)
	case strings.HasPrefix(dsn, "sqlite3://"):
		return OpenSQL(ctx, DriverSQLite, strings.TrimPrefix(dsn, "sqlite3://"))
	case strings.HasPrefix(dsn, "sqlite://"):
		return OpenSQL(ctx, DriverSQLite, strings.TrimPrefix(dsn, "sqlite://"))
	default:
		return OpenSQL(ctx, DriverSQLite, dsn)
	}
}
