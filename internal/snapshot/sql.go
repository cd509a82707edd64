package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jmylchreest/sitescout/internal/state"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const pingTimeout = 10 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS crawl_snapshots (
  domain     TEXT PRIMARY KEY,
  start_url  TEXT NOT NULL,
  phase      TEXT NOT NULL DEFAULT '',
  completed  BOOLEAN NOT NULL DEFAULT FALSE,
  visited    INTEGER NOT NULL DEFAULT 0,
  payload    TEXT NOT NULL,
  updated_at TEXT NOT NULL
)`

// SQLStore keeps one row per domain in the crawl_snapshots table. The full
// snapshot is stored as JSON; the other columns exist for listing.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQL connects with driver and dsn and creates the table if needed.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported snapshot driver %q", driver)
	}
	if dsn == "" {
		return nil, errors.New("snapshot dsn is empty")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", driver, err)
	}
	if driver == DriverSQLite {
		// sqlite allows a single writer; ":memory:" is also per connection.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s connection: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshot schema: %w", err)
	}
	return &SQLStore{db: db, driver: driver}, nil
}

func (s *SQLStore) Save(ctx context.Context, snap state.Snapshot) error {
	if snap.Domain == "" {
		return errors.New("snapshot has no domain")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	sum := summarize(snap)
	query := s.rebind(`INSERT INTO crawl_snapshots (domain, start_url, phase, completed, visited, payload, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (domain) DO UPDATE SET
  start_url = excluded.start_url,
  phase = excluded.phase,
  completed = excluded.completed,
  visited = excluded.visited,
  payload = excluded.payload,
  updated_at = excluded.updated_at`)
	_, err = s.db.ExecContext(ctx, query,
		sum.Domain, sum.StartURL, sum.Phase, sum.Completed, sum.Visited,
		string(payload), sum.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save snapshot for %s: %w", snap.Domain, err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, domain string) (state.Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT payload FROM crawl_snapshots WHERE domain = ?`), domain).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return state.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return state.Snapshot{}, fmt.Errorf("load snapshot for %s: %w", domain, err)
	}
	var snap state.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return state.Snapshot{}, fmt.Errorf("decode snapshot for %s: %w", domain, err)
	}
	return snap, nil
}

func (s *SQLStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, start_url, phase, completed, visited, updated_at FROM crawl_snapshots ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			updated string
		)
		if err := rows.Scan(&sum.Domain, &sum.StartURL, &sum.Phase, &sum.Completed, &sum.Visited, &updated); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		sum.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $N for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
