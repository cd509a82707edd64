package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/sitescout/internal/state"
)

func testSnapshot(domain string, visited ...string) state.Snapshot {
	titles := make(map[string]string)
	for _, u := range visited {
		titles[u] = "Title of " + u
	}
	return state.Snapshot{
		StartURL:       "https://" + domain,
		Domain:         domain,
		BaseDomain:     domain,
		MaxURLs:        100,
		MaxDepth:       3,
		AllowedDomains: []string{domain},
		Visited:        visited,
		Origins:        map[string]state.Origin{"https://" + domain: state.OriginSeed},
		Titles:         titles,
		Statuses:       map[string]int{"https://" + domain: 200},
		Phase:          "crawler",
		Crawled:        len(visited),
		TakenAt:        time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

// storeSuite runs the same behaviour checks against any Store.
func storeSuite(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("LoadMissing", func(t *testing.T) {
		_, err := store.Load(ctx, "missing.example")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		snap := testSnapshot("example.org", "https://example.org", "https://example.org/a")
		require.NoError(t, store.Save(ctx, snap))

		got, err := store.Load(ctx, "example.org")
		require.NoError(t, err)
		assert.Equal(t, snap.StartURL, got.StartURL)
		assert.Equal(t, snap.Visited, got.Visited)
		assert.Equal(t, snap.Titles, got.Titles)
		assert.Equal(t, state.OriginSeed, got.Origins["https://example.org"])
		assert.Equal(t, 200, got.Statuses["https://example.org"])
		assert.True(t, snap.TakenAt.Equal(got.TakenAt))
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		snap := testSnapshot("example.net", "https://example.net")
		require.NoError(t, store.Save(ctx, snap))

		snap.Visited = append(snap.Visited, "https://example.net/b")
		snap.Phase = ""
		snap.Completed = true
		require.NoError(t, store.Save(ctx, snap))

		got, err := store.Load(ctx, "example.net")
		require.NoError(t, err)
		assert.Len(t, got.Visited, 2)
		assert.True(t, got.Completed)
	})

	t.Run("List", func(t *testing.T) {
		list, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "example.net", list[0].Domain)
		assert.True(t, list[0].Completed)
		assert.Equal(t, 2, list[0].Visited)
		assert.Equal(t, "example.org", list[1].Domain)
		assert.Equal(t, "crawler", list[1].Phase)
		assert.False(t, list[1].Completed)
	})
}

// --- MemoryStore Tests ---

func TestMemoryStore(t *testing.T) {
	storeSuite(t, NewMemoryStore())
}

func TestMemoryStore_SaveCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	snap := testSnapshot("example.org", "https://example.org")
	require.NoError(t, store.Save(ctx, snap))

	snap.Titles["https://example.org"] = "changed"

	got, err := store.Load(ctx, "example.org")
	require.NoError(t, err)
	assert.Equal(t, "Title of https://example.org", got.Titles["https://example.org"])
}

// --- SQLStore Tests ---

func TestSQLStore_SQLiteMemory(t *testing.T) {
	store, err := OpenSQL(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, DriverSQLite, store.driver)
	storeSuite(t, store)
}

func TestSQLStore_SQLiteFileReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshots.db")

	store, err := Open(ctx, "sqlite3://"+path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, testSnapshot("example.org", "https://example.org")))
	require.NoError(t, store.Close())

	store, err = Open(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Load(ctx, "example.org")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.org"}, got.Visited)

	// a restored state keeps the recorded titles
	st := state.Restore(got)
	title, ok := st.Title("https://example.org")
	assert.True(t, ok)
	assert.Equal(t, "Title of https://example.org", title)
}

func TestSQLStore_Postgres(t *testing.T) {
	dsn := os.Getenv("SITESCOUT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SITESCOUT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := OpenSQL(ctx, DriverPostgres, dsn)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.db.ExecContext(ctx, `DELETE FROM crawl_snapshots`)
	require.NoError(t, err)
	storeSuite(t, store)
}

func TestSQLStore_SaveWithoutDomain(t *testing.T) {
	store, err := OpenSQL(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer store.Close()

	assert.Error(t, store.Save(context.Background(), state.Snapshot{}))
}

func TestOpenSQL_UnsupportedDriver(t *testing.T) {
	_, err := OpenSQL(context.Background(), "mysql", "root@/db")
	assert.Error(t, err)

	_, err = OpenSQL(context.Background(), DriverSQLite, "")
	assert.Error(t, err)
}

func TestSQLStore_Rebind(t *testing.T) {
	pg := &SQLStore{driver: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &SQLStore{driver: DriverSQLite}
	assert.Equal(t, "WHERE x = ?", lite.rebind("WHERE x = ?"))
}

// --- Open Tests ---

func TestOpen_Memory(t *testing.T) {
	for _, dsn := range []string{"", "memory", "  memory  "} {
		store, err := Open(context.Background(), dsn)
		require.NoError(t, err)
		_, ok := store.(*MemoryStore)
		assert.True(t, ok, "dsn %q", dsn)
	}
}
