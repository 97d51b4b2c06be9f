package sqlite

import (
	"path/filepath"
	"testing"
)

// newTestDB returns a fresh in-memory cache that is closed when the test ends.
// t.Helper() makes failures point at the caller's line.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNew_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	first, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	first.Close()

	// Re-opening runs migrate() again against the existing tables.
	second, err := New(path)
	if err != nil {
		t.Fatalf("New() on existing db error = %v", err)
	}
	defer second.Close()

	var count int
	err = second.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('profiles') WHERE name = 'subscription_status'`,
	).Scan(&count)
	if err != nil {
		t.Fatalf("pragma query error = %v", err)
	}
	if count != 1 {
		t.Errorf("subscription_status column count = %d, want 1", count)
	}
}
