package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/deeds/internal/ledger/stocktest"
)

// testPath returns a fresh database path inside the test's temp dir.
func testPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// createTestLedger issues the fungible test contract into a new database.
func createTestLedger(t *testing.T, amounts ...int64) (*stocktest.Fixture, *Store) {
	t.Helper()
	f := stocktest.NewFixture(t, Creator(testPath(t)), amounts...)
	s, ok := f.Ledger.Stock().(*Store)
	if !ok {
		t.Fatalf("stock is %T, want *Store", f.Ledger.Stock())
	}
	return f, s
}

// reopen closes s and opens its file again.
func reopen(t *testing.T, s *Store) *Store {
	t.Helper()
	path := s.path
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s2.Close() })
	return s2
}
