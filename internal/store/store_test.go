package store

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/roach88/deeds/internal/ledger"
	"github.com/roach88/deeds/internal/ledger/stocktest"
)

func TestStockSuite(t *testing.T) {
	stocktest.Run(t, stocktest.Backend{
		Name: "sqlite",
		Create: func(t *testing.T) ledger.CreateFunc {
			return Creator(testPath(t))
		},
		Reopen: func(t *testing.T, s ledger.Stock) ledger.Stock {
			return reopen(t, s.(*Store))
		},
	})
}

func TestCreate_WritesDatabaseFile(t *testing.T) {
	_, s := createTestLedger(t, 10)

	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	cfg := s.Config()
	if cfg.Backend != "sqlite" || cfg.Location != s.path {
		t.Errorf("Config() = %+v", cfg)
	}
}

func TestCreate_FailsWhenContractExists(t *testing.T) {
	f, s := createTestLedger(t, 10)

	_, err := Create(s.path, f.Articles, s.State())
	if err == nil {
		t.Fatal("second Create() succeeded, want error")
	}
	if !strings.Contains(err.Error(), "already holds a contract") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestOpen_EmptyDatabaseHoldsNoContract(t *testing.T) {
	path := testPath(t)

	_, err := Open(path)
	if !errors.Is(err, ErrNoContract) {
		t.Fatalf("Open() error = %v, want ErrNoContract", err)
	}

	// The failed open still leaves a usable, migrated file behind.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	_, s := createTestLedger(t, 10)
	path := s.path
	s.Close()

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"meta", "stash", "trace", "spent", "reading", "validity"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_Pragmas(t *testing.T) {
	_, s := createTestLedger(t, 10)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.expected); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestMigrations_SetUserVersion(t *testing.T) {
	_, s := createTestLedger(t, 10)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("query user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}

	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_spent_spender'",
	).Scan(&name)
	if err != nil {
		t.Errorf("idx_spent_spender not created: %v", err)
	}
}

func TestMigrations_UpgradeFromV0(t *testing.T) {
	_, s := createTestLedger(t, 10)

	if _, err := s.db.Exec("DROP INDEX idx_spent_spender"); err != nil {
		t.Fatalf("drop index: %v", err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("reset user_version: %v", err)
	}

	s = reopen(t, s)

	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_spent_spender'",
	).Scan(&count)
	if err != nil {
		t.Fatalf("query index: %v", err)
	}
	if count != 1 {
		t.Errorf("idx_spent_spender count = %d, want 1", count)
	}
}

func TestClose_Twice(t *testing.T) {
	_, s := createTestLedger(t, 10)

	if err := s.Close(); err != nil {
		t.Fatalf("first Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}
