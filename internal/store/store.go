package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/ledger"
	"github.com/roach88/deeds/internal/state"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on spent.spender
const currentSchemaVersion = 1

const (
	metaArticles = "articles"
	metaState    = "state"
)

// ErrNoContract is returned by Open for a database that holds no contract.
var ErrNoContract = errors.New("database holds no contract")

// Store is a ledger.Stock persisted in one SQLite file.
//
// Articles, effective state and validity flags are held in memory and
// loaded once by Open; everything else is read from the database.
type Store struct {
	db   *sql.DB
	path string

	articles api.Articles
	state    *state.EffectiveState
	validity map[ir.Opid]bool

	pendingValidity map[ir.Opid]bool
	pendingSpent    map[ir.CellAddr]ir.Opid
}

var _ ledger.Stock = (*Store)(nil)

// Creator returns a ledger.CreateFunc that creates a new contract database
// at path. It fails if the database already holds a contract.
func Creator(path string) ledger.CreateFunc {
	return func(articles api.Articles, st *state.EffectiveState) (ledger.Stock, error) {
		return Create(path, articles, st)
	}
}

// Create initializes a contract database at path.
func Create(path string, articles api.Articles, st *state.EffectiveState) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	s := newStore(db, path)
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM meta WHERE key = ?", metaArticles).Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("create: %w", err)
	}
	if n > 0 {
		db.Close()
		return nil, fmt.Errorf("create: %s already holds a contract", path)
	}

	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create: %w", err)
	}
	if err := putMeta(tx, metaArticles, articles); err != nil {
		tx.Rollback()
		db.Close()
		return nil, fmt.Errorf("create: %w", err)
	}
	if err := putMeta(tx, metaState, st.Raw); err != nil {
		tx.Rollback()
		db.Close()
		return nil, fmt.Errorf("create: %w", err)
	}
	if err := tx.Commit(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create: %w", err)
	}
	s.articles = articles
	s.state = st
	return s, nil
}

// Open loads the contract database at path.
func Open(path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	s := newStore(db, path)
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newStore(db *sql.DB, path string) *Store {
	return &Store{
		db:              db,
		path:            path,
		validity:        make(map[ir.Opid]bool),
		pendingValidity: make(map[ir.Opid]bool),
		pendingSpent:    make(map[ir.CellAddr]ir.Opid),
	}
}

func (s *Store) load() error {
	var articles api.Articles
	found, err := getMeta(s.db, metaArticles, &articles)
	if err != nil {
		return fmt.Errorf("load articles: %w", err)
	}
	if !found {
		return ErrNoContract
	}
	raw := state.NewRawState()
	if _, err := getMeta(s.db, metaState, raw); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	s.articles = articles
	s.state = state.NewEffectiveState(raw, articles.Schema)
	s.state.Recompute(articles.Schema)

	rows, err := s.db.Query("SELECT opid, valid FROM validity")
	if err != nil {
		return fmt.Errorf("load validity: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			hex   string
			valid bool
		)
		if err := rows.Scan(&hex, &valid); err != nil {
			return fmt.Errorf("load validity: %w", err)
		}
		opid, err := ir.ParseOpid(hex)
		if err != nil {
			return fmt.Errorf("load validity: %w", err)
		}
		s.validity[opid] = valid
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load validity: %w", err)
	}
	return nil
}

// openDB opens or creates the SQLite file and brings its schema up to date.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

// Config implements ledger.Stock.
func (s *Store) Config() ledger.StockConfig {
	return ledger.StockConfig{Backend: "sqlite", Location: s.path}
}

// Close closes the database connection. Pending index entries that were
// not committed are dropped.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	clear(s.pendingSpent)
	clear(s.pendingValidity)
	return err
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 indexes spenders so rolled back operations can be found by
// the cells they destroyed.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_spent_spender
		ON spent(spender)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
