// Package store provides a SQLite-backed ledger.Stock.
//
// One database file holds one contract:
//   - meta: JSON snapshots of the articles and the raw state
//   - stash: every accepted operation, ordered by an autoincrement seq
//   - trace: the transition of each application
//   - spent / reading: the DAG edges, keyed by cell address
//   - validity: the valid / rolled back flag of each operation
//
// # Critical Patterns
//
// Idempotent writes
//   - stash and reading inserts use ON CONFLICT DO NOTHING
//   - re-adding a different body under a known opid panics
//
// Lagging indices
//   - validity marks and spent entries are buffered in memory
//   - CommitTransaction writes them in one transaction
//   - reads through the same Store always see buffered values
//
// Snapshots
//   - UpdateState and UpdateArticles rewrite the whole snapshot row
//   - the in-memory value is restored when the write fails
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
