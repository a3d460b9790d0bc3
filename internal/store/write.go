package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/ledger"
	"github.com/roach88/deeds/internal/state"
)

// UpdateArticles implements ledger.Stock. The raw state is unchanged; every
// view is rebuilt under the new schema before the articles are written.
func (s *Store) UpdateArticles(f func(*api.Articles) error) error {
	next := s.articles
	if err := f(&next); err != nil {
		return err
	}
	st := state.NewEffectiveState(s.state.Raw, next.Schema)
	st.Recompute(next.Schema)
	if err := putMeta(s.db, metaArticles, next); err != nil {
		return fmt.Errorf("update articles: %w", err)
	}
	s.articles = next
	s.state = st
	return nil
}

// UpdateState implements ledger.Stock.
func (s *Store) UpdateState(f func(*state.EffectiveState, api.Schema) error) error {
	backup := s.state.Clone()
	if err := f(s.state, s.articles.Schema); err != nil {
		s.state = backup
		return err
	}
	if err := putMeta(s.db, metaState, s.state.Raw); err != nil {
		s.state = backup
		return fmt.Errorf("update state: %w", err)
	}
	return nil
}

// AddOperation inserts an operation into the stash.
// Uses ON CONFLICT(opid) DO NOTHING for idempotency; the body is checked
// against the opid first, so a conflicting body panics instead.
func (s *Store) AddOperation(opid ir.Opid, op ir.Operation) error {
	ledger.CheckStashEntry(opid, op)
	body, err := marshalText(op)
	if err != nil {
		return fmt.Errorf("add operation: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO stash (opid, body) VALUES (?, ?)
		ON CONFLICT(opid) DO NOTHING
	`, opid.String(), body)
	if err != nil {
		return fmt.Errorf("add operation: %w", err)
	}
	return nil
}

// AddTransition records the transition of an application. Re-applying a
// rolled back operation records the same transition again.
func (s *Store) AddTransition(tr state.Transition) error {
	var prev string
	err := s.db.QueryRow("SELECT body FROM trace WHERE opid = ?", tr.Opid.String()).Scan(&prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("add transition: %w", err)
	default:
		old, err := unmarshalTransition(prev)
		if err != nil {
			return fmt.Errorf("add transition: %w", err)
		}
		if !old.Equal(tr) {
			panic(fmt.Sprintf("conflicting transition for operation %s", tr.Opid))
		}
		return nil
	}

	body, err := marshalText(tr)
	if err != nil {
		return fmt.Errorf("add transition: %w", err)
	}
	if _, err := s.db.Exec("INSERT INTO trace (opid, body) VALUES (?, ?)", tr.Opid.String(), body); err != nil {
		return fmt.Errorf("add transition: %w", err)
	}
	return nil
}

// AddReading records that reader read addr.
func (s *Store) AddReading(addr ir.CellAddr, reader ir.Opid) error {
	_, err := s.db.Exec(`
		INSERT INTO reading (addr, reader) VALUES (?, ?)
		ON CONFLICT(addr, reader) DO NOTHING
	`, addr.String(), reader.String())
	if err != nil {
		return fmt.Errorf("add reading: %w", err)
	}
	return nil
}

// AddSpending buffers the spender of addr until CommitTransaction.
func (s *Store) AddSpending(addr ir.CellAddr, spender ir.Opid) error {
	s.pendingSpent[addr] = spender
	return nil
}

// MarkValid implements ledger.Stock.
func (s *Store) MarkValid(opid ir.Opid) { s.mark(opid, true) }

// MarkInvalid implements ledger.Stock.
func (s *Store) MarkInvalid(opid ir.Opid) { s.mark(opid, false) }

func (s *Store) mark(opid ir.Opid, valid bool) {
	s.validity[opid] = valid
	s.pendingValidity[opid] = valid
}

// CommitTransaction writes buffered validity marks and spent entries in
// one transaction. With nothing buffered it does nothing.
func (s *Store) CommitTransaction() error {
	if len(s.pendingValidity) == 0 && len(s.pendingSpent) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	for addr, spender := range s.pendingSpent {
		_, err := tx.Exec(`
			INSERT INTO spent (addr, spender) VALUES (?, ?)
			ON CONFLICT(addr) DO UPDATE SET spender = excluded.spender
		`, addr.String(), spender.String())
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("commit spent %s: %w", addr, err)
		}
	}
	for opid, valid := range s.pendingValidity {
		_, err := tx.Exec(`
			INSERT INTO validity (opid, valid) VALUES (?, ?)
			ON CONFLICT(opid) DO UPDATE SET valid = excluded.valid
		`, opid.String(), valid)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("commit validity %s: %w", opid, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	clear(s.pendingSpent)
	clear(s.pendingValidity)
	return nil
}
