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

// Articles implements ledger.Stock.
func (s *Store) Articles() api.Articles { return s.articles }

// State implements ledger.Stock.
func (s *Store) State() *state.EffectiveState { return s.state }

// IsValid implements ledger.Stock.
func (s *Store) IsValid(opid ir.Opid) bool { return s.validity[opid] }

// HasOperation reports whether opid is stashed.
func (s *Store) HasOperation(opid ir.Opid) (bool, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM stash WHERE opid = ?", opid.String()).Scan(&n); err != nil {
		return false, fmt.Errorf("has operation: %w", err)
	}
	return n > 0, nil
}

// Operation returns a stashed operation. Panics if opid is not stashed.
func (s *Store) Operation(opid ir.Opid) (ir.Operation, error) {
	var body string
	err := s.db.QueryRow("SELECT body FROM stash WHERE opid = ?", opid.String()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		panic(fmt.Sprintf("operation %s is not stashed", opid))
	}
	if err != nil {
		return ir.Operation{}, fmt.Errorf("read operation: %w", err)
	}
	return unmarshalOperation(body)
}

// Operations returns the stash ordered by insertion seq.
// Returns an empty slice (not nil) for an empty stash.
func (s *Store) Operations() ([]ledger.StashEntry, error) {
	rows, err := s.db.Query("SELECT opid, body FROM stash ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("query stash: %w", err)
	}
	defer rows.Close()

	entries := []ledger.StashEntry{}
	for rows.Next() {
		var hex, body string
		if err := rows.Scan(&hex, &body); err != nil {
			return nil, fmt.Errorf("scan stash: %w", err)
		}
		opid, err := ir.ParseOpid(hex)
		if err != nil {
			return nil, fmt.Errorf("scan stash: %w", err)
		}
		op, err := unmarshalOperation(body)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ledger.StashEntry{Opid: opid, Operation: op})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stash: %w", err)
	}
	return entries, nil
}

// Transition returns the recorded transition of opid. Panics if there is none.
func (s *Store) Transition(opid ir.Opid) (state.Transition, error) {
	var body string
	err := s.db.QueryRow("SELECT body FROM trace WHERE opid = ?", opid.String()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		panic(fmt.Sprintf("no transition for operation %s", opid))
	}
	if err != nil {
		return state.Transition{}, fmt.Errorf("read transition: %w", err)
	}
	return unmarshalTransition(body)
}

// Trace returns every transition in stash order.
func (s *Store) Trace() ([]state.Transition, error) {
	rows, err := s.db.Query(`
		SELECT t.body
		FROM trace t
		JOIN stash s ON s.opid = t.opid
		ORDER BY s.seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query trace: %w", err)
	}
	defer rows.Close()

	trace := []state.Transition{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		tr, err := unmarshalTransition(body)
		if err != nil {
			return nil, err
		}
		trace = append(trace, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace: %w", err)
	}
	return trace, nil
}

// SpentBy returns the latest spender of addr, buffered or committed.
func (s *Store) SpentBy(addr ir.CellAddr) (ir.Opid, bool, error) {
	if spender, ok := s.pendingSpent[addr]; ok {
		return spender, true, nil
	}
	var hex string
	err := s.db.QueryRow("SELECT spender FROM spent WHERE addr = ?", addr.String()).Scan(&hex)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Opid{}, false, nil
	}
	if err != nil {
		return ir.Opid{}, false, fmt.Errorf("read spent: %w", err)
	}
	opid, err := ir.ParseOpid(hex)
	if err != nil {
		return ir.Opid{}, false, fmt.Errorf("read spent: %w", err)
	}
	return opid, true, nil
}

// Spends returns the committed cells whose latest spender is opid, in
// address order.
func (s *Store) Spends(opid ir.Opid) ([]ir.CellAddr, error) {
	rows, err := s.db.Query("SELECT addr FROM spent WHERE spender = ? ORDER BY addr ASC", opid.String())
	if err != nil {
		return nil, fmt.Errorf("query spends: %w", err)
	}
	defer rows.Close()
	var addrs []ir.CellAddr
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scan spends: %w", err)
		}
		addr, err := ir.ParseCellAddr(text)
		if err != nil {
			return nil, fmt.Errorf("scan spends: %w", err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, rows.Err()
}

// ReadBy returns the readers of addr ordered by opid.
func (s *Store) ReadBy(addr ir.CellAddr) ([]ir.Opid, error) {
	rows, err := s.db.Query("SELECT reader FROM reading WHERE addr = ? ORDER BY reader ASC", addr.String())
	if err != nil {
		return nil, fmt.Errorf("query reading: %w", err)
	}
	defer rows.Close()
	var readers []ir.Opid
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		opid, err := ir.ParseOpid(hex)
		if err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		readers = append(readers, opid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reading: %w", err)
	}
	return readers, nil
}
