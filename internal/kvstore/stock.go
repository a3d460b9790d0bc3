package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/ledger"
	"github.com/roach88/deeds/internal/state"
)

func (s *Store) Articles() api.Articles { return s.articles }

func (s *Store) State() *state.EffectiveState { return s.state }

func (s *Store) IsValid(opid ir.Opid) bool { return s.validity[opid] }

func (s *Store) MarkValid(opid ir.Opid) { s.mark(opid, true) }

func (s *Store) MarkInvalid(opid ir.Opid) { s.mark(opid, false) }

func (s *Store) mark(opid ir.Opid, valid bool) {
	s.validity[opid] = valid
	s.pendingValidity[opid] = valid
}

func (s *Store) HasOperation(opid ir.Opid) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(opKey(opid))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		return false, fmt.Errorf("has operation: %w", err)
	}
	return found, nil
}

// Operation panics if opid is not stashed.
func (s *Store) Operation(opid ir.Opid) (ir.Operation, error) {
	var op ir.Operation
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		op, err = readOperation(txn, opid)
		return err
	})
	if err != nil {
		return ir.Operation{}, fmt.Errorf("read operation: %w", err)
	}
	return op, nil
}

func readOperation(txn *badger.Txn, opid ir.Opid) (ir.Operation, error) {
	var op ir.Operation
	found, err := getJSON(txn, opKey(opid), &op)
	if err != nil {
		return ir.Operation{}, err
	}
	if !found {
		panic(fmt.Sprintf("operation %s is not stashed", opid))
	}
	return op, nil
}

// stashOrder walks the append-only log and calls f for every opid in
// insertion order.
func stashOrder(txn *badger.Txn, f func(ir.Opid) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefixLog
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		var opid ir.Opid
		err := it.Item().Value(func(v []byte) error {
			var ok bool
			if opid, ok = opidFrom(v); !ok {
				return fmt.Errorf("malformed log entry %q", it.Item().Key())
			}
			return nil
		})
		if err != nil {
			return err
		}
		if err := f(opid); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Operations() ([]ledger.StashEntry, error) {
	entries := []ledger.StashEntry{}
	err := s.db.View(func(txn *badger.Txn) error {
		return stashOrder(txn, func(opid ir.Opid) error {
			op, err := readOperation(txn, opid)
			if err != nil {
				return err
			}
			entries = append(entries, ledger.StashEntry{Opid: opid, Operation: op})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read stash: %w", err)
	}
	return entries, nil
}

// Transition panics if opid was never applied.
func (s *Store) Transition(opid ir.Opid) (state.Transition, error) {
	var (
		tr    state.Transition
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, traceKey(opid), &tr)
		return err
	})
	if err != nil {
		return state.Transition{}, fmt.Errorf("read transition: %w", err)
	}
	if !found {
		panic(fmt.Sprintf("no transition for operation %s", opid))
	}
	return normalize(tr), nil
}

func (s *Store) Trace() ([]state.Transition, error) {
	trace := []state.Transition{}
	err := s.db.View(func(txn *badger.Txn) error {
		return stashOrder(txn, func(opid ir.Opid) error {
			var tr state.Transition
			found, err := getJSON(txn, traceKey(opid), &tr)
			if err != nil {
				return err
			}
			if found {
				trace = append(trace, normalize(tr))
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return trace, nil
}

func normalize(tr state.Transition) state.Transition {
	if tr.Destroyed == nil {
		tr.Destroyed = make(map[ir.CellAddr]ir.StateCell)
	}
	return tr
}

// SpentBy returns the latest spender of addr, buffered or committed.
func (s *Store) SpentBy(addr ir.CellAddr) (ir.Opid, bool, error) {
	if spender, ok := s.pendingSpent[addr]; ok {
		return spender, true, nil
	}
	var (
		spender ir.Opid
		found   bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(spentKey(addr))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			if spender, found = opidFrom(v); !found {
				return fmt.Errorf("malformed spender of %s", addr)
			}
			return nil
		})
	})
	if err != nil {
		return ir.Opid{}, false, fmt.Errorf("read spent: %w", err)
	}
	return spender, found, nil
}

// ReadBy returns the readers of addr ordered by opid.
func (s *Store) ReadBy(addr ir.CellAddr) ([]ir.Opid, error) {
	var readers []ir.Opid
	prefix := readingPrefix(addr)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			opid, ok := opidFrom(it.Item().Key()[len(prefix):])
			if !ok {
				return fmt.Errorf("malformed reading key %q", it.Item().Key())
			}
			readers = append(readers, opid)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read reading: %w", err)
	}
	return readers, nil
}

// UpdateArticles rebuilds every view under the new schema and persists the
// articles. The in-memory handle is only replaced once the write succeeds.
func (s *Store) UpdateArticles(f func(*api.Articles) error) error {
	next := s.articles
	if err := f(&next); err != nil {
		return err
	}
	st := state.NewEffectiveState(s.state.Raw, next.Schema)
	st.Recompute(next.Schema)
	err := s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, keyArticles, next)
	})
	if err != nil {
		return fmt.Errorf("update articles: %w", err)
	}
	s.articles = next
	s.state = st
	return nil
}

func (s *Store) UpdateState(f func(*state.EffectiveState, api.Schema) error) error {
	backup := s.state.Clone()
	if err := f(s.state, s.articles.Schema); err != nil {
		s.state = backup
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, keyState, s.state.Raw)
	})
	if err != nil {
		s.state = backup
		return fmt.Errorf("update state: %w", err)
	}
	return nil
}

// AddOperation appends op to the log unless it is already stashed.
// Panics if op does not hash to opid.
func (s *Store) AddOperation(opid ir.Opid, op ir.Operation) error {
	ledger.CheckStashEntry(opid, op)
	body, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("add operation: %w", err)
	}
	seq := s.nextSeq
	added := false
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(opKey(opid)); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(opKey(opid), body); err != nil {
			return err
		}
		if err := txn.Set(logKey(seq), opid[:]); err != nil {
			return err
		}
		added = true
		return txn.Set(keySeq, seqBytes(seq+1))
	})
	if err != nil {
		return fmt.Errorf("add operation: %w", err)
	}
	if added {
		s.nextSeq = seq + 1
	}
	return nil
}

// AddTransition panics if a different transition is already recorded.
func (s *Store) AddTransition(tr state.Transition) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var prev state.Transition
		found, err := getJSON(txn, traceKey(tr.Opid), &prev)
		if err != nil {
			return err
		}
		if found {
			if !normalize(prev).Equal(tr) {
				panic(fmt.Sprintf("conflicting transition for operation %s", tr.Opid))
			}
			return nil
		}
		return putJSON(txn, traceKey(tr.Opid), tr)
	})
	if err != nil {
		return fmt.Errorf("add transition: %w", err)
	}
	return nil
}

func (s *Store) AddReading(addr ir.CellAddr, reader ir.Opid) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(readingKey(addr, reader), nil)
	})
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

// CommitTransaction writes the buffered validity marks and spent entries
// in one badger transaction.
func (s *Store) CommitTransaction() error {
	if len(s.pendingValidity) == 0 && len(s.pendingSpent) == 0 {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for addr, spender := range s.pendingSpent {
			if err := txn.Set(spentKey(addr), spender[:]); err != nil {
				return fmt.Errorf("spent %s: %w", addr, err)
			}
		}
		for opid, valid := range s.pendingValidity {
			v := []byte{0}
			if valid {
				v[0] = 1
			}
			if err := txn.Set(validityKey(opid), v); err != nil {
				return fmt.Errorf("validity %s: %w", opid, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	clear(s.pendingSpent)
	clear(s.pendingValidity)
	return nil
}
