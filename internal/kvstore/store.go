package kvstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/ledger"
	"github.com/roach88/deeds/internal/state"
)

// ErrNoContract is returned by Open for a database that holds no contract.
var ErrNoContract = errors.New("database holds no contract")

// Store is a ledger.Stock kept in a BadgerDB database.
type Store struct {
	db  *badger.DB
	cfg Config

	articles api.Articles
	state    *state.EffectiveState
	validity map[ir.Opid]bool
	nextSeq  uint64

	pendingValidity map[ir.Opid]bool
	pendingSpent    map[ir.CellAddr]ir.Opid
}

var _ ledger.Stock = (*Store)(nil)

// Creator returns a ledger.CreateFunc that creates a new contract database
// described by cfg.
func Creator(cfg Config) ledger.CreateFunc {
	return func(articles api.Articles, st *state.EffectiveState) (ledger.Stock, error) {
		return Create(cfg, articles, st)
	}
}

// Create initializes a contract database. It fails if the database already
// holds a contract.
func Create(cfg Config, articles api.Articles, st *state.EffectiveState) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	s := newStore(db, cfg)
	err = db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyArticles); err == nil {
			return fmt.Errorf("%s already holds a contract", cfg.location())
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := putJSON(txn, keyArticles, articles); err != nil {
			return err
		}
		if err := putJSON(txn, keyState, st.Raw); err != nil {
			return err
		}
		return txn.Set(keySeq, seqBytes(0))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create: %w", err)
	}
	s.articles = articles
	s.state = st
	return s, nil
}

// Open loads the contract database described by cfg.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	s := newStore(db, cfg)
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newStore(db *badger.DB, cfg Config) *Store {
	return &Store{
		db:              db,
		cfg:             cfg,
		validity:        make(map[ir.Opid]bool),
		pendingValidity: make(map[ir.Opid]bool),
		pendingSpent:    make(map[ir.CellAddr]ir.Opid),
	}
}

func (s *Store) load() error {
	return s.db.View(func(txn *badger.Txn) error {
		var articles api.Articles
		found, err := getJSON(txn, keyArticles, &articles)
		if err != nil {
			return fmt.Errorf("load articles: %w", err)
		}
		if !found {
			return ErrNoContract
		}
		raw := state.NewRawState()
		if _, err := getJSON(txn, keyState, raw); err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		item, err := txn.Get(keySeq)
		if err != nil {
			return fmt.Errorf("load seq: %w", err)
		}
		seq, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("load seq: %w", err)
		}
		if len(seq) != 8 {
			return fmt.Errorf("load seq: malformed value of %d bytes", len(seq))
		}
		s.nextSeq = binary.BigEndian.Uint64(seq)

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixValidity
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			opid, ok := opidFrom(item.Key()[len(prefixValidity):])
			if !ok {
				return fmt.Errorf("load validity: malformed key %q", item.Key())
			}
			err := item.Value(func(v []byte) error {
				s.validity[opid] = len(v) == 1 && v[0] == 1
				return nil
			})
			if err != nil {
				return fmt.Errorf("load validity: %w", err)
			}
		}

		s.articles = articles
		s.state = state.NewEffectiveState(raw, articles.Schema)
		s.state.Recompute(articles.Schema)
		return nil
	})
}

// Config implements ledger.Stock.
func (s *Store) Config() ledger.StockConfig {
	return ledger.StockConfig{Backend: "badger", Location: s.cfg.location()}
}

// Close closes the database. Pending index entries that were not committed
// are dropped.
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

func putJSON(txn *badger.Txn, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", k, err)
	}
	return txn.Set(k, data)
}

// getJSON decodes the value at k into v. found is false when k is absent.
func getJSON(txn *badger.Txn, k []byte, v any) (bool, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = item.Value(func(data []byte) error {
		return json.Unmarshal(data, v)
	})
	if err != nil {
		return false, fmt.Errorf("decode %s: %w", k, err)
	}
	return true, nil
}
