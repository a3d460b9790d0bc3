package testutil

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/roach88/deeds/internal/ir"
)

// DeterministicTokens derives auth tokens from a seed and a counter.
//
// The same seed produces the same token sequence, which keeps operation ids
// and golden snapshots stable across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicTokens struct {
	mu   sync.Mutex
	seed string
	n    uint64
}

// NewDeterministicTokens creates a generator. The first call to Next
// returns token number 1.
func NewDeterministicTokens(seed string) *DeterministicTokens {
	return &DeterministicTokens{seed: seed}
}

// Next returns the next token.
func (g *DeterministicTokens) Next() ir.AuthToken {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return tokenFor(g.seed, g.n)
}

// Count returns how many tokens were handed out.
func (g *DeterministicTokens) Count() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Reset restarts the sequence.
func (g *DeterministicTokens) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}

func tokenFor(seed string, n uint64) ir.AuthToken {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	h := sha256.New()
	h.Write([]byte(seed))
	h.Write(buf[:])
	var tok ir.AuthToken
	copy(tok[:], h.Sum(nil))
	return tok
}
