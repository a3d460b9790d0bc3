package kvstore

import (
	"encoding/binary"

	"github.com/roach88/deeds/internal/ir"
)

var (
	keyArticles = []byte("m/articles")
	keyState    = []byte("m/state")
	keySeq      = []byte("m/seq")

	prefixLog      = []byte("s/")
	prefixOp       = []byte("o/")
	prefixTrace    = []byte("t/")
	prefixSpent    = []byte("x/")
	prefixReading  = []byte("r/")
	prefixValidity = []byte("v/")
)

func key(prefix []byte, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p)
	}
	k := make([]byte, 0, n)
	k = append(k, prefix...)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

func seqBytes(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

func logKey(seq uint64) []byte        { return key(prefixLog, seqBytes(seq)) }
func opKey(opid ir.Opid) []byte       { return key(prefixOp, opid[:]) }
func traceKey(opid ir.Opid) []byte    { return key(prefixTrace, opid[:]) }
func validityKey(opid ir.Opid) []byte { return key(prefixValidity, opid[:]) }

func spentKey(addr ir.CellAddr) []byte { return key(prefixSpent, []byte(addr.String())) }

// readingPrefix ends with a separator so that "x:1/" never prefixes "x:12/".
func readingPrefix(addr ir.CellAddr) []byte {
	return key(prefixReading, []byte(addr.String()), []byte("/"))
}

func readingKey(addr ir.CellAddr, reader ir.Opid) []byte {
	return key(readingPrefix(addr), reader[:])
}

func opidFrom(b []byte) (ir.Opid, bool) {
	var opid ir.Opid
	if len(b) != len(opid) {
		return opid, false
	}
	copy(opid[:], b)
	return opid, true
}
