// Package kvstore provides a ledger.Stock on top of BadgerDB.
//
// Key layout (all under one database directory, one contract per database):
//
//	m/articles         JSON articles snapshot
//	m/state            JSON raw state snapshot
//	m/seq              next stash sequence number, uint64 big endian
//	s/<seq>            opid of the seq'th stashed operation (append-only log)
//	o/<opid>           JSON operation body
//	t/<opid>           JSON transition
//	x/<addr>           opid of the latest spender of addr
//	r/<addr>/<opid>    empty; one key per reader of addr
//	v/<opid>           1 if valid, 0 if rolled back
//
// Opids are stored as raw 32 bytes so that prefix iteration yields readers
// in opid order and the stash in insertion order.
//
// Validity marks and spent entries are buffered until CommitTransaction,
// which writes them in a single badger transaction.
package kvstore
