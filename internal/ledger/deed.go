package ledger

import (
	"fmt"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/ir"
)

// DeedBuilder assembles an operation against the default Api. Errors are
// sticky: the first one is reported by Finish or Commit and later calls are
// ignored.
type DeedBuilder struct {
	l   *Ledger
	op  ir.Operation
	err error
}

// StartDeed begins an operation calling method. The nonce is the current
// stash size, so two deeds committed in sequence never collide.
func (l *Ledger) StartDeed(method string) *DeedBuilder {
	d := &DeedBuilder{l: l}
	articles := l.stock.Articles()
	callID, ok := articles.Schema.Default.CallID(method)
	if !ok {
		d.err = fmt.Errorf("deed: unknown method %q", method)
		return d
	}
	ops, err := l.stock.Operations()
	if err != nil {
		d.err = persistenceError(ir.Opid{}, "list operations", err)
		return d
	}
	d.op = ir.Operation{
		ContractID: articles.ContractID,
		CallID:     callID,
		Nonce:      uint64(len(ops)),
	}
	return d
}

// Reading adds a read of an immutable cell.
func (d *DeedBuilder) Reading(addr ir.CellAddr) *DeedBuilder {
	if d.err != nil {
		return d
	}
	if _, ok := d.l.stock.State().Raw.Immutable(addr); !ok {
		d.err = fmt.Errorf("deed: immutable cell %s does not exist", addr)
		return d
	}
	d.op.ImmutableIn = append(d.op.ImmutableIn, addr)
	return d
}

// Using destroys the live cell owned by token.
func (d *DeedBuilder) Using(token ir.AuthToken) *DeedBuilder {
	if d.err != nil {
		return d
	}
	addr, ok := d.l.stock.State().Raw.LookupAddr(token)
	if !ok {
		d.err = fmt.Errorf("deed: auth token %s is not live", token)
		return d
	}
	d.op.DestructibleIn = append(d.op.DestructibleIn, ir.Input{Addr: addr})
	return d
}

// Satisfying sets the witness of the input added by the last Using.
func (d *DeedBuilder) Satisfying(witness ir.StateValue) *DeedBuilder {
	if d.err != nil {
		return d
	}
	if len(d.op.DestructibleIn) == 0 {
		d.err = fmt.Errorf("deed: witness given before any input")
		return d
	}
	d.op.DestructibleIn[len(d.op.DestructibleIn)-1].Witness = witness
	return d
}

// Append adds an immutable output of state name.
func (d *DeedBuilder) Append(name string, value, raw ir.IRValue) *DeedBuilder {
	if d.err != nil {
		return d
	}
	schema := d.l.stock.Articles().Schema
	data, err := schema.Default.BuildImmutable(name, value, raw, schema.Types)
	if err != nil {
		d.err = fmt.Errorf("deed: append %q: %w", name, err)
		return d
	}
	d.op.ImmutableOut = append(d.op.ImmutableOut, data)
	return d
}

// Assign adds a destructible output of state name owned by auth.
func (d *DeedBuilder) Assign(name string, value ir.IRValue, auth ir.AuthToken, lock string) *DeedBuilder {
	if d.err != nil {
		return d
	}
	schema := d.l.stock.Articles().Schema
	cell, err := schema.Default.BuildDestructible(name, value, auth, lock, schema.Types)
	if err != nil {
		d.err = fmt.Errorf("deed: assign %q: %w", name, err)
		return d
	}
	d.op.DestructibleOut = append(d.op.DestructibleOut, cell)
	return d
}

// Finish returns the assembled operation without applying it.
func (d *DeedBuilder) Finish() (ir.Operation, error) {
	return d.op, d.err
}

// Commit verifies and applies the operation and commits the indices.
func (d *DeedBuilder) Commit() (ir.Opid, error) {
	op, err := d.Finish()
	if err != nil {
		return ir.Opid{}, err
	}
	opid, err := op.Opid()
	if err != nil {
		return ir.Opid{}, &AcceptError{Code: ErrCodeDecode, Message: "operation does not encode", Err: err}
	}
	if _, err := d.l.ApplyVerify(op); err != nil {
		return opid, err
	}
	return opid, d.l.CommitTransaction()
}

// UsingParam destroys one owned cell.
type UsingParam struct {
	Token   ir.AuthToken
	Witness ir.StateValue
}

// CallParams describes a whole call.
type CallParams struct {
	Method  string
	Using   []UsingParam
	Reading []ir.CellAddr
	Global  []api.GlobalParam
	Owned   []api.OwnedParam
}

// Call builds, verifies and applies an operation from params, then
// commits.
func (l *Ledger) Call(params CallParams) (ir.Opid, error) {
	d := l.StartDeed(params.Method)
	for _, u := range params.Using {
		d.Using(u.Token).Satisfying(u.Witness)
	}
	for _, addr := range params.Reading {
		d.Reading(addr)
	}
	for _, g := range params.Global {
		d.Append(g.State, g.Value, g.Raw)
	}
	for _, o := range params.Owned {
		d.Assign(o.State, o.Value, o.Auth, o.Lock)
	}
	return d.Commit()
}
