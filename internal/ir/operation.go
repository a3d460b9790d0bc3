package ir

import "fmt"

// StateData is an immutable (append-only) cell.
// Raw optionally carries the canonical JSON of a structured value that the
// field elements only commit to.
type StateData struct {
	Value StateValue `json:"value"`
	Raw   []byte     `json:"raw,omitempty"`
}

// StateCell is a destructible cell, owned by whoever holds its AuthToken.
// Lock is an optional predicate over the witness presented when destroying it.
type StateCell struct {
	Data StateValue `json:"data"`
	Auth AuthToken  `json:"auth"`
	Lock string     `json:"lock,omitempty"`
}

// Equal reports whether two cells are identical.
func (c StateCell) Equal(other StateCell) bool {
	return c.Data == other.Data && c.Auth == other.Auth && c.Lock == other.Lock
}

// Equal reports whether two immutable cells are identical.
func (d StateData) Equal(other StateData) bool {
	return d.Value == other.Value && string(d.Raw) == string(other.Raw)
}

// Input destroys a destructible cell, presenting a witness for its lock.
type Input struct {
	Addr    CellAddr   `json:"addr"`
	Witness StateValue `json:"witness"`
}

// Operation is a state transition request against one contract.
type Operation struct {
	ContractID      ContractID  `json:"contract_id"`
	CallID          uint16      `json:"call_id"`
	Nonce           uint64      `json:"nonce"`
	DestructibleIn  []Input     `json:"destructible_in,omitempty"`
	ImmutableIn     []CellAddr  `json:"immutable_in,omitempty"`
	DestructibleOut []StateCell `json:"destructible_out,omitempty"`
	ImmutableOut    []StateData `json:"immutable_out,omitempty"`
}

// Opid computes the content-addressed identity of the operation.
func (op Operation) Opid() (Opid, error) {
	return OperationID(op)
}

// MustOpid is like Opid but panics on error.
// Use only in tests or when the operation is known to encode.
func (op Operation) MustOpid() Opid {
	id, err := op.Opid()
	if err != nil {
		panic(err)
	}
	return id
}

// Parents returns the distinct operations whose outputs op consumes or reads,
// in input order.
func (op Operation) Parents() []Opid {
	seen := make(map[Opid]struct{}, len(op.DestructibleIn)+len(op.ImmutableIn))
	var out []Opid
	add := func(id Opid) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, in := range op.DestructibleIn {
		add(in.Addr.Opid)
	}
	for _, addr := range op.ImmutableIn {
		add(addr.Opid)
	}
	return out
}

// canonical renders the operation as an IRObject for identity hashing.
func (op Operation) canonical() IRObject {
	destructibleIn := make(IRArray, len(op.DestructibleIn))
	for i, in := range op.DestructibleIn {
		destructibleIn[i] = IRObject{
			"addr":    IRString(in.Addr.String()),
			"witness": in.Witness.canonical(),
		}
	}
	immutableIn := make(IRArray, len(op.ImmutableIn))
	for i, addr := range op.ImmutableIn {
		immutableIn[i] = IRString(addr.String())
	}
	return IRObject{
		"contract_id":      IRString(op.ContractID.String()),
		"call_id":          IRInt(op.CallID),
		"nonce":            IRString(fmt.Sprintf("%d", op.Nonce)),
		"destructible_in":  destructibleIn,
		"immutable_in":     immutableIn,
		"destructible_out": canonicalCells(op.DestructibleOut),
		"immutable_out":    canonicalData(op.ImmutableOut),
	}
}

func canonicalCells(cells []StateCell) IRArray {
	arr := make(IRArray, len(cells))
	for i, c := range cells {
		arr[i] = IRObject{
			"data": c.Data.canonical(),
			"auth": IRString(c.Auth.String()),
			"lock": IRString(c.Lock),
		}
	}
	return arr
}

func canonicalData(data []StateData) IRArray {
	arr := make(IRArray, len(data))
	for i, d := range data {
		arr[i] = IRObject{
			"value": d.Value.canonical(),
			"raw":   IRString(fmt.Sprintf("%x", d.Raw)),
		}
	}
	return arr
}

// Genesis is the operation that creates the initial state of a contract.
// It has no inputs and no contract id of its own: the contract id is
// derived from the issue that embeds it.
type Genesis struct {
	CallID          uint16      `json:"call_id"`
	Nonce           uint64      `json:"nonce"`
	DestructibleOut []StateCell `json:"destructible_out,omitempty"`
	ImmutableOut    []StateData `json:"immutable_out,omitempty"`
}

// Operation converts the genesis into an operation of the given contract.
func (g Genesis) Operation(contractID ContractID) Operation {
	return Operation{
		ContractID:      contractID,
		CallID:          g.CallID,
		Nonce:           g.Nonce,
		DestructibleOut: g.DestructibleOut,
		ImmutableOut:    g.ImmutableOut,
	}
}

func (g Genesis) canonical() IRObject {
	return IRObject{
		"call_id":          IRInt(g.CallID),
		"nonce":            IRString(fmt.Sprintf("%d", g.Nonce)),
		"destructible_out": canonicalCells(g.DestructibleOut),
		"immutable_out":    canonicalData(g.ImmutableOut),
	}
}

// VerifiedOperation is an operation whose validity has been checked by a
// verifier. Only verified operations mutate state.
type VerifiedOperation struct {
	opid Opid
	op   Operation
}

// NewVerifiedOperationUnchecked seals op under opid without verification.
// It exists for verifiers and for stores re-reading operations that were
// verified when first applied.
func NewVerifiedOperationUnchecked(opid Opid, op Operation) VerifiedOperation {
	return VerifiedOperation{opid: opid, op: op}
}

// Opid returns the sealed operation id.
func (v VerifiedOperation) Opid() Opid { return v.opid }

// Operation returns the sealed operation.
func (v VerifiedOperation) Operation() Operation { return v.op }
