package codex

//go:generate mockgen -source verifier.go -destination verifier_mocks.go -package codex

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/holiman/uint256"

	"github.com/roach88/deeds/internal/ir"
)

// Verifier checks an operation against live memory and seals it.
type Verifier interface {
	Verify(contractID ir.ContractID, cx Codex, op ir.Operation, mem Memory, libs Libs) (ir.VerifiedOperation, error)
}

// Engine is the CEL-backed Verifier. Compiled programs are cached by source,
// so one Engine should be shared by all ledgers of a process.
//
// Verifier libraries see these variables:
//
//	call       uint                call id
//	inputs     list(list(dyn))     data of destroyed cells
//	witnesses  list(list(dyn))     witnesses presented for them
//	reads      list(list(dyn))     values of read immutable cells
//	owned      list(list(dyn))     data of created destructible cells
//	global     list(list(dyn))     values of created immutable cells
//	in_sum     dyn                 sum of element 1 over inputs
//	out_sum    dyn                 sum of element 1 over owned
//
// Locks see witness, data (both list(dyn)) and auth (hex string).
// A field element is a uint when it fits in 64 bits and its 32-byte
// big-endian encoding otherwise, so string state reaches rules as bytes.
// Integer arithmetic on a wide element fails with ErrCodeScript.
type Engine struct {
	ruleEnv *cel.Env
	lockEnv *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

// NewEngine creates a verifier engine.
func NewEngine() (*Engine, error) {
	values := cel.ListType(cel.ListType(cel.DynType))
	ruleEnv, err := cel.NewEnv(
		cel.Variable("call", cel.UintType),
		cel.Variable("inputs", values),
		cel.Variable("witnesses", values),
		cel.Variable("reads", values),
		cel.Variable("owned", values),
		cel.Variable("global", values),
		cel.Variable("in_sum", cel.DynType),
		cel.Variable("out_sum", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create verifier environment: %w", err)
	}
	lockEnv, err := cel.NewEnv(
		cel.Variable("witness", cel.ListType(cel.DynType)),
		cel.Variable("data", cel.ListType(cel.DynType)),
		cel.Variable("auth", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create lock environment: %w", err)
	}
	return &Engine{
		ruleEnv:  ruleEnv,
		lockEnv:  lockEnv,
		programs: make(map[string]cel.Program),
	}, nil
}

// Verify implements Verifier.
func (e *Engine) Verify(contractID ir.ContractID, cx Codex, op ir.Operation, mem Memory, libs Libs) (ir.VerifiedOperation, error) {
	call := op.CallID
	if op.ContractID != contractID {
		return ir.VerifiedOperation{}, newCallError(ErrCodeWrongContract, call,
			"operation belongs to contract %s, expected %s", op.ContractID, contractID)
	}
	libName, ok := cx.Verifiers[call]
	if !ok {
		return ir.VerifiedOperation{}, newCallError(ErrCodeUnknownCall, call, "codex %q has no verifier for call", cx.Name)
	}
	source, ok := libs[libName]
	if !ok {
		return ir.VerifiedOperation{}, newCallError(ErrCodeMissingLibrary, call, "library %q not provided", libName)
	}

	seen := make(map[ir.CellAddr]struct{}, len(op.DestructibleIn))
	inputs := make([][]any, 0, len(op.DestructibleIn))
	witnesses := make([][]any, 0, len(op.DestructibleIn))
	var inSum uint256.Int
	for _, in := range op.DestructibleIn {
		if _, dup := seen[in.Addr]; dup {
			return ir.VerifiedOperation{}, newInputError(ErrCodeDuplicateInput, call, in.Addr, "cell destroyed twice")
		}
		seen[in.Addr] = struct{}{}

		cell, ok := mem.Destructible(in.Addr)
		if !ok {
			return ir.VerifiedOperation{}, newInputError(ErrCodeNoInput, call, in.Addr, "destroyed cell is not live")
		}
		data, witness := elements(cell.Data), elements(in.Witness)
		if cell.Lock != "" {
			if err := e.checkLock(cell, data, witness); err != nil {
				return ir.VerifiedOperation{}, newInputError(ErrCodeLockFailed, call, in.Addr, "%v", err)
			}
		}
		if !addAmount(&inSum, cell.Data) {
			return ir.VerifiedOperation{}, newInputError(ErrCodeScript, call, in.Addr, "input amounts overflow 256 bits")
		}
		inputs = append(inputs, data)
		witnesses = append(witnesses, witness)
	}

	reads := make([][]any, 0, len(op.ImmutableIn))
	for _, addr := range op.ImmutableIn {
		d, ok := mem.Immutable(addr)
		if !ok {
			return ir.VerifiedOperation{}, newInputError(ErrCodeNoRead, call, addr, "read cell does not exist")
		}
		reads = append(reads, elements(d.Value))
	}

	var outSum uint256.Int
	owned := make([][]any, 0, len(op.DestructibleOut))
	for i, c := range op.DestructibleOut {
		if !addAmount(&outSum, c.Data) {
			return ir.VerifiedOperation{}, newCallError(ErrCodeScript, call, "owned output %d: amounts overflow 256 bits", i)
		}
		owned = append(owned, elements(c.Data))
	}
	global := make([][]any, 0, len(op.ImmutableOut))
	for _, d := range op.ImmutableOut {
		global = append(global, elements(d.Value))
	}

	prg, err := e.program(e.ruleEnv, "rule", source)
	if err != nil {
		return ir.VerifiedOperation{}, newCallError(ErrCodeScript, call, "library %q: %v", libName, err)
	}
	ok, err = evalBool(prg, map[string]any{
		"call":      uint64(call),
		"inputs":    inputs,
		"witnesses": witnesses,
		"reads":     reads,
		"owned":     owned,
		"global":    global,
		"in_sum":    element(&inSum),
		"out_sum":   element(&outSum),
	})
	if err != nil {
		return ir.VerifiedOperation{}, newCallError(ErrCodeScript, call, "library %q: %v", libName, err)
	}
	if !ok {
		return ir.VerifiedOperation{}, newCallError(ErrCodeRejected, call, "library %q rejected the operation", libName)
	}

	opid, err := op.Opid()
	if err != nil {
		return ir.VerifiedOperation{}, fmt.Errorf("verify: %w", err)
	}
	return ir.NewVerifiedOperationUnchecked(opid, op), nil
}

func (e *Engine) checkLock(cell ir.StateCell, data, witness []any) error {
	prg, err := e.program(e.lockEnv, "lock", cell.Lock)
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	ok, err := evalBool(prg, map[string]any{
		"witness": witness,
		"data":    data,
		"auth":    cell.Auth.String(),
	})
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("witness does not satisfy lock")
	}
	return nil
}

// CheckSource compiles a library or lock source without running it.
func (e *Engine) CheckSource(lock bool, source string) error {
	if lock {
		_, err := e.program(e.lockEnv, "lock", source)
		return err
	}
	_, err := e.program(e.ruleEnv, "rule", source)
	return err
}

func (e *Engine) program(env *cel.Env, kind, source string) (cel.Program, error) {
	key := kind + "\x00" + source
	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.programs[key]; ok {
		return prg, nil
	}
	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	e.programs[key] = prg
	return prg, nil
}

func evalBool(prg cel.Program, vars map[string]any) (bool, error) {
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("program returned %T, expected bool", out.Value())
	}
	return b, nil
}

// addAmount adds element 1 of v to sum and reports false on overflow.
// Cells without an amount add zero.
func addAmount(sum *uint256.Int, v ir.StateValue) bool {
	amount, ok := v.Get(1)
	if !ok {
		return true
	}
	_, overflow := sum.AddOverflow(sum, &amount)
	return !overflow
}

// elements converts the field elements of v for CEL.
func elements(v ir.StateValue) []any {
	out := make([]any, v.Len())
	for i := range out {
		x, _ := v.Get(i)
		out[i] = element(&x)
	}
	return out
}

// element is x as a uint when it fits in 64 bits, else as 32 big-endian
// bytes.
func element(x *uint256.Int) any {
	if x.IsUint64() {
		return x.Uint64()
	}
	b := x.Bytes32()
	return b[:]
}
