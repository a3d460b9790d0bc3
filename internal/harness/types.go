package harness

import (
	"github.com/roach88/deeds/internal/ir"
)

// Step outcome constants.
const (
	OutcomeApplied = "applied"
	OutcomeError   = "error"
)

// Trace event types.
const (
	EventCall      = "call"
	EventRollback  = "rollback"
	EventForward   = "forward"
	EventReplicate = "replicate"
)

// TraceEvent records one executed step. Opids never appear in it, so a
// trace is stable under changes to the hashing of unrelated fields.
type TraceEvent struct {
	Seq  int
	Type string

	// Label and Method describe a call.
	Label  string
	Method string

	// Outcome is "applied", an AcceptErrorCode, or "error".
	Outcome string

	// Labels lists the operations a rollback or forward touched, sorted.
	Labels []string

	// Count is the number of affected operations (rollback, forward) or of
	// applied operations (replicate).
	Count int
}

// OwnedTotal summarizes the live cells of one destructible state.
type OwnedTotal struct {
	Count int
	Sum   int64
}

// Snapshot is the observable state of a ledger after a run.
type Snapshot struct {
	Readers map[string]ir.IRValue
	Owned   map[string]OwnedTotal
}

// Result captures the outcome of running a scenario.
type Result struct {
	// Pass is true if every step had its expected outcome and every
	// assertion held.
	Pass bool

	// Trace is the ordered list of executed steps.
	Trace []TraceEvent

	// Errors contains step and assertion failures.
	Errors []error

	// State is the final snapshot of the ledger.
	State Snapshot

	// Replica is the snapshot of the last replicate step, if any.
	Replica *Snapshot
}

// NewResult creates an empty result that passes until an error is added.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []error{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err error) {
	r.Pass = false
	r.Errors = append(r.Errors, err)
}
