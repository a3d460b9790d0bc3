// Package harness runs ledger scenarios described in YAML.
//
// A scenario issues a contract compiled from CUE, then executes a list of
// steps against a fresh ledger: calls, rollbacks, forwards and a replication
// round trip through Export/Accept. Assertions check validity flags, reader
// results, owned totals and the spent-by index afterwards.
//
// # Scenario Format
//
//	name: transfer_rollback
//	description: "Rolling back a transfer restores the genesis cell"
//	contract: ../../../compiler/testdata/fungible.cue
//	steps:
//	  - call: transfer
//	    label: pay
//	    using: [genesis.0]
//	    assign:
//	      - {state: amount, value: 600, owner: alice}
//	  - rollback: [pay]
//	assertions:
//	  - type: invalid
//	    ops: [pay]
//	  - type: owned
//	    state: amount
//	    count: 2
//
// Owned cells are referred to by name. Genesis cells are "genesis.N"; an
// assigned cell is named by its owner field, or "<label>.N" when it has none.
// Immutable cells are referred to as "<label>:N", with "genesis:N" for the
// genesis outputs.
//
// # Assertion Types
//
//   - valid / invalid: every listed operation has that validity flag
//   - reader: a reader of the default view (or of view) equals expect
//   - owned: count and/or sum of the live cells of a destructible state
//   - spent: the latest spender of a named cell, or none
//   - replica: the state accepted by the last replicate step matches
//
// # Deterministic Testing
//
// Auth tokens come from testutil.DeterministicTokens seeded with the scenario
// seed (default: its name), and each ledger lives in a ledger.MemStock, so
// traces are identical across runs and can be compared with golden files.
package harness
