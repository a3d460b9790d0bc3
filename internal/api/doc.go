// Package api interprets raw contract state.
//
// An Api pairs named state types with adaptors that turn field-element
// cells into structured ir.IRValue values, and with readers that aggregate
// the immutable state into named results. Adaptors and readers are closed
// unions: the embedded variants are implemented here, the scripted variants
// evaluate expr-lang programs.
//
// The package also carries the contract's Articles: schema, issue and the
// rules for upgrading the schema of an existing contract.
package api
