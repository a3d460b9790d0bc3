// Package codex verifies operations before they are allowed to touch state.
//
// A Codex maps each call id of a contract to a named verifier library.
// Libraries are CEL programs evaluated over the cells an operation destroys,
// reads and creates; a cell may additionally carry a CEL lock that the
// destroying input's witness must satisfy. Only the Verifier produces
// ir.VerifiedOperation values.
package codex
