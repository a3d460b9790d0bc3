// Package ledger drives a contract over a persistent Stock.
//
// The stash holds every operation ever accepted and never shrinks; the trace
// holds the transition recorded for each application. Validity is the only
// thing that changes over time: Rollback invalidates an operation together
// with everything that spent or read its outputs, and Forward re-applies
// rolled back operations parents first. Export and Accept move operations
// between ledgers of the same contract as a framed, compressed stream.
package ledger
