// Package state holds the in-memory state machine of a contract.
//
// RawState is the authoritative memory: live destructible cells indexed by
// address and by auth token, and every immutable cell. Applying a verified
// operation yields a Transition recording the destroyed cells, which is
// enough to roll the operation back later. AdaptedState projects the raw
// memory through an Api; EffectiveState keeps the raw memory and all of its
// projections in step.
package state
