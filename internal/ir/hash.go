package ir

import (
	"crypto/sha256"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainOperation = "deeds/operation/v1"
	DomainContract  = "deeds/contract/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// OperationID computes the content-addressed id of an operation.
// Returns error if the operation cannot be canonically marshaled.
func OperationID(op Operation) (Opid, error) {
	canonical, err := MarshalCanonical(op.canonical())
	if err != nil {
		return Opid{}, fmt.Errorf("OperationID: failed to marshal: %w", err)
	}
	return Opid(hashWithDomain(DomainOperation, canonical)), nil
}

// ContractIDOf computes the contract id of an issue. meta and codex are the
// canonical renderings of the issue's metadata and verifier set; genesis is
// hashed through its own canonical form.
func ContractIDOf(meta, codex IRObject, genesis Genesis) (ContractID, error) {
	obj := IRObject{
		"meta":    meta,
		"codex":   codex,
		"genesis": genesis.canonical(),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return ContractID{}, fmt.Errorf("ContractIDOf: failed to marshal: %w", err)
	}
	return ContractID(hashWithDomain(DomainContract, canonical)), nil
}
