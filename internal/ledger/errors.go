package ledger

import (
	"errors"
	"fmt"

	"github.com/roach88/deeds/internal/ir"
)

// AcceptError reports an operation or import the ledger refused.
//
// AcceptError includes structured fields for diagnostics:
//   - Code identifies the failure category
//   - Opid names the offending operation, when there is one
//   - Err carries the underlying cause (codex.CallError, api.MergeError, I/O errors)
type AcceptError struct {
	// Code identifies the error category.
	Code AcceptErrorCode

	// Message is a human-readable description.
	Message string

	// Opid identifies the affected operation; zero when not applicable.
	Opid ir.Opid

	// Err is the wrapped cause.
	Err error
}

// AcceptErrorCode categorizes ledger errors.
type AcceptErrorCode string

const (
	// ErrCodeContractMismatch indicates an operation or stream of another contract.
	ErrCodeContractMismatch AcceptErrorCode = "CONTRACT_MISMATCH"

	// ErrCodeCall indicates the codex rejected the operation.
	ErrCodeCall AcceptErrorCode = "CALL_ERROR"

	// ErrCodeDecode indicates malformed imported or persisted bytes.
	ErrCodeDecode AcceptErrorCode = "DECODE_ERROR"

	// ErrCodeSerialize indicates the state or articles could not be persisted.
	ErrCodeSerialize AcceptErrorCode = "SERIALIZE_ERROR"

	// ErrCodeMerge indicates imported articles could not be merged.
	ErrCodeMerge AcceptErrorCode = "MERGE_ERROR"

	// ErrCodePersistence indicates a stash, trace or index write failed.
	ErrCodePersistence AcceptErrorCode = "PERSISTENCE_ERROR"
)

// Error implements the error interface.
func (e *AcceptError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if !e.Opid.IsZero() {
		msg += fmt.Sprintf(" (opid=%s)", e.Opid)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *AcceptError) Unwrap() error { return e.Err }

func hasCode(err error, code AcceptErrorCode) bool {
	var ae *AcceptError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// IsContractMismatch returns true if err reports a foreign contract.
func IsContractMismatch(err error) bool { return hasCode(err, ErrCodeContractMismatch) }

// IsCallError returns true if err reports a codex rejection.
func IsCallError(err error) bool { return hasCode(err, ErrCodeCall) }

// IsDecodeError returns true if err reports malformed bytes.
func IsDecodeError(err error) bool { return hasCode(err, ErrCodeDecode) }

// IsMergeError returns true if err reports an articles merge failure.
func IsMergeError(err error) bool { return hasCode(err, ErrCodeMerge) }

// IsSerializeError returns true if err reports a failed state or articles write.
func IsSerializeError(err error) bool { return hasCode(err, ErrCodeSerialize) }

// ErrorCode extracts the code from an AcceptError, or "" if err is not one.
func ErrorCode(err error) AcceptErrorCode {
	var ae *AcceptError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

func persistenceError(opid ir.Opid, what string, err error) error {
	return &AcceptError{Code: ErrCodePersistence, Message: what, Opid: opid, Err: err}
}
