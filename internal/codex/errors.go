package codex

import (
	"errors"
	"fmt"

	"github.com/roach88/deeds/internal/ir"
)

// CallError reports why an operation failed verification.
type CallError struct {
	// Code identifies the failed condition.
	Code CallErrorCode

	// Message is a human-readable description.
	Message string

	// CallID is the call id of the rejected operation.
	CallID uint16

	// Addr is the offending input, when the failure concerns one.
	Addr *ir.CellAddr
}

// CallErrorCode categorizes verification failures.
type CallErrorCode string

const (
	// ErrCodeWrongContract indicates the operation names another contract.
	ErrCodeWrongContract CallErrorCode = "WRONG_CONTRACT"

	// ErrCodeUnknownCall indicates the codex has no verifier for the call id.
	ErrCodeUnknownCall CallErrorCode = "UNKNOWN_CALL"

	// ErrCodeMissingLibrary indicates the verifier library is not provided.
	ErrCodeMissingLibrary CallErrorCode = "MISSING_LIBRARY"

	// ErrCodeDuplicateInput indicates the same cell is destroyed twice.
	ErrCodeDuplicateInput CallErrorCode = "DUPLICATE_INPUT"

	// ErrCodeNoInput indicates a destroyed cell is not live.
	ErrCodeNoInput CallErrorCode = "NO_INPUT"

	// ErrCodeNoRead indicates a read cell does not exist.
	ErrCodeNoRead CallErrorCode = "NO_READ"

	// ErrCodeLockFailed indicates a witness does not satisfy a cell lock.
	ErrCodeLockFailed CallErrorCode = "LOCK_FAILED"

	// ErrCodeScript indicates a verifier or lock program could not run.
	ErrCodeScript CallErrorCode = "SCRIPT_ERROR"

	// ErrCodeRejected indicates the verifier library returned false.
	ErrCodeRejected CallErrorCode = "REJECTED"
)

// Error implements the error interface.
func (e *CallError) Error() string {
	if e.Addr != nil {
		return fmt.Sprintf("%s: %s (call=%d, input=%s)", e.Code, e.Message, e.CallID, e.Addr)
	}
	return fmt.Sprintf("%s: %s (call=%d)", e.Code, e.Message, e.CallID)
}

// IsCallError reports whether err is a verification failure.
// Uses errors.As to handle wrapped errors.
func IsCallError(err error) bool {
	var ce *CallError
	return errors.As(err, &ce)
}

// ErrorCode returns the code of a wrapped CallError, or "".
func ErrorCode(err error) CallErrorCode {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

func newCallError(code CallErrorCode, callID uint16, format string, args ...any) *CallError {
	return &CallError{Code: code, CallID: callID, Message: fmt.Sprintf(format, args...)}
}

func newInputError(code CallErrorCode, callID uint16, addr ir.CellAddr, format string, args ...any) *CallError {
	e := newCallError(code, callID, format, args...)
	e.Addr = &addr
	return e
}
