package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deeds/internal/ledger"
)

func TestExitError(t *testing.T) {
	err := WrapExitError(ExitCommandError, "failed to open database", errors.New("locked"))
	assert.Equal(t, "failed to open database: locked", err.Error())
	assert.Equal(t, "plain", NewExitError(ExitFailure, "plain").Error())

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("other")))
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
}

func TestLedgerFailure(t *testing.T) {
	refused := &ledger.AcceptError{Code: ledger.ErrCodeCall, Message: "codex rejected operation"}
	assert.Equal(t, ExitFailure, ledgerFailure("call failed", refused).Code)
	assert.Equal(t, ExitCommandError, ledgerFailure("call failed", errors.New("deed: unknown method")).Code)
}

func TestOutputFormatter_EmitText(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}
	require.NoError(t, f.Emit(map[string]int{"n": 1}, func(w io.Writer) {
		fmt.Fprintln(w, "hello")
	}))
	assert.Equal(t, "hello\n", buf.String())
}

func TestOutputFormatter_EmitJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, f.Emit(map[string]int{"n": 1}, func(w io.Writer) {
		t.Fatal("text callback must not run for json")
	}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"n": float64(1)}, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_Error(t *testing.T) {
	refused := &ledger.AcceptError{Code: ledger.ErrCodeContractMismatch, Message: "foreign stream"}

	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, f.Error(refused))
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "CONTRACT_MISMATCH", resp.Error.Code)

	buf.Reset()
	f.Format = "text"
	require.NoError(t, f.Error(errors.New("boom")))
	assert.Equal(t, "Error [COMMAND_ERROR]: boom\n", buf.String())
}
