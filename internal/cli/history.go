package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/deeds/internal/ledger"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	DBOptions
	Invalid bool
}

// HistoryResult lists the stash.
type HistoryResult struct {
	Operations []ledger.HistoryEntry `json:"operations"`
	Valid      int                   `json:"valid"`
	Invalid    int                   `json:"invalid"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List every known operation",
		Long: `List the operations of the contract in the order they were first
accepted, with their call id, nonce and validity. The genesis is implied by
the contract and not listed.

Example:
  deeds history --db ./fungible.db
  deeds history --db ./fungible.db --invalid`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}
	addDBFlags(cmd, &opts.DBOptions)
	cmd.Flags().BoolVar(&opts.Invalid, "invalid", false, "only list rolled back operations")
	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	l, err := opts.openLedger()
	if err != nil {
		return err
	}
	defer closeLedger(l)

	entries, err := l.History()
	if err != nil {
		return ledgerFailure("failed to list operations", err)
	}
	result := HistoryResult{Operations: []ledger.HistoryEntry{}}
	for _, e := range entries {
		if e.Valid {
			result.Valid++
		} else {
			result.Invalid++
		}
		if opts.Invalid && e.Valid {
			continue
		}
		result.Operations = append(result.Operations, e)
	}

	return newFormatter(opts.RootOptions, cmd.OutOrStdout()).Emit(result, func(w io.Writer) {
		if len(result.Operations) == 0 {
			fmt.Fprintln(w, "No operations.")
			return
		}
		for _, e := range result.Operations {
			fmt.Fprintf(w, "  [%d] %s call=%d nonce=%d %s\n", e.Seq, e.Opid, e.CallID, e.Nonce, validity(e.Valid))
		}
		fmt.Fprintf(w, "%d valid, %d rolled back\n", result.Valid, result.Invalid)
	})
}

func validity(valid bool) string {
	if valid {
		return "valid"
	}
	return "rolled-back"
}
