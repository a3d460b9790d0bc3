package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/ledger"
)

// ReorgResult lists the operations a rollback or forward touched, in the
// order it touched them.
type ReorgResult struct {
	Action     string    `json:"action"`
	Operations []ir.Opid `json:"operations"`
}

// NewRollbackCommand creates the rollback command.
func NewRollbackCommand(rootOpts *RootOptions) *cobra.Command {
	return newReorgCommand(rootOpts, "rollback", "Invalidate operations and their dependents",
		`Roll back the given operations together with every valid operation
that spends or reads their outputs. Dependents are rolled back first. The
operations stay known and can be re-applied with "deeds forward".

Example:
  deeds rollback --db ./fungible.db 5c3e...`,
		(*ledger.Ledger).Rollback)
}

// NewForwardCommand creates the forward command.
func NewForwardCommand(rootOpts *RootOptions) *cobra.Command {
	return newReorgCommand(rootOpts, "forward", "Re-apply rolled back operations",
		`Re-apply the given operations together with the rolled back ancestors
they need, parents first. Operations that no longer verify against the
current state are skipped.

Example:
  deeds forward --db ./fungible.db 5c3e...`,
		(*ledger.Ledger).Forward)
}

func newReorgCommand(rootOpts *RootOptions, action, short, long string,
	apply func(*ledger.Ledger, []ir.Opid) ([]ir.Opid, error)) *cobra.Command {
	opts := &DBOptions{}

	cmd := &cobra.Command{
		Use:           action + " <opid>...",
		Short:         short,
		Long:          long,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReorg(rootOpts, opts, action, args, apply, cmd)
		},
	}
	addDBFlags(cmd, opts)
	return cmd
}

func runReorg(rootOpts *RootOptions, opts *DBOptions, action string, args []string,
	apply func(*ledger.Ledger, []ir.Opid) ([]ir.Opid, error), cmd *cobra.Command) error {
	opids := make([]ir.Opid, len(args))
	for i, s := range args {
		opid, err := ir.ParseOpid(s)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("invalid opid %q", s), err)
		}
		opids[i] = opid
	}

	l, err := opts.openLedger()
	if err != nil {
		return err
	}
	defer closeLedger(l)

	for _, opid := range opids {
		known, err := l.HasOperation(opid)
		if err != nil {
			return ledgerFailure("failed to read stash", err)
		}
		if !known {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown operation %s", opid))
		}
	}

	done, err := apply(l, opids)
	if err != nil {
		return ledgerFailure(action+" failed", err)
	}
	if done == nil {
		done = []ir.Opid{}
	}

	result := ReorgResult{Action: action, Operations: done}
	return newFormatter(rootOpts, cmd.OutOrStdout()).Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "%s: %d operation(s)\n", action, len(done))
		for _, opid := range done {
			fmt.Fprintf(w, "  %s\n", opid)
		}
	})
}
