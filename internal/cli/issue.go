package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/compiler"
	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/ledger"
	"github.com/roach88/deeds/internal/state"
)

// IssueOptions holds flags for the issue command.
type IssueOptions struct {
	*RootOptions
	DBOptions

	// NextToken overrides the auth token source (for testing).
	// If nil, defaults to api.NewAuthToken.
	NextToken func() ir.AuthToken
}

// IssueResult describes a newly issued contract.
type IssueResult struct {
	ContractID ir.ContractID `json:"contract_id"`
	Name       string        `json:"name"`
	Backend    string        `json:"backend"`
	Location   string        `json:"location"`
	Owned      []OwnedOutput `json:"owned"`
}

// OwnedOutput is a destructible cell created by a command, with the token
// that controls it.
type OwnedOutput struct {
	State string       `json:"state"`
	Addr  ir.CellAddr  `json:"addr"`
	Token ir.AuthToken `json:"token"`
}

// NewIssueCommand creates the issue command.
func NewIssueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IssueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "issue <contract.cue>",
		Short: "Issue a contract into a new database",
		Long: `Compile a CUE contract definition and issue it.

The genesis is verified by the contract's codex, then the articles and the
genesis state are written to a new database. Owned genesis cells without an
explicit auth token get a fresh random one; keep the printed tokens, they are
needed to spend the cells.

Example:
  deeds issue --db ./fungible.db ./fungible.cue
  deeds issue --db ./fungible --backend badger ./fungible.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIssue(opts, args[0], cmd)
		},
	}
	addDBFlags(cmd, &opts.DBOptions)
	return cmd
}

func runIssue(opts *IssueOptions, path string, cmd *cobra.Command) error {
	create, err := opts.creator()
	if err != nil {
		return err
	}
	contract, err := compiler.CompileFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile contract", err)
	}
	next := opts.NextToken
	if next == nil {
		next = api.NewAuthToken
	}
	articles, tokens, err := contract.Issue(next)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid contract", err)
	}

	l, err := ledger.Issue(articles, create, ledger.WithLogger(slog.Default()))
	if err != nil {
		if state.IsIssueError(err) {
			return WrapExitError(ExitFailure, "genesis rejected", err)
		}
		return WrapExitError(ExitCommandError, "failed to issue contract", err)
	}
	defer closeLedger(l)

	genesis := articles.ContractID.GenesisOpid()
	cfg := l.Stock().Config()
	result := IssueResult{
		ContractID: articles.ContractID,
		Name:       articles.Issue.Meta.Name,
		Backend:    cfg.Backend,
		Location:   cfg.Location,
		Owned:      make([]OwnedOutput, len(tokens)),
	}
	for i, tok := range tokens {
		result.Owned[i] = OwnedOutput{
			State: contract.Params.Owned[i].State,
			Addr:  ir.NewCellAddr(genesis, uint16(i)),
			Token: tok,
		}
	}

	return newFormatter(opts.RootOptions, cmd.OutOrStdout()).Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "Issued contract %s\n", result.Name)
		fmt.Fprintf(w, "  ID:       %s\n", result.ContractID)
		fmt.Fprintf(w, "  Database: %s (%s)\n", result.Location, result.Backend)
		writeOwned(w, result.Owned)
	})
}

func writeOwned(w io.Writer, owned []OwnedOutput) {
	if len(owned) == 0 {
		return
	}
	fmt.Fprintln(w, "  Owned cells:")
	for _, o := range owned {
		fmt.Fprintf(w, "    %s %s token=%s\n", o.State, o.Addr, o.Token)
	}
}
