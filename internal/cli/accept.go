package cli

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/deeds/internal/ledger"
)

// AcceptOptions holds flags for the accept command.
type AcceptOptions struct {
	*RootOptions
	DBOptions
}

// AcceptResult describes an import.
type AcceptResult struct {
	ledger.AcceptReport
	Created bool `json:"created"`
}

// NewAcceptCommand creates the accept command.
func NewAcceptCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AcceptOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "accept <stream>",
		Short: "Import an exported stream",
		Long: `Accept a stream written by "deeds export".

Every operation is verified by the codex before it is applied. The first
rejected operation stops the import; operations applied before it stay.
When the database does not exist yet it is created from the stream's
articles.

Exit codes:
  0 - Stream accepted
  1 - The ledger refused the stream (foreign contract, rejected operation)
  2 - Command error (unreadable stream, database errors)

Example:
  deeds accept --db ./replica.db all.deeds`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccept(opts, args[0], cmd)
		},
	}
	addDBFlags(cmd, &opts.DBOptions)
	return cmd
}

func runAccept(opts *AcceptOptions, path string, cmd *cobra.Command) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read stream", err)
	}

	l, created, err := openOrCreate(&opts.DBOptions, data)
	if err != nil {
		return err
	}
	defer closeLedger(l)

	report, err := l.Accept(bytes.NewReader(data))
	if err != nil {
		return ledgerFailure(fmt.Sprintf("accept stopped after %d operation(s)", report.Applied), err)
	}

	result := AcceptResult{AcceptReport: report, Created: created}
	return newFormatter(opts.RootOptions, cmd.OutOrStdout()).Emit(result, func(w io.Writer) {
		if created {
			fmt.Fprintf(w, "Created %s\n", opts.Database)
		}
		fmt.Fprintf(w, "Accepted: %d applied, %d already present", report.Applied, report.Present)
		if report.ArticlesChanged {
			fmt.Fprint(w, ", articles upgraded")
		}
		fmt.Fprintln(w)
	})
}

// openOrCreate opens the database, or issues it from the articles of the
// stream when it holds no contract yet.
func openOrCreate(opts *DBOptions, stream []byte) (*ledger.Ledger, bool, error) {
	if _, err := os.Stat(opts.Database); err == nil {
		l, err := opts.openLedger()
		if err == nil {
			return l, false, nil
		}
		if !errNoContract(err) {
			return nil, false, err
		}
	}

	create, err := opts.creator()
	if err != nil {
		return nil, false, err
	}
	articles, err := ledger.ReadArticles(bytes.NewReader(stream))
	if err != nil {
		return nil, false, ledgerFailure("invalid stream", err)
	}
	l, err := ledger.Issue(articles, create, ledger.WithLogger(slog.Default()))
	if err != nil {
		return nil, false, WrapExitError(ExitCommandError, "failed to create database", err)
	}
	return l, true, nil
}
