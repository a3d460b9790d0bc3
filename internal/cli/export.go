package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/deeds/internal/ir"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	DBOptions
	Output string
	Tokens []string
}

// ExportResult describes a written stream.
type ExportResult struct {
	Output string `json:"output"`
	Bytes  int    `json:"bytes"`
	Tokens int    `json:"tokens,omitempty"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the operations behind owned cells to a stream",
		Long: `Export the articles and every operation needed to reconstruct the
owned cells of the given tokens, or of all live cells when no --token is
given. The stream is accepted by "deeds accept".

Example:
  deeds export --db ./fungible.db -o all.deeds
  deeds export --db ./fungible.db -o alice.deeds --token 3f..a1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}
	addDBFlags(cmd, &opts.DBOptions)
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "stream file to write (required)")
	cmd.Flags().StringArrayVar(&opts.Tokens, "token", nil, "auth token whose cell to export (repeatable)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	tokens := make([]ir.AuthToken, len(opts.Tokens))
	for i, s := range opts.Tokens {
		tok, err := ir.ParseAuthToken(s)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("invalid --token %q", s), err)
		}
		tokens[i] = tok
	}

	l, err := opts.openLedger()
	if err != nil {
		return err
	}
	defer closeLedger(l)

	var buf bytes.Buffer
	if len(tokens) == 0 {
		err = l.ExportAll(&buf)
	} else {
		err = l.Export(tokens, &buf)
	}
	if err != nil {
		return ledgerFailure("export failed", err)
	}
	if err := os.WriteFile(opts.Output, buf.Bytes(), 0644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write stream", err)
	}

	result := ExportResult{Output: opts.Output, Bytes: buf.Len(), Tokens: len(tokens)}
	return newFormatter(opts.RootOptions, cmd.OutOrStdout()).Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "Exported %d bytes to %s\n", result.Bytes, result.Output)
	})
}
