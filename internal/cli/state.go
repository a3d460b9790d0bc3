package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/state"
)

// StateOptions holds flags for the state command.
type StateOptions struct {
	*RootOptions
	DBOptions
	View string
}

// StateResult is the structured state of a contract through one api.
type StateResult struct {
	ContractID ir.ContractID `json:"contract_id"`
	Name       string        `json:"name"`
	View       string        `json:"view,omitempty"`
	Readers    []ReaderValue `json:"readers"`
	Owned      []OwnedCell   `json:"owned"`
}

// ReaderValue is one reader result.
type ReaderValue struct {
	Name  string     `json:"name"`
	Value ir.IRValue `json:"value"`
}

// OwnedCell is one live destructible cell.
type OwnedCell struct {
	State string       `json:"state"`
	Addr  ir.CellAddr  `json:"addr"`
	Value ir.IRValue   `json:"value"`
	Token ir.AuthToken `json:"token"`
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show reader results and owned cells",
		Long: `Show the current state of the contract.

Reader results are listed in declaration order, owned cells by state name
and address. --view selects a custom api instead of the default one.

Example:
  deeds state --db ./fungible.db
  deeds state --db ./fungible.db --view audit --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(opts, cmd)
		},
	}
	addDBFlags(cmd, &opts.DBOptions)
	cmd.Flags().StringVar(&opts.View, "view", "", "custom api to read through")
	return cmd
}

func runState(opts *StateOptions, cmd *cobra.Command) error {
	l, err := opts.openLedger()
	if err != nil {
		return err
	}
	defer closeLedger(l)

	articles := l.Articles()
	st := l.State()
	view, adapted := articles.Schema.Default, st.Main
	if opts.View != "" {
		var ok bool
		if view, ok = articles.Schema.Custom[opts.View]; !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown view %q", opts.View))
		}
		adapted = st.Aux[opts.View]
	}

	result := StateResult{
		ContractID: articles.ContractID,
		Name:       articles.Issue.Meta.Name,
		View:       opts.View,
		Readers:    readerValues(view, adapted),
		Owned:      ownedCells(view, adapted, st.Raw),
	}
	return newFormatter(opts.RootOptions, cmd.OutOrStdout()).Emit(result, func(w io.Writer) {
		writeState(w, result)
	})
}

func readerValues(view api.Api, adapted *state.AdaptedState) []ReaderValue {
	out := make([]ReaderValue, len(view.Readers))
	for i, r := range view.Readers {
		out[i] = ReaderValue{Name: r.Name, Value: adapted.Read(r.Name)}
	}
	return out
}

func ownedCells(view api.Api, adapted *state.AdaptedState, raw *state.RawState) []OwnedCell {
	out := []OwnedCell{}
	for _, name := range view.DestructibleNames() {
		for _, v := range adapted.Owned(name) {
			cell, _ := raw.Destructible(v.Addr)
			out = append(out, OwnedCell{State: name, Addr: v.Addr, Value: v.Value, Token: cell.Auth})
		}
	}
	return out
}

func writeState(w io.Writer, result StateResult) {
	title := result.Name
	if result.View != "" {
		title += " (view " + result.View + ")"
	}
	fmt.Fprintf(w, "State of %s\n", title)
	fmt.Fprintf(w, "  ID: %s\n", result.ContractID)
	fmt.Fprintln(w, "  Readers:")
	for _, r := range result.Readers {
		fmt.Fprintf(w, "    %s = %s\n", r.Name, formatValue(r.Value))
	}
	fmt.Fprintln(w, "  Owned:")
	if len(result.Owned) == 0 {
		fmt.Fprintln(w, "    (none)")
	}
	for _, c := range result.Owned {
		fmt.Fprintf(w, "    %s %s = %s token=%s\n", c.State, c.Addr, formatValue(c.Value), c.Token)
	}
}

// formatValue renders an IR value as compact JSON.
func formatValue(v ir.IRValue) string {
	b, err := ir.MarshalIRValue(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}
