package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/ledger"
)

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	DBOptions
	Using   []string
	Reading []string
	Assign  []string
	Append  []string

	// NextToken overrides the auth token source (for testing).
	NextToken func() ir.AuthToken
}

// CallResult describes an applied operation.
type CallResult struct {
	Opid   ir.Opid       `json:"opid"`
	Method string        `json:"method"`
	Owned  []OwnedOutput `json:"owned"`
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <method>",
		Short: "Build, verify and apply an operation",
		Long: `Call a method of the contract's default api.

  --using TOKEN[:W1,W2..]   destroy the owned cell of TOKEN, presenting a witness
  --reading OPID:POS        read an immutable cell
  --assign STATE=VALUE[@LOCK]  create an owned cell with a fresh token
  --append STATE=VALUE      create an immutable cell

Values are JSON; anything that does not parse as JSON is taken as a string.

Example:
  deeds call transfer --db ./fungible.db --using 3f..a1 --assign amount=600
  deeds call issue --db ./fungible.db --append memo=hello`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(opts, args[0], cmd)
		},
	}
	addDBFlags(cmd, &opts.DBOptions)
	cmd.Flags().StringArrayVar(&opts.Using, "using", nil, "owned cell to destroy (TOKEN[:W1,W2..])")
	cmd.Flags().StringArrayVar(&opts.Reading, "reading", nil, "immutable cell to read (OPID:POS)")
	cmd.Flags().StringArrayVar(&opts.Assign, "assign", nil, "owned output (STATE=VALUE[@LOCK])")
	cmd.Flags().StringArrayVar(&opts.Append, "append", nil, "immutable output (STATE=VALUE)")
	return cmd
}

func runCall(opts *CallOptions, method string, cmd *cobra.Command) error {
	next := opts.NextToken
	if next == nil {
		next = api.NewAuthToken
	}
	params, err := buildCallParams(opts, method, next)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid call", err)
	}

	l, err := opts.openLedger()
	if err != nil {
		return err
	}
	defer closeLedger(l)

	opid, err := l.Call(params)
	if err != nil {
		return ledgerFailure("call failed", err)
	}

	result := CallResult{Opid: opid, Method: method, Owned: make([]OwnedOutput, len(params.Owned))}
	for i, o := range params.Owned {
		result.Owned[i] = OwnedOutput{State: o.State, Addr: ir.NewCellAddr(opid, uint16(i)), Token: o.Auth}
	}
	return newFormatter(opts.RootOptions, cmd.OutOrStdout()).Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "Applied %s\n", method)
		fmt.Fprintf(w, "  Opid: %s\n", opid)
		writeOwned(w, result.Owned)
	})
}

func buildCallParams(opts *CallOptions, method string, next func() ir.AuthToken) (ledger.CallParams, error) {
	params := ledger.CallParams{Method: method}
	for _, s := range opts.Using {
		u, err := parseUsing(s)
		if err != nil {
			return params, err
		}
		params.Using = append(params.Using, u)
	}
	for _, s := range opts.Reading {
		addr, err := ir.ParseCellAddr(s)
		if err != nil {
			return params, fmt.Errorf("--reading %q: %w", s, err)
		}
		params.Reading = append(params.Reading, addr)
	}
	for _, s := range opts.Append {
		name, value, err := parseAssignment(s)
		if err != nil {
			return params, fmt.Errorf("--append %q: %w", s, err)
		}
		params.Global = append(params.Global, api.GlobalParam{State: name, Value: value})
	}
	for _, s := range opts.Assign {
		assign, lock, _ := strings.Cut(s, "@")
		name, value, err := parseAssignment(assign)
		if err != nil {
			return params, fmt.Errorf("--assign %q: %w", s, err)
		}
		params.Owned = append(params.Owned, api.OwnedParam{State: name, Value: value, Auth: next(), Lock: lock})
	}
	return params, nil
}

// parseUsing parses TOKEN[:W1,W2..].
func parseUsing(s string) (ledger.UsingParam, error) {
	tokText, witnessText, hasWitness := strings.Cut(s, ":")
	tok, err := ir.ParseAuthToken(tokText)
	if err != nil {
		return ledger.UsingParam{}, fmt.Errorf("--using %q: %w", s, err)
	}
	u := ledger.UsingParam{Token: tok}
	if !hasWitness {
		return u, nil
	}
	parts := strings.Split(witnessText, ",")
	if len(parts) > ir.StateValueMax {
		return u, fmt.Errorf("--using %q: witness holds at most %d elements", s, ir.StateValueMax)
	}
	elems := make([]uint64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return u, fmt.Errorf("--using %q: witness: %w", s, err)
		}
		elems[i] = n
	}
	u.Witness = ir.NewStateValue(elems...)
	return u, nil
}

// parseAssignment parses STATE=VALUE. VALUE is JSON, or a bare string.
func parseAssignment(s string) (string, ir.IRValue, error) {
	name, text, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return "", nil, fmt.Errorf("expected STATE=VALUE")
	}
	if v, err := ir.UnmarshalIRValue([]byte(text)); err == nil {
		return name, v, nil
	}
	return name, ir.IRString(text), nil
}
