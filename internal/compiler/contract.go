package compiler

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/codex"
	"github.com/roach88/deeds/internal/ir"
)

// Contract is a compiled contract definition: the issuer and the genesis
// parameters. Owned genesis cells without an explicit auth token get one
// assigned by Issue.
type Contract struct {
	Issuer api.Issuer
	Params api.IssueParams
}

// CompileFile reads and compiles a CUE contract definition.
func CompileFile(path string) (*Contract, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return CompileSource(path, src)
}

// CompileSource compiles CUE source holding a top-level contract field.
func CompileSource(filename string, src []byte) (*Contract, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	c := v.LookupPath(cue.ParsePath("contract"))
	if !c.Exists() {
		return nil, &CompileError{
			Field:   "contract",
			Message: "contract is required",
			Pos:     v.Pos(),
		}
	}
	return CompileContract(c)
}

// CompileContract parses a CUE value into a Contract.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The value is the contract struct itself:
//
//	contract: {
//		name: "Fungible"
//		types: { Amount: "uint" }
//		libs: { transfer: "in_sum >= out_sum" }
//		codex: { verifiers: { "1": "transfer" } }
//		api: { ... }
//		views: { audit: { ... } }
//		genesis: { method: "issue", owned: [...], global: [...] }
//	}
func CompileContract(v cue.Value) (*Contract, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	name, err := lookupString(v, "name", "")
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, &CompileError{Field: "name", Message: "name is required", Pos: v.Pos()}
	}

	schema, err := parseSchema(v)
	if err != nil {
		return nil, err
	}

	cx := codex.Codex{Verifiers: make(map[uint16]string)}
	if cx.Name, err = lookupString(v, "codex.name", name); err != nil {
		return nil, err
	}
	err = fields(v, "codex.verifiers", func(label string, f cue.Value) error {
		id, err := strconv.ParseUint(label, 10, 16)
		if err != nil {
			return &CompileError{
				Field:   "codex.verifiers." + label,
				Message: "call id must be an integer in 0..65535",
				Pos:     f.Pos(),
			}
		}
		lib, err := f.String()
		if err != nil {
			return formatCUEError(err)
		}
		cx.Verifiers[uint16(id)] = lib
		return nil
	})
	if err != nil {
		return nil, err
	}

	params, err := parseGenesis(v, name)
	if err != nil {
		return nil, err
	}

	return &Contract{
		Issuer: api.Issuer{Codex: cx, Schema: schema},
		Params: params,
	}, nil
}

func parseSchema(v cue.Value) (api.Schema, error) {
	schema := api.Schema{
		Types: api.TypeSystem{},
		Libs:  codex.Libs{},
	}
	var err error
	if schema.Version, err = lookupUint(v, "version", 1); err != nil {
		return schema, err
	}
	err = fields(v, "types", func(label string, f cue.Value) error {
		kind, err := f.String()
		if err != nil {
			return formatCUEError(err)
		}
		schema.Types[label] = api.Kind(kind)
		return nil
	})
	if err != nil {
		return schema, err
	}
	err = fields(v, "libs", func(label string, f cue.Value) error {
		src, err := f.String()
		if err != nil {
			return formatCUEError(err)
		}
		schema.Libs[label] = src
		return nil
	})
	if err != nil {
		return schema, err
	}

	apiVal := v.LookupPath(cue.ParsePath("api"))
	if !apiVal.Exists() {
		return schema, &CompileError{Field: "api", Message: "api is required", Pos: v.Pos()}
	}
	if schema.Default, err = parseApi(apiVal, "api"); err != nil {
		return schema, err
	}

	err = fields(v, "views", func(label string, f cue.Value) error {
		a, err := parseApi(f, "views."+label)
		if err != nil {
			return err
		}
		if schema.Custom == nil {
			schema.Custom = make(map[string]api.Api)
		}
		a.Name = label
		schema.Custom[label] = a
		return nil
	})
	return schema, err
}

// parseApi reads one interpretation: state declarations, readers and
// method names.
func parseApi(v cue.Value, field string) (api.Api, error) {
	a := api.Api{}
	var err error
	if a.Name, err = lookupString(v, "name", ""); err != nil {
		return a, err
	}

	err = fields(v, "destructible", func(label string, f cue.Value) error {
		adaptor, err := parseAdaptor(f, field+".destructible."+label)
		if err != nil {
			return err
		}
		if a.Destructible == nil {
			a.Destructible = make(map[string]api.DestructibleDef)
		}
		a.Destructible[label] = api.DestructibleDef{Adaptor: adaptor}
		return nil
	})
	if err != nil {
		return a, err
	}

	err = fields(v, "immutable", func(label string, f cue.Value) error {
		adaptor, err := parseAdaptor(f, field+".immutable."+label)
		if err != nil {
			return err
		}
		published, err := lookupBool(f, "published")
		if err != nil {
			return err
		}
		if a.Immutable == nil {
			a.Immutable = make(map[string]api.ImmutableDef)
		}
		a.Immutable[label] = api.ImmutableDef{Adaptor: adaptor, Published: published}
		return nil
	})
	if err != nil {
		return a, err
	}

	// Readers are computed in declaration order.
	err = fields(v, "readers", func(label string, f cue.Value) error {
		r, err := parseReader(f, label, field+".readers."+label)
		if err != nil {
			return err
		}
		a.Readers = append(a.Readers, r)
		return nil
	})
	if err != nil {
		return a, err
	}

	err = fields(v, "verifiers", func(label string, f cue.Value) error {
		id, err := f.Uint64()
		if err != nil || id > 0xffff {
			return &CompileError{
				Field:   field + ".verifiers." + label,
				Message: "call id must be an integer in 0..65535",
				Pos:     f.Pos(),
			}
		}
		if a.Verifiers == nil {
			a.Verifiers = make(map[string]uint16)
		}
		a.Verifiers[label] = uint16(id)
		return nil
	})
	return a, err
}

// parseAdaptor reads { type, tag } for an embedded adaptor or { script }
// for a scripted one.
func parseAdaptor(v cue.Value, field string) (api.Adaptor, error) {
	script, err := lookupString(v, "script", "")
	if err != nil {
		return api.Adaptor{}, err
	}
	if script != "" {
		return api.Scripted(script), nil
	}
	typeName, err := lookupString(v, "type", "")
	if err != nil {
		return api.Adaptor{}, err
	}
	if typeName == "" {
		return api.Adaptor{}, &CompileError{
			Field:   field,
			Message: "either type and tag or script is required",
			Pos:     v.Pos(),
		}
	}
	tag, err := lookupUint(v, "tag", 0)
	if err != nil {
		return api.Adaptor{}, err
	}
	return api.Embedded(tag, typeName), nil
}

func parseReader(v cue.Value, name, field string) (api.Reader, error) {
	r := api.Reader{Name: name}
	kind, err := lookupString(v, "kind", "")
	if err != nil {
		return r, err
	}
	r.Kind = api.ReaderKind(kind)
	if r.State, err = lookupString(v, "state", ""); err != nil {
		return r, err
	}
	if r.Prefix, err = lookupString(v, "prefix", ""); err != nil {
		return r, err
	}
	if r.Script, err = lookupString(v, "script", ""); err != nil {
		return r, err
	}
	if c := v.LookupPath(cue.ParsePath("value")); c.Exists() {
		val, err := irValue(c, field+".value")
		if err != nil {
			return r, err
		}
		data, err := json.Marshal(val)
		if err != nil {
			return r, fmt.Errorf("%s.value: %w", field, err)
		}
		r.Value = data
	}
	return r, nil
}

func parseGenesis(v cue.Value, name string) (api.IssueParams, error) {
	g := v.LookupPath(cue.ParsePath("genesis"))
	if !g.Exists() {
		return api.IssueParams{}, &CompileError{Field: "genesis", Message: "genesis is required", Pos: v.Pos()}
	}
	p := api.IssueParams{Name: name}
	var err error
	if p.Method, err = lookupString(g, "method", ""); err != nil {
		return p, err
	}
	if p.Nonce, err = lookupUint(g, "nonce", 0); err != nil {
		return p, err
	}
	if ts := v.LookupPath(cue.ParsePath("timestamp")); ts.Exists() {
		if p.Timestamp, err = ts.Int64(); err != nil {
			return p, formatCUEError(err)
		}
	}

	err = elements(g, "owned", func(i int, e cue.Value) error {
		field := fmt.Sprintf("genesis.owned[%d]", i)
		o := api.OwnedParam{}
		var err error
		if o.State, err = lookupString(e, "state", ""); err != nil {
			return err
		}
		if o.Lock, err = lookupString(e, "lock", ""); err != nil {
			return err
		}
		if o.Value, err = irValue(e.LookupPath(cue.ParsePath("value")), field+".value"); err != nil {
			return err
		}
		auth, err := lookupString(e, "auth", "")
		if err != nil {
			return err
		}
		if auth != "" {
			if o.Auth, err = ir.ParseAuthToken(auth); err != nil {
				return &CompileError{Field: field + ".auth", Message: err.Error(), Pos: e.Pos()}
			}
		}
		p.Owned = append(p.Owned, o)
		return nil
	})
	if err != nil {
		return p, err
	}

	err = elements(g, "global", func(i int, e cue.Value) error {
		field := fmt.Sprintf("genesis.global[%d]", i)
		gp := api.GlobalParam{}
		var err error
		if gp.State, err = lookupString(e, "state", ""); err != nil {
			return err
		}
		if gp.Value, err = irValue(e.LookupPath(cue.ParsePath("value")), field+".value"); err != nil {
			return err
		}
		if raw := e.LookupPath(cue.ParsePath("raw")); raw.Exists() {
			if gp.Raw, err = irValue(raw, field+".raw"); err != nil {
				return err
			}
		}
		p.Global = append(p.Global, gp)
		return nil
	})
	return p, err
}

// Issue validates the contract, assigns tokens from next to owned genesis
// cells that have none, and issues it. It returns the articles and the
// token of every owned genesis cell in declaration order.
func (c *Contract) Issue(next func() ir.AuthToken) (api.Articles, []ir.AuthToken, error) {
	if errs := Validate(c); len(errs) > 0 {
		return api.Articles{}, nil, errs[0]
	}
	params := c.Params
	params.Owned = make([]api.OwnedParam, len(c.Params.Owned))
	tokens := make([]ir.AuthToken, len(c.Params.Owned))
	for i, o := range c.Params.Owned {
		if o.Auth == (ir.AuthToken{}) {
			o.Auth = next()
		}
		params.Owned[i] = o
		tokens[i] = o.Auth
	}
	articles, err := c.Issuer.Issue(params)
	if err != nil {
		return api.Articles{}, nil, err
	}
	return articles, tokens, nil
}
