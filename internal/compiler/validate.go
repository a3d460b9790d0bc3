package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/codex"
)

// Validation error codes (E100-E199)
const (
	// Contract errors (E101-E109)
	ErrContractNameEmpty = "E101" // name is required
	ErrNoVerifiers       = "E102" // codex must name at least one verifier
	ErrUnknownLib        = "E103" // codex verifier names a missing lib
	ErrInvalidTypeKind   = "E104" // type kind is not uint, bool or string
	ErrDuplicateName     = "E105" // state name declared twice in one api
	ErrUnknownCallID     = "E106" // api method maps to a call id the codex lacks
	ErrInvalidScript     = "E107" // lib or lock does not compile

	// Api errors (E110-E119)
	ErrUnknownType     = "E110" // adaptor refers to an undeclared type
	ErrInvalidReader   = "E111" // reader kind or fields are invalid
	ErrUnknownState    = "E112" // reader refers to an undeclared state
	ErrDuplicateReader = "E113" // reader name declared twice

	// Genesis errors (E120-E129)
	ErrUnknownMethod       = "E120" // genesis method is not in the default api
	ErrUnknownGenesisState = "E121" // genesis cell names an undeclared state
	ErrGenesisValueShape   = "E122" // genesis value does not encode
)

// ValidationError represents a contract validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled contract.
// Returns all errors found (does not fail-fast).
func Validate(c *Contract) []ValidationError {
	var errs []ValidationError
	schema := c.Issuer.Schema
	cx := c.Issuer.Codex

	// E101: name is required
	if strings.TrimSpace(c.Params.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "name is required and must be non-empty",
			Code:    ErrContractNameEmpty,
		})
	}

	// E104: type kinds
	for _, name := range sortedNames(schema.Types) {
		switch kind := schema.Types[name]; kind {
		case api.KindUint, api.KindBool, api.KindString:
		default:
			errs = append(errs, ValidationError{
				Field:   "types." + name,
				Message: fmt.Sprintf("invalid kind %q, must be \"uint\", \"bool\" or \"string\"", kind),
				Code:    ErrInvalidTypeKind,
			})
		}
	}

	// E102/E103: codex verifiers
	if len(cx.Verifiers) == 0 {
		errs = append(errs, ValidationError{
			Field:   "codex.verifiers",
			Message: "at least one verifier is required",
			Code:    ErrNoVerifiers,
		})
	}
	for _, id := range cx.CallIDs() {
		lib := cx.Verifiers[id]
		if _, ok := schema.Libs[lib]; !ok {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("codex.verifiers.%d", id),
				Message: fmt.Sprintf("verifier names unknown lib %q", lib),
				Code:    ErrUnknownLib,
			})
		}
	}

	// E107: libs must compile
	if engine, err := codex.NewEngine(); err == nil {
		for _, name := range sortedNames(schema.Libs) {
			if err := engine.CheckSource(false, schema.Libs[name]); err != nil {
				errs = append(errs, ValidationError{
					Field:   "libs." + name,
					Message: err.Error(),
					Code:    ErrInvalidScript,
				})
			}
		}
		for i, o := range c.Params.Owned {
			if o.Lock == "" {
				continue
			}
			if err := engine.CheckSource(true, o.Lock); err != nil {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("genesis.owned[%d].lock", i),
					Message: err.Error(),
					Code:    ErrInvalidScript,
				})
			}
		}
	}

	errs = append(errs, validateApi(schema.Default, "api", schema.Types, cx)...)
	for _, name := range schema.CustomNames() {
		errs = append(errs, validateApi(schema.Custom[name], "views."+name, schema.Types, cx)...)
	}
	errs = append(errs, validateGenesis(c)...)
	return errs
}

func validateApi(a api.Api, field string, types api.TypeSystem, cx codex.Codex) []ValidationError {
	var errs []ValidationError

	// E105: a state name is either immutable or destructible
	for name := range a.Destructible {
		if _, ok := a.Immutable[name]; ok {
			errs = append(errs, ValidationError{
				Field:   field + "." + name,
				Message: fmt.Sprintf("state %q is declared both immutable and destructible", name),
				Code:    ErrDuplicateName,
			})
		}
	}

	// E110: adaptor types
	check := func(name string, ad api.Adaptor) {
		if ad.Kind != api.AdaptorEmbedded {
			return
		}
		if _, ok := types[ad.Type]; !ok {
			errs = append(errs, ValidationError{
				Field:   field + "." + name + ".type",
				Message: fmt.Sprintf("unknown type %q", ad.Type),
				Code:    ErrUnknownType,
			})
		}
	}
	for _, name := range a.DestructibleNames() {
		check(name, a.Destructible[name].Adaptor)
	}
	for _, name := range a.ImmutableNames() {
		check(name, a.Immutable[name].Adaptor)
	}

	// E111-E113: readers
	seen := make(map[string]bool)
	for i, r := range a.Readers {
		rf := fmt.Sprintf("%s.readers[%d]", field, i)
		if seen[r.Name] {
			errs = append(errs, ValidationError{
				Field:   rf,
				Message: fmt.Sprintf("duplicate reader name: %q", r.Name),
				Code:    ErrDuplicateReader,
			})
		}
		seen[r.Name] = true
		if err := r.Validate(); err != nil {
			errs = append(errs, ValidationError{Field: rf, Message: err.Error(), Code: ErrInvalidReader})
			continue
		}
		if r.State != "" {
			if _, ok := a.Immutable[r.State]; !ok {
				errs = append(errs, ValidationError{
					Field:   rf + ".state",
					Message: fmt.Sprintf("reader %q reads undeclared immutable state %q", r.Name, r.State),
					Code:    ErrUnknownState,
				})
			}
		}
	}

	// E106: method call ids
	for _, method := range sortedNames(a.Verifiers) {
		id := a.Verifiers[method]
		if _, ok := cx.Verifiers[id]; !ok {
			errs = append(errs, ValidationError{
				Field:   field + ".verifiers." + method,
				Message: fmt.Sprintf("call id %d has no codex verifier", id),
				Code:    ErrUnknownCallID,
			})
		}
	}
	return errs
}

func validateGenesis(c *Contract) []ValidationError {
	var errs []ValidationError
	a := c.Issuer.Schema.Default
	types := c.Issuer.Schema.Types

	// E120: method
	if _, ok := a.CallID(c.Params.Method); !ok {
		errs = append(errs, ValidationError{
			Field:   "genesis.method",
			Message: fmt.Sprintf("unknown method %q", c.Params.Method),
			Code:    ErrUnknownMethod,
		})
	}

	// E121/E122: owned cells
	for i, o := range c.Params.Owned {
		field := fmt.Sprintf("genesis.owned[%d]", i)
		if _, ok := a.Destructible[o.State]; !ok {
			errs = append(errs, ValidationError{
				Field:   field + ".state",
				Message: fmt.Sprintf("unknown destructible state %q", o.State),
				Code:    ErrUnknownGenesisState,
			})
			continue
		}
		if _, err := a.BuildDestructible(o.State, o.Value, o.Auth, o.Lock, types); err != nil {
			errs = append(errs, ValidationError{Field: field + ".value", Message: err.Error(), Code: ErrGenesisValueShape})
		}
	}

	for i, g := range c.Params.Global {
		field := fmt.Sprintf("genesis.global[%d]", i)
		if _, ok := a.Immutable[g.State]; !ok {
			errs = append(errs, ValidationError{
				Field:   field + ".state",
				Message: fmt.Sprintf("unknown immutable state %q", g.State),
				Code:    ErrUnknownGenesisState,
			})
			continue
		}
		if _, err := a.BuildImmutable(g.State, g.Value, g.Raw, types); err != nil {
			errs = append(errs, ValidationError{Field: field + ".value", Message: err.Error(), Code: ErrGenesisValueShape})
		}
	}
	return errs
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
