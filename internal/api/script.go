package api

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/roach88/deeds/internal/ir"
)

// programs caches compiled expr programs by source. Api values are plain
// data decoded from articles, so the cache lives at package level.
var programs sync.Map

func compileScript(source string) (*vm.Program, error) {
	if cached, ok := programs.Load(source); ok {
		return cached.(*vm.Program), nil
	}
	prg, err := expr.Compile(source,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}
	programs.Store(source, prg)
	return prg, nil
}

// runScript evaluates source against env and converts the result.
// A nil result is reported as ok=false.
func runScript(source string, env map[string]any) (ir.IRValue, bool, error) {
	prg, err := compileScript(source)
	if err != nil {
		return nil, false, err
	}
	out, err := expr.Run(prg, env)
	if err != nil {
		return nil, false, fmt.Errorf("run script: %w", err)
	}
	if out == nil {
		return nil, false, nil
	}
	v, err := ir.FromNative(out)
	if err != nil {
		return nil, false, fmt.Errorf("script result: %w", err)
	}
	return v, true, nil
}

// CheckScript compiles source, reporting syntax errors early.
func CheckScript(source string) error {
	_, err := compileScript(source)
	return err
}
