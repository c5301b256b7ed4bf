package rules

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
)

// conditionCompiler compiles rule conditions against a CEL environment that
// exposes the record under evaluation as `record`.
type conditionCompiler struct {
	env *cel.Env
}

func newConditionCompiler() (*conditionCompiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &conditionCompiler{env: env}, nil
}

// Compile turns expr into an executable program. Non-boolean results are
// rejected at evaluation time.
func (c *conditionCompiler) Compile(expr string) (cel.Program, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation error: %w", issues.Err())
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prg, nil
}

// celValue converts json.Number leaves to double, the numeric type conditions
// compare against.
func celValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, _ := t.Float64()
		return f
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = celValue(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = celValue(x)
		}
		return out
	}
	return v
}
