package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// celScope lists the variables a CEL snippet may reference, each declared
// as map(string, dyn).
var celScope = []string{"input", "config", "node"}

// CELEngine runs Common Expression Language snippets. Names outside
// celScope are compile errors.
type CELEngine struct {
	env      *cel.Env
	programs programCache[cel.Program]
}

func NewCELEngine() (*CELEngine, error) {
	vars := make([]cel.EnvOption, 0, len(celScope))
	for _, name := range celScope {
		vars = append(vars, cel.Variable(name, cel.MapType(cel.StringType, cel.DynType)))
	}
	env, err := cel.NewEnv(vars...)
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}
	return &CELEngine{env: env}, nil
}

func (*CELEngine) Name() string { return "cel" }

func (e *CELEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptySnippet(e.Name())
	}
	prg, err := e.programs.get(expression, func() (cel.Program, error) {
		ast, iss := e.env.Compile(expression)
		if iss.Err() != nil {
			return nil, compileError(e.Name(), expression, iss.Err())
		}
		p, err := e.env.Program(ast)
		if err != nil {
			return nil, compileError(e.Name(), expression, err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	// Absent or nil variables bind to an empty map so size(input) and
	// has() work on nodes with no upstream.
	vars := make(map[string]any, len(celScope))
	for _, name := range celScope {
		vars[name] = map[string]any{}
		if v := data[name]; v != nil {
			vars[name] = v
		}
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return nil, evalError(e.Name(), expression, err)
	}
	return out.Value(), nil
}

var _ Engine = (*CELEngine)(nil)
