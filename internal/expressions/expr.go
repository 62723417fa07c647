package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEngine runs expr-lang snippets. Every key of the environment is a
// top-level variable; unknown names evaluate to nil.
type ExprEngine struct {
	programs programCache[*vm.Program]
}

func NewExprEngine() *ExprEngine { return &ExprEngine{} }

func (*ExprEngine) Name() string { return "expr" }

func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptySnippet(e.Name())
	}
	if data == nil {
		data = map[string]any{}
	}
	prg, err := e.programs.get(expression, func() (*vm.Program, error) {
		p, err := expr.Compile(expression, expr.Env(data), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, compileError(e.Name(), expression, err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, evalError(e.Name(), expression, err)
	}
	return out, nil
}

var _ Engine = (*ExprEngine)(nil)
