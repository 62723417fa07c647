package expressions

import (
	"context"

	"github.com/itchyny/gojq"
)

// GoJQEngine runs jq programs with the environment as the input document.
// One output is returned as is, several as []any, none as nil.
type GoJQEngine struct {
	programs programCache[*gojq.Code]
}

func NewGoJQEngine() *GoJQEngine { return &GoJQEngine{} }

func (*GoJQEngine) Name() string { return "jq" }

func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptySnippet(e.Name())
	}
	code, err := e.programs.get(expression, func() (*gojq.Code, error) {
		q, err := gojq.Parse(expression)
		if err != nil {
			return nil, compileError(e.Name(), expression, err)
		}
		// $ENV is empty so node code cannot read the process environment.
		c, err := gojq.Compile(q, gojq.WithEnvironLoader(func() []string { return nil }))
		if err != nil {
			return nil, compileError(e.Name(), expression, err)
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	var outs []any
	iter := code.RunWithContext(ctx, data)
	for v, ok := iter.Next(); ok; v, ok = iter.Next() {
		if err, isErr := v.(error); isErr {
			return nil, evalError(e.Name(), expression, err)
		}
		outs = append(outs, v)
	}
	switch len(outs) {
	case 0:
		return nil, nil
	case 1:
		return outs[0], nil
	}
	return outs, nil
}

var _ Engine = (*GoJQEngine)(nil)
