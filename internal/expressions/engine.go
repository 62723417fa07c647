package expressions

import (
	"context"
	"sync"

	"github.com/rendis/flowforge/pkg/schema"
)

// Engine evaluates a customCode snippet against the node environment
// (input, config and node).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// DefaultLanguage is used when a customCode node names no language.
const DefaultLanguage = "expr"

// Engines resolves a custom-code language name to its engine.
type Engines struct {
	byName map[string]Engine
}

// NewEngines builds the expr, jq and cel engines.
func NewEngines() (*Engines, error) {
	cel, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	engines := &Engines{byName: make(map[string]Engine, 3)}
	for _, e := range []Engine{NewExprEngine(), NewGoJQEngine(), cel} {
		engines.byName[e.Name()] = e
	}
	return engines, nil
}

// Lookup returns the engine for language. An empty language selects the
// default engine.
func (e *Engines) Lookup(language string) (Engine, error) {
	if language == "" {
		language = DefaultLanguage
	}
	eng, ok := e.byName[language]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unsupported custom code language %q (want expr, jq or cel)", language)
	}
	return eng, nil
}

// programCache memoizes compiled snippets by source text. Node code is
// re-run on every execution, so each snippet compiles once per process.
type programCache[P any] struct {
	mu       sync.RWMutex
	programs map[string]P
}

func (c *programCache[P]) get(src string, compile func() (P, error)) (P, error) {
	c.mu.RLock()
	p, ok := c.programs[src]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.programs[src]; ok {
		return p, nil
	}
	p, err := compile()
	if err != nil {
		return p, err
	}
	if c.programs == nil {
		c.programs = make(map[string]P)
	}
	c.programs[src] = p
	return p, nil
}

// compileError reports a snippet that does not parse or type-check.
func compileError(lang, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s: cannot compile %q: %s", lang, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"language": lang, "expression": expression})
}

// evalError reports a snippet that compiled but failed at run time.
func evalError(lang, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeExecution, "%s: %q failed: %s", lang, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"language": lang, "expression": expression})
}

func emptySnippet(lang string) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s: empty expression", lang)
}
