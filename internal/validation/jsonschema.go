package validation

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/flowforge/pkg/schema"
)

// graphSchemaDoc describes the shape of a graph document. Node types are
// not enumerated since unknown types run the default behavior.
//
//go:embed graph.schema.json
var graphSchemaDoc []byte

const graphSchemaURL = "https://flowforge.dev/schemas/graph.json"

// shapeChecker validates documents against the compiled graph schema. It
// is safe for concurrent use.
type shapeChecker struct {
	schema *jsonschema.Schema
}

func newShapeChecker() (*shapeChecker, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(graphSchemaDoc))
	if err != nil {
		return nil, fmt.Errorf("graph schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(graphSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("graph schema: %w", err)
	}
	compiled, err := c.Compile(graphSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("graph schema: %w", err)
	}
	return &shapeChecker{schema: compiled}, nil
}

// check returns one issue per failing leaf of the schema, located by JSON
// pointer.
func (c *shapeChecker) check(raw []byte) []schema.ValidationIssue {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return []schema.ValidationIssue{shapeIssue("/", "graph document is not valid JSON")}
	}
	err = c.schema.Validate(doc)
	if err == nil {
		return nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []schema.ValidationIssue{shapeIssue("/", err.Error())}
	}
	var out []schema.ValidationIssue
	leaves(verr, func(e *jsonschema.ValidationError) {
		out = append(out, shapeIssue("/"+strings.Join(e.InstanceLocation, "/"), e.Error()))
	})
	return out
}

func leaves(e *jsonschema.ValidationError, visit func(*jsonschema.ValidationError)) {
	if len(e.Causes) == 0 {
		visit(e)
		return
	}
	for _, cause := range e.Causes {
		leaves(cause, visit)
	}
}

func shapeIssue(pointer, msg string) schema.ValidationIssue {
	return schema.ValidationIssue{Path: pointer, Code: schema.ErrCodeValidation, Message: msg, Severity: schema.SeverityError}
}
