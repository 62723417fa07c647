package validation

import (
	"encoding/json"

	"github.com/rendis/flowforge/pkg/schema"
)

// GraphValidator runs the validation pipeline in three stages: document
// shape against the JSON Schema, then semantics (ids, edge endpoints,
// per-type config), then reachability, which only warns. A failing stage
// stops the later ones.
type GraphValidator struct {
	shape *shapeChecker
}

func NewGraphValidator() (*GraphValidator, error) {
	sc, err := newShapeChecker()
	if err != nil {
		return nil, err
	}
	return &GraphValidator{shape: sc}, nil
}

// Validate runs the full pipeline and returns every issue found.
func (gv *GraphValidator) Validate(g schema.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	raw, err := json.Marshal(g)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, "graph cannot be encoded: "+err.Error())
		return result
	}
	for _, stage := range []func() *schema.ValidationResult{
		func() *schema.ValidationResult { return &schema.ValidationResult{Errors: gv.shape.check(raw)} },
		func() *schema.ValidationResult { return validateSemantic(g) },
		func() *schema.ValidationResult { return validateReachability(g) },
	} {
		result.Merge(stage())
		if !result.Valid() {
			break
		}
	}
	return result
}

// ValidateGraph satisfies Validator.
func (gv *GraphValidator) ValidateGraph(g schema.Graph) error {
	return gv.Validate(g).ToError()
}

// ValidateDocument checks the JSON shape of raw only.
func (gv *GraphValidator) ValidateDocument(raw []byte) error {
	return (&schema.ValidationResult{Errors: gv.shape.check(raw)}).ToError()
}
