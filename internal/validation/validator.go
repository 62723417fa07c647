package validation

import "github.com/rendis/flowforge/pkg/schema"

// Validator checks graph documents for configuration errors before they
// are saved or run.
type Validator interface {
	ValidateGraph(g schema.Graph) error
	ValidateDocument(raw []byte) error
}
