package validation

import (
	"fmt"

	"github.com/rendis/flowforge/pkg/schema"
)

// customCodeLanguages are the evaluators a customCode node can select.
var customCodeLanguages = map[string]bool{
	"":           true,
	"expr":       true,
	"javascript": true,
	"jq":         true,
	"cel":        true,
}

// validateSemantic checks references the JSON Schema cannot express:
// unique node and edge IDs, edge endpoints, and per-type configuration.
func validateSemantic(g schema.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(g.Nodes))
	for i, n := range g.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if nodeIDs[n.ID] {
			result.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		nodeIDs[n.ID] = true
		validateNode(n, path, result)
	}

	edgeIDs := make(map[string]bool, len(g.Edges))
	pairs := make(map[[2]string]bool, len(g.Edges))
	for i, e := range g.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if edgeIDs[e.ID] {
			result.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate edge id %q", e.ID))
		}
		edgeIDs[e.ID] = true

		if !nodeIDs[e.Source] {
			result.AddError(path+".source", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", e.Source))
		}
		if !nodeIDs[e.Target] {
			result.AddError(path+".target", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", e.Target))
		}

		pair := [2]string{e.Source, e.Target}
		if pairs[pair] {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate connection %s -> %s", e.Source, e.Target))
		}
		pairs[pair] = true
	}

	return result
}

func validateNode(n schema.Node, path string, result *schema.ValidationResult) {
	if !n.Type.IsKnown() {
		result.AddWarning(path+".type", schema.ErrCodeValidation,
			fmt.Sprintf("unknown node type %q runs the default behavior", n.Type))
	}

	switch n.Type {
	case schema.NodeTypeCustomCode:
		lang := n.Config.String("language")
		if !customCodeLanguages[lang] {
			result.AddWarning(path+".config.language", schema.ErrCodeValidation,
				fmt.Sprintf("language %q is not supported and the node will fail", lang))
		}
	case schema.NodeTypeNumberInput:
		lo, hi := n.Config.Float("min", 0), n.Config.Float("max", 100)
		if lo > hi {
			result.AddError(path+".config", schema.ErrCodeValidation,
				fmt.Sprintf("min %v is greater than max %v", lo, hi))
		}
	}
}
