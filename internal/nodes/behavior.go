// Package nodes maps each node type to the behavior that derives its output.
package nodes

import (
	"context"
	"fmt"

	"github.com/rendis/flowforge/pkg/schema"
)

// Behavior executes one node type.
type Behavior interface {
	Type() schema.NodeType
	Execute(ctx context.Context, node schema.Node, in Input) (*Outcome, error)
}

// Outcome is what a behavior hands back to the engine. Behaviors never
// mutate the node they were given: config changes travel in Patch and the
// engine applies them to its own node collection.
type Outcome struct {
	// Result is nil when the node produced nothing.
	Result *schema.Result
	// Patch holds config keys to write back onto the node.
	Patch schema.NodeConfig
	// Warnings become warning entries in the run log.
	Warnings []string
}

type inputShape int

const (
	inputNone inputShape = iota
	inputSingle
	inputFanIn
)

// Input is the upstream data handed to a behavior: nothing for a node
// without incoming edges, the source's result for exactly one edge, and
// input_0, input_1, ... in edge order for several edges.
type Input struct {
	shape  inputShape
	single *schema.Result
	fanIn  []*schema.Result
}

// NoInput is the input of a node without incoming edges.
func NoInput() Input { return Input{} }

// SingleInput wraps the result of the only upstream node. r may be nil when
// the source has not produced anything.
func SingleInput(r *schema.Result) Input {
	return Input{shape: inputSingle, single: r}
}

// FanInInput wraps upstream results in incoming-edge order.
func FanInInput(rs []*schema.Result) Input {
	return Input{shape: inputFanIn, fanIn: rs}
}

// Combine builds an Input from upstream results in edge order.
func Combine(rs []*schema.Result) Input {
	switch len(rs) {
	case 0:
		return NoInput()
	case 1:
		return SingleInput(rs[0])
	}
	return FanInInput(rs)
}

// IsAbsent reports whether there is no upstream value at all.
func (in Input) IsAbsent() bool {
	switch in.shape {
	case inputSingle:
		return in.single == nil
	case inputFanIn:
		return false
	}
	return true
}

// Single returns the upstream result of a single-edge input.
func (in Input) Single() (*schema.Result, bool) {
	if in.shape != inputSingle || in.single == nil {
		return nil, false
	}
	return in.single, true
}

// FanIn returns the input_N keyed results of a multi-edge input. Sources
// that have not run map to nil.
func (in Input) FanIn() (map[string]*schema.Result, bool) {
	if in.shape != inputFanIn {
		return nil, false
	}
	out := make(map[string]*schema.Result, len(in.fanIn))
	for i, r := range in.fanIn {
		out[fmt.Sprintf("input_%d", i)] = r
	}
	return out, true
}

// Result returns the input as a node result: the single upstream result,
// or an object result holding the input_N map.
func (in Input) Result() *schema.Result {
	if r, ok := in.Single(); ok {
		return r
	}
	if m, ok := in.FanIn(); ok {
		payload := make(map[string]any, len(m))
		for k, r := range m {
			payload[k] = r
		}
		return schema.NewResult(schema.ResultObject, payload)
	}
	return nil
}

// Value returns the input in plain JSON shape for expression environments.
func (in Input) Value() any {
	if r, ok := in.Single(); ok {
		return resultValue(r)
	}
	if m, ok := in.FanIn(); ok {
		out := make(map[string]any, len(m))
		for k, r := range m {
			out[k] = resultValue(r)
		}
		return out
	}
	return nil
}

func resultValue(r *schema.Result) any {
	if r == nil {
		return nil
	}
	return map[string]any{"type": string(r.Kind), "data": r.Payload}
}
