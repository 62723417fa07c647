package nodes

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/internal/imagegen"
	"github.com/rendis/flowforge/pkg/schema"
)

// Fallback values used when a node's config leaves a field unset.
const (
	DefaultInputText     = "Default input"
	DefaultPrompt        = "A beautiful landscape"
	DefaultProcessedMark = "processed"
	DefaultSimulatedWork = 1500 * time.Millisecond
)

// Deps are the collaborators the built-in behaviors call out to.
type Deps struct {
	// Images serves imageGeneration nodes. Nil makes those nodes fail.
	Images imagegen.Generator
	// Engines evaluates customCode nodes. Nil makes those nodes fail.
	Engines *expressions.Engines
	// SimulatedWork is how long default nodes pretend to work. Negative
	// disables the delay; zero uses DefaultSimulatedWork.
	SimulatedWork time.Duration
}

// NewBuiltinRegistry returns a registry with a behavior for every known
// node type. Unknown types fall back to the default behavior.
func NewBuiltinRegistry(deps Deps) *Registry {
	work := deps.SimulatedWork
	switch {
	case work == 0:
		work = DefaultSimulatedWork
	case work < 0:
		work = 0
	}
	def := &defaultBehavior{nodeType: schema.NodeTypeDefault, work: work}

	reg := NewRegistry(def)
	for _, b := range []Behavior{
		def,
		triggerBehavior{},
		textInputBehavior{},
		numberInputBehavior{},
		sliderInputBehavior{},
		toggleInputBehavior{},
		imageInputBehavior{},
		&imageGenerationBehavior{images: deps.Images},
		imageOutputBehavior{},
		&outputBehavior{fallback: def},
		&customCodeBehavior{engines: deps.Engines, fallback: def},
	} {
		// Types are distinct by construction.
		_ = reg.Register(b)
	}
	return reg
}

// --- default ---

type defaultBehavior struct {
	nodeType schema.NodeType
	work     time.Duration
}

func (b *defaultBehavior) Type() schema.NodeType { return b.nodeType }

// Execute simulates work, then passes the upstream input through, or
// produces the generic processed marker when there is none.
func (b *defaultBehavior) Execute(ctx context.Context, _ schema.Node, in Input) (*Outcome, error) {
	if b.work > 0 {
		timer := time.NewTimer(b.work)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !in.IsAbsent() {
		return &Outcome{Result: in.Result()}, nil
	}
	return &Outcome{Result: schema.NewResult(schema.ResultDefault, DefaultProcessedMark)}, nil
}

// --- trigger ---

type triggerBehavior struct{}

func (triggerBehavior) Type() schema.NodeType { return schema.NodeTypeTrigger }

func (triggerBehavior) Execute(context.Context, schema.Node, Input) (*Outcome, error) {
	return &Outcome{}, nil
}

// --- inputs ---

type textInputBehavior struct{}

func (textInputBehavior) Type() schema.NodeType { return schema.NodeTypeTextInput }

func (textInputBehavior) Execute(_ context.Context, node schema.Node, _ Input) (*Outcome, error) {
	text := node.Config.StringOr(schema.ConfigInputText, DefaultInputText)
	return &Outcome{Result: schema.NewResult(schema.ResultText, text)}, nil
}

type numberInputBehavior struct{}

func (numberInputBehavior) Type() schema.NodeType { return schema.NodeTypeNumberInput }

func (numberInputBehavior) Execute(_ context.Context, node schema.Node, _ Input) (*Outcome, error) {
	v := clamp(node.Config.Float(schema.ConfigInputValue, 0),
		node.Config.Float(schema.ConfigMin, 0), node.Config.Float(schema.ConfigMax, 100))
	return &Outcome{Result: schema.NewResult(schema.ResultNumber, v)}, nil
}

type sliderInputBehavior struct{}

func (sliderInputBehavior) Type() schema.NodeType { return schema.NodeTypeSliderInput }

func (sliderInputBehavior) Execute(_ context.Context, node schema.Node, _ Input) (*Outcome, error) {
	v := clamp(node.Config.Float(schema.ConfigSliderValue, 50),
		node.Config.Float(schema.ConfigMin, 0), node.Config.Float(schema.ConfigMax, 100))
	return &Outcome{Result: schema.NewResult(schema.ResultNumber, v)}, nil
}

type toggleInputBehavior struct{}

func (toggleInputBehavior) Type() schema.NodeType { return schema.NodeTypeToggleInput }

func (toggleInputBehavior) Execute(_ context.Context, node schema.Node, _ Input) (*Outcome, error) {
	v := node.Config.Bool(schema.ConfigToggleValue, false)
	return &Outcome{Result: schema.NewResult(schema.ResultBoolean, v)}, nil
}

type imageInputBehavior struct{}

func (imageInputBehavior) Type() schema.NodeType { return schema.NodeTypeImageInput }

func (imageInputBehavior) Execute(_ context.Context, node schema.Node, _ Input) (*Outcome, error) {
	url := node.Config.String(schema.ConfigImageURL)
	if url == "" {
		return &Outcome{Warnings: []string{"No image provided"}}, nil
	}
	return &Outcome{Result: schema.NewResult(schema.ResultImage, map[string]any{"imageUrl": url})}, nil
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return v
	}
	return min(max(v, lo), hi)
}

// --- image generation ---

type imageGenerationBehavior struct {
	images imagegen.Generator
}

func (*imageGenerationBehavior) Type() schema.NodeType { return schema.NodeTypeImageGeneration }

// Execute generates an image from the resolved prompt and writes the URL and
// prompt back onto the node.
func (b *imageGenerationBehavior) Execute(ctx context.Context, node schema.Node, in Input) (*Outcome, error) {
	if b.images == nil {
		return nil, schema.NewError(schema.ErrCodeNodeFailed, "image generation is not configured").WithNode(node.ID)
	}

	prompt := resolvePrompt(node, in)
	resp, err := b.images.Generate(ctx, imagegen.Request{Prompt: prompt})
	if err != nil {
		return nil, nodeFailure(node, err)
	}
	if resp == nil {
		return nil, schema.NewError(schema.ErrCodeNodeFailed, "Unexpected response format from API").WithNode(node.ID)
	}
	if resp.Error != "" {
		return nil, schema.NewError(schema.ErrCodeNodeFailed, resp.Error).WithNode(node.ID)
	}
	if len(resp.Output) == 0 || resp.Output[0] == "" {
		return nil, schema.NewError(schema.ErrCodeNodeFailed, "No image URL returned").WithNode(node.ID)
	}

	url := resp.Output[0]
	return &Outcome{
		Result: schema.NewResult(schema.ResultImage, map[string]any{"imageUrl": url, "prompt": prompt}),
		Patch: schema.NodeConfig{
			schema.ConfigGeneratedImageURL: url,
			schema.ConfigPrompt:            prompt,
		},
	}, nil
}

// resolvePrompt picks, in order: the text field of an upstream object, an
// upstream plain string, the configured prompt, DefaultPrompt. Empty
// strings count as unset.
func resolvePrompt(node schema.Node, in Input) string {
	if r, ok := in.Single(); ok {
		if m, ok := r.Object(); ok {
			if s, ok := m["text"].(string); ok && s != "" {
				return s
			}
		}
		if s, ok := r.Text(); ok && s != "" {
			return s
		}
	}
	if p := node.Config.String(schema.ConfigPrompt); p != "" {
		return p
	}
	return DefaultPrompt
}

// --- outputs ---

type imageOutputBehavior struct{}

func (imageOutputBehavior) Type() schema.NodeType { return schema.NodeTypeImageOutput }

func (imageOutputBehavior) Execute(_ context.Context, _ schema.Node, in Input) (*Outcome, error) {
	r, _ := in.Single()
	url, ok := r.ImageURL()
	if !ok {
		return &Outcome{Warnings: []string{"No image input available"}}, nil
	}
	return &Outcome{
		Result: r,
		Patch: schema.NodeConfig{
			schema.ConfigDisplayImageURL: url,
			schema.ConfigImageURL:        url,
			schema.ConfigUploadType:      "url",
		},
	}, nil
}

type outputBehavior struct {
	fallback Behavior
}

func (*outputBehavior) Type() schema.NodeType { return schema.NodeTypeOutput }

// Execute copies text-shaped upstream into outputText; anything else is
// handled like a default node.
func (b *outputBehavior) Execute(ctx context.Context, node schema.Node, in Input) (*Outcome, error) {
	if r, ok := in.Single(); ok {
		if text, ok := r.Text(); ok {
			return &Outcome{
				Result: r,
				Patch:  schema.NodeConfig{schema.ConfigOutputText: text},
			}, nil
		}
	}
	return b.fallback.Execute(ctx, node, in)
}

// --- custom code ---

type customCodeBehavior struct {
	engines  *expressions.Engines
	fallback Behavior
}

func (*customCodeBehavior) Type() schema.NodeType { return schema.NodeTypeCustomCode }

// Execute evaluates config.code with input, config and node in scope. A
// node without code behaves like a default node.
func (b *customCodeBehavior) Execute(ctx context.Context, node schema.Node, in Input) (*Outcome, error) {
	code := strings.TrimSpace(node.Config.String(schema.ConfigCode))
	if code == "" {
		return b.fallback.Execute(ctx, node, in)
	}
	if b.engines == nil {
		return nil, schema.NewError(schema.ErrCodeNodeFailed, "custom code is not configured").WithNode(node.ID)
	}

	language := node.Config.String(schema.ConfigLanguage)
	if language == "javascript" {
		language = expressions.DefaultLanguage
	}
	eng, err := b.engines.Lookup(language)
	if err != nil {
		return nil, nodeFailure(node, err)
	}

	env, err := plainJSON(map[string]any{
		"input":  in.Value(),
		"config": map[string]any(node.Config),
		"node":   map[string]any{"id": node.ID, "type": string(node.Type), "label": node.Label},
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeFailed, "prepare code environment: %s", schema.Message(err)).WithNode(node.ID).WithCause(err)
	}

	out, err := eng.Evaluate(ctx, code, env)
	if err != nil {
		return nil, nodeFailure(node, err)
	}
	return &Outcome{Result: toResult(out)}, nil
}

func nodeFailure(node schema.Node, err error) error {
	return schema.NewError(schema.ErrCodeNodeFailed, schema.Message(err)).WithNode(node.ID).WithCause(err)
}

// plainJSON round-trips v through encoding/json so every engine sees only
// maps, slices, strings, float64, bools and nil.
func plainJSON(v map[string]any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toResult(v any) *schema.Result {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return schema.NewResult(schema.ResultText, val)
	case bool:
		return schema.NewResult(schema.ResultBoolean, val)
	case int:
		return schema.NewResult(schema.ResultNumber, float64(val))
	case int64:
		return schema.NewResult(schema.ResultNumber, float64(val))
	case uint64:
		return schema.NewResult(schema.ResultNumber, float64(val))
	case float64:
		return schema.NewResult(schema.ResultNumber, val)
	}
	return schema.NewResult(schema.ResultObject, v)
}
