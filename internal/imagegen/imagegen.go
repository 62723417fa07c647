// Package imagegen is the client side of the image-generation collaborator.
package imagegen

import (
	"context"
	"fmt"
)

// Request defaults.
const (
	DefaultAspectRatio = "1:1"
	DefaultNumOutputs  = 1
)

// Request asks the collaborator for images matching Prompt.
type Request struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	NumOutputs  int    `json:"num_outputs,omitempty"`
}

// WithDefaults fills the optional fields.
func (r Request) WithDefaults() Request {
	if r.AspectRatio == "" {
		r.AspectRatio = DefaultAspectRatio
	}
	if r.NumOutputs <= 0 {
		r.NumOutputs = DefaultNumOutputs
	}
	return r
}

// Response carries the generated image URLs or a failure message.
type Response struct {
	Output []string `json:"output,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Generator produces images from a prompt. Implementations own any retry
// or timeout policy; callers make a single blocking call.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (*Response, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// APIError is a permanent failure reported by the image API. It is never
// retried.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("API request failed with status %d: %s", e.Status, e.Message)
	}
	return e.Message
}
