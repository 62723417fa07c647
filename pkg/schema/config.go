package schema

import (
	"encoding/json"
	"maps"
	"strconv"
)

// Node config keys understood by the built-in behaviors.
const (
	ConfigInputText         = "inputText"
	ConfigOutputText        = "outputText"
	ConfigInputValue        = "inputValue"
	ConfigMin               = "min"
	ConfigMax               = "max"
	ConfigStep              = "step"
	ConfigImageURL          = "imageUrl"
	ConfigUploadType        = "uploadType"
	ConfigDisplayImageURL   = "displayImageUrl"
	ConfigToggleValue       = "toggleValue"
	ConfigSliderValue       = "sliderValue"
	ConfigCode              = "code"
	ConfigLanguage          = "language"
	ConfigPrompt            = "prompt"
	ConfigGeneratedImageURL = "generatedImageUrl"
)

// NodeConfig is a node's type-specific settings bag. The canvas owns
// fields flowforge never reads, so the map stays open; behaviors read
// through the typed accessors below, which treat absence as a default.
type NodeConfig map[string]any

// Clone returns a shallow copy of the config map.
func (c NodeConfig) Clone() NodeConfig {
	if c == nil {
		return nil
	}
	return maps.Clone(c)
}

// Has reports whether key is present with a non-nil value.
func (c NodeConfig) Has(key string) bool {
	v, ok := c[key]
	return ok && v != nil
}

// StringOr returns the value at key when present and non-nil, otherwise def.
// An empty string is a present value.
func (c NodeConfig) StringOr(key, def string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return def
	}
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return def
}

// String returns the string at key, or "" when absent.
func (c NodeConfig) String(key string) string {
	return c.StringOr(key, "")
}

// Float returns the numeric value at key, or def when absent or not numeric.
func (c NodeConfig) Float(key string, def float64) float64 {
	v, ok := c[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns the boolean at key, or def when absent or not boolean.
func (c NodeConfig) Bool(key string, def bool) bool {
	v, ok := c[key]
	if !ok || v == nil {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if p, err := strconv.ParseBool(b); err == nil {
			return p
		}
	}
	return def
}

// Merge returns a copy of c with every key in patch applied over it.
func (c NodeConfig) Merge(patch NodeConfig) NodeConfig {
	out := make(NodeConfig, len(c)+len(patch))
	maps.Copy(out, c)
	maps.Copy(out, patch)
	return out
}

// DefaultConfig returns the initial config of a freshly added node.
func DefaultConfig(t NodeType) NodeConfig {
	switch t {
	case NodeTypeTextInput:
		return NodeConfig{ConfigInputText: ""}
	case NodeTypeNumberInput:
		return NodeConfig{ConfigInputValue: 0.0, ConfigMin: 0.0, ConfigMax: 100.0}
	case NodeTypeSliderInput:
		return NodeConfig{ConfigSliderValue: 50.0, ConfigMin: 0.0, ConfigMax: 100.0, ConfigStep: 1.0}
	case NodeTypeToggleInput:
		return NodeConfig{ConfigToggleValue: false}
	case NodeTypeImageInput:
		return NodeConfig{ConfigImageURL: "", ConfigUploadType: "url"}
	case NodeTypeImageGeneration:
		return NodeConfig{ConfigPrompt: ""}
	case NodeTypeCustomCode:
		return NodeConfig{ConfigCode: "", ConfigLanguage: "expr"}
	case NodeTypeOutput:
		return NodeConfig{ConfigOutputText: ""}
	}
	return NodeConfig{}
}

// DefaultLabel returns the palette label for a node type.
func DefaultLabel(t NodeType) string {
	switch t {
	case NodeTypeTrigger:
		return "Trigger"
	case NodeTypeTextInput:
		return "Text Input"
	case NodeTypeNumberInput:
		return "Number Input"
	case NodeTypeImageInput:
		return "Image Input"
	case NodeTypeToggleInput:
		return "Toggle"
	case NodeTypeSliderInput:
		return "Slider"
	case NodeTypeOutput:
		return "Output"
	case NodeTypeImageOutput:
		return "Image Output"
	case NodeTypeImageGeneration:
		return "Image Generation"
	case NodeTypeCustomCode:
		return "Custom Code"
	}
	return "Process"
}
