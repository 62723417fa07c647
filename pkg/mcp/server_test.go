package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFlowServer(t *testing.T) {
	s := NewFlowServer(FlowServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.watchers)
}

func TestToolRegistration(t *testing.T) {
	s := NewFlowServer(FlowServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 7)

	for _, name := range []string{
		"flow.list",
		"flow.define",
		"flow.run",
		"flow.stop",
		"flow.status",
		"flow.logs",
		"flow.diagram",
	} {
		assert.NotNil(t, s.mcpServer.GetTool(name), "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		toolName    string
		description string
	}{
		{"flow.list", "List stored workflows"},
		{"flow.define", "Store a workflow graph"},
		{"flow.run", "Run a stored workflow"},
		{"flow.stop", "Stop the current run of a workflow"},
		{"flow.status", "Get the run status of a workflow"},
		{"flow.logs", "Read the execution log of a workflow run"},
	}

	s := NewFlowServer(FlowServerDeps{})

	for _, tc := range tests {
		t.Run(tc.toolName, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
