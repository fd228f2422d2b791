package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/errortypes"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/knowledge"
)

// ProjectTools holds references needed by project-level tool handlers.
type ProjectTools struct {
	Service *knowledge.Service
	Logger  *slog.Logger
}

// --- Input types ---

type GetProjectGraphInput struct {
	Project string `json:"project" jsonschema:"Project whose entities and relationships are returned"`
}

type projectList struct {
	Projects []string `json:"projects"`
}

// --- Handlers ---

func (t *ProjectTools) ListProjects(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	projects, err := t.Service.ListProjects(ctx)
	if err != nil {
		return toolFailure(t.Logger, "list_projects", err), nil, nil
	}
	if projects == nil {
		projects = []string{}
	}
	return toolJSON(projectList{Projects: projects})
}

func (t *ProjectTools) GetProjectGraph(ctx context.Context, _ *mcp.CallToolRequest, input GetProjectGraphInput) (*mcp.CallToolResult, any, error) {
	graph, err := t.Service.ProjectGraph(ctx, input.Project)
	if err != nil {
		return toolFailure(t.Logger, "get_project_graph", err), nil, nil
	}
	return toolJSON(graph)
}

// --- Helpers ---

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// toolFailure logs err and renders it as "<kind>: <message>".
func toolFailure(logger *slog.Logger, tool string, err error) *mcp.CallToolResult {
	if logger == nil {
		logger = slog.Default()
	}
	errortypes.LogError(logger.With("tool", tool), "tool call failed", err)
	return toolError("%s", errortypes.ClientMessage(err))
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("Failed to marshal result: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
