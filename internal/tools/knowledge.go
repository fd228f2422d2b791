package tools

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/knowledge"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/models"
)

// KnowledgeTools holds references needed by entity, relationship and query
// tool handlers.
type KnowledgeTools struct {
	Service *knowledge.Service
	Logger  *slog.Logger
}

// --- Input types ---

type CreateEntityInput struct {
	Name         string         `json:"name" jsonschema:"Entity name, unique within the project"`
	Type         string         `json:"type" jsonschema:"Entity type (e.g., Service, Database, Concept)"`
	Project      string         `json:"project" jsonschema:"Project the entity belongs to"`
	Observations []string       `json:"observations,omitempty" jsonschema:"Observations appended to the entity"`
	Properties   map[string]any `json:"properties,omitempty" jsonschema:"Scalar properties merged into the entity"`
}

type AddObservationsInput struct {
	Name         string   `json:"name" jsonschema:"Name of the entity"`
	Project      string   `json:"project" jsonschema:"Project of the entity"`
	Observations []string `json:"observations" jsonschema:"Observation texts to append, in order"`
}

type DeleteEntityInput struct {
	Name    string `json:"name" jsonschema:"Name of the entity to delete"`
	Project string `json:"project" jsonschema:"Project of the entity"`
}

type CreateRelationshipInput struct {
	Source     string         `json:"source" jsonschema:"Source entity name"`
	Target     string         `json:"target" jsonschema:"Target entity name"`
	Type       string         `json:"type" jsonschema:"Relationship type (e.g., READS_FROM); normalised to UPPER_SNAKE"`
	Project    string         `json:"project" jsonschema:"Project of both entities"`
	Properties map[string]any `json:"properties,omitempty" jsonschema:"Scalar properties stored on the relationship"`
}

type DeleteRelationshipInput struct {
	Source  string `json:"source" jsonschema:"Source entity name"`
	Target  string `json:"target" jsonschema:"Target entity name"`
	Type    string `json:"type" jsonschema:"Relationship type"`
	Project string `json:"project" jsonschema:"Project of both entities"`
}

type GetEntityInput struct {
	Name      string `json:"name" jsonschema:"Entity name"`
	Project   string `json:"project" jsonschema:"Project of the entity"`
	Direction string `json:"direction,omitempty" jsonschema:"Relationships to include: outgoing, incoming or both (default both)"`
}

type SearchKnowledgeInput struct {
	Query         string `json:"query" jsonschema:"Substring matched against entity names and observations"`
	Project       string `json:"project,omitempty" jsonschema:"Restrict the search to one project (default: all projects)"`
	CaseSensitive bool   `json:"case_sensitive,omitempty" jsonschema:"Match case exactly (default false)"`
	Limit         int    `json:"limit,omitempty" jsonschema:"Maximum number of results (default 25, max 100)"`
}

type RunCypherInput struct {
	Query  string         `json:"query" jsonschema:"Read-only query in the backend's query language"`
	Params map[string]any `json:"params,omitempty" jsonschema:"Query parameters"`
}

type deleteResult struct {
	Deleted string `json:"deleted"`
	Project string `json:"project"`
}

type queryResult struct {
	Dialect string           `json:"dialect"`
	Count   int              `json:"count"`
	Rows    []map[string]any `json:"rows"`
}

// --- Handlers ---

func (t *KnowledgeTools) CreateEntity(ctx context.Context, _ *mcp.CallToolRequest, input CreateEntityInput) (*mcp.CallToolResult, any, error) {
	e, err := t.Service.CreateEntity(ctx, models.EntityInput{
		Name:         input.Name,
		Type:         input.Type,
		Project:      input.Project,
		Observations: input.Observations,
		Properties:   input.Properties,
	})
	if err != nil {
		return toolFailure(t.Logger, "create_entity", err), nil, nil
	}
	return toolJSON(e)
}

func (t *KnowledgeTools) AddObservations(ctx context.Context, _ *mcp.CallToolRequest, input AddObservationsInput) (*mcp.CallToolResult, any, error) {
	e, err := t.Service.AddObservations(ctx, input.Project, input.Name, input.Observations)
	if err != nil {
		return toolFailure(t.Logger, "add_observations", err), nil, nil
	}
	return toolJSON(e)
}

func (t *KnowledgeTools) DeleteEntity(ctx context.Context, _ *mcp.CallToolRequest, input DeleteEntityInput) (*mcp.CallToolResult, any, error) {
	if err := t.Service.DeleteEntity(ctx, input.Project, input.Name); err != nil {
		return toolFailure(t.Logger, "delete_entity", err), nil, nil
	}
	return toolJSON(deleteResult{Deleted: input.Name, Project: input.Project})
}

func (t *KnowledgeTools) CreateRelationship(ctx context.Context, _ *mcp.CallToolRequest, input CreateRelationshipInput) (*mcp.CallToolResult, any, error) {
	rel, err := t.Service.CreateRelationship(ctx, models.RelationshipInput{
		Source:     input.Source,
		Target:     input.Target,
		Type:       input.Type,
		Project:    input.Project,
		Properties: input.Properties,
	})
	if err != nil {
		return toolFailure(t.Logger, "create_relationship", err), nil, nil
	}
	return toolJSON(rel)
}

func (t *KnowledgeTools) DeleteRelationship(ctx context.Context, _ *mcp.CallToolRequest, input DeleteRelationshipInput) (*mcp.CallToolResult, any, error) {
	if err := t.Service.DeleteRelationship(ctx, input.Project, input.Source, input.Target, input.Type); err != nil {
		return toolFailure(t.Logger, "delete_relationship", err), nil, nil
	}
	return toolJSON(deleteResult{
		Deleted: input.Source + " -[" + input.Type + "]-> " + input.Target,
		Project: input.Project,
	})
}

func (t *KnowledgeTools) GetEntity(ctx context.Context, _ *mcp.CallToolRequest, input GetEntityInput) (*mcp.CallToolResult, any, error) {
	ec, err := t.Service.GetEntity(ctx, input.Project, input.Name, input.Direction)
	if err != nil {
		return toolFailure(t.Logger, "get_entity", err), nil, nil
	}
	return toolJSON(ec)
}

func (t *KnowledgeTools) SearchKnowledge(ctx context.Context, _ *mcp.CallToolRequest, input SearchKnowledgeInput) (*mcp.CallToolResult, any, error) {
	entities, err := t.Service.Search(ctx, models.SearchQuery{
		Query:         input.Query,
		Project:       input.Project,
		CaseSensitive: input.CaseSensitive,
		Limit:         input.Limit,
	})
	if err != nil {
		return toolFailure(t.Logger, "search_knowledge", err), nil, nil
	}
	if entities == nil {
		entities = []models.Entity{}
	}
	return toolJSON(entities)
}

func (t *KnowledgeTools) RunCypher(ctx context.Context, _ *mcp.CallToolRequest, input RunCypherInput) (*mcp.CallToolResult, any, error) {
	rows, err := t.Service.RunQuery(ctx, input.Query, input.Params)
	if err != nil {
		return toolFailure(t.Logger, "run_cypher", err), nil, nil
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return toolJSON(queryResult{
		Dialect: t.Service.Dialect().String(),
		Count:   len(rows),
		Rows:    rows,
	})
}
