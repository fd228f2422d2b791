package tools

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/ledger"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/telemetry"
)

// MigrationTools holds references needed by migration ledger tool handlers.
type MigrationTools struct {
	Ledger  *ledger.Ledger
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// --- Input types ---

type AddMigrationInput struct {
	Project     string `json:"project" jsonschema:"Project the migration belongs to"`
	Description string `json:"description" jsonschema:"What the migration changes"`
	CypherUp    string `json:"cypher_up" jsonschema:"Statements executed when the migration is applied, separated by ';'"`
	CypherDown  string `json:"cypher_down,omitempty" jsonschema:"Statements that would revert the migration (recorded, never run)"`
	Label       string `json:"label,omitempty" jsonschema:"Optional free-form version label"`
}

type GetMigrationsInput struct {
	Project string `json:"project" jsonschema:"Project whose migrations are listed"`
}

type ApplyMigrationInput struct {
	Project string `json:"project" jsonschema:"Project of the migration"`
	Version int64  `json:"version" jsonschema:"Version number returned by add_migration"`
}

// --- Handlers ---

func (t *MigrationTools) AddMigration(ctx context.Context, _ *mcp.CallToolRequest, input AddMigrationInput) (*mcp.CallToolResult, any, error) {
	m, err := t.Ledger.AddMigration(ctx, ledger.AddRequest{
		Project:     input.Project,
		Description: input.Description,
		CypherUp:    input.CypherUp,
		CypherDown:  input.CypherDown,
		Label:       input.Label,
	})
	if err != nil {
		return toolFailure(t.Logger, "add_migration", err), nil, nil
	}
	return toolJSON(m)
}

func (t *MigrationTools) GetMigrations(ctx context.Context, _ *mcp.CallToolRequest, input GetMigrationsInput) (*mcp.CallToolResult, any, error) {
	migrations, err := t.Ledger.GetMigrations(ctx, input.Project)
	if err != nil {
		return toolFailure(t.Logger, "get_migrations", err), nil, nil
	}
	return toolJSON(migrations)
}

func (t *MigrationTools) ApplyMigration(ctx context.Context, _ *mcp.CallToolRequest, input ApplyMigrationInput) (*mcp.CallToolResult, any, error) {
	res, err := t.Ledger.ApplyMigration(ctx, input.Project, input.Version)
	if err != nil {
		return toolFailure(t.Logger, "apply_migration", err), nil, nil
	}
	if t.Metrics != nil {
		t.Metrics.MigrationsApplied.Inc()
	}
	return toolJSON(res)
}
