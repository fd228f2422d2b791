package server

import (
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/knowledge"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/ledger"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/telemetry"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/tools"
)

// Name is the implementation name announced to clients.
const Name = "graph-mcp"

// Version is set at build time with -ldflags "-X .../internal/server.Version=...".
var Version = "0.1.0"

// New creates a fully configured MCP server with all tools registered. A nil
// Instrumenter registers the handlers without metrics or tracing.
func New(svc *knowledge.Service, led *ledger.Ledger, inst *telemetry.Instrumenter, logger *slog.Logger) *mcp.Server {
	if logger == nil {
		logger = slog.Default()
	}
	if inst == nil {
		inst = telemetry.NewInstrumenter(nil, nil, logger)
	}
	logger = logger.With("component", "tools")

	kt := &tools.KnowledgeTools{Service: svc, Logger: logger}
	pt := &tools.ProjectTools{Service: svc, Logger: logger}
	mt := &tools.MigrationTools{Ledger: led, Metrics: inst.Metrics(), Logger: logger}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    Name,
		Version: Version,
	}, nil)

	// Entity and relationship tools
	addTool(srv, inst, &mcp.Tool{
		Name:        "create_entity",
		Description: "Create an entity or update it if (name, project) exists: type is overwritten, observations are appended, properties are merged",
	}, kt.CreateEntity)

	addTool(srv, inst, &mcp.Tool{
		Name:        "add_observations",
		Description: "Append observations to an existing entity, preserving order",
	}, kt.AddObservations)

	addTool(srv, inst, &mcp.Tool{
		Name:        "delete_entity",
		Description: "Delete an entity and every relationship touching it",
	}, kt.DeleteEntity)

	addTool(srv, inst, &mcp.Tool{
		Name:        "create_relationship",
		Description: "Create a directed, typed relationship between two existing entities of the same project",
	}, kt.CreateRelationship)

	addTool(srv, inst, &mcp.Tool{
		Name:        "delete_relationship",
		Description: "Delete a relationship identified by source, target and type",
	}, kt.DeleteRelationship)

	addTool(srv, inst, &mcp.Tool{
		Name:        "get_entity",
		Description: "Get an entity with its outgoing and/or incoming relationships",
	}, kt.GetEntity)

	addTool(srv, inst, &mcp.Tool{
		Name:        "search_knowledge",
		Description: "Substring search over entity names and observations (case-insensitive unless case_sensitive is set); name matches rank first",
	}, kt.SearchKnowledge)

	// Project tools
	addTool(srv, inst, &mcp.Tool{
		Name:        "get_project_graph",
		Description: "Return every entity and relationship of a project",
	}, pt.GetProjectGraph)

	addTool(srv, inst, &mcp.Tool{
		Name:        "list_projects",
		Description: "List every project that has entities or migrations",
	}, pt.ListProjects)

	// Migration ledger tools
	addTool(srv, inst, &mcp.Tool{
		Name:        "add_migration",
		Description: "Record a pending migration under the project's next version number",
	}, mt.AddMigration)

	addTool(srv, inst, &mcp.Tool{
		Name:        "get_migrations",
		Description: "List a project's migrations ordered by version",
	}, mt.GetMigrations)

	addTool(srv, inst, &mcp.Tool{
		Name:        "apply_migration",
		Description: "Execute a pending migration and mark it applied; data-only scripts run in a single transaction",
	}, mt.ApplyMigration)

	// Query tool
	addTool(srv, inst, &mcp.Tool{
		Name:        "run_cypher",
		Description: "Run a read-only " + svc.Dialect().String() + " query; write clauses are rejected",
	}, kt.RunCypher)

	return srv
}

func addTool[In any](srv *mcp.Server, inst *telemetry.Instrumenter, tool *mcp.Tool, h mcp.ToolHandlerFor[In, any]) {
	mcp.AddTool(srv, tool, telemetry.Wrap(inst, tool.Name, h))
}
