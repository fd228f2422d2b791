package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/knowledge"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/ledger"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/models"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/server"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/storage"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/telemetry"
)

type integrationEnv struct {
	session    *mcp.ClientSession
	store      *storage.SQLiteStore
	registry   *prometheus.Registry
	journalDir string
}

// setupIntegration creates a real MCP server over the SQLite backend with an
// in-memory transport and returns a connected client session.
func setupIntegration(t *testing.T) *integrationEnv {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	store, err := storage.OpenSQLite(ctx, filepath.Join(dir, "graph.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close(ctx) })

	journalDir := filepath.Join(dir, "journal")
	journal, err := ledger.OpenJournal(journalDir)
	if err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	inst := telemetry.NewInstrumenter(telemetry.NewMetrics(reg), nil, nil)
	srv := server.New(knowledge.New(store, nil), ledger.New(store, ledger.WithJournal(journal)), inst, nil)

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	if _, err := srv.Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	return &integrationEnv{session: session, store: store, registry: reg, journalDir: journalDir}
}

// callTool is a helper that calls a tool and returns the text content.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	if result.IsError {
		t.Fatalf("CallTool(%s) returned error: %s", name, tc.Text)
	}
	return tc.Text
}

// callToolExpectError calls a tool and expects an error response (IsError=true).
func callToolExpectError(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): protocol error: %v", name, err)
	}
	tc := result.Content[0].(*mcp.TextContent)
	if !result.IsError {
		t.Fatalf("CallTool(%s): expected error but got success: %s", name, tc.Text)
	}
	return tc.Text
}

func unmarshal[T any](t *testing.T, text string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", text, err)
	}
	return v
}

func TestIntegration_ListTools(t *testing.T) {
	env := setupIntegration(t)

	result, err := env.session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}

	expectedTools := []string{
		"create_entity", "add_observations", "delete_entity",
		"create_relationship", "delete_relationship", "get_entity",
		"search_knowledge", "get_project_graph", "list_projects",
		"add_migration", "get_migrations", "apply_migration",
		"run_cypher",
	}

	toolNames := make(map[string]bool)
	for _, tool := range result.Tools {
		toolNames[tool.Name] = true
		if tool.InputSchema == nil {
			t.Errorf("tool %s has no input schema", tool.Name)
		}
	}

	for _, name := range expectedTools {
		if !toolNames[name] {
			t.Errorf("Missing tool: %s", name)
		}
	}

	if len(result.Tools) != len(expectedTools) {
		t.Errorf("Expected %d tools, got %d", len(expectedTools), len(result.Tools))
	}
}

func TestIntegration_ProjectGraphScenario(t *testing.T) {
	env := setupIntegration(t)
	s := env.session

	callTool(t, s, "create_entity", map[string]any{
		"name": "UserService", "type": "Service", "project": "app",
		"observations": []string{"handles auth"},
	})
	callTool(t, s, "create_entity", map[string]any{
		"name": "PostgresDB", "type": "Database", "project": "app",
	})
	callTool(t, s, "create_relationship", map[string]any{
		"source": "UserService", "target": "PostgresDB", "type": "READS_FROM", "project": "app",
	})
	// Same names in another project must not leak into "app".
	callTool(t, s, "create_entity", map[string]any{
		"name": "UserService", "type": "Service", "project": "other",
	})

	graph := unmarshal[models.ProjectGraph](t, callTool(t, s, "get_project_graph", map[string]any{"project": "app"}))
	if len(graph.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(graph.Entities))
	}
	if len(graph.Relationships) != 1 {
		t.Fatalf("expected 1 relationship, got %d", len(graph.Relationships))
	}
	rel := graph.Relationships[0]
	if rel.Source != "UserService" || rel.Target != "PostgresDB" || rel.Type != "READS_FROM" {
		t.Errorf("unexpected relationship %+v", rel)
	}

	ec := unmarshal[models.EntityContext](t, callTool(t, s, "get_entity", map[string]any{
		"name": "PostgresDB", "project": "app", "direction": "incoming",
	}))
	if len(ec.Incoming) != 1 || len(ec.Outgoing) != 0 {
		t.Errorf("expected 1 incoming and 0 outgoing, got %d/%d", len(ec.Incoming), len(ec.Outgoing))
	}

	projects := unmarshal[struct {
		Projects []string `json:"projects"`
	}](t, callTool(t, s, "list_projects", map[string]any{}))
	if strings.Join(projects.Projects, ",") != "app,other" {
		t.Errorf("projects = %v", projects.Projects)
	}
}

func TestIntegration_ObservationsAndDelete(t *testing.T) {
	env := setupIntegration(t)
	s := env.session

	callTool(t, s, "create_entity", map[string]any{"name": "API", "type": "Service", "project": "app"})
	callTool(t, s, "create_entity", map[string]any{"name": "Cache", "type": "Store", "project": "app"})
	callTool(t, s, "create_relationship", map[string]any{
		"source": "API", "target": "Cache", "type": "uses", "project": "app",
	})
	callTool(t, s, "add_observations", map[string]any{"name": "API", "project": "app", "observations": []string{"a"}})
	text := callTool(t, s, "add_observations", map[string]any{"name": "API", "project": "app", "observations": []string{"b"}})

	e := unmarshal[models.Entity](t, text)
	if strings.Join(e.Observations, ",") != "a,b" {
		t.Errorf("observations = %v, want [a b]", e.Observations)
	}

	found := unmarshal[[]models.Entity](t, callTool(t, s, "search_knowledge", map[string]any{"query": "api", "project": "app"}))
	if len(found) != 1 || found[0].Name != "API" {
		t.Errorf("search returned %+v", found)
	}

	callTool(t, s, "delete_entity", map[string]any{"name": "Cache", "project": "app"})
	graph := unmarshal[models.ProjectGraph](t, callTool(t, s, "get_project_graph", map[string]any{"project": "app"}))
	if len(graph.Relationships) != 0 {
		t.Errorf("relationships survived delete: %+v", graph.Relationships)
	}

	errText := callToolExpectError(t, s, "delete_entity", map[string]any{"name": "Cache", "project": "app"})
	if !strings.HasPrefix(errText, "not found: ") {
		t.Errorf("unexpected error text %q", errText)
	}
	errText = callToolExpectError(t, s, "create_relationship", map[string]any{
		"source": "API", "target": "Cache", "type": "USES", "project": "app",
	})
	if !strings.HasPrefix(errText, "not found: ") {
		t.Errorf("unexpected error text %q", errText)
	}
}

func TestIntegration_MigrationLedger(t *testing.T) {
	env := setupIntegration(t)
	s := env.session

	callTool(t, s, "create_entity", map[string]any{"name": "Svc", "type": "service", "project": "app"})

	for i, desc := range []string{"normalize types", "noop", "second noop"} {
		up := "SELECT 1"
		if i == 0 {
			up = "UPDATE entities SET entity_type = upper(entity_type) WHERE project = 'app'"
		}
		m := unmarshal[models.Migration](t, callTool(t, s, "add_migration", map[string]any{
			"project": "app", "description": desc, "cypher_up": up,
		}))
		if m.Version != int64(i+1) {
			t.Errorf("migration %d got version %d", i+1, m.Version)
		}
	}
	other := unmarshal[models.Migration](t, callTool(t, s, "add_migration", map[string]any{
		"project": "other", "description": "first", "cypher_up": "SELECT 1",
	}))
	if other.Version != 1 {
		t.Errorf("other project starts at %d, want 1", other.Version)
	}

	res := unmarshal[models.ExecutionResult](t, callTool(t, s, "apply_migration", map[string]any{"project": "app", "version": 1}))
	if res.Migration.Status != models.MigrationApplied || res.Migration.AppliedAt == nil {
		t.Errorf("migration not marked applied: %+v", res.Migration)
	}

	e := unmarshal[models.EntityContext](t, callTool(t, s, "get_entity", map[string]any{"name": "Svc", "project": "app"}))
	if e.Entity.Type != "SERVICE" {
		t.Errorf("migration did not run, type = %q", e.Entity.Type)
	}

	errText := callToolExpectError(t, s, "apply_migration", map[string]any{"project": "app", "version": 1})
	if !strings.HasPrefix(errText, "already applied: ") {
		t.Errorf("unexpected error text %q", errText)
	}
	errText = callToolExpectError(t, s, "apply_migration", map[string]any{"project": "app", "version": 42})
	if !strings.HasPrefix(errText, "not found: ") {
		t.Errorf("unexpected error text %q", errText)
	}

	list := unmarshal[[]models.Migration](t, callTool(t, s, "get_migrations", map[string]any{"project": "app"}))
	if len(list) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(list))
	}
	if list[0].Status != models.MigrationApplied || list[1].Status != models.MigrationPending {
		t.Errorf("unexpected statuses %s/%s", list[0].Status, list[1].Status)
	}

	data, err := os.ReadFile(filepath.Join(env.journalDir, "app.log"))
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	line := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z  v1  normalize types\n$`)
	if !line.Match(data) {
		t.Errorf("journal = %q", data)
	}
}

func TestIntegration_RunCypherReadOnly(t *testing.T) {
	env := setupIntegration(t)
	s := env.session

	callTool(t, s, "create_entity", map[string]any{"name": "A", "type": "t", "project": "app"})

	text := callTool(t, s, "run_cypher", map[string]any{
		"query":  "SELECT name FROM entities WHERE project = :project",
		"params": map[string]any{"project": "app"},
	})
	out := unmarshal[struct {
		Count int              `json:"count"`
		Rows  []map[string]any `json:"rows"`
	}](t, text)
	if out.Count != 1 || out.Rows[0]["name"] != "A" {
		t.Errorf("unexpected rows %s", text)
	}

	errText := callToolExpectError(t, s, "run_cypher", map[string]any{"query": "DELETE FROM entities"})
	if !strings.HasPrefix(errText, "validation error: ") {
		t.Errorf("unexpected error text %q", errText)
	}
}

func TestIntegration_HTTPEndpoints(t *testing.T) {
	env := setupIntegration(t)
	callTool(t, env.session, "list_projects", map[string]any{})

	srv := server.New(knowledge.New(env.store, nil), ledger.New(env.store), nil, nil)
	ts := httptest.NewServer(newMux(srv, env.store, env.registry, false))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "ok" {
		t.Errorf("healthz: %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `graph_mcp_tool_calls_total{outcome="ok",tool="list_projects"} 1`) {
		t.Errorf("metrics missing tool counter:\n%s", body)
	}
}

func TestIntegration_SSETransport(t *testing.T) {
	env := setupIntegration(t)
	srv := server.New(knowledge.New(env.store, nil), ledger.New(env.store), nil, nil)
	ts := httptest.NewServer(newMux(srv, env.store, env.registry, true))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /sse: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("GET /sse: content type %q", ct)
	}
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil || strings.TrimSpace(line) != "event: endpoint" {
		t.Errorf("GET /sse: first line %q, err %v", line, err)
	}
	cancel()
	resp.Body.Close()

	for _, path := range []string{"/sse", "/"} {
		t.Run(path, func(t *testing.T) {
			client := mcp.NewClient(&mcp.Implementation{Name: "sse-client"}, nil)
			session, err := client.Connect(context.Background(), &mcp.SSEClientTransport{Endpoint: ts.URL + path}, nil)
			if err != nil {
				t.Fatalf("connect over %s: %v", path, err)
			}
			defer session.Close()

			callTool(t, session, "create_entity", map[string]any{
				"name": "Gateway", "type": "Service", "project": "sse",
			})
			text := callTool(t, session, "get_entity", map[string]any{"name": "Gateway", "project": "sse"})
			if !strings.Contains(text, `"name": "Gateway"`) {
				t.Errorf("get_entity over %s: %s", path, text)
			}
		})
	}
}
