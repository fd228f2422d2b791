package storage

import (
	"context"
	"time"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/models"
)

// Store is the graph store handle injected into every operation. Backends
// acquire and release their own sessions per call and are safe for
// concurrent use.
type Store interface {
	CreateEntity(ctx context.Context, in models.EntityInput) (*models.Entity, error)
	AddObservations(ctx context.Context, project, name string, observations []string) (*models.Entity, error)
	DeleteEntity(ctx context.Context, project, name string) error

	CreateRelationship(ctx context.Context, in models.RelationshipInput) (*models.Relationship, error)
	DeleteRelationship(ctx context.Context, project, source, target, relType string) error

	GetEntity(ctx context.Context, project, name string, dir models.Direction) (*models.EntityContext, error)
	Search(ctx context.Context, q models.SearchQuery) ([]models.Entity, error)
	ProjectGraph(ctx context.Context, project string) (*models.ProjectGraph, error)
	ListProjects(ctx context.Context) ([]string, error)

	// RunReadQuery executes a read-only statement in the backend's dialect.
	RunReadQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)

	// InsertMigration assigns the next version for the draft's project and
	// stores it as pending, atomically.
	InsertMigration(ctx context.Context, draft models.MigrationDraft) (*models.Migration, error)
	Migrations(ctx context.Context, project string) ([]models.Migration, error)
	// ApplyMigration executes the pending migration's statements and marks
	// it applied. Data-only scripts share a single transaction with the
	// status change.
	ApplyMigration(ctx context.Context, project string, version int64, appliedAt time.Time) (*models.ExecutionResult, error)

	Dialect() Dialect
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefaultSearchLimit applies when a search does not set a limit.
const DefaultSearchLimit = 25

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*Neo4jStore)(nil)
)
