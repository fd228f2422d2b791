package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/errortypes"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/models"
)

// InsertMigration stores a pending Migration node with the project's next
// version. The version comes from a per-project counter node updated in the
// same transaction. The (project, version) constraint rejects any duplicate
// that slips through.
func (s *Neo4jStore) InsertMigration(ctx context.Context, draft models.MigrationDraft) (*models.Migration, error) {
	if draft.ID == "" {
		draft.ID = uuid.New().String()
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = s.now()
	}

	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, cypherInsertMigration, map[string]any{
			"id":          draft.ID,
			"project":     draft.Project,
			"label":       draft.Label,
			"description": draft.Description,
			"cypher_up":   draft.CypherUp,
			"cypher_down": draft.CypherDown,
			"now":         draft.CreatedAt.UTC(),
		})
	})
	if err != nil {
		return nil, errortypes.ExecutionError(err, "insert migration")
	}
	rows := out.([]map[string]any)
	if len(rows) == 0 {
		return nil, errortypes.ExecutionError(fmt.Errorf("no row returned"), "insert migration")
	}
	m := migrationFromMap(asMap(rows[0]["migration"]))
	return &m, nil
}

// Migrations returns a project's migrations by ascending version.
func (s *Neo4jStore) Migrations(ctx context.Context, project string) ([]models.Migration, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, cypherListMigrations, map[string]any{"project": project})
	})
	if err != nil {
		return nil, errortypes.ExecutionError(err, "query migrations")
	}
	rows := out.([]map[string]any)
	migrations := make([]models.Migration, 0, len(rows))
	for _, row := range rows {
		migrations = append(migrations, migrationFromMap(asMap(row["migration"])))
	}
	return migrations, nil
}

// ApplyMigration runs the migration's up script and marks it applied.
//
// Data-only scripts run statement by statement in one write transaction
// together with the status change, so a failure leaves nothing behind.
// Neo4j refuses data writes in a transaction that made schema changes, so
// scripts with index or constraint statements run each statement in its own
// transaction and the status change follows in a separate one. A failure
// there leaves earlier statements committed and the record pending; such
// scripts must be idempotent (IF NOT EXISTS, MERGE) to be applied again.
func (s *Neo4jStore) ApplyMigration(ctx context.Context, project string, version int64, appliedAt time.Time) (*models.ExecutionResult, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return pendingMigration(ctx, tx, project, version)
	})
	if err != nil {
		return nil, errortypes.ExecutionError(err, fmt.Sprintf("apply migration v%d", version))
	}
	m := out.(models.Migration)

	stmts := SplitStatements(m.CypherUp, DialectCypher)
	if len(stmts) == 0 {
		return nil, errortypes.Validationf("migration v%d has no statements", version)
	}

	if !ContainsSchemaStatement(stmts) {
		res, err := s.applyInOneTransaction(ctx, project, version, stmts, appliedAt)
		if !errors.Is(err, errSchemaInDataTransaction) {
			return res, err
		}
	}
	return s.applyPerStatement(ctx, project, version, stmts, appliedAt)
}

// errSchemaInDataTransaction reports a schema statement the keyword check
// did not recognise.
var errSchemaInDataTransaction = errors.New("schema statement in a data transaction")

const forbiddenDueToTransactionType = "Neo.ClientError.Transaction.ForbiddenDueToTransactionType"

func (s *Neo4jStore) applyInOneTransaction(ctx context.Context, project string, version int64, stmts []string, appliedAt time.Time) (*models.ExecutionResult, error) {
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := pendingMigration(ctx, tx, project, version); err != nil {
			return nil, err
		}

		start := time.Now()
		counters := map[string]int64{}
		for i, stmt := range stmts {
			summary, err := runStatement(ctx, tx, stmt)
			if err != nil {
				var nerr *neo4j.Neo4jError
				if errors.As(err, &nerr) && nerr.Code == forbiddenDueToTransactionType {
					return nil, errSchemaInDataTransaction
				}
				return nil, errortypes.ExecutionError(err,
					fmt.Sprintf("migration v%d statement %d of %d failed", version, i+1, len(stmts)))
			}
			if summary.StatementType() == neo4j.StatementTypeSchemaWrite {
				return nil, errSchemaInDataTransaction
			}
			addCounters(counters, summary.Counters())
		}

		m, err := markApplied(ctx, tx, project, version, appliedAt)
		if err != nil {
			return nil, err
		}
		return &models.ExecutionResult{
			Migration:  m,
			Statements: len(stmts),
			Counters:   counters,
			ElapsedMS:  time.Since(start).Milliseconds(),
		}, nil
	})
	if errors.Is(err, errSchemaInDataTransaction) {
		return nil, errSchemaInDataTransaction
	}
	if err != nil {
		return nil, errortypes.ExecutionError(err, fmt.Sprintf("apply migration v%d", version))
	}
	return out.(*models.ExecutionResult), nil
}

func (s *Neo4jStore) applyPerStatement(ctx context.Context, project string, version int64, stmts []string, appliedAt time.Time) (*models.ExecutionResult, error) {
	start := time.Now()
	counters := map[string]int64{}
	for i, stmt := range stmts {
		out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			summary, err := runStatement(ctx, tx, stmt)
			if err != nil {
				return nil, err
			}
			return summary.Counters(), nil
		})
		if err != nil {
			return nil, errortypes.ExecutionError(err,
				fmt.Sprintf("migration v%d statement %d of %d failed", version, i+1, len(stmts)))
		}
		c, _ := out.(neo4j.Counters)
		addCounters(counters, c)
	}

	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return markApplied(ctx, tx, project, version, appliedAt)
	})
	if err != nil {
		return nil, errortypes.ExecutionError(err, fmt.Sprintf("mark migration v%d applied", version))
	}
	return &models.ExecutionResult{
		Migration:  out.(models.Migration),
		Statements: len(stmts),
		Counters:   counters,
		ElapsedMS:  time.Since(start).Milliseconds(),
	}, nil
}

// pendingMigration loads a migration and rejects it unless it is pending.
func pendingMigration(ctx context.Context, tx neo4j.ManagedTransaction, project string, version int64) (models.Migration, error) {
	rows, err := collect(ctx, tx, cypherGetMigration, map[string]any{"project": project, "version": version})
	if err != nil {
		return models.Migration{}, err
	}
	if len(rows) == 0 {
		return models.Migration{}, errortypes.NotFoundf("migration v%d not found in project %q", version, project)
	}
	m := migrationFromMap(asMap(rows[0]["migration"]))
	if m.Status == models.MigrationApplied {
		return models.Migration{}, errortypes.AlreadyAppliedf("migration v%d of project %q was applied at %s",
			version, project, formatApplied(m.AppliedAt))
	}
	return m, nil
}

// markApplied flips a pending record to applied. No match means another
// caller applied it first.
func markApplied(ctx context.Context, tx neo4j.ManagedTransaction, project string, version int64, appliedAt time.Time) (models.Migration, error) {
	rows, err := collect(ctx, tx, cypherMarkMigrationApplied, map[string]any{
		"project": project,
		"version": version,
		"now":     appliedAt.UTC(),
	})
	if err != nil {
		return models.Migration{}, errortypes.ExecutionError(err, "mark migration applied")
	}
	if len(rows) == 0 {
		return models.Migration{}, errortypes.AlreadyAppliedf("migration v%d of project %q is no longer pending", version, project)
	}
	return migrationFromMap(asMap(rows[0]["migration"])), nil
}

func runStatement(ctx context.Context, tx neo4j.ManagedTransaction, stmt string) (neo4j.ResultSummary, error) {
	res, err := tx.Run(ctx, stmt, nil)
	if err != nil {
		return nil, err
	}
	return res.Consume(ctx)
}

func addCounters(dst map[string]int64, c neo4j.Counters) {
	if c == nil {
		return
	}
	for name, n := range map[string]int{
		"nodes_created":         c.NodesCreated(),
		"nodes_deleted":         c.NodesDeleted(),
		"relationships_created": c.RelationshipsCreated(),
		"relationships_deleted": c.RelationshipsDeleted(),
		"properties_set":        c.PropertiesSet(),
		"labels_added":          c.LabelsAdded(),
		"labels_removed":        c.LabelsRemoved(),
		"indexes_added":         c.IndexesAdded(),
		"constraints_added":     c.ConstraintsAdded(),
	} {
		if n != 0 {
			dst[name] += int64(n)
		}
	}
}

func formatApplied(t *time.Time) string {
	if t == nil {
		return "an unknown time"
	}
	return t.Format(time.RFC3339)
}
