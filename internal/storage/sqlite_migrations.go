package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/errortypes"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/models"
)

const migrationColumns = `id, project, version, label, description, cypher_up, cypher_down, status, created_at, applied_at`

// InsertMigration assigns max(version)+1 and inserts the draft in a single
// statement, so concurrent writers cannot observe the same maximum.
// UNIQUE(project, version) backs this up.
func (s *SQLiteStore) InsertMigration(ctx context.Context, draft models.MigrationDraft) (*models.Migration, error) {
	if draft.ID == "" {
		draft.ID = uuid.New().String()
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = s.now()
	}

	var version int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO migrations (id, project, version, label, description, cypher_up, cypher_down, status, created_at)
		 SELECT ?, ?, COALESCE(MAX(version), 0) + 1, ?, ?, ?, ?, 'pending', ?
		 FROM migrations WHERE project = ?
		 RETURNING version`,
		draft.ID, draft.Project, draft.Label, draft.Description, draft.CypherUp, draft.CypherDown,
		formatTime(draft.CreatedAt), draft.Project,
	).Scan(&version)
	if err != nil {
		return nil, errortypes.ExecutionError(err, "insert migration")
	}

	return &models.Migration{
		ID:          draft.ID,
		Project:     draft.Project,
		Version:     version,
		Label:       draft.Label,
		Description: draft.Description,
		CypherUp:    draft.CypherUp,
		CypherDown:  draft.CypherDown,
		Status:      models.MigrationPending,
		CreatedAt:   parseTime(formatTime(draft.CreatedAt)),
	}, nil
}

// Migrations returns a project's migrations by ascending version.
func (s *SQLiteStore) Migrations(ctx context.Context, project string) ([]models.Migration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+migrationColumns+` FROM migrations WHERE project = ? ORDER BY version`, project)
	if err != nil {
		return nil, errortypes.ExecutionError(err, "query migrations")
	}
	defer rows.Close()

	migrations := []models.Migration{}
	for rows.Next() {
		m, err := scanMigration(rows)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, *m)
	}
	return migrations, errortypes.ExecutionError(rows.Err(), "query migrations")
}

// ApplyMigration runs every statement of the migration's up script and marks
// it applied inside one transaction. A failing statement rolls everything
// back and leaves the record pending.
func (s *SQLiteStore) ApplyMigration(ctx context.Context, project string, version int64, appliedAt time.Time) (*models.ExecutionResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errortypes.ExecutionError(err, "begin tx")
	}
	defer tx.Rollback()

	m, err := scanMigration(tx.QueryRowContext(ctx,
		`SELECT `+migrationColumns+` FROM migrations WHERE project = ? AND version = ?`, project, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errortypes.NotFoundf("migration v%d not found in project %q", version, project)
	}
	if err != nil {
		return nil, err
	}
	if m.Status == models.MigrationApplied {
		return nil, errortypes.AlreadyAppliedf("migration v%d of project %q was applied at %s",
			version, project, formatApplied(m.AppliedAt))
	}

	stmts := SplitStatements(m.CypherUp, DialectSQL)
	if len(stmts) == 0 {
		return nil, errortypes.Validationf("migration v%d has no statements", version)
	}

	start := time.Now()
	before, err := totalChanges(ctx, tx)
	if err != nil {
		return nil, err
	}
	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, errortypes.ExecutionError(err,
				fmt.Sprintf("migration v%d statement %d of %d failed", version, i+1, len(stmts)))
		}
	}
	after, err := totalChanges(ctx, tx)
	if err != nil {
		return nil, err
	}

	appliedAt = appliedAt.UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE migrations SET status = 'applied', applied_at = ? WHERE id = ?`,
		formatTime(appliedAt), m.ID,
	); err != nil {
		return nil, errortypes.ExecutionError(err, "mark migration applied")
	}
	if err := tx.Commit(); err != nil {
		return nil, errortypes.ExecutionError(err, "commit")
	}

	applied := parseTime(formatTime(appliedAt))
	m.Status = models.MigrationApplied
	m.AppliedAt = &applied
	return &models.ExecutionResult{
		Migration:  *m,
		Statements: len(stmts),
		Counters:   map[string]int64{"rows_affected": after - before},
		ElapsedMS:  time.Since(start).Milliseconds(),
	}, nil
}

// scanMigration returns sql.ErrNoRows unwrapped so callers can map it.
func scanMigration(row rowScanner) (*models.Migration, error) {
	var (
		m         models.Migration
		status    string
		created   string
		appliedAt sql.NullString
	)
	err := row.Scan(&m.ID, &m.Project, &m.Version, &m.Label, &m.Description,
		&m.CypherUp, &m.CypherDown, &status, &created, &appliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, errortypes.ExecutionError(err, "scan migration")
	}
	m.Status = models.MigrationStatus(status)
	m.CreatedAt = parseTime(created)
	if appliedAt.Valid {
		t := parseTime(appliedAt.String)
		m.AppliedAt = &t
	}
	return &m, nil
}

// totalChanges reads the connection's running count of modified rows. The
// transaction pins one connection, so the difference across a migration is
// exactly the rows it changed.
func totalChanges(ctx context.Context, tx *sql.Tx) (int64, error) {
	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT total_changes()`).Scan(&n); err != nil {
		return 0, errortypes.ExecutionError(err, "read total_changes")
	}
	return n, nil
}
