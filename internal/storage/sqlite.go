package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/errortypes"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/models"
)

// SQLiteStore is the embedded backend. Its query language for migrations and
// read queries is SQL.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// OpenSQLite opens (or creates) the database file at path and applies the
// schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errortypes.ExecutionError(err, "create data dir")
		}
	}
	db, err := sql.Open("sqlite3", "file:"+path+sqliteDSNPragmas)
	if err != nil {
		return nil, errortypes.ExecutionError(err, "open sqlite db")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errortypes.ExecutionError(err, "ping sqlite db")
	}
	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		db.Close()
		return nil, errortypes.ExecutionError(err, "create sqlite schema")
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Dialect reports SQL.
func (s *SQLiteStore) Dialect() Dialect { return DialectSQL }

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return errortypes.ExecutionError(s.db.PingContext(ctx), "ping sqlite db")
}

// Close closes the database connection.
func (s *SQLiteStore) Close(context.Context) error {
	return s.db.Close()
}

// CreateEntity upserts an entity by (project, name). On an existing entity
// the type is overwritten, observations are appended and properties merged.
func (s *SQLiteStore) CreateEntity(ctx context.Context, in models.EntityInput) (*models.Entity, error) {
	props, err := NormalizeProperties(in.Properties, reservedEntityKeys)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errortypes.ExecutionError(err, "begin tx")
	}
	defer tx.Rollback()

	now := formatTime(s.now())
	var id, existing string
	err = tx.QueryRowContext(ctx,
		`INSERT INTO entities (id, project, name, entity_type, properties, created_at, updated_at)
		 VALUES (?, ?, ?, ?, '{}', ?, ?)
		 ON CONFLICT(project, name) DO UPDATE SET
		     entity_type = excluded.entity_type,
		     updated_at = excluded.updated_at
		 RETURNING id, properties`,
		uuid.New().String(), in.Project, in.Name, in.Type, now, now,
	).Scan(&id, &existing)
	if err != nil {
		return nil, errortypes.ExecutionError(err, fmt.Sprintf("upsert entity %q", in.Name))
	}

	if len(props) > 0 {
		merged, err := mergeJSON(existing, props)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE entities SET properties = ? WHERE id = ?`, merged, id); err != nil {
			return nil, errortypes.ExecutionError(err, "update entity properties")
		}
	}

	if err := insertObservations(ctx, tx, id, in.Observations, now); err != nil {
		return nil, err
	}

	entity, err := s.entityByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errortypes.ExecutionError(err, "commit")
	}
	return entity, nil
}

// AddObservations appends observations to an existing entity in call order.
func (s *SQLiteStore) AddObservations(ctx context.Context, project, name string, observations []string) (*models.Entity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errortypes.ExecutionError(err, "begin tx")
	}
	defer tx.Rollback()

	id, err := lookupEntityID(ctx, tx, project, name)
	if err != nil {
		return nil, err
	}

	now := formatTime(s.now())
	if err := insertObservations(ctx, tx, id, observations, now); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE entities SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return nil, errortypes.ExecutionError(err, "touch entity")
	}

	entity, err := s.entityByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errortypes.ExecutionError(err, "commit")
	}
	return entity, nil
}

// DeleteEntity removes an entity; observations and every incident
// relationship go with it through ON DELETE CASCADE.
func (s *SQLiteStore) DeleteEntity(ctx context.Context, project, name string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE project = ? AND name = ?`, project, name)
	if err != nil {
		return errortypes.ExecutionError(err, fmt.Sprintf("delete entity %q", name))
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errortypes.NotFoundf("entity %q not found in project %q", name, project)
	}
	return nil
}

// CreateRelationship merges a typed edge between two existing entities.
func (s *SQLiteStore) CreateRelationship(ctx context.Context, in models.RelationshipInput) (*models.Relationship, error) {
	relType, err := SanitizeRelationType(in.Type)
	if err != nil {
		return nil, err
	}
	props, err := NormalizeProperties(in.Properties, reservedRelationshipKeys)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errortypes.ExecutionError(err, "begin tx")
	}
	defer tx.Rollback()

	sourceID, err := lookupEntityID(ctx, tx, in.Project, in.Source)
	if err != nil {
		return nil, err
	}
	targetID, err := lookupEntityID(ctx, tx, in.Project, in.Target)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO relationships (project, source_id, target_id, rel_type, properties, created_at)
		 VALUES (?, ?, ?, ?, '{}', ?)
		 ON CONFLICT(source_id, target_id, rel_type) DO NOTHING`,
		in.Project, sourceID, targetID, relType, formatTime(s.now()),
	)
	if err != nil {
		return nil, errortypes.ExecutionError(err, "insert relationship")
	}

	if len(props) > 0 {
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT properties FROM relationships WHERE source_id = ? AND target_id = ? AND rel_type = ?`,
			sourceID, targetID, relType,
		).Scan(&existing)
		if err != nil {
			return nil, errortypes.ExecutionError(err, "read relationship properties")
		}
		merged, err := mergeJSON(existing, props)
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE relationships SET properties = ? WHERE source_id = ? AND target_id = ? AND rel_type = ?`,
			merged, sourceID, targetID, relType,
		)
		if err != nil {
			return nil, errortypes.ExecutionError(err, "update relationship properties")
		}
	}

	rels, err := queryRelationships(ctx, tx,
		`r.source_id = ? AND r.target_id = ? AND r.rel_type = ?`, sourceID, targetID, relType)
	if err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return nil, errortypes.ExecutionError(errors.New("relationship missing after insert"), "create relationship")
	}
	if err := tx.Commit(); err != nil {
		return nil, errortypes.ExecutionError(err, "commit")
	}
	return &rels[0], nil
}

// DeleteRelationship removes one typed edge.
func (s *SQLiteStore) DeleteRelationship(ctx context.Context, project, source, target, relType string) error {
	sanitized, err := SanitizeRelationType(relType)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM relationships
		 WHERE project = ? AND rel_type = ?
		   AND source_id = (SELECT id FROM entities WHERE project = ? AND name = ?)
		   AND target_id = (SELECT id FROM entities WHERE project = ? AND name = ?)`,
		project, sanitized, project, source, project, target,
	)
	if err != nil {
		return errortypes.ExecutionError(err, "delete relationship")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errortypes.NotFoundf("relationship (%s)-[:%s]->(%s) not found in project %q", source, sanitized, target, project)
	}
	return nil
}

// GetEntity returns an entity with its incident relationships.
func (s *SQLiteStore) GetEntity(ctx context.Context, project, name string, dir models.Direction) (*models.EntityContext, error) {
	id, err := lookupEntityID(ctx, s.db, project, name)
	if err != nil {
		return nil, err
	}
	entity, err := s.entityByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	result := &models.EntityContext{
		Entity:   *entity,
		Outgoing: []models.Relationship{},
		Incoming: []models.Relationship{},
	}
	if dir.Includes(models.DirectionOutgoing) {
		if result.Outgoing, err = queryRelationships(ctx, s.db, `r.source_id = ?`, id); err != nil {
			return nil, err
		}
	}
	if dir.Includes(models.DirectionIncoming) {
		if result.Incoming, err = queryRelationships(ctx, s.db, `r.target_id = ?`, id); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ProjectGraph returns every entity and relationship of a project.
func (s *SQLiteStore) ProjectGraph(ctx context.Context, project string) (*models.ProjectGraph, error) {
	entities, err := s.queryEntities(ctx, s.db,
		`SELECT id, project, name, entity_type, properties, created_at, updated_at
		 FROM entities WHERE project = ? ORDER BY name`, project)
	if err != nil {
		return nil, err
	}
	rels, err := queryRelationships(ctx, s.db, `r.project = ?`, project)
	if err != nil {
		return nil, err
	}
	return &models.ProjectGraph{Project: project, Entities: entities, Relationships: rels}, nil
}

// ListProjects returns every project key that owns an entity or a migration.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project FROM entities UNION SELECT project FROM migrations ORDER BY 1`)
	if err != nil {
		return nil, errortypes.ExecutionError(err, "list projects")
	}
	defer rows.Close()

	projects := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, errortypes.ExecutionError(err, "scan project")
		}
		projects = append(projects, p)
	}
	return projects, errortypes.ExecutionError(rows.Err(), "list projects")
}

// RunReadQuery runs a read-only SQL query. The transaction is always rolled
// back so nothing a query might change survives.
func (s *SQLiteStore) RunReadQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	if err := CheckReadOnly(query, DialectSQL); err != nil {
		return nil, err
	}
	if stmts := SplitStatements(query, DialectSQL); len(stmts) != 1 {
		return nil, errortypes.Validationf("expected exactly one statement, got %d", len(stmts))
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, errortypes.ExecutionError(err, "begin read tx")
	}
	defer tx.Rollback()

	args := make([]any, 0, len(params))
	for k, v := range params {
		args = append(args, sql.Named(k, v))
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errortypes.ExecutionError(err, "run query")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errortypes.ExecutionError(err, "read columns")
	}
	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errortypes.ExecutionError(err, "scan row")
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, errortypes.ExecutionError(rows.Err(), "run query")
}

// entityByID loads one entity with its observations in insertion order.
func (s *SQLiteStore) entityByID(ctx context.Context, q querier, id string) (*models.Entity, error) {
	entities, err := s.queryEntities(ctx, q,
		`SELECT id, project, name, entity_type, properties, created_at, updated_at
		 FROM entities WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, errortypes.NotFoundf("entity %s not found", id)
	}
	return &entities[0], nil
}

// queryEntities runs an entity SELECT and attaches observations.
func (s *SQLiteStore) queryEntities(ctx context.Context, q querier, query string, args ...any) ([]models.Entity, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errortypes.ExecutionError(err, "query entities")
	}
	entities := []models.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entities = append(entities, *e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errortypes.ExecutionError(err, "query entities")
	}

	for i := range entities {
		obs, err := getObservations(ctx, q, entities[i].ID)
		if err != nil {
			return nil, err
		}
		entities[i].Observations = obs
	}
	return entities, nil
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var (
		e                models.Entity
		props            string
		created, updated string
	)
	if err := row.Scan(&e.ID, &e.Project, &e.Name, &e.Type, &props, &created, &updated); err != nil {
		return nil, errortypes.ExecutionError(err, "scan entity")
	}
	var err error
	if e.Properties, err = decodeProperties(props); err != nil {
		return nil, err
	}
	e.CreatedAt = parseTime(created)
	e.UpdatedAt = parseTime(updated)
	return &e, nil
}

// getObservations loads an entity's observations in append order.
func getObservations(ctx context.Context, q querier, entityID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT content FROM observations WHERE entity_id = ? ORDER BY seq`, entityID)
	if err != nil {
		return nil, errortypes.ExecutionError(err, "query observations")
	}
	defer rows.Close()

	obs := []string{}
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, errortypes.ExecutionError(err, "scan observation")
		}
		obs = append(obs, content)
	}
	return obs, errortypes.ExecutionError(rows.Err(), "query observations")
}

func insertObservations(ctx context.Context, tx *sql.Tx, entityID string, contents []string, now string) error {
	for _, content := range contents {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO observations (entity_id, content, created_at) VALUES (?, ?, ?)`,
			entityID, content, now,
		)
		if err != nil {
			return errortypes.ExecutionError(err, "insert observation")
		}
	}
	return nil
}

// queryRelationships loads relationships matching where, ordered by
// source, type and target.
func queryRelationships(ctx context.Context, q querier, where string, args ...any) ([]models.Relationship, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT s.name, t.name, r.rel_type, r.project, r.properties, r.created_at
		 FROM relationships r
		 JOIN entities s ON s.id = r.source_id
		 JOIN entities t ON t.id = r.target_id
		 WHERE `+where+`
		 ORDER BY s.name, r.rel_type, t.name`,
		args...,
	)
	if err != nil {
		return nil, errortypes.ExecutionError(err, "query relationships")
	}
	defer rows.Close()

	rels := []models.Relationship{}
	for rows.Next() {
		var (
			r              models.Relationship
			props, created string
		)
		if err := rows.Scan(&r.Source, &r.Target, &r.Type, &r.Project, &props, &created); err != nil {
			return nil, errortypes.ExecutionError(err, "scan relationship")
		}
		if r.Properties, err = decodeProperties(props); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTime(created)
		rels = append(rels, r)
	}
	return rels, errortypes.ExecutionError(rows.Err(), "query relationships")
}

func lookupEntityID(ctx context.Context, q querier, project, name string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx,
		`SELECT id FROM entities WHERE project = ? AND name = ?`, project, name,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errortypes.NotFoundf("entity %q not found in project %q", name, project)
	}
	if err != nil {
		return "", errortypes.ExecutionError(err, fmt.Sprintf("lookup entity %q", name))
	}
	return id, nil
}

func mergeJSON(existing string, props map[string]any) (string, error) {
	current, err := decodeProperties(existing)
	if err != nil {
		return "", err
	}
	if current == nil {
		current = make(map[string]any, len(props))
	}
	for k, v := range props {
		current[k] = v
	}
	data, err := json.Marshal(current)
	if err != nil {
		return "", errortypes.ExecutionError(err, "encode properties")
	}
	return string(data), nil
}

// decodeProperties returns nil for an empty object so JSON output omits it.
func decodeProperties(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var props map[string]any
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, errortypes.ExecutionError(err, "decode properties")
	}
	return props, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
