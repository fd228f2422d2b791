package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/errortypes"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/models"
)

// Neo4jConfig holds connection settings for the Neo4j backend.
type Neo4jConfig struct {
	URI                   string        `validate:"required"`
	Username              string        `validate:"required"`
	Password              string        `validate:"required"`
	Database              string        `validate:"required"`
	MaxConnectionPoolSize int           `validate:"gte=1"`
	ConnectionTimeout     time.Duration `validate:"gt=0"`
}

// Validate checks that every connection setting is present.
func (c Neo4jConfig) Validate() error {
	return errortypes.FromValidator(validator.New().Struct(c))
}

// Neo4jStore is the primary backend. Each call opens its own session and
// closes it on return.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	now      func() time.Time
}

// ConnectNeo4j creates the driver, verifies connectivity and ensures the
// constraints the store relies on exist.
func ConnectNeo4j(ctx context.Context, cfg Neo4jConfig) (*Neo4jStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
			c.ConnectionAcquisitionTimeout = cfg.ConnectionTimeout
			c.SocketConnectTimeout = cfg.ConnectionTimeout
		})
	if err != nil {
		return nil, errortypes.ExecutionError(err, "create neo4j driver")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, errortypes.ExecutionError(err, fmt.Sprintf("connect to %s", cfg.URI))
	}

	s := &Neo4jStore{
		driver:   driver,
		database: cfg.Database,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if err := s.ensureSchema(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Neo4jStore) ensureSchema(ctx context.Context) error {
	for _, stmt := range neo4jSchema {
		_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, stmt, nil)
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		if err != nil {
			return errortypes.ExecutionError(err, "ensure neo4j schema")
		}
	}
	return nil
}

// Dialect reports Cypher.
func (s *Neo4jStore) Dialect() Dialect { return DialectCypher }

// Ping verifies the driver can still reach the server.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	return errortypes.ExecutionError(s.driver.VerifyConnectivity(ctx), "ping neo4j")
}

// Close shuts the driver down.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return errortypes.ExecutionError(s.driver.Close(ctx), "close neo4j driver")
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   mode,
	})
}

func (s *Neo4jStore) write(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, work)
}

func (s *Neo4jStore) read(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	return session.ExecuteRead(ctx, work)
}

// collect runs a statement inside a managed transaction and returns every
// record as a map.
func collect(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) ([]map[string]any, error) {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, r.AsMap())
	}
	return rows, nil
}

// CreateEntity merges an entity by (project, name). On an existing entity
// the type is overwritten, observations are appended and properties merged.
func (s *Neo4jStore) CreateEntity(ctx context.Context, in models.EntityInput) (*models.Entity, error) {
	props, err := NormalizeProperties(in.Properties, reservedEntityKeys)
	if err != nil {
		return nil, err
	}
	observations := in.Observations
	if observations == nil {
		observations = []string{}
	}

	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, cypherCreateEntity, map[string]any{
			"id":           uuid.New().String(),
			"name":         in.Name,
			"type":         in.Type,
			"project":      in.Project,
			"observations": observations,
			"properties":   props,
			"now":          s.now(),
		})
	})
	if err != nil {
		return nil, errortypes.ExecutionError(err, fmt.Sprintf("merge entity %q", in.Name))
	}
	rows := out.([]map[string]any)
	if len(rows) == 0 {
		return nil, errortypes.ExecutionError(fmt.Errorf("no row returned"), fmt.Sprintf("merge entity %q", in.Name))
	}
	entity := entityFromMap(asMap(rows[0]["entity"]))
	return &entity, nil
}

// AddObservations appends observations to an existing entity.
func (s *Neo4jStore) AddObservations(ctx context.Context, project, name string, observations []string) (*models.Entity, error) {
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, cypherAddObservations, map[string]any{
			"name":         name,
			"project":      project,
			"observations": observations,
			"now":          s.now(),
		})
	})
	if err != nil {
		return nil, errortypes.ExecutionError(err, fmt.Sprintf("add observations to %q", name))
	}
	rows := out.([]map[string]any)
	if len(rows) == 0 {
		return nil, errortypes.NotFoundf("entity %q not found in project %q", name, project)
	}
	entity := entityFromMap(asMap(rows[0]["entity"]))
	return &entity, nil
}

// DeleteEntity detaches and deletes an entity.
func (s *Neo4jStore) DeleteEntity(ctx context.Context, project, name string) error {
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, cypherDeleteEntity, map[string]any{"name": name, "project": project})
	})
	if err != nil {
		return errortypes.ExecutionError(err, fmt.Sprintf("delete entity %q", name))
	}
	if deletedCount(out) == 0 {
		return errortypes.NotFoundf("entity %q not found in project %q", name, project)
	}
	return nil
}

// CreateRelationship merges a typed edge between two existing entities. The
// sanitised type is interpolated because Cypher cannot parameterise it.
func (s *Neo4jStore) CreateRelationship(ctx context.Context, in models.RelationshipInput) (*models.Relationship, error) {
	relType, err := SanitizeRelationType(in.Type)
	if err != nil {
		return nil, err
	}
	props, err := NormalizeProperties(in.Properties, reservedRelationshipKeys)
	if err != nil {
		return nil, err
	}

	params := map[string]any{
		"source":     in.Source,
		"target":     in.Target,
		"project":    in.Project,
		"properties": props,
		"now":        s.now(),
	}
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		exists, err := collect(ctx, tx, cypherEndpointsExist, params)
		if err != nil {
			return nil, err
		}
		if len(exists) == 1 {
			if ok, _ := exists[0]["source_exists"].(bool); !ok {
				return nil, errortypes.NotFoundf("entity %q not found in project %q", in.Source, in.Project)
			}
			if ok, _ := exists[0]["target_exists"].(bool); !ok {
				return nil, errortypes.NotFoundf("entity %q not found in project %q", in.Target, in.Project)
			}
		}
		return collect(ctx, tx, fmt.Sprintf(cypherCreateRelationship, relType), params)
	})
	if err != nil {
		return nil, errortypes.ExecutionError(err, "merge relationship")
	}
	rows := out.([]map[string]any)
	if len(rows) == 0 {
		return nil, errortypes.ExecutionError(fmt.Errorf("no row returned"), "merge relationship")
	}
	rel := relationshipFromMap(rows[0])
	return &rel, nil
}

// DeleteRelationship removes one typed edge.
func (s *Neo4jStore) DeleteRelationship(ctx context.Context, project, source, target, relType string) error {
	sanitized, err := SanitizeRelationType(relType)
	if err != nil {
		return err
	}
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, fmt.Sprintf(cypherDeleteRelationship, sanitized), map[string]any{
			"source":  source,
			"target":  target,
			"project": project,
		})
	})
	if err != nil {
		return errortypes.ExecutionError(err, "delete relationship")
	}
	if deletedCount(out) == 0 {
		return errortypes.NotFoundf("relationship (%s)-[:%s]->(%s) not found in project %q", source, sanitized, target, project)
	}
	return nil
}

// GetEntity returns an entity with its incident relationships.
func (s *Neo4jStore) GetEntity(ctx context.Context, project, name string, dir models.Direction) (*models.EntityContext, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, cypherGetEntity, map[string]any{"name": name, "project": project})
	})
	if err != nil {
		return nil, errortypes.ExecutionError(err, fmt.Sprintf("get entity %q", name))
	}
	rows := out.([]map[string]any)
	if len(rows) == 0 {
		return nil, errortypes.NotFoundf("entity %q not found in project %q", name, project)
	}

	result := &models.EntityContext{
		Entity:   entityFromMap(asMap(rows[0]["entity"])),
		Outgoing: []models.Relationship{},
		Incoming: []models.Relationship{},
	}
	if dir.Includes(models.DirectionOutgoing) {
		result.Outgoing = relationshipsFromList(rows[0]["outgoing"], project)
	}
	if dir.Includes(models.DirectionIncoming) {
		result.Incoming = relationshipsFromList(rows[0]["incoming"], project)
	}
	return result, nil
}

// Search performs a substring search over entity names and observations.
// Without CaseSensitive both sides are folded with toLower().
func (s *Neo4jStore) Search(ctx context.Context, q models.SearchQuery) ([]models.Entity, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, cypherSearch, map[string]any{
			"query":          q.Query,
			"project":        q.Project,
			"case_sensitive": q.CaseSensitive,
			"limit":          int64(limit),
		})
	})
	if err != nil {
		return nil, errortypes.ExecutionError(err, "search entities")
	}
	return entitiesFromRows(out.([]map[string]any)), nil
}

// ProjectGraph returns every entity and relationship of a project.
func (s *Neo4jStore) ProjectGraph(ctx context.Context, project string) (*models.ProjectGraph, error) {
	params := map[string]any{"project": project}
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		entities, err := collect(ctx, tx, cypherProjectEntities, params)
		if err != nil {
			return nil, err
		}
		rels, err := collect(ctx, tx, cypherProjectRelationships, params)
		if err != nil {
			return nil, err
		}
		graph := &models.ProjectGraph{
			Project:       project,
			Entities:      entitiesFromRows(entities),
			Relationships: make([]models.Relationship, 0, len(rels)),
		}
		for _, row := range rels {
			r := relationshipFromMap(row)
			if r.Project == "" {
				r.Project = project
			}
			graph.Relationships = append(graph.Relationships, r)
		}
		return graph, nil
	})
	if err != nil {
		return nil, errortypes.ExecutionError(err, fmt.Sprintf("load project %q", project))
	}
	return out.(*models.ProjectGraph), nil
}

// ListProjects returns every project key that owns an entity or a migration.
func (s *Neo4jStore) ListProjects(ctx context.Context) ([]string, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, cypherListProjects, nil)
	})
	if err != nil {
		return nil, errortypes.ExecutionError(err, "list projects")
	}
	projects := []string{}
	for _, row := range out.([]map[string]any) {
		if p, ok := row["project"].(string); ok && p != "" {
			projects = append(projects, p)
		}
	}
	sort.Strings(projects)
	return projects, nil
}

// RunReadQuery runs caller-supplied Cypher in an explicit read transaction
// that is always rolled back. Statements the server classifies as anything
// other than read-only are rejected even when the keyword guard lets them
// through.
func (s *Neo4jStore) RunReadQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	if err := CheckReadOnly(query, DialectCypher); err != nil {
		return nil, err
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return nil, errortypes.ExecutionError(err, "begin read tx")
	}
	defer tx.Rollback(ctx)

	res, err := tx.Run(ctx, query, normalizeParams(params))
	if err != nil {
		return nil, errortypes.ExecutionError(err, "run query")
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, errortypes.ExecutionError(err, "run query")
	}
	summary, err := res.Consume(ctx)
	if err != nil {
		return nil, errortypes.ExecutionError(err, "run query")
	}
	if t := summary.StatementType(); t != neo4j.StatementTypeReadOnly {
		return nil, errortypes.Validationf("query is not read-only (statement type %s)", statementTypeName(t))
	}

	rows := make([]map[string]any, 0, len(records))
	for _, r := range records {
		row := make(map[string]any, len(r.Keys))
		for i, key := range r.Keys {
			row[key] = toJSONValue(r.Values[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func deletedCount(out any) int64 {
	rows, _ := out.([]map[string]any)
	if len(rows) == 0 {
		return 0
	}
	return asInt64(rows[0]["deleted"])
}

func statementTypeName(t neo4j.StatementType) string {
	switch t {
	case neo4j.StatementTypeReadWrite:
		return "read-write"
	case neo4j.StatementTypeWriteOnly:
		return "write-only"
	case neo4j.StatementTypeSchemaWrite:
		return "schema-write"
	default:
		return "unknown"
	}
}
