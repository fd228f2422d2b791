// Package knowledge implements the entity, relationship and search
// operations on top of a storage.Store.
package knowledge

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/errortypes"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/models"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/storage"
)

// MaxSearchLimit caps the number of search results.
const MaxSearchLimit = 100

// Service validates and normalises arguments before delegating to the store.
type Service struct {
	store    storage.Store
	validate *validator.Validate
	logger   *slog.Logger
}

// New returns a Service backed by store.
func New(store storage.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		validate: validator.New(),
		logger:   logger.With("component", "knowledge"),
	}
}

// Dialect reports the query language RunQuery accepts.
func (s *Service) Dialect() storage.Dialect { return s.store.Dialect() }

// CreateEntity upserts an entity. Observations are appended to an existing
// entity's list.
func (s *Service) CreateEntity(ctx context.Context, in models.EntityInput) (*models.Entity, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Type = strings.TrimSpace(in.Type)
	in.Project = strings.TrimSpace(in.Project)
	if err := errortypes.FromValidator(s.validate.Struct(in)); err != nil {
		return nil, err
	}

	e, err := s.store.CreateEntity(ctx, in)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("entity upserted", "project", e.Project, "name", e.Name, "observations", len(e.Observations))
	return e, nil
}

// AddObservations appends observations to an existing entity.
func (s *Service) AddObservations(ctx context.Context, project, name string, observations []string) (*models.Entity, error) {
	args := struct {
		Project      string   `validate:"required"`
		Name         string   `validate:"required"`
		Observations []string `validate:"min=1,dive,required"`
	}{strings.TrimSpace(project), strings.TrimSpace(name), observations}
	if err := errortypes.FromValidator(s.validate.Struct(args)); err != nil {
		return nil, err
	}
	return s.store.AddObservations(ctx, args.Project, args.Name, observations)
}

// DeleteEntity removes an entity and every relationship touching it.
func (s *Service) DeleteEntity(ctx context.Context, project, name string) error {
	project, name = strings.TrimSpace(project), strings.TrimSpace(name)
	if err := s.requireKey(project, name); err != nil {
		return err
	}
	if err := s.store.DeleteEntity(ctx, project, name); err != nil {
		return err
	}
	s.logger.Info("entity deleted", "project", project, "name", name)
	return nil
}

// CreateRelationship merges a typed edge between two existing entities.
func (s *Service) CreateRelationship(ctx context.Context, in models.RelationshipInput) (*models.Relationship, error) {
	in.Source = strings.TrimSpace(in.Source)
	in.Target = strings.TrimSpace(in.Target)
	in.Project = strings.TrimSpace(in.Project)
	if err := errortypes.FromValidator(s.validate.Struct(in)); err != nil {
		return nil, err
	}
	return s.store.CreateRelationship(ctx, in)
}

// DeleteRelationship removes one typed edge.
func (s *Service) DeleteRelationship(ctx context.Context, project, source, target, relType string) error {
	in := models.RelationshipInput{
		Source:  strings.TrimSpace(source),
		Target:  strings.TrimSpace(target),
		Type:    relType,
		Project: strings.TrimSpace(project),
	}
	if err := errortypes.FromValidator(s.validate.Struct(in)); err != nil {
		return err
	}
	return s.store.DeleteRelationship(ctx, in.Project, in.Source, in.Target, in.Type)
}

// GetEntity returns an entity and its incident relationships. An empty
// direction means both.
func (s *Service) GetEntity(ctx context.Context, project, name, direction string) (*models.EntityContext, error) {
	project, name = strings.TrimSpace(project), strings.TrimSpace(name)
	if err := s.requireKey(project, name); err != nil {
		return nil, err
	}
	dir, err := ParseDirection(direction)
	if err != nil {
		return nil, err
	}
	return s.store.GetEntity(ctx, project, name, dir)
}

// Search runs a substring search. Limit defaults to
// storage.DefaultSearchLimit and may not exceed MaxSearchLimit.
func (s *Service) Search(ctx context.Context, q models.SearchQuery) ([]models.Entity, error) {
	q.Project = strings.TrimSpace(q.Project)
	if strings.TrimSpace(q.Query) == "" {
		return nil, errortypes.Validationf("query is required")
	}
	if err := errortypes.FromValidator(s.validate.Struct(q)); err != nil {
		return nil, err
	}
	if q.Limit == 0 {
		q.Limit = storage.DefaultSearchLimit
	}
	return s.store.Search(ctx, q)
}

// ProjectGraph returns a project's entities and relationships.
func (s *Service) ProjectGraph(ctx context.Context, project string) (*models.ProjectGraph, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		return nil, errortypes.Validationf("project is required")
	}
	return s.store.ProjectGraph(ctx, project)
}

// ListProjects returns every known project key, sorted.
func (s *Service) ListProjects(ctx context.Context) ([]string, error) {
	return s.store.ListProjects(ctx)
}

// RunQuery executes a read-only query in the store's dialect.
func (s *Service) RunQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errortypes.Validationf("query is required")
	}
	rows, err := s.store.RunReadQuery(ctx, query, params)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("read query executed", "dialect", s.store.Dialect().String(), "rows", len(rows))
	return rows, nil
}

func (s *Service) requireKey(project, name string) error {
	key := struct {
		Project string `validate:"required"`
		Name    string `validate:"required"`
	}{project, name}
	return errortypes.FromValidator(s.validate.Struct(key))
}

// ParseDirection maps "outgoing", "incoming", "both" or "" to a Direction.
func ParseDirection(v string) (models.Direction, error) {
	switch d := models.Direction(strings.ToLower(strings.TrimSpace(v))); d {
	case "":
		return models.DirectionBoth, nil
	case models.DirectionOutgoing, models.DirectionIncoming, models.DirectionBoth:
		return d, nil
	default:
		return "", errortypes.Validationf("direction must be one of outgoing, incoming, both; got %q", v)
	}
}
