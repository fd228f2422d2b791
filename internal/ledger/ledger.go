// Package ledger records, lists and applies versioned migrations per project.
//
// Versions are assigned by the backend inside one transaction, so they are
// gap-free and strictly increasing per project even under concurrent
// callers. Applying a migration is all-or-nothing: a failing statement
// leaves the record pending and the graph untouched.
package ledger

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/errortypes"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/models"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/storage"
)

// Backend persists migration records. storage.Store satisfies it.
type Backend interface {
	InsertMigration(ctx context.Context, draft models.MigrationDraft) (*models.Migration, error)
	Migrations(ctx context.Context, project string) ([]models.Migration, error)
	ApplyMigration(ctx context.Context, project string, version int64, appliedAt time.Time) (*models.ExecutionResult, error)
	Dialect() storage.Dialect
}

// AddRequest describes a new migration.
type AddRequest struct {
	Project     string `validate:"required,max=256"`
	Description string
	CypherUp    string `validate:"required"`
	CypherDown  string
	Label       string `validate:"max=64"`
}

// Ledger is the migration ledger for every project in one store.
type Ledger struct {
	backend  Backend
	journal  *Journal
	now      func() time.Time
	logger   *slog.Logger
	validate *validator.Validate
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithJournal appends a line to j for every applied migration.
func WithJournal(j *Journal) Option {
	return func(l *Ledger) { l.journal = j }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New returns a Ledger over backend.
func New(backend Backend, opts ...Option) *Ledger {
	l := &Ledger{
		backend:  backend,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ledger")
	return l
}

// AddMigration records a pending migration under the project's next version.
func (l *Ledger) AddMigration(ctx context.Context, req AddRequest) (*models.Migration, error) {
	req.Project = strings.TrimSpace(req.Project)
	if strings.TrimSpace(req.CypherUp) == "" {
		req.CypherUp = ""
	}
	if err := errortypes.FromValidator(l.validate.Struct(req)); err != nil {
		return nil, err
	}
	if len(storage.SplitStatements(req.CypherUp, l.backend.Dialect())) == 0 {
		return nil, errortypes.Validationf("cypher_up contains no statements")
	}

	m, err := l.backend.InsertMigration(ctx, models.MigrationDraft{
		Project:     req.Project,
		Label:       req.Label,
		Description: req.Description,
		CypherUp:    req.CypherUp,
		CypherDown:  req.CypherDown,
		CreatedAt:   l.now(),
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("migration recorded", "project", m.Project, "version", m.Version)
	return m, nil
}

// GetMigrations lists a project's migrations by ascending version. An
// unknown project yields an empty list.
func (l *Ledger) GetMigrations(ctx context.Context, project string) ([]models.Migration, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		return nil, errortypes.Validationf("project is required")
	}
	migrations, err := l.backend.Migrations(ctx, project)
	if err != nil {
		return nil, err
	}
	if migrations == nil {
		migrations = []models.Migration{}
	}
	return migrations, nil
}

// ApplyMigration executes a pending migration and marks it applied. The
// journal write happens after the commit; a journal failure is logged and
// does not undo the migration.
func (l *Ledger) ApplyMigration(ctx context.Context, project string, version int64) (*models.ExecutionResult, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		return nil, errortypes.Validationf("project is required")
	}
	if version <= 0 {
		return nil, errortypes.Validationf("version must be > 0, got %d", version)
	}

	res, err := l.backend.ApplyMigration(ctx, project, version, l.now())
	if err != nil {
		return nil, err
	}
	l.logger.Info("migration applied",
		"project", project,
		"version", version,
		"statements", res.Statements,
		"elapsed_ms", res.ElapsedMS,
	)

	if l.journal != nil {
		at := l.now()
		if res.Migration.AppliedAt != nil {
			at = *res.Migration.AppliedAt
		}
		if err := l.journal.Append(project, version, res.Migration.Description, at); err != nil {
			errortypes.LogError(l.logger, "journal append failed", err)
		}
	}
	return res, nil
}
