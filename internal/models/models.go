package models

import "time"

// Entity represents a node in a project's knowledge graph.
type Entity struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Project      string         `json:"project"`
	Observations []string       `json:"observations"`
	Properties   map[string]any `json:"properties,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Relationship represents a directed, typed edge between two entities of the
// same project.
type Relationship struct {
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Type       string         `json:"type"`
	Project    string         `json:"project"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Direction selects which incident relationships GetEntity returns.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// Includes reports whether d covers other.
func (d Direction) Includes(other Direction) bool {
	return d == DirectionBoth || d == other
}

// EntityContext is an entity together with its incident relationships.
type EntityContext struct {
	Entity   Entity         `json:"entity"`
	Outgoing []Relationship `json:"outgoing"`
	Incoming []Relationship `json:"incoming"`
}

// ProjectGraph is the full subgraph of one project.
type ProjectGraph struct {
	Project       string         `json:"project"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// EntityInput is the upsert request for an entity.
type EntityInput struct {
	Name         string   `validate:"required,max=512"`
	Type         string   `validate:"required,max=256"`
	Project      string   `validate:"required,max=256"`
	Observations []string `validate:"dive,required"`
	Properties   map[string]any
}

// RelationshipInput identifies (and optionally decorates) a relationship.
type RelationshipInput struct {
	Source     string `validate:"required"`
	Target     string `validate:"required"`
	Type       string `validate:"required"`
	Project    string `validate:"required"`
	Properties map[string]any
}

// SearchQuery describes a substring search over names and observations.
// An empty Project searches every project.
type SearchQuery struct {
	Query         string `validate:"required"`
	Project       string
	CaseSensitive bool
	Limit         int `validate:"gte=0,lte=100"`
}

// MigrationStatus is the lifecycle state of a migration record.
type MigrationStatus string

const (
	MigrationPending MigrationStatus = "pending"
	MigrationApplied MigrationStatus = "applied"
)

// Migration is one versioned, recorded structural change to a project.
type Migration struct {
	ID          string          `json:"id"`
	Project     string          `json:"project"`
	Version     int64           `json:"version"`
	Label       string          `json:"label,omitempty"`
	Description string          `json:"description"`
	CypherUp    string          `json:"cypher_up"`
	CypherDown  string          `json:"cypher_down,omitempty"`
	Status      MigrationStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	AppliedAt   *time.Time      `json:"applied_at,omitempty"`
}

// MigrationDraft is a migration before a version has been assigned.
type MigrationDraft struct {
	ID          string
	Project     string `validate:"required"`
	Label       string
	Description string
	CypherUp    string `validate:"required"`
	CypherDown  string
	CreatedAt   time.Time
}

// ExecutionResult reports the outcome of applying a migration.
type ExecutionResult struct {
	Migration  Migration        `json:"migration"`
	Statements int              `json:"statements"`
	Counters   map[string]int64 `json:"counters,omitempty"`
	ElapsedMS  int64            `json:"elapsed_ms"`
}
