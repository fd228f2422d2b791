package storage

import (
	"math"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/models"
)

// entityFromMap builds an entity from an e{.*} projection. Keys the store
// does not manage become properties.
func entityFromMap(m map[string]any) models.Entity {
	e := models.Entity{
		ID:           asString(m["id"]),
		Name:         asString(m["name"]),
		Type:         asString(m["type"]),
		Project:      asString(m["project"]),
		Observations: asStrings(m["observations"]),
		CreatedAt:    asTime(m["created_at"]),
		UpdatedAt:    asTime(m["updated_at"]),
	}
	for k, v := range m {
		if reservedEntityKeys[k] {
			continue
		}
		if e.Properties == nil {
			e.Properties = make(map[string]any)
		}
		e.Properties[k] = toJSONValue(v)
	}
	return e
}

func entitiesFromRows(rows []map[string]any) []models.Entity {
	entities := make([]models.Entity, 0, len(rows))
	for _, row := range rows {
		entities = append(entities, entityFromMap(asMap(row["entity"])))
	}
	return entities
}

// relationshipFromMap reads a {source, target, type, properties} row.
func relationshipFromMap(m map[string]any) models.Relationship {
	r := models.Relationship{
		Source: asString(m["source"]),
		Target: asString(m["target"]),
		Type:   asString(m["type"]),
	}
	for k, v := range asMap(m["properties"]) {
		switch k {
		case "project":
			r.Project = asString(v)
		case "created_at":
			r.CreatedAt = asTime(v)
		default:
			if r.Properties == nil {
				r.Properties = make(map[string]any)
			}
			r.Properties[k] = toJSONValue(v)
		}
	}
	return r
}

// relationshipsFromList converts a collected list of relationship maps,
// sorted by source, type and target.
func relationshipsFromList(v any, project string) []models.Relationship {
	list, _ := v.([]any)
	rels := make([]models.Relationship, 0, len(list))
	for _, item := range list {
		r := relationshipFromMap(asMap(item))
		if r.Project == "" {
			r.Project = project
		}
		rels = append(rels, r)
	}
	sort.Slice(rels, func(i, j int) bool {
		a, b := rels[i], rels[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Target < b.Target
	})
	return rels
}

func migrationFromMap(m map[string]any) models.Migration {
	mig := models.Migration{
		ID:          asString(m["id"]),
		Project:     asString(m["project"]),
		Version:     asInt64(m["version"]),
		Label:       asString(m["label"]),
		Description: asString(m["description"]),
		CypherUp:    asString(m["cypher_up"]),
		CypherDown:  asString(m["cypher_down"]),
		Status:      models.MigrationStatus(asString(m["status"])),
		CreatedAt:   asTime(m["created_at"]),
	}
	if mig.Status == "" {
		mig.Status = models.MigrationPending
	}
	if t := asTime(m["applied_at"]); !t.IsZero() {
		mig.AppliedAt = &t
	}
	return mig
}

// toJSONValue converts driver values into types encoding/json renders
// sensibly. Graph elements become maps of their identity and properties and
// temporal values become strings.
func toJSONValue(v any) any {
	switch val := v.(type) {
	case nil, bool, string, int64, float64:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case dbtype.Date:
		return val.Time().Format(time.DateOnly)
	case dbtype.LocalTime:
		return val.Time().Format("15:04:05.999999999")
	case dbtype.Time:
		return val.Time().Format("15:04:05.999999999Z07:00")
	case dbtype.LocalDateTime:
		return val.Time().Format("2006-01-02T15:04:05.999999999")
	case dbtype.Duration:
		return val.String()
	case dbtype.Point2D:
		return map[string]any{"srid": int64(val.SpatialRefId), "x": val.X, "y": val.Y}
	case dbtype.Point3D:
		return map[string]any{"srid": int64(val.SpatialRefId), "x": val.X, "y": val.Y, "z": val.Z}
	case neo4j.Node:
		return map[string]any{
			"element_id": val.ElementId,
			"labels":     val.Labels,
			"properties": toJSONValue(val.Props),
		}
	case neo4j.Relationship:
		return map[string]any{
			"element_id":       val.ElementId,
			"type":             val.Type,
			"start_element_id": val.StartElementId,
			"end_element_id":   val.EndElementId,
			"properties":       toJSONValue(val.Props),
		}
	case neo4j.Path:
		nodes := make([]any, len(val.Nodes))
		for i, n := range val.Nodes {
			nodes[i] = toJSONValue(n)
		}
		rels := make([]any, len(val.Relationships))
		for i, r := range val.Relationships {
			rels[i] = toJSONValue(r)
		}
		return map[string]any{"nodes": nodes, "relationships": rels}
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toJSONValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toJSONValue(item)
		}
		return out
	default:
		return val
	}
}

// normalizeParams turns integral JSON numbers into int64 so they can be used
// where Cypher requires an INTEGER, such as LIMIT.
func normalizeParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = normalizeParam(v)
	}
	return out
}

func normalizeParam(v any) any {
	switch val := v.(type) {
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val)
		}
		return val
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeParam(item)
		}
		return out
	case map[string]any:
		return normalizeParams(val)
	default:
		return val
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStrings(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case dbtype.LocalDateTime:
		return t.Time().UTC()
	case string:
		return parseTime(t)
	default:
		return time.Time{}
	}
}
