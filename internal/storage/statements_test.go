package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/errortypes"
)

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		dialect Dialect
		wantErr bool
	}{
		{"plain match", "MATCH (n:Entity) RETURN n.name", DialectCypher, false},
		{"lowercase create", "match (n) create (m)", DialectCypher, true},
		{"merge", "MERGE (n:Entity {name: 'x'})", DialectCypher, true},
		{"detach delete", "MATCH (n) DETACH DELETE n", DialectCypher, true},
		{"set after where", "MATCH (n) WHERE n.x = 1 SET n.y = 2", DialectCypher, true},
		{"keyword in string", "MATCH (n) WHERE n.note = 'please DELETE me' RETURN n", DialectCypher, false},
		{"keyword in double quotes", `RETURN "CREATE" AS word`, DialectCypher, false},
		{"keyword in comment", "MATCH (n) // DELETE later\nRETURN n", DialectCypher, false},
		{"keyword in block comment", "MATCH (n) /* SET */ RETURN n", DialectCypher, false},
		{"property access", "MATCH (n) RETURN n.set, n.delete", DialectCypher, false},
		{"label", "MATCH (n:Create) RETURN n", DialectCypher, false},
		{"parameter", "MATCH (n) WHERE n.name = $merge RETURN n", DialectCypher, false},
		{"map key", "RETURN {set: 1, remove: 2} AS m", DialectCypher, false},
		{"backtick identifier", "MATCH (`delete`) RETURN `delete`", DialectCypher, false},
		{"escaped quote", `RETURN 'it\'s fine; CREATE' AS s`, DialectCypher, false},
		{"load csv", "LOAD CSV FROM 'file:///x.csv' AS row RETURN row", DialectCypher, true},
		{"foreach", "MATCH p = (a)-->(b) FOREACH (n IN nodes(p) | SET n.seen = true)", DialectCypher, true},
		{"drop constraint", "DROP CONSTRAINT entity_identity", DialectCypher, true},
		{"sql select", "SELECT name FROM entities WHERE project = 'x'", DialectSQL, false},
		{"sql delete", "delete from entities", DialectSQL, true},
		{"sql pragma", "PRAGMA writable_schema = 1", DialectSQL, true},
		{"sql attach", "ATTACH DATABASE 'x.db' AS x", DialectSQL, true},
		{"sql comment", "SELECT 1 -- UPDATE later", DialectSQL, false},
		{"sql doubled quote", "SELECT 'it''s INSERT' AS s", DialectSQL, false},
		{"sql set is fine", "SELECT 'x' AS set_name", DialectSQL, false},
		{"sql replace function", "SELECT replace(name, 'a', 'b') AS n FROM entities", DialectSQL, false},
		{"sql replace into", "REPLACE INTO entities(id) VALUES ('x')", DialectSQL, true},
		{"sql insert before paren", "INSERT INTO entities(id) VALUES ('x')", DialectSQL, true},
		{"cypher create without space", "CREATE(n:Entity)", DialectCypher, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckReadOnly(tt.query, tt.dialect)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errortypes.IsValidation(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCheckReadOnlyEmpty(t *testing.T) {
	for _, q := range []string{"", "   ", "// only a comment", "/* nothing */"} {
		err := CheckReadOnly(q, DialectCypher)
		assert.True(t, errortypes.IsValidation(err), "query %q", q)
	}
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		dialect Dialect
		want    []string
	}{
		{
			name:    "single without semicolon",
			src:     "CREATE (n:Tag {name: 'go'})",
			dialect: DialectCypher,
			want:    []string{"CREATE (n:Tag {name: 'go'})"},
		},
		{
			name:    "trailing semicolon and blanks",
			src:     "CREATE (a);\n\n  CREATE (b);  ;\n",
			dialect: DialectCypher,
			want:    []string{"CREATE (a)", "CREATE (b)"},
		},
		{
			name:    "semicolon inside literal",
			src:     "CREATE (n {note: 'a;b'}); MATCH (n) RETURN n",
			dialect: DialectCypher,
			want:    []string{"CREATE (n {note: 'a;b'})", "MATCH (n) RETURN n"},
		},
		{
			name:    "semicolon inside comment",
			src:     "// setup; part one\nCREATE (a); /* ; */ CREATE (b)",
			dialect: DialectCypher,
			want:    []string{"// setup; part one\nCREATE (a)", "/* ; */ CREATE (b)"},
		},
		{
			name:    "comment only",
			src:     "// nothing to do;",
			dialect: DialectCypher,
			want:    nil,
		},
		{
			name:    "sql with line comment",
			src:     "CREATE TABLE t (x TEXT); -- done; really\nINSERT INTO t VALUES ('1;2')",
			dialect: DialectSQL,
			want:    []string{"CREATE TABLE t (x TEXT)", "-- done; really\nINSERT INTO t VALUES ('1;2')"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitStatements(tt.src, tt.dialect))
		})
	}
}

func TestContainsSchemaStatement(t *testing.T) {
	tests := []struct {
		name  string
		stmts []string
		want  bool
	}{
		{"create index", []string{"CREATE INDEX entity_type IF NOT EXISTS FOR (n:Entity) ON (n.type)"}, true},
		{"typed index", []string{"MERGE (a:A)", "create text index t for (n:A) on (n.x)"}, true},
		{"constraint", []string{"CREATE CONSTRAINT c IF NOT EXISTS FOR (n:A) REQUIRE n.id IS UNIQUE"}, true},
		{"drop index", []string{"DROP INDEX entity_type IF EXISTS"}, true},
		{"leading comment", []string{"// add index\nCREATE INDEX i FOR (n:A) ON (n.x)"}, true},
		{"label named index", []string{"CREATE (n:INDEX {name: 'x'})"}, false},
		{"keyword in string", []string{"CREATE (n:Note {text: 'CREATE INDEX later'})"}, false},
		{"data only", []string{"MERGE (n:A {id: 1})", "MATCH (n:A) SET n.x = 1"}, false},
		{"none", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ContainsSchemaStatement(tt.stmts))
		})
	}
}

func TestSanitizeRelationType(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "KNOWS", want: "KNOWS"},
		{in: "works with", want: "WORKS_WITH"},
		{in: "depends-on", want: "DEPENDS_ON"},
		{in: "  part_of ", want: "PART_OF"},
		{in: "x`]->(m) DETACH DELETE m //", want: "X_____M__DETACH_DELETE_M___"},
		{in: "v2", want: "V2"},
		{in: "", wantErr: true},
		{in: "___", wantErr: true},
		{in: "->", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SanitizeRelationType(tt.in)
			if tt.wantErr {
				assert.True(t, errortypes.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeProperties(t *testing.T) {
	props, err := NormalizeProperties(map[string]any{
		"count": 3,
		"ratio": float32(0.5),
		"tags":  []any{"a", "b"},
		"names": []string{"x"},
		"ok":    true,
	}, reservedEntityKeys)
	require.NoError(t, err)
	assert.Equal(t, int64(3), props["count"])
	assert.Equal(t, float64(0.5), props["ratio"])
	assert.Equal(t, []any{"a", "b"}, props["tags"])
	assert.Equal(t, []any{"x"}, props["names"])

	empty, err := NormalizeProperties(nil, reservedEntityKeys)
	require.NoError(t, err)
	assert.NotNil(t, empty)

	for name, bad := range map[string]map[string]any{
		"reserved":    {"observations": "x"},
		"empty key":   {"": 1},
		"null":        {"x": nil},
		"nested map":  {"x": map[string]any{"a": 1}},
		"nested list": {"x": []any{[]any{1}}},
		"mixed list":  {"x": []any{"a", int64(1)}},
	} {
		_, err := NormalizeProperties(bad, reservedEntityKeys)
		assert.True(t, errortypes.IsValidation(err), name)
	}
}
