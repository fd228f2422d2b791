package storage

import (
	"strings"
	"unicode"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/errortypes"
)

// Dialect is the query language a backend executes.
type Dialect int

const (
	DialectCypher Dialect = iota
	DialectSQL
)

func (d Dialect) String() string {
	if d == DialectSQL {
		return "sql"
	}
	return "cypher"
}

// Clauses that modify data or schema. Procedure calls cannot be classified
// here; backends additionally run read queries in a transaction that is
// always rolled back.
var writeKeywords = map[Dialect]map[string]bool{
	DialectCypher: {
		"CREATE": true, "MERGE": true, "DELETE": true, "DETACH": true,
		"SET": true, "REMOVE": true, "DROP": true, "FOREACH": true,
		"LOAD": true, "ALTER": true, "GRANT": true, "DENY": true,
		"REVOKE": true, "RENAME": true, "TERMINATE": true,
	},
	DialectSQL: {
		"INSERT": true, "UPDATE": true, "DELETE": true, "REPLACE": true,
		"CREATE": true, "DROP": true, "ALTER": true, "ATTACH": true,
		"DETACH": true, "VACUUM": true, "REINDEX": true, "PRAGMA": true,
		"ANALYZE": true, "BEGIN": true, "COMMIT": true, "ROLLBACK": true,
		"SAVEPOINT": true, "RELEASE": true,
	},
}

// CheckReadOnly rejects a query containing a write clause outside of string
// literals, comments, quoted identifiers, property accesses, labels and
// parameters.
func CheckReadOnly(query string, dialect Dialect) error {
	masked := maskLiterals(query, dialect)
	if strings.TrimSpace(masked) == "" {
		return errortypes.Validationf("query is empty")
	}
	keywords := writeKeywords[dialect]

	i := 0
	for i < len(masked) {
		c := rune(masked[i])
		if !isWordStart(c) {
			i++
			continue
		}
		start := i
		for i < len(masked) && isWordPart(rune(masked[i])) {
			i++
		}
		word := strings.ToUpper(masked[start:i])
		if !keywords[word] {
			continue
		}
		if prev := prevNonSpace(masked, start); prev == '.' || prev == ':' || prev == '$' {
			continue
		}
		if next := nextNonSpace(masked, i); next == ':' && dialect == DialectCypher {
			// map key such as {set: 1}
			continue
		}
		if dialect == DialectSQL && i < len(masked) && masked[i] == '(' {
			// scalar function such as replace(x, 'a', 'b')
			continue
		}
		return errortypes.Validationf("query is not read-only: %s clauses are not allowed", word)
	}
	return nil
}

// SplitStatements splits src on top-level semicolons, ignoring semicolons in
// string literals, quoted identifiers and comments. Blank statements are
// dropped.
func SplitStatements(src string, dialect Dialect) []string {
	masked := maskLiterals(src, dialect)
	var out []string
	start := 0
	for i := 0; i < len(masked); i++ {
		if masked[i] != ';' {
			continue
		}
		if stmt := strings.TrimSpace(src[start:i]); !isBlank(masked[start:i]) {
			out = append(out, stmt)
		}
		start = i + 1
	}
	if !isBlank(masked[start:]) {
		out = append(out, strings.TrimSpace(src[start:]))
	}
	return out
}

// ContainsSchemaStatement reports whether any Cypher statement creates or
// drops an index or constraint.
func ContainsSchemaStatement(stmts []string) bool {
	for _, stmt := range stmts {
		words := strings.Fields(strings.ToUpper(maskLiterals(stmt, DialectCypher)))
		if len(words) < 2 || (words[0] != "CREATE" && words[0] != "DROP") {
			continue
		}
		// CREATE [RANGE|TEXT|POINT|LOOKUP|FULLTEXT|VECTOR] INDEX, CREATE OR REPLACE ...
		for _, w := range words[1:min(len(words), 4)] {
			if w == "INDEX" || w == "CONSTRAINT" {
				return true
			}
		}
	}
	return false
}

// SanitizeRelationType upper-cases t and replaces every character that is
// not a letter, digit or underscore with an underscore. Relationship types
// cannot be parameterised in Cypher, so the sanitised value is interpolated.
func SanitizeRelationType(t string) (string, error) {
	t = strings.TrimSpace(t)
	var b strings.Builder
	meaningful := false
	for _, r := range strings.ToUpper(t) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
			if r != '_' {
				meaningful = true
			}
			continue
		}
		b.WriteByte('_')
	}
	if !meaningful {
		return "", errortypes.Validationf("relationship type %q has no letters or digits", t)
	}
	return b.String(), nil
}

// maskLiterals returns a copy of src of equal byte length in which string
// literals, quoted identifiers and comments are replaced by spaces.
func maskLiterals(src string, dialect Dialect) string {
	out := []byte(src)
	blank := func(from, to int) {
		for k := from; k < to && k < len(out); k++ {
			if out[k] != '\n' {
				out[k] = ' '
			}
		}
	}

	i := 0
	for i < len(src) {
		switch {
		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				blank(i, len(src))
				return string(out)
			}
			blank(i, i+2+end+2)
			i += 2 + end + 2
		case strings.HasPrefix(src[i:], "//") && dialect == DialectCypher,
			strings.HasPrefix(src[i:], "--") && dialect == DialectSQL:
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				blank(i, len(src))
				return string(out)
			}
			blank(i, i+end)
			i += end
		case src[i] == '\'' || src[i] == '"' || src[i] == '`':
			quote := src[i]
			j := i + 1
			for j < len(src) {
				if src[j] == '\\' && dialect == DialectCypher && quote != '`' {
					j += 2
					continue
				}
				if src[j] == quote {
					if j+1 < len(src) && src[j+1] == quote {
						j += 2
						continue
					}
					break
				}
				j++
			}
			blank(i, j+1)
			i = j + 1
		default:
			i++
		}
	}
	return string(out)
}

func isWordStart(c rune) bool { return c == '_' || unicode.IsLetter(c) }
func isWordPart(c rune) bool  { return c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c) }

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

func prevNonSpace(s string, i int) byte {
	for k := i - 1; k >= 0; k-- {
		if s[k] != ' ' && s[k] != '\t' && s[k] != '\n' && s[k] != '\r' {
			return s[k]
		}
	}
	return 0
}

func nextNonSpace(s string, i int) byte {
	for k := i; k < len(s); k++ {
		if s[k] != ' ' && s[k] != '\t' && s[k] != '\n' && s[k] != '\r' {
			return s[k]
		}
	}
	return 0
}
