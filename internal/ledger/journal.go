package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/errortypes"
)

// Journal is an append-only text log of applied migrations, one file per
// project:
//
//	2024-05-01T10:00:00Z  v3  add tag index
type Journal struct {
	dir string
	mu  sync.Mutex
}

// OpenJournal creates dir if needed.
func OpenJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errortypes.ExecutionError(err, "create journal dir")
	}
	return &Journal{dir: dir}, nil
}

// Path returns the journal file of project.
func (j *Journal) Path(project string) string {
	return filepath.Join(j.dir, journalFileName(project)+".log")
}

// Append writes one line for an applied migration.
func (j *Journal) Append(project string, version int64, description string, at time.Time) error {
	line := FormatLine(version, description, at)

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.Path(project), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errortypes.ExecutionError(err, "open journal")
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return errortypes.ExecutionError(err, "write journal")
	}
	return errortypes.ExecutionError(f.Close(), "close journal")
}

// FormatLine renders a journal line, newline included. Line breaks in the
// description are folded into spaces.
func FormatLine(version int64, description string, at time.Time) string {
	description = strings.Join(strings.Fields(description), " ")
	return fmt.Sprintf("%s  v%d  %s\n", at.UTC().Format(time.RFC3339), version, description)
}

// journalFileName maps a project key to a safe file name.
func journalFileName(project string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, project)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		name = "_"
	}
	return name
}
