package errortypes

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMatching(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"validation", Validationf("name is required"), Validation},
		{"not found", NotFoundf("entity %q", "Go"), NotFound},
		{"already applied", AlreadyAppliedf("v%d", 3), AlreadyApplied},
		{"execution", ExecutionError(errors.New("boom"), "run statement"), Execution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.kind)
			assert.Equal(t, tt.kind, KindOf(tt.err))

			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.kind)
			assert.Equal(t, tt.kind, KindOf(wrapped))
		})
	}
}

func TestKindsDoNotCrossMatch(t *testing.T) {
	err := NotFoundf("migration v1")
	assert.False(t, IsValidation(err))
	assert.False(t, IsAlreadyApplied(err))
	assert.False(t, IsExecution(err))
	assert.True(t, IsNotFound(err))
}

func TestExecutionErrorKeepsTypedErrors(t *testing.T) {
	inner := AlreadyAppliedf("migration v2 already applied")
	err := ExecutionError(fmt.Errorf("tx: %w", inner), "apply migration")
	assert.True(t, IsAlreadyApplied(err))
	assert.False(t, IsExecution(err))

	assert.NoError(t, ExecutionError(nil, "noop"))
}

func TestExecutionErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := ExecutionError(cause, "connect")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "connect: connection refused", err.Error())
}

func TestUntypedErrorsAreExecution(t *testing.T) {
	assert.Equal(t, Execution, KindOf(errors.New("plain")))
	assert.Equal(t, "execution error: plain", ClientMessage(errors.New("plain")))
}

func TestClientMessage(t *testing.T) {
	msg := ClientMessage(NotFoundf("entity %q not found in project %q", "Go", "app"))
	assert.Equal(t, `not found: entity "Go" not found in project "app"`, msg)
}

func TestLogErrorIncludesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := Validationf("cypher_up is required").WithField("project", "app")
	LogError(logger, "add_migration failed", err)

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"kind":"validation error"`)
	assert.Contains(t, out, `"project":"app"`)

	buf.Reset()
	LogError(logger, "query failed", ExecutionError(errors.New("down"), "run"))
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
}
