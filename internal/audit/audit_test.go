package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralph-run/ralph/internal/models"
)

func TestRecordAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.sqlite")
	log, err := Open(path)
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Record(models.ToolCall{Name: "shell", ArgumentsJSON: `{"command":"ls"}`}, models.CategoryShell, models.ResultAllowed, "ls"))
	require.NoError(t, log.Record(models.ToolCall{Name: "write_file"}, models.CategoryFileWrite, models.ResultDenied, "a.txt"))

	recent, err := log.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "write_file", recent[0].ToolName) // newest first
	assert.Equal(t, string(models.ResultDenied), recent[0].Result)
}

func TestSummarizeTruncates(t *testing.T) {
	long := make([]byte, 250)
	for i := range long {
		long[i] = 'x'
	}
	got := Summarize(string(long))
	assert.Len(t, got, 203)
	assert.True(t, len(got) < len(long))
}

func TestRedactBlanksSensitiveFields(t *testing.T) {
	got := Redact(`{"path":"a.txt","content":"super secret file body"}`)
	assert.Contains(t, got, `"path":"a.txt"`)
	assert.Contains(t, got, `"content":"[redacted]"`)
	assert.NotContains(t, got, "super secret")
}

func TestRedactLeavesUnrelatedFieldsAlone(t *testing.T) {
	got := Redact(`{"command":"ls -la"}`)
	assert.Equal(t, `{"command":"ls -la"}`, got)
}

func TestRedactPassesThroughMalformedJSON(t *testing.T) {
	got := Redact(`not json`)
	assert.Equal(t, `not json`, got)
}
