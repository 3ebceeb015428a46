package allowlist

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralph-run/ralph/internal/models"
)

func withShell(t *testing.T, sh string) {
	t.Helper()
	old := os.Getenv("SHELL")
	os.Setenv("SHELL", sh)
	t.Cleanup(func() { os.Setenv("SHELL", old) })
}

func TestRegexMatch(t *testing.T) {
	var l List
	l.AddRegex("read_file", `^\{"path":"README\.md"\}$`)
	l.SnapshotStatic()

	call := models.ToolCall{Name: "read_file", ArgumentsJSON: `{"path":"README.md"}`}
	assert.True(t, l.Matches(call))

	other := models.ToolCall{Name: "read_file", ArgumentsJSON: `{"path":"other.md"}`}
	assert.False(t, l.Matches(other))
}

func TestInvalidRegexSkippedAtMatch(t *testing.T) {
	var l List
	l.AddRegex("read_file", `(unterminated`)
	require.False(t, l.Regex[0].Valid)
	call := models.ToolCall{Name: "read_file", ArgumentsJSON: `{"path":"x"}`}
	assert.False(t, l.Matches(call))
}

func TestShellPrefixMatch(t *testing.T) {
	withShell(t, "/bin/bash")
	var l List
	l.AddShell([]string{"git", "status"}, models.ShellPOSIX)
	l.SnapshotStatic()

	call := models.ToolCall{Name: "shell", ArgumentsJSON: `{"command":"git status -s"}`}
	assert.True(t, l.Matches(call))
}

func TestShellUnsafeNeverMatches(t *testing.T) {
	withShell(t, "/bin/bash")
	var l List
	l.AddShell([]string{"git", "status"}, models.ShellPOSIX)

	call := models.ToolCall{Name: "shell", ArgumentsJSON: `{"command":"git status; rm -rf /"}`}
	assert.False(t, l.Matches(call))
}

func TestShellAgnosticEquivalence(t *testing.T) {
	withShell(t, "/bin/bash")
	var l List
	l.AddShell([]string{"ls"}, models.ShellUnknown)

	call := models.ToolCall{Name: "shell", ArgumentsJSON: `{"command":"dir"}`}
	assert.True(t, l.Matches(call))

	// cd is deliberately not equivalent to pwd / ls.
	callCd := models.ToolCall{Name: "shell", ArgumentsJSON: `{"command":"cd /tmp"}`}
	assert.False(t, l.Matches(callCd))
}

func TestGeneratePatternFileRoot(t *testing.T) {
	call := models.ToolCall{Name: "write_file", ArgumentsJSON: `{"path":"/tmp/scratch.txt"}`}
	gen := Generate(call, models.CategoryFileWrite)
	require.True(t, gen.Possible)
	assert.True(t, gen.IsExactMatch)
	assert.False(t, gen.NeedsConfirmation)
}

func TestGeneratePatternFileWithExtension(t *testing.T) {
	call := models.ToolCall{Name: "write_file", ArgumentsJSON: `{"path":"src/test_foo.py"}`}
	gen := Generate(call, models.CategoryFileWrite)
	require.True(t, gen.Possible)
	assert.True(t, gen.NeedsConfirmation)
	assert.Len(t, gen.ExampleMatches, 3)
	assert.Contains(t, gen.Pattern, "test_")
}

func TestGeneratePatternShellUnsafe(t *testing.T) {
	withShell(t, "/bin/bash")
	call := models.ToolCall{Name: "shell", ArgumentsJSON: `{"command":"git status; rm -rf /"}`}
	gen := Generate(call, models.CategoryShell)
	assert.False(t, gen.Possible)
}

func TestGeneratePatternNetworkHostBoundary(t *testing.T) {
	call := models.ToolCall{Name: "web_fetch", ArgumentsJSON: `{"url":"https://api.example.com/v1/x"}`}
	gen := Generate(call, models.CategoryNetwork)
	require.True(t, gen.Possible)
	assert.Contains(t, gen.Pattern, `(/|$)`)
}
