package gateconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralph-run/ralph/internal/models"
)

func TestDefaults(t *testing.T) {
	cfg := New(true)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, models.ActionAllow, cfg.Categories[models.CategoryFileRead])
	assert.Equal(t, models.ActionGate, cfg.Categories[models.CategoryShell])
	assert.Equal(t, models.ActionAllow, cfg.Categories[models.CategoryPython])
}

func TestLoadJSON(t *testing.T) {
	cfg := New(true)
	data := []byte(`{
		"approval_gates": {
			"enabled": true,
			"categories": {"shell": "deny", "bogus": "allow"},
			"allowlist": [
				{"tool": "read_file", "pattern": "^README"},
				{"tool": "shell", "command": ["git", "status"]},
				{"tool": "shell"}
			]
		}
	}`)
	var warnings []string
	LoadJSON(cfg, data, func(s string) { warnings = append(warnings, s) })

	assert.Equal(t, models.ActionDeny, cfg.Categories[models.CategoryShell])
	require.Len(t, cfg.Allowlist.Regex, 1)
	require.Len(t, cfg.Allowlist.Shell, 1)
	assert.Equal(t, 1, cfg.Allowlist.StaticCount)
	assert.Equal(t, 1, cfg.Allowlist.StaticShellCount)
	assert.NotEmpty(t, warnings) // bogus category + malformed shell row
}

func TestInitFromParentExcludesSessionEntries(t *testing.T) {
	parent := New(true)
	parent.Allowlist.AddRegex("read_file", "^a$")
	parent.Allowlist.SnapshotStatic()
	parent.Allowlist.AddRegex("read_file", "^session-only$") // added after snapshot

	child := InitFromParent(parent)
	assert.Equal(t, 1, len(child.Allowlist.Regex))
	assert.Equal(t, parent.Allowlist.StaticCount, child.Allowlist.StaticCount)
}

func TestApplyYolo(t *testing.T) {
	cfg := New(true)
	ApplyYolo(cfg)
	assert.False(t, cfg.Enabled)
}

func TestApplyAllowCategory(t *testing.T) {
	cfg := New(true)
	require.NoError(t, ApplyAllowCategory(cfg, "shell"))
	assert.Equal(t, models.ActionAllow, cfg.Categories[models.CategoryShell])
	assert.Error(t, ApplyAllowCategory(cfg, "nonsense"))
}

func TestApplyAllowShellAndRegex(t *testing.T) {
	cfg := New(true)
	require.NoError(t, ApplyAllow(cfg, "shell:git,status"))
	require.Len(t, cfg.Allowlist.Shell, 1)
	assert.Equal(t, []string{"git", "status"}, cfg.Allowlist.Shell[0].CommandPrefix)

	require.NoError(t, ApplyAllow(cfg, "read_file:^README"))
	require.Len(t, cfg.Allowlist.Regex, 1)
}

func TestCategorize(t *testing.T) {
	assert.Equal(t, models.CategoryShell, Categorize("shell", ""))
	assert.Equal(t, models.CategoryMemory, Categorize("vector_db_search", ""))
	assert.Equal(t, models.CategoryMCP, Categorize("mcp_fetch", ""))
	assert.Equal(t, models.CategoryPython, Categorize("totally_unknown_tool", ""))
}
