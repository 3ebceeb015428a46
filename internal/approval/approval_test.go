package approval

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralph-run/ralph/internal/fsguard"
	"github.com/ralph-run/ralph/internal/gateconfig"
	"github.com/ralph-run/ralph/internal/models"
	"github.com/ralph-run/ralph/internal/ratelimit"
)

func TestCheckAllowedCategory(t *testing.T) {
	cfg := gateconfig.New(true)
	e := &Engine{Config: cfg}
	call := models.ToolCall{ID: "c1", Name: "read_file", ArgumentsJSON: `{"path":"README.md"}`}
	out := e.Check(call, "")
	assert.Equal(t, models.ResultAllowed, out.Result)
}

func TestCheckDeniedCategory(t *testing.T) {
	cfg := gateconfig.New(true)
	cfg.Categories[models.CategoryShell] = models.ActionDeny
	e := &Engine{Config: cfg}
	call := models.ToolCall{ID: "c1", Name: "shell", ArgumentsJSON: `{"command":"git status"}`}
	out := e.Check(call, "")
	assert.Equal(t, models.ResultDenied, out.Result)
}

func TestCheckGatedAllowlistMatch(t *testing.T) {
	os.Setenv("SHELL", "/bin/bash")
	cfg := gateconfig.New(true)
	cfg.Allowlist.AddShell([]string{"git", "status"}, models.ShellPOSIX)
	cfg.Allowlist.SnapshotStatic()
	e := &Engine{Config: cfg}

	call := models.ToolCall{ID: "c1", Name: "shell", ArgumentsJSON: `{"command":"git status -s"}`}
	out := e.Check(call, "")
	assert.Equal(t, models.ResultAllowed, out.Result)
}

func TestCheckGatedNonInteractiveDeny(t *testing.T) {
	os.Setenv("SHELL", "/bin/bash")
	cfg := gateconfig.New(false)
	e := &Engine{Config: cfg}

	call := models.ToolCall{ID: "c1", Name: "shell", ArgumentsJSON: `{"command":"git status; rm -rf /"}`}
	out := e.Check(call, "")
	assert.Equal(t, models.ResultNonInteractiveDenied, out.Result)
}

func TestCheckRateLimited(t *testing.T) {
	cfg := gateconfig.New(false)
	for i := 0; i < 6; i++ {
		cfg.RateLimiter.RecordDenial("shell")
	}
	e := &Engine{Config: cfg}
	call := models.ToolCall{ID: "c1", Name: "shell", ArgumentsJSON: `{"command":"git status"}`}
	out := e.Check(call, "")
	assert.Equal(t, models.ResultRateLimited, out.Result)
	assert.Greater(t, out.RetryAfterSeconds, 0)
}

func TestCheckProtectedFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("SECRET=1"), 0o600))

	cache := fsguard.NewCache(fsguard.DefaultDetector(), []string{dir}, 0)
	cache.ForceRefresh()

	cfg := gateconfig.New(true)
	e := &Engine{Config: cfg, Protected: cache}

	call := models.ToolCall{ID: "c1", Name: "write_file", ArgumentsJSON: `{"path":"` + envPath + `"}`}
	out := e.Check(call, "")
	assert.Equal(t, models.ResultDenied, out.Result)
	assert.True(t, out.Protected)
}

func TestCheckIssuanceLimiterShortCircuitsBeforePrompting(t *testing.T) {
	os.Setenv("SHELL", "/bin/bash")
	cfg := gateconfig.New(true) // interactive, but no Prompter set below
	cfg.PromptIssuance = ratelimit.NewIssuanceLimiter(0.001, 0) // burst 0: every Allow() call fails
	e := &Engine{Config: cfg}

	call := models.ToolCall{ID: "c1", Name: "shell", ArgumentsJSON: `{"command":"git status; rm -rf /"}`}
	out := e.Check(call, "")
	assert.Equal(t, models.ResultRateLimited, out.Result)
	assert.Greater(t, out.RetryAfterSeconds, 0)
}

func TestReviewFailure(t *testing.T) {
	assert.True(t, ReviewFailure(models.ToolResult{Success: false, Result: `{"error":"protected_file","path":".env"}`}))
	assert.False(t, ReviewFailure(models.ToolResult{Success: false, Result: `{"error":"tool_execution_failed"}`}))
	assert.False(t, ReviewFailure(models.ToolResult{Success: true, Result: "ok"}))
}
