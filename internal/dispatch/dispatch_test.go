package dispatch

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralph-run/ralph/internal/approval"
	"github.com/ralph-run/ralph/internal/audit"
	"github.com/ralph-run/ralph/internal/gateconfig"
	"github.com/ralph-run/ralph/internal/models"
)

type fakeRegistry struct {
	calls []models.ToolCall
}

func (f *fakeRegistry) Dispatch(call models.ToolCall) (string, bool) {
	f.calls = append(f.calls, call)
	return `{"ok":true}`, true
}

func newExecutor() (*Executor, *fakeRegistry) {
	cfg := gateconfig.New(true)
	reg := &fakeRegistry{}
	return &Executor{Approval: &approval.Engine{Config: cfg}, Registry: reg, MaxSubagentSpawnsPerTurn: 2}, reg
}

func TestExecuteBatchAllowedCalls(t *testing.T) {
	e, reg := newExecutor()
	calls := []models.ToolCall{
		{ID: "1", Name: "read_file", ArgumentsJSON: `{"path":"a.txt"}`},
		{ID: "2", Name: "read_file", ArgumentsJSON: `{"path":"b.txt"}`},
	}
	status, executed, results := e.ExecuteBatch(calls, nil, false)
	assert.Equal(t, StatusCompleted, status)
	assert.Equal(t, 2, executed)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
	assert.Len(t, reg.calls, 2)
}

func TestExecuteBatchDeniedCall(t *testing.T) {
	e, _ := newExecutor()
	e.Approval.Config.Categories[models.CategoryShell] = models.ActionDeny
	calls := []models.ToolCall{{ID: "1", Name: "shell", ArgumentsJSON: `{"command":"git status"}`}}
	_, executed, results := e.ExecuteBatch(calls, nil, false)
	assert.Equal(t, 0, executed)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Result, "operation_denied")
}

func TestExecuteBatchCompactDeduplicatesNonSubagentCalls(t *testing.T) {
	e, reg := newExecutor()
	calls := []models.ToolCall{
		{ID: "1", Name: "read_file", ArgumentsJSON: `{"path":"a.txt"}`},
		{ID: "2", Name: "read_file", ArgumentsJSON: `{"path":"a.txt"}`},
	}
	_, executed, results := e.ExecuteBatch(calls, nil, true)
	assert.Equal(t, 1, executed)
	assert.Len(t, reg.calls, 1)
	assert.Equal(t, "2", results[1].ToolCallID)
	assert.True(t, results[1].Success)
}

func TestExecuteBatchDuplicateSubagentAlwaysRejected(t *testing.T) {
	e, reg := newExecutor()
	e.Approval.Config.Categories[models.CategorySubagent] = models.ActionAllow
	calls := []models.ToolCall{
		{ID: "1", Name: "subagent", ArgumentsJSON: `{"task":"x"}`},
		{ID: "2", Name: "subagent", ArgumentsJSON: `{"task":"x"}`},
	}
	_, _, results := e.ExecuteBatch(calls, nil, false)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Result, "duplicate_subagent")
	assert.Len(t, reg.calls, 1)
}

func TestExecuteBatchSubagentSpawnCap(t *testing.T) {
	e, _ := newExecutor()
	e.MaxSubagentSpawnsPerTurn = 1
	e.Approval.Config.Categories[models.CategorySubagent] = models.ActionAllow
	calls := []models.ToolCall{
		{ID: "1", Name: "subagent", ArgumentsJSON: `{"task":"x"}`},
		{ID: "2", Name: "subagent", ArgumentsJSON: `{"task":"y"}`},
	}
	_, _, results := e.ExecuteBatch(calls, nil, false)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Result, "subagent_spawn_cap")
}

func TestExecuteBatchRecordsToAuditLogWhenConfigured(t *testing.T) {
	e, _ := newExecutor()
	log, err := audit.Open(filepath.Join(t.TempDir(), "decisions.sqlite"))
	require.NoError(t, err)
	defer log.Close()
	e.Audit = log

	calls := []models.ToolCall{{ID: "1", Name: "write_file", ArgumentsJSON: `{"path":"a.txt","content":"hunter2"}`}}
	e.Approval.Config.Categories[models.CategoryFileWrite] = models.ActionAllow
	_, _, results := e.ExecuteBatch(calls, nil, false)
	require.True(t, results[0].Success)

	recent, err := log.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "write_file", recent[0].ToolName)
	assert.NotContains(t, recent[0].ArgumentsSummary, "hunter2")
}

// brokenChannel simulates a subagent whose parent approval channel has
// gone away (e.g. the parent process exited) — every forwarded request
// fails.
type brokenChannel struct{}

func (brokenChannel) Forward(req models.ApprovalRequest) (models.ApprovalResponse, error) {
	return models.ApprovalResponse{}, assert.AnError
}

func TestExecuteBatchAbortsWholeBatchWhenApprovalChannelFails(t *testing.T) {
	cfg := gateconfig.New(true)
	cfg.ApprovalChannel = brokenChannel{}
	e := &Executor{Approval: &approval.Engine{Config: cfg}}
	reg := &fakeRegistry{}
	e.Registry = reg

	calls := []models.ToolCall{
		{ID: "1", Name: "shell", ArgumentsJSON: `{"command":"git status"}`},
		{ID: "2", Name: "shell", ArgumentsJSON: `{"command":"ls"}`},
	}
	status, executed, results := e.ExecuteBatch(calls, nil, false)
	assert.Equal(t, StatusAborted, status)
	assert.Equal(t, 0, executed)
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Result, "aborted")
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Result, "aborted")
	assert.Empty(t, reg.calls)
}

// interruptingRegistry simulates a second Ctrl-C arriving while the first
// call in a batch is still executing, forcing the batch to abandon every
// remaining call.
type interruptingRegistry struct {
	e     *Executor
	calls []models.ToolCall
}

func (r *interruptingRegistry) Dispatch(call models.ToolCall) (string, bool) {
	r.calls = append(r.calls, call)
	r.e.Interrupt()
	r.e.Interrupt() // second press within the debounce window -> forced
	return `{"ok":true}`, true
}

func TestInterruptForcesEarlyStop(t *testing.T) {
	cfg := gateconfig.New(true)
	e := &Executor{Approval: &approval.Engine{Config: cfg}}
	reg := &interruptingRegistry{e: e}
	e.Registry = reg

	calls := []models.ToolCall{
		{ID: "1", Name: "read_file", ArgumentsJSON: `{"path":"a.txt"}`},
		{ID: "2", Name: "read_file", ArgumentsJSON: `{"path":"b.txt"}`},
		{ID: "3", Name: "read_file", ArgumentsJSON: `{"path":"c.txt"}`},
	}
	status, executed, results := e.ExecuteBatch(calls, nil, false)
	assert.Equal(t, StatusInterrupted, status)
	assert.Equal(t, 1, executed)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.Contains(t, results[1].Result, "interrupted")
	assert.Contains(t, results[2].Result, "interrupted")
	assert.Len(t, reg.calls, 1)
}
