// Package dispatch implements the Batch Executor (C13): the sequential,
// single-threaded loop that runs one input batch of tool calls through
// approval, the verified-file context (C12), and a Tool Registry (C15),
// filling an ordered result slice.
//
// The double-press interrupt debounce (first Ctrl-C interrupts the
// in-flight batch, a second within the debounce window forces a hard
// stop) reduces to a plain sequential loop with three states: "keep
// going", "stop after this call", and "stop now".
package dispatch

import (
	"sync"
	"time"

	"github.com/ralph-run/ralph/internal/approval"
	"github.com/ralph-run/ralph/internal/audit"
	"github.com/ralph-run/ralph/internal/gateconfig"
	"github.com/ralph-run/ralph/internal/models"
	"github.com/ralph-run/ralph/internal/toolerr"
	"github.com/ralph-run/ralph/internal/verifiedfile"
)

// Registry is the narrow surface the executor needs from the Tool
// Registry (C15): given a call already approved, run it and return the
// tool-visible result JSON plus whether it succeeded.
type Registry interface {
	Dispatch(call models.ToolCall) (resultJSON string, success bool)
}

const interruptDebounce = 2 * time.Second

// Executor owns the pieces a batch run needs: the approval engine (which
// itself owns the protected-files cache, rate limiter, allowlist, and —
// on an interactive root — the prompter), the tool registry, and the
// per-turn subagent spawn cap.
type Executor struct {
	Approval                 *approval.Engine
	Registry                 Registry
	MaxSubagentSpawnsPerTurn int

	// Audit is an optional sqlite-backed decision log; nil means
	// decisions simply aren't recorded.
	Audit *audit.Log

	interruptMu       sync.Mutex
	lastInterruptTime time.Time
	interruptState    interruptState
}

type interruptState int

const (
	interruptNone interruptState = iota
	interruptRequested
	interruptForced
)

// Interrupt is called from a signal handler (SIGINT) to request that the
// in-flight batch stop as soon as the current call finishes. A second
// call within interruptDebounce forces the batch to stop immediately,
// abandoning any further calls as "interrupted" without even attempting
// approval — "press Ctrl+C again to exit now".
func (e *Executor) Interrupt() {
	e.interruptMu.Lock()
	defer e.interruptMu.Unlock()

	now := time.Now()
	if e.interruptState == interruptRequested && now.Sub(e.lastInterruptTime) < interruptDebounce {
		e.interruptState = interruptForced
		return
	}
	e.interruptState = interruptRequested
	e.lastInterruptTime = now
}

func (e *Executor) interruptSnapshot() interruptState {
	e.interruptMu.Lock()
	defer e.interruptMu.Unlock()
	return e.interruptState
}

// resetInterrupt clears interrupt state at the start of a fresh batch;
// an executor is reused turn over turn, so a prior batch's interrupt
// must not leak into the next one.
func (e *Executor) resetInterrupt() {
	e.interruptMu.Lock()
	defer e.interruptMu.Unlock()
	e.interruptState = interruptNone
}

// Status summarizes how a batch run ended.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusAborted     Status = "aborted"
)

// ExecuteBatch runs the full sequence for one batch: a
// protected-files refresh, then each call in order through
// decide-without-prompt-or-prompt, verified-file context plumbing, and
// the registry, filling results in input order regardless of where
// duplicate suppression or interruption cut the loop short.
func (e *Executor) ExecuteBatch(calls []models.ToolCall, gateDirectives map[string]string, compact bool) (Status, int, []models.ToolResult) {
	e.resetInterrupt()
	if e.Approval.Protected != nil {
		e.Approval.Protected.ForceRefresh()
	}

	results := make([]models.ToolResult, len(calls))
	seen := make(map[string]int)     // signature -> index of first result, for compact-mode reuse
	seenSubagent := make(map[string]bool)
	subagentSpawns := 0
	executed := 0

	for i, call := range calls {
		if e.interruptSnapshot() == interruptForced {
			fillInterrupted(results, i, len(calls))
			return StatusInterrupted, executed, results
		}

		sig := signature(call)
		category := gateconfig.Categorize(call.Name, gateDirectives[call.Name])

		if category == models.CategorySubagent {
			if seenSubagent[sig] {
				results[i] = models.ToolResult{ToolCallID: call.ID, Success: false, Result: toolerr.Format(toolerr.KindDuplicateSubagent)}
				continue
			}
			if subagentSpawns >= e.MaxSubagentSpawnsPerTurn && e.MaxSubagentSpawnsPerTurn > 0 {
				results[i] = models.ToolResult{ToolCallID: call.ID, Success: false, Result: toolerr.Format(toolerr.KindOperationDenied, "reason", "subagent_spawn_cap")}
				continue
			}
			seenSubagent[sig] = true
		} else if compact {
			if firstIdx, ok := seen[sig]; ok {
				results[i] = results[firstIdx]
				results[i].ToolCallID = call.ID
				continue
			}
			seen[sig] = i
		}

		if category == models.CategorySubagent {
			subagentSpawns++
		}

		outcome := e.Approval.Check(call, gateDirectives[call.Name])
		e.recordDecision(call, category, outcome.Result)
		if outcome.Result == models.ResultAborted {
			fillAborted(results, i, len(calls))
			return StatusAborted, executed, results
		}
		if outcome.Result != models.ResultAllowed && outcome.Result != models.ResultAllowedAlways {
			results[i] = models.ToolResult{ToolCallID: call.ID, Success: false, Result: toolerr.FromApprovalResult(outcome.Result, outcome.RetryAfterSeconds)}
			continue
		}

		if outcome.ApprovedPath != nil {
			verifiedfile.Set(*outcome.ApprovedPath, modeFor(category))
		}
		resultJSON, success := e.Registry.Dispatch(call)
		verifiedfile.Clear()

		results[i] = models.ToolResult{ToolCallID: call.ID, Success: success, Result: resultJSON}
		executed++

		if e.interruptSnapshot() == interruptRequested && i+1 < len(calls) {
			fillInterrupted(results, i+1, len(calls))
			return StatusInterrupted, executed, results
		}
	}

	return StatusCompleted, executed, results
}

// recordDecision writes one row to the optional audit log, redacting
// sensitive argument fields first. A nil Audit is a silent no-op, and a
// write failure is swallowed — a broken decision log must never cause a
// tool call itself to fail.
func (e *Executor) recordDecision(call models.ToolCall, category models.GateCategory, result models.ApprovalResult) {
	if e.Audit == nil {
		return
	}
	summary := audit.Summarize(audit.Redact(call.ArgumentsJSON))
	_ = e.Audit.Record(call, category, result, summary)
}

func fillInterrupted(results []models.ToolResult, from, to int) {
	for i := from; i < to; i++ {
		results[i] = models.ToolResult{Success: false, Result: toolerr.Format(toolerr.KindInterrupted)}
	}
}

// fillAborted fills this call and every remaining one with an abort
// error: an aborted result means the user aborted a prompt (Ctrl-C or
// Ctrl-D) or the approval channel itself has given up (e.g. a subagent's
// parent exited), so no later call in the batch can be meaningfully
// decided either.
func fillAborted(results []models.ToolResult, from, to int) {
	for i := from; i < to; i++ {
		results[i] = models.ToolResult{Success: false, Result: toolerr.Format(toolerr.KindAborted)}
	}
}

func modeFor(category models.GateCategory) models.VerifiedFileMode {
	if category == models.CategoryFileWrite {
		return models.ModeWrite
	}
	return models.ModeRead
}

// signature is the duplicate-detection key: tool name plus its raw
// arguments JSON, which is stable for identical calls without needing to
// parse argument structure.
func signature(call models.ToolCall) string {
	return call.Name + "\x00" + call.ArgumentsJSON
}
