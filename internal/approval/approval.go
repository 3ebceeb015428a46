// Package approval implements the Approval Engine (C10): it combines the
// protected-files cache (C4), rate limiter (C5), allowlist (C6), pattern
// generator (C7), gate config (C8) and prompter (C9) into a single
// check(call) -> ApprovalResult decision covering every tool call before
// it reaches the executor.
//
// Structurally grounded on an ApprovalGate.Classify/ApplyDecision style
// category dispatch table, with the exec-policy delegation replaced by
// this module's own allowlist (C6).
package approval

import (
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/ralph-run/ralph/internal/allowlist"
	"github.com/ralph-run/ralph/internal/fsguard"
	"github.com/ralph-run/ralph/internal/gateconfig"
	"github.com/ralph-run/ralph/internal/models"
	"github.com/ralph-run/ralph/internal/prompter"
)

// CheckOutcome is the Approval Engine's full answer for one call: the
// verdict, any captured-and-verified path to hand into the verified-file
// context (C12), whether a protected-file short-circuit fired, and the
// seconds remaining on a rate-limit block.
type CheckOutcome struct {
	Result            models.ApprovalResult
	ApprovedPath      *models.ApprovedPath
	Protected         bool
	ProtectedPath     string
	RetryAfterSeconds int
}

// Engine holds everything Check needs: the live config, a protected-files
// cache, and (on an interactive root process) a prompter. Subagents leave
// Prompter nil and rely on Config.ApprovalChannel instead.
type Engine struct {
	Config    *gateconfig.Config
	Protected *fsguard.Cache
	Prompter  *prompter.Prompter
}

// Check runs the full decision sequence for a single call.
// gateDirective is the category a Python tool declared via a "Gate:"
// docstring directive, or "" when none applies.
func (e *Engine) Check(call models.ToolCall, gateDirective string) CheckOutcome {
	category := gateconfig.Categorize(call.Name, gateDirective)

	out, needsApproval := e.decideWithoutPrompt(call, category)
	if !needsApproval {
		return out
	}

	if e.Config.ApprovalChannel != nil {
		return e.forward(call)
	}
	if !e.Config.IsInteractive {
		return CheckOutcome{Result: models.ResultNonInteractiveDenied}
	}
	if !e.Config.PromptIssuance.Allow() {
		return CheckOutcome{Result: models.ResultRateLimited, RetryAfterSeconds: 1}
	}
	return e.promptAndFinalize(call, category)
}

// decideWithoutPrompt runs every step that can resolve a verdict
// without owning the terminal: protected-file short-circuit, enabled
// check, rate limit, category action, and allowlist match. When none of
// those resolve it, needsApproval is true and the caller must either
// forward to a parent (subagent) or prompt (interactive root).
func (e *Engine) decideWithoutPrompt(call models.ToolCall, category models.GateCategory) (out CheckOutcome, needsApproval bool) {
	if isFileCategory(category) && e.Protected != nil {
		if path := filePathArg(call); path != "" && e.Protected.IsProtected(path) {
			return CheckOutcome{Result: models.ResultDenied, Protected: true, ProtectedPath: path}, false
		}
	}

	if !e.Config.Enabled {
		return e.finalizeAllowed(call, category, models.ResultAllowed), false
	}

	if e.Config.RateLimiter.IsBlocked(call.Name) {
		return CheckOutcome{Result: models.ResultRateLimited, RetryAfterSeconds: e.Config.RateLimiter.GetRemaining(call.Name)}, false
	}

	switch e.Config.Categories[category] {
	case models.ActionAllow:
		return e.finalizeAllowed(call, category, models.ResultAllowed), false
	case models.ActionDeny:
		return CheckOutcome{Result: models.ResultDenied}, false
	}

	// action == ActionGate: try the allowlist first.
	if e.Config.Allowlist.Matches(call) {
		e.Config.RateLimiter.Reset(call.Name)
		return e.finalizeAllowed(call, category, models.ResultAllowed), false
	}

	return CheckOutcome{}, true
}

// CheckBatch decides an entire batch in one pass: every call is first
// decided without a prompt; if exactly one remains undecided the single-
// prompt path handles it, otherwise the batch prompter does, and in
// non-interactive mode every undecided call is marked
// non_interactive_denied instead of ever reaching a terminal read.
func (e *Engine) CheckBatch(calls []models.ToolCall, gateDirectives map[string]string) []CheckOutcome {
	outcomes := make([]CheckOutcome, len(calls))
	categories := make([]models.GateCategory, len(calls))
	var pending []int

	for i, call := range calls {
		category := gateconfig.Categorize(call.Name, gateDirectives[call.Name])
		categories[i] = category
		out, needsApproval := e.decideWithoutPrompt(call, category)
		if !needsApproval {
			outcomes[i] = out
			continue
		}
		if e.Config.ApprovalChannel != nil {
			outcomes[i] = e.forward(call)
			continue
		}
		pending = append(pending, i)
	}

	if len(pending) == 0 {
		return outcomes
	}

	if !e.Config.IsInteractive {
		for _, i := range pending {
			outcomes[i] = CheckOutcome{Result: models.ResultNonInteractiveDenied}
		}
		return outcomes
	}

	if len(pending) == 1 {
		i := pending[0]
		outcomes[i] = e.promptAndFinalize(calls[i], categories[i])
		return outcomes
	}

	e.resolvePendingBatch(calls, categories, pending, outcomes)
	return outcomes
}

// resolvePendingBatch drives the numbered batch prompter until every
// pending index has a result, handling "allow all" / "deny all" /
// single-index inspection (which re-enters the single-prompt path for
// that one call and returns to the batch view for the rest) and abort
// (which fills every still-pending index with ResultAborted).
func (e *Engine) resolvePendingBatch(calls []models.ToolCall, categories []models.GateCategory, pending []int, outcomes []CheckOutcome) {
	remaining := append([]int(nil), pending...)
	for len(remaining) > 0 {
		rows := make([]prompter.BatchRow, len(remaining))
		for j, i := range remaining {
			rows[j] = prompter.BatchRow{Name: calls[i].Name, Description: describe(calls[i]), Status: ' '}
		}
		result := e.Prompter.PromptBatch(rows)

		switch {
		case result.Aborted:
			for _, i := range remaining {
				outcomes[i] = CheckOutcome{Result: models.ResultAborted}
			}
			return
		case result.AllowAll:
			for _, i := range remaining {
				e.Config.RateLimiter.Reset(calls[i].Name)
				outcomes[i] = e.finalizeAllowed(calls[i], categories[i], models.ResultAllowed)
			}
			return
		case result.DenyAll:
			for _, i := range remaining {
				outcomes[i] = CheckOutcome{Result: models.ResultDenied}
			}
			return
		case result.InspectIdx > 0:
			idx := remaining[result.InspectIdx-1]
			outcomes[idx] = e.promptAndFinalize(calls[idx], categories[idx])
			remaining = append(remaining[:result.InspectIdx-1], remaining[result.InspectIdx:]...)
		}
	}
}

func (e *Engine) forward(call models.ToolCall) CheckOutcome {
	req := models.ApprovalRequest{
		RequestID:  uuid.NewString(),
		ToolCall:   call,
		DeadlineMS: 300000,
	}
	resp, err := e.Config.ApprovalChannel.Forward(req)
	if err != nil {
		return CheckOutcome{Result: models.ResultAborted}
	}
	out := CheckOutcome{Result: resp.Result, ApprovedPath: resp.ApprovedPath}
	return out
}

func (e *Engine) promptAndFinalize(call models.ToolCall, category models.GateCategory) CheckOutcome {
	if e.Prompter == nil {
		return CheckOutcome{Result: models.ResultNonInteractiveDenied}
	}

	description := describe(call)
	outcome := e.Prompter.PromptSingle(call.Name, description, 0)

	switch outcome {
	case prompter.OutcomeDetails:
		path := filePathArg(call)
		_, existsErr := fsguard.Capture(path)
		_ = e.Prompter.Details(call.ArgumentsJSON, path, existsErr == nil)
		// Re-prompt after details: any key returns to the same decision.
		return e.promptAndFinalize(call, category)
	case prompter.OutcomeAllow:
		e.Config.RateLimiter.Reset(call.Name)
		return e.finalizeAllowed(call, category, models.ResultAllowed)
	case prompter.OutcomeAllowAlways:
		gen := allowlist.Generate(call, category)
		if gen.Possible {
			if len(gen.CommandPrefix) > 0 {
				e.Config.Allowlist.AddShell(gen.CommandPrefix, gen.ShellType)
			} else if gen.Pattern != "" {
				e.Config.Allowlist.AddRegex(call.Name, gen.Pattern)
			}
		}
		e.Config.RateLimiter.Reset(call.Name)
		return e.finalizeAllowed(call, category, models.ResultAllowedAlways)
	case prompter.OutcomeDeny:
		return CheckOutcome{Result: models.ResultDenied}
	default:
		return CheckOutcome{Result: models.ResultAborted}
	}
}

func (e *Engine) finalizeAllowed(call models.ToolCall, category models.GateCategory, result models.ApprovalResult) CheckOutcome {
	out := CheckOutcome{Result: result}
	if isFileCategory(category) {
		if path := filePathArg(call); path != "" {
			if ap, err := fsguard.Capture(path); err == nil {
				out.ApprovedPath = &ap
			}
		}
	}
	return out
}

func isFileCategory(c models.GateCategory) bool {
	return c == models.CategoryFileRead || c == models.CategoryFileWrite
}

func filePathArg(call models.ToolCall) string {
	return gjson.Get(call.ArgumentsJSON, "path").String()
}

func describe(call models.ToolCall) string {
	if call.Name == "shell" {
		return gjson.Get(call.ArgumentsJSON, "command").String()
	}
	if path := filePathArg(call); path != "" {
		return path
	}
	return call.ArgumentsJSON
}

// sandboxDenialKeywords scans this module's own error strings rather than
// OS sandbox output, since there is no process sandbox in this design —
// but a tool can still report a protected-file or verification failure
// that looks worth re-litigating with the user rather than silently
// handing back to the model.
var sandboxDenialKeywords = []string{
	"protected_file", "inode_mismatch", "parent_changed", "symlink_rejected",
}

// ReviewFailure is the on-failure escalation hook: the batch executor may
// call this after a tool execution fails, to decide whether the failure
// looks like a policy
// rejection worth re-prompting about rather than handing straight back to
// the model. Off by default; callers opt in explicitly.
func ReviewFailure(result models.ToolResult) (shouldRetry bool) {
	if result.Success {
		return false
	}
	lower := strings.ToLower(result.Result)
	for _, kw := range sandboxDenialKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
