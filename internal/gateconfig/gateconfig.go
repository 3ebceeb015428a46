// Package gateconfig implements Gate Config (C8): the category→action
// policy map, the enabled/interactive flags, the static/session allowlist
// split, and the JSON config loading plus CLI override surface.
//
// Config holds its allowlist by value and its rate limiter through a
// pointer to a mutex-guarded ratelimit.Limiter — composition, not cycles —
// rather than holding back-pointers. InitFromParent deep-copies only the
// static allowlist portion and gives the child a fresh rate limiter, so
// no session state leaks between sessions.
package gateconfig

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ralph-run/ralph/internal/allowlist"
	"github.com/ralph-run/ralph/internal/models"
	"github.com/ralph-run/ralph/internal/ratelimit"
)

// Config is the live, per-process gate state. Immutable-ish after init
// except for allowlist growth via "allow always".
type Config struct {
	Enabled       bool
	IsInteractive bool
	Categories    map[models.GateCategory]models.GateAction
	Allowlist     allowlist.List
	RateLimiter   *ratelimit.Limiter

	// PromptIssuance is an optional secondary soft cap on interactive
	// prompt issuance rate, independent of any one tool's own backoff
	// schedule. Nil means uncapped (IssuanceLimiter.Allow tolerates a nil
	// receiver for exactly this reason).
	PromptIssuance *ratelimit.IssuanceLimiter

	// ApprovalChannel is set on subagents, left nil on the root process.
	ApprovalChannel models.ApprovalChannel
}

// DefaultCategories returns the default category→action map.
func DefaultCategories() map[models.GateCategory]models.GateAction {
	return map[models.GateCategory]models.GateAction{
		models.CategoryFileRead:  models.ActionAllow,
		models.CategoryFileWrite: models.ActionGate,
		models.CategoryShell:     models.ActionGate,
		models.CategoryNetwork:   models.ActionGate,
		models.CategoryMemory:    models.ActionAllow,
		models.CategorySubagent:  models.ActionGate,
		models.CategoryMCP:       models.ActionGate,
		models.CategoryPython:    models.ActionAllow,
	}
}

// New builds a Config with the documented defaults: enabled, interactive
// determined by the caller (from TTY detection, kept out of this
// constructor so tests can force either state), and no allowlist entries.
func New(isInteractive bool) *Config {
	return &Config{
		Enabled:       true,
		IsInteractive: isInteractive,
		Categories:    DefaultCategories(),
		RateLimiter:   ratelimit.New(),
	}
}

// fileSection mirrors the JSON shape expected under the
// approval_gates key of a ralph.config.json document.
type fileSection struct {
	ApprovalGates struct {
		Enabled    bool                         `json:"enabled"`
		Categories map[string]string             `json:"categories"`
		Allowlist  []json.RawMessage             `json:"allowlist"`
	} `json:"approval_gates"`
}

type allowlistRow struct {
	Tool    string   `json:"tool"`
	Pattern string   `json:"pattern"`
	Command []string `json:"command"`
	Shell   string   `json:"shell"`
}

// LoadJSON parses a ralph.config.json-shaped document into cfg. Malformed
// JSON leaves cfg at its current (default) state; unknown category names
// and unparseable regexes are skipped with a warning via warn (nil is a
// valid no-op logger).
func LoadJSON(cfg *Config, data []byte, warn func(string)) {
	if warn == nil {
		warn = func(string) {}
	}

	var doc fileSection
	if err := json.Unmarshal(data, &doc); err != nil {
		warn(fmt.Sprintf("gateconfig: malformed config, using defaults: %v", err))
		return
	}

	cfg.Enabled = doc.ApprovalGates.Enabled

	for name, action := range doc.ApprovalGates.Categories {
		cat := models.GateCategory(name)
		if !isKnownCategory(cat) {
			warn(fmt.Sprintf("gateconfig: unknown category %q skipped", name))
			continue
		}
		act := models.GateAction(action)
		if act != models.ActionAllow && act != models.ActionGate && act != models.ActionDeny {
			warn(fmt.Sprintf("gateconfig: unknown action %q for category %q skipped", action, name))
			continue
		}
		cfg.Categories[cat] = act
	}

	for _, raw := range doc.ApprovalGates.Allowlist {
		var row allowlistRow
		if err := json.Unmarshal(raw, &row); err != nil {
			warn(fmt.Sprintf("gateconfig: malformed allowlist entry skipped: %v", err))
			continue
		}
		if row.Tool == "shell" && len(row.Command) > 0 {
			shellType := models.ShellUnknown
			if row.Shell != "" {
				shellType = models.ShellType(row.Shell)
			}
			cfg.Allowlist.AddShell(row.Command, shellType)
			continue
		}
		if row.Pattern != "" {
			cfg.Allowlist.AddRegex(row.Tool, row.Pattern)
			continue
		}
		warn("gateconfig: allowlist entry missing both command and pattern, skipped")
	}

	cfg.Allowlist.SnapshotStatic()
}

func isKnownCategory(cat models.GateCategory) bool {
	switch cat {
	case models.CategoryFileRead, models.CategoryFileWrite, models.CategoryShell,
		models.CategoryNetwork, models.CategoryMemory, models.CategorySubagent,
		models.CategoryMCP, models.CategoryPython:
		return true
	default:
		return false
	}
}

// InitFromParent deep-copies enabled, categories, and allowlist entries
// below the static counts only, recompiling regexes for the child.
// Session entries never propagate to a spawned subagent.
func InitFromParent(parent *Config) *Config {
	child := &Config{
		Enabled:       parent.Enabled,
		IsInteractive: parent.IsInteractive,
		Categories:    make(map[models.GateCategory]models.GateAction, len(parent.Categories)),
		RateLimiter:   ratelimit.New(),
	}
	for k, v := range parent.Categories {
		child.Categories[k] = v
	}

	for i := 0; i < parent.Allowlist.StaticCount; i++ {
		e := parent.Allowlist.Regex[i]
		child.Allowlist.AddRegex(e.Tool, e.Raw)
	}
	for i := 0; i < parent.Allowlist.StaticShellCount; i++ {
		e := parent.Allowlist.Shell[i]
		child.Allowlist.AddShell(append([]string(nil), e.CommandPrefix...), e.ShellType)
	}
	child.Allowlist.SnapshotStatic()

	return child
}

// ApplyYolo implements the --yolo CLI override: disable all gates.
func ApplyYolo(cfg *Config) {
	cfg.Enabled = false
}

// ApplyAllowCategory implements --allow-category=NAME: force that
// category to "allow".
func ApplyAllowCategory(cfg *Config, name string) error {
	cat := models.GateCategory(name)
	if !isKnownCategory(cat) {
		return fmt.Errorf("gateconfig: unknown category %q", name)
	}
	cfg.Categories[cat] = models.ActionAllow
	return nil
}

// ApplyAllow implements --allow "<tool>:<spec>": for tool=="shell", spec
// is a comma-separated token list; otherwise spec is a regex pattern.
func ApplyAllow(cfg *Config, spec string) error {
	idx := strings.Index(spec, ":")
	if idx < 0 {
		return fmt.Errorf("gateconfig: malformed --allow spec %q, expected tool:pattern", spec)
	}
	tool, rest := spec[:idx], spec[idx+1:]

	if tool == "shell" {
		tokens := strings.Split(rest, ",")
		for i := range tokens {
			tokens[i] = strings.TrimSpace(tokens[i])
		}
		cfg.Allowlist.AddShell(tokens, models.ShellUnknown)
		return nil
	}

	cfg.Allowlist.AddRegex(tool, rest)
	return nil
}

// Categorize maps a tool name to its GateCategory. gateDirective lets a Python tool declare its category via a
// "Gate:" docstring directive discovered by the tool registry; pass ""
// when none applies.
func Categorize(toolName string, gateDirective string) models.GateCategory {
	if gateDirective != "" {
		return models.GateCategory(gateDirective)
	}

	switch toolName {
	case "remember", "recall_memories", "forget_memory", "todo":
		return models.CategoryMemory
	case "shell":
		return models.CategoryShell
	case "web_fetch":
		return models.CategoryNetwork
	case "read_file", "file_info", "list_dir", "search_files", "process_pdf_document":
		return models.CategoryFileRead
	case "write_file", "append_file", "apply_delta":
		return models.CategoryFileWrite
	case "python":
		return models.CategoryPython
	case "subagent", "subagent_status":
		return models.CategorySubagent
	}
	if strings.HasPrefix(toolName, "vector_db_") {
		return models.CategoryMemory
	}
	if strings.HasPrefix(toolName, "mcp_") {
		return models.CategoryMCP
	}
	return models.CategoryPython // unknown -> python (default)
}
