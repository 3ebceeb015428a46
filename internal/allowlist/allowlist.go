// Package allowlist implements the Allowlist (C6) and Pattern Generator
// (C7): regex and shell-prefix entries a gated tool call can match to skip
// the prompt, plus synthesis of new entries from an "allow always"
// decision.
//
// Regex matching uses the standard library's RE2-based regexp rather
// than a POSIX-ERE engine: no POSIX-ERE package appears anywhere in the
// corpus, and RE2's lack of backtracking means a malicious or malformed
// allowlist pattern can never make a single match pathologically slow.
// Argument extraction uses github.com/tidwall/gjson as a single utility
// that returns owned strings rather than structural unmarshalling.
package allowlist

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ralph-run/ralph/internal/models"
	"github.com/ralph-run/ralph/internal/shellparse"
)

// RegexEntry is a {tool, compiled pattern, valid} allowlist row.
type RegexEntry struct {
	Tool    string
	Raw     string
	Pattern *regexp.Regexp
	Valid   bool
}

// ShellEntry is a {command_prefix, shell_type} allowlist row. ShellType
// may be models.ShellUnknown to mean "shell-agnostic": the first token
// may match by command equivalence rather than exact text.
type ShellEntry struct {
	CommandPrefix []string
	ShellType     models.ShellType
}

// List holds the ordered regex and shell arrays plus the static/session
// split counts the gate config needs to distinguish config-file entries
// from ones added during the current session.
type List struct {
	Regex []RegexEntry
	Shell []ShellEntry

	StaticCount      int
	StaticShellCount int
}

// AddRegex compiles pattern and appends it as a session entry (past the
// static count). Compilation failure is recorded via Valid=false rather
// than rejecting the entry outright, so a bad config line never loses the
// rest of an "allowlist" JSON array silently during load; the invalid
// entry is simply skipped at match time.
func (l *List) AddRegex(tool, pattern string) {
	re, err := regexp.Compile(pattern)
	entry := RegexEntry{Tool: tool, Raw: pattern, Valid: err == nil}
	if err == nil {
		entry.Pattern = re
	}
	l.Regex = append(l.Regex, entry)
}

// AddShell appends a shell-prefix entry.
func (l *List) AddShell(prefix []string, shellType models.ShellType) {
	l.Shell = append(l.Shell, ShellEntry{CommandPrefix: prefix, ShellType: shellType})
}

// SnapshotStatic records the current lengths as the static counts, called
// once after loading config. Anything appended afterwards is a session
// entry.
func (l *List) SnapshotStatic() {
	l.StaticCount = len(l.Regex)
	l.StaticShellCount = len(l.Shell)
}

// Matches reports whether call is covered by any allowlist entry. For the
// "shell" tool this runs the shell-prefix matcher; for everything else it
// runs the regex matcher against the tool's declared match target.
func (l *List) Matches(call models.ToolCall) bool {
	if call.Name == "shell" {
		return l.matchesShell(call)
	}
	return l.matchesRegex(call)
}

// matchTarget returns the string a regex entry is evaluated against: the
// argument named by a Python tool's "Match:" directive (passed in via
// matchDirective, resolved by the tool registry/doc metadata upstream) or
// the full arguments JSON by default.
func matchTarget(call models.ToolCall, matchDirective string) string {
	if matchDirective == "" {
		return call.ArgumentsJSON
	}
	v := gjson.Get(call.ArgumentsJSON, matchDirective)
	if !v.Exists() {
		return call.ArgumentsJSON
	}
	return v.String()
}

func (l *List) matchesRegex(call models.ToolCall) bool {
	return l.matchesRegexWithDirective(call, "")
}

// MatchesRegexWithDirective is the Python-tool-aware entry point: callers
// that know a tool declared a "Match:" docstring directive pass the
// argument name here so extraction targets that field instead of the
// whole arguments blob.
func (l *List) MatchesRegexWithDirective(call models.ToolCall, matchDirective string) bool {
	return l.matchesRegexWithDirective(call, matchDirective)
}

func (l *List) matchesRegexWithDirective(call models.ToolCall, matchDirective string) bool {
	target := matchTarget(call, matchDirective)
	for _, e := range l.Regex {
		if e.Tool != call.Name || !e.Valid {
			continue
		}
		if e.Pattern.MatchString(target) {
			return true
		}
	}
	return false
}

func (l *List) matchesShell(call models.ToolCall) bool {
	cmd := gjson.Get(call.ArgumentsJSON, "command").String()
	if cmd == "" {
		return false
	}
	shellType := shellparse.DetectShellType()
	parsed, err := shellparse.Parse(cmd, shellType)
	if err != nil || !parsed.EligibleForAllowlist() {
		return false
	}

	for _, e := range l.Shell {
		if shellEntryMatches(parsed, e) {
			return true
		}
	}
	return false
}

func shellEntryMatches(parsed models.ParsedShellCommand, entry ShellEntry) bool {
	if len(entry.CommandPrefix) == 0 || len(entry.CommandPrefix) > len(parsed.Tokens) {
		return false
	}

	// (a) exact token-prefix match.
	if shellparse.MatchesPrefix(parsed, entry.CommandPrefix) {
		return true
	}

	// (b) shell-agnostic equivalence: single-token entries compare by
	// base-command equivalence; multi-token entries require the first
	// token to be equivalent and every remaining token to match exactly.
	if entry.ShellType != models.ShellUnknown {
		return false
	}
	if !shellparse.CommandsAreEquivalent(parsed.Tokens[0], entry.CommandPrefix[0]) {
		return false
	}
	for i := 1; i < len(entry.CommandPrefix); i++ {
		if parsed.Tokens[i] != entry.CommandPrefix[i] {
			return false
		}
	}
	return true
}

// ResetDenialsOnMatch calls reset with toolName, for resetting a tool's
// denial counter after an allowlist match. Nothing in this module calls
// it; the approval engine resets the rate limiter directly.
func ResetDenialsOnMatch(reset func(tool string), toolName string) {
	reset(toolName)
}

// String is a debug helper that renders an entry as "tool:pattern".
func (e RegexEntry) String() string {
	return fmt.Sprintf("%s:%s", e.Tool, e.Raw)
}

func (e ShellEntry) String() string {
	return strings.Join(e.CommandPrefix, " ")
}
