package allowlist

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ralph-run/ralph/internal/models"
	"github.com/ralph-run/ralph/internal/pathnorm"
	"github.com/ralph-run/ralph/internal/shellparse"
)

// GeneratedEntry is the Pattern Generator's (C7) output: either a regex
// entry (Pattern set) or a shell entry (CommandPrefix set), plus the
// confirmation/example metadata the prompter shows before appending it.
type GeneratedEntry struct {
	Pattern           string
	CommandPrefix     []string
	ShellType         models.ShellType
	IsExactMatch      bool
	NeedsConfirmation bool
	ExampleMatches    []string
	// Possible reports false only for an unsafe shell command: no pattern
	// can ever be generated for the call, and the exact command is the
	// only thing that can ever be approved.
	Possible bool
}

// Generate synthesizes an "allow always" candidate for call under
// category, following the per-category policy table exactly.
func Generate(call models.ToolCall, category models.GateCategory) GeneratedEntry {
	switch category {
	case models.CategoryFileRead, models.CategoryFileWrite:
		return generateFile(call)
	case models.CategoryShell:
		return generateShell(call)
	case models.CategoryNetwork:
		return generateNetwork(call)
	default:
		return GeneratedEntry{
			Pattern:      "^" + regexp.QuoteMeta(call.ArgumentsJSON) + "$",
			IsExactMatch: true,
			Possible:     true,
		}
	}
}

func generateFile(call models.ToolCall) GeneratedEntry {
	path := gjson.Get(call.ArgumentsJSON, "path").String()
	if path == "" {
		path = call.ArgumentsJSON
	}

	if isRootOrTmp(path) {
		return GeneratedEntry{
			Pattern:      "^" + regexp.QuoteMeta(path) + "$",
			IsExactMatch: true,
			Possible:     true,
		}
	}

	ext := filepath.Ext(path)
	if ext == "" {
		return GeneratedEntry{
			Pattern:      "^" + regexp.QuoteMeta(path) + "$",
			IsExactMatch: true,
			Possible:     true,
		}
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	nameNoExt := strings.TrimSuffix(base, ext)

	pattern := "^" + regexp.QuoteMeta(dir) + "/.*" + regexp.QuoteMeta(ext) + "$"
	examples := []string{
		filepath.Join(dir, "example"+ext),
		filepath.Join(dir, "another"+ext),
		filepath.Join(dir, "sample"+ext),
	}

	if idx := strings.Index(nameNoExt, "_"); idx > 0 {
		prefix := nameNoExt[:idx]
		pattern = "^" + regexp.QuoteMeta(dir) + "/" + regexp.QuoteMeta(prefix) + "_.*" + regexp.QuoteMeta(ext) + "$"
		examples = []string{
			filepath.Join(dir, prefix+"_one"+ext),
			filepath.Join(dir, prefix+"_two"+ext),
			filepath.Join(dir, prefix+"_three"+ext),
		}
	}

	return GeneratedEntry{
		Pattern:           pattern,
		NeedsConfirmation: true,
		ExampleMatches:    examples,
		Possible:          true,
	}
}

func isRootOrTmp(path string) bool {
	norm, err := pathnorm.Normalize(path)
	if err != nil {
		return false
	}
	dir := filepath.Dir(norm.Normalized)
	return dir == "/" || strings.HasPrefix(norm.Normalized, "/tmp/")
}

func generateShell(call models.ToolCall) GeneratedEntry {
	cmd := gjson.Get(call.ArgumentsJSON, "command").String()
	shellType := shellparse.DetectShellType()
	parsed, err := shellparse.Parse(cmd, shellType)
	if err != nil || !parsed.EligibleForAllowlist() {
		return GeneratedEntry{Possible: false}
	}

	if len(parsed.Tokens) == 1 {
		return GeneratedEntry{
			CommandPrefix: []string{parsed.Tokens[0]},
			ShellType:     shellType,
			IsExactMatch:  true,
			Possible:      true,
		}
	}

	prefixLen := 2
	if prefixLen > len(parsed.Tokens) {
		prefixLen = len(parsed.Tokens)
	}
	return GeneratedEntry{
		CommandPrefix:     append([]string(nil), parsed.Tokens[:prefixLen]...),
		ShellType:         shellType,
		NeedsConfirmation: true,
		Possible:          true,
	}
}

func generateNetwork(call models.ToolCall) GeneratedEntry {
	raw := gjson.Get(call.ArgumentsJSON, "url").String()
	if raw == "" {
		raw = call.ArgumentsJSON
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return GeneratedEntry{
			Pattern:      "^" + regexp.QuoteMeta(raw) + "$",
			IsExactMatch: true,
			Possible:     true,
		}
	}
	// The trailing (/|$) is mandatory: without it "api.example.com.evil.com"
	// would satisfy a bare "^https://api.example.com" prefix match.
	pattern := fmt.Sprintf("^%s://%s(/|$)", regexp.QuoteMeta(u.Scheme), regexp.QuoteMeta(u.Host))
	return GeneratedEntry{
		Pattern:      pattern,
		IsExactMatch: false,
		Possible:     true,
	}
}
