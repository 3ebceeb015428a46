// Command ralph is the gated tool-dispatch loop: it reads a batch of
// pending tool calls, runs each through the Approval Engine and the Tool
// Registry, and writes the ordered results back out as JSON.
//
// Usage:
//
//	ralph --config ralph.config.json batch.json
//	ralph --yolo batch.json
//	ralph --allow-category shell batch.json
//	ralph --allow 'read_file:^README' batch.json
//
// Flags are plain flag.* calls with no subcommands. The config file comes
// from --config (default ./ralph.config.json when present), the protected-files root
// from --protected-root, and --ralph-home (default ~/.ralph) is read only
// for mcp_servers.json. Each run reads one batch, decides it, and
// exits — there is no long-lived session to attach to.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ralph-run/ralph/internal/approval"
	"github.com/ralph-run/ralph/internal/audit"
	"github.com/ralph-run/ralph/internal/dispatch"
	"github.com/ralph-run/ralph/internal/fsguard"
	"github.com/ralph-run/ralph/internal/gateconfig"
	"github.com/ralph-run/ralph/internal/logging"
	"github.com/ralph-run/ralph/internal/models"
	"github.com/ralph-run/ralph/internal/prompter"
	"github.com/ralph-run/ralph/internal/tools"
	"github.com/ralph-run/ralph/internal/tools/fileio"
	"github.com/ralph-run/ralph/internal/tools/mcpclient"
	"github.com/ralph-run/ralph/internal/tools/pytool"
	"github.com/ralph-run/ralph/internal/tools/shellexec"
	"github.com/ralph-run/ralph/internal/tools/userinput"

	"go.uber.org/zap"
	"golang.org/x/term"
)

type batchInput struct {
	Calls     []models.ToolCall `json:"calls"`
	Directives map[string]string `json:"gate_directives,omitempty"`
	Compact   bool              `json:"compact,omitempty"`
}

type batchOutput struct {
	Status        string              `json:"status"`
	ExecutedCount int                 `json:"executed_count"`
	Results       []models.ToolResult `json:"results"`
}

func main() {
	configPath := flag.String("config", "", "path to ralph.config.json (default: ./ralph.config.json if present)")
	ralphHome := flag.String("ralph-home", "", "path to ralph's config directory (default: ~/.ralph)")
	yolo := flag.Bool("yolo", false, "disable gates entirely (equivalent to approval_gates.enabled=false)")
	allowCategory := flag.String("allow-category", "", "mark one category always-allow for this run (e.g. shell)")
	allow := flag.String("allow", "", "add one allowlist entry for this run, e.g. shell:git,status or read_file:^README")
	maxSubagentSpawns := flag.Int("max-subagent-spawns", 4, "cap on subagent tool calls per batch")
	protectedRoot := flag.String("protected-root", ".", "root directory scanned for protected files")
	auditDB := flag.String("audit-db", "", "optional path to a sqlite decision log")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ralph [flags] <batch.json>")
		os.Exit(2)
	}

	isInteractive := isTerminalStdin()
	logger, err := logging.New(isInteractive)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := gateconfig.New(isInteractive)
	resolvedConfigPath := *configPath
	if resolvedConfigPath == "" {
		if _, err := os.Stat("ralph.config.json"); err == nil {
			resolvedConfigPath = "ralph.config.json"
		}
	}
	if resolvedConfigPath != "" {
		data, err := os.ReadFile(resolvedConfigPath)
		if err != nil {
			logger.Sugar().Warnw("failed to read config", "path", resolvedConfigPath, "error", err)
		} else {
			gateconfig.LoadJSON(cfg, data, func(w string) { logger.Sugar().Warn(w) })
		}
	}

	if *yolo {
		gateconfig.ApplyYolo(cfg)
	}
	if *allowCategory != "" {
		if err := gateconfig.ApplyAllowCategory(cfg, *allowCategory); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}
	if *allow != "" {
		if err := gateconfig.ApplyAllow(cfg, *allow); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}

	protected := fsguard.NewCache(fsguard.DefaultDetector(), []string{*protectedRoot}, 0)
	protected.ForceRefresh()

	var p *prompter.Prompter
	if isInteractive && cfg.ApprovalChannel == nil {
		pr, ok := prompter.New()
		if ok {
			p = pr
		}
	}

	engine := &approval.Engine{Config: cfg, Protected: protected, Prompter: p}

	registry := tools.NewRegistry()
	registry.Register("python", pytool.Handler())
	registry.Register("request_user_input", userinput.Handler(p))
	registry.Register("shell", shellexec.Handler())
	registry.Register("read_file", fileio.ReadHandler())
	registry.Register("write_file", fileio.WriteHandler())
	mcp := mcpclient.New(loadMCPServers(*ralphHome, logger))
	registry.RegisterPrefix("mcp_", mcp.Handler())

	var auditLog *audit.Log
	if *auditDB != "" {
		al, err := audit.Open(*auditDB)
		if err != nil {
			logger.Sugar().Warnw("failed to open audit log, continuing without one", "path", *auditDB, "error", err)
		} else {
			auditLog = al
			defer al.Close()
		}
	}

	executor := &dispatch.Executor{Approval: engine, Registry: registry, MaxSubagentSpawnsPerTurn: *maxSubagentSpawns, Audit: auditLog}

	raw, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to read batch file:", err)
		os.Exit(1)
	}
	var in batchInput
	if err := json.Unmarshal(raw, &in); err != nil {
		fmt.Fprintln(os.Stderr, "invalid batch file:", err)
		os.Exit(1)
	}

	status, executed, results := executor.ExecuteBatch(in.Calls, in.Directives, in.Compact)

	out := batchOutput{Status: string(status), ExecutedCount: executed, Results: results}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, "failed to encode results:", err)
		os.Exit(1)
	}
}

// isTerminalStdin reports whether stdin is an interactive terminal rather
// than a pipe, redirected file, or /dev/null — the same term.IsTerminal
// check prompter.New uses, so IsInteractive and the prompter's own ok
// result can never disagree about whether a real TTY is available.
func isTerminalStdin() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// loadMCPServers reads an optional mcp_servers.json listing configured MCP
// servers out of the ralph home directory; a missing file just means no
// mcp_* tools are available this run.
func loadMCPServers(ralphHome string, logger *zap.Logger) []mcpclient.ServerSpec {
	dir := ralphHome
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".ralph")
		}
	}
	if dir == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(dir, "mcp_servers.json"))
	if err != nil {
		return nil
	}
	var servers []mcpclient.ServerSpec
	if err := json.Unmarshal(data, &servers); err != nil {
		return nil
	}
	return servers
}
