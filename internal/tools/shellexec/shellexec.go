// Package shellexec implements the registry entry backing the "shell"
// tool: it runs an already-approved command line through os/exec and
// reports combined stdout+stderr plus the exit code.
//
// exec.CommandContext with an optional workdir argument and an
// aggregated output buffer (see DESIGN.md). The command is not parsed
// again here, since approval has already run it through shellparse (C2)
// to decide gate eligibility; only shellparse.DetectShellType is used.
package shellexec

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/ralph-run/ralph/internal/models"
	"github.com/ralph-run/ralph/internal/shellparse"
	"github.com/ralph-run/ralph/internal/tools"
	"github.com/ralph-run/ralph/internal/toolerr"
)

// Timeout bounds a single shell call with a generous default rather than
// leaving a batch able to hang forever on a stuck child process.
const Timeout = 2 * time.Minute

type execResult struct {
	Stdout   string `json:"stdout"`
	ExitCode int    `json:"exit_code"`
}

// Handler returns the tools.Handler for "shell": it picks the invocation
// shell for the host platform with shellparse.DetectShellType, runs the
// command with a bounded timeout, and reports aggregated output.
func Handler() tools.Handler {
	return func(call models.ToolCall) (string, bool) {
		command := tools.Arg(call, "command")
		if command == "" {
			return toolerr.Format(toolerr.KindOperationDenied, "reason", "missing command argument"), false
		}
		workdir := tools.Arg(call, "workdir")

		shellType := shellparse.DetectShellType()
		ctx, cancel := context.WithTimeout(context.Background(), Timeout)
		defer cancel()

		cmd := commandFor(ctx, shellType, command)
		if workdir != "" {
			cmd.Dir = workdir
		}

		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		runErr := cmd.Run()
		exitCode := 0
		if runErr != nil {
			if exitErr, ok := runErr.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				return toolerr.Format(toolerr.KindOperationDenied, "reason", runErr.Error()), false
			}
		}

		payload, _ := json.Marshal(execResult{Stdout: out.String(), ExitCode: exitCode})
		return string(payload), exitCode == 0
	}
}

func commandFor(ctx context.Context, shellType models.ShellType, command string) *exec.Cmd {
	switch shellType {
	case models.ShellPowerShell:
		return exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", command)
	case models.ShellCmd:
		return exec.CommandContext(ctx, "cmd", "/C", command)
	default:
		return exec.CommandContext(ctx, "/bin/sh", "-c", command)
	}
}
