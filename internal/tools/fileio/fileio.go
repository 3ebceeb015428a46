// Package fileio implements the registry entries backing "read_file" and
// "write_file": both route through the Verified-File Context (C12)
// rather than opening the user-supplied path a second time, so the file
// a tool actually touches is guaranteed to be the same one approval
// captured and verified.
//
// Argument validation requires a path string argument (a missing content
// argument writes an empty file) and write_file reports a byte-count
// success message, opening through verifiedfile.GetFD
// instead of a bare os.WriteFile so the TOCTOU verification step is
// never bypassed.
package fileio

import (
	"fmt"
	"io"

	"github.com/ralph-run/ralph/internal/models"
	"github.com/ralph-run/ralph/internal/tools"
	"github.com/ralph-run/ralph/internal/toolerr"
	"github.com/ralph-run/ralph/internal/verifiedfile"
)

// ReadHandler returns the tools.Handler for "read_file".
func ReadHandler() tools.Handler {
	return func(call models.ToolCall) (string, bool) {
		path := tools.Arg(call, "path")
		if path == "" {
			return toolerr.Format(toolerr.KindOperationDenied, "reason", "missing path argument"), false
		}

		f, err := verifiedfile.GetFD(path, models.ModeRead)
		if err != nil {
			return errEnvelope(err), false
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return toolerr.Format(toolerr.KindOperationDenied, "reason", err.Error()), false
		}
		return fmt.Sprintf("{%q:%q}", "content", string(data)), true
	}
}

// WriteHandler returns the tools.Handler for "write_file".
func WriteHandler() tools.Handler {
	return func(call models.ToolCall) (string, bool) {
		path := tools.Arg(call, "path")
		if path == "" {
			return toolerr.Format(toolerr.KindOperationDenied, "reason", "missing path argument"), false
		}
		content := tools.Arg(call, "content")

		f, err := verifiedfile.GetFD(path, models.ModeWrite)
		if err != nil {
			return errEnvelope(err), false
		}
		defer f.Close()

		n, err := f.WriteString(content)
		if err != nil {
			return toolerr.Format(toolerr.KindOperationDenied, "reason", err.Error()), false
		}
		return fmt.Sprintf(`{"bytes_written":%d}`, n), true
	}
}

func errEnvelope(err error) string {
	if kind, ok := toolerr.FromFsguardErr(err); ok {
		return toolerr.Format(kind)
	}
	return toolerr.Format(toolerr.KindOperationDenied, "reason", err.Error())
}
