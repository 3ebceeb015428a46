// Package pytool implements the registry entry backing the "python" gate
// category: a sandboxed script-execution tool. No true CPython embedding
// appears anywhere in the retrieved pack, so this uses go.starlark.net —
// a teacher dependency already present for exactly this purpose — as the
// sandboxed scripting engine: Starlark is a Python dialect by design
// (restricted, deterministic, no ambient I/O) rather than a different
// language wearing Python's syntax, which is why it is the nearest real
// substitute in the corpus rather than a stdlib-only interpreter (see
// DESIGN.md).
package pytool

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/ralph-run/ralph/internal/models"
	"github.com/ralph-run/ralph/internal/tools"
	"github.com/ralph-run/ralph/internal/toolerr"
)

// Handler returns the tools.Handler for the "python" tool: it evaluates
// the call's "code" argument as a Starlark program in a predeclared
// environment carrying only pure builtins (no open, no network, no
// subprocess — struct/print are the extent of the ambient surface) and
// reports the value bound to a top-level "result" name, or the
// concatenation of anything printed if no such binding exists.
func Handler() tools.Handler {
	return func(call models.ToolCall) (string, bool) {
		code := tools.Arg(call, "code")
		if code == "" {
			return toolerr.Format(toolerr.KindOperationDenied, "reason", "missing code argument"), false
		}

		var out strings.Builder
		thread := &starlark.Thread{
			Name:  "ralph-pytool",
			Print: func(_ *starlark.Thread, msg string) { out.WriteString(msg); out.WriteByte('\n') },
		}

		predeclared := starlark.StringDict{
			"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		}

		globals, err := starlark.ExecFile(thread, call.ID+".star", code, predeclared)
		if err != nil {
			if evalErr, ok := err.(*starlark.EvalError); ok {
				return toolerr.Format(toolerr.KindOperationDenied, "reason", evalErr.Backtrace()), false
			}
			return toolerr.Format(toolerr.KindOperationDenied, "reason", err.Error()), false
		}

		if result, ok := globals["result"]; ok {
			return fmt.Sprintf(`{"result":%s}`, result.String()), true
		}
		if out.Len() > 0 {
			return fmt.Sprintf("{%q:%q}", "stdout", out.String()), true
		}
		return `{"result":null}`, true
	}
}
