// Package tools implements the Tool Registry (C15): a name-keyed set of
// handlers the Batch Executor (C13) dispatches an already-approved call
// into. Every entry receives a models.ToolCall and returns a
// (resultJSON string, success bool) pair — a single function per tool
// rather than a per-handler interface, since this module's tool set is
// fixed at startup rather than negotiated per-session.
package tools

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ralph-run/ralph/internal/models"
	"github.com/ralph-run/ralph/internal/toolerr"
)

// Handler is one registered tool's execution function.
type Handler func(call models.ToolCall) (resultJSON string, success bool)

// Registry is a name-keyed set of Handlers, plus an optional set of
// prefix-routed Handlers for tool families whose exact names aren't
// known until runtime configuration loads (mcp_<server>_<tool>,
// gateconfig.Categorize's own mcp_ prefix rule). It implements
// dispatch.Registry so it can be handed straight to dispatch.Executor.
type Registry struct {
	handlers map[string]Handler
	prefixes []prefixHandler
}

type prefixHandler struct {
	prefix string
	h      Handler
}

// NewRegistry builds an empty registry; call Register for each tool.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for an exact name.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// RegisterPrefix adds a handler for every call name starting with
// prefix — used for mcp_<server>_<tool> names, which the mcpclient
// package itself decomposes.
func (r *Registry) RegisterPrefix(prefix string, h Handler) {
	r.prefixes = append(r.prefixes, prefixHandler{prefix: prefix, h: h})
}

// Dispatch runs the handler registered for call.Name (exact match first,
// then the longest matching prefix), or returns an operation_denied
// envelope naming the unknown tool if none is registered — the registry
// never panics on an unrecognized name, since the model's tool list and
// this process's registered set can drift.
func (r *Registry) Dispatch(call models.ToolCall) (string, bool) {
	if h, ok := r.handlers[call.Name]; ok {
		return h(call)
	}
	var best *prefixHandler
	for i := range r.prefixes {
		p := &r.prefixes[i]
		if strings.HasPrefix(call.Name, p.prefix) && (best == nil || len(p.prefix) > len(best.prefix)) {
			best = p
		}
	}
	if best != nil {
		return best.h(call)
	}
	return toolerr.Format(toolerr.KindOperationDenied, "reason", "unknown_tool:"+call.Name), false
}

// Arg extracts a single string argument from a call's raw JSON, the same
// gjson-based lookup approval.filePathArg already uses, kept here so
// every handler shares one accessor instead of re-parsing JSON per field.
func Arg(call models.ToolCall, field string) string {
	return gjson.Get(call.ArgumentsJSON, field).String()
}
