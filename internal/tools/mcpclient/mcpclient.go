// Package mcpclient implements the registry entry backing calls whose
// name carries the "mcp_" prefix gateconfig.Categorize recognizes: a thin
// wrapper around github.com/modelcontextprotocol/go-sdk (see DESIGN.md).
//
// One *mcp.ClientSession is kept per configured server name, connected
// lazily on first call and reused afterward; the mcp category has no
// per-call session semantics of its own, so the simplest correct
// lifetime is "connect once, reuse for the life of the process."
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ralph-run/ralph/internal/models"
	"github.com/ralph-run/ralph/internal/tools"
	"github.com/ralph-run/ralph/internal/toolerr"
)

// ServerSpec describes one configured MCP server: a command this process
// spawns and speaks the MCP stdio transport to.
type ServerSpec struct {
	Name    string
	Command string
	Args    []string
}

// Client lazily connects to each configured server and dispatches
// "mcp_<server>_<tool>"-named calls to it.
type Client struct {
	servers map[string]ServerSpec

	mu       sync.Mutex
	sessions map[string]*mcp.ClientSession
}

// New builds a Client from the configured server list.
func New(servers []ServerSpec) *Client {
	byName := make(map[string]ServerSpec, len(servers))
	for _, s := range servers {
		byName[s.Name] = s
	}
	return &Client{servers: byName, sessions: make(map[string]*mcp.ClientSession)}
}

// Handler returns the tools.Handler dispatching an "mcp_<server>_<tool>"
// call to the right configured server's CallTool.
func (c *Client) Handler() tools.Handler {
	return func(call models.ToolCall) (string, bool) {
		server, toolName, err := splitName(call.Name)
		if err != nil {
			return toolerr.Format(toolerr.KindOperationDenied, "reason", err.Error()), false
		}

		session, err := c.sessionFor(server)
		if err != nil {
			return toolerr.Format(toolerr.KindOperationDenied, "reason", err.Error()), false
		}

		var args map[string]any
		if call.ArgumentsJSON != "" {
			if err := json.Unmarshal([]byte(call.ArgumentsJSON), &args); err != nil {
				return toolerr.Format(toolerr.KindOperationDenied, "reason", "invalid arguments json"), false
			}
		}

		result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		})
		if err != nil {
			return toolerr.Format(toolerr.KindOperationDenied, "reason", err.Error()), false
		}

		out, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			return toolerr.Format(toolerr.KindOperationDenied, "reason", "failed to encode mcp result"), false
		}
		return string(out), !result.IsError
	}
}

func (c *Client) sessionFor(server string) (*mcp.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[server]; ok {
		return s, nil
	}

	spec, ok := c.servers[server]
	if !ok {
		return nil, fmt.Errorf("mcp server %q not configured", server)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "ralph", Version: "0.1.0"}, nil)
	transport := &mcp.CommandTransport{Command: exec.Command(spec.Command, spec.Args...)}
	session, err := client.Connect(context.Background(), transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to mcp server %q: %w", server, err)
	}

	c.sessions[server] = session
	return session, nil
}

// splitName parses "mcp_<server>_<tool>" into its two parts.
func splitName(callName string) (server, toolName string, err error) {
	rest, ok := strings.CutPrefix(callName, "mcp_")
	if !ok {
		return "", "", fmt.Errorf("not an mcp-prefixed tool name: %s", callName)
	}
	parts := strings.SplitN(rest, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected mcp_<server>_<tool>, got %s", callName)
	}
	return parts[0], parts[1], nil
}
