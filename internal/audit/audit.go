// Package audit implements an optional sqlite-backed decision log: every
// approval verdict the Approval Engine (C10) reaches is recorded as one
// row, so a user can later ask "why was this allowed" without relying on
// scrollback.
//
// Generalized from an append-only text log (one line per decision under
// the user's config dir) to structured rows via modernc.org/sqlite, since
// the approval/allowlist state itself is deliberately kept in memory (see
// DESIGN.md).
package audit

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	_ "modernc.org/sqlite"

	"github.com/ralph-run/ralph/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	tool_name TEXT NOT NULL,
	category TEXT NOT NULL,
	result TEXT NOT NULL,
	arguments_summary TEXT NOT NULL
);`

// Log wraps one sqlite connection; Close when the process exits.
type Log struct {
	db *sql.DB
}

// Open creates (or reuses) the sqlite file at path and ensures the
// decisions table exists.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migrate schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the underlying sqlite connection.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends one decision row. argumentsSummary is expected to
// already be truncated by the caller (see Summarize) rather than
// re-deriving a limit here.
func (l *Log) Record(call models.ToolCall, category models.GateCategory, result models.ApprovalResult, argumentsSummary string) error {
	_, err := l.db.Exec(
		`INSERT INTO decisions (ts, tool_name, category, result, arguments_summary) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), call.Name, string(category), string(result), argumentsSummary,
	)
	return err
}

// Recent returns the most recent n decision rows, newest first — used by
// a "why was this allowed" diagnostic command.
func (l *Log) Recent(n int) ([]Decision, error) {
	rows, err := l.db.Query(
		`SELECT ts, tool_name, category, result, arguments_summary FROM decisions ORDER BY id DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.Timestamp, &d.ToolName, &d.Category, &d.Result, &d.ArgumentsSummary); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Decision is one row read back from Recent.
type Decision struct {
	Timestamp        string
	ToolName         string
	Category         string
	Result           string
	ArgumentsSummary string
}

// Summarize truncates s to 200 characters before it's written to the
// decision log.
func Summarize(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

// redactedFields lists the argument keys never worth writing to a
// decision log even truncated: file contents and anything that looks
// like a credential.
var redactedFields = []string{"content", "password", "token", "secret", "api_key"}

// Redact blanks known-sensitive fields out of a tool call's raw
// arguments JSON before it reaches Summarize/Record, using sjson's
// in-place path mutation rather than a full unmarshal-mutate-remarshal
// round trip. Malformed JSON is returned unchanged — Record still wants
// something to log even if it can't be parsed.
func Redact(argumentsJSON string) string {
	out := argumentsJSON
	for _, field := range redactedFields {
		if !gjson.Get(out, field).Exists() {
			continue
		}
		redacted, err := sjson.Set(out, field, "[redacted]")
		if err != nil {
			continue
		}
		out = redacted
	}
	return out
}
