// Package toolerr implements the Error Formatter (C14): the stable JSON
// error taxonomy every gated tool call failure is rendered through, so a
// model sees the same {"error": "<kind>", ...} shape regardless of which
// component produced the failure.
//
// A small hand-built JSON envelope on failure, generalized into one
// shared kind table plus its own escape routine, since encoding/json's
// own Marshal would re-order fields rather than preserve the fixed key
// order this taxonomy commits to.
package toolerr

import (
	"strconv"
	"strings"

	"github.com/ralph-run/ralph/internal/fsguard"
	"github.com/ralph-run/ralph/internal/models"
)

// Kind is one of the stable taxonomy entries this package names.
type Kind string

const (
	KindInterrupted        Kind = "interrupted"
	KindOperationDenied    Kind = "operation_denied"
	KindProtectedFile      Kind = "protected_file"
	KindRateLimited        Kind = "rate_limited"
	KindNonInteractiveGate Kind = "non_interactive_gate"
	KindDuplicateSubagent  Kind = "duplicate_subagent"
	KindInvalidPath        Kind = "invalid_path"
	KindInodeMismatch      Kind = "inode_mismatch"
	KindParentChanged      Kind = "parent_changed"
	KindSymlinkRejected    Kind = "symlink_rejected"
	KindAlreadyExists      Kind = "already_exists"
	KindAborted            Kind = "aborted"
)

// Format renders {"error": "<kind>"} plus any extra key/value pairs, each
// value escaped and quoted as a JSON string. Extras must be supplied in
// pairs (key, value, key, value, ...); an odd count drops the trailer.
func Format(kind Kind, extras ...string) string {
	var b strings.Builder
	b.WriteString(`{"error":"`)
	b.WriteString(string(kind))
	b.WriteByte('"')
	for i := 0; i+1 < len(extras); i += 2 {
		b.WriteString(`,"`)
		b.WriteString(escape(extras[i]))
		b.WriteString(`":"`)
		b.WriteString(escape(extras[i+1]))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

// FromApprovalResult maps a resolved models.ApprovalResult (anything
// other than Allowed/AllowedAlways) to the error taxonomy's JSON body,
// for the batch executor to hand back as a tool result.
func FromApprovalResult(result models.ApprovalResult, retryAfterSeconds int) string {
	switch result {
	case models.ResultDenied:
		return Format(KindOperationDenied)
	case models.ResultRateLimited:
		return Format(KindRateLimited, "retry_after_seconds", strconv.Itoa(retryAfterSeconds))
	case models.ResultNonInteractiveDenied:
		return Format(KindNonInteractiveGate)
	case models.ResultAborted:
		return Format(KindAborted)
	default:
		return Format(KindOperationDenied)
	}
}

// FromFsguardErr maps one of fsguard's sentinel verification errors to
// the matching taxonomy entry; ok is false for any other error (the
// caller should fall back to a generic operation_denied).
func FromFsguardErr(err error) (kind Kind, ok bool) {
	switch {
	case err == fsguard.ErrInvalidPath:
		return KindInvalidPath, true
	case err == fsguard.ErrInodeMismatch:
		return KindInodeMismatch, true
	case err == fsguard.ErrParentChanged:
		return KindParentChanged, true
	case err == fsguard.ErrSymlinkRejected:
		return KindSymlinkRejected, true
	case err == fsguard.ErrAlreadyExists:
		return KindAlreadyExists, true
	default:
		return "", false
	}
}

// escape implements a fixed escape table: the seven short escapes
// (\" \\ \b \f \n \r \t), and \u00XX for every other control byte below
// 0x20.
func escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 {
				const hex = "0123456789abcdef"
				b.WriteString(`\u00`)
				b.WriteByte(hex[c>>4])
				b.WriteByte(hex[c&0xf])
			} else {
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}
