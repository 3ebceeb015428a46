// Package verifiedfile implements the Verified-File Context (C12): the
// single slot that carries an approval step's captured-and-verified
// ApprovedPath into the tool handler that actually opens the file, so the
// handler never re-resolves a user-supplied path itself and never races
// against a TOCTOU swap between approval and open.
//
// This is deliberately NOT a context.Context value despite the similar
// name — the batch executor runs calls sequentially, never concurrently
// within one batch, so a package-level slot guarded by a mutex gives the
// same "set before dispatch, read during dispatch, clear after"
// discipline as a context value would, without threading a
// context.Context through every tool handler signature.
package verifiedfile

import (
	"os"
	"sync"

	"github.com/ralph-run/ralph/internal/fsguard"
	"github.com/ralph-run/ralph/internal/models"
)

type slot struct {
	mu       sync.Mutex
	approved *models.ApprovedPath
	mode     models.VerifiedFileMode
	set      bool
}

var current slot

// Set installs approved as the pre-verified path for the next GetFD call.
// The batch executor calls this immediately before dispatching a tool
// call whose approval captured a path, and Clear immediately after.
func Set(approved models.ApprovedPath, mode models.VerifiedFileMode) {
	current.mu.Lock()
	defer current.mu.Unlock()
	a := approved
	current.approved = &a
	current.mode = mode
	current.set = true
}

// Clear empties the slot; idempotent, safe to call even when nothing was
// set (e.g. a tool call whose category never goes through file approval).
func Clear() {
	current.mu.Lock()
	defer current.mu.Unlock()
	current.approved = nil
	current.set = false
}

// GetResolvedPath reports the resolved path presently held in the slot,
// or "" if nothing is set.
func GetResolvedPath() string {
	current.mu.Lock()
	defer current.mu.Unlock()
	if !current.set || current.approved == nil {
		return ""
	}
	return current.approved.ResolvedPath
}

// GetFD returns an already-verified *os.File for requestedPath. When the
// slot holds an ApprovedPath matching requestedPath (by either the user-
// supplied or resolved form, since a handler may have normalized it
// differently than the approval step did), it reuses that verification
// via fsguard.VerifyAndOpen instead of re-resolving the path itself. When
// the slot is empty — gates disabled, or a tool category that never goes
// through file approval — it falls back to a plain os.OpenFile.
func GetFD(requestedPath string, mode models.VerifiedFileMode) (*os.File, error) {
	current.mu.Lock()
	approved := current.approved
	set := current.set
	slotMode := current.mode
	current.mu.Unlock()

	if set && approved != nil && (approved.UserPath == requestedPath || approved.ResolvedPath == requestedPath) {
		return fsguard.VerifyAndOpen(*approved, slotMode)
	}

	return plainOpen(requestedPath, mode)
}

func plainOpen(path string, mode models.VerifiedFileMode) (*os.File, error) {
	switch mode {
	case models.ModeWrite:
		return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	case models.ModeAppend:
		return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	case models.ModeReadWrite:
		return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	default:
		return os.Open(path)
	}
}
