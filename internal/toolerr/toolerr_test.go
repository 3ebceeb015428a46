package toolerr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ralph-run/ralph/internal/fsguard"
	"github.com/ralph-run/ralph/internal/models"
)

func TestFormatBasic(t *testing.T) {
	assert.Equal(t, `{"error":"aborted"}`, Format(KindAborted))
}

func TestFormatWithExtras(t *testing.T) {
	got := Format(KindRateLimited, "retry_after_seconds", "15")
	assert.JSONEq(t, `{"error":"rate_limited","retry_after_seconds":"15"}`, got)
}

func TestEscapeCoversControlAndBackslashChars(t *testing.T) {
	got := Format(KindProtectedFile, "path", "C:\\secrets\\.env\nline2\ttab\x01")
	assert.Contains(t, got, `\\secrets`)
	assert.Contains(t, got, `\n`)
	assert.Contains(t, got, `\t`)
	assert.Contains(t, got, `\u0001`)
}

func TestFromApprovalResult(t *testing.T) {
	assert.Equal(t, `{"error":"operation_denied"}`, FromApprovalResult(models.ResultDenied, 0))
	assert.JSONEq(t, `{"error":"rate_limited","retry_after_seconds":"42"}`, FromApprovalResult(models.ResultRateLimited, 42))
	assert.Equal(t, `{"error":"non_interactive_gate"}`, FromApprovalResult(models.ResultNonInteractiveDenied, 0))
	assert.Equal(t, `{"error":"aborted"}`, FromApprovalResult(models.ResultAborted, 0))
}

func TestFromFsguardErr(t *testing.T) {
	kind, ok := FromFsguardErr(fsguard.ErrInodeMismatch)
	assert.True(t, ok)
	assert.Equal(t, KindInodeMismatch, kind)

	_, ok = FromFsguardErr(assertUnknownErr{})
	assert.False(t, ok)
}

type assertUnknownErr struct{}

func (assertUnknownErr) Error() string { return "unknown" }
