package pytool

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ralph-run/ralph/internal/models"
)

func TestHandlerReturnsResultBinding(t *testing.T) {
	h := Handler()
	call := models.ToolCall{ID: "c1", Name: "python", ArgumentsJSON: `{"code":"result = 1 + 2"}`}
	out, ok := h(call)
	assert.True(t, ok)
	assert.JSONEq(t, `{"result":3}`, out)
}

func TestHandlerCapturesPrintedOutput(t *testing.T) {
	h := Handler()
	call := models.ToolCall{ID: "c1", Name: "python", ArgumentsJSON: `{"code":"print('hi')"}`}
	out, ok := h(call)
	assert.True(t, ok)
	assert.Contains(t, out, "hi")
}

func TestHandlerRejectsMissingCode(t *testing.T) {
	h := Handler()
	call := models.ToolCall{ID: "c1", Name: "python", ArgumentsJSON: `{}`}
	_, ok := h(call)
	assert.False(t, ok)
}

func TestHandlerReportsEvalError(t *testing.T) {
	h := Handler()
	call := models.ToolCall{ID: "c1", Name: "python", ArgumentsJSON: `{"code":"1/0"}`}
	out, ok := h(call)
	assert.False(t, ok)
	assert.Contains(t, out, "error")
	_ = out
}
