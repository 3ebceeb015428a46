// Package userinput implements the "request_user_input" tool: a tool
// call that presents up to four multiple-choice questions to the
// interactive user and returns their answers as the tool result,
// exercising the Gate Prompter's (C9) batch UI for a purpose other than
// approval.
//
// Validation requires 1-4 questions, each with a non-empty
// id/question/options list, answered via a direct blocking read on the
// prompter.
package userinput

import (
	"encoding/json"
	"fmt"

	"github.com/ralph-run/ralph/internal/models"
	"github.com/ralph-run/ralph/internal/prompter"
	"github.com/ralph-run/ralph/internal/tools"
	"github.com/ralph-run/ralph/internal/toolerr"
)

// Question is one multiple-choice prompt within a request_user_input call.
type Question struct {
	ID       string   `json:"id"`
	Header   string   `json:"header,omitempty"`
	Question string   `json:"question"`
	IsOther  bool     `json:"is_other,omitempty"`
	Options  []Option `json:"options"`
}

// Option is one selectable answer for a Question.
type Option struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

type requestArgs struct {
	Questions []Question `json:"questions"`
}

// Answer is one question's chosen option: Label is the selected option's
// label, or "" when no option was selected. Handler offers no free-text
// entry and never fills Other.
type Answer struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Other  string `json:"other,omitempty"`
}

// Handler returns the tools.Handler for "request_user_input". p is nil
// on a non-interactive process, in which case every call is rejected
// rather than hanging forever waiting for a terminal that doesn't exist.
func Handler(p *prompter.Prompter) tools.Handler {
	return func(call models.ToolCall) (string, bool) {
		questions, err := parseArgs(call.ArgumentsJSON)
		if err != nil {
			return toolerr.Format(toolerr.KindOperationDenied, "reason", err.Error()), false
		}
		if p == nil {
			return toolerr.Format(toolerr.KindNonInteractiveGate), false
		}

		answers := make([]Answer, len(questions))
		for i, q := range questions {
			rows := make([]prompter.BatchRow, len(q.Options))
			for j, opt := range q.Options {
				rows[j] = prompter.BatchRow{Name: opt.Label, Description: opt.Description, Status: ' '}
			}
			out := p.PromptBatch(rows)
			switch {
			case out.Aborted:
				return toolerr.Format(toolerr.KindAborted), false
			case out.InspectIdx >= 1 && out.InspectIdx <= len(q.Options):
				answers[i] = Answer{ID: q.ID, Label: q.Options[out.InspectIdx-1].Label}
			default:
				// AllowAll/DenyAll don't map onto a question's answer set;
				// treat either as "no selection made" for this question.
				answers[i] = Answer{ID: q.ID}
			}
		}

		payload, err := json.Marshal(answers)
		if err != nil {
			return toolerr.Format(toolerr.KindOperationDenied, "reason", "failed to encode answers"), false
		}
		return string(payload), true
	}
}

// parseArgs validates the request shape and limits: 1-4 questions, each
// with a non-empty id, question text, and at least one option.
func parseArgs(argumentsJSON string) ([]Question, error) {
	var args requestArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(args.Questions) == 0 {
		return nil, fmt.Errorf("questions array must not be empty")
	}
	if len(args.Questions) > 4 {
		return nil, fmt.Errorf("at most 4 questions allowed, got %d", len(args.Questions))
	}
	for i, q := range args.Questions {
		if q.ID == "" {
			return nil, fmt.Errorf("question %d: id is required", i+1)
		}
		if q.Question == "" {
			return nil, fmt.Errorf("question %d: question text is required", i+1)
		}
		if len(q.Options) == 0 {
			return nil, fmt.Errorf("question %d: options must not be empty", i+1)
		}
		for j, opt := range q.Options {
			if opt.Label == "" {
				return nil, fmt.Errorf("question %d, option %d: label is required", i+1, j+1)
			}
		}
	}
	return args.Questions, nil
}
