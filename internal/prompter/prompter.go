// Package prompter implements the Gate Prompter (C9): the TTY-owning
// single/details/batch UI that displays a pending call, reads single raw
// keypresses, and reports an Outcome (single mode) or a BatchOutcome
// (batch mode).
//
// Raw single-byte, no-echo reads use golang.org/x/term; line rendering
// uses github.com/charmbracelet/lipgloss for batch mode's status-column
// styling, kept deliberately thin rather than reaching for a full
// alternate-screen event loop — that model does not fit C9's "read one
// raw byte, write to stderr, return" contract (see DESIGN.md).
package prompter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/ralph-run/ralph/internal/models"
)

var (
	styleDenied  = lipgloss.NewStyle().Faint(true)
	styleAllowed = lipgloss.NewStyle().Bold(true)
	stylePrompt  = lipgloss.NewStyle().Bold(true)
)

// Prompter owns the terminal for the lifetime of one prompt. Output goes
// to stderr only; stdout is reserved for machine-readable events.
type Prompter struct {
	in  *os.File
	out io.Writer
	fd  int
}

// New constructs a Prompter, returning ok=false if stdin is not a TTY.
func New() (*Prompter, bool) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, false
	}
	return &Prompter{in: os.Stdin, out: os.Stderr, fd: fd}, true
}

// Outcome is a decoded single keypress result for the single-prompt mode.
type Outcome int

const (
	OutcomeAllow Outcome = iota
	OutcomeDeny
	OutcomeAllowAlways
	OutcomeDetails
	OutcomeAborted
)

// PromptSingle renders name/description and reads one of y/n/a/? until a
// valid key or an abort condition is seen. originPID is 0 for the root
// process's own calls and the subagent's PID when this prompt was
// forwarded through the approval channel (C11).
func (p *Prompter) PromptSingle(name, description string, originPID int) Outcome {
	for {
		p.render(name, description, originPID)
		key, err := p.readKey()
		if err != nil {
			return OutcomeAborted
		}
		switch key {
		case 'y':
			return OutcomeAllow
		case 'n':
			return OutcomeDeny
		case 'a':
			return OutcomeAllowAlways
		case '?':
			return OutcomeDetails
		case 3, 4: // Ctrl-C, Ctrl-D
			return OutcomeAborted
		default:
			fmt.Fprintln(p.out, "invalid key, try again")
			continue
		}
	}
}

func (p *Prompter) render(name, description string, originPID int) {
	header := stylePrompt.Render(fmt.Sprintf("approve %s?", name))
	if originPID != 0 {
		header += fmt.Sprintf(" (from subagent pid %d)", originPID)
	}
	fmt.Fprintln(p.out, header)
	fmt.Fprintln(p.out, description)
	fmt.Fprintln(p.out, "[y]es  [n]o  [a]lways  [?]details")
}

// Details renders the full arguments JSON, resolved path, and existence,
// then waits for any key to return.
func (p *Prompter) Details(argumentsJSON, resolvedPath string, exists bool) error {
	fmt.Fprintln(p.out, "arguments:", argumentsJSON)
	if resolvedPath != "" {
		fmt.Fprintf(p.out, "resolved path: %s (exists: %v)\n", resolvedPath, exists)
	}
	fmt.Fprintln(p.out, "press any key to continue")
	_, err := p.readKey()
	return err
}

// BatchRow is one line of the numbered batch view.
type BatchRow struct {
	Name        string
	Description string
	Status      rune // ' ' pending, '+' allowed, '-' denied
}

// BatchOutcome is the batch prompter's result: either a blanket decision
// ("y"/"n" for all remaining) or a single-row inspection request.
type BatchOutcome struct {
	AllowAll    bool
	DenyAll     bool
	InspectIdx  int // 1-based; 0 means no inspection requested
	Aborted     bool
}

// PromptBatch renders the numbered list and reads y / n / 1..N, supporting
// multi-digit indices via the timed-read variant.
func (p *Prompter) PromptBatch(rows []BatchRow) BatchOutcome {
	for {
		p.renderBatch(rows)
		digits, key, err := p.readKeyOrDigits()
		if err != nil {
			return BatchOutcome{Aborted: true}
		}
		if digits != "" {
			var idx int
			fmt.Sscanf(digits, "%d", &idx)
			if idx >= 1 && idx <= len(rows) {
				return BatchOutcome{InspectIdx: idx}
			}
			fmt.Fprintln(p.out, "index out of range, try again")
			continue
		}
		switch key {
		case 'y':
			return BatchOutcome{AllowAll: true}
		case 'n':
			return BatchOutcome{DenyAll: true}
		case 3, 4:
			return BatchOutcome{Aborted: true}
		default:
			fmt.Fprintln(p.out, "invalid key, try again")
		}
	}
}

func (p *Prompter) renderBatch(rows []BatchRow) {
	fmt.Fprintln(p.out, stylePrompt.Render("pending tool calls:"))
	for i, r := range rows {
		status := string(r.Status)
		line := fmt.Sprintf("%3d [%s] %s — %s", i+1, status, r.Name, r.Description)
		switch r.Status {
		case '+':
			line = styleAllowed.Render(line)
		case '-':
			line = styleDenied.Render(line)
		}
		fmt.Fprintln(p.out, line)
	}
	fmt.Fprintln(p.out, "[y] allow all remaining  [n] deny all remaining  [1-N] inspect")
}

// readKey puts the terminal into raw mode, reads exactly one byte, and
// always restores the prior mode before returning — including on error,
// so a prompter never leaves the user's shell in raw mode.
func (p *Prompter) readKey() (byte, error) {
	oldState, err := term.MakeRaw(p.fd)
	if err != nil {
		return 0, err
	}
	defer term.Restore(p.fd, oldState)

	buf := make([]byte, 1)
	n, err := p.in.Read(buf)
	if err != nil || n == 0 {
		if err == io.EOF {
			return 0, io.EOF
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}
	return buf[0], nil
}

// readKeyOrDigits implements a timed multi-digit read needed for "1..N"
// batch entry: it accepts consecutive digit bytes within a short window,
// or a single non-digit command key immediately.
func (p *Prompter) readKeyOrDigits() (digits string, key byte, err error) {
	oldState, rerr := term.MakeRaw(p.fd)
	if rerr != nil {
		return "", 0, rerr
	}
	defer term.Restore(p.fd, oldState)

	reader := bufio.NewReader(p.in)
	var b [1]byte

	n, rerr := reader.Read(b[:])
	if rerr != nil || n == 0 {
		if rerr == nil {
			rerr = io.ErrUnexpectedEOF
		}
		return "", 0, rerr
	}
	if !isDigit(b[0]) {
		return "", b[0], nil
	}

	var sb strings.Builder
	sb.WriteByte(b[0])
	for {
		type readResult struct {
			b   byte
			err error
		}
		resultCh := make(chan readResult, 1)
		go func() {
			var bb [1]byte
			n, err := reader.Read(bb[:])
			if n == 0 && err == nil {
				err = io.ErrUnexpectedEOF
			}
			resultCh <- readResult{bb[0], err}
		}()

		select {
		case res := <-resultCh:
			if res.err != nil || !isDigit(res.b) {
				return sb.String(), 0, nil
			}
			sb.WriteByte(res.b)
		case <-time.After(400 * time.Millisecond):
			return sb.String(), 0, nil
		}
	}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
