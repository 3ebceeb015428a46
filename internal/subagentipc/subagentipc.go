// Package subagentipc implements the Approval Channel (C11): the pipe
// pair a spawned subagent uses to ask the process that owns the terminal
// for a prompt decision, including nested upward forwarding through a
// chain of subagents and per-request deadlines.
//
// Go doesn't expose a raw fork with descriptor inheritance directly; the
// idiomatic Go equivalent — and the one this package uses — is
// os.Pipe() plus exec.Cmd.ExtraFiles, which hands the child inherited,
// already-open file descriptors across exec without any shared-memory or
// socket setup. The parent side's "poll every child plus stdin" loop is
// implemented as one goroutine per child reading length-prefixed frames,
// funneled through a single buffered channel the Multiplexer's main loop
// selects on — the same observable contract (one request serviced at a
// time, no priority between children) as a real poll(2) loop, expressed
// with Go's own concurrency primitives instead.
package subagentipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ralph-run/ralph/internal/models"
)

// magic is a fixed 4-byte prefix identifying a valid frame, used for a
// length-prefixed scheme rather than ad-hoc null-terminated writes.
var magic = [4]byte{'R', 'G', 'A', '1'}

const maxFrameLen = 1 << 20 // 1 MiB; generous upper bound for a JSON frame.

// writeFrame writes magic + big-endian uint32 length + payload to w.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameLen {
		return fmt.Errorf("subagentipc: frame too large (%d bytes)", len(payload))
	}
	header := make([]byte, 8)
	copy(header[0:4], magic[:])
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads and validates one frame from r.
func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if header[0] != magic[0] || header[1] != magic[1] || header[2] != magic[2] || header[3] != magic[3] {
		return nil, errors.New("subagentipc: bad magic")
	}
	n := binary.BigEndian.Uint32(header[4:8])
	if n > maxFrameLen {
		return nil, fmt.Errorf("subagentipc: frame too large (%d bytes)", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ChildChannel is what a spawned subagent's GateConfig.ApprovalChannel
// points at: it implements models.ApprovalChannel by writing a request to
// the inherited write end and blocking for a matching response, honoring
// the request's own deadline.
type ChildChannel struct {
	reqWrite  *os.File
	respRead  *os.File
	parentDeadline time.Duration
}

// NewChildChannel wraps the two inherited pipe ends a spawned child finds
// on the file descriptors passed via exec.Cmd.ExtraFiles.
func NewChildChannel(reqWrite, respRead *os.File) *ChildChannel {
	return &ChildChannel{reqWrite: reqWrite, respRead: respRead, parentDeadline: 300 * time.Second}
}

// Forward serializes req (assigning a fresh request ID if unset and a
// 300s deadline), writes it, and blocks for the matching response. A
// timeout synthesizes a denial the child does not retry; a short read or
// EOF synthesizes an abort.
func (c *ChildChannel) Forward(req models.ApprovalRequest) (models.ApprovalResponse, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.DeadlineMS == 0 {
		req.DeadlineMS = c.parentDeadline.Milliseconds()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return models.ApprovalResponse{}, err
	}
	if err := writeFrame(c.reqWrite, payload); err != nil {
		return models.ApprovalResponse{Result: models.ResultDenied}, nil
	}

	deadline := time.Duration(req.DeadlineMS) * time.Millisecond
	c.respRead.SetReadDeadline(time.Now().Add(deadline))

	for {
		raw, err := readFrame(c.respRead)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return models.ApprovalResponse{RequestID: req.RequestID, Result: models.ResultDenied}, nil
			}
			return models.ApprovalResponse{RequestID: req.RequestID, Result: models.ResultAborted}, nil
		}

		var resp models.ApprovalResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return models.ApprovalResponse{RequestID: req.RequestID, Result: models.ResultAborted}, nil
		}
		if resp.RequestID != req.RequestID {
			// A response to some other (stale) request: discard it.
			continue
		}
		return resp, nil
	}
}

// ParentSide is what the process that spawned a child holds: the ends of
// the pipe pair it owns, plus the child's pid for prompt annotation.
type ParentSide struct {
	ReqRead   *os.File
	RespWrite *os.File
	ChildPID  int
}

// Spawn wires a fresh pipe pair into cmd's ExtraFiles before Start, the Go
// analog of a fork-time "child inherits req_wr + resp_rd" step. The
// returned ParentSide's fds must be registered with a Multiplexer
// after cmd.Start() succeeds.
func Spawn(cmd *exec.Cmd) (*ParentSide, error) {
	reqRead, reqWrite, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	respRead, respWrite, err := os.Pipe()
	if err != nil {
		reqRead.Close()
		reqWrite.Close()
		return nil, err
	}

	// Child inherits reqWrite + respRead; parent keeps reqRead + respWrite.
	cmd.ExtraFiles = append(cmd.ExtraFiles, reqWrite, respRead)

	if err := cmd.Start(); err != nil {
		reqRead.Close()
		reqWrite.Close()
		respRead.Close()
		respWrite.Close()
		return nil, err
	}

	// The parent's own copies of the child's ends are no longer needed
	// once the child process has them open.
	reqWrite.Close()
	respRead.Close()

	return &ParentSide{ReqRead: reqRead, RespWrite: respWrite, ChildPID: cmd.Process.Pid}, nil
}

// Handler decides the outcome for a forwarded request, annotated with the
// originating PID — the Approval Engine (C10), running on whichever
// process ultimately owns the terminal.
type Handler func(req models.ApprovalRequest, originPID int) models.ApprovalResponse

// incoming is one frame read off a child's request pipe, tagged with
// which ParentSide it arrived on.
type incoming struct {
	side *ParentSide
	req  models.ApprovalRequest
}

// Multiplexer serializes prompt handling across any number of registered
// children: exactly one incoming request is ever being handled at a time
// — only one prompt is ever visible at once — with no ordering guarantee
// between children beyond arrival.
type Multiplexer struct {
	mu       sync.Mutex
	sides    []*ParentSide
	incoming chan incoming
	handler  Handler
}

// NewMultiplexer builds an empty multiplexer; Register each ParentSide as
// children are spawned, then call Run to start servicing requests.
func NewMultiplexer(handler Handler) *Multiplexer {
	return &Multiplexer{incoming: make(chan incoming, 8), handler: handler}
}

// Register starts a reader goroutine for side's request pipe, funneling
// parsed requests into the multiplexer's shared channel, adding side to
// the set of children being polled.
func (m *Multiplexer) Register(side *ParentSide) {
	m.mu.Lock()
	m.sides = append(m.sides, side)
	m.mu.Unlock()

	go func() {
		for {
			payload, err := readFrame(side.ReqRead)
			if err != nil {
				return // child exited or closed its write end.
			}
			var req models.ApprovalRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				continue
			}
			m.incoming <- incoming{side: side, req: req}
		}
	}()
}

// Run services incoming requests until ctx-equivalent stop is closed;
// callers typically run this in its own goroutine alongside normal batch
// processing, so the multiplex loop runs concurrently with the rest of
// the executor.
func (m *Multiplexer) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case in := <-m.incoming:
			resp := m.handler(in.req, in.side.ChildPID)
			resp.RequestID = in.req.RequestID
			payload, err := json.Marshal(resp)
			if err != nil {
				continue
			}
			_ = writeFrame(in.side.RespWrite, payload)
		}
	}
}

// NestedForwarder lets a subagent that is itself spawning grandchildren
// forward any request it receives from them straight to its own parent
// channel rather than prompting locally — the nested-subagents case.
// Request IDs are rewritten per hop by ChildChannel.Forward
// (it assigns a fresh ID whenever the caller leaves RequestID empty);
// the grandchild-facing Multiplexer.Handler supplied by a mid-chain
// subagent should be this function, closed over its own upward channel.
func NestedForwarder(upward models.ApprovalChannel) Handler {
	return func(req models.ApprovalRequest, originPID int) models.ApprovalResponse {
		req.RequestID = ""
		req.OriginPID = originPID
		resp, err := upward.Forward(req)
		if err != nil {
			return models.ApprovalResponse{Result: models.ResultAborted}
		}
		return resp
	}
}
