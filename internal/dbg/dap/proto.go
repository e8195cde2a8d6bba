package dap

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const maxMessageSize = 16 << 20

type message interface {
	seq() int
}

type baseMessage struct {
	Seq  int    `json:"seq"`
	Type string `json:"type"`
}

func (m *baseMessage) seq() int { return m.Seq }

type request struct {
	baseMessage

	Command   string          `json:"command"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type event struct {
	baseMessage

	Event string         `json:"event"`
	Body  map[string]any `json:"body,omitempty"`
}

type response struct {
	baseMessage

	RequestSeq int            `json:"request_seq"`
	Success    bool           `json:"success"`
	Command    string         `json:"command"`
	Message    string         `json:"message,omitempty"`
	Body       map[string]any `json:"body,omitempty"`
}

type errorMessage struct {
	ID            int               `json:"id"`
	Format        string            `json:"format"`
	Variables     map[string]string `json:"variables,omitempty"`
	SendTelemetry bool              `json:"sendTelemetry,omitempty"`
	ShowUser      bool              `json:"showUser"`
	URL           string            `json:"url,omitempty"`
	URLLabel      string            `json:"urlLabel,omitempty"`
}

type launchArguments struct {
	Program     string   `json:"program"`
	Args        []string `json:"args,omitempty"`
	StopOnEntry bool     `json:"stopOnEntry,omitempty"`
}

type attachArguments struct {
	ProcessID int `json:"processId"`
}

type instructionBreakpoint struct {
	InstructionReference string `json:"instructionReference"`
	Offset               int64  `json:"offset,omitempty"`
}

type setInstructionBreakpointsArguments struct {
	Breakpoints []instructionBreakpoint `json:"breakpoints"`
}

// address returns the static address the breakpoint refers to.
func (b instructionBreakpoint) address() (uint64, error) {
	base, err := strconv.ParseUint(b.InstructionReference, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid instruction reference %q", b.InstructionReference)
	}
	return base + uint64(b.Offset), nil
}

func readHeader(r *bufio.Reader) (int64, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	// blank line ends the header
	if _, err := r.ReadBytes('\n'); err != nil {
		return 0, err
	}
	arr := strings.Split(header, ":")
	if len(arr) != 2 {
		return 0, fmt.Errorf("invalid header: %s", header)
	}
	cl := strings.TrimSpace(arr[0])
	if !strings.EqualFold(cl, "Content-Length") {
		return 0, fmt.Errorf("invalid header: %s", header)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(arr[1]), 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > maxMessageSize {
		return 0, fmt.Errorf("invalid content length %d", n)
	}
	return n, nil
}

func readMessage(r *bufio.Reader) (message, error) {
	n, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	var m baseMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	switch m.Type {
	case "request":
		return readRequest(body)
	case "event":
		return readEvent(body)
	case "response":
		return readResponse(body)
	default:
		return nil, fmt.Errorf("unknown message type: %s", body)
	}
}

func writeMessage(w io.Writer, m message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(fmt.Sprintf("Content-Length: %d\r\n\r\n", len(b)))); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func readRequest(body []byte) (message, error) {
	var m request
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func readEvent(body []byte) (message, error) {
	var m event
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func readResponse(body []byte) (message, error) {
	var m response
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// seqCounter numbers the messages one session sends.
type seqCounter struct {
	n int
}

func (c *seqCounter) next() int {
	c.n++
	return c.n
}

func (c *seqCounter) newEvent(name string, info map[string]any) *event {
	return &event{
		baseMessage: baseMessage{
			Seq:  c.next(),
			Type: "event",
		},
		Event: name,
		Body:  info,
	}
}

func (c *seqCounter) newResponse(req *request, result map[string]any) *response {
	return &response{
		baseMessage: baseMessage{
			Seq:  c.next(),
			Type: "response",
		},
		RequestSeq: req.Seq,
		Success:    true,
		Command:    req.Command,
		Body:       result,
	}
}

func (c *seqCounter) newErrResponse(req message, id int, cmd, msg, details string, show bool) *response {
	e := errorMessage{
		ID:       id,
		Format:   details,
		ShowUser: show,
	}
	return &response{
		baseMessage: baseMessage{
			Seq:  c.next(),
			Type: "response",
		},
		RequestSeq: req.seq(),
		Success:    false,
		Command:    cmd,
		Message:    msg,
		Body:       map[string]any{"error": e},
	}
}
