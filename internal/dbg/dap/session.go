package dap

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"caesar.dev/cmd/internal/dbg/debugger"
	"caesar.dev/cmd/internal/dbg/logflags"
	"caesar.dev/cmd/internal/dbg/target"
)

// Session serves one DAP client and drives one debugging session.
type Session struct {
	rw       io.ReadWriter
	seq      seqCounter
	log      *logrus.Entry
	dbg      *debugger.Session
	handlers map[string]func(*request)

	stopOnEntry bool
	started     bool
	bps         map[uint64]bool
}

func NewSession(rw io.ReadWriter, cfg debugger.Config) *Session {
	s := &Session{
		rw:  rw,
		log: logflags.DAPLogger(),
		dbg: debugger.New(cfg),
		bps: make(map[uint64]bool),
	}
	s.handlers = map[string]func(*request){
		"initialize":                s.onInitialize,
		"launch":                    s.onLaunch,
		"attach":                    s.onAttach,
		"setInstructionBreakpoints": s.onSetInstructionBreakpoints,
		"configurationDone":         s.onConfigurationDone,
		"continue":                  s.onContinue,
		"threads":                   s.onThreads,
		"disconnect":                s.onDisconnect,
	}
	return s
}

func (s *Session) Serve() error {
	defer s.dbg.Close()

	r := bufio.NewReader(s.rw)
	for {
		m, err := readMessage(r)
		if err != nil {
			return err
		}
		req, ok := m.(*request)
		if !ok {
			s.replyErr(m, processingErr, "only requests are allowed", false)
			return io.EOF
		}

		fn, ok := s.handlers[req.Command]
		if !ok {
			s.replyErr(m, processingErr, "unknown command", false)
			continue
		}
		s.log.Debugf("request %d: %s", req.Seq, req.Command)
		fn(req)
		if req.Command == "disconnect" {
			return io.EOF
		}
	}
}

func (s *Session) onInitialize(req *request) {
	resp := map[string]any{
		"supportsConfigurationDoneRequest": true,
		"supportsInstructionBreakpoints":   true,
		"supportsFunctionBreakpoints":      false,
	}
	s.reply(s.seq.newResponse(req, resp))
	s.reply(s.seq.newEvent("initialized", nil))
}

func (s *Session) onLaunch(req *request) {
	var args launchArguments
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		s.replyErr(req, parseErr, err.Error(), false)
		return
	}
	if args.Program == "" {
		s.replyErr(req, launchErr, "no program specified", true)
		return
	}
	if _, err := s.dbg.Target(args.Program); err != nil {
		s.replyErr(req, launchErr, err.Error(), true)
		return
	}
	msg, err := s.dbg.Launch(args.Args)
	if err != nil {
		s.replyErr(req, launchErr, err.Error(), true)
		return
	}
	s.stopOnEntry = args.StopOnEntry
	s.reply(s.seq.newResponse(req, nil))
	s.output(msg)
}

func (s *Session) onAttach(req *request) {
	var args attachArguments
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		s.replyErr(req, parseErr, err.Error(), false)
		return
	}
	msg, err := s.dbg.Attach(args.ProcessID)
	if err != nil {
		s.replyErr(req, attachErr, err.Error(), true)
		return
	}
	s.stopOnEntry = true
	s.reply(s.seq.newResponse(req, nil))
	s.output(msg)
}

// onSetInstructionBreakpoints replaces the whole set of breakpoints.
func (s *Session) onSetInstructionBreakpoints(req *request) {
	var args setInstructionBreakpointsArguments
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		s.replyErr(req, parseErr, err.Error(), false)
		return
	}

	want := make(map[uint64]bool)
	result := make([]map[string]any, 0, len(args.Breakpoints))
	for _, bp := range args.Breakpoints {
		info := map[string]any{"instructionReference": bp.InstructionReference}
		result = append(result, info)

		addr, err := bp.address()
		if err != nil {
			info["verified"], info["message"] = false, err.Error()
			continue
		}
		want[addr] = true
		if s.bps[addr] {
			info["verified"] = true
			continue
		}
		if _, err := s.dbg.SetBreakpoint(addr); err != nil {
			info["verified"], info["message"] = false, err.Error()
			continue
		}
		s.bps[addr] = true
		info["verified"] = true
	}

	for addr := range s.bps {
		if want[addr] {
			continue
		}
		if _, err := s.dbg.RemoveBreakpoint(addr); err != nil {
			s.log.Warnf("remove breakpoint 0x%x: %v", addr, err)
		}
		delete(s.bps, addr)
	}
	s.reply(s.seq.newResponse(req, map[string]any{"breakpoints": result}))
}

func (s *Session) onConfigurationDone(req *request) {
	s.reply(s.seq.newResponse(req, nil))
	if s.started {
		return
	}
	s.started = true
	if s.stopOnEntry {
		s.report("entry")
		return
	}
	if _, err := s.dbg.State(); errors.Is(err, target.ErrNoTarget) {
		return
	}
	s.resume()
}

func (s *Session) onContinue(req *request) {
	if st, err := s.dbg.State(); err != nil || st != target.Stopped {
		msg := "target is not stopped"
		if err != nil {
			msg = err.Error()
		}
		s.replyErr(req, continueErr, msg, true)
		return
	}
	s.reply(s.seq.newResponse(req, map[string]any{"allThreadsContinued": true}))
	s.resume()
}

func (s *Session) onThreads(req *request) {
	threads := []map[string]any{}
	if pid := s.dbg.Pid(); pid != 0 {
		threads = append(threads, map[string]any{"id": pid, "name": fmt.Sprintf("process %d", pid)})
		if stop := s.dbg.LastStop(); stop != nil && stop.Thread != pid {
			threads = append(threads, map[string]any{"id": stop.Thread, "name": fmt.Sprintf("thread %d", stop.Thread)})
		}
	}
	s.reply(s.seq.newResponse(req, map[string]any{"threads": threads}))
}

func (s *Session) onDisconnect(req *request) {
	if err := s.dbg.Close(); err != nil {
		s.log.Warnf("disconnect: %v", err)
	}
	s.reply(s.seq.newResponse(req, nil))
}

func (s *Session) resume() {
	msg, err := s.dbg.Resume()
	if err != nil {
		s.output("Error: " + err.Error())
		return
	}
	s.output(msg)
	s.report("")
}

// report tells the client where the target is now. reason overrides the
// reason derived from the last stop.
func (s *Session) report(reason string) {
	st, err := s.dbg.State()
	if err != nil {
		return
	}
	switch st {
	case target.Exited:
		code, _ := s.dbg.ExitStatus()
		s.reply(s.seq.newEvent("exited", map[string]any{"exitCode": code}))
		s.reply(s.seq.newEvent("terminated", nil))
	case target.Stopped:
		body := map[string]any{"allThreadsStopped": true}
		if stop := s.dbg.LastStop(); stop != nil {
			body["threadId"] = stop.Thread
			body["description"] = stop.Reason.String()
			if reason == "" {
				reason = "exception"
				if stop.Breakpoint {
					reason = "instruction breakpoint"
				}
			}
		}
		body["reason"] = reason
		s.reply(s.seq.newEvent("stopped", body))
	}
}

func (s *Session) output(msg string) {
	if msg == "" {
		return
	}
	s.reply(s.seq.newEvent("output", map[string]any{
		"category": "console",
		"output":   msg + "\n",
	}))
}

func (s *Session) reply(m message) {
	if err := writeMessage(s.rw, m); err != nil {
		s.log.Errorf("write: %v", err)
	}
}

func (s *Session) replyErr(incoming message, e dapError, details string, show bool) {
	cmd := "unknown"
	req, ok := incoming.(*request)
	if ok {
		cmd = req.Command
	}
	s.reply(s.seq.newErrResponse(incoming, int(e), cmd, e.String(), details, show))
}
