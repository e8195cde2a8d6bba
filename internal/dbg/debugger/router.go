package debugger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"caesar.dev/cmd/internal/dbg/proc"
	"caesar.dev/cmd/internal/dbg/target"
)

// Stop describes the last time the target stopped.
type Stop struct {
	Thread int
	Reason proc.StopReason
	// PC is where the thread resumes.
	PC uint64
	// StaticPC is PC without the slide, valid when HasStatic is set.
	StaticPC  uint64
	HasStatic bool
	// Breakpoint is set when the thread stopped on a known breakpoint,
	// whose original instruction is now back in place.
	Breakpoint bool
	Insn       string
}

func (s *Stop) String() string {
	msg := fmt.Sprintf("thread %d, %s @ 0x%x", s.Thread, s.Reason, s.PC)
	if s.HasStatic {
		msg += fmt.Sprintf(" (0x%x)", s.StaticPC)
	}
	if s.Breakpoint {
		msg += ", breakpoint"
	}
	if s.Insn != "" {
		msg += "\n->  " + s.Insn
	}
	return msg
}

// Router runs the event loop of one process: it receives stops, classifies
// them and answers them, and notices when the process exits.
type Router struct {
	p       target.Process
	sm      *target.StateMachine
	bps     *proc.BreakpointTable
	tr      *proc.Translator
	timeout time.Duration
	log     *logrus.Entry

	mu     sync.Mutex
	last   *Stop
	status int
}

func NewRouter(p target.Process, sm *target.StateMachine, bps *proc.BreakpointTable, tr *proc.Translator, timeout time.Duration, log *logrus.Entry) *Router {
	return &Router{p: p, sm: sm, bps: bps, tr: tr, timeout: timeout, log: log}
}

// Run loops until the process exits or ctx is cancelled. A stopped target
// keeps the loop polling.
func (r *Router) Run(ctx context.Context) error {
	for {
		if r.sm.State() == target.Exited {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := r.p.Receive(r.timeout)
		if errors.Is(err, target.ErrTimedOut) {
			if r.checkExit() {
				return nil
			}
			continue
		}
		if err != nil {
			r.log.Errorf("receive: %v", err)
			if r.checkExit() {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.timeout):
			}
			continue
		}
		r.handle(msg)
	}
}

func (r *Router) checkExit() bool {
	status, exited, err := r.p.Exited()
	if err != nil {
		r.log.Warnf("exit check: %v", err)
		return false
	}
	if !exited {
		return false
	}

	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
	if err := r.sm.Exit(); err != nil {
		r.log.Warnf("process %d went away: %v", r.p.Pid(), err)
	}
	return true
}

// handle classifies one stop and answers it. Problems are only logged, the
// stopped thread is always answered.
func (r *Router) handle(msg *target.Message) {
	arch := r.p.Arch()
	hit := false

	if msg.Reason.Exception == proc.ExcBreakpoint && r.bps.Len() > 0 {
		trap := arch.TrapAddr(msg.Regs.PC)
		slide, err := r.tr.ComputeSlide(r.p)
		if err != nil {
			r.log.Warnf("breakpoint lookup at 0x%x: %v", trap, err)
		} else if hit, err = r.bps.Lift(r.p, slide, trap-slide); err != nil {
			r.log.Errorf("restore instruction at 0x%x: %v", trap, err)
		}
	}

	regs := proc.AdjustForResume(arch, msg.Regs, msg.Reason, hit)
	stop := &Stop{
		Thread:     msg.Thread,
		Reason:     msg.Reason,
		PC:         regs.PC,
		Breakpoint: hit,
	}
	if slide, ok := r.tr.Slide(); ok {
		stop.StaticPC, stop.HasStatic = regs.PC-slide, true
	}
	if insn, err := proc.InsnAt(r.p, arch, regs.PC); err == nil {
		stop.Insn = insn
	} else {
		r.log.Debugf("disassemble at 0x%x: %v", regs.PC, err)
	}
	r.log.Debugf("stop: %s", stop)

	deliver := msg.Reason.Exception != proc.ExcBreakpoint && msg.Reason.Exception != proc.ExcBadInstruction
	if err := r.p.Reply(msg, regs, deliver); err != nil {
		r.log.Errorf("reply to thread %d: %v", msg.Thread, err)
	}

	r.mu.Lock()
	r.last = stop
	r.mu.Unlock()
	if err := r.sm.Stop(); err != nil {
		r.log.Warnf("stop of thread %d: %v", msg.Thread, err)
	}
}

// LastStop returns the most recent stop, nil before the first one.
func (r *Router) LastStop() *Stop {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Router) ExitStatus() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}
