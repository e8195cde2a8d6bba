package debugger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"caesar.dev/cmd/internal/dbg/logflags"
	"caesar.dev/cmd/internal/dbg/objfile"
	"caesar.dev/cmd/internal/dbg/proc"
	"caesar.dev/cmd/internal/dbg/target"
)

const DefaultReceiveTimeout = 100 * time.Millisecond

type Config struct {
	// ReceiveTimeout bounds each wait of the event loop for a stop.
	ReceiveTimeout time.Duration
	// StopTimeout bounds how long run and resume wait for the target to
	// stop. Zero waits forever.
	StopTimeout time.Duration
	// GOOS decides which image format target accepts.
	GOOS string

	Launch target.Launcher
	Attach target.Attacher
	Log    *logrus.Entry
}

// Session is one debugging session with at most one live process.
// Commands are serialised.
type Session struct {
	cfg Config
	log *logrus.Entry

	mu    sync.Mutex
	image *objfile.Image

	p      target.Process
	sm     *target.StateMachine
	bps    *proc.BreakpointTable
	tr     *proc.Translator
	router *Router
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config) *Session {
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = DefaultReceiveTimeout
	}
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	if cfg.Log == nil {
		cfg.Log = logflags.DebuggerLogger()
	}
	return &Session{cfg: cfg, log: cfg.Log}
}

// Target selects the executable the next Launch starts.
func (s *Session) Target(path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, err := objfile.Validate(path, s.cfg.GOOS)
	if err != nil {
		return "", err
	}
	s.image = img
	h := img.Header()
	return fmt.Sprintf("Current target set to '%s' (%s %s)", path, h.Format, h.Arch), nil
}

// Launch starts the target with args and waits for its first stop.
func (s *Session) Launch(args []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.image == nil {
		return "", target.ErrTargetNotSet
	}
	if err := s.release(); err != nil {
		return "", err
	}
	if s.cfg.Launch == nil {
		return "", errors.New("no process launcher configured")
	}
	p, err := s.cfg.Launch(s.image.Path, args)
	if err != nil {
		return "", err
	}
	if err := s.start(p, s.image); err != nil {
		return "", err
	}
	return s.report(fmt.Sprintf("Process %d launched: '%s'", p.Pid(), p.Path()))
}

// Attach takes control of a running process and waits for it to stop.
func (s *Session) Attach(pid int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.release(); err != nil {
		return "", err
	}
	if s.cfg.Attach == nil {
		return "", errors.New("no process attacher configured")
	}
	p, err := s.cfg.Attach(pid)
	if err != nil {
		return "", err
	}

	img := s.image
	if img == nil || img.Path != p.Path() {
		if img, err = objfile.Open(p.Path()); err != nil {
			s.log.Warnf("no image for process %d: %v", pid, err)
			img = nil
		}
	}
	if err := s.start(p, img); err != nil {
		return "", err
	}
	return s.report(fmt.Sprintf("Process %d attached: '%s'", p.Pid(), p.Path()))
}

func (s *Session) start(p target.Process, img *objfile.Image) error {
	if err := p.Attach(); err != nil {
		_ = p.Detach()
		return err
	}

	var base uint64
	var magic []byte
	if img != nil {
		base, magic = img.StaticBase(), img.Magic()
	}
	s.p = p
	s.sm = target.NewStateMachine()
	s.bps = proc.NewBreakpointTable(p.Arch())
	s.tr = proc.NewTranslator(base, magic)
	if img != nil {
		s.tr.Path = mappedPath(img.Path)
	}
	s.router = NewRouter(p, s.sm, s.bps, s.tr, s.cfg.ReceiveTimeout, s.log.WithField("pid", p.Pid()))

	if err := s.sm.Resume(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func(r *Router, done chan struct{}) {
		defer close(done)
		if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Errorf("event loop: %v", err)
		}
	}(s.router, s.done)
	return nil
}

// mappedPath returns path the way the kernel names the file in a memory map.
func mappedPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// report waits until the target is no longer running and describes why.
func (s *Session) report(prefix string) (string, error) {
	ctx := context.Background()
	if s.cfg.StopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.StopTimeout)
		defer cancel()
	}
	st, err := s.sm.Wait(ctx, func(st target.State) bool { return st != target.Running })
	if err != nil {
		return prefix, fmt.Errorf("process %d is still running: %w", s.p.Pid(), err)
	}

	msg := prefix
	if msg != "" {
		msg += "\n"
	}
	if st == target.Exited {
		return msg + fmt.Sprintf("Process %d exited with code %d", s.p.Pid(), s.router.ExitStatus()), nil
	}
	if stop := s.router.LastStop(); stop != nil {
		return msg + fmt.Sprintf("Process %d stopped: %s", s.p.Pid(), stop), nil
	}
	return msg + fmt.Sprintf("Process %d stopped", s.p.Pid()), nil
}

// Resume continues a stopped target and waits until it stops again.
func (s *Session) Resume() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.p == nil {
		return "", target.ErrNoTarget
	}
	switch s.sm.State() {
	case target.Running:
		return "", target.ErrStillRunning
	case target.Exited:
		return "", target.ErrNotRunning
	}

	if err := s.stepOverBreakpoint(); err != nil {
		return "", err
	}
	if err := s.sm.Resume(); err != nil {
		return "", err
	}
	if err := s.p.Resume(); err != nil {
		if errors.Is(err, target.ErrNotRunning) {
			// gone while stopped
			_ = s.sm.Exit()
			return s.report("")
		}
		_ = s.sm.Stop()
		return "", err
	}
	return s.report("")
}

// stepOverBreakpoint moves the stopped thread past the breakpoint it hit
// with the original instruction in place, then arms the trap again. A step
// cut short by a signal leaves the breakpoint lifted until the next resume.
func (s *Session) stepOverBreakpoint() error {
	slide, _ := s.tr.Slide()
	stop := s.router.LastStop()
	if stop == nil || !stop.Breakpoint || !stop.HasStatic {
		return s.bps.RearmLifted(s.p, slide)
	}
	if err := s.bps.RearmLifted(s.p, slide, stop.StaticPC); err != nil {
		return err
	}
	// Toggled off and on while stopped here, so the trap is back.
	if lifted, err := s.bps.Lift(s.p, slide, stop.StaticPC); err != nil || !lifted {
		return err
	}

	stepped, err := s.p.StepOver(stop.Thread)
	if err != nil {
		return err
	}
	if !stepped {
		s.log.Debugf("step of thread %d interrupted, breakpoint at %#x stays lifted", stop.Thread, stop.StaticPC)
		return nil
	}
	return s.bps.Rearm(s.p, slide, stop.StaticPC)
}

// live returns the slide of a stopped process, computing it on first use.
func (s *Session) live() (uint64, error) {
	if s.p == nil || s.sm.State() == target.Exited {
		return 0, target.ErrNoTarget
	}
	if s.sm.State() == target.Running {
		return 0, target.ErrStillRunning
	}
	return s.tr.ComputeSlide(s.p)
}

func (s *Session) SetBreakpoint(addr uint64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slide, err := s.live()
	if err != nil {
		return "", err
	}
	if err := s.bps.Set(s.p, slide, addr); err != nil {
		if !proc.Written(err) {
			return "", err
		}
		s.log.Warnf("breakpoint at 0x%x: %v", addr, err)
	}
	return fmt.Sprintf("Breakpoint set at 0x%x (runtime 0x%x)", addr, addr+slide), nil
}

func (s *Session) RemoveBreakpoint(addr uint64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slide, err := s.live()
	if err != nil {
		return "", err
	}
	if err := s.bps.Remove(s.p, slide, addr); err != nil {
		return "", err
	}
	return fmt.Sprintf("Breakpoint removed at 0x%x", addr), nil
}

func (s *Session) ToggleBreakpoint(addr uint64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slide, err := s.live()
	if err != nil {
		return "", err
	}
	enabled, err := s.bps.Toggle(s.p, slide, addr)
	if err != nil {
		return "", err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return fmt.Sprintf("Breakpoint at 0x%x %s", addr, state), nil
}

func (s *Session) ListBreakpoints() ([]proc.Breakpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.p == nil || s.sm.State() == target.Exited {
		return nil, target.ErrNoTarget
	}
	return s.bps.List(), nil
}

// State returns the state of the live process.
func (s *Session) State() (target.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p == nil {
		return 0, target.ErrNoTarget
	}
	return s.sm.State(), nil
}

func (s *Session) Slide() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live()
}

// Pid returns the pid of the live process, 0 if there is none.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p == nil {
		return 0
	}
	return s.p.Pid()
}

// ExitStatus returns the exit code of a process that has exited.
func (s *Session) ExitStatus() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p == nil {
		return 0, target.ErrNoTarget
	}
	if s.sm.State() != target.Exited {
		return 0, fmt.Errorf("process %d has not exited", s.p.Pid())
	}
	return s.router.ExitStatus(), nil
}

// LastStop returns the last stop of the live process.
func (s *Session) LastStop() *Stop {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.router == nil {
		return nil
	}
	return s.router.LastStop()
}

// Detach restores all breakpoints and lets the process run free.
func (s *Session) Detach() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.p == nil {
		return "", target.ErrNoTarget
	}
	pid := s.p.Pid()
	if err := s.release(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Process %d detached", pid), nil
}

// release drops the current process. A running process is left alone.
func (s *Session) release() error {
	if s.p == nil {
		return nil
	}
	st := s.sm.State()
	if st == target.Running {
		return target.ErrStillRunning
	}
	if st == target.Stopped {
		if slide, ok := s.tr.Slide(); ok {
			if err := s.bps.RestoreAll(s.p, slide); err != nil {
				s.log.Warnf("restore breakpoints: %v", err)
			}
		}
	}

	s.cancel()
	<-s.done
	if err := s.p.Detach(); err != nil {
		return err
	}
	s.p, s.sm, s.bps, s.tr, s.router = nil, nil, nil, nil, nil
	return nil
}

// Dump prints the segments and sections of the target image.
func (s *Session) Dump(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.image == nil {
		return target.ErrTargetNotSet
	}
	return s.image.Dump(w)
}

// Close detaches from a live process.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.release()
}
