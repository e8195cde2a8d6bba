//go:build linux && (amd64 || arm64)

package native

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"caesar.dev/cmd/internal/dbg/objfile"
	"caesar.dev/cmd/internal/dbg/proc"
	"caesar.dev/cmd/internal/dbg/sys"
	"caesar.dev/cmd/internal/dbg/target"
)

// Process is a ptrace controlled process. All threads are stopped whenever
// a stop is reported and stay stopped until Resume.
type Process struct {
	pid   int
	path  string
	arch  *proc.Arch
	image *objfile.Image
	opts  Options
	log   *logrus.Entry
	pt    *ptraceThread
	cmd   *exec.Cmd

	mu       sync.Mutex
	threads  map[int]*thread
	queue    []*target.Message
	halted   bool
	attached bool
	exited   bool
	status   int
	released bool
}

type thread struct {
	id      int
	stopped bool
	// fresh threads have not reported their initial SIGSTOP yet
	fresh bool
	// expectStop is set when a SIGSTOP sent by stopAll is still queued
	expectStop bool
	pending    *unix.WaitStatus
	signal     int
}

func newProcess(path string, opts Options) (*Process, error) {
	arch, err := proc.ArchByName(runtime.GOARCH)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	p := &Process{
		path:    path,
		arch:    arch,
		opts:    opts,
		log:     opts.Log,
		threads: make(map[int]*thread),
	}
	if path != "" {
		// Only used to locate the image at runtime, a missing image only
		// disables the loader based slide.
		if p.image, err = objfile.Open(path); err != nil {
			p.log.Warnf("could not read image: %v", err)
		}
	}
	return p, nil
}

// Launch starts path with args. The process is stopped before its first
// instruction.
func Launch(path string, args []string, opts Options) (target.Process, error) {
	p, err := newProcess(path, opts)
	if err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}
	p.pt = newPtraceThread()

	p.pt.exec(func() {
		p.cmd = exec.Command(path)
		p.cmd.Args = append([]string{path}, args...)
		p.cmd.Stdin = p.opts.Stdin
		p.cmd.Stdout = p.opts.Stdout
		p.cmd.Stderr = p.opts.Stderr
		p.cmd.SysProcAttr = &syscall.SysProcAttr{
			Ptrace:  true,
			Setpgid: true,
		}
		err = p.cmd.Start()
	})
	if err != nil {
		p.pt.release()
		return nil, &SpawnError{Path: path, Err: err}
	}
	p.pid = p.cmd.Process.Pid

	ws, err := p.waitBlocking(p.pid)
	if err == nil && !ws.Stopped() {
		err = fmt.Errorf("process did not stop after exec: %#x", uint32(ws))
	}
	if err != nil {
		_ = p.cmd.Process.Kill()
		p.pt.release()
		return nil, &HandleError{Pid: p.pid, Err: err}
	}
	p.threads[p.pid] = &thread{id: p.pid, stopped: true}
	p.halted = true
	p.log.Debugf("launched %s as %d", path, p.pid)
	return p, nil
}

// AttachPID stops and takes control of every thread of a running process.
func AttachPID(pid int, opts Options) (target.Process, error) {
	path, _ := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	p, err := newProcess(path, opts)
	if err != nil {
		return nil, &HandleError{Pid: pid, Err: err}
	}
	p.pid = pid
	p.pt = newPtraceThread()

	tids, err := taskIDs(pid)
	if err != nil {
		p.pt.release()
		return nil, &HandleError{Pid: pid, Err: err}
	}
	for _, tid := range tids {
		p.pt.exec(func() { err = unix.PtraceAttach(tid) })
		if errors.Is(err, unix.ESRCH) && tid != pid {
			continue
		}
		if err == nil {
			_, err = p.waitBlocking(tid)
		}
		if err != nil {
			p.detachAll()
			p.pt.release()
			return nil, &HandleError{Pid: pid, Err: err}
		}
		p.threads[tid] = &thread{id: tid, stopped: true}
	}
	p.halted = true
	p.log.Debugf("attached to %d (%d threads)", pid, len(p.threads))
	return p, nil
}

func taskIDs(pid int) ([]int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, err
	}
	tids := []int{pid}
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err == nil && tid != pid {
			tids = append(tids, tid)
		}
	}
	return tids, nil
}

func (p *Process) Pid() int         { return p.pid }
func (p *Process) Path() string     { return p.path }
func (p *Process) Arch() *proc.Arch { return p.arch }

// Attach follows new threads and queues the stop the process is currently
// in, so the first Receive reports it.
func (p *Process) Attach() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attached {
		return nil
	}

	opts := unix.PTRACE_O_TRACECLONE
	if p.cmd != nil {
		opts |= unix.PTRACE_O_EXITKILL
	}
	var err error
	for tid := range p.threads {
		p.pt.exec(func() { err = unix.PtraceSetOptions(tid, opts) })
		if err != nil {
			return &HandleError{Pid: p.pid, Err: err}
		}
	}

	regs, err := p.getRegs(p.pid)
	if err != nil {
		return &HandleError{Pid: p.pid, Err: err}
	}
	sig := unix.SIGSTOP
	if p.cmd != nil {
		sig = unix.SIGTRAP
	}
	p.queue = append(p.queue, &target.Message{
		Thread: p.pid,
		Reason: proc.StopReason{Exception: proc.ExcSoftware, Signal: int(sig), SignalName: unix.SignalName(sig)},
		Regs:   regs,
	})
	p.attached = true
	return nil
}

// Receive waits up to timeout for a thread to stop.
func (p *Process) Receive(timeout time.Duration) (*target.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		msg, err := p.poll()
		if msg != nil || err != nil {
			return msg, err
		}
		if !time.Now().Before(deadline) {
			return nil, target.ErrTimedOut
		}
		time.Sleep(p.opts.PollInterval)
	}
}

func (p *Process) poll() (*target.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) > 0 {
		msg := p.queue[0]
		p.queue = p.queue[1:]
		return msg, nil
	}
	if p.exited || p.released {
		return nil, nil
	}

	for tid, th := range p.threads {
		if th.pending == nil || p.halted {
			continue
		}
		ws := *th.pending
		th.pending = nil
		if msg, err := p.handleStatus(tid, ws); msg != nil || err != nil {
			return msg, err
		}
	}

	for tid, th := range p.threads {
		if th.stopped {
			continue
		}
		var ws unix.WaitStatus
		var wpid int
		var err error
		p.pt.exec(func() { wpid, err = unix.Wait4(tid, &ws, unix.WNOHANG|unix.WALL, nil) })
		if errors.Is(err, unix.ECHILD) {
			p.threadGone(tid, 0)
			continue
		}
		if err != nil {
			return nil, err
		}
		if wpid == 0 {
			continue
		}
		if msg, err := p.handleStatus(tid, ws); msg != nil || err != nil {
			return msg, err
		}
	}
	return nil, nil
}

// handleStatus processes one wait status and returns a message if it is a
// stop the debugger has to see.
func (p *Process) handleStatus(tid int, ws unix.WaitStatus) (*target.Message, error) {
	th, ok := p.threads[tid]
	if !ok {
		return nil, nil
	}

	switch {
	case ws.Exited():
		p.threadGone(tid, ws.ExitStatus())
		return nil, nil
	case ws.Signaled():
		p.threadGone(tid, -int(ws.Signal()))
		return nil, nil
	case !ws.Stopped():
		return nil, nil
	}
	th.stopped = true

	sig := ws.StopSignal()
	if sig == unix.SIGTRAP && ws.TrapCause() == unix.PTRACE_EVENT_CLONE {
		var cloned uint
		var err error
		p.pt.exec(func() { cloned, err = unix.PtraceGetEventMsg(tid) })
		if err == nil {
			p.threads[int(cloned)] = &thread{id: int(cloned), fresh: true}
			p.log.Debugf("new thread %d", cloned)
		}
		return nil, p.cont(th)
	}
	if sig == unix.SIGSTOP && th.fresh {
		th.fresh = false
		if p.halted {
			return nil, nil
		}
		return nil, p.cont(th)
	}
	if sig == unix.SIGSTOP && th.expectStop {
		th.expectStop = false
		if p.halted {
			return nil, nil
		}
		return nil, p.cont(th)
	}
	if passThrough(sig) {
		th.signal = int(sig)
		if p.halted {
			return nil, nil
		}
		return nil, p.cont(th)
	}

	p.stopAll()
	regs, err := p.getRegs(tid)
	if err != nil {
		return nil, err
	}
	return &target.Message{Thread: tid, Reason: stopReason(sig), Regs: regs}, nil
}

func (p *Process) threadGone(tid, status int) {
	delete(p.threads, tid)
	if tid == p.pid {
		p.exited = true
		p.status = status
		p.log.Debugf("process %d exited with %d", p.pid, status)
	}
}

func (p *Process) cont(th *thread) error {
	var err error
	sig := th.signal
	p.pt.exec(func() { err = unix.PtraceCont(th.id, sig) })
	if errors.Is(err, unix.ESRCH) {
		p.threadGone(th.id, 0)
		return nil
	}
	if err == nil {
		th.stopped = false
		th.signal = 0
	}
	return err
}

// stopAll stops every running thread. Stops other than our own SIGSTOP are
// kept pending and reported by later calls to Receive.
func (p *Process) stopAll() {
	p.halted = true
	for tid, th := range p.threads {
		if th.stopped {
			continue
		}
		var err error
		p.pt.exec(func() { err = unix.Tgkill(p.pid, tid, unix.SIGSTOP) })
		if err != nil {
			p.threadGone(tid, 0)
			continue
		}
		ws, err := p.waitBlocking(tid)
		switch {
		case err != nil:
			p.threadGone(tid, 0)
		case ws.Exited():
			p.threadGone(tid, ws.ExitStatus())
		case ws.Signaled():
			p.threadGone(tid, -int(ws.Signal()))
		case ws.StopSignal() == unix.SIGSTOP:
			th.stopped = true
			th.fresh = false
		default:
			th.stopped = true
			th.pending = &ws
			th.expectStop = true
		}
	}
}

func (p *Process) waitBlocking(tid int) (unix.WaitStatus, error) {
	var ws unix.WaitStatus
	var err error
	p.pt.exec(func() {
		for {
			_, err = unix.Wait4(tid, &ws, unix.WALL, nil)
			if !errors.Is(err, unix.EINTR) {
				return
			}
		}
	})
	return ws, err
}

// passThrough reports whether sig is runtime noise that goes straight back
// to the thread instead of stopping the process. Go programs get SIGURG on
// every async preemption.
func passThrough(sig unix.Signal) bool {
	switch sig {
	case unix.SIGURG, unix.SIGCHLD, unix.SIGWINCH, unix.SIGPROF:
		return true
	}
	return false
}

func stopReason(sig unix.Signal) proc.StopReason {
	r := proc.StopReason{Exception: proc.ExcSoftware, Signal: int(sig), SignalName: unix.SignalName(sig)}
	switch sig {
	case unix.SIGTRAP:
		r.Exception = proc.ExcBreakpoint
	case unix.SIGILL:
		r.Exception = proc.ExcBadInstruction
	case unix.SIGSEGV, unix.SIGBUS:
		r.Exception = proc.ExcBadAccess
	case unix.SIGFPE:
		r.Exception = proc.ExcArithmetic
	case unix.SIGSYS:
		r.Exception = proc.ExcSyscall
	}
	return r
}

// Reply writes back changed registers. SIGTRAP and SIGSTOP belong to the
// debugger and are never passed on.
func (p *Process) Reply(msg *target.Message, regs proc.Registers, deliver bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	th, ok := p.threads[msg.Thread]
	if !ok {
		return fmt.Errorf("thread %d is gone", msg.Thread)
	}
	sig := unix.Signal(msg.Reason.Signal)
	if deliver && sig != unix.SIGTRAP && sig != unix.SIGSTOP {
		th.signal = msg.Reason.Signal
	}
	if regs.PC == msg.Regs.PC && regs.SP == msg.Regs.SP {
		return nil
	}
	return p.setRegs(msg.Thread, regs)
}

func (p *Process) Exited() (int, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return p.status, true, nil
	}
	if p.released {
		return 0, false, nil
	}

	// A stopped leader can still be killed.
	if th, ok := p.threads[p.pid]; ok && th.stopped && th.pending == nil {
		var ws unix.WaitStatus
		var wpid int
		var err error
		p.pt.exec(func() { wpid, err = unix.Wait4(p.pid, &ws, unix.WNOHANG|unix.WALL, nil) })
		if err != nil && !errors.Is(err, unix.ECHILD) {
			return 0, false, err
		}
		if wpid == p.pid {
			switch {
			case ws.Exited():
				p.threadGone(p.pid, ws.ExitStatus())
			case ws.Signaled():
				p.threadGone(p.pid, -int(ws.Signal()))
			default:
				th.pending = &ws
			}
		}
	}
	return p.status, p.exited, nil
}

// StepOver executes one instruction of a stopped thread. It reports false
// when a signal stopped the thread before the instruction ran; that stop is
// kept pending for Receive.
func (p *Process) StepOver(tid int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	th, ok := p.threads[tid]
	if !ok || !th.stopped {
		return false, fmt.Errorf("thread %d is not stopped", tid)
	}

	for {
		ws, err := p.singleStep(tid)
		if err != nil {
			return false, fmt.Errorf("single step of thread %d: %w", tid, err)
		}

		sig := ws.StopSignal()
		switch {
		case ws.Exited():
			p.threadGone(tid, ws.ExitStatus())
			return true, nil
		case ws.Signaled():
			p.threadGone(tid, -int(ws.Signal()))
			return true, nil
		case sig == unix.SIGTRAP:
			return true, nil
		case passThrough(sig):
			// Delivered with the next continue.
			th.signal = int(sig)
		default:
			p.log.Warnf("thread %d got %s while stepping", tid, unix.SignalName(sig))
			th.pending = &ws
			return false, nil
		}
	}
}

func (p *Process) singleStep(tid int) (unix.WaitStatus, error) {
	var ws unix.WaitStatus
	var err error
	p.pt.exec(func() {
		if err = unix.PtraceSingleStep(tid); err != nil {
			return
		}
		for {
			_, err = unix.Wait4(tid, &ws, unix.WALL, nil)
			if !errors.Is(err, unix.EINTR) {
				return
			}
		}
	})
	return ws, err
}

func (p *Process) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return target.ErrNotRunning
	}

	p.halted = false
	for _, th := range p.threads {
		if !th.stopped || th.pending != nil {
			continue
		}
		if err := p.cont(th); err != nil {
			return fmt.Errorf("continue thread %d: %w", th.id, err)
		}
	}
	return nil
}

// Detach lets the process run free. It fails if a thread is running.
func (p *Process) Detach() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil
	}
	if !p.exited {
		for _, th := range p.threads {
			if !th.stopped {
				return target.ErrStillRunning
			}
		}
		p.detachAll()
		if p.cmd != nil {
			go p.cmd.Wait()
		}
	}
	p.released = true
	p.pt.release()
	return nil
}

func (p *Process) detachAll() {
	for tid, th := range p.threads {
		sig := th.signal
		p.pt.exec(func() {
			_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_DETACH, uintptr(tid), 0, uintptr(sig), 0, 0)
			if errno != 0 {
				p.log.Debugf("detach thread %d: %v", tid, errno)
			}
		})
	}
	p.threads = make(map[int]*thread)
}

func (p *Process) ReadMemory(addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	var count int
	var err error
	p.pt.exec(func() { count, err = unix.PtracePeekData(p.pid, uintptr(addr), buf) })
	if err != nil {
		return nil, err
	}
	return buf[:count], nil
}

func (p *Process) WriteMemory(addr uint64, data []byte) error {
	var count int
	var err error
	p.pt.exec(func() { count, err = unix.PtracePokeData(p.pid, uintptr(addr), data) })
	if err == nil && count != len(data) {
		err = fmt.Errorf("wrote %d of %d bytes", count, len(data))
	}
	return err
}

// Protect only checks that the range is mapped, ptrace writes ignore page
// protections.
func (p *Process) Protect(addr uint64, n int, prot proc.Prot) error {
	maps, err := p.maps()
	if err != nil {
		return err
	}
	first, ok := sys.Find(maps, addr)
	if !ok {
		return unix.EFAULT
	}
	if last := addr + uint64(n); last > first.End {
		if _, ok := sys.Find(maps, last-1); !ok {
			return unix.EFAULT
		}
	}
	return nil
}

func (p *Process) maps() ([]sys.Mapping, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return sys.ParseMaps(f)
}

// LoaderInfo places the image using the entry point the kernel recorded in
// the auxiliary vector.
func (p *Process) LoaderInfo() (proc.LoaderInfo, error) {
	if p.image == nil || p.image.Entry() == 0 {
		return proc.LoaderInfo{}, nil
	}
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/auxv", p.pid))
	if err != nil {
		return proc.LoaderInfo{}, err
	}
	aux := sys.ParseAuxV(b)
	if aux.Entry == 0 {
		return proc.LoaderInfo{}, nil
	}
	return proc.LoaderInfo{
		Populated: true,
		ImageBase: aux.Entry - p.image.Entry() + p.image.StaticBase(),
	}, nil
}

func (p *Process) Regions() ([]proc.Region, error) {
	maps, err := p.maps()
	if err != nil {
		return nil, err
	}
	regions := make([]proc.Region, 0, len(maps))
	for _, m := range maps {
		var prot proc.Prot
		if m.Read {
			prot |= proc.ProtRead
		}
		if m.Write {
			prot |= proc.ProtWrite
		}
		if m.Exec {
			prot |= proc.ProtExec
		}
		regions = append(regions, proc.Region{Start: m.Start, Size: m.Size(), Prot: prot, Path: m.Path})
	}
	return regions, nil
}
