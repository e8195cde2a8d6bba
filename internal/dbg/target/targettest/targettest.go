// Package targettest provides a scripted in-memory target.Process for
// tests of the layers above the native backend.
package targettest

import (
	"fmt"
	"sync"
	"time"

	"caesar.dev/cmd/internal/dbg/proc"
	"caesar.dev/cmd/internal/dbg/target"
)

// Reply is one answer the event loop gave to a stop.
type Reply struct {
	Thread  int
	Regs    proc.Registers
	Deliver bool
}

// Step runs on its own goroutine when the process is resumed.
type Step func(p *Process)

// Process is a target whose stops are scripted. Every Resume runs the next
// step of the script; without one the process keeps running.
type Process struct {
	PID  int
	Exe  string
	Mach *proc.Arch
	// ImageBase is reported by LoaderInfo.
	ImageBase uint64
	// EntryPC is where the initial stop happens.
	EntryPC uint64

	msgs chan *target.Message

	mu       sync.Mutex
	mem      map[uint64]byte
	replies  []Reply
	steps    []int
	cut      int
	resumes  int
	script   []Step
	exited   bool
	status   int
	detached bool
}

func New(arch *proc.Arch, pid int) *Process {
	return &Process{
		PID:  pid,
		Exe:  "/bin/hello",
		Mach: arch,
		msgs: make(chan *target.Message, 8),
		mem:  make(map[uint64]byte),
	}
}

// Script appends steps to run on the following resumes.
func (p *Process) Script(steps ...Step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, steps...)
}

// Fill maps b at addr.
func (p *Process) Fill(addr uint64, b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range b {
		p.mem[addr+uint64(i)] = c
	}
}

// Get returns n bytes at addr, zero where nothing is mapped.
func (p *Process) Get(addr uint64, n int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := make([]byte, n)
	for i := range res {
		res[i] = p.mem[addr+uint64(i)]
	}
	return res
}

// Stop queues a stop of thread at pc.
func (p *Process) Stop(thread int, exc proc.Exception, sig int, pc uint64) {
	p.msgs <- &target.Message{
		Thread: thread,
		Reason: proc.StopReason{Exception: exc, Signal: sig},
		Regs:   proc.Registers{Flavor: p.Mach.Flavor, PC: pc, SP: 0x7ff0},
	}
}

// InterruptSteps makes the next n single-steps stop before the instruction
// runs.
func (p *Process) InterruptSteps(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cut = n
}

// Exit makes the process exit with status.
func (p *Process) Exit(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited, p.status = true, status
}

func (p *Process) LastReply() Reply {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replies) == 0 {
		return Reply{}
	}
	return p.replies[len(p.replies)-1]
}

// StepOvers returns the threads that were single-stepped, in order.
func (p *Process) StepOvers() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.steps...)
}

func (p *Process) Resumes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumes
}

func (p *Process) Detached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detached
}

func (p *Process) ReadMemory(addr uint64, n int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := make([]byte, n)
	for i := range res {
		c, ok := p.mem[addr+uint64(i)]
		if !ok {
			return nil, fmt.Errorf("unmapped address %#x", addr+uint64(i))
		}
		res[i] = c
	}
	return res, nil
}

func (p *Process) WriteMemory(addr uint64, data []byte) error {
	p.Fill(addr, data)
	return nil
}

func (p *Process) Protect(addr uint64, n int, prot proc.Prot) error { return nil }

func (p *Process) LoaderInfo() (proc.LoaderInfo, error) {
	return proc.LoaderInfo{Populated: true, ImageBase: p.ImageBase}, nil
}

func (p *Process) Regions() ([]proc.Region, error) { return nil, nil }

func (p *Process) Pid() int         { return p.PID }
func (p *Process) Path() string     { return p.Exe }
func (p *Process) Arch() *proc.Arch { return p.Mach }

func (p *Process) Attach() error {
	p.Stop(p.PID, proc.ExcSoftware, 5, p.EntryPC)
	return nil
}

func (p *Process) Receive(timeout time.Duration) (*target.Message, error) {
	select {
	case msg := <-p.msgs:
		return msg, nil
	case <-time.After(timeout):
		return nil, target.ErrTimedOut
	}
}

func (p *Process) Reply(msg *target.Message, regs proc.Registers, deliver bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, Reply{Thread: msg.Thread, Regs: regs, Deliver: deliver})
	return nil
}

func (p *Process) Exited() (int, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.exited, nil
}

func (p *Process) StepOver(thread int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, thread)
	if p.cut > 0 {
		p.cut--
		return false, nil
	}
	return true, nil
}

func (p *Process) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return target.ErrNotRunning
	}
	p.resumes++
	if len(p.script) > 0 {
		step := p.script[0]
		p.script = p.script[1:]
		go step(p)
	}
	return nil
}

func (p *Process) Detach() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detached = true
	return nil
}
