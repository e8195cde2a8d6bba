package target

import (
	"errors"
	"time"

	"caesar.dev/cmd/internal/dbg/proc"
)

var (
	ErrNoTarget     = errors.New("Target is not running!")
	ErrTargetNotSet = errors.New("Target is not set!")
	ErrStillRunning = errors.New("Target is still running")
	ErrNotRunning   = errors.New("Target has exited")
	ErrTimedOut     = errors.New("timed out waiting for a stop")
)

// Message is one stop delivered by the backend. The thread stays stopped
// until the message is answered with Reply.
type Message struct {
	Thread int
	Reason proc.StopReason
	Regs   proc.Registers
}

// Process is a controlled target. Receive and Reply are only called from the
// event loop; everything else is called with the target stopped.
type Process interface {
	proc.Loader

	Pid() int
	Path() string
	Arch() *proc.Arch

	// Attach installs the debugger as the receiver of the target's stops.
	// It must be called before the first Resume.
	Attach() error
	// Receive waits up to timeout for the next stop and returns ErrTimedOut
	// if none arrived.
	Receive(timeout time.Duration) (*Message, error)
	// Reply hands the adjusted registers back for the stopped thread.
	// deliver asks for the stop signal to be passed on when resuming.
	Reply(msg *Message, regs proc.Registers, deliver bool) error
	// Exited checks without blocking whether the process is gone.
	Exited() (status int, exited bool, err error)

	// StepOver executes one instruction of a stopped thread. It reports
	// false when a signal interrupted the thread before the instruction ran.
	StepOver(thread int) (bool, error)
	Resume() error
	Detach() error
}

// Launcher starts path suspended before its first instruction.
type Launcher func(path string, args []string) (Process, error)

// Attacher takes control of a running process.
type Attacher func(pid int) (Process, error)
