package proc

import "fmt"

// Exception is the native exception class of a stop.
type Exception uint8

const (
	ExcNone Exception = iota
	ExcBadAccess
	ExcBadInstruction
	ExcArithmetic
	ExcEmulation
	ExcSoftware
	ExcBreakpoint
	ExcSyscall
	ExcMachSyscall
	ExcRPCAlert
	ExcCrash
	ExcResource
	ExcGuard
	ExcCorpseNotify
)

var exceptionNames = [...]string{
	ExcNone:           "EXC_NONE",
	ExcBadAccess:      "EXC_BAD_ACCESS",
	ExcBadInstruction: "EXC_BAD_INSTRUCTION",
	ExcArithmetic:     "EXC_ARITHMETIC",
	ExcEmulation:      "EXC_EMULATION",
	ExcSoftware:       "EXC_SOFTWARE",
	ExcBreakpoint:     "EXC_BREAKPOINT",
	ExcSyscall:        "EXC_SYSCALL",
	ExcMachSyscall:    "EXC_MACH_SYSCALL",
	ExcRPCAlert:       "EXC_RPC_ALERT",
	ExcCrash:          "EXC_CRASH",
	ExcResource:       "EXC_RESOURCE",
	ExcGuard:          "EXC_GUARD",
	ExcCorpseNotify:   "EXC_CORPSE_NOTIFY",
}

func (e Exception) String() string {
	if int(e) < len(exceptionNames) {
		return exceptionNames[e]
	}
	return fmt.Sprintf("EXC_%d", uint8(e))
}

// StopReason says why a thread stopped. Signal is non-zero when the stop
// wraps a Unix signal.
type StopReason struct {
	Exception  Exception
	Signal     int
	SignalName string
}

func (r StopReason) String() string {
	if r.Signal != 0 {
		name := r.SignalName
		if name == "" {
			name = fmt.Sprint(r.Signal)
		}
		return "signal " + name
	}
	return "reason " + r.Exception.String()
}

// Registers is the part of a thread state the debugger looks at. Native
// carries the full platform register block so it can be written back.
type Registers struct {
	Flavor Flavor
	PC     uint64
	SP     uint64
	Native any
}

// AdjustForResume returns the register state to resume with after a stop.
// It starts as a copy of old. A deliberately invalid instruction is skipped
// when the snapshot has the expected flavor; a hit breakpoint resumes at the
// trap address, which holds the original instruction again.
func AdjustForResume(arch *Arch, old Registers, reason StopReason, hit bool) Registers {
	regs := old
	switch reason.Exception {
	case ExcBadInstruction:
		if old.Flavor == arch.Flavor {
			regs.PC += arch.InsnWidth
		}
	case ExcBreakpoint:
		if hit {
			regs.PC = arch.TrapAddr(old.PC)
		}
	}
	return regs
}
