package native

import (
	"golang.org/x/sys/unix"

	"caesar.dev/cmd/internal/dbg/proc"
)

// register set of PTRACE_GETREGSET holding the general purpose registers
const ntPRStatus = 1

func (p *Process) getRegs(tid int) (proc.Registers, error) {
	var regs unix.PtraceRegsArm64
	var err error
	p.pt.exec(func() { err = unix.PtraceGetRegSetArm64(tid, ntPRStatus, &regs) })
	if err != nil {
		return proc.Registers{}, err
	}
	return proc.Registers{Flavor: proc.FlavorARM64, PC: regs.Pc, SP: regs.Sp, Native: &regs}, nil
}

func (p *Process) setRegs(tid int, r proc.Registers) error {
	regs, ok := r.Native.(*unix.PtraceRegsArm64)
	if !ok {
		return errFlavor(r.Flavor)
	}
	regs.Pc = r.PC
	regs.Sp = r.SP
	var err error
	p.pt.exec(func() { err = unix.PtraceSetRegSetArm64(tid, ntPRStatus, regs) })
	return err
}
