package native

import (
	"golang.org/x/sys/unix"

	"caesar.dev/cmd/internal/dbg/proc"
)

func (p *Process) getRegs(tid int) (proc.Registers, error) {
	var regs unix.PtraceRegs
	var err error
	p.pt.exec(func() { err = unix.PtraceGetRegs(tid, &regs) })
	if err != nil {
		return proc.Registers{}, err
	}
	return proc.Registers{Flavor: proc.FlavorAMD64, PC: regs.Rip, SP: regs.Rsp, Native: &regs}, nil
}

func (p *Process) setRegs(tid int, r proc.Registers) error {
	regs, ok := r.Native.(*unix.PtraceRegs)
	if !ok {
		return errFlavor(r.Flavor)
	}
	regs.Rip = r.PC
	regs.Rsp = r.SP
	var err error
	p.pt.exec(func() { err = unix.PtraceSetRegs(tid, regs) })
	return err
}
