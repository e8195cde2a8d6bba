package proc

import (
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// maxInsnLen covers the longest x86 encoding.
const maxInsnLen = 15

// Disassemble decodes the instruction at the start of code.
func Disassemble(arch *Arch, code []byte, pc uint64) (string, error) {
	switch arch.Name {
	case AMD64.Name:
		inst, err := x86asm.Decode(code, 64)
		if err != nil {
			return "", err
		}
		return x86asm.GNUSyntax(inst, pc, nil), nil
	case ARM64.Name:
		if len(code) < 4 {
			return "", fmt.Errorf("need 4 bytes, have %d", len(code))
		}
		inst, err := arm64asm.Decode(code[:4])
		if err != nil {
			return "", err
		}
		return arm64asm.GNUSyntax(inst), nil
	}
	return "", fmt.Errorf("no disassembler for %s", arch.Name)
}

// InsnAt reads and decodes the instruction at addr.
func InsnAt(m Memory, arch *Arch, addr uint64) (string, error) {
	n := InsnSize
	if arch == AMD64 {
		n = maxInsnLen
	}
	code, err := m.ReadMemory(addr, n)
	if err != nil {
		return "", err
	}
	return Disassemble(arch, code, addr)
}
