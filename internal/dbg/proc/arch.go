package proc

import (
	"encoding/binary"
	"fmt"
)

// InsnSize is the number of bytes saved for every breakpoint.
const InsnSize = 4

// Flavor names the register layout a snapshot was taken with.
type Flavor string

const (
	FlavorARM64 Flavor = "ARM_THREAD_STATE64"
	FlavorAMD64 Flavor = "x86_THREAD_STATE64"
)

// Arch describes how breakpoints and step-overs work on one instruction set.
type Arch struct {
	Name string
	// Trap is written over the first bytes of the patched instruction.
	Trap []byte
	// InsnWidth is how far the PC moves to skip a deliberately invalid
	// instruction.
	InsnWidth uint64
	// TrapAdvancesPC is set when the reported PC is past the trap.
	TrapAdvancesPC bool
	Flavor         Flavor
	ByteOrder      binary.ByteOrder
}

var (
	// ARM64 traps with BRK #0.
	ARM64 = &Arch{
		Name:      "arm64",
		Trap:      []byte{0x00, 0x00, 0x20, 0xd4},
		InsnWidth: 4,
		Flavor:    FlavorARM64,
		ByteOrder: binary.LittleEndian,
	}
	// AMD64 traps with INT3 and skips UD2.
	AMD64 = &Arch{
		Name:           "amd64",
		Trap:           []byte{0xcc},
		InsnWidth:      2,
		TrapAdvancesPC: true,
		Flavor:         FlavorAMD64,
		ByteOrder:      binary.LittleEndian,
	}
)

// ArchByName returns the Arch for a GOARCH style name.
func ArchByName(name string) (*Arch, error) {
	switch name {
	case ARM64.Name:
		return ARM64, nil
	case AMD64.Name:
		return AMD64, nil
	}
	return nil, fmt.Errorf("unsupported architecture %q", name)
}

// TrapAddr returns the address of the trap instruction the thread stopped on.
func (a *Arch) TrapAddr(pc uint64) uint64 {
	if a.TrapAdvancesPC {
		return pc - uint64(len(a.Trap))
	}
	return pc
}

func (a *Arch) decode(b []byte) uint32 {
	return a.ByteOrder.Uint32(b)
}

func (a *Arch) encode(insn uint32) []byte {
	b := make([]byte, InsnSize)
	a.ByteOrder.PutUint32(b, insn)
	return b
}
