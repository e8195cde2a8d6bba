package proc

import (
	"errors"
	"fmt"
	"strings"
)

// Prot is a page protection mask.
type Prot uint8

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
	// ProtCopy requests a private copy of the page on write, so patching
	// code never touches a shared mapping.
	ProtCopy

	ProtCode = ProtRead | ProtExec
)

func (p Prot) String() string {
	var b strings.Builder
	for _, f := range []struct {
		bit Prot
		c   byte
	}{{ProtRead, 'r'}, {ProtWrite, 'w'}, {ProtExec, 'x'}} {
		if p&f.bit != 0 {
			b.WriteByte(f.c)
		} else {
			b.WriteByte('-')
		}
	}
	if p&ProtCopy != 0 {
		b.WriteByte('c')
	}
	return b.String()
}

// Memory is the target address space as seen through a control handle.
type Memory interface {
	ReadMemory(addr uint64, n int) ([]byte, error)
	WriteMemory(addr uint64, data []byte) error
	Protect(addr uint64, n int, prot Prot) error
}

type MemoryOp uint8

const (
	OpRead MemoryOp = iota
	OpProtect
	OpWrite
	OpReprotect
)

func (op MemoryOp) String() string {
	return []string{"reading memory", "changing memory protection", "writing memory", "re-protecting memory"}[op]
}

// MemoryError reports a failed memory operation together with the
// underlying OS error.
type MemoryError struct {
	Op   MemoryOp
	Addr uint64
	Err  error
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("%s at %#x failed: %v", e.Op, e.Addr, e.Err)
}

func (e *MemoryError) Unwrap() error {
	return e.Err
}

// Written reports whether a Write that returned err still changed the
// target memory. Only a failed re-protect leaves the new bytes in place.
func Written(err error) bool {
	if err == nil {
		return true
	}
	var me *MemoryError
	return errors.As(err, &me) && me.Op == OpReprotect
}

// Read reads n bytes at addr.
func Read(m Memory, addr uint64, n int) ([]byte, error) {
	b, err := m.ReadMemory(addr, n)
	if err != nil {
		return nil, &MemoryError{Op: OpRead, Addr: addr, Err: err}
	}
	if len(b) != n {
		return nil, &MemoryError{Op: OpRead, Addr: addr, Err: fmt.Errorf("short read: %d of %d bytes", len(b), n)}
	}
	return b, nil
}

// Write stores data at addr, making the page writable first and putting
// the restore protection back afterwards.
func Write(m Memory, addr uint64, data []byte, restore Prot) error {
	if err := m.Protect(addr, len(data), ProtRead|ProtWrite|ProtCopy); err != nil {
		return &MemoryError{Op: OpProtect, Addr: addr, Err: err}
	}

	if werr := m.WriteMemory(addr, data); werr != nil {
		// the page must not stay writable, whatever happened to the write
		_ = m.Protect(addr, len(data), restore)
		return &MemoryError{Op: OpWrite, Addr: addr, Err: werr}
	}

	if err := m.Protect(addr, len(data), restore); err != nil {
		return &MemoryError{Op: OpReprotect, Addr: addr, Err: err}
	}
	return nil
}
