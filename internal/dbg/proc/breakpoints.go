package proc

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrNotFound   = errors.New("no breakpoint")
	ErrAlreadySet = errors.New("breakpoint already set")
)

// BreakpointError ties a table error to the static address it concerns.
type BreakpointError struct {
	Addr uint64
	Err  error
}

func (e *BreakpointError) Error() string {
	switch e.Err {
	case ErrNotFound:
		return fmt.Sprintf("No breakpoint at 0x%X", e.Addr)
	case ErrAlreadySet:
		return fmt.Sprintf("Breakpoint already set at 0x%X", e.Addr)
	}
	return fmt.Sprintf("breakpoint at 0x%X: %v", e.Addr, e.Err)
}

func (e *BreakpointError) Unwrap() error {
	return e.Err
}

// Breakpoint is a software breakpoint keyed by its static (unslid) address.
// Original holds the instruction the trap replaced.
type Breakpoint struct {
	Addr     uint64
	Enabled  bool
	Original uint32

	// lifted is set while the original instruction is back in memory after
	// a hit and the trap still has to be re-armed.
	lifted bool
}

// BreakpointTable holds the installed patches of one process.
type BreakpointTable struct {
	arch *Arch

	mu sync.Mutex
	m  map[uint64]*Breakpoint
}

func NewBreakpointTable(arch *Arch) *BreakpointTable {
	return &BreakpointTable{arch: arch, m: make(map[uint64]*Breakpoint)}
}

// Set installs a trap at addr+slide. An existing disabled entry is
// re-enabled with its saved instruction.
func (t *BreakpointTable) Set(mem Memory, slide, addr uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if bp, ok := t.m[addr]; ok {
		if bp.Enabled {
			return &BreakpointError{Addr: addr, Err: ErrAlreadySet}
		}
		return t.arm(mem, slide, bp)
	}

	orig, err := Read(mem, addr+slide, InsnSize)
	if err != nil {
		return err
	}
	bp := &Breakpoint{Addr: addr, Original: t.arch.decode(orig)}
	err = t.arm(mem, slide, bp)
	if !Written(err) {
		return err
	}
	t.m[addr] = bp
	return err
}

// Remove puts the original instruction back and forgets the entry.
func (t *BreakpointTable) Remove(mem Memory, slide, addr uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	bp, ok := t.m[addr]
	if !ok {
		return &BreakpointError{Addr: addr, Err: ErrNotFound}
	}
	err := t.disarm(mem, slide, bp)
	if !Written(err) {
		return err
	}
	delete(t.m, addr)
	return err
}

// Toggle flips the enabled flag. A disabled breakpoint keeps its entry but
// has the original instruction in memory.
func (t *BreakpointTable) Toggle(mem Memory, slide, addr uint64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bp, ok := t.m[addr]
	if !ok {
		return false, &BreakpointError{Addr: addr, Err: ErrNotFound}
	}
	var err error
	if bp.Enabled {
		err = t.disarm(mem, slide, bp)
	} else {
		err = t.arm(mem, slide, bp)
	}
	return bp.Enabled, err
}

// Lift restores the original instruction of an enabled breakpoint in place
// after the trap was hit. The entry stays enabled.
func (t *BreakpointTable) Lift(mem Memory, slide, addr uint64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bp, ok := t.m[addr]
	if !ok || !bp.Enabled {
		return false, nil
	}
	if bp.lifted {
		return true, nil
	}
	err := Write(mem, addr+slide, t.origBytes(bp), ProtCode)
	if Written(err) {
		bp.lifted = true
	}
	return true, err
}

// Lifted reports whether addr has a hit breakpoint waiting to be re-armed.
func (t *BreakpointTable) Lifted(addr uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	bp, ok := t.m[addr]
	return ok && bp.Enabled && bp.lifted
}

// Rearm writes the trap back over a lifted breakpoint.
func (t *BreakpointTable) Rearm(mem Memory, slide, addr uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	bp, ok := t.m[addr]
	if !ok {
		return &BreakpointError{Addr: addr, Err: ErrNotFound}
	}
	if !bp.Enabled || !bp.lifted {
		return nil
	}
	return t.arm(mem, slide, bp)
}

// RearmLifted writes the trap back over every lifted breakpoint except the
// ones at skip.
func (t *BreakpointTable) RearmLifted(mem Memory, slide uint64, skip ...uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
outer:
	for addr, bp := range t.m {
		if !bp.Enabled || !bp.lifted {
			continue
		}
		for _, a := range skip {
			if a == addr {
				continue outer
			}
		}
		if err := t.arm(mem, slide, bp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RestoreAll removes every trap from memory and empties the table.
func (t *BreakpointTable) RestoreAll(mem Memory, slide uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for addr, bp := range t.m {
		if err := t.disarm(mem, slide, bp); !Written(err) {
			errs = append(errs, err)
			continue
		}
		delete(t.m, addr)
	}
	return errors.Join(errs...)
}

// Get returns a copy of the entry for addr.
func (t *BreakpointTable) Get(addr uint64) (Breakpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bp, ok := t.m[addr]
	if !ok {
		return Breakpoint{}, false
	}
	return *bp, true
}

// List returns the entries in ascending address order.
func (t *BreakpointTable) List() []Breakpoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := make([]Breakpoint, 0, len(t.m))
	for _, bp := range t.m {
		res = append(res, *bp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Addr < res[j].Addr })
	return res
}

func (t *BreakpointTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}

func (t *BreakpointTable) arm(mem Memory, slide uint64, bp *Breakpoint) error {
	err := Write(mem, bp.Addr+slide, t.arch.Trap, ProtCode)
	if Written(err) {
		bp.Enabled = true
		bp.lifted = false
	}
	return err
}

func (t *BreakpointTable) disarm(mem Memory, slide uint64, bp *Breakpoint) error {
	if !bp.Enabled {
		return nil
	}
	var err error
	if !bp.lifted {
		err = Write(mem, bp.Addr+slide, t.origBytes(bp), ProtCode)
	}
	if Written(err) {
		bp.Enabled = false
		bp.lifted = false
	}
	return err
}

// origBytes returns the part of the original instruction the trap covers.
func (t *BreakpointTable) origBytes(bp *Breakpoint) []byte {
	return t.arch.encode(bp.Original)[:len(t.arch.Trap)]
}
