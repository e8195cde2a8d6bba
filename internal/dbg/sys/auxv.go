package sys

import "encoding/binary"

const (
	_AT_NULL         = 0
	_AT_PHDR         = 3
	_AT_BASE         = 7
	_AT_ENTRY        = 9
	_AT_SYSINFO_EHDR = 33

	ptrSize = 8
)

type AuxV struct {
	// See /usr/include/linux/auxvec.h
	Entry uint64
	Phdr  uint64
	// Interp is the load address of the dynamic loader, 0 for static
	// executables.
	Interp uint64
	Vdso   uint64
}

// ParseAuxV decodes a 64-bit little-endian auxiliary vector as found in
// /proc/<pid>/auxv. Trailing partial entries are ignored.
func ParseAuxV(auxv []byte) AuxV {
	var a AuxV
	for i := 0; i+ptrSize*2 <= len(auxv); i += ptrSize * 2 {
		tag := binary.LittleEndian.Uint64(auxv[i:])
		val := binary.LittleEndian.Uint64(auxv[i+ptrSize:])
		switch tag {
		case _AT_NULL:
			return a
		case _AT_PHDR:
			a.Phdr = val
		case _AT_BASE:
			a.Interp = val
		case _AT_ENTRY:
			a.Entry = val
		case _AT_SYSINFO_EHDR:
			a.Vdso = val
		}
	}
	return a
}
