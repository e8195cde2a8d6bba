package objfile

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"fmt"

	"caesar.dev/cmd/internal/dbg/proc"
)

func (img *Image) parseELF() error {
	f, err := elf.NewFile(bytes.NewReader(img.data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedImage, err)
	}
	img.elf = f

	h := &img.hdr
	h.Format = FormatELF
	h.Is64 = f.Class == elf.ELFCLASS64
	h.SwapNeeded = (f.Data == elf.ELFDATA2LSB) != hostLittleEndian()
	img.order = f.ByteOrder
	switch f.Machine {
	case elf.EM_386:
		h.Arch = ArchX86
	case elf.EM_X86_64:
		h.Arch = ArchX86_64
	case elf.EM_ARM:
		h.Arch = ArchARM
	case elf.EM_AARCH64:
		h.Arch = ArchARM64
	}
	return nil
}

func (img *Image) elfSegments(fn func(Segment) error) error {
	for i, p := range img.elf.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		var prot proc.Prot
		if p.Flags&elf.PF_R != 0 {
			prot |= proc.ProtRead
		}
		if p.Flags&elf.PF_W != 0 {
			prot |= proc.ProtWrite
		}
		if p.Flags&elf.PF_X != 0 {
			prot |= proc.ProtExec
		}
		seg := Segment{
			Name:       fmt.Sprintf("LOAD[%d]", i),
			FileOffset: p.Off,
			Addr:       p.Vaddr,
			Size:       p.Memsz,
			Prot:       prot,
		}
		if err := fn(seg); err != nil {
			return err
		}
	}
	return nil
}

// elfSections visits the allocated sections that lie within seg.
func (img *Image) elfSections(seg Segment, fn func(Section) error) error {
	for _, s := range img.elf.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Size == 0 {
			continue
		}
		if s.Addr < seg.Addr || s.Addr+s.Size > seg.Addr+seg.Size {
			continue
		}
		if err := fn(Section{Name: s.Name, Segment: seg.Name, Addr: s.Addr, Size: s.Size}); err != nil {
			return err
		}
	}
	return nil
}

func (img *Image) parsePE() error {
	f, err := pe.NewFile(bytes.NewReader(img.data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedImage, err)
	}
	img.pe = f

	h := &img.hdr
	h.Format = FormatPE
	_, h.Is64 = f.OptionalHeader.(*pe.OptionalHeader64)
	h.SwapNeeded = !hostLittleEndian()
	switch f.Machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		h.Arch = ArchX86
	case pe.IMAGE_FILE_MACHINE_AMD64:
		h.Arch = ArchX86_64
	case pe.IMAGE_FILE_MACHINE_ARMNT:
		h.Arch = ArchARM
	case pe.IMAGE_FILE_MACHINE_ARM64:
		h.Arch = ArchARM64
	}
	return nil
}

// peSegments reports every PE section as a segment.
func (img *Image) peSegments(fn func(Segment) error) error {
	base := img.StaticBase()
	for _, s := range img.pe.Sections {
		var prot proc.Prot
		if s.Characteristics&pe.IMAGE_SCN_MEM_READ != 0 {
			prot |= proc.ProtRead
		}
		if s.Characteristics&pe.IMAGE_SCN_MEM_WRITE != 0 {
			prot |= proc.ProtWrite
		}
		if s.Characteristics&pe.IMAGE_SCN_MEM_EXECUTE != 0 {
			prot |= proc.ProtExec
		}
		seg := Segment{
			Name:       s.Name,
			FileOffset: uint64(s.Offset),
			Addr:       base + uint64(s.VirtualAddress),
			Size:       uint64(s.VirtualSize),
			Prot:       prot,
		}
		if err := fn(seg); err != nil {
			return err
		}
	}
	return nil
}
