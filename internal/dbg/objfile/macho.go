package objfile

import (
	"encoding/binary"
	"fmt"

	"caesar.dev/cmd/internal/dbg/proc"
)

const (
	machMagic   = 0xfeedface
	machCigam   = 0xcefaedfe
	machMagic64 = 0xfeedfacf
	machCigam64 = 0xcffaedfe

	lcSegment   = 0x1
	lcSegment64 = 0x19
	lcMain      = 0x80000028

	cpuArch64     = 0x01000000
	cpuTypeX86    = 7
	cpuTypeARM    = 12
	cpuTypeX86_64 = cpuTypeX86 | cpuArch64
	cpuTypeARM64  = cpuTypeARM | cpuArch64

	machHeaderSize   = 28
	machHeaderSize64 = 32
	loadCommandSize  = 8
	segmentSize      = 56
	segmentSize64    = 72
	sectionSize      = 68
	sectionSize64    = 80
)

func isMachO(magic uint32) bool {
	switch magic {
	case machMagic, machCigam, machMagic64, machCigam64:
		return true
	}
	return false
}

func (img *Image) parseMachO() error {
	h := &img.hdr
	h.Format = FormatMachO
	h.Is64 = h.Magic == machMagic64 || h.Magic == machCigam64

	fileLittle := h.Magic == machMagic || h.Magic == machMagic64
	if fileLittle {
		img.order = binary.LittleEndian
	} else {
		img.order = binary.BigEndian
	}
	h.SwapNeeded = fileLittle != hostLittleEndian()

	if len(img.data) < img.machHeaderSize() {
		return fmt.Errorf("%w: header needs %d bytes", ErrTruncatedImage, img.machHeaderSize())
	}
	switch img.order.Uint32(img.data[4:]) {
	case cpuTypeX86:
		h.Arch = ArchX86
	case cpuTypeX86_64:
		h.Arch = ArchX86_64
	case cpuTypeARM:
		h.Arch = ArchARM
	case cpuTypeARM64:
		h.Arch = ArchARM64
	}
	return nil
}

func (img *Image) machHeaderSize() int {
	if img.hdr.Is64 {
		return machHeaderSize64
	}
	return machHeaderSize
}

// loadCommands walks the load commands, each skipped by its declared size.
func (img *Image) loadCommands(fn func(cmd uint32, off int, body []byte) error) error {
	ncmds := img.order.Uint32(img.data[16:])
	off := img.machHeaderSize()
	for i := uint32(0); i < ncmds; i++ {
		if off+loadCommandSize > len(img.data) {
			return fmt.Errorf("%w: load command %d at %#x", ErrTruncatedImage, i, off)
		}
		cmd := img.order.Uint32(img.data[off:])
		size := int(img.order.Uint32(img.data[off+4:]))
		if size < loadCommandSize {
			return fmt.Errorf("%w: load command %d has size %d", ErrMalformedImage, i, size)
		}
		if size > len(img.data)-off {
			return fmt.Errorf("%w: load command %d at %#x needs %d bytes", ErrTruncatedImage, i, off, size)
		}
		if err := fn(cmd, off, img.data[off:off+size]); err != nil {
			return err
		}
		off += size
	}
	return nil
}

func (img *Image) machoSegments(fn func(Segment) error) error {
	o := img.order
	return img.loadCommands(func(cmd uint32, off int, b []byte) error {
		var seg Segment
		var hdrSize, sectSize int
		switch cmd {
		case lcSegment64:
			hdrSize, sectSize = segmentSize64, sectionSize64
			if len(b) < hdrSize {
				return fmt.Errorf("%w: segment command at %#x has size %d", ErrMalformedImage, off, len(b))
			}
			seg = Segment{
				Name:       cstring(b[8:24]),
				Addr:       o.Uint64(b[24:]),
				Size:       o.Uint64(b[32:]),
				FileOffset: o.Uint64(b[40:]),
				Prot:       vmProt(o.Uint32(b[60:])),
				nsects:     int(o.Uint32(b[64:])),
			}
		case lcSegment:
			hdrSize, sectSize = segmentSize, sectionSize
			if len(b) < hdrSize {
				return fmt.Errorf("%w: segment command at %#x has size %d", ErrMalformedImage, off, len(b))
			}
			seg = Segment{
				Name:       cstring(b[8:24]),
				Addr:       uint64(o.Uint32(b[24:])),
				Size:       uint64(o.Uint32(b[28:])),
				FileOffset: uint64(o.Uint32(b[32:])),
				Prot:       vmProt(o.Uint32(b[44:])),
				nsects:     int(o.Uint32(b[48:])),
			}
		default:
			return nil
		}
		if seg.nsects > (len(b)-hdrSize)/sectSize {
			return fmt.Errorf("%w: segment %s declares %d sections in %d bytes", ErrMalformedImage, seg.Name, seg.nsects, len(b))
		}
		seg.sectOff = off + hdrSize
		return fn(seg)
	})
}

func (img *Image) machoSections(seg Segment, fn func(Section) error) error {
	o := img.order
	size := sectionSize
	if img.hdr.Is64 {
		size = sectionSize64
	}
	for i := 0; i < seg.nsects; i++ {
		b := img.data[seg.sectOff+i*size:]
		s := Section{
			Name:    cstring(b[0:16]),
			Segment: cstring(b[16:32]),
		}
		if img.hdr.Is64 {
			s.Addr = o.Uint64(b[32:])
			s.Size = o.Uint64(b[40:])
		} else {
			s.Addr = uint64(o.Uint32(b[32:]))
			s.Size = uint64(o.Uint32(b[36:]))
		}
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

func (img *Image) machoEntry() uint64 {
	var entryoff, text uint64
	_ = img.loadCommands(func(cmd uint32, _ int, b []byte) error {
		if cmd == lcMain && len(b) >= 16 {
			entryoff = img.order.Uint64(b[8:])
		}
		return nil
	})
	_ = img.machoSegments(func(seg Segment) error {
		if seg.Name == "__TEXT" {
			text = seg.Addr
		}
		return nil
	})
	if entryoff == 0 {
		return 0
	}
	return text + entryoff
}

func vmProt(p uint32) proc.Prot {
	return proc.Prot(p & uint32(proc.ProtRead|proc.ProtWrite|proc.ProtExec))
}
