// Package objfile classifies executable images and walks their segments
// and sections.
package objfile

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"caesar.dev/cmd/internal/dbg/proc"
)

var (
	ErrMalformedImage = errors.New("malformed image")
	ErrTruncatedImage = errors.New("truncated image")
)

type Format uint8

const (
	FormatUnknown Format = iota
	FormatMachO
	FormatELF
	FormatPE
)

func (f Format) String() string {
	return []string{"unknown", "Mach-O", "ELF", "PE"}[f]
}

type Arch uint8

const (
	ArchUnknown Arch = iota
	ArchX86
	ArchX86_64
	ArchARM
	ArchARM64
)

func (a Arch) String() string {
	return []string{"unknown", "x86", "x86_64", "arm", "arm64"}[a]
}

// Header is what the first bytes of an image say about it.
type Header struct {
	Magic uint32
	Is64  bool
	// SwapNeeded is set when multi-byte fields are stored in the opposite
	// order of the host.
	SwapNeeded bool
	Arch       Arch
	Format     Format
}

// Segment is a loadable part of the image.
type Segment struct {
	Name       string
	FileOffset uint64
	Addr       uint64
	Size       uint64
	Prot       proc.Prot

	// range of the section records of a Mach-O segment command
	sectOff, nsects int
}

type Section struct {
	Name    string
	Segment string
	Addr    uint64
	Size    uint64
}

// Image is an opened executable file.
type Image struct {
	Path  string
	data  []byte
	hdr   Header
	order binary.ByteOrder

	elf *elf.File
	pe  *pe.File
}

// Open reads and classifies the image at path.
func Open(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img.Path = path
	return img, nil
}

// Parse classifies an in-memory image.
func Parse(data []byte) (*Image, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: file has %d bytes", ErrTruncatedImage, len(data))
	}
	img := &Image{data: data}
	img.hdr.Magic = binary.LittleEndian.Uint32(data)

	var err error
	switch {
	case isMachO(img.hdr.Magic):
		err = img.parseMachO()
	case bytes.HasPrefix(data, []byte(elf.ELFMAG)):
		err = img.parseELF()
	case bytes.HasPrefix(data, []byte("MZ")):
		err = img.parsePE()
	default:
		err = fmt.Errorf("%w: unrecognized magic %#08x", ErrMalformedImage, img.hdr.Magic)
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (img *Image) Header() Header { return img.hdr }

// Magic returns the first four bytes of the file.
func (img *Image) Magic() []byte { return img.data[:4] }

// ForEachSegment calls fn for every segment in file order and stops at the
// first error.
func (img *Image) ForEachSegment(fn func(Segment) error) error {
	switch img.hdr.Format {
	case FormatMachO:
		return img.machoSegments(fn)
	case FormatELF:
		return img.elfSegments(fn)
	case FormatPE:
		return img.peSegments(fn)
	}
	return fmt.Errorf("%w: unknown format", ErrMalformedImage)
}

// ForEachSection calls fn for every section of seg.
func (img *Image) ForEachSection(seg Segment, fn func(Section) error) error {
	switch img.hdr.Format {
	case FormatMachO:
		return img.machoSections(seg, fn)
	case FormatELF:
		return img.elfSections(seg, fn)
	}
	return nil
}

// StaticBase is the address the image expects to be loaded at.
func (img *Image) StaticBase() uint64 {
	switch img.hdr.Format {
	case FormatMachO:
		if img.hdr.Is64 {
			return 0x100000000
		}
		return 0x1000
	case FormatELF:
		base := ^uint64(0)
		for _, p := range img.elf.Progs {
			if p.Type == elf.PT_LOAD && p.Vaddr < base {
				base = p.Vaddr
			}
		}
		if base == ^uint64(0) {
			return 0
		}
		return base
	case FormatPE:
		switch oh := img.pe.OptionalHeader.(type) {
		case *pe.OptionalHeader64:
			return oh.ImageBase
		case *pe.OptionalHeader32:
			return uint64(oh.ImageBase)
		}
	}
	return 0
}

// Entry is the static address of the first instruction, 0 if unknown.
func (img *Image) Entry() uint64 {
	switch img.hdr.Format {
	case FormatMachO:
		return img.machoEntry()
	case FormatELF:
		return img.elf.Entry
	}
	return 0
}

// Validate checks that path holds an image of the format native to goos.
func Validate(path, goos string) (*Image, error) {
	var want Format
	switch goos {
	case "darwin", "ios":
		want = FormatMachO
	case "windows":
		want = FormatPE
	default:
		want = FormatELF
	}

	img, err := Open(path)
	if err != nil {
		return nil, err
	}
	if img.hdr.Format != want {
		return nil, fmt.Errorf("%s is a %s image, expected %s", path, img.hdr.Format, want)
	}
	return img, nil
}

func hostLittleEndian() bool {
	return binary.NativeEndian.Uint16([]byte{1, 0}) == 1
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
