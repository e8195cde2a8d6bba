package objfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caesar.dev/cmd/internal/dbg/proc"
)

type section64 struct {
	name, seg  string
	addr, size uint64
}

type segment64 struct {
	name                   string
	vmaddr, vmsize, fileof uint64
	prot                   uint32
	sections               []section64
}

func name16(s string) []byte {
	b := make([]byte, 16)
	copy(b, s)
	return b
}

// machO64 builds a little-endian 64-bit image out of segments and raw
// extra load commands.
func machO64(cputype uint32, segs []segment64, extra ...[]byte) []byte {
	o := binary.LittleEndian
	var cmds [][]byte
	for _, s := range segs {
		var b bytes.Buffer
		size := segmentSize64 + len(s.sections)*sectionSize64
		binary.Write(&b, o, uint32(lcSegment64))
		binary.Write(&b, o, uint32(size))
		b.Write(name16(s.name))
		binary.Write(&b, o, s.vmaddr)
		binary.Write(&b, o, s.vmsize)
		binary.Write(&b, o, s.fileof)
		binary.Write(&b, o, s.vmsize)
		binary.Write(&b, o, s.prot)
		binary.Write(&b, o, s.prot)
		binary.Write(&b, o, uint32(len(s.sections)))
		binary.Write(&b, o, uint32(0))
		for _, sec := range s.sections {
			b.Write(name16(sec.name))
			b.Write(name16(sec.seg))
			binary.Write(&b, o, sec.addr)
			binary.Write(&b, o, sec.size)
			b.Write(make([]byte, sectionSize64-48))
		}
		cmds = append(cmds, b.Bytes())
	}
	cmds = append(cmds, extra...)

	var out bytes.Buffer
	binary.Write(&out, o, uint32(machMagic64))
	binary.Write(&out, o, cputype)
	binary.Write(&out, o, uint32(0))
	binary.Write(&out, o, uint32(2))
	binary.Write(&out, o, uint32(len(cmds)))
	sizeofcmds := 0
	for _, c := range cmds {
		sizeofcmds += len(c)
	}
	binary.Write(&out, o, uint32(sizeofcmds))
	binary.Write(&out, o, uint32(0))
	binary.Write(&out, o, uint32(0))
	for _, c := range cmds {
		out.Write(c)
	}
	return out.Bytes()
}

func rawCommand(cmd, size uint32, body []byte) []byte {
	b := make([]byte, 8, 8+len(body))
	binary.LittleEndian.PutUint32(b, cmd)
	binary.LittleEndian.PutUint32(b[4:], size)
	return append(b, body...)
}

var helloSegments = []segment64{
	{name: "__PAGEZERO", vmsize: 0x100000000},
	{
		name: "__TEXT", vmaddr: 0x100000000, vmsize: 0x4000, prot: 5,
		sections: []section64{
			{name: "__text", seg: "__TEXT", addr: 0x100003f50, size: 0x40},
			{name: "__cstring", seg: "__TEXT", addr: 0x100003f90, size: 0x10},
		},
	},
}

func TestMachOHeader(t *testing.T) {
	img, err := Parse(machO64(cpuTypeARM64, helloSegments))
	require.NoError(t, err)

	h := img.Header()
	assert.Equal(t, []byte{0xcf, 0xfa, 0xed, 0xfe}, img.Magic())
	assert.True(t, h.Is64)
	assert.Equal(t, !hostLittleEndian(), h.SwapNeeded)
	assert.Equal(t, ArchARM64, h.Arch)
	assert.Equal(t, FormatMachO, h.Format)
	assert.Equal(t, uint64(0x100000000), img.StaticBase())
}

func TestMachOBigEndianNeedsSwap(t *testing.T) {
	data := []byte{0xfe, 0xed, 0xfa, 0xcf, 0x01, 0x00, 0x00, 0x07}
	data = append(data, make([]byte, 24)...)
	img, err := Parse(data)
	require.NoError(t, err)
	h := img.Header()
	assert.True(t, h.Is64)
	assert.Equal(t, hostLittleEndian(), h.SwapNeeded)
	assert.Equal(t, ArchX86_64, h.Arch)
}

func TestMachOWalk(t *testing.T) {
	img, err := Parse(machO64(cpuTypeX86_64, helloSegments))
	require.NoError(t, err)

	var segs []string
	var sects []Section
	err = img.ForEachSegment(func(seg Segment) error {
		segs = append(segs, seg.Name)
		return img.ForEachSection(seg, func(s Section) error {
			sects = append(sects, s)
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"__PAGEZERO", "__TEXT"}, segs)
	assert.Equal(t, []Section{
		{Name: "__text", Segment: "__TEXT", Addr: 0x100003f50, Size: 0x40},
		{Name: "__cstring", Segment: "__TEXT", Addr: 0x100003f90, Size: 0x10},
	}, sects)
}

func TestMachOSkipsUnknownCommands(t *testing.T) {
	unknown := rawCommand(0x2, 24, make([]byte, 16))
	img, err := Parse(machO64(cpuTypeARM64, helloSegments[1:], unknown))
	require.NoError(t, err)

	var prot proc.Prot
	n := 0
	require.NoError(t, img.ForEachSegment(func(seg Segment) error {
		n++
		prot = seg.Prot
		return nil
	}))
	assert.Equal(t, 1, n)
	assert.Equal(t, proc.ProtCode, prot)
}

func TestMachOEntry(t *testing.T) {
	main := make([]byte, 16)
	binary.LittleEndian.PutUint64(main, 0x3f50)
	img, err := Parse(machO64(cpuTypeARM64, helloSegments, rawCommand(lcMain, 24, main)))
	require.NoError(t, err)
	assert.Equal(t, uint64(0x100003f50), img.Entry())
}

var brokenTests = []struct {
	data []byte
	want error
}{
	{data: []byte{0xcf, 0xfa}, want: ErrTruncatedImage},
	{data: []byte{1, 2, 3, 4, 5, 6, 7, 8}, want: ErrMalformedImage},
	// cmdsize smaller than a load command
	{data: machO64(cpuTypeARM64, nil, rawCommand(lcSegment64, 4, nil)), want: ErrMalformedImage},
	// cmdsize past the end of file
	{data: machO64(cpuTypeARM64, nil, rawCommand(0x2, 4096, make([]byte, 8))), want: ErrTruncatedImage},
	// segment too short for its sections
	{data: machO64(cpuTypeARM64, nil, func() []byte {
		body := make([]byte, segmentSize64-8)
		binary.LittleEndian.PutUint32(body[56:], 3)
		return rawCommand(lcSegment64, segmentSize64, body)
	}()), want: ErrMalformedImage},
}

func TestBrokenImages(t *testing.T) {
	for i, test := range brokenTests {
		img, err := Parse(test.data)
		if err == nil {
			err = img.ForEachSegment(func(Segment) error { return nil })
		}
		assert.True(t, errors.Is(err, test.want), "test #%d: %v", i, err)
	}
}

func TestTruncatedCommandHeader(t *testing.T) {
	data := machO64(cpuTypeARM64, helloSegments)
	binary.LittleEndian.PutUint32(data[16:], 5)
	img, err := Parse(data)
	require.NoError(t, err)
	err = img.ForEachSegment(func(Segment) error { return nil })
	assert.ErrorIs(t, err, ErrTruncatedImage)
}

func TestDump(t *testing.T) {
	img, err := Parse(machO64(cpuTypeARM64, helloSegments))
	require.NoError(t, err)

	var b bytes.Buffer
	require.NoError(t, img.Dump(&b))
	out := b.String()
	assert.Contains(t, out, "Mach-O arm64\n")
	assert.Contains(t, out, "segname: __TEXT")
	assert.Contains(t, out, "vmaddr: 0x100000000")
	assert.Contains(t, out, "Section: __text; Address: 0x100003f50\n")
}

func TestELFSelf(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("test binary is not ELF")
	}
	exe, err := os.Executable()
	require.NoError(t, err)

	img, err := Validate(exe, "linux")
	require.NoError(t, err)
	h := img.Header()
	assert.Equal(t, FormatELF, h.Format)
	assert.True(t, h.Is64)
	assert.NotZero(t, img.Entry())
	assert.Equal(t, []byte("\x7fELF"), img.Magic())

	var text bool
	require.NoError(t, img.ForEachSegment(func(seg Segment) error {
		assert.GreaterOrEqual(t, seg.Addr, img.StaticBase())
		return img.ForEachSection(seg, func(s Section) error {
			if s.Name == ".text" {
				text = true
				assert.NotZero(t, seg.Prot&proc.ProtExec)
			}
			return nil
		})
	}))
	assert.True(t, text)

	_, err = Validate(exe, "darwin")
	assert.Error(t, err)
}

func TestValidateMissing(t *testing.T) {
	_, err := Validate(filepath.Join(t.TempDir(), "missing"), "linux")
	assert.Error(t, err)
}
