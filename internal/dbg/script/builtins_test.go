package script

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caesar.dev/cmd/internal/dbg/debugger"
	"caesar.dev/cmd/internal/dbg/proc"
	"caesar.dev/cmd/internal/dbg/target"
)

// fakeDebugger records the commands it receives and keeps a plain
// breakpoint map.
type fakeDebugger struct {
	calls   []string
	target  string
	running bool
	bps     map[uint64]bool
}

func newFakeDebugger() *fakeDebugger {
	return &fakeDebugger{bps: make(map[uint64]bool)}
}

func (d *fakeDebugger) record(format string, args ...any) {
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *fakeDebugger) Target(path string) (string, error) {
	d.record("target %s", path)
	d.target = path
	return fmt.Sprintf("Current target set to '%s'", path), nil
}

func (d *fakeDebugger) Launch(args []string) (string, error) {
	d.record("launch %q", args)
	if d.target == "" {
		return "", target.ErrTargetNotSet
	}
	d.running = true
	return "Process 42 launched", nil
}

func (d *fakeDebugger) Attach(pid int) (string, error) {
	d.record("attach %d", pid)
	d.running = true
	return fmt.Sprintf("Process %d attached", pid), nil
}

func (d *fakeDebugger) Resume() (string, error) {
	d.record("resume")
	return "Process 42 exited with code 0", nil
}

func (d *fakeDebugger) Detach() (string, error) {
	d.record("detach")
	return "", target.ErrNoTarget
}

func (d *fakeDebugger) State() (target.State, error) {
	if !d.running {
		return 0, target.ErrNoTarget
	}
	return target.Stopped, nil
}

func (d *fakeDebugger) Dump(w io.Writer) error {
	_, err := io.WriteString(w, "segname: __TEXT\n")
	return err
}

func (d *fakeDebugger) SetBreakpoint(addr uint64) (string, error) {
	d.record("set 0x%x", addr)
	if addr == 0xdead {
		return "", &proc.MemoryError{Op: proc.OpRead, Addr: addr, Err: errors.New("input/output error")}
	}
	d.bps[addr] = true
	return fmt.Sprintf("Breakpoint set at 0x%x", addr), nil
}

func (d *fakeDebugger) RemoveBreakpoint(addr uint64) (string, error) {
	d.record("remove 0x%x", addr)
	if _, ok := d.bps[addr]; !ok {
		return "", &proc.BreakpointError{Addr: addr, Err: proc.ErrNotFound}
	}
	delete(d.bps, addr)
	return fmt.Sprintf("Breakpoint removed at 0x%x", addr), nil
}

func (d *fakeDebugger) ToggleBreakpoint(addr uint64) (string, error) {
	d.record("toggle 0x%x", addr)
	return "", &proc.BreakpointError{Addr: addr, Err: proc.ErrNotFound}
}

func (d *fakeDebugger) ListBreakpoints() ([]proc.Breakpoint, error) {
	return []proc.Breakpoint{
		{Addr: 0x10, Enabled: true},
		{Addr: 0x20},
	}, nil
}

var commandTests = []struct {
	input string
	want  Value
	call  string
}{
	{input: `target "/bin/ls"`, want: "Current target set to '/bin/ls'", call: `target /bin/ls`},
	{input: `run a 1 true 2.5`, want: "Error: Target is not set!", call: `launch ["a" "1" "true" "2.5"]`},
	{input: `attach 1234`, want: "Process 1234 attached", call: "attach 1234"},
	{input: `resume`, want: "Process 42 exited with code 0", call: "resume"},
	{input: `detach`, want: "Error: Target is not running!", call: "detach"},
	{input: `breakpoint set 0x100003f50`, want: "Breakpoint set at 0x100003f50", call: "set 0x100003f50"},
	{input: `breakpoint set "4096"`, want: "Breakpoint set at 0x1000", call: "set 0x1000"},
	{input: `breakpoint remove 0xDEAD`, want: "No breakpoint at 0xDEAD", call: "remove 0xdead"},
	{input: `breakpoint toggle 16`, want: "No breakpoint at 0x10", call: "toggle 0x10"},
	{input: `breakpoint set "zz"`, want: "Error: Could not convert from zz to address!"},
	{input: `breakpoint set (-1)`, want: "Error: Could not convert from -1 to address!"},
	{input: `breakpoint set 1.5`, want: "Error: Could not convert from 1.5 to address!"},
	{input: `breakpoint set "0x1ffffffffffffffff"`, want: "Error: Address provided is out of range!"},
	{input: `breakpoint set 0x1ffffffffffffffff`, want: "Error: Address provided is out of range!"},
	{input: `breakpoint set 0x20000000000001`, want: "Error: Address provided is out of range!"},
	{input: `breakpoint set 0x1fffffffffffff`, want: "Breakpoint set at 0x1fffffffffffff", call: "set 0x1fffffffffffff"},
	{input: `breakpoint set "0x20000000000001"`, want: "Breakpoint set at 0x20000000000001", call: "set 0x20000000000001"},
	{input: `breakpoint set 0xdead`, want: "Error: reading memory at 0xdead failed: input/output error", call: "set 0xdead"},
	{input: `breakpoint set`, want: "Error: Usage: breakpoint set <addr>"},
	{input: `breakpoint jump 1`, want: "Error: Subcommand jump is not valid for breakpoint command"},
	{input: `breakpoint`, want: "Error: Usage: breakpoint list|set|remove|toggle <addr>"},
	{input: `breakpoint list`, want: "1: 0x10 enabled\n2: 0x20 disabled"},
	{input: `state`, want: "Error: Target is not running!"},
	{input: `dump`, want: "segname: __TEXT"},
}

func TestCommands(t *testing.T) {
	for i, test := range commandTests {
		d := newFakeDebugger()
		in := New(d)
		got, err := in.Run(test.input)
		require.NoError(t, err, "test #%d", i)
		assert.Equal(t, test.want, got, "test #%d", i)
		if test.call != "" {
			require.Len(t, d.calls, 1, "test #%d", i)
			assert.Equal(t, test.call, d.calls[0], "test #%d", i)
		} else {
			assert.Empty(t, d.calls, "test #%d", i)
		}
	}
}

func TestRunWithTarget(t *testing.T) {
	d := newFakeDebugger()
	in := New(d)
	_, err := in.Run(`target "/bin/true"`)
	require.NoError(t, err)
	got, err := in.Run("run")
	require.NoError(t, err)
	assert.Equal(t, "Process 42 launched", got)
	got, err = in.Run("state")
	require.NoError(t, err)
	assert.Equal(t, "stopped", got)
}

func TestRunRejectsNil(t *testing.T) {
	in := New(newFakeDebugger())
	_, err := in.Run("run nil")
	var rerr *RuntimeError
	require.True(t, errors.As(err, &rerr))
	assert.Contains(t, err.Error(), "unsupported argument type")
}

func TestSessionWithoutTarget(t *testing.T) {
	s := debugger.New(debugger.Config{})
	in := New(s)

	got, err := in.Run("run")
	require.NoError(t, err)
	assert.Equal(t, "Error: Target is not set!", got)

	got, err = in.Run("breakpoint list")
	require.NoError(t, err)
	assert.Equal(t, "Error: Target is not running!", got)

	got, err = in.Run(`target "/nonexistent/binary"`)
	require.NoError(t, err)
	assert.Contains(t, got, "Error: ")
}

var addressTests = []struct {
	v    Value
	want uint64
	err  string
}{
	{v: "0x10", want: 16},
	{v: "4096", want: 4096},
	{v: 16.0, want: 16},
	{v: 9007199254740991.0, want: 1<<53 - 1},
	{v: 9007199254740992.0, err: "Address provided is out of range!"},
	{v: "", err: "Could not convert from  to address!"},
	{v: true, err: "Could not convert from true to address!"},
	{v: "18446744073709551616", err: "Address provided is out of range!"},
}

func TestParseAddress(t *testing.T) {
	for i, test := range addressTests {
		got, err := ParseAddress(test.v)
		if test.err != "" {
			assert.EqualError(t, err, test.err, "test #%d", i)
			continue
		}
		require.NoError(t, err, "test #%d", i)
		assert.Equal(t, test.want, got, "test #%d", i)
	}
}
