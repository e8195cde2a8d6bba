package debugger

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caesar.dev/cmd/internal/dbg/objfile"
	"caesar.dev/cmd/internal/dbg/proc"
	"caesar.dev/cmd/internal/dbg/target"
	"caesar.dev/cmd/internal/dbg/target/targettest"
)

const testSlide = 0x1000

var prologue = []byte{0xfd, 0x7b, 0xbf, 0xa9, 0xfd, 0x03, 0x00, 0x91}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.Out = io.Discard
	return logrus.NewEntry(l)
}

// newTestSession returns a session whose target is the test binary and
// whose launches start f.
func newTestSession(t *testing.T, f *targettest.Process, stopTimeout time.Duration) (*Session, uint64) {
	exe, err := os.Executable()
	require.NoError(t, err)
	img, err := objfile.Open(exe)
	require.NoError(t, err)
	f.ImageBase = img.StaticBase() + testSlide

	s := New(Config{
		ReceiveTimeout: 5 * time.Millisecond,
		StopTimeout:    stopTimeout,
		Launch: func(path string, args []string) (target.Process, error) {
			return f, nil
		},
		Attach: func(pid int) (target.Process, error) {
			f.PID = pid
			return f, nil
		},
		Log: quietLog(),
	})
	_, err = s.Target(exe)
	require.NoError(t, err)
	return s, img.StaticBase()
}

func TestRunWithoutTarget(t *testing.T) {
	s := New(Config{Log: quietLog()})
	_, err := s.Launch(nil)
	assert.ErrorIs(t, err, target.ErrTargetNotSet)
	assert.Equal(t, "Target is not set!", err.Error())
	assert.Equal(t, 0, s.Pid())
}

func TestNoTarget(t *testing.T) {
	s := New(Config{Log: quietLog()})

	_, err := s.SetBreakpoint(0x10)
	assert.ErrorIs(t, err, target.ErrNoTarget)
	_, err = s.RemoveBreakpoint(0x10)
	assert.ErrorIs(t, err, target.ErrNoTarget)
	_, err = s.ToggleBreakpoint(0x10)
	assert.ErrorIs(t, err, target.ErrNoTarget)
	_, err = s.ListBreakpoints()
	assert.ErrorIs(t, err, target.ErrNoTarget)
	_, err = s.Resume()
	assert.ErrorIs(t, err, target.ErrNoTarget)
	_, err = s.State()
	assert.ErrorIs(t, err, target.ErrNoTarget)
	_, err = s.Detach()
	assert.ErrorIs(t, err, target.ErrNoTarget)
	assert.ErrorIs(t, s.Dump(io.Discard), target.ErrTargetNotSet)
	assert.NoError(t, s.Close())
}

func TestTargetRejectsGarbage(t *testing.T) {
	path := t.TempDir() + "/garbage"
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))
	s := New(Config{Log: quietLog()})
	_, err := s.Target(path)
	assert.ErrorIs(t, err, objfile.ErrMalformedImage)
}

func TestLaunchStopsAtEntry(t *testing.T) {
	f := targettest.New(proc.ARM64, 42)
	s, _ := newTestSession(t, f, 5*time.Second)

	msg, err := s.Launch([]string{"a", "b"})
	require.NoError(t, err)
	assert.Contains(t, msg, "Process 42 launched: '/bin/hello'")
	assert.Contains(t, msg, "Process 42 stopped: thread 42")

	st, err := s.State()
	require.NoError(t, err)
	assert.Equal(t, target.Stopped, st)
	assert.Equal(t, 42, s.Pid())

	slide, err := s.Slide()
	require.NoError(t, err)
	assert.Equal(t, uint64(testSlide), slide)
	require.NoError(t, s.Close())
	assert.True(t, f.Detached())
}

func TestBreakpointHitAndResume(t *testing.T) {
	f := targettest.New(proc.ARM64, 42)
	s, base := newTestSession(t, f, 5*time.Second)
	static := base + 0x3f50
	runtime := static + testSlide
	f.Fill(runtime, prologue)

	f.Script(
		func(f *targettest.Process) { f.Stop(7, proc.ExcBreakpoint, 5, runtime) },
		func(f *targettest.Process) { f.Exit(3) },
	)

	_, err := s.Launch(nil)
	require.NoError(t, err)
	_, err = s.SetBreakpoint(static)
	require.NoError(t, err)
	assert.Equal(t, proc.ARM64.Trap, f.Get(runtime, 4))

	msg, err := s.Resume()
	require.NoError(t, err)
	assert.Contains(t, msg, "thread 7")
	assert.Contains(t, msg, "breakpoint")
	assert.Contains(t, msg, "stp")
	// original instruction is back while stopped
	assert.Equal(t, prologue[:4], f.Get(runtime, 4))
	r := f.LastReply()
	assert.Equal(t, runtime, r.Regs.PC)
	assert.False(t, r.Deliver)

	stop := s.LastStop()
	require.NotNil(t, stop)
	assert.Equal(t, static, stop.StaticPC)

	msg, err = s.Resume()
	require.NoError(t, err)
	assert.Equal(t, "Process 42 exited with code 3", msg)
	code, err := s.ExitStatus()
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, []int{7}, f.StepOvers())
	assert.Equal(t, proc.ARM64.Trap, f.Get(runtime, 4))

	st, err := s.State()
	require.NoError(t, err)
	assert.Equal(t, target.Exited, st)
	_, err = s.Resume()
	assert.ErrorIs(t, err, target.ErrNotRunning)
	_, err = s.SetBreakpoint(static)
	assert.ErrorIs(t, err, target.ErrNoTarget)
}

func TestInterruptedStepKeepsBreakpointLifted(t *testing.T) {
	f := targettest.New(proc.ARM64, 42)
	s, base := newTestSession(t, f, 5*time.Second)
	static := base + 0x3f50
	runtime := static + testSlide
	f.Fill(runtime, prologue)

	f.Script(
		func(f *targettest.Process) { f.Stop(7, proc.ExcBreakpoint, 5, runtime) },
		func(f *targettest.Process) { f.Stop(7, proc.ExcBadAccess, 11, 0x2000) },
		func(f *targettest.Process) { f.Exit(3) },
	)

	_, err := s.Launch(nil)
	require.NoError(t, err)
	_, err = s.SetBreakpoint(static)
	require.NoError(t, err)
	_, err = s.Resume()
	require.NoError(t, err)

	f.InterruptSteps(1)
	_, err = s.Resume()
	require.NoError(t, err)
	assert.Equal(t, []int{7}, f.StepOvers())
	// not re-armed, so the thread runs the original instruction
	assert.Equal(t, prologue[:4], f.Get(runtime, 4))
	assert.False(t, s.LastStop().Breakpoint)

	msg, err := s.Resume()
	require.NoError(t, err)
	assert.Equal(t, "Process 42 exited with code 3", msg)
	assert.Equal(t, []int{7}, f.StepOvers())
	assert.Equal(t, proc.ARM64.Trap, f.Get(runtime, 4))
}

func TestToggleAtStopStepsOver(t *testing.T) {
	f := targettest.New(proc.ARM64, 42)
	s, base := newTestSession(t, f, 5*time.Second)
	static := base + 0x3f50
	runtime := static + testSlide
	f.Fill(runtime, prologue)

	f.Script(
		func(f *targettest.Process) { f.Stop(7, proc.ExcBreakpoint, 5, runtime) },
		func(f *targettest.Process) { f.Exit(0) },
	)

	_, err := s.Launch(nil)
	require.NoError(t, err)
	_, err = s.SetBreakpoint(static)
	require.NoError(t, err)
	_, err = s.Resume()
	require.NoError(t, err)

	_, err = s.ToggleBreakpoint(static)
	require.NoError(t, err)
	_, err = s.ToggleBreakpoint(static)
	require.NoError(t, err)
	assert.Equal(t, proc.ARM64.Trap, f.Get(runtime, 4))

	msg, err := s.Resume()
	require.NoError(t, err)
	assert.Equal(t, "Process 42 exited with code 0", msg)
	assert.Equal(t, []int{7}, f.StepOvers())
	assert.Equal(t, proc.ARM64.Trap, f.Get(runtime, 4))
}

func TestBreakpointHitRewindsPC(t *testing.T) {
	f := targettest.New(proc.AMD64, 42)
	s, base := newTestSession(t, f, 5*time.Second)
	static := base + 0x1000
	runtime := static + testSlide
	f.Fill(runtime, []byte{0x55, 0x48, 0x89, 0xe5})

	f.Script(
		func(f *targettest.Process) { f.Stop(42, proc.ExcBreakpoint, 5, runtime+1) },
	)

	_, err := s.Launch(nil)
	require.NoError(t, err)
	_, err = s.SetBreakpoint(static)
	require.NoError(t, err)
	assert.Equal(t, byte(0xcc), f.Get(runtime, 1)[0])

	_, err = s.Resume()
	require.NoError(t, err)
	assert.Equal(t, runtime, f.LastReply().Regs.PC)
	assert.Equal(t, byte(0x55), f.Get(runtime, 1)[0])
}

var stopTests = []struct {
	exc     proc.Exception
	sig     int
	pc      uint64
	wantPC  uint64
	deliver bool
}{
	{exc: proc.ExcBadInstruction, sig: 4, pc: 0x2000, wantPC: 0x2004},
	{exc: proc.ExcBadAccess, sig: 11, pc: 0x2000, wantPC: 0x2000, deliver: true},
	// a trap without a breakpoint leaves the PC alone
	{exc: proc.ExcBreakpoint, sig: 5, pc: 0x2000, wantPC: 0x2000},
}

func TestStopClassification(t *testing.T) {
	for i, test := range stopTests {
		f := targettest.New(proc.ARM64, 42)
		s, _ := newTestSession(t, f, 5*time.Second)
		test := test
		f.Script(
			func(f *targettest.Process) { f.Stop(42, test.exc, test.sig, test.pc) },
		)

		_, err := s.Launch(nil)
		require.NoError(t, err, "test #%d", i)
		_, err = s.Resume()
		require.NoError(t, err, "test #%d", i)

		r := f.LastReply()
		assert.Equal(t, test.wantPC, r.Regs.PC, "test #%d", i)
		assert.Equal(t, test.deliver, r.Deliver, "test #%d", i)
		st, _ := s.State()
		assert.Equal(t, target.Stopped, st, "test #%d", i)
		require.NoError(t, s.Close(), "test #%d", i)
	}
}

func TestResumeWhileRunning(t *testing.T) {
	f := targettest.New(proc.ARM64, 42)
	s, _ := newTestSession(t, f, 50*time.Millisecond)

	_, err := s.Launch(nil)
	require.NoError(t, err)

	// nothing in the script, the target keeps running
	_, err = s.Resume()
	assert.Error(t, err)
	_, err = s.Resume()
	assert.ErrorIs(t, err, target.ErrStillRunning)
	_, err = s.SetBreakpoint(0x10)
	assert.ErrorIs(t, err, target.ErrStillRunning)
	_, err = s.Detach()
	assert.ErrorIs(t, err, target.ErrStillRunning)
	assert.Equal(t, 1, f.Resumes())

	f.Stop(42, proc.ExcSoftware, 2, 0x2000)
	assert.Eventually(t, func() bool {
		st, _ := s.State()
		return st == target.Stopped
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close())
}

func TestBreakpointMessages(t *testing.T) {
	f := targettest.New(proc.ARM64, 42)
	s, base := newTestSession(t, f, 5*time.Second)
	static := base + 0x100
	f.Fill(static+testSlide, prologue)

	_, err := s.Launch(nil)
	require.NoError(t, err)

	_, err = s.RemoveBreakpoint(0xDEAD)
	assert.ErrorIs(t, err, proc.ErrNotFound)
	assert.Equal(t, "No breakpoint at 0xDEAD", err.Error())

	msg, err := s.SetBreakpoint(static)
	require.NoError(t, err)
	assert.Contains(t, msg, "Breakpoint set at")
	_, err = s.SetBreakpoint(static)
	assert.ErrorIs(t, err, proc.ErrAlreadySet)

	msg, err = s.ToggleBreakpoint(static)
	require.NoError(t, err)
	assert.Contains(t, msg, "disabled")
	bps, err := s.ListBreakpoints()
	require.NoError(t, err)
	require.Len(t, bps, 1)
	assert.False(t, bps[0].Enabled)

	msg, err = s.RemoveBreakpoint(static)
	require.NoError(t, err)
	assert.Contains(t, msg, "removed")
	bps, _ = s.ListBreakpoints()
	assert.Empty(t, bps)
	assert.Equal(t, prologue, f.Get(static+testSlide, len(prologue)))
}

func TestDetachRestoresCode(t *testing.T) {
	f := targettest.New(proc.ARM64, 42)
	s, base := newTestSession(t, f, 5*time.Second)
	static := base + 0x100
	f.Fill(static+testSlide, prologue)

	_, err := s.Launch(nil)
	require.NoError(t, err)
	_, err = s.SetBreakpoint(static)
	require.NoError(t, err)

	msg, err := s.Detach()
	require.NoError(t, err)
	assert.Equal(t, "Process 42 detached", msg)
	assert.True(t, f.Detached())
	assert.Equal(t, prologue, f.Get(static+testSlide, len(prologue)))
	_, err = s.State()
	assert.ErrorIs(t, err, target.ErrNoTarget)
}

func TestAttach(t *testing.T) {
	f := targettest.New(proc.ARM64, 42)
	s, _ := newTestSession(t, f, 5*time.Second)

	msg, err := s.Attach(99)
	require.NoError(t, err)
	assert.Contains(t, msg, "Process 99 attached")
	st, _ := s.State()
	assert.Equal(t, target.Stopped, st)
	require.NoError(t, s.Close())
}

func TestDump(t *testing.T) {
	f := targettest.New(proc.ARM64, 42)
	s, _ := newTestSession(t, f, 5*time.Second)
	var b bytes.Buffer
	require.NoError(t, s.Dump(&b))
	assert.Contains(t, b.String(), "segname:")
}

func TestSessionsAreIndependent(t *testing.T) {
	f1 := targettest.New(proc.ARM64, 42)
	f2 := targettest.New(proc.ARM64, 42)
	f2.PID = 43
	s1, _ := newTestSession(t, f1, 5*time.Second)
	s2, _ := newTestSession(t, f2, 5*time.Second)

	_, err := s1.Launch(nil)
	require.NoError(t, err)
	_, err = s2.Launch(nil)
	require.NoError(t, err)
	assert.Equal(t, 42, s1.Pid())
	assert.Equal(t, 43, s2.Pid())

	require.NoError(t, s1.Close())
	st, err := s2.State()
	require.NoError(t, err)
	assert.Equal(t, target.Stopped, st)
	require.NoError(t, s2.Close())
}

func TestMappedPathResolvesLinks(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	file := filepath.Join(dir, "hello")
	require.NoError(t, os.WriteFile(file, nil, 0o755))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(file, link))

	assert.Equal(t, file, mappedPath(link))
	assert.Equal(t, filepath.Join(dir, "missing"), mappedPath(filepath.Join(dir, "missing")))
}
