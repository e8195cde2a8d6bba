// Package native controls a local process through the operating system's
// debugging interface.
package native

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"caesar.dev/cmd/internal/dbg/logflags"
	"caesar.dev/cmd/internal/dbg/proc"
)

var ErrUnsupportedPlatform = errors.New("native debugging is not supported on this platform")

const DefaultPollInterval = 5 * time.Millisecond

// Options configure a launched or attached process.
type Options struct {
	// PollInterval is how often Receive checks for new stops.
	PollInterval time.Duration

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Log *logrus.Entry
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Log == nil {
		o.Log = logflags.NativeLogger()
	}
	return o
}

// SpawnError is returned when the process could not be created.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("could not launch %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// HandleError is returned when a process exists but cannot be controlled.
type HandleError struct {
	Pid int
	Err error
}

func (e *HandleError) Error() string {
	msg := fmt.Sprintf("could not control process %d: %v", e.Pid, e.Err)
	if isPermission(e.Err) {
		msg += " (try running with elevated privileges or lowering kernel.yama.ptrace_scope)"
	}
	return msg
}

func (e *HandleError) Unwrap() error { return e.Err }

func errFlavor(f proc.Flavor) error {
	return fmt.Errorf("unexpected register flavor %q", f)
}
