package dbg

import (
	"caesar.dev/cmd/internal/dbg/config"
	"caesar.dev/cmd/internal/dbg/debugger"
	"caesar.dev/cmd/internal/dbg/logflags"
	"caesar.dev/cmd/internal/dbg/native"
	"caesar.dev/cmd/internal/dbg/target"
)

// DebuggerConfig returns the session settings of cfg, with processes
// controlled by the native backend. opts sets where the debuggee reads
// and writes.
func DebuggerConfig(cfg *config.Config, opts native.Options) debugger.Config {
	opts.PollInterval = cfg.Debugger.PollInterval.D()
	opts.Log = logflags.NativeLogger()
	return debugger.Config{
		ReceiveTimeout: cfg.Debugger.ReceiveTimeout.D(),
		StopTimeout:    cfg.Debugger.StopTimeout.D(),
		Launch: func(path string, args []string) (target.Process, error) {
			return native.Launch(path, args, opts)
		},
		Attach: func(pid int) (target.Process, error) {
			return native.AttachPID(pid, opts)
		},
		Log: logflags.DebuggerLogger(),
	}
}

func NewSession(cfg *config.Config, opts native.Options) *debugger.Session {
	return debugger.New(DebuggerConfig(cfg, opts))
}
