package dbg

import (
	"io"
	"os"

	"caesar.dev/cmd/internal/dbg/config"
	"caesar.dev/cmd/internal/dbg/dap"
	"caesar.dev/cmd/internal/dbg/native"
	"caesar.dev/cmd/internal/dbg/objfile"
	"caesar.dev/cmd/internal/dbg/script"
	"caesar.dev/cmd/internal/dbg/term"
)

func stdio() native.Options {
	return native.Options{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// RunDebug starts the interactive REPL. initCmd runs before the first
// prompt, the configured init command when empty.
func RunDebug(cfg *config.Config, initCmd string) error {
	if initCmd == "" {
		initCmd = cfg.Init
	}
	s := NewSession(cfg, stdio())
	return term.Run(s, cfg.Prompt, initCmd)
}

// RunExec runs the script at path line by line, printing results to w.
func RunExec(cfg *config.Config, path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	s := NewSession(cfg, stdio())
	defer s.Close()
	return script.New(s).Exec(f, w)
}

// RunDump prints the segments and sections of the image at path.
func RunDump(path string, w io.Writer) error {
	img, err := objfile.Open(path)
	if err != nil {
		return err
	}
	return img.Dump(w)
}

// RunDAP serves the debug adapter protocol on port, or on stdin and stdout
// when port is 0.
func RunDAP(cfg *config.Config, port int) error {
	opts := stdio()
	if port == 0 {
		// stdout carries the protocol
		opts.Stdin, opts.Stdout = nil, os.Stderr
	}
	return dap.Run(port, DebuggerConfig(cfg, opts))
}
