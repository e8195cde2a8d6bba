package dap

import (
	"io"
	"os"

	"caesar.dev/cmd/internal/dbg/debugger"
)

// Run serves DAP on the given port, or on stdin and stdout when port is 0.
func Run(port int, cfg debugger.Config) error {
	if port > 0 {
		return NewServer(port, cfg).Run()
	}

	pipe := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	err := NewSession(pipe, cfg).Serve()
	if err == io.EOF {
		return nil
	}
	return err
}
