package term

import (
	"errors"
	"io"
	"os"

	"golang.org/x/term"

	"caesar.dev/cmd/internal/dbg/debugger"
)

// Run starts the REPL on the controlling terminal.
func Run(s *debugger.Session, prompt, initCmd string) error {
	in, out := int(os.Stdin.Fd()), int(os.Stdout.Fd())
	if !term.IsTerminal(in) || !term.IsTerminal(out) {
		return errors.New("stdin and stdout must be terminals")
	}

	st, err := term.MakeRaw(in)
	if err != nil {
		return err
	}
	defer term.Restore(in, st)

	screen := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	t := New(screen, prompt, DebuggerCommands(s))
	if w, h, err := term.GetSize(out); err == nil {
		t.SetSize(w, h)
	}
	return t.Run(initCmd)
}
