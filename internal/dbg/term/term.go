package term

import (
	"fmt"
	"io"

	"golang.org/x/term"
)

// Term is the interactive front end: it reads lines with editing and
// history and shows the result of every command.
type Term struct {
	t   *term.Terminal
	cmd *Commands
}

func New(rw io.ReadWriter, prompt string, cmd *Commands) *Term {
	return &Term{
		t:   term.NewTerminal(rw, prompt),
		cmd: cmd,
	}
}

// SetSize tells the line editor the terminal dimensions.
func (t *Term) SetSize(width, height int) error {
	return t.t.SetSize(width, height)
}

// Run executes initCmd, if any, and then reads commands until EOF or an
// exit command.
func (t *Term) Run(initCmd string) error {
	if initCmd != "" {
		if done := t.process(initCmd); done {
			return t.cmd.Close()
		}
	}
	for {
		line, err := t.t.ReadLine()
		if err == io.EOF {
			fmt.Fprintln(t.t)
			break
		}
		if err != nil {
			t.cmd.Close()
			return fmt.Errorf("reading line: %w", err)
		}
		if done := t.process(line); done {
			break
		}
	}
	return t.cmd.Close()
}

func (t *Term) process(line string) bool {
	out, err := t.cmd.Process(line)
	if err == io.EOF {
		return true
	}
	if err != nil {
		t.printError(err)
		return false
	}
	if out != "" {
		fmt.Fprintln(t.t, out)
	}
	return false
}

func (t *Term) printError(err error) {
	fmt.Fprintf(t.t, "%sCommand failed: %s%s\n", t.t.Escape.Red, err, t.t.Escape.Reset)
}
