package term

import (
	"io"
	"strings"

	"caesar.dev/cmd/internal/dbg/debugger"
	"caesar.dev/cmd/internal/dbg/script"
)

var exitAliases = []string{"exit", "quit", "q"}

// Commands runs REPL lines through the script interpreter bound to one
// debugging session.
type Commands struct {
	in *script.Interpreter
	s  *debugger.Session
}

func DebuggerCommands(s *debugger.Session) *Commands {
	return &Commands{in: script.New(s), s: s}
}

// Process evaluates line and returns what to show. io.EOF asks the REPL
// to stop.
func (c *Commands) Process(line string) (string, error) {
	line = strings.TrimSpace(line)
	for _, alias := range exitAliases {
		if line == alias {
			return "", io.EOF
		}
	}

	v, err := c.in.Run(line)
	if err != nil || v == nil {
		return "", err
	}
	return script.Stringify(v), nil
}

// Close detaches from the live process, if any.
func (c *Commands) Close() error {
	return c.s.Close()
}
