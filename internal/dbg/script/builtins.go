package script

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"caesar.dev/cmd/internal/dbg/proc"
	"caesar.dev/cmd/internal/dbg/target"
)

// Debugger is the session the debugger natives drive.
type Debugger interface {
	Target(path string) (string, error)
	Launch(args []string) (string, error)
	Attach(pid int) (string, error)
	Resume() (string, error)
	Detach() (string, error)
	State() (target.State, error)
	Dump(w io.Writer) error
	SetBreakpoint(addr uint64) (string, error)
	RemoveBreakpoint(addr uint64) (string, error)
	ToggleBreakpoint(addr uint64) (string, error)
	ListBreakpoints() ([]proc.Breakpoint, error)
}

type native struct {
	name  string
	arity int
	fn    func(in *Interpreter, args []Value) (Value, error)
}

func (n *native) Name() string { return n.name }
func (n *native) Arity() int   { return n.arity }

func (n *native) Call(in *Interpreter, args []Value) (Value, error) {
	return n.fn(in, args)
}

func coreNatives() []Callable {
	return []Callable{
		&native{name: "len", arity: 1, fn: func(_ *Interpreter, args []Value) (Value, error) {
			s, ok := args[0].(string)
			if !ok {
				return nil, runtimeErrorf("len can only be called on a string")
			}
			return float64(len(s)), nil
		}},
		&native{name: "print", arity: 1, fn: func(_ *Interpreter, args []Value) (Value, error) {
			return args[0], nil
		}},
	}
}

// result turns the outcome of a debugger operation into the message the
// user sees. Debugger errors never abort the script.
func result(msg string, err error) Value {
	if err == nil {
		return msg
	}
	text := "Error: " + err.Error()
	if errors.Is(err, proc.ErrNotFound) {
		text = err.Error()
	}
	if msg != "" {
		return msg + "\n" + text
	}
	return text
}

var (
	errNotAddress = errors.New("not an address")
	errAddrRange  = errors.New("Address provided is out of range!")
)

// AddressError is an argument that does not denote an address.
type AddressError struct {
	Text string
	Err  error
}

func (e *AddressError) Error() string {
	if e.Err == errAddrRange {
		return e.Err.Error()
	}
	return fmt.Sprintf("Could not convert from %s to address!", e.Text)
}

func (e *AddressError) Unwrap() error {
	return e.Err
}

// ParseAddress accepts a number or a decimal or 0x prefixed string.
func ParseAddress(v Value) (uint64, error) {
	switch v := v.(type) {
	case string:
		addr, err := strconv.ParseUint(v, 0, 64)
		if errors.Is(err, strconv.ErrRange) {
			return 0, &AddressError{Text: v, Err: errAddrRange}
		}
		if err != nil {
			return 0, &AddressError{Text: v, Err: errNotAddress}
		}
		return addr, nil
	case float64:
		switch {
		case v < 0 || v != math.Trunc(v) || math.IsNaN(v):
			return 0, &AddressError{Text: Stringify(v), Err: errNotAddress}
		case v >= math.Exp2(53):
			// Past 2^53 a number no longer holds every integer, so the
			// address may have been rounded. Quote it instead.
			return 0, &AddressError{Text: Stringify(v), Err: errAddrRange}
		}
		return uint64(v), nil
	}
	return 0, &AddressError{Text: Stringify(v), Err: errNotAddress}
}

func debuggerNatives(d Debugger) []Callable {
	return []Callable{
		&native{name: "target", arity: 1, fn: func(_ *Interpreter, args []Value) (Value, error) {
			path, ok := args[0].(string)
			if !ok {
				return result("", fmt.Errorf("target expects a path, got %s", typeName(args[0]))), nil
			}
			return result(d.Target(path)), nil
		}},
		&native{name: "run", arity: -1, fn: func(_ *Interpreter, args []Value) (Value, error) {
			argv := make([]string, 0, len(args))
			for _, a := range args {
				switch a.(type) {
				case string, float64, bool:
					argv = append(argv, Stringify(a))
				default:
					return nil, runtimeErrorf("unsupported argument type %s", typeName(a))
				}
			}
			return result(d.Launch(argv)), nil
		}},
		&native{name: "attach", arity: 1, fn: func(_ *Interpreter, args []Value) (Value, error) {
			pid, err := ParseAddress(args[0])
			if err != nil || pid == 0 || pid > math.MaxInt32 {
				return result("", fmt.Errorf("invalid pid %s", Stringify(args[0]))), nil
			}
			return result(d.Attach(int(pid))), nil
		}},
		&native{name: "resume", arity: 0, fn: func(_ *Interpreter, _ []Value) (Value, error) {
			return result(d.Resume()), nil
		}},
		&native{name: "detach", arity: 0, fn: func(_ *Interpreter, _ []Value) (Value, error) {
			return result(d.Detach()), nil
		}},
		&native{name: "state", arity: 0, fn: func(_ *Interpreter, _ []Value) (Value, error) {
			st, err := d.State()
			if err != nil {
				return result("", err), nil
			}
			return st.String(), nil
		}},
		&native{name: "dump", arity: 0, fn: func(_ *Interpreter, _ []Value) (Value, error) {
			var b strings.Builder
			if err := d.Dump(&b); err != nil {
				return result("", err), nil
			}
			return strings.TrimRight(b.String(), "\n"), nil
		}},
		&native{name: "breakpoint", arity: -1, fn: func(_ *Interpreter, args []Value) (Value, error) {
			return breakpoint(d, args), nil
		}},
	}
}

type addrOp func(addr uint64) (string, error)

// breakpoint dispatches "breakpoint list|set|remove|toggle <addr>".
func breakpoint(d Debugger, args []Value) Value {
	if len(args) == 0 {
		return result("", errors.New("Usage: breakpoint list|set|remove|toggle <addr>"))
	}
	sub, ok := args[0].(string)
	if !ok {
		return result("", fmt.Errorf("Subcommand %s is not valid for breakpoint command", Stringify(args[0])))
	}

	if sub == "list" {
		bps, err := d.ListBreakpoints()
		if err != nil {
			return result("", err)
		}
		if len(bps) == 0 {
			return "No breakpoints set"
		}
		lines := make([]string, 0, len(bps))
		for i, bp := range bps {
			state := "enabled"
			if !bp.Enabled {
				state = "disabled"
			}
			lines = append(lines, fmt.Sprintf("%d: 0x%x %s", i+1, bp.Addr, state))
		}
		return strings.Join(lines, "\n")
	}

	ops := map[string]addrOp{
		"set":    d.SetBreakpoint,
		"remove": d.RemoveBreakpoint,
		"toggle": d.ToggleBreakpoint,
	}
	op, ok := ops[sub]
	if !ok {
		return result("", fmt.Errorf("Subcommand %s is not valid for breakpoint command", sub))
	}
	if len(args) != 2 {
		return result("", fmt.Errorf("Usage: breakpoint %s <addr>", sub))
	}
	addr, err := ParseAddress(args[1])
	if err != nil {
		return result("", err)
	}
	return result(op(addr))
}
