package script

import (
	"bufio"
	"fmt"
	"io"
)

// Interpreter evaluates statements one line at a time against a single
// environment.
type Interpreter struct {
	env *Environment
}

// New returns an interpreter with the core natives. A non-nil d also binds
// the debugger commands.
func New(d Debugger) *Interpreter {
	in := &Interpreter{env: NewEnvironment()}
	for _, fn := range coreNatives() {
		in.env.DefineNative(fn)
	}
	if d != nil {
		for _, fn := range debuggerNatives(d) {
			in.env.DefineNative(fn)
		}
	}
	return in
}

// Run scans, parses and evaluates one line. Blank lines and comments
// evaluate to nil.
func (in *Interpreter) Run(line string) (Value, error) {
	tokens, err := NewScanner(line).Scan()
	if err != nil {
		return nil, err
	}
	if len(tokens) == 1 {
		return nil, nil
	}
	stmt, err := NewParser(tokens).Parse()
	if err != nil {
		return nil, err
	}
	return in.Interpret(stmt)
}

func (in *Interpreter) Interpret(stmt Stmt) (Value, error) {
	return stmt.Accept(in)
}

// Exec runs every line of r and writes non-nil results to w. Runtime
// errors are reported and execution goes on; a line that does not scan or
// parse stops the script.
func (in *Interpreter) Exec(r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		v, err := in.Run(sc.Text())
		switch err.(type) {
		case nil:
		case *ScanError, *ParseError:
			return fmt.Errorf("line %d: %w", n, err)
		default:
			fmt.Fprintf(w, "Error: %v\n", err)
			continue
		}
		if v != nil {
			fmt.Fprintln(w, Stringify(v))
		}
	}
	return sc.Err()
}

func (in *Interpreter) evaluate(e Expr) (Value, error) {
	return e.Accept(in)
}

func (in *Interpreter) VisitLiteral(e *Literal) (Value, error) {
	return e.Value, nil
}

func (in *Interpreter) VisitGrouping(e *Grouping) (Value, error) {
	return in.evaluate(e.Expr)
}

func (in *Interpreter) VisitUnary(e *Unary) (Value, error) {
	right, err := in.evaluate(e.Right)
	if err != nil {
		return nil, err
	}
	switch e.Op.Type {
	case Bang:
		return !Truthy(right), nil
	case Minus:
		n, ok := arithmetic(right)
		if !ok {
			return nil, runtimeErrorf("Operand of - must be a number, got %s", typeName(right))
		}
		return -n, nil
	}
	return nil, runtimeErrorf("Unknown operator %s", e.Op.Type)
}

func (in *Interpreter) VisitBinary(e *Binary) (Value, error) {
	left, err := in.evaluate(e.Left)
	if err != nil {
		return nil, err
	}
	right, err := in.evaluate(e.Right)
	if err != nil {
		return nil, err
	}
	switch e.Op.Type {
	case EqualEqual:
		return valuesEqual(left, right), nil
	case BangEqual:
		return !valuesEqual(left, right), nil
	}
	return binaryOp(e.Op.Type, left, right)
}

func (in *Interpreter) VisitVariable(e *Variable) (Value, error) {
	return in.env.Get(e.Name.Lexeme)
}

func (in *Interpreter) VisitAssign(e *Assign) (Value, error) {
	v, err := in.evaluate(e.Value)
	if err != nil {
		return nil, err
	}
	if err := in.env.Assign(e.Name.Lexeme, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (in *Interpreter) VisitExprStmt(s *ExprStmt) (Value, error) {
	return in.evaluate(s.Expr)
}

func (in *Interpreter) VisitVarStmt(s *VarStmt) (Value, error) {
	var v Value
	if s.Init != nil {
		var err error
		if v, err = in.evaluate(s.Init); err != nil {
			return nil, err
		}
	}
	return nil, in.env.Define(s.Name.Lexeme, v)
}

// VisitCallStmt calls the callee with its arguments. An argument that is a
// bare unbound name stands for the name itself, so commands read as
// "breakpoint set 0x10". A callee that is a plain variable without
// arguments evaluates to its value.
func (in *Interpreter) VisitCallStmt(s *CallStmt) (Value, error) {
	callee, err := in.env.Get(s.Callee.Lexeme)
	if err != nil {
		return nil, err
	}
	fn, ok := callee.(Callable)
	if !ok {
		if len(s.Args) == 0 {
			return callee, nil
		}
		return nil, runtimeErrorf("Can only call functions, '%s' is a %s", s.Callee.Lexeme, typeName(callee))
	}

	args := make([]Value, 0, len(s.Args))
	for _, a := range s.Args {
		if v, ok := a.(*Variable); ok && !in.env.Has(v.Name.Lexeme) {
			args = append(args, v.Name.Lexeme)
			continue
		}
		v, err := in.evaluate(a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}

	if n := fn.Arity(); n >= 0 && n != len(args) {
		return nil, runtimeErrorf("%s expects %d argument(s) but got %d", fn.Name(), n, len(args))
	}
	return fn.Call(in, args)
}
