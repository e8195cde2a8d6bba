package script

import (
	"fmt"
	"strconv"
)

// Value is nil, string, float64, bool or Callable.
type Value any

// Callable is a function the script can call.
type Callable interface {
	Name() string
	// Arity is the number of arguments, -1 accepts any number.
	Arity() int
	Call(in *Interpreter, args []Value) (Value, error)
}

// RuntimeError aborts the statement being evaluated.
type RuntimeError struct {
	Msg string
}

func (e *RuntimeError) Error() string {
	return e.Msg
}

func runtimeErrorf(format string, args ...any) error {
	return &RuntimeError{Msg: fmt.Sprintf(format, args...)}
}

// Truthy reports false for nil and false, true for everything else.
func Truthy(v Value) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	}
	return true
}

// Stringify renders v for the user. Whole numbers have no fraction.
func Stringify(v Value) string {
	switch v := v.(type) {
	case nil:
		return "(null)"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case Callable:
		return fmt.Sprintf("<native fn: %s>", v.Name())
	}
	return fmt.Sprint(v)
}

// valuesEqual is true for values of the same type that compare equal.
func valuesEqual(a, b Value) bool {
	switch a := a.(type) {
	case nil:
		return b == nil
	case string:
		b, ok := b.(string)
		return ok && a == b
	case float64:
		b, ok := b.(float64)
		return ok && a == b
	case bool:
		b, ok := b.(bool)
		return ok && a == b
	case Callable:
		b, ok := b.(Callable)
		return ok && a == b
	}
	return false
}

// arithmetic returns v as a number. Booleans count as 0 and 1.
func arithmetic(v Value) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func typeName(v Value) string {
	switch v.(type) {
	case nil:
		return "nil"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "bool"
	case Callable:
		return "function"
	}
	return fmt.Sprintf("%T", v)
}

func binaryOp(op TokenType, a, b Value) (Value, error) {
	if op == Plus {
		if as, ok := a.(string); ok {
			if bs, ok := b.(string); ok {
				return as + bs, nil
			}
		}
	}

	x, okA := arithmetic(a)
	y, okB := arithmetic(b)
	if !okA || !okB {
		switch op {
		case Greater, GreaterEqual, Less, LessEqual:
			return nil, runtimeErrorf("Cannot apply operator %s to non-arithmetic types", op)
		}
		_, sa := a.(string)
		_, sb := b.(string)
		if sa && sb {
			return nil, runtimeErrorf("Cannot apply operator %s to strings", op)
		}
		return nil, runtimeErrorf("Unsupported operand types for %s: %s and %s", op, typeName(a), typeName(b))
	}

	switch op {
	case Plus:
		return x + y, nil
	case Minus:
		return x - y, nil
	case Star:
		return x * y, nil
	case Slash:
		return x / y, nil
	case Greater:
		return x > y, nil
	case GreaterEqual:
		return x >= y, nil
	case Less:
		return x < y, nil
	case LessEqual:
		return x <= y, nil
	}
	return nil, runtimeErrorf("Unknown operator %s", op)
}
