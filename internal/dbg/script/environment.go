package script

// Environment maps names to values. Native functions live beside the
// variables and cannot be redefined.
type Environment struct {
	values  map[string]Value
	natives map[string]Callable
}

func NewEnvironment() *Environment {
	return &Environment{
		values:  make(map[string]Value),
		natives: make(map[string]Callable),
	}
}

// DefineNative installs fn under its name.
func (e *Environment) DefineNative(fn Callable) {
	e.natives[fn.Name()] = fn
}

// Define creates or replaces a variable.
func (e *Environment) Define(name string, v Value) error {
	if _, ok := e.natives[name]; ok {
		return runtimeErrorf("Cannot assign to %s as it is a function", name)
	}
	e.values[name] = v
	return nil
}

// Assign changes an existing variable.
func (e *Environment) Assign(name string, v Value) error {
	if _, ok := e.natives[name]; ok {
		return runtimeErrorf("Cannot assign to %s as it is a function", name)
	}
	if _, ok := e.values[name]; !ok {
		return runtimeErrorf("Undefined variable '%s'.", name)
	}
	e.values[name] = v
	return nil
}

func (e *Environment) Get(name string) (Value, error) {
	if fn, ok := e.natives[name]; ok {
		return fn, nil
	}
	if v, ok := e.values[name]; ok {
		return v, nil
	}
	return nil, runtimeErrorf("Undefined variable '%s'.", name)
}

// Has reports whether name is bound.
func (e *Environment) Has(name string) bool {
	_, okN := e.natives[name]
	_, okV := e.values[name]
	return okN || okV
}
