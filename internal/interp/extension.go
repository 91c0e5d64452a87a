package interp

import (
	starjson "go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
)

// Extension is a host-provided module that scripts bind with load(name, ...).
type Extension struct {
	Name string
	// MultiInterpreter marks extensions whose Init may run once per
	// instance. Extensions without it are initialized once during
	// Runtime.Init and their module is shared by every instance that loads
	// it, which is only permitted when the instance disables CheckExtensions.
	MultiInterpreter bool
	Init             func() (starlark.StringDict, error)
}

// StdlibExtensions returns the go.starlark.net library modules. They are
// immutable and safe for any number of interpreters.
func StdlibExtensions() []*Extension {
	module := func(name string, v starlark.Value) *Extension {
		return &Extension{
			Name:             name,
			MultiInterpreter: true,
			Init: func() (starlark.StringDict, error) {
				return starlark.StringDict{name: v}, nil
			},
		}
	}
	return []*Extension{
		module("time", startime.Module),
		module("math", starmath.Module),
		module("json", starjson.Module),
	}
}
