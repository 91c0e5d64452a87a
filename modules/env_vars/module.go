// Package env_vars provides the "env" extension: read-only access to the
// process environment.
package env_vars

import (
	"os"
	"sort"
	"strings"

	"github.com/specialistvlad/actortheater/internal/interp"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Module implements the app.Module interface for this package.
type Module struct{}

// Extension returns the "env" extension. It holds no state, so every
// interpreter may initialize its own copy.
func (m *Module) Extension() *interp.Extension {
	return &interp.Extension{
		Name:             "env",
		MultiInterpreter: true,
		Init: func() (starlark.StringDict, error) {
			return starlark.StringDict{
				"env": starlarkstruct.FromStringDict(starlark.String("env"), starlark.StringDict{
					"get":     starlark.NewBuiltin("env.get", get),
					"environ": starlark.NewBuiltin("env.environ", environ),
				}),
			}, nil
		},
	}
}

// get(name, default=None) returns the value of an environment variable.
func get(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv(name); ok {
		return starlark.String(v), nil
	}
	return def, nil
}

// environ() returns every environment variable as a dict.
func environ(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	envMap := make(map[string]string)
	for _, e := range os.Environ() {
		pair := strings.SplitN(e, "=", 2)
		if len(pair) == 2 {
			envMap[pair[0]] = pair[1]
		}
	}

	// Sort keys for consistent iteration order
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := starlark.NewDict(len(keys))
	for _, k := range keys {
		if err := d.SetKey(starlark.String(k), starlark.String(envMap[k])); err != nil {
			return nil, err
		}
	}
	return d, nil
}
