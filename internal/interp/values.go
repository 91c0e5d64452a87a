package interp

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

// toStarlark converts a configuration value (as produced by the HCL and YAML
// loaders) into a Starlark value. Go number types keep their kind: float64
// is always a Starlark float.
func toStarlark(v any) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return x, nil
	case bool:
		return starlark.Bool(x), nil
	case string:
		return starlark.String(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case uint64:
		return starlark.MakeUint64(x), nil
	case float64:
		return starlark.Float(x), nil
	case []any:
		elems := make([]starlark.Value, 0, len(x))
		for i, e := range x {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			elems = append(elems, sv)
		}
		return starlark.NewList(elems), nil
	case []string:
		elems := make([]starlark.Value, 0, len(x))
		for _, e := range x {
			elems = append(elems, starlark.String(e))
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := starlark.NewDict(len(x))
		for _, k := range keys {
			sv, err := toStarlark(x[k])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return nil, fmt.Errorf("unsupported value of type %T", v)
}

// globalsDict converts host globals and freezes them so that no script
// thread can mutate what the host handed in.
func globalsDict(globals map[string]any) (starlark.StringDict, error) {
	out := make(starlark.StringDict, len(globals))
	for name, v := range globals {
		sv, err := toStarlark(v)
		if err != nil {
			return nil, fmt.Errorf("global %q: %w", name, err)
		}
		sv.Freeze()
		out[name] = sv
	}
	return out, nil
}
