package config

import (
	"errors"
	"fmt"
)

// Validate checks the structural rules every loader must uphold: worker
// names are unique and non-empty, and every declared script is set.
func (m *Model) Validate() error {
	var errs []error
	if m.Primary != nil && m.Primary.Script == "" {
		errs = append(errs, errors.New("primary: script must not be empty"))
	}
	if m.Runtime.MaxThreads < 0 {
		errs = append(errs, fmt.Errorf("runtime: max_threads must not be negative, got %d", m.Runtime.MaxThreads))
	}

	seen := make(map[string]struct{}, len(m.Workers))
	for i, w := range m.Workers {
		if w.Name == "" {
			errs = append(errs, fmt.Errorf("worker #%d: name must not be empty", i+1))
			continue
		}
		if _, dup := seen[w.Name]; dup {
			errs = append(errs, fmt.Errorf("worker %q: declared more than once", w.Name))
		}
		seen[w.Name] = struct{}{}
		if w.Script == "" {
			errs = append(errs, fmt.Errorf("worker %q: script must not be empty", w.Name))
		}
	}
	return errors.Join(errs...)
}
