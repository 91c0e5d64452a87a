package config

import "context"

// Loader is the interface for a format-specific configuration loader.
type Loader interface {
	// Load reads the theater file at path and translates it into the
	// format-agnostic model. Relative script paths are left as written;
	// Model.BaseDir records the directory they are relative to.
	Load(ctx context.Context, path string) (*Model, error)
}
