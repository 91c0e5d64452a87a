// Package config defines the format-agnostic theater model and the Loader
// interface that format-specific packages (HCL, YAML) implement.
//
// The Model is the single source of truth for the application shell, which
// turns it into interpreter configurations and worker tasks.
package config
