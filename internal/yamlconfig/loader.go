// Package yamlconfig provides the YAML implementation of config.Loader. The
// document mirrors the HCL theater file:
//
//	runtime:
//	  switch_interval: 1000
//	  max_threads: 8
//	primary:
//	  script: main.star
//	workers:
//	  - name: a
//	    script: a.star
//	    globals: {greeting: hello}
//	    isolation:
//	      lock: own
//	      extensions: [time]
package yamlconfig

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/specialistvlad/actortheater/internal/config"
	"github.com/specialistvlad/actortheater/internal/ctxlog"
	"gopkg.in/yaml.v3"
)

// Loader is the YAML-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new YAML configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

type document struct {
	Runtime *struct {
		SwitchInterval *int `yaml:"switch_interval"`
		MaxThreads     int  `yaml:"max_threads"`
	} `yaml:"runtime"`
	Primary *struct {
		Script string `yaml:"script"`
	} `yaml:"primary"`
	Workers []workerEntry `yaml:"workers"`
}

type workerEntry struct {
	Name      string          `yaml:"name"`
	Script    string          `yaml:"script"`
	Globals   map[string]any  `yaml:"globals"`
	Isolation *isolationEntry `yaml:"isolation"`
}

type isolationEntry struct {
	Lock               string   `yaml:"lock"`
	Allocator          string   `yaml:"allocator"`
	AllowThreads       *bool    `yaml:"allow_threads"`
	AllowDaemonThreads *bool    `yaml:"allow_daemon_threads"`
	AllowFork          *bool    `yaml:"allow_fork"`
	AllowExec          *bool    `yaml:"allow_exec"`
	CheckExtensions    *bool    `yaml:"check_extensions"`
	Extensions         []string `yaml:"extensions"`
}

// Load parses a single theater document and translates it into the model.
// Unknown keys are rejected.
func (l *Loader) Load(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("YAML loader started.", "path", path)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open YAML file %s: %w", path, err)
	}
	defer f.Close()

	var doc document
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode YAML file %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	model := &config.Model{BaseDir: filepath.Dir(abs)}
	if doc.Runtime != nil {
		if si := doc.Runtime.SwitchInterval; si != nil {
			if *si <= 0 {
				return nil, fmt.Errorf("invalid theater file %s: runtime: switch_interval must be positive, got %d", path, *si)
			}
			model.Runtime.SwitchInterval = uint64(*si)
		}
		model.Runtime.MaxThreads = doc.Runtime.MaxThreads
	}
	if doc.Primary != nil {
		model.Primary = &config.ScriptSpec{Script: doc.Primary.Script}
	}
	for _, w := range doc.Workers {
		spec := &config.WorkerSpec{Name: w.Name, Script: w.Script, Globals: w.Globals}
		if iso := w.Isolation; iso != nil {
			spec.Isolation = &config.Isolation{
				Lock:               iso.Lock,
				Allocator:          iso.Allocator,
				AllowThreads:       iso.AllowThreads,
				AllowDaemonThreads: iso.AllowDaemonThreads,
				AllowFork:          iso.AllowFork,
				AllowExec:          iso.AllowExec,
				CheckExtensions:    iso.CheckExtensions,
				Extensions:         iso.Extensions,
			}
		}
		model.Workers = append(model.Workers, spec)
	}

	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("invalid theater file %s: %w", path, err)
	}
	logger.Debug("YAML loading complete.", "workers", len(model.Workers), "primary", model.Primary != nil)
	return model, nil
}
