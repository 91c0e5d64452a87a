package hcl

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/actortheater/internal/config"
	"github.com/specialistvlad/actortheater/internal/ctxlog"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// fileRoot decodes every top-level block a theater file may contain.
type fileRoot struct {
	Runtime *runtimeBlock  `hcl:"runtime,block"`
	Primary *primaryBlock  `hcl:"primary,block"`
	Workers []*workerBlock `hcl:"worker,block"`
}

type runtimeBlock struct {
	SwitchInterval *int `hcl:"switch_interval,optional"`
	MaxThreads     *int `hcl:"max_threads,optional"`
}

type primaryBlock struct {
	Script string `hcl:"script"`
}

type workerBlock struct {
	Name      string          `hcl:"name,label"`
	Script    string          `hcl:"script"`
	Globals   hcl.Expression  `hcl:"globals,optional"`
	Isolation *isolationBlock `hcl:"isolation,block"`
}

type isolationBlock struct {
	Lock               *string  `hcl:"lock,optional"`
	Allocator          *string  `hcl:"allocator,optional"`
	AllowThreads       *bool    `hcl:"allow_threads,optional"`
	AllowDaemonThreads *bool    `hcl:"allow_daemon_threads,optional"`
	AllowFork          *bool    `hcl:"allow_fork,optional"`
	AllowExec          *bool    `hcl:"allow_exec,optional"`
	CheckExtensions    *bool    `hcl:"check_extensions,optional"`
	Extensions         []string `hcl:"extensions,optional"`
}

// Load parses a single theater file and translates it into the model.
func (l *Loader) Load(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path", path)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", path, diags)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	model, err := translate(root, filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("invalid theater file %s: %w", path, err)
	}

	logger.Debug("HCL loading complete.", "workers", len(model.Workers), "primary", model.Primary != nil)
	return model, nil
}

func translate(root fileRoot, baseDir string) (*config.Model, error) {
	model := &config.Model{BaseDir: baseDir}

	if rb := root.Runtime; rb != nil {
		if rb.SwitchInterval != nil {
			if *rb.SwitchInterval <= 0 {
				return nil, fmt.Errorf("runtime: switch_interval must be positive, got %d", *rb.SwitchInterval)
			}
			model.Runtime.SwitchInterval = uint64(*rb.SwitchInterval)
		}
		if rb.MaxThreads != nil {
			model.Runtime.MaxThreads = *rb.MaxThreads
		}
	}
	if root.Primary != nil {
		model.Primary = &config.ScriptSpec{Script: root.Primary.Script}
	}

	for _, wb := range root.Workers {
		globals, err := decodeGlobals(wb.Globals)
		if err != nil {
			return nil, fmt.Errorf("worker %q: %w", wb.Name, err)
		}
		spec := &config.WorkerSpec{
			Name:    wb.Name,
			Script:  wb.Script,
			Globals: globals,
		}
		if ib := wb.Isolation; ib != nil {
			spec.Isolation = &config.Isolation{
				Lock:               deref(ib.Lock),
				Allocator:          deref(ib.Allocator),
				AllowThreads:       ib.AllowThreads,
				AllowDaemonThreads: ib.AllowDaemonThreads,
				AllowFork:          ib.AllowFork,
				AllowExec:          ib.AllowExec,
				CheckExtensions:    ib.CheckExtensions,
				Extensions:         ib.Extensions,
			}
		}
		model.Workers = append(model.Workers, spec)
	}

	if err := model.Validate(); err != nil {
		return nil, err
	}
	return model, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
