package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/actortheater/internal/config"
	"github.com/specialistvlad/actortheater/internal/coordinator"
	"github.com/specialistvlad/actortheater/internal/ctxlog"
	"github.com/specialistvlad/actortheater/internal/interp"
	"github.com/specialistvlad/actortheater/internal/scriptsrc"
	"github.com/specialistvlad/actortheater/internal/worker"
)

// loadModel reads the theater file through the loader registered for its
// extension, or returns the built-in theater when no path is configured.
func (a *App) loadModel(ctx context.Context) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)

	path := a.config.ConfigPath
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		logger.Info("No theater file given, using the built-in theater.", "dir", wd)
		return config.Default(wd), nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	loader, ok := a.loaders[ext]
	if !ok {
		return nil, fmt.Errorf("no configuration loader for %q files", ext)
	}
	model, err := loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	logger.Debug("Theater loaded.", "path", path, "workers", len(model.Workers))
	return model, nil
}

// buildPlan turns the model into worker tasks with resolved script paths and
// interpreter configurations.
func buildPlan(model *config.Model) (coordinator.Plan, error) {
	var plan coordinator.Plan
	if model.Primary != nil {
		plan.Primary = scriptsrc.Resolve(model.BaseDir, model.Primary.Script)
	}
	for i, w := range model.Workers {
		cfg, err := isolationConfig(w.Isolation)
		if err != nil {
			return plan, fmt.Errorf("worker %q: %w", w.Name, err)
		}
		cfg.Globals = w.Globals
		plan.Workers = append(plan.Workers, worker.Task{
			ID:     i + 1,
			Name:   w.Name,
			Script: scriptsrc.Resolve(model.BaseDir, w.Script),
			Config: cfg,
		})
	}
	return plan, nil
}

// isolationConfig overlays the declared isolation block on the isolated
// profile.
func isolationConfig(iso *config.Isolation) (interp.Config, error) {
	cfg := interp.IsolatedConfig()
	if iso == nil {
		return cfg, nil
	}

	var err error
	if cfg.Lock, err = interp.ParseLockMode(iso.Lock); err != nil {
		return cfg, err
	}
	if cfg.Allocator, err = interp.ParseAllocatorPolicy(iso.Allocator); err != nil {
		return cfg, err
	}
	override := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	override(&cfg.AllowThreads, iso.AllowThreads)
	override(&cfg.AllowDaemonThreads, iso.AllowDaemonThreads)
	override(&cfg.AllowFork, iso.AllowFork)
	override(&cfg.AllowExec, iso.AllowExec)
	override(&cfg.CheckExtensions, iso.CheckExtensions)
	cfg.Extensions = append([]string(nil), iso.Extensions...)
	return cfg, nil
}
