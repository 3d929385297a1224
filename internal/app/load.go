package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/vk/medallion/internal/config"
	"github.com/vk/medallion/internal/ctxlog"
	"github.com/vk/medallion/internal/definition"
	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/pipelines"
	"github.com/vk/medallion/internal/registry"
)

// newRegistry registers modules, or the core modules when none are given.
func newRegistry(ctx context.Context, modules []registry.Module) *registry.Registry {
	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	ctxlog.FromContext(ctx).Debug("All Go modules registered.", "count", len(modules))
	return reg
}

// loadPipelines reads the definitions named by cfg and compiles them against
// the operations in reg. Every failure is a *failure.DefinitionError.
func loadPipelines(ctx context.Context, cfg *Config, loader config.Loader, reg *registry.Registry) ([]*model.Pipeline, error) {
	logger := ctxlog.FromContext(ctx)

	var (
		m   *config.Model
		err error
	)
	if cfg.DefinitionsPath == "" {
		logger.Debug("Loading embedded pipeline definitions.")
		m, err = loader.LoadFS(ctx, pipelines.FS())
	} else {
		logger.Debug("Loading pipeline definitions.", "path", cfg.DefinitionsPath)
		m, err = loader.Load(ctx, cfg.DefinitionsPath)
	}
	if err != nil {
		return nil, &failure.DefinitionError{Err: fmt.Errorf("failed to load definitions: %w", err)}
	}
	if len(m.Pipelines) == 0 {
		return nil, &failure.DefinitionError{Err: errors.New("no pipeline definitions found")}
	}

	compiled, err := definition.Compile(ctx, m, reg)
	if err != nil {
		return nil, err
	}
	logger.Info("Pipeline definitions loaded.", "pipelines", len(compiled))
	return compiled, nil
}

// Validate loads and compiles the definitions without opening any store, so
// it can check definition files before they are deployed.
func Validate(outW io.Writer, cfg *Config, loader config.Loader, modules ...registry.Module) ([]*model.Pipeline, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	return loadPipelines(ctx, cfg, loader, newRegistry(ctx, modules))
}
