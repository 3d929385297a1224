package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/vk/medallion/internal/collaborator"
	"github.com/vk/medallion/internal/config"
	"github.com/vk/medallion/internal/coordinator"
	"github.com/vk/medallion/internal/ctxlog"
	"github.com/vk/medallion/internal/executor"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/registry"
	"github.com/vk/medallion/internal/sqlitestore"
)

// shutdownTimeout bounds how long Close waits for runs to finish their walk
// before leaving them to be resumed by the next process.
const shutdownTimeout = 30 * time.Second

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW      io.Writer
	logger    *slog.Logger
	config    *Config
	registry  *registry.Registry
	pipelines []*model.Pipeline
	store     *sqlitestore.Store
	coord     *coordinator.Coordinator
}

// NewApp is the constructor for the main application. It loads and compiles
// the pipeline definitions, opens the state database and builds the engine
// and coordinator. It returns a *failure.DefinitionError when the
// definitions are invalid. The caller must Close the app.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader, modules ...registry.Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	reg := newRegistry(ctx, modules)
	compiled, err := loadPipelines(ctx, cfg, loader, reg)
	if err != nil {
		return nil, err
	}

	store, err := sqlitestore.Open(ctx, cfg.StateDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	logger.Debug("State database opened.", "path", cfg.StateDBPath)

	engine := executor.New(reg, store, executor.Options{
		MaxParallel:  cfg.MaxParallel,
		PoolCapacity: cfg.PoolCapacity,
		Layout:       collaborator.Layout{Root: cfg.DataRoot},
	})
	coord, err := coordinator.New(compiled, engine, store, store, coordinator.Options{})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &App{
		outW:      outW,
		logger:    logger,
		config:    cfg,
		registry:  reg,
		pipelines: compiled,
		store:     store,
		coord:     coord,
	}, nil
}

// Coordinator returns the application's coordinator. This is primarily for testing.
func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coord
}

// Pipelines returns the compiled pipeline definitions.
func (a *App) Pipelines() []*model.Pipeline {
	return a.pipelines
}

// context returns parent carrying the app's logger.
func (a *App) context(parent context.Context) context.Context {
	return ctxlog.WithLogger(parent, a.logger)
}

// Close waits for runs executing in this process to finish, then closes the
// state database. Runs still going after shutdownTimeout stay non-terminal
// and are resumed by the next serve.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(a.context(ctx), shutdownTimeout)
	defer cancel()

	if err := a.coord.Shutdown(ctx); err != nil {
		a.logger.Warn("Runs still executing at shutdown; they will be resumed on the next start.", "error", err)
	}
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("failed to close state database: %w", err)
	}
	a.logger.Debug("State database closed.")
	return nil
}
