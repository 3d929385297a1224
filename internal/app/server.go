package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vk/medallion/internal/api"
	"github.com/vk/medallion/internal/scheduler"
	"golang.org/x/sync/errgroup"
)

// serverShutdownTimeout bounds the graceful shutdown of the HTTP server.
const serverShutdownTimeout = 5 * time.Second

// Handler returns the HTTP API, with the state database as health probe.
func (a *App) Handler() http.Handler {
	return api.New(a.context(context.Background()), a.coord, a.store.Ping).Handler()
}

// Listen opens the configured listen address.
func (a *App) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", a.config.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", a.config.ListenAddr, err)
	}
	return ln, nil
}

// Serve resumes the runs a previous process left unfinished, then serves the
// HTTP API on ln and, when a schedule interval is configured, triggers every
// pipeline on each tick. It returns when ctx is done, after the server has
// shut down and runs executing here have finished or the shutdown timeout
// passed. The state database is closed on return.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx = a.context(ctx)
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Error("Shutdown failed.", "error", err)
		}
	}()

	resumed, err := a.coord.Resume(ctx)
	if err != nil {
		ln.Close()
		return fmt.Errorf("failed to resume runs: %w", err)
	}
	if len(resumed) > 0 {
		a.logger.Info("Resumed unfinished runs.", "count", len(resumed), "runIDs", resumed)
	}

	httpServer := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("🩺 API server starting", "address", "http://"+ln.Addr().String())
		// Serve returns ErrServerClosed on graceful shutdown.
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		scheduler.New(a.coord, a.config.ScheduleInterval).Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("🩺 Shutting down API server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serverShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown failed: %w", err)
		}
		a.logger.Debug("API server shut down gracefully.")
		return nil
	})

	return g.Wait()
}
