package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vk/medallion/internal/app"
	"github.com/vk/medallion/internal/cli"
	"github.com/vk/medallion/internal/hclconfig"
)

// main is the entrypoint for the medallion application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The real main function handles errors and exit codes.
	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			stop()
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error
// handling. Command results go to outW as JSON, logs to logW.
func run(ctx context.Context, outW, logW io.Writer, args []string) (err error) {
	cmd, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	// A panic anywhere below is a bug; report it as an internal error rather
	// than a stack trace.
	defer func() {
		if r := recover(); r != nil {
			err = &cli.ExitError{Code: 1, Message: fmt.Sprintf("a critical error occurred: %v", r)}
		}
	}()

	// Instantiate the concrete HCL loader to pass to the app.
	loader := hclconfig.NewLoader(cmd.Config.Vars(time.Now()))

	if cmd.Name == cli.CmdValidate {
		compiled, err := app.Validate(logW, cmd.Config, loader)
		if err != nil {
			return cli.ToExitError(err)
		}
		names := make([]string, 0, len(compiled))
		for _, p := range compiled {
			names = append(names, p.Name)
		}
		return writeJSON(outW, map[string]any{"valid": true, "pipelines": names})
	}

	medallion, err := app.NewApp(logW, cmd.Config, loader)
	if err != nil {
		return cli.ToExitError(err)
	}

	if cmd.Name == cli.CmdServe {
		ln, err := medallion.Listen()
		if err != nil {
			medallion.Close(ctx)
			return cli.ToExitError(err)
		}
		// Serve closes the app on return.
		return cli.ToExitError(medallion.Serve(ctx, ln))
	}

	defer medallion.Close(context.WithoutCancel(ctx))
	switch cmd.Name {
	case cli.CmdTrigger:
		partition := ""
		if len(cmd.Args) > 1 {
			partition = cmd.Args[1]
		}
		ticket, run, err := medallion.Trigger(ctx, cmd.Args[0], partition, cmd.Force)
		if err != nil {
			return cli.ToExitError(err)
		}
		if err := writeJSON(outW, map[string]any{"ticket": ticket, "run": run}); err != nil {
			return err
		}
		return cli.RunOutcome(run)

	case cli.CmdStatus:
		run, err := medallion.Status(ctx, cmd.Args[0])
		if err != nil {
			return cli.ToExitError(err)
		}
		return writeJSON(outW, run)

	case cli.CmdResolve:
		run, err := medallion.Resolve(ctx, cmd.Args[0], cmd.Args[1], cmd.Args[2])
		if err != nil {
			return cli.ToExitError(err)
		}
		if err := writeJSON(outW, run); err != nil {
			return err
		}
		return cli.RunOutcome(run)
	}
	return &cli.ExitError{Code: 2, Message: "unhandled command " + cmd.Name}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
