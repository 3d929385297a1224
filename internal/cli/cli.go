package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/vk/medallion/internal/app"
)

// Subcommands.
const (
	CmdServe    = "serve"
	CmdTrigger  = "trigger"
	CmdStatus   = "status"
	CmdResolve  = "resolve"
	CmdValidate = "validate"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Command is a parsed invocation.
type Command struct {
	Name   string
	Config *app.Config
	// Args are the positional arguments, already checked for count.
	Args  []string
	Force bool
}

const usage = `
medallion - incremental medallion pipeline orchestrator.

Usage:
  medallion serve    [options]
  medallion trigger  [options] [--force] PIPELINE [PARTITION]
  medallion status   [options] RUN_ID
  medallion resolve  [options] RUN_ID TASK_ID succeeded|failed
  medallion validate [options]

PARTITION is a day (2024-01-31) or an inclusive range
(2024-01-01..2024-01-31). Without it, trigger processes the day after the
pipeline's watermark.

Run 'medallion <command> -h' for the options of a command.
`

// positional is the accepted range of positional arguments per command.
var positional = map[string][2]int{
	CmdServe:    {0, 0},
	CmdTrigger:  {1, 2},
	CmdStatus:   {1, 1},
	CmdResolve:  {3, 3},
	CmdValidate: {0, 0},
}

// Parse processes command-line arguments. It returns the parsed Command, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*Command, bool, error) {
	slog.Debug("CLI parser started.")
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(output, usage)
		return nil, true, nil
	}

	name := args[0]
	bounds, ok := positional[name]
	if !ok {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q; run 'medallion -h' for usage", name)}
	}

	flagSet := flag.NewFlagSet("medallion "+name, flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, usage)
		fmt.Fprintf(output, "\nOptions for %s:\n", name)
		flagSet.PrintDefaults()
	}

	definitionsFlag := flagSet.String("definitions", "", "Path to a pipeline definition file or directory. Empty uses the built-in pipelines.")
	stateDBFlag := flagSet.String("state-db", "medallion.db", "Path to the SQLite state database (runs and watermarks).")
	dataRootFlag := flagSet.String("data-root", "data", "Root directory of the landing and transformed zones.")
	sourceDBFlag := flagSet.String("source-db", "source.db", "Relational source database read by rds_extract (var.source_db).")
	servingDBFlag := flagSet.String("serving-db", "serving.db", "Serving database written by warehouse_load (var.serving_db).")
	apiURLFlag := flagSet.String("api-base-url", "http://localhost:8081", "Root URL of the users and sessions API (var.api_base_url).")
	apiTokenFlag := flagSet.String("api-token", "", "Bearer token for the users and sessions API (var.api_token).")
	startFlag := flagSet.String("start-partition", "", "First partition when a pipeline has no watermark. Defaults to yesterday.")
	maxParallelFlag := flagSet.Int("max-parallel", 4, "Maximum concurrently running tasks per run.")
	poolFlag := flagSet.Int64("pool-capacity", 0, "Maximum in-flight collaborator calls across all runs. 0 means max-parallel.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	var (
		listenFlag   *string
		intervalFlag *time.Duration
		forceFlag    *bool
	)
	switch name {
	case CmdServe:
		listenFlag = flagSet.String("listen", ":8080", "Address of the HTTP API.")
		intervalFlag = flagSet.Duration("schedule-interval", 0, "Trigger every pipeline on this interval. 0 disables the scheduler.")
	case CmdTrigger:
		forceFlag = flagSet.Bool("force", false, "Process the partition even if the watermark already covers it.")
	}

	if err := flagSet.Parse(args[1:]); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.", "command", name)

	rest := flagSet.Args()
	if len(rest) < bounds[0] || len(rest) > bounds[1] {
		flagSet.Usage()
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("%s: wrong number of arguments", name)}
	}

	cfg := app.Config{
		DefinitionsPath: *definitionsFlag,
		StateDBPath:     *stateDBFlag,
		DataRoot:        *dataRootFlag,
		SourceDB:        *sourceDBFlag,
		ServingDB:       *servingDBFlag,
		APIBaseURL:      *apiURLFlag,
		APIToken:        *apiTokenFlag,
		StartPartition:  *startFlag,
		MaxParallel:     *maxParallelFlag,
		PoolCapacity:    *poolFlag,
		LogFormat:       strings.ToLower(*logFormatFlag),
		LogLevel:        strings.ToLower(*logLevelFlag),
	}
	if listenFlag != nil {
		cfg.ListenAddr = *listenFlag
		cfg.ScheduleInterval = *intervalFlag
	}

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	cmd := &Command{Name: name, Config: config, Args: rest}
	if forceFlag != nil {
		cmd.Force = *forceFlag
	}
	slog.Debug("CLI parser finished successfully.", "command", name)
	return cmd, false, nil
}
