package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/specialistvlad/actortheater/internal/app"
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

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("actortheater", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
ActorTheater - runs Starlark scripts in isolated interpreters on dedicated OS threads.

Usage:
  actortheater [options] [THEATER_FILE]

Arguments:
  THEATER_FILE
    Path to a .hcl, .yaml or .yml theater file. Without it, a.star and b.star
    run as workers and main.star as the primary script, all taken from the
    current directory.

Options:
`)
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.String("config", "", "Path to the theater file.")
	cFlag := flagSet.String("c", "", "Path to the theater file (shorthand).")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	traceFileFlag := flagSet.String("trace-file", "", "Write OpenTelemetry spans as JSON to this file.")
	statusURLFlag := flagSet.String("status-url", "", "Socket.IO endpoint that receives progress events.")
	statusNamespaceFlag := flagSet.String("status-namespace", "", "Socket.IO namespace for the status feed. Empty uses '/'.")
	statusEventFlag := flagSet.String("status-event", "", "Socket.IO event name progress is emitted under. Empty uses 'status'.")
	statusInsecureFlag := flagSet.Bool("status-insecure", false, "Skip TLS certificate verification for the status feed.")
	maxThreadsFlag := flagSet.Int("max-threads", 0, "Maximum number of worker OS threads. 0 uses the theater file's setting.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *configFlag != "" {
		path = *configFlag
	} else if *cFlag != "" {
		path = *cFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	if flagSet.NArg() > 1 {
		return nil, false, &ExitError{Code: 2, Message: "at most one theater file may be given"}
	}
	slog.Debug("Theater path determined.", "path", path)

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		ConfigPath:      path,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		HealthcheckPort: *healthPortFlag,
		TraceFile:       *traceFileFlag,
		StatusURL:       *statusURLFlag,
		StatusNamespace: *statusNamespaceFlag,
		StatusEvent:     *statusEventFlag,
		StatusInsecure:  *statusInsecureFlag,
		MaxThreads:      *maxThreadsFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
