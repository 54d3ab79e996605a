// Package cli parses command-line arguments into an application config.
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/opcflow/internal/app"
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

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("opcflow", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
opcflow - A workflow execution engine for OPC-UA automation sequences.

Usage:
  opcflow [options] [FLOW_PATH]

Arguments:
  FLOW_PATH
    Path to a workflow file (.json or .hcl) or a directory containing
    *.flow.json / *.flow.hcl files.

Options:
`)
		flagSet.PrintDefaults()
	}

	flowFlag := flagSet.String("flow", "", "Path to the workflow file or directory.")
	fFlag := flagSet.String("f", "", "Path to the workflow file or directory (shorthand).")
	configFlag := flagSet.String("config", "", "Path to a YAML engine configuration file.")
	modeFlag := flagSet.String("mode", "", "Execution mode. Options: 'single' or 'continuous'.")
	intervalFlag := flagSet.Duration("interval", 0, "Pause between continuous iterations.")
	workersFlag := flagSet.Int("workers", 0, "Number of nodes executing concurrently.")
	metricsPortFlag := flagSet.Int("metrics-port", 0, "Port for the HTTP metrics/health server. 0 is disabled.")
	mysqlFlag := flagSet.String("mysql-dsn", "", "MySQL DSN for run history recording. Empty disables recording.")
	logFormatFlag := flagSet.String("log-format", "", "Log output format. Options: 'text' or 'json' (default 'json').")
	logLevelFlag := flagSet.String("log-level", "", "Set the logging level. Options: 'debug', 'info', 'warn', 'error' (default 'info').")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *flowFlag != "" {
		path = *flowFlag
	} else if *fFlag != "" {
		path = *fFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Workflow path determined.", "path", path)

	if path == "" {
		slog.Debug("No workflow path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "" && logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	cfg := app.Config{
		FlowPath:    path,
		Mode:        strings.ToLower(*modeFlag),
		Interval:    *intervalFlag,
		Workers:     *workersFlag,
		MetricsPort: *metricsPortFlag,
		MySQLDSN:    *mysqlFlag,
		LogFormat:   logFormat,
		LogLevel:    logLevel,
	}

	if *configFlag != "" {
		merged, err := app.LoadConfigFile(*configFlag, cfg)
		if err != nil {
			return nil, false, &ExitError{Code: 2, Message: err.Error()}
		}
		cfg = merged
	}

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
