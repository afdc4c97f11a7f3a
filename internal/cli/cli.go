package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/framegraph/internal/app"
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

// Parse processes command-line arguments. Flag defaults come from the
// FRAMEGRAPH_* environment. It returns a populated Config, a boolean
// indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	defaults, err := app.EnvDefaults()
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	flagSet := flag.NewFlagSet("framegraph", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
framegraph - A multi-threaded media pipeline runner.

Usage:
  framegraph [options] [PIPELINE_PATH]

Arguments:
  PIPELINE_PATH
    Path to a single .hcl file or a directory containing .hcl files.

Options:
`)
		flagSet.PrintDefaults()
	}

	pipelineFlag := flagSet.String("pipeline", "", "Path to the pipeline file or directory.")
	pFlag := flagSet.String("p", "", "Path to the pipeline file or directory (shorthand).")
	workersFlag := flagSet.Int("workers", defaults.Workers, "Number of scheduler workers. 0 uses one per CPU.")
	httpPortFlag := flagSet.Int("http-port", defaults.HTTPPort, "Port for the introspection HTTP server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", defaults.LogFormat, "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", defaults.LogLevel, "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	poolLimitFlag := flagSet.Int64("pool-limit", defaults.PoolLimit, "Hard cap in bytes on buffer pool memory. 0 is unlimited.")
	profilingFlag := flagSet.Bool("profiling", defaults.Profiling, "Export a trace span per node invocation to the log output.")
	failFastFlag := flagSet.Bool("fail-fast", defaults.FailFast, "Halt the whole pipeline on the first node failure.")
	publishURLFlag := flagSet.String("publish-url", defaults.PublishURL, "Socket.IO server to publish graph snapshots to.")
	publishIntervalFlag := flagSet.Duration("publish-interval", defaults.PublishInterval, "Period between published snapshots.")
	exitOnIdleFlag := flagSet.Bool("exit-on-idle", false, "Exit once no node is queued or running.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	set := map[string]bool{}
	flagSet.Visit(func(f *flag.Flag) { set[f.Name] = true })

	path := ""
	if *pipelineFlag != "" {
		path = *pipelineFlag
	} else if *pFlag != "" {
		path = *pFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Pipeline path determined.", "path", path)

	if path == "" {
		slog.Debug("No pipeline path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	config, err := app.NewConfig(app.Config{
		PipelinePath:    path,
		LogFormat:       strings.ToLower(*logFormatFlag),
		LogLevel:        strings.ToLower(*logLevelFlag),
		HTTPPort:        *httpPortFlag,
		Workers:         *workersFlag,
		PoolLimit:       *poolLimitFlag,
		Profiling:       *profilingFlag,
		FailFast:        *failFastFlag,
		PublishURL:      *publishURLFlag,
		PublishInterval: *publishIntervalFlag,
		ExitOnIdle:      *exitOnIdleFlag,
		WorkersSet:      set["workers"],
		FailFastSet:     set["fail-fast"],
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
