// Package cmd is the CLI surface: a cobra root command plus a scan
// subcommand that wires the core packages (wordlist, dictionary,
// ratelimit, calibrate, classify, recurse, scan) into one runnable
// program. The flag/RunE/exitError shape follows the same cobra
// command conventions used elsewhere in this kind of CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fathomsec/fathom/internal/config"
	"github.com/fathomsec/fathom/internal/observability"
)

var (
	logLevelOverride   string
	logProfileOverride string
)

var rootCmd = &cobra.Command{
	Use:           "fathom",
	Short:         "Concurrent web-path discovery engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `fathom probes candidate paths from a wordlist against one or more
HTTP targets, classifies every response (OK/WAF/APP/SYS/redirect), and
reports survivors after wildcard calibration and filter-chain
suppression have dropped the noise.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return exitError(ExitConfigError, "failed to load configuration", err)
		}
		if logLevelOverride != "" {
			cfg.Logging.Level = logLevelOverride
		}
		if logProfileOverride != "" {
			cfg.Logging.Profile = logProfileOverride
		}
		if err := observability.Init(cfg.Logging.Level, cfg.Logging.Profile); err != nil {
			return exitError(ExitConfigError, "failed to initialize logging", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "override configured log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logProfileOverride, "log-profile", "", "override configured log profile (structured|console)")
}

// Exit codes returned by Execute.
const (
	ExitOK           = 0
	ExitConfigError  = 1
	ExitInterrupted  = 2
	ExitOnErrorFired = 3
)

// ExitCodeError carries the process exit code a failed command should
// report, the same "wrapper struct with Unwrap" idiom pkg/executor's
// TransportError uses.
type ExitCodeError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitCodeError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitCodeError) Unwrap() error { return e.Err }

func exitError(code int, message string, err error) error {
	return &ExitCodeError{Code: code, Message: message, Err: err}
}

// Execute runs the root command and returns the process exit code
// cmd/fathom/main.go should pass to os.Exit.
func Execute(ctx context.Context) int {
	defer observability.Sync()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, exitErr.Error())
		return exitErr.Code
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		fmt.Fprintln(os.Stderr, "interrupted:", err)
		return ExitInterrupted
	}
	fmt.Fprintln(os.Stderr, err)
	return ExitConfigError
}
