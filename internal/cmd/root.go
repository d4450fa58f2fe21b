// Package cmd implements the hemescreen CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/redleafbio/hemescreen/internal/config"
	"github.com/redleafbio/hemescreen/internal/observability"
)

// versionInfo holds build metadata injected by the linker via main.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile  string
	logLevel string
	logJSON  bool

	// runtimeConfig is the merged configuration, loaded once per
	// invocation before any command runs.
	runtimeConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "hemescreen",
	Short: "Batch virtual screening against heme proteins",
	Long: `hemescreen orchestrates batch docking of a multi-molecule ligand
library against a heme protein: it splits the library, runs the
GalaxyDock2-HEME engine across a bounded worker pool, ranks the
resulting poses by energy, and keeps a durable ledger so interrupted
screens resume where they stopped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
		}
		runtimeConfig = cfg

		level := cfg.Logging.Level
		if logLevel != "" {
			level = logLevel
		}
		if err := observability.Init(level, logJSON || cfg.Logging.Structured); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid log level", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (default: ./hemescreen.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
}

// cmdError carries a process exit code alongside the error.
type cmdError struct {
	code    int
	message string
	err     error
}

func (e *cmdError) Error() string {
	if e.err == nil {
		return e.message
	}
	return fmt.Sprintf("%s: %v", e.message, e.err)
}

func (e *cmdError) Unwrap() error { return e.err }

// exitError creates an error that makes the CLI exit with the given code.
func exitError(code int, message string, err error) error {
	return &cmdError{code: code, message: message, err: err}
}

// Execute runs the CLI and returns the process exit code. SIGINT and
// SIGTERM cancel the command context so in-flight docking jobs are
// terminated and their outcomes recorded before exit.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer observability.Sync()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var ce *cmdError
		if errors.As(err, &ce) {
			return ce.code
		}
		if errors.Is(err, context.Canceled) {
			return foundry.ExitSignalInt
		}
		return 1
	}
	return 0
}
