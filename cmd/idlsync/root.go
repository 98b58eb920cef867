// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/idlsync/idlsync/internal/issue"
	"github.com/idlsync/idlsync/pkg/types"
)

// Log output formats accepted by --log-format.
const (
	logFormatText   = "text"
	logFormatJSON   = "json"
	logFormatLogfmt = "logfmt"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	logFormats = []string{logFormatText, logFormatJSON, logFormatLogfmt}
)

// NewRootCommand builds the idlsync command tree bound to app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "idlsync",
		Short: "Aggregate IDL files from many repositories into one",
		Long: TitleStyle.Render("idlsync") + SubtitleStyle.Render(" - Aggregate IDL files from many repositories into one") + `

idlsync fetches a set of contributing git repositories, collects the
IDL files each one publishes, names them with a configurable strategy
and commits the merged tree, together with a meta.json provenance
record, to an upstream repository.

` + SubtitleStyle.Render("Examples:") + `
  idlsync config init       Write a starter idlsync.cue
  idlsync config validate   Check the configuration
  idlsync sync              Run one synchronization
  idlsync sync --json       Print the run report as JSON
  idlsync cache list        Show the cached working copies`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.configureLogger()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&app.opts.configFile, "config", "", "config file (default is ./idlsync.cue, then $IDLSYNC_CONFIG)")
	flags.BoolVarP(&app.opts.verbose, "verbose", "v", false, "enable verbose output")
	flags.StringVar(&app.opts.logFormat, "log-format", logFormatText, "log output format (text, json, logfmt)")

	rootCmd.AddCommand(newSyncCommand(app))
	rootCmd.AddCommand(newConfigCommand(app))
	rootCmd.AddCommand(newCacheCommand(app))
	rootCmd.AddCommand(newStrategiesCommand(app))

	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Run executes args against an App built from deps and returns the process
// exit code.
func Run(ctx context.Context, args []string, deps Dependencies) types.ExitCode {
	app, err := NewApp(deps)
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+err.Error())
		return types.ExitFailure
	}

	rootCmd := NewRootCommand(app)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)

	err = fang.Execute(
		ctx,
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(handleError),
	)
	return exitCodeOf(err)
}

// Execute runs the command line of the current process and exits.
// This is called by main.main().
func Execute() {
	os.Exit(int(Run(context.Background(), os.Args[1:], Dependencies{})))
}

// handleError prints errors that were not already reported by a command.
func handleError(w io.Writer, styles fang.Styles, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return
	}
	fang.DefaultErrorHandler(w, styles, err)
}

func exitCodeOf(err error) types.ExitCode {
	if err == nil {
		return types.ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code.Validate() == nil {
		return exitErr.Code
	}
	return types.ExitFailure
}

// configureLogger builds the run logger from the global flags.
func (a *App) configureLogger() error {
	if !slices.Contains(logFormats, a.opts.logFormat) {
		return fmt.Errorf("invalid --log-format %q (want one of %v)", a.opts.logFormat, logFormats)
	}

	opts := log.Options{
		Prefix:          "idlsync",
		Level:           log.InfoLevel,
		ReportTimestamp: a.opts.verbose,
	}
	if a.opts.verbose {
		opts.Level = log.DebugLevel
	}
	switch a.opts.logFormat {
	case logFormatJSON:
		opts.Formatter = log.JSONFormatter
	case logFormatLogfmt:
		opts.Formatter = log.LogfmtFormatter
	}
	a.logger = log.NewWithOptions(a.stderr, opts)
	return nil
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
