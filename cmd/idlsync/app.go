// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/idlsync/idlsync/internal/config"
	"github.com/idlsync/idlsync/internal/engine"
	"github.com/idlsync/idlsync/internal/git"
	"github.com/idlsync/idlsync/pkg/types"
)

// defaultIssueStyle picks a glamour style from the terminal.
const defaultIssueStyle = "auto"

type (
	// App wires CLI services and shared dependencies. It is the composition
	// root for the CLI layer: every Cobra command handler receives an App and
	// goes through its Config provider and Engines factory.
	App struct {
		Config  ConfigProvider
		Engines EngineFactory

		stdout     io.Writer
		stderr     io.Writer
		workDir    string
		gitOptions []git.CLIOption
		clock      func() time.Time
		issueStyle string
		logger     *log.Logger
		opts       globalOptions
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config  ConfigProvider
		Engines EngineFactory
		Stdout  io.Writer
		Stderr  io.Writer
		// WorkDir is where idlsync.cue is looked up and written. Empty means
		// the process working directory.
		WorkDir string
		// GitOptions are appended to every git runner the App creates.
		GitOptions []git.CLIOption
		// Clock stamps publish commits. Nil means time.Now.
		Clock func() time.Time
		// IssueStyle is the glamour style used for help entries.
		IssueStyle string
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
		Path(opts config.LoadOptions) (string, error)
	}

	// SyncService runs one synchronization.
	SyncService interface {
		Sync(ctx context.Context) (*engine.Report, error)
	}

	// EngineFactory builds the sync service for a loaded configuration.
	EngineFactory func(cfg *config.Config, logger *log.Logger) (SyncService, error)

	// globalOptions holds the persistent flag values.
	globalOptions struct {
		configFile string
		verbose    bool
		logFormat  string
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) (*App, error) {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.IssueStyle == "" {
		deps.IssueStyle = defaultIssueStyle
	}

	app := &App{
		Config:     deps.Config,
		Engines:    deps.Engines,
		stdout:     deps.Stdout,
		stderr:     deps.Stderr,
		workDir:    deps.WorkDir,
		gitOptions: deps.GitOptions,
		clock:      deps.Clock,
		issueStyle: deps.IssueStyle,
		logger:     log.NewWithOptions(deps.Stderr, log.Options{Prefix: "idlsync"}),
		opts:       globalOptions{logFormat: logFormatText},
	}
	if app.Engines == nil {
		app.Engines = app.newEngine
	}
	return app, nil
}

// loadOptions returns the configuration lookup inputs for this invocation.
func (a *App) loadOptions() config.LoadOptions {
	return config.LoadOptions{
		ConfigFilePath: types.FilesystemPath(a.opts.configFile),
		WorkDir:        types.FilesystemPath(a.workDir),
	}
}

func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	return a.Config.Load(ctx, a.loadOptions())
}

func (a *App) newRunner(cfg *config.Config) (*git.CLI, error) {
	return engine.NewRunner(cfg, a.logger, a.gitOptions...)
}

// newEngine is the production EngineFactory.
func (a *App) newEngine(cfg *config.Config, logger *log.Logger) (SyncService, error) {
	runner, err := engine.NewRunner(cfg, logger, a.gitOptions...)
	if err != nil {
		return nil, err
	}
	return engine.FromConfig(cfg, runner, logger, a.clock)
}
