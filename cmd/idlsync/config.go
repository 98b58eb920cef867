// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/idlsync/idlsync/internal/config"
	"github.com/idlsync/idlsync/pkg/types"
)

// ErrConfigExists is returned by `config init` when the target file exists.
var ErrConfigExists = errors.New("configuration file already exists")

// newConfigCommand creates the `idlsync config` command tree.
// Subcommands that read configuration use the App's ConfigProvider.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage idlsync configuration",
		Long: `Manage idlsync configuration.

The configuration file is, in order of precedence:
  - the file given with --config
  - the file named by $IDLSYNC_CONFIG
  - idlsync.cue or idlsync.json in the working directory
  - config.cue in the per-user configuration directory

Every key can be overridden with an IDLSYNC_ environment variable, and a
.env file next to the configuration file is loaded first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var asCUE bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.Context(), app, asCUE)
		},
	}
	showCmd.Flags().BoolVar(&asCUE, "cue", false, "print the configuration as CUE")
	cfgCmd.AddCommand(showCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and report every problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd.Context(), app)
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter idlsync.cue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(app, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file that would be loaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfigPath(app)
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App, asCUE bool) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return app.fail(classifyConfigError(err))
	}

	if asCUE {
		fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
		return nil
	}

	keyStyle := CmdStyle
	valueStyle := SuccessStyle
	w := app.stdout

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)

	if path, pathErr := app.Config.Path(app.loadOptions()); pathErr == nil {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), path)
		fmt.Fprintln(w)
	}

	rows := []struct {
		key   string
		value any
	}{
		{"upstream", cfg.Upstream},
		{"upstreamBranch", cfg.UpstreamBranch},
		{"repositoryFolder", cfg.RepositoryFolder},
		{"cacheLocation", cfg.CacheLocation},
		{"fileNameStrategy", cfg.FileNameStrategy},
		{"sourceDirectory", cfg.SourceDirectory},
		{"outputDirectory", cfg.OutputDirectory},
		{"extensions", cfg.Extensions},
		{"recursive", cfg.Recursive},
		{"maxConcurrency", cfg.MaxConcurrency},
		{"commandTimeout", cfg.CommandTimeout},
		{"allowEmptyCommit", cfg.AllowEmptyCommit},
		{"failOnCollision", cfg.FailOnCollision},
		{"retainStale", cfg.RetainStale},
		{"author", fmt.Sprintf("%s <%s>", cfg.Author.Name, cfg.Author.Email)},
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render(row.key), valueStyle.Render(fmt.Sprint(row.value)))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("remotes"))
	for _, src := range cfg.Sources() {
		fmt.Fprintf(w, "  - %s %s %s\n",
			valueStyle.Render(src.Name.String()),
			src.Repository,
			SubtitleStyle.Render(fmt.Sprintf("(branch %s, directory %s)", src.Branch, src.Directory)))
	}

	return nil
}

func validateConfig(ctx context.Context, app *App) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return app.fail(classifyConfigError(err))
	}

	path, err := app.Config.Path(app.loadOptions())
	if err != nil {
		path = "(unknown)"
	}
	fmt.Fprintf(app.stdout, "%s Configuration is valid: %s\n", SuccessStyle.Render("✓"), path)

	sources := cfg.Sources()
	fmt.Fprintf(app.stdout, "  %d sources, strategy %s, publishing to %s\n",
		len(sources), CmdStyle.Render(cfg.FileNameStrategy.String()), cfg.Upstream)
	return nil
}

func initConfig(app *App, force bool) error {
	path, err := app.initPath()
	if err != nil {
		return app.fail(newServiceError(err, types.ExitFailure, 0))
	}

	if _, statErr := os.Stat(path); statErr == nil && !force {
		existsErr := fmt.Errorf("%w: %s (use --force to overwrite)", ErrConfigExists, path)
		return app.fail(newServiceError(existsErr, types.ExitConfig, 0))
	} else if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
		return app.fail(newServiceError(statErr, types.ExitFailure, 0))
	}

	if err := config.Save(config.StarterConfig(), path); err != nil {
		return app.fail(newServiceError(err, types.ExitFailure, 0))
	}

	fmt.Fprintf(app.stdout, "%s Created configuration at %s\n", SuccessStyle.Render("✓"), path)
	fmt.Fprintln(app.stdout, SubtitleStyle.Render("  Edit upstream and remotes, then run 'idlsync config validate'."))
	return nil
}

func showConfigPath(app *App) error {
	path, err := app.Config.Path(app.loadOptions())
	if err != nil {
		return app.fail(classifyConfigError(err))
	}
	fmt.Fprintln(app.stdout, path)
	return nil
}

// initPath is the file `config init` writes: --config when given,
// otherwise idlsync.cue in the working directory.
func (a *App) initPath() (string, error) {
	if a.opts.configFile != "" {
		return a.opts.configFile, nil
	}
	dir := a.workDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}
	return filepath.Join(dir, config.ConfigFileName+"."+config.ConfigFileExt), nil
}
