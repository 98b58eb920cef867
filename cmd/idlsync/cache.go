// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/idlsync/idlsync/internal/cache"
	"github.com/idlsync/idlsync/internal/engine"
	"github.com/idlsync/idlsync/pkg/types"
)

// newCacheCommand creates the `idlsync cache` command tree.
func newCacheCommand(app *App) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clean the remote cache",
		Long: `Inspect and clean the remote cache.

The cache holds one working copy per source under cacheLocation. Removing
a copy is always safe: the next sync clones it again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached working copies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listCache(cmd.Context(), app)
		},
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clean [name...]",
		Short: "Remove cached working copies (all of them when no name is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cleanCache(cmd.Context(), app, args)
		},
	})

	return cacheCmd
}

// openCache builds the configured cache.
func (a *App) openCache(ctx context.Context) (*cache.Cache, error) {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return nil, a.fail(classifyConfigError(err))
	}
	runner, err := a.newRunner(cfg)
	if err != nil {
		return nil, a.fail(classifySyncError(err))
	}
	return engine.NewCache(cfg.CacheLocation, runner, a.logger), nil
}

func listCache(ctx context.Context, app *App) error {
	c, err := app.openCache(ctx)
	if err != nil {
		return err
	}

	entries, err := c.List(ctx)
	if err != nil {
		return app.fail(newServiceError(err, types.ExitFailure, 0))
	}

	if len(entries) == 0 {
		fmt.Fprintf(app.stdout, "%s\n", SubtitleStyle.Render("(cache is empty: "+c.Root()+")"))
		return nil
	}

	width := 0
	for _, e := range entries {
		width = max(width, len(e.Name))
	}
	for _, e := range entries {
		name := CmdStyle.Render(fmt.Sprintf("%-*s", width, e.Name))
		state := e.Commit.Short()
		if e.Corrupted {
			state = WarningStyle.Render("corrupted")
		}
		fmt.Fprintf(app.stdout, "%s  %s  %s\n", name, state, SubtitleStyle.Render(e.Dir))
	}
	return nil
}

func cleanCache(ctx context.Context, app *App, names []string) error {
	c, err := app.openCache(ctx)
	if err != nil {
		return err
	}

	if len(names) == 0 {
		if err := c.Purge(); err != nil {
			return app.fail(newServiceError(err, types.ExitFailure, 0))
		}
		fmt.Fprintf(app.stdout, "%s Removed every cached working copy in %s\n", SuccessStyle.Render("✓"), c.Root())
		return nil
	}

	for _, name := range names {
		if err := c.Invalidate(types.SourceName(name)); err != nil {
			return app.fail(newServiceError(err, types.ExitFailure, 0))
		}
		fmt.Fprintf(app.stdout, "%s Removed %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(name))
	}
	return nil
}
