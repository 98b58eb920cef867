// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/idlsync/idlsync/internal/engine"
	"github.com/idlsync/idlsync/internal/issue"
	"github.com/idlsync/idlsync/pkg/types"
)

const defaultRetryBackoff = 5 * time.Second

var errNegativeRetries = errors.New("--retries must not be negative")

// syncOptions holds the flag values of `idlsync sync`.
type syncOptions struct {
	json         bool
	strict       bool
	retries      int
	retryBackoff time.Duration
}

// newSyncCommand creates the `idlsync sync` command.
func newSyncCommand(app *App) *cobra.Command {
	var opts syncOptions

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch every source and publish the aggregated IDL tree",
		Long: `Fetch every configured source, collect its IDL files and publish the
merged tree plus meta.json to the upstream repository.

A source that cannot be fetched does not stop the others. With retainStale
(the default) its previously published files are kept and listed under
"stale" in meta.json.

Exit codes:
  0  the run published, or found nothing to publish
  1  the run failed
  2  the configuration could not be loaded or the workspace is unusable
  3  file name collisions (with --strict, or failOnCollision in the config)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), app, opts)
		},
	}

	syncCmd.Flags().BoolVar(&opts.json, "json", false, "print the run report as JSON")
	syncCmd.Flags().BoolVar(&opts.strict, "strict", false, "exit with status 3 when file names collide")
	syncCmd.Flags().IntVar(&opts.retries, "retries", 0, "re-run a sync that failed fetching or publishing up to N times")
	syncCmd.Flags().DurationVar(&opts.retryBackoff, "retry-backoff", defaultRetryBackoff, "wait before the first retry, doubled for each further one")

	return syncCmd
}

func runSync(ctx context.Context, app *App, opts syncOptions) error {
	if opts.retries < 0 {
		return app.fail(newServiceError(errNegativeRetries, types.ExitConfig, 0))
	}

	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return app.fail(classifyConfigError(err))
	}

	svc, err := app.Engines(cfg, app.logger)
	if err != nil {
		return app.fail(classifySyncError(err))
	}

	attempts := opts.retries + 1
	var report *engine.Report
	err = engine.RetryWithBackoff(ctx, attempts, opts.retryBackoff, func(attempt int) (bool, error) {
		if attempt > 0 {
			app.logger.Warn("retrying sync", "attempt", attempt+1, "attempts", attempts)
		}
		var syncErr error
		report, syncErr = svc.Sync(ctx)
		return engine.IsTransient(syncErr), syncErr
	})

	if report != nil {
		if writeErr := writeReport(app.stdout, report, opts.json); writeErr != nil {
			return writeErr
		}
	}
	if err != nil {
		return app.fail(classifySyncError(err))
	}
	if opts.strict && len(report.Collisions) > 0 {
		collisionErr := &engine.CollisionError{Collisions: report.Collisions}
		return app.fail(newServiceError(collisionErr, types.ExitCollision, issue.NameCollisionId))
	}
	return nil
}
