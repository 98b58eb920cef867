// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/idlsync/idlsync/internal/cache"
	"github.com/idlsync/idlsync/internal/config"
	"github.com/idlsync/idlsync/internal/engine"
	"github.com/idlsync/idlsync/internal/git"
	"github.com/idlsync/idlsync/internal/issue"
	"github.com/idlsync/idlsync/internal/publish"
	"github.com/idlsync/idlsync/pkg/types"
)

// ServiceError is an error that carries rendering information for the CLI
// layer: the exit code it maps to and an optional issue catalog entry.
// Always create via newServiceError to enforce the Err-must-be-non-nil invariant.
type ServiceError struct {
	// Err is the underlying error (must not be nil).
	Err error
	// Code is the process exit code.
	Code types.ExitCode
	// IssueID is the optional issue catalog ID for rendering help text.
	IssueID issue.Id
}

// newServiceError creates a ServiceError with a nil-Err panic guard.
func newServiceError(err error, code types.ExitCode, issueID issue.Id) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{
		Err:     err,
		Code:    code,
		IssueID: issueID,
	}
}

// Error implements the error interface.
func (e *ServiceError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// classifySyncError maps an engine failure to its exit code and help entry.
func classifySyncError(err error) *ServiceError {
	var (
		stageErr   *engine.StageError
		publishErr *publish.PublishError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return newServiceError(err, types.ExitFailure, issue.SyncCanceledId)
	case errors.Is(err, git.ErrGitNotFound):
		return newServiceError(err, types.ExitConfig, issue.GitNotFoundId)
	case errors.Is(err, engine.ErrNoSources):
		return newServiceError(err, types.ExitConfig, issue.NoSourcesConfiguredId)
	case errors.Is(err, engine.ErrDuplicateSource), errors.Is(err, types.ErrInvalidRemoteSource):
		return newServiceError(err, types.ExitConfig, issue.InvalidSourcesId)
	case errors.Is(err, cache.ErrRootUnusable):
		return newServiceError(err, types.ExitConfig, issue.CacheLocationUnusableId)
	case errors.Is(err, publish.ErrRepositoryFolderUnusable):
		return newServiceError(err, types.ExitConfig, issue.RepositoryFolderUnusableId)
	case errors.Is(err, engine.ErrCollision):
		return newServiceError(err, types.ExitCollision, issue.NameCollisionId)
	case errors.Is(err, engine.ErrNoSourcesAvailable):
		return newServiceError(err, types.ExitFailure, issue.AllSourcesFailedId)
	case errors.As(err, &publishErr) && publishErr.Step == publish.StepPush:
		return newServiceError(err, types.ExitFailure, issue.PushRejectedId)
	case errors.As(err, &stageErr) && stageErr.Stage == engine.StageInit:
		return newServiceError(err, types.ExitConfig, 0)
	case errors.Is(err, publish.ErrPublish):
		return newServiceError(err, types.ExitFailure, issue.PublishFailedId)
	}
	return newServiceError(err, types.ExitFailure, 0)
}

// classifyConfigError maps a configuration load failure to its help entry.
func classifyConfigError(err error) *ServiceError {
	if errors.Is(err, config.ErrInvalidConfig) {
		return newServiceError(err, types.ExitConfig, issue.InvalidConfigId)
	}
	return newServiceError(err, types.ExitConfig, issue.ConfigLoadFailedId)
}

// fail reports svcErr on stderr and returns the ExitError for the command.
func (a *App) fail(svcErr *ServiceError) error {
	renderServiceError(a.stderr, svcErr, a.opts.verbose, a.issueStyle, a.logger)
	return &ExitError{Code: svcErr.Code, Err: svcErr.Err}
}

// renderServiceError prints the formatted error, then the issue help
// section when one is attached.
func renderServiceError(stderr io.Writer, svcErr *ServiceError, verbose bool, style string, logger *log.Logger) {
	if svcErr == nil {
		return
	}

	fmt.Fprintln(stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(svcErr.Err, verbose))

	if svcErr.IssueID == 0 {
		return
	}

	if catalogEntry := issue.Get(svcErr.IssueID); catalogEntry != nil {
		rendered, renderErr := catalogEntry.Render(style)
		if renderErr != nil {
			logger.Warn("failed to render issue catalog entry", "issueID", svcErr.IssueID, "error", renderErr)
		} else {
			fmt.Fprint(stderr, rendered)
		}
	}
}
