// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/idlsync/idlsync/internal/aggregate"
	"github.com/idlsync/idlsync/pkg/types"
)

// Run stages, in order.
const (
	StageInit       Stage = "INIT"
	StageCacheReady Stage = "CACHE_READY"
	StageExtracted  Stage = "EXTRACTED"
	StageAggregated Stage = "AGGREGATED"
	StagePublished  Stage = "PUBLISHED"
	StageFailed     Stage = "FAILED"
)

// Per-source outcomes.
const (
	// SourceOK means the source was fetched and extracted this run.
	SourceOK SourceStatus = "ok"
	// SourceStale means the source failed and its previous files were kept.
	SourceStale SourceStatus = "stale"
	// SourceFailed means the source failed and contributes nothing.
	SourceFailed SourceStatus = "failed"
)

var (
	// ErrNoSources is returned when the run has no sources configured.
	ErrNoSources = errors.New("no sources configured")
	// ErrNoSourcesAvailable is returned when every source failed.
	ErrNoSourcesAvailable = errors.New("no source could be fetched")
	// ErrCollision is returned when collisions are configured to fail the run.
	ErrCollision = errors.New("file name collision")
	// ErrDuplicateSource is returned when two sources share a name.
	ErrDuplicateSource = errors.New("duplicate source name")
)

type (
	// Stage is a step of a run.
	Stage string

	// SourceStatus is a source's outcome in a run.
	SourceStatus string

	// SourceReport is the outcome of one source.
	SourceReport struct {
		Name       types.SourceName         `json:"name"`
		Repository types.RepositoryLocation `json:"repository"`
		Branch     types.Branch             `json:"branch"`
		Status     SourceStatus             `json:"status"`
		// Commit is the fetched commit, or the carried-over one when stale.
		Commit types.CommitID `json:"commit,omitempty"`
		// Files are the public filenames this source won.
		Files []string `json:"files"`
		// Stage is where a failed source dropped out.
		Stage Stage  `json:"stage,omitempty"`
		Error string `json:"error,omitempty"`
	}

	// Report describes a run, successful or not.
	Report struct {
		// Stage is the last stage reached, StageFailed for failed runs.
		Stage Stage `json:"stage"`
		// FailedStage is the stage that failed, empty on success.
		FailedStage Stage                 `json:"failedStage,omitempty"`
		Sources     []SourceReport        `json:"sources"`
		Collisions  []aggregate.Collision `json:"collisions,omitempty"`
		Commit      types.CommitID        `json:"commit,omitempty"`
		Sequence    int                   `json:"sequence,omitempty"`
		Changed     bool                  `json:"changed"`
		Pushed      bool                  `json:"pushed"`
		Started     time.Time             `json:"started"`
		Finished    time.Time             `json:"finished"`
	}

	// StageError reports the stage a run failed at.
	StageError struct {
		Stage Stage
		Err   error
	}

	// CollisionError lists the collisions that failed a run.
	CollisionError struct {
		Collisions []aggregate.Collision
	}
)

// String returns the string representation of the Stage.
func (s Stage) String() string { return string(s) }

// Error implements the error interface for StageError.
func (e *StageError) Error() string {
	return fmt.Sprintf("sync failed at %s: %v", e.Stage, e.Err)
}

// Unwrap returns the cause.
func (e *StageError) Unwrap() error { return e.Err }

// Error implements the error interface for CollisionError.
func (e *CollisionError) Error() string {
	if len(e.Collisions) == 1 {
		c := e.Collisions[0]
		return fmt.Sprintf("%d sources produce %s", len(c.Contenders), c.Filename)
	}
	return fmt.Sprintf("%d file names are produced by more than one source", len(e.Collisions))
}

// Unwrap returns ErrCollision for errors.Is() compatibility.
func (e *CollisionError) Unwrap() error { return ErrCollision }

// Succeeded reports whether the run reached PUBLISHED.
func (r *Report) Succeeded() bool {
	return r.Stage == StagePublished
}

// Failed returns the sources that did not contribute fresh files.
func (r *Report) Failed() []SourceReport {
	var out []SourceReport
	for _, s := range r.Sources {
		if s.Status != SourceOK {
			out = append(out, s)
		}
	}
	return out
}

// Duration is how long the run took.
func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// IsTransient reports whether a failed sync may succeed when simply run
// again: a fetch or publish failure, but not a configuration problem, a
// collision or a cancellation.
func IsTransient(err error) bool {
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return stageErr.Stage == StageCacheReady || stageErr.Stage == StagePublished
}
