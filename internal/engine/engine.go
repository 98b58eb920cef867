// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/idlsync/idlsync/internal/aggregate"
	"github.com/idlsync/idlsync/internal/extract"
	"github.com/idlsync/idlsync/internal/publish"
	"github.com/idlsync/idlsync/pkg/types"
)

// DefaultMaxConcurrency bounds per-source work when no limit is configured.
const DefaultMaxConcurrency = 4

type (
	// Cache provides up-to-date working copies of sources.
	Cache interface {
		Prepare() error
		Ensure(ctx context.Context, src types.RemoteSource) (types.WorkingCopy, error)
	}

	// Extractor reads the IDL files of a working copy.
	Extractor interface {
		Extract(ctx context.Context, src types.RemoteSource, wc types.WorkingCopy) ([]extract.File, error)
	}

	// Publisher owns the working repository and the upstream.
	Publisher interface {
		CheckWritable() error
		Previous(ctx context.Context) (*publish.Snapshot, error)
		Publish(ctx context.Context, result aggregate.Result, prov *aggregate.Provenance, conds ...publish.Condition) (publish.Outcome, error)
	}

	// Option configures an Engine.
	Option func(*Engine)

	// Engine runs synchronizations of a fixed set of sources.
	Engine struct {
		sources         []types.RemoteSource
		cache           Cache
		extractor       Extractor
		publisher       Publisher
		maxConcurrency  int
		retainStale     bool
		failOnCollision bool
		now             func() time.Time
		logger          *log.Logger
	}

	// sourceState tracks one source through a run.
	sourceState struct {
		src    types.RemoteSource
		wc     types.WorkingCopy
		files  []extract.File
		stage  Stage
		err    error
		stale  bool
		commit types.CommitID
	}
)

// WithMaxConcurrency bounds how many sources are fetched or extracted at once.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		e.maxConcurrency = n
	}
}

// WithRetainStale keeps the last published files of sources that fail.
func WithRetainStale(retain bool) Option {
	return func(e *Engine) {
		e.retainStale = retain
	}
}

// WithFailOnCollision fails the run at AGGREGATED when any collision is found.
func WithFailOnCollision(fail bool) Option {
	return func(e *Engine) {
		e.failOnCollision = fail
	}
}

// WithClock sets the time source for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New returns an engine for sources. Stale retention is on by default.
func New(sources []types.RemoteSource, cache Cache, extractor Extractor, publisher Publisher, opts ...Option) *Engine {
	e := &Engine{
		sources:        slices.Clone(sources),
		cache:          cache,
		extractor:      extractor,
		publisher:      publisher,
		maxConcurrency: DefaultMaxConcurrency,
		retainStale:    true,
		now:            time.Now,
		logger:         log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxConcurrency < 1 {
		e.maxConcurrency = 1
	}
	return e
}

// Sources returns the configured sources.
func (e *Engine) Sources() []types.RemoteSource {
	return slices.Clone(e.sources)
}

// Sync runs one synchronization. The report is always returned; the error
// is a *StageError when the run ended in FAILED.
func (e *Engine) Sync(ctx context.Context) (*Report, error) {
	r := &run{engine: e, report: &Report{Stage: StageInit, Started: e.now()}}
	return r.execute(ctx)
}

// run holds the state of one Sync call.
type run struct {
	engine *Engine
	report *Report
	states []*sourceState
	// carried is the snapshot stale files were taken from, nil when none were.
	carried *publish.Snapshot
}

func (r *run) execute(ctx context.Context) (*Report, error) {
	e := r.engine
	e.logger.Info("sync started", "sources", len(e.sources))

	if err := r.initialize(); err != nil {
		return r.fail(StageInit, err)
	}
	if err := ctx.Err(); err != nil {
		return r.fail(StageInit, err)
	}

	r.parallel(ctx, r.states, func(ctx context.Context, s *sourceState) {
		wc, err := e.cache.Ensure(ctx, s.src)
		if err != nil {
			s.stage, s.err = StageCacheReady, err
			return
		}
		s.wc, s.commit = wc, wc.Commit
	})
	if err := ctx.Err(); err != nil {
		return r.fail(StageCacheReady, err)
	}
	if err := r.requireAny(); err != nil {
		return r.fail(StageCacheReady, err)
	}
	r.advance(StageCacheReady)

	r.parallel(ctx, r.healthy(), func(ctx context.Context, s *sourceState) {
		files, err := e.extractor.Extract(ctx, s.src, s.wc)
		if err != nil {
			s.stage, s.err = StageExtracted, err
			return
		}
		s.files = files
	})
	if err := ctx.Err(); err != nil {
		return r.fail(StageExtracted, err)
	}
	if err := r.requireAny(); err != nil {
		return r.fail(StageExtracted, err)
	}
	r.carryStale(ctx)
	if err := ctx.Err(); err != nil {
		return r.fail(StageExtracted, err)
	}
	r.advance(StageExtracted)

	result := aggregate.Aggregate(r.sourceResults())
	r.report.Collisions = result.Collisions
	for _, c := range result.Collisions {
		e.logger.Warn("file name collision", "file", c.Filename, "winner", c.Winner.Source, "contenders", len(c.Contenders))
	}
	r.fillSources(result.Provenance)
	if e.failOnCollision && len(result.Collisions) > 0 {
		return r.fail(StageAggregated, &CollisionError{Collisions: result.Collisions})
	}
	if err := ctx.Err(); err != nil {
		return r.fail(StageAggregated, err)
	}
	r.advance(StageAggregated)

	var conds []publish.Condition
	if r.carried != nil {
		conds = append(conds, publish.OnTopOf(r.carried.Commit))
	}
	outcome, err := e.publisher.Publish(ctx, result, result.Provenance, conds...)
	r.report.Commit, r.report.Sequence = outcome.Commit, outcome.Sequence
	r.report.Changed, r.report.Pushed = outcome.Changed, outcome.Pushed
	if err != nil {
		return r.fail(StagePublished, err)
	}
	r.advance(StagePublished)
	r.report.Finished = e.now()
	e.logger.Info("sync finished", "commit", outcome.Commit.Short(), "changed", outcome.Changed,
		"failed", len(r.report.Failed()), "collisions", len(result.Collisions))
	return r.report, nil
}

func (r *run) initialize() error {
	e := r.engine
	if len(e.sources) == 0 {
		return ErrNoSources
	}
	var errs []error
	seen := make(map[types.SourceName]bool, len(e.sources))
	for _, src := range e.sources {
		if err := src.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[src.Name] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateSource, src.Name))
		}
		seen[src.Name] = true
		r.states = append(r.states, &sourceState{src: src})
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if err := e.cache.Prepare(); err != nil {
		return err
	}
	return e.publisher.CheckWritable()
}

// parallel runs fn for every state, bounded by the engine's concurrency. A
// failing source never cancels the others.
func (r *run) parallel(ctx context.Context, states []*sourceState, fn func(context.Context, *sourceState)) {
	var g errgroup.Group
	g.SetLimit(r.engine.maxConcurrency)
	for _, s := range states {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			fn(ctx, s)
			if s.err != nil && ctx.Err() == nil {
				r.engine.logger.Warn("source failed", "source", s.src.Name, "stage", s.stage, "error", s.err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (r *run) healthy() []*sourceState {
	var out []*sourceState
	for _, s := range r.states {
		if s.err == nil {
			out = append(out, s)
		}
	}
	return out
}

func (r *run) requireAny() error {
	if len(r.healthy()) > 0 {
		return nil
	}
	var errs []error
	for _, s := range r.states {
		errs = append(errs, s.err)
	}
	return fmt.Errorf("%w: %w", ErrNoSourcesAvailable, errors.Join(errs...))
}

// carryStale replaces the results of failed sources by their previously
// published files when retention is on.
func (r *run) carryStale(ctx context.Context) {
	e := r.engine
	if !e.retainStale || len(r.healthy()) == len(r.states) {
		return
	}
	snap, err := e.publisher.Previous(ctx)
	if err != nil {
		e.logger.Warn("previous publication unavailable, failed sources are dropped", "error", err)
		return
	}
	for _, s := range r.states {
		if s.err == nil {
			continue
		}
		files, commit, ok := snap.Carry(s.src)
		if !ok {
			continue
		}
		s.stale, s.files, s.commit = true, files, commit
		r.carried = snap
		e.logger.Info("keeping previous files", "source", s.src.Name, "commit", commit.Short(), "files", len(files))
	}
}

func (r *run) sourceResults() []aggregate.SourceResult {
	var out []aggregate.SourceResult
	for _, s := range r.states {
		if s.err != nil && !s.stale {
			continue
		}
		res := aggregate.SourceResult{Source: s.src, Commit: s.commit, Files: s.files, Stale: s.stale}
		if s.stale {
			res.Reason = s.err.Error()
		}
		out = append(out, res)
	}
	return out
}

func (r *run) fillSources(prov *aggregate.Provenance) {
	r.report.Sources = r.report.Sources[:0]
	for _, s := range r.states {
		sr := SourceReport{
			Name:       s.src.Name,
			Repository: s.src.Repository,
			Branch:     s.src.Branch,
			Status:     SourceOK,
			Commit:     s.commit,
			Files:      []string{},
		}
		if s.err != nil {
			sr.Status, sr.Stage, sr.Error = SourceFailed, s.stage, s.err.Error()
			if s.stale {
				sr.Status = SourceStale
			}
		}
		if prov != nil {
			if entry, ok := prov.Lookup(s.src.Name.String()); ok {
				sr.Files = entry.Files
			}
		}
		r.report.Sources = append(r.report.Sources, sr)
	}
}

func (r *run) advance(stage Stage) {
	r.report.Stage = stage
	r.engine.logger.Debug("stage reached", "stage", stage)
}

func (r *run) fail(stage Stage, err error) (*Report, error) {
	if len(r.report.Sources) == 0 && len(r.states) > 0 {
		r.fillSources(nil)
	}
	r.report.Stage = StageFailed
	r.report.FailedStage = stage
	r.report.Finished = r.engine.now()
	r.engine.logger.Error("sync failed", "stage", stage, "error", firstLine(err.Error()))
	return r.report, &StageError{Stage: stage, Err: err}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
