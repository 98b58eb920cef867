// SPDX-License-Identifier: MPL-2.0

package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/idlsync/idlsync/internal/aggregate"
	"github.com/idlsync/idlsync/internal/git"
	"github.com/idlsync/idlsync/pkg/types"
)

// Publication steps reported by PublishError.
const (
	StepLock    = "lock"
	StepPrepare = "prepare"
	StepWrite   = "write"
	StepStage   = "stage"
	StepCommit  = "commit"
	StepPush    = "push"
)

var (
	// ErrPublish is wrapped by every PublishError.
	ErrPublish = errors.New("publish failed")
	// ErrInvalidTarget is returned by New for an unusable Target.
	ErrInvalidTarget = errors.New("invalid publish target")
	// ErrRepositoryFolderUnusable is returned by CheckWritable.
	ErrRepositoryFolderUnusable = errors.New("repository folder unusable")
	// ErrUpstreamMoved is returned when the upstream branch no longer holds
	// the publication a Condition expects.
	ErrUpstreamMoved = errors.New("upstream moved since the previous publication was read")
)

type (
	// Target describes where publications go.
	Target struct {
		// RepositoryDir is the local working repository.
		RepositoryDir string
		// Upstream is pushed to as "origin".
		Upstream types.RepositoryLocation
		// Branch is the upstream branch published to.
		Branch types.Branch
		// OutputDir is the slash-separated directory, relative to the
		// repository root, that holds the published files.
		OutputDir string
		// AllowEmptyCommit records a commit even when nothing changed.
		AllowEmptyCommit bool
	}

	// Outcome reports what a publication did.
	Outcome struct {
		// Commit is the new commit, or the current HEAD when nothing changed.
		Commit types.CommitID
		// Changed is false when the tree matched the previous publication and
		// no commit was made.
		Changed bool
		// Pushed is true once the upstream accepted the commit.
		Pushed bool
		// Sequence is the publication number carried in the commit message.
		Sequence int
		Message  string
	}

	// PublishError reports the step a publication failed at.
	PublishError struct {
		Step string
		Err  error
	}

	// Option configures a Publisher.
	Option func(*Publisher)

	// Condition guards a single Publish call.
	Condition func(*conditions)

	conditions struct {
		base    types.CommitID
		hasBase bool
	}

	// Publisher owns the working repository.
	Publisher struct {
		target Target
		runner git.Runner
		now    func() time.Time
		logger *log.Logger
		mu     sync.Mutex
	}
)

// Error implements the error interface for PublishError.
func (e *PublishError) Error() string {
	return fmt.Sprintf("publish: %s: %v", e.Step, e.Err)
}

// Unwrap exposes ErrPublish and the underlying cause.
func (e *PublishError) Unwrap() []error { return []error{ErrPublish, e.Err} }

// Validate checks the target fields.
func (t Target) Validate() error {
	var errs []error
	if t.RepositoryDir == "" {
		errs = append(errs, errors.New("repository directory is empty"))
	}
	if err := t.Upstream.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := t.Branch.Validate(); err != nil {
		errs = append(errs, err)
	}
	if clean := path.Clean(t.OutputDir); t.OutputDir == "" || clean == "." || !filepath.IsLocal(filepath.FromSlash(clean)) {
		errs = append(errs, fmt.Errorf("output directory %q must be a subdirectory of the repository", t.OutputDir))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidTarget, errors.Join(errs...))
	}
	return nil
}

// OnTopOf makes Publish fail with ErrUpstreamMoved unless the upstream
// branch is still at base. An empty base expects nothing published yet.
func OnTopOf(base types.CommitID) Condition {
	return func(c *conditions) {
		c.base, c.hasBase = base, true
	}
}

// WithClock sets the time source used in commit messages.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Publisher) {
		p.logger = l
	}
}

// New returns a Publisher for target.
func New(target Target, runner git.Runner, opts ...Option) (*Publisher, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	target.OutputDir = path.Clean(target.OutputDir)
	p := &Publisher{
		target: target,
		runner: runner,
		now:    time.Now,
		logger: log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Target returns the publication target.
func (p *Publisher) Target() Target {
	return p.target
}

// CheckWritable verifies the working repository directory can be created
// and written to, without touching the upstream.
func (p *Publisher) CheckWritable() error {
	if err := os.MkdirAll(p.target.RepositoryDir, 0o755); err != nil {
		return fmt.Errorf("%w: create: %w", ErrRepositoryFolderUnusable, err)
	}
	probe, err := os.CreateTemp(p.target.RepositoryDir, ".idlsync-probe-*")
	if err != nil {
		return fmt.Errorf("%w: not writable: %w", ErrRepositoryFolderUnusable, err)
	}
	name := probe.Name()
	return errors.Join(probe.Close(), os.Remove(name))
}

// Publish replaces the output directory with exactly the files of result,
// writes prov as meta.json, commits and pushes. When nothing changed and
// empty commits are not allowed, it returns the current HEAD with Changed
// false and pushes nothing.
func (p *Publisher) Publish(ctx context.Context, result aggregate.Result, prov *aggregate.Provenance, conds ...Condition) (Outcome, error) {
	var want conditions
	for _, cond := range conds {
		cond(&want)
	}

	release, err := p.lock()
	if err != nil {
		return Outcome{}, &PublishError{Step: StepLock, Err: err}
	}
	defer release()

	repo, err := p.prepare(ctx)
	if err != nil {
		return Outcome{}, &PublishError{Step: StepPrepare, Err: err}
	}
	if want.hasBase {
		var head types.CommitID
		if repo.HasHead(ctx) {
			if head, err = repo.Head(ctx); err != nil {
				return Outcome{}, &PublishError{Step: StepPrepare, Err: err}
			}
		}
		if head != want.base {
			return Outcome{}, &PublishError{
				Step: StepPrepare,
				Err:  fmt.Errorf("%w: expected %q, found %q", ErrUpstreamMoved, want.base.Short(), head.Short()),
			}
		}
	}
	if err := p.writeTree(result, prov); err != nil {
		return Outcome{}, &PublishError{Step: StepWrite, Err: err}
	}

	if err := repo.AddAll(ctx); err != nil {
		return Outcome{}, p.abort(ctx, repo, StepStage, err)
	}
	changed, err := repo.HasChanges(ctx)
	if err != nil {
		return Outcome{}, p.abort(ctx, repo, StepStage, err)
	}
	if !changed && !p.target.AllowEmptyCommit {
		head, _ := repo.Head(ctx)
		p.logger.Info("nothing to publish", "commit", head.Short())
		return Outcome{Commit: head}, nil
	}

	count, err := repo.CommitCount(ctx)
	if err != nil {
		return Outcome{}, p.abort(ctx, repo, StepCommit, err)
	}
	out := Outcome{Sequence: count + 1, Changed: changed}
	out.Message = fmt.Sprintf("idlsync: publish #%d at %s", out.Sequence, p.now().UTC().Format(time.RFC3339))
	out.Commit, err = repo.Commit(ctx, out.Message, p.target.AllowEmptyCommit)
	if err != nil {
		return Outcome{}, p.abort(ctx, repo, StepCommit, err)
	}
	p.logger.Info("committed", "commit", out.Commit.Short(), "sequence", out.Sequence)

	if err := repo.Push(ctx, git.DefaultRemote, p.target.Branch); err != nil {
		// the local commit is discarded by the next prepare
		return out, &PublishError{Step: StepPush, Err: err}
	}
	out.Pushed = true
	p.logger.Info("pushed", "upstream", p.target.Upstream, "branch", p.target.Branch)
	return out, nil
}

// abort unstages whatever the failed step left in the index.
func (p *Publisher) abort(ctx context.Context, repo *git.Repo, step string, cause error) error {
	if err := repo.Unstage(context.WithoutCancel(ctx)); err != nil {
		p.logger.Warn("unstage after failure", "error", err)
	}
	return &PublishError{Step: step, Err: cause}
}

// lock takes the run-level lock and returns its release function.
func (p *Publisher) lock() (func(), error) {
	p.mu.Lock()
	if err := os.MkdirAll(filepath.Dir(p.target.RepositoryDir), 0o755); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	fl, err := acquireRunLock(filepath.Clean(p.target.RepositoryDir) + ".lock")
	switch {
	case errors.Is(err, errFlockUnavailable):
		p.logger.Debug("process lock only", "reason", err)
	case err != nil:
		p.mu.Unlock()
		return nil, err
	}
	return func() {
		if err := fl.Release(); err != nil {
			p.logger.Debug("release run lock", "error", err)
		}
		p.mu.Unlock()
	}, nil
}

// prepare makes the working repository a clean checkout of the upstream
// branch, or an empty repository on that branch when the upstream has none.
func (p *Publisher) prepare(ctx context.Context) (*git.Repo, error) {
	dir := p.target.RepositoryDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	repo := git.Open(p.runner, dir)
	if !repo.IsWorkTree(ctx) {
		p.logger.Debug("initializing working repository", "dir", dir)
		if err := repo.Init(ctx, p.target.Branch); err != nil {
			return nil, err
		}
	}
	if err := repo.SetRemote(ctx, git.DefaultRemote, p.target.Upstream); err != nil {
		return nil, err
	}
	exists, err := repo.RemoteBranchExists(ctx, git.DefaultRemote, p.target.Branch)
	if err != nil {
		return nil, err
	}

	if exists {
		if err := repo.Fetch(ctx, git.DefaultRemote, p.target.Branch); err != nil {
			return nil, err
		}
		if err := repo.CheckoutBranch(ctx, p.target.Branch, "FETCH_HEAD"); err != nil {
			return nil, err
		}
		if err := repo.ResetHard(ctx, "FETCH_HEAD"); err != nil {
			return nil, err
		}
	} else {
		// nothing published yet: local commits were never accepted upstream
		if repo.HasHead(ctx) {
			p.logger.Debug("discarding unpublished local history", "branch", p.target.Branch)
		}
		if err := repo.Orphan(ctx, p.target.Branch); err != nil {
			return nil, err
		}
		if err := repo.Unstage(ctx); err != nil {
			return nil, err
		}
	}
	if err := repo.Clean(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// writeTree replaces the output directory with the result's files and writes
// the provenance record at the repository root.
func (p *Publisher) writeTree(result aggregate.Result, prov *aggregate.Provenance) error {
	root := p.target.RepositoryDir
	out := filepath.Join(root, filepath.FromSlash(p.target.OutputDir))
	if err := os.RemoveAll(out); err != nil {
		return err
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	for _, name := range result.Names() {
		rel := filepath.FromSlash(name)
		if !filepath.IsLocal(rel) {
			return fmt.Errorf("public filename %q escapes the output directory", name)
		}
		dst := filepath.Join(out, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, result.Files[name].Content, 0o644); err != nil {
			return err
		}
	}

	if prov == nil {
		prov = result.Provenance
	}
	if prov == nil {
		prov = aggregate.NewProvenance()
	}
	data, err := prov.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, aggregate.MetaFileName), data, 0o644)
}
