// SPDX-License-Identifier: MPL-2.0

package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/idlsync/idlsync/internal/git"
	"github.com/idlsync/idlsync/pkg/types"
)

// tempPrefix marks in-progress clones inside the cache root.
const tempPrefix = ".clone-"

var (
	// ErrSourceUnavailable is wrapped by every SourceError.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrRootUnusable is returned by Prepare when the cache root cannot be
	// created or read.
	ErrRootUnusable = errors.New("cache root unusable")

	// errCorrupted marks a working copy that must be discarded and re-cloned.
	errCorrupted = errors.New("working copy corrupted")
)

type (
	// SourceError is returned by Ensure when a source could not be cloned or
	// fetched. The cached copy, if any, is left untouched.
	SourceError struct {
		Source types.SourceName
		Op     string
		Err    error
	}

	// Option configures a Cache.
	Option func(*Cache)

	// Entry describes one cached working copy.
	Entry struct {
		Name types.SourceName
		Dir  string
		// Commit is the checked-out commit, empty when Corrupted.
		Commit types.CommitID
		// Corrupted is set when the directory is not a usable work tree.
		Corrupted bool
	}

	// Cache owns the working copies under its root directory.
	Cache struct {
		root   string
		runner git.Runner
		logger *log.Logger

		mu    sync.Mutex
		locks map[types.SourceName]*sync.Mutex
	}
)

// Error implements the error interface for SourceError.
func (e *SourceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Source, e.Err)
}

// Unwrap exposes ErrSourceUnavailable and the underlying cause.
func (e *SourceError) Unwrap() []error { return []error{ErrSourceUnavailable, e.Err} }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// New returns a cache rooted at root. Nothing is created until Prepare or
// Ensure runs.
func New(root string, runner git.Runner, opts ...Option) *Cache {
	c := &Cache{
		root:   root,
		runner: runner,
		logger: log.New(io.Discard),
		locks:  make(map[types.SourceName]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// Path returns the directory of name's working copy.
func (c *Cache) Path(name types.SourceName) string {
	return filepath.Join(c.root, name.String())
}

// Prepare creates the cache root and removes leftovers of interrupted clones.
func (c *Cache) Prepare() error {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return fmt.Errorf("%w: create: %w", ErrRootUnusable, err)
	}
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("%w: read: %w", ErrRootUnusable, err)
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.root, e.Name())); err != nil {
			return fmt.Errorf("remove interrupted clone: %w", err)
		}
	}
	return nil
}

// Ensure returns an up-to-date, clean working copy of src checked out at the
// tip of its branch. A missing copy is cloned; an existing one is fetched
// and hard-reset. A copy that fails its integrity check or cannot be reset is
// discarded and cloned again.
func (c *Cache) Ensure(ctx context.Context, src types.RemoteSource) (types.WorkingCopy, error) {
	if err := src.Validate(); err != nil {
		return types.WorkingCopy{}, err
	}
	unlock := c.lock(src.Name)
	defer unlock()

	dir := c.Path(src.Name)
	logger := c.logger.With("source", src.Name)

	if _, err := os.Stat(dir); err == nil {
		wc, err := c.refresh(ctx, src, dir)
		switch {
		case err == nil:
			logger.Debug("refreshed", "commit", wc.Commit.Short())
			return wc, nil
		case ctx.Err() != nil:
			return types.WorkingCopy{}, ctx.Err()
		case !errors.Is(err, errCorrupted):
			return types.WorkingCopy{}, err
		}
		logger.Warn("discarding cached copy", "error", err)
		if err := os.RemoveAll(dir); err != nil {
			return types.WorkingCopy{}, fmt.Errorf("remove corrupted copy of %s: %w", src.Name, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return types.WorkingCopy{}, fmt.Errorf("stat cached copy of %s: %w", src.Name, err)
	}

	wc, err := c.clone(ctx, src, dir)
	if err != nil {
		return types.WorkingCopy{}, err
	}
	logger.Debug("cloned", "commit", wc.Commit.Short())
	return wc, nil
}

func (c *Cache) refresh(ctx context.Context, src types.RemoteSource, dir string) (types.WorkingCopy, error) {
	repo := git.Open(c.runner, dir)
	if !repo.IsWorkTree(ctx) {
		return types.WorkingCopy{}, fmt.Errorf("%w: %s is not a git work tree", errCorrupted, dir)
	}
	url, err := repo.RemoteURL(ctx, git.DefaultRemote)
	if err != nil {
		return types.WorkingCopy{}, fmt.Errorf("%w: %w", errCorrupted, err)
	}
	if url != src.Repository.String() {
		return types.WorkingCopy{}, fmt.Errorf("%w: origin is %s, want %s", errCorrupted, url, src.Repository)
	}

	if err := repo.Fetch(ctx, git.DefaultRemote, src.Branch); err != nil {
		return types.WorkingCopy{}, &SourceError{Source: src.Name, Op: "fetch", Err: err}
	}
	for _, step := range []func(context.Context) error{
		func(ctx context.Context) error { return repo.CheckoutBranch(ctx, src.Branch, "FETCH_HEAD") },
		func(ctx context.Context) error { return repo.ResetHard(ctx, "FETCH_HEAD") },
		repo.Clean,
	} {
		if err := step(ctx); err != nil {
			return types.WorkingCopy{}, fmt.Errorf("%w: %w", errCorrupted, err)
		}
	}
	head, err := repo.Head(ctx)
	if err != nil {
		return types.WorkingCopy{}, fmt.Errorf("%w: %w", errCorrupted, err)
	}
	return types.WorkingCopy{Source: src.Name, Dir: dir, Commit: head}, nil
}

func (c *Cache) clone(ctx context.Context, src types.RemoteSource, dir string) (types.WorkingCopy, error) {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return types.WorkingCopy{}, fmt.Errorf("create cache root: %w", err)
	}
	tmp, err := os.MkdirTemp(c.root, tempPrefix+src.Name.String()+"-")
	if err != nil {
		return types.WorkingCopy{}, fmt.Errorf("create clone directory: %w", err)
	}
	defer func() {
		if tmp != "" {
			_ = os.RemoveAll(tmp)
		}
	}()

	repo, err := git.Clone(ctx, c.runner, src.Repository, src.Branch, tmp)
	if err != nil {
		if ctx.Err() != nil {
			return types.WorkingCopy{}, ctx.Err()
		}
		return types.WorkingCopy{}, &SourceError{Source: src.Name, Op: "clone", Err: err}
	}
	head, err := repo.Head(ctx)
	if err != nil {
		return types.WorkingCopy{}, &SourceError{Source: src.Name, Op: "clone", Err: err}
	}
	if err := os.Rename(tmp, dir); err != nil {
		return types.WorkingCopy{}, fmt.Errorf("move clone of %s into place: %w", src.Name, err)
	}
	tmp = ""
	return types.WorkingCopy{Source: src.Name, Dir: dir, Commit: head}, nil
}

// Invalidate removes the cached copy of name. Removing a copy that does not
// exist is not an error.
func (c *Cache) Invalidate(name types.SourceName) error {
	if err := name.Validate(); err != nil {
		return err
	}
	unlock := c.lock(name)
	defer unlock()

	if err := os.RemoveAll(c.Path(name)); err != nil {
		return fmt.Errorf("invalidate %s: %w", name, err)
	}
	c.logger.Debug("invalidated", "source", name)
	return nil
}

// Purge removes every cached copy. The root itself is kept.
func (c *Cache) Purge() error {
	entries, err := os.ReadDir(c.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cache root: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := types.SourceName(e.Name())
		if strings.HasPrefix(e.Name(), tempPrefix) {
			errs = append(errs, os.RemoveAll(filepath.Join(c.root, e.Name())))
			continue
		}
		errs = append(errs, c.Invalidate(name))
	}
	return errors.Join(errs...)
}

// List returns the cached copies sorted by name.
func (c *Cache) List(ctx context.Context) ([]Entry, error) {
	entries, err := os.ReadDir(c.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache root: %w", err)
	}
	var out []Entry
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		entry := Entry{Name: types.SourceName(e.Name()), Dir: filepath.Join(c.root, e.Name())}
		repo := git.Open(c.runner, entry.Dir)
		if !repo.IsWorkTree(ctx) {
			entry.Corrupted = true
		} else if head, err := repo.Head(ctx); err == nil {
			entry.Commit = head
		} else {
			entry.Corrupted = true
		}
		out = append(out, entry)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name.String(), b.Name.String()) })
	return out, nil
}

// lock serializes work on one source and returns the matching unlock.
func (c *Cache) lock(name types.SourceName) func() {
	c.mu.Lock()
	m, ok := c.locks[name]
	if !ok {
		m = &sync.Mutex{}
		c.locks[name] = m
	}
	c.mu.Unlock()
	m.Lock()
	return m.Unlock
}
