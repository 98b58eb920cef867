// SPDX-License-Identifier: MPL-2.0

package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/idlsync/idlsync/pkg/types"
)

// DefaultRemote is the remote name idlsync uses in every repository it manages.
const DefaultRemote = "origin"

// Repo binds a Runner to one repository directory.
type Repo struct {
	dir    string
	runner Runner
}

// Open returns a Repo for dir. It does not touch the filesystem.
func Open(runner Runner, dir string) *Repo {
	return &Repo{dir: dir, runner: runner}
}

// Clone clones branch of url into dir and returns the resulting Repo. The
// parent of dir must exist; dir itself must not.
func Clone(ctx context.Context, runner Runner, url types.RepositoryLocation, branch types.Branch, dir string) (*Repo, error) {
	_, err := runner.Run(ctx, filepath.Dir(dir),
		"clone", "--quiet", "--no-tags", "--branch", branch.String(), "--", url.String(), dir)
	if err != nil {
		return nil, err
	}
	return Open(runner, dir), nil
}

// Dir returns the repository directory.
func (r *Repo) Dir() string {
	return r.dir
}

func (r *Repo) git(ctx context.Context, args ...string) (string, error) {
	return r.runner.Run(ctx, r.dir, args...)
}

// Init creates an empty repository whose unborn HEAD points at branch.
func (r *Repo) Init(ctx context.Context, branch types.Branch) error {
	if _, err := r.git(ctx, "init", "--quiet"); err != nil {
		return err
	}
	_, err := r.git(ctx, "symbolic-ref", "HEAD", "refs/heads/"+branch.String())
	return err
}

// IsWorkTree reports whether dir is the top level of a git work tree. A
// directory nested inside some other repository is not.
func (r *Repo) IsWorkTree(ctx context.Context) bool {
	if _, err := os.Stat(filepath.Join(r.dir, ".git")); err != nil {
		return false
	}
	out, err := r.git(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return false
	}
	return samePath(strings.TrimSpace(out), r.dir)
}

// RemoteURL returns the configured URL of remote.
func (r *Repo) RemoteURL(ctx context.Context, remote string) (string, error) {
	out, err := r.git(ctx, "remote", "get-url", remote)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// SetRemote adds remote pointing at url, or repoints it when it exists.
func (r *Repo) SetRemote(ctx context.Context, remote string, url types.RepositoryLocation) error {
	current, err := r.RemoteURL(ctx, remote)
	if err != nil {
		_, err = r.git(ctx, "remote", "add", remote, url.String())
		return err
	}
	if current == url.String() {
		return nil
	}
	_, err = r.git(ctx, "remote", "set-url", remote, url.String())
	return err
}

// RemoteBranchExists reports whether branch exists on remote.
func (r *Repo) RemoteBranchExists(ctx context.Context, remote string, branch types.Branch) (bool, error) {
	out, err := r.git(ctx, "ls-remote", "--heads", remote, "refs/heads/"+branch.String())
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// Fetch fetches branch from remote into FETCH_HEAD.
func (r *Repo) Fetch(ctx context.Context, remote string, branch types.Branch) error {
	_, err := r.git(ctx, "fetch", "--quiet", "--no-tags", remote, "refs/heads/"+branch.String())
	return err
}

// CheckoutBranch force-points branch at ref and checks it out, discarding
// local modifications.
func (r *Repo) CheckoutBranch(ctx context.Context, branch types.Branch, ref string) error {
	_, err := r.git(ctx, "checkout", "--quiet", "--force", "-B", branch.String(), ref)
	return err
}

// ResetHard resets index and work tree to ref.
func (r *Repo) ResetHard(ctx context.Context, ref string) error {
	_, err := r.git(ctx, "reset", "--quiet", "--hard", ref)
	return err
}

// Orphan points HEAD at branch and deletes that branch, so the next commit
// starts a new history. Index and work tree are left untouched.
func (r *Repo) Orphan(ctx context.Context, branch types.Branch) error {
	ref := "refs/heads/" + branch.String()
	if _, err := r.git(ctx, "symbolic-ref", "HEAD", ref); err != nil {
		return err
	}
	if !r.HasHead(ctx) {
		return nil
	}
	_, err := r.git(ctx, "update-ref", "-d", ref)
	return err
}

// Clean removes untracked and ignored files.
func (r *Repo) Clean(ctx context.Context) error {
	_, err := r.git(ctx, "clean", "-ffdxq")
	return err
}

// Head returns the commit HEAD points at.
func (r *Repo) Head(ctx context.Context) (types.CommitID, error) {
	out, err := r.git(ctx, "rev-parse", "--verify", "HEAD^{commit}")
	if err != nil {
		return "", err
	}
	return types.CommitID(strings.TrimSpace(out)), nil
}

// HasHead reports whether HEAD resolves to a commit (false on an unborn branch).
func (r *Repo) HasHead(ctx context.Context) bool {
	_, err := r.git(ctx, "rev-parse", "--verify", "--quiet", "HEAD^{commit}")
	return err == nil
}

// CommitCount returns the number of commits reachable from HEAD, 0 when unborn.
func (r *Repo) CommitCount(ctx context.Context) (int, error) {
	if !r.HasHead(ctx) {
		return 0, nil
	}
	out, err := r.git(ctx, "rev-list", "--count", "HEAD")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parse commit count %q: %w", out, err)
	}
	return n, nil
}

// AddAll stages every change in the work tree, including deletions.
func (r *Repo) AddAll(ctx context.Context) error {
	_, err := r.git(ctx, "add", "--all", "--", ".")
	return err
}

// Unstage empties the index back to HEAD without touching the work tree.
func (r *Repo) Unstage(ctx context.Context) error {
	if r.HasHead(ctx) {
		_, err := r.git(ctx, "reset", "--quiet", "--mixed")
		return err
	}
	_, err := r.git(ctx, "rm", "-r", "--cached", "--quiet", "--ignore-unmatch", "--", ".")
	return err
}

// HasChanges reports whether the index or work tree differs from HEAD.
func (r *Repo) HasChanges(ctx context.Context) (bool, error) {
	out, err := r.git(ctx, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// Commit records the index with message. allowEmpty permits a commit with
// no changes.
func (r *Repo) Commit(ctx context.Context, message string, allowEmpty bool) (types.CommitID, error) {
	args := []string{"commit", "--quiet", "--no-verify", "-m", message}
	if allowEmpty {
		args = append(args, "--allow-empty")
	}
	if _, err := r.git(ctx, args...); err != nil {
		return "", err
	}
	return r.Head(ctx)
}

// Push pushes HEAD to branch on remote.
func (r *Repo) Push(ctx context.Context, remote string, branch types.Branch) error {
	_, err := r.git(ctx, "push", "--quiet", "--porcelain", remote, "HEAD:refs/heads/"+branch.String())
	return err
}

// ShowFile returns the content of path at rev.
func (r *Repo) ShowFile(ctx context.Context, rev, path string) ([]byte, error) {
	out, err := r.git(ctx, "show", rev+":"+filepath.ToSlash(path))
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// samePath compares two directory paths after resolving symlinks, so that
// /tmp and /private/tmp style aliases compare equal.
func samePath(a, b string) bool {
	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)
	if errors.Join(errA, errB) != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return filepath.Clean(ra) == filepath.Clean(rb)
}
