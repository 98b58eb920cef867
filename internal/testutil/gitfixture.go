// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

type (
	// RemoteFixture describes one contributing repository: the branch its
	// files are committed on and the files themselves (slash-separated path
	// relative to the repository root -> content).
	RemoteFixture struct {
		Branch string
		Files  map[string]string
	}

	// Cluster is a set of local git repositories standing in for a real
	// deployment: contributing remotes, a bare upstream, and the (not yet
	// created) repository folder and cache location idlsync will own.
	Cluster struct {
		Root          string
		RemotesDir    string
		UpstreamDir   string
		RepositoryDir string
		CacheDir      string
		Remotes       map[string]RemoteFixture
	}
)

// GitEnv isolates git invocations from the user's and system's config and
// supplies a commit identity.
func GitEnv() []string {
	return []string{
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_CONFIG_GLOBAL=" + os.DevNull,
		"GIT_AUTHOR_NAME=idlsync test",
		"GIT_AUTHOR_EMAIL=test@idlsync.invalid",
		"GIT_COMMITTER_NAME=idlsync test",
		"GIT_COMMITTER_EMAIL=test@idlsync.invalid",
		"GIT_TERMINAL_PROMPT=0",
	}
}

// RequireGit skips the test when no git binary is available.
func RequireGit(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available:", err)
	}
}

// RunGit runs git in dir with GitEnv and returns trimmed stdout.
func RunGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...) //nolint:noctx // fixture setup has no deadline
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), GitEnv()...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s (in %s): %w\n%s", strings.Join(args, " "), dir, err, out)
	}
	return strings.TrimSpace(string(out)), nil
}

// Git runs git in dir and returns trimmed stdout, failing the test on error.
func Git(t testing.TB, dir string, args ...string) string {
	t.Helper()
	out, err := RunGit(dir, args...)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

// ServiceIDL returns the fixture IDL body for service name.
func ServiceIDL(name string) string {
	return "service " + name + " {\n    i32 echo(1:i32 value)\n}\n"
}

// DefaultRemotes returns four remotes A-D, each with thrift/service.thrift
// on master.
func DefaultRemotes() map[string]RemoteFixture {
	remotes := make(map[string]RemoteFixture, 4)
	for _, name := range []string{"A", "B", "C", "D"} {
		remotes[name] = RemoteFixture{
			Branch: "master",
			Files:  map[string]string{"thrift/service.thrift": ServiceIDL(name)},
		}
	}
	return remotes
}

// NewCluster creates the remotes and the upstream under a temporary
// directory. Each remote gets an empty "initial" commit on master, an
// optional branch switch, then a "second" commit holding its files. The
// upstream is a bare repository with a single empty commit on master.
func NewCluster(t testing.TB, remotes map[string]RemoteFixture) *Cluster {
	t.Helper()
	RequireGit(t)

	c, err := BuildCluster(t.TempDir(), remotes)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// BuildCluster is NewCluster rooted at an existing directory, for callers
// without a testing.TB.
func BuildCluster(root string, remotes map[string]RemoteFixture) (*Cluster, error) {
	c := &Cluster{
		Root:          root,
		RemotesDir:    filepath.Join(root, "remotes"),
		UpstreamDir:   filepath.Join(root, "upstream"),
		RepositoryDir: filepath.Join(root, "repository"),
		CacheDir:      filepath.Join(root, "remote-cache"),
		Remotes:       remotes,
	}

	for _, name := range c.RemoteNames() {
		fixture := remotes[name]
		dir := c.RemoteDir(name)
		steps := [][]string{
			{"init", "--quiet"},
			{"symbolic-ref", "HEAD", "refs/heads/master"},
			{"commit", "--quiet", "--allow-empty", "-m", "initial"},
		}
		if fixture.Branch != "" && fixture.Branch != "master" {
			steps = append(steps, []string{"checkout", "--quiet", "-b", fixture.Branch})
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		if err := runSteps(dir, steps); err != nil {
			return nil, err
		}
		for rel, content := range fixture.Files {
			path := filepath.Join(dir, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return nil, err
			}
		}
		if err := runSteps(dir, [][]string{
			{"add", "--all", "."},
			{"commit", "--quiet", "--allow-empty", "-m", "second"},
		}); err != nil {
			return nil, err
		}
	}

	seed := filepath.Join(root, "upstream-seed")
	if err := os.MkdirAll(seed, 0o755); err != nil {
		return nil, err
	}
	if err := runSteps(seed, [][]string{
		{"init", "--quiet"},
		{"symbolic-ref", "HEAD", "refs/heads/master"},
		{"commit", "--quiet", "--allow-empty", "-m", "initial"},
	}); err != nil {
		return nil, err
	}
	if _, err := RunGit(root, "clone", "--quiet", "--bare", seed, c.UpstreamDir); err != nil {
		return nil, err
	}
	return c, nil
}

func runSteps(dir string, steps [][]string) error {
	for _, args := range steps {
		if _, err := RunGit(dir, args...); err != nil {
			return err
		}
	}
	return nil
}

// RemoteNames returns the fixture remote names in sorted order.
func (c *Cluster) RemoteNames() []string {
	names := make([]string, 0, len(c.Remotes))
	for name := range c.Remotes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RemoteDir returns the filesystem path of remote name.
func (c *Cluster) RemoteDir(name string) string {
	return filepath.Join(c.RemotesDir, name)
}

// RemoteURL returns the file:// location of remote name.
func (c *Cluster) RemoteURL(name string) string {
	return "file://" + filepath.ToSlash(c.RemoteDir(name))
}

// UpstreamURL returns the file:// location of the upstream.
func (c *Cluster) UpstreamURL() string {
	return "file://" + filepath.ToSlash(c.UpstreamDir)
}

// Head returns the commit at the tip of remote name's checked-out branch.
func (c *Cluster) Head(t testing.TB, name string) string {
	t.Helper()
	return Git(t, c.RemoteDir(name), "rev-parse", "HEAD")
}

// Commit writes files into remote name and commits them, returning the new
// commit id. A nil content deletes the file.
func (c *Cluster) Commit(t testing.TB, name string, files map[string]*string, message string) string {
	t.Helper()
	dir := c.RemoteDir(name)
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if content == nil {
			MustRemoveAll(t, path)
			continue
		}
		MustWriteFile(t, path, *content)
	}
	Git(t, dir, "add", "--all", ".")
	Git(t, dir, "commit", "--quiet", "--allow-empty", "-m", message)
	return c.Head(t, name)
}

// UpstreamLog returns the commit subjects on the upstream master branch,
// newest first.
func (c *Cluster) UpstreamLog(t testing.TB) []string {
	t.Helper()
	out := Git(t, c.UpstreamDir, "log", "--pretty=%s", "master")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// UpstreamHead returns the upstream master commit id.
func (c *Cluster) UpstreamHead(t testing.TB) string {
	t.Helper()
	return Git(t, c.UpstreamDir, "rev-parse", "master")
}

// UpstreamShow returns the content of path at upstream master. ok is false
// when the path does not exist there.
func (c *Cluster) UpstreamShow(t testing.TB, path string) (content string, ok bool) {
	t.Helper()
	cmd := exec.Command("git", "show", "master:"+path) //nolint:noctx // fixture inspection
	cmd.Dir = c.UpstreamDir
	cmd.Env = append(os.Environ(), GitEnv()...)
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	return string(out), true
}

// UpstreamTree lists the files under dir at upstream master, sorted.
func (c *Cluster) UpstreamTree(t testing.TB, dir string) []string {
	t.Helper()
	out := Git(t, c.UpstreamDir, "ls-tree", "-r", "--name-only", "master", "--", dir)
	if out == "" {
		return nil
	}
	files := strings.Split(out, "\n")
	slices.Sort(files)
	return files
}

// String implements fmt.Stringer for failure messages.
func (c *Cluster) String() string {
	return fmt.Sprintf("cluster(%s, remotes=%v)", c.Root, c.RemoteNames())
}
