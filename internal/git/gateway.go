// SPDX-License-Identifier: MPL-2.0

package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

var (
	// ErrGitNotFound is returned by NewCLI when no git binary can be located.
	ErrGitNotFound = errors.New("git executable not found")
	// ErrCommandFailed is wrapped by every CommandError.
	ErrCommandFailed = errors.New("git command failed")
	// ErrTimeout is wrapped by a CommandError when the per-command timeout expired.
	ErrTimeout = errors.New("git command timed out")
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// Runner executes a single git invocation in dir and returns its stdout.
	// Implementations must return a non-nil error for any non-zero exit and
	// must not retry.
	Runner interface {
		Run(ctx context.Context, dir string, args ...string) (string, error)
	}

	// CommandError is returned when git exits non-zero, cannot be started, or
	// exceeds its timeout. Stdout and Stderr hold the captured output.
	CommandError struct {
		Args     []string
		Dir      string
		ExitCode int
		Stdout   string
		Stderr   string
		Err      error
	}

	// CLIOption configures a CLI.
	CLIOption func(*CLI)

	// CLI runs the git binary through os/exec.
	CLI struct {
		binaryPath  string
		execCommand ExecCommandFunc
		timeout     time.Duration
		env         []string
		logger      *log.Logger
	}
)

// Error returns the failing invocation followed by git's stderr (or stdout
// when stderr is empty), which is where git explains what went wrong.
func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "git %s", strings.Join(e.Args, " "))
	if e.ExitCode > 0 {
		fmt.Fprintf(&b, " exited with status %d", e.ExitCode)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	detail := strings.TrimSpace(e.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(e.Stdout)
	}
	if detail != "" {
		b.WriteString(": ")
		b.WriteString(detail)
	}
	return b.String()
}

// Unwrap exposes both ErrCommandFailed and the underlying cause, so callers
// can match either with errors.Is.
func (e *CommandError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCommandFailed}
	}
	return []error{ErrCommandFailed, e.Err}
}

// Output returns stdout and stderr joined, trimmed.
func (e *CommandError) Output() string {
	return strings.TrimSpace(strings.TrimSpace(e.Stdout) + "\n" + strings.TrimSpace(e.Stderr))
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) CLIOption {
	return func(c *CLI) {
		c.execCommand = fn
	}
}

// WithBinaryPath skips PATH lookup and uses the given git binary.
func WithBinaryPath(path string) CLIOption {
	return func(c *CLI) {
		c.binaryPath = path
	}
}

// WithTimeout bounds every single git invocation. Zero disables the bound.
func WithTimeout(d time.Duration) CLIOption {
	return func(c *CLI) {
		c.timeout = d
	}
}

// WithEnv appends KEY=VALUE pairs to the environment of every invocation.
func WithEnv(kv ...string) CLIOption {
	return func(c *CLI) {
		c.env = append(c.env, kv...)
	}
}

// WithAuthor sets author and committer identity for commits made through this CLI.
func WithAuthor(name, email string) CLIOption {
	return WithEnv(
		"GIT_AUTHOR_NAME="+name,
		"GIT_AUTHOR_EMAIL="+email,
		"GIT_COMMITTER_NAME="+name,
		"GIT_COMMITTER_EMAIL="+email,
	)
}

// WithLogger sets the logger used for debug tracing of invocations.
func WithLogger(l *log.Logger) CLIOption {
	return func(c *CLI) {
		c.logger = l
	}
}

// NewCLI creates a git runner. The binary is looked up on PATH unless
// WithBinaryPath is given.
func NewCLI(opts ...CLIOption) (*CLI, error) {
	c := &CLI{
		execCommand: exec.CommandContext,
		// git must never block on a credential prompt
		env:    []string{"GIT_TERMINAL_PROMPT=0", "LC_ALL=C"},
		logger: log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.binaryPath == "" {
		path, err := exec.LookPath("git")
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrGitNotFound, err)
		}
		c.binaryPath = path
	}
	return c, nil
}

// BinaryPath returns the path of the git binary in use.
func (c *CLI) BinaryPath() string {
	return c.binaryPath
}

// Run executes git with args in dir.
func (c *CLI) Run(ctx context.Context, dir string, args ...string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := c.execCommand(ctx, c.binaryPath, args...)
	cmd.Dir = dir
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, c.env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	c.logger.Debug("git", "args", strings.Join(args, " "), "dir", dir, "took", time.Since(start).Round(time.Millisecond), "err", err)
	if err == nil {
		return stdout.String(), nil
	}

	cmdErr := &CommandError{
		Args:   args,
		Dir:    dir,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Err:    err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			cmdErr.Err = errors.Join(ErrTimeout, ctxErr)
		} else {
			cmdErr.Err = ctxErr
		}
		cmdErr.ExitCode = -1
	}
	return "", cmdErr
}

// ExitCode returns the exit status carried by err when it is a CommandError
// from a process that ran to completion, and -1 otherwise.
func ExitCode(err error) int {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
		return cmdErr.ExitCode
	}
	return -1
}
