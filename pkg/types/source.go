// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

var (
	// ErrInvalidSourceName is the sentinel error wrapped by InvalidSourceNameError.
	ErrInvalidSourceName = errors.New("invalid source name")
	// ErrInvalidBranch is the sentinel error wrapped by InvalidBranchError.
	ErrInvalidBranch = errors.New("invalid branch")
	// ErrInvalidRepository is the sentinel error wrapped by InvalidRepositoryError.
	ErrInvalidRepository = errors.New("invalid repository location")
	// ErrInvalidRemoteSource is the sentinel error wrapped by InvalidRemoteSourceError.
	ErrInvalidRemoteSource = errors.New("invalid remote source")

	// sourceNamePattern restricts names to something usable as a directory
	// name and a published file stem on every platform.
	sourceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

type (
	// SourceName identifies a remote source. It keys the cache directory and
	// the provenance record, so it must be unique within a configuration.
	SourceName string

	// InvalidSourceNameError is returned when a SourceName is not a safe identifier.
	InvalidSourceNameError struct {
		Value SourceName
	}

	// Branch is the git branch a remote source is tracked on.
	Branch string

	// InvalidBranchError is returned when a Branch is empty or malformed.
	InvalidBranchError struct {
		Value Branch
	}

	// RepositoryLocation is a git remote location: a local path, a file:// URL,
	// or a network URL understood by git.
	RepositoryLocation string

	// InvalidRepositoryError is returned when a RepositoryLocation is empty.
	InvalidRepositoryError struct {
		Value RepositoryLocation
	}

	// CommitID is a full git object name.
	CommitID string

	// RemoteSource is one contributing repository. It is immutable for a run.
	RemoteSource struct {
		// Name identifies the source; derived from Repository when not declared.
		Name SourceName `json:"name"`
		// Repository is the git location to clone from.
		Repository RepositoryLocation `json:"repository"`
		// Branch is the tracked branch.
		Branch Branch `json:"branch"`
		// Directory is the IDL subdirectory, relative to the repository root.
		Directory string `json:"directory"`
	}

	// InvalidRemoteSourceError collects field errors of a RemoteSource.
	InvalidRemoteSourceError struct {
		Name        SourceName
		FieldErrors []error
	}
)

// String returns the string representation of the SourceName.
func (n SourceName) String() string { return string(n) }

// Validate returns an error if the name is empty or contains path separators
// or other characters unsafe in a file name.
func (n SourceName) Validate() error {
	if !sourceNamePattern.MatchString(string(n)) {
		return &InvalidSourceNameError{Value: n}
	}
	return nil
}

// Error implements the error interface for InvalidSourceNameError.
func (e *InvalidSourceNameError) Error() string {
	return fmt.Sprintf("invalid source name %q: must match %s", e.Value, sourceNamePattern)
}

// Unwrap returns ErrInvalidSourceName for errors.Is() compatibility.
func (e *InvalidSourceNameError) Unwrap() error { return ErrInvalidSourceName }

// String returns the string representation of the Branch.
func (b Branch) String() string { return string(b) }

// Validate returns an error if the branch is empty, contains whitespace or
// starts with a dash (which git would read as an option).
func (b Branch) Validate() error {
	s := string(b)
	if strings.TrimSpace(s) == "" || strings.ContainsAny(s, " \t\n") || strings.HasPrefix(s, "-") {
		return &InvalidBranchError{Value: b}
	}
	return nil
}

// Error implements the error interface for InvalidBranchError.
func (e *InvalidBranchError) Error() string {
	return fmt.Sprintf("invalid branch %q", e.Value)
}

// Unwrap returns ErrInvalidBranch for errors.Is() compatibility.
func (e *InvalidBranchError) Unwrap() error { return ErrInvalidBranch }

// String returns the string representation of the RepositoryLocation.
func (r RepositoryLocation) String() string { return string(r) }

// Validate returns an error if the location is empty or whitespace-only.
func (r RepositoryLocation) Validate() error {
	if strings.TrimSpace(string(r)) == "" || strings.HasPrefix(string(r), "-") {
		return &InvalidRepositoryError{Value: r}
	}
	return nil
}

// LastSegment returns the final path segment of the location with any
// trailing slash and ".git" suffix removed:
//
//	file:///srv/remotes/A       -> A
//	git@host:org/service.git    -> service
func (r RepositoryLocation) LastSegment() string {
	s := strings.TrimRight(string(r), "/")
	s = strings.TrimSuffix(s, ".git")
	if i := strings.LastIndexAny(s, ":"); i >= 0 && !strings.Contains(s[i:], "/") {
		s = s[i+1:]
	}
	return path.Base(strings.ReplaceAll(s, "\\", "/"))
}

// Error implements the error interface for InvalidRepositoryError.
func (e *InvalidRepositoryError) Error() string {
	return fmt.Sprintf("invalid repository location %q: must be non-empty", e.Value)
}

// Unwrap returns ErrInvalidRepository for errors.Is() compatibility.
func (e *InvalidRepositoryError) Unwrap() error { return ErrInvalidRepository }

// String returns the string representation of the CommitID.
func (c CommitID) String() string { return string(c) }

// Short returns the abbreviated (7 character) form of the commit id.
func (c CommitID) Short() string {
	if len(c) > 7 {
		return string(c[:7])
	}
	return string(c)
}

// Validate returns an error describing every invalid field of the source.
func (s RemoteSource) Validate() error {
	var errs []error
	if err := s.Name.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := s.Repository.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := s.Branch.Validate(); err != nil {
		errs = append(errs, err)
	}
	if dir := path.Clean(s.Directory); path.IsAbs(dir) || dir == ".." || strings.HasPrefix(dir, "../") {
		errs = append(errs, fmt.Errorf("directory %q must be relative to the repository root", s.Directory))
	}
	if len(errs) > 0 {
		return &InvalidRemoteSourceError{Name: s.Name, FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface for InvalidRemoteSourceError.
func (e *InvalidRemoteSourceError) Error() string {
	return fmt.Sprintf("invalid remote source %q: %v", e.Name, errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidRemoteSource for errors.Is() compatibility.
func (e *InvalidRemoteSourceError) Unwrap() error { return ErrInvalidRemoteSource }

// WorkingCopy is a local checkout of a source pinned to its tracked branch.
// Dir holds a clean work tree at Commit.
type WorkingCopy struct {
	Source SourceName
	Dir    string
	Commit CommitID
}
