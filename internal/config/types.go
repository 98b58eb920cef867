// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/idlsync/idlsync/pkg/types"
)

const (
	// StrategyLastSegment names files after the last path segment of the
	// source repository location.
	// Defined locally to avoid coupling config to internal/extract.
	StrategyLastSegment StrategyName = "lastSegment"
	// StrategySourceName names files after the declared source name.
	StrategySourceName StrategyName = "sourceName"
	// StrategyFileName keeps the original file name.
	StrategyFileName StrategyName = "fileName"
	// StrategyNamespaced keeps the original relative path under a directory
	// named after the source.
	StrategyNamespaced StrategyName = "namespaced"

	// DefaultBranch is used for the upstream and for remotes that declare no branch.
	DefaultBranch types.Branch = "master"
	// DefaultDirectory is the IDL directory inside each remote and the
	// published output directory.
	DefaultDirectory = "thrift"
	// DefaultExtension is the only IDL file extension collected by default.
	DefaultExtension = ".thrift"
	// DefaultMaxConcurrency bounds parallel per-source work.
	DefaultMaxConcurrency = 4
	// DefaultCommandTimeout bounds every single git invocation.
	DefaultCommandTimeout = 2 * time.Minute
	// DefaultAuthorName is the commit identity name.
	DefaultAuthorName = "idlsync"
	// DefaultAuthorEmail is the commit identity email.
	DefaultAuthorEmail = "idlsync@localhost"
)

var (
	// ErrInvalidStrategyName is returned when a StrategyName value is not recognized.
	ErrInvalidStrategyName = errors.New("invalid file name strategy")
	// ErrInvalidRemoteConfig is the sentinel error wrapped by InvalidRemoteConfigError.
	ErrInvalidRemoteConfig = errors.New("invalid remote config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrNoRemotes is returned when a configuration declares no remotes.
	ErrNoRemotes = errors.New("no remotes configured")
	// ErrDuplicateSourceName is returned when two remotes resolve to the same name.
	ErrDuplicateSourceName = errors.New("duplicate source name")
)

type (
	// StrategyName is the configuration identifier of a naming strategy.
	StrategyName string

	// InvalidStrategyNameError is returned when a StrategyName value is not recognized.
	// It wraps ErrInvalidStrategyName for errors.Is() compatibility.
	InvalidStrategyNameError struct {
		Value StrategyName
	}

	// InvalidRemoteConfigError is returned when a remote entry has invalid fields.
	// Index is the position of the entry in the remotes list.
	InvalidRemoteConfigError struct {
		Index       int
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// AuthorConfig is the identity used for published commits.
	AuthorConfig struct {
		Name  string `json:"name" mapstructure:"name"`
		Email string `json:"email" mapstructure:"email"`
	}

	// RemoteConfig is one contributing repository as written in configuration.
	RemoteConfig struct {
		// Repository is the git location to clone from.
		Repository types.RepositoryLocation `json:"repository" mapstructure:"repository"`
		// Branch is the tracked branch (default: master).
		Branch types.Branch `json:"branch,omitempty" mapstructure:"branch"`
		// Name overrides the name derived from the repository location.
		Name types.SourceName `json:"name,omitempty" mapstructure:"name"`
		// Directory overrides sourceDirectory for this remote.
		Directory string `json:"directory,omitempty" mapstructure:"directory"`
	}

	// Config holds the application configuration.
	Config struct {
		// Upstream is where the aggregated repository is pushed.
		Upstream types.RepositoryLocation `json:"upstream" mapstructure:"upstream"`
		// UpstreamBranch is the branch published to.
		UpstreamBranch types.Branch `json:"upstreamBranch" mapstructure:"upstreamBranch"`
		// RepositoryFolder is the local working repository.
		RepositoryFolder types.FilesystemPath `json:"repositoryFolder" mapstructure:"repositoryFolder"`
		// CacheLocation holds one working copy per remote.
		CacheLocation types.FilesystemPath `json:"cacheLocation" mapstructure:"cacheLocation"`
		// FileNameStrategy selects how public file names are derived.
		FileNameStrategy StrategyName `json:"fileNameStrategy" mapstructure:"fileNameStrategy"`
		// SourceDirectory is the IDL directory inside each remote.
		SourceDirectory string `json:"sourceDirectory" mapstructure:"sourceDirectory"`
		// OutputDirectory is where published IDL files go in the working repository.
		OutputDirectory string `json:"outputDirectory" mapstructure:"outputDirectory"`
		// Extensions lists the file extensions collected from each remote.
		Extensions []string `json:"extensions" mapstructure:"extensions"`
		// Recursive descends into subdirectories of SourceDirectory.
		Recursive bool `json:"recursive" mapstructure:"recursive"`
		// MaxConcurrency bounds parallel per-source work.
		MaxConcurrency int `json:"maxConcurrency" mapstructure:"maxConcurrency"`
		// CommandTimeout bounds every single git invocation.
		CommandTimeout time.Duration `json:"commandTimeout" mapstructure:"commandTimeout"`
		// AllowEmptyCommit publishes a commit even when nothing changed.
		AllowEmptyCommit bool `json:"allowEmptyCommit" mapstructure:"allowEmptyCommit"`
		// FailOnCollision turns name collisions into a run failure.
		FailOnCollision bool `json:"failOnCollision" mapstructure:"failOnCollision"`
		// RetainStale keeps the last published files of a source that failed this run.
		RetainStale bool `json:"retainStale" mapstructure:"retainStale"`
		// Author is the commit identity.
		Author AuthorConfig `json:"author" mapstructure:"author"`
		// Remotes are the contributing repositories.
		Remotes []RemoteConfig `json:"remotes" mapstructure:"remotes"`
	}
)

// Strategies returns every known StrategyName.
func Strategies() []StrategyName {
	return []StrategyName{StrategyLastSegment, StrategySourceName, StrategyFileName, StrategyNamespaced}
}

// String returns the string representation of the StrategyName.
func (s StrategyName) String() string { return string(s) }

// Validate returns an error if the StrategyName is not one of the known strategies.
func (s StrategyName) Validate() error {
	switch s {
	case StrategyLastSegment, StrategySourceName, StrategyFileName, StrategyNamespaced:
		return nil
	default:
		return &InvalidStrategyNameError{Value: s}
	}
}

// Error implements the error interface for InvalidStrategyNameError.
func (e *InvalidStrategyNameError) Error() string {
	return fmt.Sprintf("invalid file name strategy %q (valid: lastSegment, sourceName, fileName, namespaced)", e.Value)
}

// Unwrap returns ErrInvalidStrategyName for errors.Is() compatibility.
func (e *InvalidStrategyNameError) Unwrap() error { return ErrInvalidStrategyName }

// Error implements the error interface for InvalidRemoteConfigError.
func (e *InvalidRemoteConfigError) Error() string {
	return fmt.Sprintf("remotes[%d]: %v", e.Index, errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidRemoteConfig for errors.Is() compatibility.
func (e *InvalidRemoteConfigError) Unwrap() error { return ErrInvalidRemoteConfig }

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	if len(e.FieldErrors) == 1 {
		return fmt.Sprintf("invalid config: %v", e.FieldErrors[0])
	}
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid config: %d field error(s):\n  %s", len(e.FieldErrors), strings.Join(msgs, "\n  "))
}

// Unwrap returns ErrInvalidConfig and the field errors, so errors.Is matches
// both the sentinel and any specific cause such as ErrNoRemotes.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// Source converts the entry into a RemoteSource, filling the name from the
// repository location and the branch and directory from defaults.
func (r RemoteConfig) Source(defaultDirectory string) types.RemoteSource {
	src := types.RemoteSource{
		Name:       r.Name,
		Repository: r.Repository,
		Branch:     r.Branch,
		Directory:  r.Directory,
	}
	if src.Name == "" {
		src.Name = types.SourceName(r.Repository.LastSegment())
	}
	if src.Branch == "" {
		src.Branch = DefaultBranch
	}
	if src.Directory == "" {
		src.Directory = defaultDirectory
	}
	return src
}

// Sources returns the configured remotes as RemoteSources, in declaration order.
func (c *Config) Sources() []types.RemoteSource {
	sources := make([]types.RemoteSource, len(c.Remotes))
	for i, r := range c.Remotes {
		sources[i] = r.Source(c.SourceDirectory)
	}
	return sources
}

// Validate returns an error describing every invalid field of the configuration.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Upstream.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("upstream: %w", err))
	}
	if err := c.UpstreamBranch.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("upstreamBranch: %w", err))
	}
	if err := c.RepositoryFolder.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("repositoryFolder: %w", err))
	}
	if err := c.CacheLocation.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("cacheLocation: %w", err))
	}
	if err := c.FileNameStrategy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("fileNameStrategy: %w", err))
	}
	if err := validateRelativeDir(c.OutputDirectory); err != nil || c.OutputDirectory == "" || path.Clean(c.OutputDirectory) == "." {
		errs = append(errs, fmt.Errorf("outputDirectory %q must be a non-empty subdirectory of the repository", c.OutputDirectory))
	}
	if err := validateRelativeDir(c.SourceDirectory); err != nil {
		errs = append(errs, fmt.Errorf("sourceDirectory: %w", err))
	}
	if len(c.Extensions) == 0 {
		errs = append(errs, errors.New("extensions: at least one extension is required"))
	}
	for _, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") || strings.ContainsAny(ext, `/\`) {
			errs = append(errs, fmt.Errorf("extensions: %q must start with a dot and contain no separators", ext))
		}
	}
	if c.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("maxConcurrency: %d must be at least 1", c.MaxConcurrency))
	}
	if c.CommandTimeout < 0 {
		errs = append(errs, fmt.Errorf("commandTimeout: %s must not be negative", c.CommandTimeout))
	}
	if strings.TrimSpace(c.Author.Name) == "" || strings.TrimSpace(c.Author.Email) == "" {
		errs = append(errs, errors.New("author: name and email are required"))
	}
	errs = append(errs, c.validateRemotes()...)

	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

func (c *Config) validateRemotes() []error {
	if len(c.Remotes) == 0 {
		return []error{ErrNoRemotes}
	}
	var errs []error
	seen := make(map[types.SourceName]int, len(c.Remotes))
	for i, r := range c.Remotes {
		src := r.Source(c.SourceDirectory)
		if err := src.Validate(); err != nil {
			errs = append(errs, &InvalidRemoteConfigError{Index: i, FieldErrors: []error{err}})
			continue
		}
		if first, dup := seen[src.Name]; dup {
			errs = append(errs, fmt.Errorf("remotes[%d]: %w %q (same as remotes[%d]); set a distinct name", i, ErrDuplicateSourceName, src.Name, first))
			continue
		}
		seen[src.Name] = i
	}
	return errs
}

func validateRelativeDir(dir string) error {
	if dir == "" {
		return nil
	}
	clean := path.Clean(filepath.ToSlash(dir))
	if path.IsAbs(clean) || filepath.IsAbs(dir) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%q must be relative and stay inside the repository", dir)
	}
	return nil
}

// DefaultConfig returns the configuration defaults. Upstream, RepositoryFolder,
// CacheLocation and Remotes have no default.
func DefaultConfig() *Config {
	return &Config{
		UpstreamBranch:   DefaultBranch,
		FileNameStrategy: StrategyLastSegment,
		SourceDirectory:  DefaultDirectory,
		OutputDirectory:  DefaultDirectory,
		Extensions:       []string{DefaultExtension},
		Recursive:        false,
		MaxConcurrency:   DefaultMaxConcurrency,
		CommandTimeout:   DefaultCommandTimeout,
		AllowEmptyCommit: false,
		FailOnCollision:  false,
		RetainStale:      true,
		Author: AuthorConfig{
			Name:  DefaultAuthorName,
			Email: DefaultAuthorEmail,
		},
		Remotes: []RemoteConfig{},
	}
}
