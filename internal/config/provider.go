// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/idlsync/idlsync/pkg/types"
)

// ErrInvalidLoadOptions is the sentinel error wrapped by InvalidLoadOptionsError.
var ErrInvalidLoadOptions = errors.New("invalid load options")

type (
	// LoadOptions defines explicit configuration loading inputs.
	LoadOptions struct {
		// ConfigFilePath forces loading from a specific config file when set.
		ConfigFilePath types.FilesystemPath
		// ConfigDirPath overrides the per-user config directory lookup when set.
		ConfigDirPath types.FilesystemPath
		// WorkDir overrides the working directory searched for idlsync.cue.
		WorkDir types.FilesystemPath
		// SkipDotenv disables loading the .env file next to the config.
		SkipDotenv bool
	}

	// InvalidLoadOptionsError is returned when LoadOptions has invalid fields.
	InvalidLoadOptionsError struct {
		FieldErrors []error
	}

	// Provider loads configuration from explicit options.
	Provider interface {
		Load(ctx context.Context, opts LoadOptions) (*Config, error)
		// Path returns the file Load would read.
		Path(opts LoadOptions) (string, error)
	}

	fileProvider struct{}
)

// Validate returns an error when a set path is whitespace-only. Empty
// fields mean "use the default".
func (o LoadOptions) Validate() error {
	var errs []error
	for _, p := range []types.FilesystemPath{o.ConfigFilePath, o.ConfigDirPath, o.WorkDir} {
		if p == "" {
			continue
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &InvalidLoadOptionsError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface for InvalidLoadOptionsError.
func (e *InvalidLoadOptionsError) Error() string {
	if len(e.FieldErrors) == 1 {
		return fmt.Sprintf("invalid load options: %v", e.FieldErrors[0])
	}
	return fmt.Sprintf("invalid load options: %d field errors", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidLoadOptions for errors.Is() compatibility.
func (e *InvalidLoadOptionsError) Unwrap() error { return ErrInvalidLoadOptions }

// NewProvider creates a configuration provider reading from the filesystem.
func NewProvider() Provider {
	return &fileProvider{}
}

// Load reads configuration from the requested source.
func (p *fileProvider) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	cfg, _, err := loadWithOptions(ctx, opts)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the file Load would read.
func (p *fileProvider) Path(opts LoadOptions) (string, error) {
	return ResolvePath(opts)
}
