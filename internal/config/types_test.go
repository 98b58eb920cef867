// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"testing"

	"github.com/idlsync/idlsync/pkg/types"
)

func TestStrategyName_Validate(t *testing.T) {
	t.Parallel()

	for _, s := range Strategies() {
		if err := s.Validate(); err != nil {
			t.Errorf("StrategyName(%q).Validate() = %v", s, err)
		}
	}

	for _, s := range []StrategyName{"", "LastSegment", "bogus"} {
		err := s.Validate()
		if !errors.Is(err, ErrInvalidStrategyName) {
			t.Errorf("StrategyName(%q).Validate() = %v, want ErrInvalidStrategyName", s, err)
		}
		var se *InvalidStrategyNameError
		if !errors.As(err, &se) || se.Value != s {
			t.Errorf("expected *InvalidStrategyNameError carrying %q", s)
		}
	}
}

func TestRemoteConfig_Source(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		remote RemoteConfig
		want   types.RemoteSource
	}{
		{
			name:   "name derived from file URL",
			remote: RemoteConfig{Repository: "file:///srv/remotes/A", Branch: "master"},
			want:   types.RemoteSource{Name: "A", Repository: "file:///srv/remotes/A", Branch: "master", Directory: "thrift"},
		},
		{
			name:   "name derived from scp location without .git",
			remote: RemoteConfig{Repository: "git@example.com:org/users.git"},
			want:   types.RemoteSource{Name: "users", Repository: "git@example.com:org/users.git", Branch: "master", Directory: "thrift"},
		},
		{
			name:   "declared fields win",
			remote: RemoteConfig{Repository: "file:///x/y", Branch: "dev", Name: "svc", Directory: "idl"},
			want:   types.RemoteSource{Name: "svc", Repository: "file:///x/y", Branch: "dev", Directory: "idl"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.remote.Source("thrift"); got != tt.want {
				t.Errorf("Source() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Upstream = "file:///srv/upstream"
	cfg.RepositoryFolder = "/srv/repository"
	cfg.CacheLocation = "/srv/cache"
	cfg.Remotes = []RemoteConfig{{Repository: "file:///srv/remotes/A"}}
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no remotes", mutate: func(c *Config) { c.Remotes = nil }, wantErr: ErrNoRemotes},
		{name: "bad strategy", mutate: func(c *Config) { c.FileNameStrategy = "x" }, wantErr: ErrInvalidStrategyName},
		{name: "missing upstream", mutate: func(c *Config) { c.Upstream = "" }, wantErr: types.ErrInvalidRepository},
		{name: "bad upstream branch", mutate: func(c *Config) { c.UpstreamBranch = "-x" }, wantErr: types.ErrInvalidBranch},
		{name: "missing cache", mutate: func(c *Config) { c.CacheLocation = " " }, wantErr: types.ErrInvalidFilesystemPath},
		{
			name: "duplicate names",
			mutate: func(c *Config) {
				c.Remotes = append(c.Remotes, RemoteConfig{Repository: "file:///other/A.git"})
			},
			wantErr: ErrDuplicateSourceName,
		},
		{
			name: "invalid remote",
			mutate: func(c *Config) {
				c.Remotes = append(c.Remotes, RemoteConfig{Repository: "file:///b", Directory: "../escape"})
			},
			wantErr: ErrInvalidRemoteConfig,
		},
		{name: "escaping output", mutate: func(c *Config) { c.OutputDirectory = "../out" }, wantErr: ErrInvalidConfig},
		{name: "output at root", mutate: func(c *Config) { c.OutputDirectory = "." }, wantErr: ErrInvalidConfig},
		{name: "no extensions", mutate: func(c *Config) { c.Extensions = nil }, wantErr: ErrInvalidConfig},
		{name: "zero concurrency", mutate: func(c *Config) { c.MaxConcurrency = 0 }, wantErr: ErrInvalidConfig},
		{name: "no author", mutate: func(c *Config) { c.Author = AuthorConfig{} }, wantErr: ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, should wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestInvalidConfigError_Error(t *testing.T) {
	t.Parallel()

	single := &InvalidConfigError{FieldErrors: []error{ErrNoRemotes}}
	if got := single.Error(); got != "invalid config: no remotes configured" {
		t.Errorf("Error() = %q", got)
	}
	multi := &InvalidConfigError{FieldErrors: []error{ErrNoRemotes, errors.New("x")}}
	if got := multi.Error(); got != "invalid config: 2 field error(s):\n  no remotes configured\n  x" {
		t.Errorf("Error() = %q", got)
	}
}
