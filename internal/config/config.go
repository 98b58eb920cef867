// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/idlsync/idlsync/internal/cueutil"
	"github.com/idlsync/idlsync/internal/issue"
	"github.com/idlsync/idlsync/pkg/types"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "idlsync"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "idlsync"
	// ConfigFileExt is the preferred config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "IDLSYNC"
	// EnvConfigFile names the environment variable that points at a config file.
	EnvConfigFile = EnvPrefix + "_CONFIG"
	// DotenvFileName is loaded from the config file's directory when present.
	DotenvFileName = ".env"
)

// ErrConfigNotFound is returned when no configuration file could be located.
var ErrConfigNotFound = errors.New("configuration file not found")

//go:embed config_schema.cue
var configSchema string

// envBindings maps configuration keys to their environment overrides.
var envBindings = map[string]string{
	"upstream":         EnvPrefix + "_UPSTREAM",
	"upstreamBranch":   EnvPrefix + "_UPSTREAM_BRANCH",
	"repositoryFolder": EnvPrefix + "_REPOSITORY_FOLDER",
	"cacheLocation":    EnvPrefix + "_CACHE_LOCATION",
	"fileNameStrategy": EnvPrefix + "_FILE_NAME_STRATEGY",
	"sourceDirectory":  EnvPrefix + "_SOURCE_DIRECTORY",
	"outputDirectory":  EnvPrefix + "_OUTPUT_DIRECTORY",
	"recursive":        EnvPrefix + "_RECURSIVE",
	"maxConcurrency":   EnvPrefix + "_MAX_CONCURRENCY",
	"commandTimeout":   EnvPrefix + "_COMMAND_TIMEOUT",
	"allowEmptyCommit": EnvPrefix + "_ALLOW_EMPTY_COMMIT",
	"failOnCollision":  EnvPrefix + "_FAIL_ON_COLLISION",
	"retainStale":      EnvPrefix + "_RETAIN_STALE",
	"author.name":      EnvPrefix + "_AUTHOR_NAME",
	"author.email":     EnvPrefix + "_AUTHOR_EMAIL",
}

// ConfigDir returns the per-user idlsync configuration directory: %APPDATA%
// on Windows, ~/Library/Application Support on macOS and $XDG_CONFIG_HOME
// (defaulting to ~/.config) elsewhere.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// candidatePaths lists, in lookup order, the files tried when no explicit
// path is given.
func candidatePaths(opts LoadOptions) ([]string, error) {
	workDir := opts.WorkDir.String()
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		workDir = wd
	}
	paths := []string{
		filepath.Join(workDir, ConfigFileName+"."+ConfigFileExt),
		filepath.Join(workDir, ConfigFileName+".json"),
	}

	cfgDir := opts.ConfigDirPath.String()
	if cfgDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			return paths, nil //nolint:nilerr // the per-user location is optional
		}
		cfgDir = dir
	}
	return append(paths, filepath.Join(cfgDir, "config."+ConfigFileExt)), nil
}

// ResolvePath returns the configuration file that Load would read: the
// explicit path, then $IDLSYNC_CONFIG, then idlsync.cue / idlsync.json in the
// working directory, then config.cue in ConfigDir.
func ResolvePath(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		return opts.ConfigFilePath.String(), nil
	}
	if p := os.Getenv(EnvConfigFile); p != "" {
		return p, nil
	}
	candidates, err := candidatePaths(opts)
	if err != nil {
		return "", err
	}
	for _, p := range candidates {
		if fileExists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w (tried %s)", ErrConfigNotFound, strings.Join(candidates, ", "))
}

// loadWithOptions performs option-driven config loading. It returns the
// config and the path it was read from.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	if err := opts.Validate(); err != nil {
		return nil, "", err
	}

	cfgPath, err := ResolvePath(opts)
	if err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("load configuration").
			WithSuggestion("Pass --config with the path to your idlsync.cue or idlsync.json").
			WithSuggestion("Run 'idlsync config init' to write a starter configuration").
			Wrap(err).
			BuildError()
	}
	if !fileExists(cfgPath) {
		return nil, "", issue.NewErrorContext().
			WithOperation("load configuration").
			WithResource(cfgPath).
			WithSuggestion("Verify the file path is correct").
			WithSuggestion("Check that the file exists and is readable").
			Wrap(fmt.Errorf("%w: %s", ErrConfigNotFound, cfgPath)).
			BuildError()
	}

	if !opts.SkipDotenv {
		dotenv := filepath.Join(filepath.Dir(cfgPath), DotenvFileName)
		if fileExists(dotenv) {
			if err := godotenv.Load(dotenv); err != nil {
				return nil, "", issue.NewErrorContext().
					WithOperation("load environment file").
					WithResource(dotenv).
					WithSuggestion("Each line must be KEY=VALUE").
					Wrap(err).
					BuildError()
			}
		}
	}

	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, "", fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := loadCUEIntoViper(v, cfgPath); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("load configuration").
			WithResource(cfgPath).
			WithSuggestion("Check that the file contains valid CUE or JSON").
			WithSuggestion("Verify the configuration values match the expected schema").
			WithSuggestion("Run 'idlsync config validate' for a full report").
			Wrap(err).
			BuildError()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	absPath, err := filepath.Abs(cfgPath)
	if err != nil {
		absPath = cfgPath
	}
	cfg.resolvePaths(filepath.Dir(absPath))

	if err := cfg.Validate(); err != nil {
		return nil, absPath, issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(absPath).
			WithSuggestion("Declare upstream, repositoryFolder, cacheLocation and at least one remote").
			WithSuggestion("Give remotes whose repository names end in the same segment distinct names").
			Wrap(err).
			BuildError()
	}

	return &cfg, absPath, nil
}

func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()
	v.SetDefault("upstreamBranch", defaults.UpstreamBranch.String())
	v.SetDefault("fileNameStrategy", defaults.FileNameStrategy.String())
	v.SetDefault("sourceDirectory", defaults.SourceDirectory)
	v.SetDefault("outputDirectory", defaults.OutputDirectory)
	v.SetDefault("extensions", defaults.Extensions)
	v.SetDefault("recursive", defaults.Recursive)
	v.SetDefault("maxConcurrency", defaults.MaxConcurrency)
	v.SetDefault("commandTimeout", defaults.CommandTimeout.String())
	v.SetDefault("allowEmptyCommit", defaults.AllowEmptyCommit)
	v.SetDefault("failOnCollision", defaults.FailOnCollision)
	v.SetDefault("retainStale", defaults.RetainStale)
	v.SetDefault("author.name", defaults.Author.Name)
	v.SetDefault("author.email", defaults.Author.Email)
}

// loadCUEIntoViper validates a CUE or JSON document against #Config and
// merges it into v. Fields are optional in the schema so the document is
// decoded non-concrete into a map, preserving Viper's defaults and env
// overrides for everything it leaves out.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	result, err := cueutil.ParseAndDecodeString[map[string]any](configSchema, data, "#Config",
		cueutil.WithFilename(path),
		cueutil.WithConcrete(false),
	)
	if err != nil {
		return err
	}

	if err := v.MergeConfigMap(*result.Value); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// resolvePaths makes local paths relative to base absolute. Network and
// URL-style repository locations are left untouched.
func (c *Config) resolvePaths(base string) {
	c.RepositoryFolder = c.RepositoryFolder.Resolve(base)
	c.CacheLocation = c.CacheLocation.Resolve(base)
	c.Upstream = resolveLocation(c.Upstream, base)
	for i := range c.Remotes {
		c.Remotes[i].Repository = resolveLocation(c.Remotes[i].Repository, base)
	}
}

func resolveLocation(loc types.RepositoryLocation, base string) types.RepositoryLocation {
	s := string(loc)
	if s == "" || filepath.IsAbs(s) || strings.Contains(s, "://") {
		return loc
	}
	// scp-like syntax: [user@]host:path, with the colon before any slash
	if i := strings.Index(s, ":"); i > 0 && !strings.Contains(s[:i], "/") && !isWindowsDrive(s) {
		return loc
	}
	return types.RepositoryLocation(filepath.Join(base, s))
}

func isWindowsDrive(s string) bool {
	return len(s) >= 2 && s[1] == ':' && (s[0]|0x20) >= 'a' && (s[0]|0x20) <= 'z'
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Save writes cfg as CUE to path, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// StarterConfig returns an example configuration for 'idlsync config init'.
func StarterConfig() *Config {
	cfg := DefaultConfig()
	cfg.Upstream = "git@example.com:org/idl.git"
	cfg.RepositoryFolder = "./repository"
	cfg.CacheLocation = "./remote-cache"
	cfg.Remotes = []RemoteConfig{
		{Repository: "git@example.com:org/service-a.git", Branch: DefaultBranch},
		{Repository: "git@example.com:org/service-b.git", Branch: DefaultBranch},
	}
	return cfg
}

// GenerateCUE renders cfg as a CUE document accepted by Load.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// idlsync configuration\n\n")

	fmt.Fprintf(&sb, "upstream:         %q\n", cfg.Upstream)
	fmt.Fprintf(&sb, "upstreamBranch:   %q\n", cfg.UpstreamBranch)
	fmt.Fprintf(&sb, "repositoryFolder: %q\n", cfg.RepositoryFolder)
	fmt.Fprintf(&sb, "cacheLocation:    %q\n", cfg.CacheLocation)
	fmt.Fprintf(&sb, "fileNameStrategy: %q\n", cfg.FileNameStrategy)
	fmt.Fprintf(&sb, "sourceDirectory:  %q\n", cfg.SourceDirectory)
	fmt.Fprintf(&sb, "outputDirectory:  %q\n", cfg.OutputDirectory)

	exts := make([]string, len(cfg.Extensions))
	for i, ext := range cfg.Extensions {
		exts[i] = fmt.Sprintf("%q", ext)
	}
	fmt.Fprintf(&sb, "extensions:       [%s]\n", strings.Join(exts, ", "))

	fmt.Fprintf(&sb, "recursive:        %v\n", cfg.Recursive)
	fmt.Fprintf(&sb, "maxConcurrency:   %d\n", cfg.MaxConcurrency)
	fmt.Fprintf(&sb, "commandTimeout:   %q\n", cfg.CommandTimeout.String())
	fmt.Fprintf(&sb, "allowEmptyCommit: %v\n", cfg.AllowEmptyCommit)
	fmt.Fprintf(&sb, "failOnCollision:  %v\n", cfg.FailOnCollision)
	fmt.Fprintf(&sb, "retainStale:      %v\n", cfg.RetainStale)

	sb.WriteString("\nauthor: {\n")
	fmt.Fprintf(&sb, "\tname:  %q\n", cfg.Author.Name)
	fmt.Fprintf(&sb, "\temail: %q\n", cfg.Author.Email)
	sb.WriteString("}\n")

	sb.WriteString("\nremotes: [\n")
	for _, r := range cfg.Remotes {
		fields := []string{fmt.Sprintf("repository: %q", r.Repository)}
		if r.Branch != "" {
			fields = append(fields, fmt.Sprintf("branch: %q", r.Branch))
		}
		if r.Name != "" {
			fields = append(fields, fmt.Sprintf("name: %q", r.Name))
		}
		if r.Directory != "" {
			fields = append(fields, fmt.Sprintf("directory: %q", r.Directory))
		}
		fmt.Fprintf(&sb, "\t{%s},\n", strings.Join(fields, ", "))
	}
	sb.WriteString("]\n")

	return sb.String()
}
