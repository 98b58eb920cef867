// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/idlsync/idlsync/internal/cache"
	"github.com/idlsync/idlsync/internal/config"
	"github.com/idlsync/idlsync/internal/extract"
	"github.com/idlsync/idlsync/internal/git"
	"github.com/idlsync/idlsync/internal/publish"
	"github.com/idlsync/idlsync/pkg/types"
)

// FromConfig wires an engine and its components from a validated
// configuration. runner executes git for both the cache and the publisher.
func FromConfig(cfg *config.Config, runner git.Runner, logger *log.Logger, now func() time.Time) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strategy, err := extract.ParseStrategy(cfg.FileNameStrategy.String())
	if err != nil {
		return nil, err
	}
	extractor, err := extract.New(strategy,
		extract.WithExtensions(cfg.Extensions...),
		extract.WithRecursive(cfg.Recursive),
		extract.WithLogger(logger.WithPrefix("extract")),
	)
	if err != nil {
		return nil, err
	}
	publisher, err := publish.New(publish.Target{
		RepositoryDir:    cfg.RepositoryFolder.String(),
		Upstream:         cfg.Upstream,
		Branch:           cfg.UpstreamBranch,
		OutputDir:        cfg.OutputDirectory,
		AllowEmptyCommit: cfg.AllowEmptyCommit,
	}, runner, publish.WithLogger(logger.WithPrefix("publish")), publish.WithClock(now))
	if err != nil {
		return nil, err
	}
	remoteCache := NewCache(cfg.CacheLocation, runner, logger)

	return New(cfg.Sources(), remoteCache, extractor, publisher,
		WithMaxConcurrency(cfg.MaxConcurrency),
		WithRetainStale(cfg.RetainStale),
		WithFailOnCollision(cfg.FailOnCollision),
		WithClock(now),
		WithLogger(logger),
	), nil
}

// NewCache returns the remote cache rooted at location.
func NewCache(location types.FilesystemPath, runner git.Runner, logger *log.Logger) *cache.Cache {
	return cache.New(location.String(), runner, cache.WithLogger(logger.WithPrefix("cache")))
}

// NewRunner returns the git gateway configured from cfg.
func NewRunner(cfg *config.Config, logger *log.Logger, opts ...git.CLIOption) (*git.CLI, error) {
	base := []git.CLIOption{
		git.WithTimeout(cfg.CommandTimeout),
		git.WithAuthor(cfg.Author.Name, cfg.Author.Email),
		git.WithLogger(logger.WithPrefix("git")),
	}
	return git.NewCLI(append(base, opts...)...)
}
