// SPDX-License-Identifier: MPL-2.0

package extract

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/idlsync/idlsync/pkg/types"
)

// DefaultMemoSize is the number of extraction results kept in memory.
const DefaultMemoSize = 256

// ErrExtraction is wrapped by every ExtractionError.
var ErrExtraction = errors.New("extraction failed")

type (
	// File is one IDL file taken from a source at a specific commit.
	// Values are never mutated after extraction.
	File struct {
		// Name is the public filename (slash separated, relative to the
		// published output directory).
		Name string
		// Path is the original path, relative to the source's IDL directory.
		Path string
		// Source is the originating source.
		Source types.SourceName
		// Commit is the source commit the content was read at.
		Commit types.CommitID
		// Content is the raw file content.
		Content []byte
	}

	// ExtractionError is returned when a source's IDL directory cannot be read.
	ExtractionError struct {
		Source types.SourceName
		Path   string
		Err    error
	}

	// Option configures an Extractor.
	Option func(*Extractor)

	// Extractor reads IDL files from working copies. It is safe for
	// concurrent use by multiple goroutines.
	Extractor struct {
		strategy   Strategy
		extensions []string
		recursive  bool
		memoSize   int
		memo       *lru.Cache[memoKey, []File]
		logger     *log.Logger
	}

	memoKey struct {
		source types.RemoteSource
		commit types.CommitID
		dir    string
	}
)

// Error implements the error interface for ExtractionError.
func (e *ExtractionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("extract %s: %s: %v", e.Source, e.Path, e.Err)
	}
	return fmt.Sprintf("extract %s: %v", e.Source, e.Err)
}

// Unwrap exposes ErrExtraction and the underlying cause.
func (e *ExtractionError) Unwrap() []error { return []error{ErrExtraction, e.Err} }

// WithExtensions sets the file extensions collected (default ".thrift").
// Matching is case-sensitive.
func WithExtensions(exts ...string) Option {
	return func(e *Extractor) {
		e.extensions = slices.Clone(exts)
	}
}

// WithRecursive makes extraction descend into subdirectories.
func WithRecursive(recursive bool) Option {
	return func(e *Extractor) {
		e.recursive = recursive
	}
}

// WithMemoSize sets how many extraction results are memoized. Zero disables
// memoization.
func WithMemoSize(n int) Option {
	return func(e *Extractor) {
		e.memoSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Extractor) {
		e.logger = l
	}
}

// New creates an Extractor naming files with strategy.
func New(strategy Strategy, opts ...Option) (*Extractor, error) {
	if _, err := ParseStrategy(strategy.String()); err != nil {
		return nil, err
	}
	e := &Extractor{
		strategy:   strategy,
		extensions: []string{".thrift"},
		memoSize:   DefaultMemoSize,
		logger:     log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.memoSize > 0 {
		memo, err := lru.New[memoKey, []File](e.memoSize)
		if err != nil {
			return nil, fmt.Errorf("create extraction memo: %w", err)
		}
		e.memo = memo
	}
	return e, nil
}

// Strategy returns the naming strategy in use.
func (e *Extractor) Strategy() Strategy {
	return e.strategy
}

// Extract returns the IDL files of src found in wc, sorted by public name
// then original path. wc must be a clean checkout at wc.Commit.
func (e *Extractor) Extract(ctx context.Context, src types.RemoteSource, wc types.WorkingCopy) ([]File, error) {
	key := memoKey{source: src, commit: wc.Commit, dir: wc.Dir}
	if e.memo != nil && wc.Commit != "" {
		if files, ok := e.memo.Get(key); ok {
			e.logger.Debug("extraction memo hit", "source", src.Name, "commit", wc.Commit.Short())
			return slices.Clone(files), nil
		}
	}

	root := filepath.Join(wc.Dir, filepath.FromSlash(src.Directory))
	rels, err := e.scan(ctx, root)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &ExtractionError{Source: src.Name, Path: src.Directory, Err: err}
	}

	files := make([]File, 0, len(rels))
	for _, rel := range rels {
		content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, &ExtractionError{Source: src.Name, Path: path.Join(src.Directory, rel), Err: err}
		}
		files = append(files, File{
			Name:    e.strategy.PublicName(src, rel),
			Path:    rel,
			Source:  src.Name,
			Commit:  wc.Commit,
			Content: content,
		})
	}
	slices.SortFunc(files, func(a, b File) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Path, b.Path))
	})

	e.logger.Debug("extracted", "source", src.Name, "commit", wc.Commit.Short(), "files", len(files))
	if e.memo != nil && wc.Commit != "" {
		e.memo.Add(key, slices.Clone(files))
	}
	return files, nil
}

// Forget drops memoized results for source.
func (e *Extractor) Forget(source types.SourceName) {
	if e.memo == nil {
		return
	}
	for _, key := range e.memo.Keys() {
		if key.source.Name == source {
			e.memo.Remove(key)
		}
	}
}

// scan returns the slash-separated paths, relative to root, of regular files
// with a collected extension. A missing root yields no paths.
func (e *Extractor) scan(ctx context.Context, root string) ([]string, error) {
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var rels []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p == root {
				return nil
			}
			if !e.recursive || d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		// symlinks could point outside the working copy
		if !d.Type().IsRegular() || !e.collects(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rels, nil
}

func (e *Extractor) collects(name string) bool {
	for _, ext := range e.extensions {
		if strings.HasSuffix(name, ext) && len(name) > len(ext) {
			return true
		}
	}
	return false
}
