// SPDX-License-Identifier: MPL-2.0

package publish

import (
	"context"
	"path"

	"github.com/idlsync/idlsync/internal/aggregate"
	"github.com/idlsync/idlsync/internal/extract"
	"github.com/idlsync/idlsync/pkg/types"
)

// Snapshot is the publication currently on the upstream branch.
type Snapshot struct {
	// Commit is empty when nothing was published yet.
	Commit     types.CommitID
	Provenance *aggregate.Provenance
	contents   map[string][]byte
}

// NewSnapshot returns a snapshot of prov whose published file contents are
// given by public filename.
func NewSnapshot(commit types.CommitID, prov *aggregate.Provenance, contents map[string][]byte) *Snapshot {
	if prov == nil {
		prov = aggregate.NewProvenance()
	}
	return &Snapshot{Commit: commit, Provenance: prov, contents: contents}
}

// Previous syncs the working repository with the upstream and returns the
// publication found there. A branch without meta.json yields an empty
// snapshot.
func (p *Publisher) Previous(ctx context.Context) (*Snapshot, error) {
	release, err := p.lock()
	if err != nil {
		return nil, &PublishError{Step: StepLock, Err: err}
	}
	defer release()

	repo, err := p.prepare(ctx)
	if err != nil {
		return nil, &PublishError{Step: StepPrepare, Err: err}
	}
	snap := NewSnapshot("", nil, make(map[string][]byte))
	if !repo.HasHead(ctx) {
		return snap, nil
	}
	if snap.Commit, err = repo.Head(ctx); err != nil {
		return nil, err
	}
	data, err := repo.ShowFile(ctx, "HEAD", aggregate.MetaFileName)
	if err != nil {
		p.logger.Debug("no previous provenance", "commit", snap.Commit.Short())
		return snap, nil
	}
	if snap.Provenance, err = aggregate.ParseProvenance(data); err != nil {
		return nil, err
	}

	read := func(files []string) error {
		for _, name := range files {
			content, err := repo.ShowFile(ctx, "HEAD", path.Join(p.target.OutputDir, name))
			if err != nil {
				return err
			}
			snap.contents[name] = content
		}
		return nil
	}
	for _, e := range snap.Provenance.Remotes {
		if err := read(e.Files); err != nil {
			return nil, err
		}
	}
	for _, e := range snap.Provenance.Stale {
		if err := read(e.Files); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// Carry returns the previously published files of source, ready to be
// aggregated again as a stale result. ok is false when source was not part
// of the snapshot.
func (s *Snapshot) Carry(src types.RemoteSource) (files []extract.File, commit types.CommitID, ok bool) {
	entry, ok := s.Provenance.Lookup(src.Name.String())
	if !ok {
		return nil, "", false
	}
	commit = types.CommitID(entry.Commit)
	for _, name := range entry.Files {
		content, found := s.contents[name]
		if !found {
			continue
		}
		files = append(files, extract.File{
			Name:    name,
			Path:    name,
			Source:  src.Name,
			Commit:  commit,
			Content: content,
		})
	}
	return files, commit, true
}
