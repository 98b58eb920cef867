// SPDX-License-Identifier: MPL-2.0

package aggregate

import (
	"cmp"
	"slices"

	"github.com/idlsync/idlsync/internal/extract"
	"github.com/idlsync/idlsync/pkg/types"
)

type (
	// SourceResult is the extraction outcome of one successfully processed
	// source, or the carried-over previous files of a failed one (Stale).
	SourceResult struct {
		Source types.RemoteSource
		Commit types.CommitID
		Files  []extract.File
		// Stale marks files carried over from the previous publication.
		Stale bool
		// Reason records why a stale source could not be refreshed.
		Reason string
	}

	// Contender is one file that claimed a public filename.
	Contender struct {
		Source  types.SourceName `json:"source"`
		Path    string           `json:"path"`
		Commit  types.CommitID   `json:"commit"`
		Content []byte           `json:"-"`
		Stale   bool             `json:"stale,omitempty"`
	}

	// Collision records every file that claimed Filename. Contenders are in
	// resolution order; the first one is the Winner.
	Collision struct {
		Filename   string      `json:"filename"`
		Winner     Contender   `json:"winner"`
		Contenders []Contender `json:"contenders"`
	}

	// Result is the merged view of all sources.
	Result struct {
		// Files maps each public filename to exactly one file.
		Files map[string]extract.File
		// Collisions is sorted by filename.
		Collisions []Collision
		// Provenance records the winning assignments per source.
		Provenance *Provenance
	}
)

// Aggregate merges results. The outcome depends only on the set of results,
// never on their order.
func Aggregate(results []SourceResult) Result {
	ordered := slices.Clone(results)
	slices.SortStableFunc(ordered, func(a, b SourceResult) int {
		return cmp.Or(compareStale(a.Stale, b.Stale), cmp.Compare(a.Source.Name, b.Source.Name))
	})

	claims := make(map[string][]Contender)
	files := make(map[string]extract.File)
	winners := make(map[types.SourceName][]string)

	for _, r := range ordered {
		own := slices.Clone(r.Files)
		slices.SortFunc(own, func(a, b extract.File) int { return cmp.Compare(a.Path, b.Path) })
		for _, f := range own {
			claims[f.Name] = append(claims[f.Name], Contender{
				Source:  r.Source.Name,
				Path:    f.Path,
				Commit:  f.Commit,
				Content: f.Content,
				Stale:   r.Stale,
			})
			if _, taken := files[f.Name]; taken {
				continue
			}
			files[f.Name] = f
			winners[r.Source.Name] = append(winners[r.Source.Name], f.Name)
		}
	}

	var collisions []Collision
	for name, contenders := range claims {
		if len(contenders) < 2 {
			continue
		}
		collisions = append(collisions, Collision{
			Filename:   name,
			Winner:     contenders[0],
			Contenders: contenders,
		})
	}
	slices.SortFunc(collisions, func(a, b Collision) int { return cmp.Compare(a.Filename, b.Filename) })

	return Result{
		Files:      files,
		Collisions: collisions,
		Provenance: buildProvenance(ordered, winners),
	}
}

// Names returns the public filenames in sorted order.
func (r Result) Names() []string {
	names := make([]string, 0, len(r.Files))
	for name := range r.Files {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// compareStale orders fresh before stale.
func compareStale(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func buildProvenance(results []SourceResult, winners map[types.SourceName][]string) *Provenance {
	p := NewProvenance()
	for _, r := range results {
		names := slices.Clone(winners[r.Source.Name])
		if names == nil {
			names = []string{}
		}
		slices.Sort(names)
		entry := RemoteEntry{
			Repository: r.Source.Repository.String(),
			Branch:     r.Source.Branch.String(),
			Commit:     r.Commit.String(),
			Files:      names,
		}
		if r.Stale {
			p.Stale[r.Source.Name.String()] = StaleEntry{RemoteEntry: entry, Error: r.Reason}
			continue
		}
		p.Remotes[r.Source.Name.String()] = entry
	}
	return p
}
