// SPDX-License-Identifier: MPL-2.0

package aggregate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// MetaFileName is the provenance record's file name at the published tree root.
const MetaFileName = "meta.json"

// ErrInvalidProvenance is returned when a published meta.json cannot be parsed.
var ErrInvalidProvenance = errors.New("invalid provenance record")

type (
	// RemoteEntry is what one source contributed to a publication.
	RemoteEntry struct {
		Repository string   `json:"repository"`
		Branch     string   `json:"branch"`
		Commit     string   `json:"commit"`
		Files      []string `json:"files"`
	}

	// StaleEntry is a source whose previous files were carried over because
	// this run could not refresh it.
	StaleEntry struct {
		RemoteEntry
		Error string `json:"error"`
	}

	// Provenance maps every published file to the source commit it came from.
	// It is overwritten wholesale on each publication.
	Provenance struct {
		Remotes map[string]RemoteEntry `json:"remotes"`
		Stale   map[string]StaleEntry  `json:"stale,omitempty"`
	}
)

// NewProvenance returns an empty record.
func NewProvenance() *Provenance {
	return &Provenance{
		Remotes: make(map[string]RemoteEntry),
		Stale:   make(map[string]StaleEntry),
	}
}

// Marshal renders the record as meta.json: keys sorted, four-space indent,
// trailing newline. Identical records always produce identical bytes.
func (p *Provenance) Marshal() ([]byte, error) {
	out := struct {
		Remotes map[string]RemoteEntry `json:"remotes"`
		Stale   map[string]StaleEntry  `json:"stale,omitempty"`
	}{
		Remotes: normalizeRemotes(p.Remotes),
		Stale:   normalizeStale(p.Stale),
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("encode %s: %w", MetaFileName, err)
	}
	return buf.Bytes(), nil
}

// ParseProvenance decodes a meta.json document.
func ParseProvenance(data []byte) (*Provenance, error) {
	p := NewProvenance()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProvenance, err)
	}
	if p.Remotes == nil {
		p.Remotes = make(map[string]RemoteEntry)
	}
	if p.Stale == nil {
		p.Stale = make(map[string]StaleEntry)
	}
	return p, nil
}

// Lookup returns the entry of source, fresh or stale.
func (p *Provenance) Lookup(source string) (RemoteEntry, bool) {
	if e, ok := p.Remotes[source]; ok {
		return e, true
	}
	if e, ok := p.Stale[source]; ok {
		return e.RemoteEntry, true
	}
	return RemoteEntry{}, false
}

func normalizeRemotes(in map[string]RemoteEntry) map[string]RemoteEntry {
	out := make(map[string]RemoteEntry, len(in))
	for name, e := range in {
		out[name] = normalizeEntry(e)
	}
	return out
}

func normalizeStale(in map[string]StaleEntry) map[string]StaleEntry {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]StaleEntry, len(in))
	for name, e := range in {
		e.RemoteEntry = normalizeEntry(e.RemoteEntry)
		out[name] = e
	}
	return out
}

func normalizeEntry(e RemoteEntry) RemoteEntry {
	files := slices.Clone(e.Files)
	if files == nil {
		files = []string{}
	}
	slices.Sort(files)
	e.Files = files
	return e
}
