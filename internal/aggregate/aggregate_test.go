// SPDX-License-Identifier: MPL-2.0

package aggregate

import (
	"slices"
	"testing"

	"github.com/idlsync/idlsync/internal/extract"
	"github.com/idlsync/idlsync/pkg/types"
)

func source(name string) types.RemoteSource {
	return types.RemoteSource{
		Name:       types.SourceName(name),
		Repository: types.RepositoryLocation("file:///srv/remotes/" + name),
		Branch:     "master",
		Directory:  "thrift",
	}
}

func file(src, name, path, content string) extract.File {
	return extract.File{
		Name:    name,
		Path:    path,
		Source:  types.SourceName(src),
		Commit:  types.CommitID("c-" + src),
		Content: []byte(content),
	}
}

func result(src string, stale bool, files ...extract.File) SourceResult {
	return SourceResult{
		Source: source(src),
		Commit: types.CommitID("c-" + src),
		Files:  files,
		Stale:  stale,
	}
}

func TestAggregate_NoCollisions(t *testing.T) {
	t.Parallel()

	got := Aggregate([]SourceResult{
		result("B", false, file("B", "B.thrift", "service.thrift", "b")),
		result("A", false, file("A", "A.thrift", "service.thrift", "a")),
	})

	if want := []string{"A.thrift", "B.thrift"}; !slices.Equal(got.Names(), want) {
		t.Fatalf("Names() = %v, want %v", got.Names(), want)
	}
	if len(got.Collisions) != 0 {
		t.Errorf("Collisions = %v, want none", got.Collisions)
	}
	if string(got.Files["A.thrift"].Content) != "a" {
		t.Errorf("A.thrift content = %q", got.Files["A.thrift"].Content)
	}
	if e := got.Provenance.Remotes["B"]; e.Commit != "c-B" || !slices.Equal(e.Files, []string{"B.thrift"}) {
		t.Errorf("provenance B = %+v", e)
	}
}

func TestAggregate_CollisionDeterministic(t *testing.T) {
	t.Parallel()

	a := result("A", false, file("A", "service.thrift", "service.thrift", "from A"))
	b := result("B", false, file("B", "service.thrift", "service.thrift", "from B"))
	c := result("C", false, file("C", "service.thrift", "service.thrift", "from C"))

	orders := [][]SourceResult{{a, b, c}, {c, b, a}, {b, c, a}}
	for _, order := range orders {
		got := Aggregate(order)
		if len(got.Collisions) != 1 {
			t.Fatalf("Collisions = %d, want 1", len(got.Collisions))
		}
		col := got.Collisions[0]
		if col.Filename != "service.thrift" || col.Winner.Source != "A" {
			t.Errorf("collision = %s won by %s, want service.thrift won by A", col.Filename, col.Winner.Source)
		}
		var sources []types.SourceName
		for _, c := range col.Contenders {
			sources = append(sources, c.Source)
		}
		if want := []types.SourceName{"A", "B", "C"}; !slices.Equal(sources, want) {
			t.Errorf("contenders = %v, want %v", sources, want)
		}
		if string(got.Files["service.thrift"].Content) != "from A" {
			t.Errorf("winner content = %q", got.Files["service.thrift"].Content)
		}
		// losing sources are still processed, with no winning files
		if e, ok := got.Provenance.Remotes["B"]; !ok || len(e.Files) != 0 {
			t.Errorf("provenance B = %+v, %v", e, ok)
		}
	}
}

func TestAggregate_FreshBeatsStale(t *testing.T) {
	t.Parallel()

	stale := result("A", true, file("A", "service.thrift", "service.thrift", "old A"))
	stale.Reason = "fetch failed"
	fresh := result("Z", false, file("Z", "service.thrift", "service.thrift", "Z"))

	got := Aggregate([]SourceResult{stale, fresh})

	if w := got.Files["service.thrift"]; w.Source != "Z" {
		t.Errorf("winner = %s, want Z", w.Source)
	}
	if len(got.Collisions) != 1 || !got.Collisions[0].Contenders[1].Stale {
		t.Errorf("Collisions = %+v, want stale A as second contender", got.Collisions)
	}
	if _, ok := got.Provenance.Remotes["A"]; ok {
		t.Error("stale source listed under remotes")
	}
	if e, ok := got.Provenance.Stale["A"]; !ok || e.Error != "fetch failed" || len(e.Files) != 0 {
		t.Errorf("stale A = %+v, %v", e, ok)
	}
}

func TestAggregate_PathTieBreakWithinSource(t *testing.T) {
	t.Parallel()

	got := Aggregate([]SourceResult{result("A", false,
		file("A", "A.thrift", "z.thrift", "z"),
		file("A", "A.thrift", "b.thrift", "b"),
	)})

	if w := got.Files["A.thrift"]; w.Path != "b.thrift" {
		t.Errorf("winner path = %s, want b.thrift", w.Path)
	}
	if len(got.Collisions) != 1 || got.Collisions[0].Winner.Path != "b.thrift" {
		t.Errorf("Collisions = %+v", got.Collisions)
	}
}

func TestAggregate_Empty(t *testing.T) {
	t.Parallel()

	got := Aggregate(nil)
	if len(got.Files) != 0 || len(got.Collisions) != 0 {
		t.Errorf("Aggregate(nil) = %+v", got)
	}
	if got.Provenance == nil || len(got.Provenance.Remotes) != 0 {
		t.Errorf("Provenance = %+v", got.Provenance)
	}
}
