// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/idlsync/idlsync/internal/aggregate"
	"github.com/idlsync/idlsync/internal/config"
	"github.com/idlsync/idlsync/internal/git"
	"github.com/idlsync/idlsync/internal/testutil"
	"github.com/idlsync/idlsync/pkg/types"
)

func clusterConfig(cluster *testutil.Cluster, strategy config.StrategyName, names ...string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Upstream = types.RepositoryLocation(cluster.UpstreamURL())
	cfg.RepositoryFolder = types.FilesystemPath(cluster.RepositoryDir)
	cfg.CacheLocation = types.FilesystemPath(cluster.CacheDir)
	cfg.FileNameStrategy = strategy
	for _, n := range names {
		cfg.Remotes = append(cfg.Remotes, config.RemoteConfig{Repository: types.RepositoryLocation(cluster.RemoteURL(n))})
	}
	return cfg
}

func syncOnce(t *testing.T, cfg *config.Config, clock *testutil.FakeClock) (*Report, error) {
	t.Helper()
	logger := log.New(io.Discard)
	runner, err := NewRunner(cfg, logger, git.WithEnv(testutil.GitEnv()...))
	if err != nil {
		t.Fatalf("NewRunner() error: %v", err)
	}
	eng, err := FromConfig(cfg, runner, logger, clock.Now)
	if err != nil {
		t.Fatalf("FromConfig() error: %v", err)
	}
	clock.Advance(time.Minute)
	return eng.Sync(context.Background())
}

func readMeta(t *testing.T, cluster *testutil.Cluster) *aggregate.Provenance {
	t.Helper()
	data, ok := cluster.UpstreamShow(t, aggregate.MetaFileName)
	if !ok {
		t.Fatal("meta.json not published")
	}
	prov, err := aggregate.ParseProvenance([]byte(data))
	if err != nil {
		t.Fatalf("ParseProvenance() error: %v", err)
	}
	return prov
}

func TestSync_SeedScenario(t *testing.T) {
	t.Parallel()

	cluster := testutil.NewCluster(t, testutil.DefaultRemotes())
	clock := testutil.NewFakeClock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	cfg := clusterConfig(cluster, config.StrategyLastSegment, "A", "B", "C", "D")

	report, err := syncOnce(t, cfg, clock)
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if !report.Changed || !report.Pushed {
		t.Errorf("first report = %+v", report)
	}
	want := []string{"thrift/A.thrift", "thrift/B.thrift", "thrift/C.thrift", "thrift/D.thrift"}
	if got := cluster.UpstreamTree(t, "thrift"); !slices.Equal(got, want) {
		t.Fatalf("published tree = %v, want %v", got, want)
	}
	for _, name := range cluster.RemoteNames() {
		content, _ := cluster.UpstreamShow(t, "thrift/"+name+".thrift")
		if content != testutil.ServiceIDL(name) {
			t.Errorf("%s.thrift = %q", name, content)
		}
	}
	prov := readMeta(t, cluster)
	for _, name := range cluster.RemoteNames() {
		entry, ok := prov.Remotes[name]
		if !ok || entry.Commit != cluster.Head(t, name) || !slices.Equal(entry.Files, []string{name + ".thrift"}) {
			t.Errorf("meta.json %s = %+v, %v", name, entry, ok)
		}
	}
	history := cluster.UpstreamLog(t)
	head := cluster.UpstreamHead(t)

	// idempotence
	report, err = syncOnce(t, cfg, clock)
	if err != nil {
		t.Fatalf("second Sync() error: %v", err)
	}
	if report.Changed || report.Pushed || cluster.UpstreamHead(t) != head {
		t.Errorf("second run changed the upstream: %+v", report)
	}
	if got := cluster.UpstreamLog(t); !slices.Equal(got, history) {
		t.Errorf("upstream log = %v, want %v", got, history)
	}

	// pruning
	cfg.Remotes = cfg.Remotes[:3]
	if _, err := syncOnce(t, cfg, clock); err != nil {
		t.Fatalf("third Sync() error: %v", err)
	}
	if got := cluster.UpstreamTree(t, "thrift"); !slices.Equal(got, want[:3]) {
		t.Errorf("tree after removing D = %v", got)
	}
	if _, ok := readMeta(t, cluster).Lookup("D"); ok {
		t.Error("meta.json still lists D")
	}
}

func TestSync_SourceUpdatePublished(t *testing.T) {
	t.Parallel()

	cluster := testutil.NewCluster(t, testutil.DefaultRemotes())
	clock := testutil.NewFakeClock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	cfg := clusterConfig(cluster, config.StrategySourceName, "A", "B")

	if _, err := syncOnce(t, cfg, clock); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	updated := "service A {\n    void ping()\n}\n"
	commit := cluster.Commit(t, "A", map[string]*string{"thrift/service.thrift": &updated}, "add ping")

	report, err := syncOnce(t, cfg, clock)
	if err != nil {
		t.Fatalf("second Sync() error: %v", err)
	}
	if !report.Changed {
		t.Error("update not published")
	}
	if got, _ := cluster.UpstreamShow(t, "thrift/A.thrift"); got != updated {
		t.Errorf("A.thrift = %q", got)
	}
	if got := readMeta(t, cluster).Remotes["A"].Commit; got != commit {
		t.Errorf("meta.json A commit = %s, want %s", got, commit)
	}
}

func TestSync_UnreachableSourceIsolated(t *testing.T) {
	t.Parallel()

	cluster := testutil.NewCluster(t, testutil.DefaultRemotes())
	clock := testutil.NewFakeClock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	cfg := clusterConfig(cluster, config.StrategyLastSegment, "A", "B", "C")
	cfg.RetainStale = false
	cfg.Remotes = append(cfg.Remotes, config.RemoteConfig{
		Repository: types.RepositoryLocation("file://" + filepath.ToSlash(filepath.Join(cluster.RemotesDir, "gone"))),
	})

	report, err := syncOnce(t, cfg, clock)
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if got := cluster.UpstreamTree(t, "thrift"); !slices.Equal(got, []string{"thrift/A.thrift", "thrift/B.thrift", "thrift/C.thrift"}) {
		t.Errorf("published tree = %v", got)
	}
	prov := readMeta(t, cluster)
	if len(prov.Remotes) != 3 || len(prov.Stale) != 0 {
		t.Errorf("meta.json = %+v", prov)
	}
	if f := report.Failed(); len(f) != 1 || f[0].Name != "gone" || f[0].Stage != StageCacheReady {
		t.Errorf("Failed() = %+v", f)
	}
}

func TestSync_StaleSourceRetained(t *testing.T) {
	t.Parallel()

	cluster := testutil.NewCluster(t, testutil.DefaultRemotes())
	clock := testutil.NewFakeClock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	cfg := clusterConfig(cluster, config.StrategyLastSegment, "A", "B")

	if _, err := syncOnce(t, cfg, clock); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	commitB := cluster.Head(t, "B")
	testutil.MustRemoveAll(t, cluster.RemoteDir("B"))

	report, err := syncOnce(t, cfg, clock)
	if err != nil {
		t.Fatalf("second Sync() error: %v", err)
	}
	if got, ok := cluster.UpstreamShow(t, "thrift/B.thrift"); !ok || got != testutil.ServiceIDL("B") {
		t.Errorf("B.thrift = %q, %v; want retained", got, ok)
	}
	prov := readMeta(t, cluster)
	if _, ok := prov.Remotes["B"]; ok {
		t.Error("stale B listed under remotes")
	}
	if e, ok := prov.Stale["B"]; !ok || e.Commit != commitB || e.Error == "" {
		t.Errorf("stale B = %+v, %v", e, ok)
	}
	if !report.Changed {
		t.Error("moving B to stale was not published")
	}
}

func TestSync_CollisionDeterministic(t *testing.T) {
	t.Parallel()

	remotes := testutil.DefaultRemotes()
	for name, r := range remotes {
		r.Files = map[string]string{"thrift/service.thrift": "// from " + name + "\n"}
		remotes[name] = r
	}
	cluster := testutil.NewCluster(t, remotes)
	clock := testutil.NewFakeClock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	cfg := clusterConfig(cluster, config.StrategyFileName, "D", "C", "B", "A")
	cfg.MaxConcurrency = 4

	for range 2 {
		report, err := syncOnce(t, cfg, clock)
		if err != nil {
			t.Fatalf("Sync() error: %v", err)
		}
		if len(report.Collisions) != 1 || report.Collisions[0].Winner.Source != "A" || len(report.Collisions[0].Contenders) != 4 {
			t.Fatalf("Collisions = %+v", report.Collisions)
		}
		if got, _ := cluster.UpstreamShow(t, "thrift/service.thrift"); got != "// from A\n" {
			t.Errorf("service.thrift = %q, want A's", got)
		}
	}

	cfg.FailOnCollision = true
	_, err := syncOnce(t, cfg, clock)
	if !errors.Is(err, ErrCollision) {
		t.Errorf("Sync() with failOnCollision error = %v", err)
	}
}
