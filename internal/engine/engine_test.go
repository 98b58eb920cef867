// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/idlsync/idlsync/internal/aggregate"
	"github.com/idlsync/idlsync/internal/extract"
	"github.com/idlsync/idlsync/internal/publish"
	"github.com/idlsync/idlsync/internal/testutil"
	"github.com/idlsync/idlsync/pkg/types"
)

type fakeCache struct {
	mu         sync.Mutex
	fail       map[types.SourceName]error
	prepareErr error
	calls      []types.SourceName
	onEnsure   func(types.RemoteSource)
	inFlight   atomic.Int32
	maxSeen    atomic.Int32
}

func (f *fakeCache) Prepare() error { return f.prepareErr }

func (f *fakeCache) Ensure(_ context.Context, src types.RemoteSource) (types.WorkingCopy, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.onEnsure != nil {
		f.onEnsure(src)
	}
	f.mu.Lock()
	f.calls = append(f.calls, src.Name)
	err := f.fail[src.Name]
	f.mu.Unlock()
	if err != nil {
		return types.WorkingCopy{}, err
	}
	return types.WorkingCopy{Source: src.Name, Dir: "/cache/" + src.Name.String(), Commit: commitOf(src.Name)}, nil
}

type fakeExtractor struct {
	mu    sync.Mutex
	files map[types.SourceName][]extract.File
	fail  map[types.SourceName]error
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, src types.RemoteSource, _ types.WorkingCopy) ([]extract.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.fail[src.Name]; err != nil {
		return nil, err
	}
	return f.files[src.Name], nil
}

type fakePublisher struct {
	writeErr    error
	previous    *publish.Snapshot
	previousErr error
	publishErr  error

	previousCalls int
	published     []aggregate.Result
	conditions    []int
}

func (f *fakePublisher) CheckWritable() error { return f.writeErr }

func (f *fakePublisher) Previous(context.Context) (*publish.Snapshot, error) {
	f.previousCalls++
	if f.previousErr != nil {
		return nil, f.previousErr
	}
	if f.previous == nil {
		return publish.NewSnapshot("", nil, nil), nil
	}
	return f.previous, nil
}

func (f *fakePublisher) Publish(_ context.Context, result aggregate.Result, _ *aggregate.Provenance, conds ...publish.Condition) (publish.Outcome, error) {
	f.published = append(f.published, result)
	f.conditions = append(f.conditions, len(conds))
	if f.publishErr != nil {
		return publish.Outcome{}, f.publishErr
	}
	return publish.Outcome{Commit: "published", Changed: true, Pushed: true, Sequence: len(f.published)}, nil
}

func commitOf(name types.SourceName) types.CommitID {
	return types.CommitID("commit-" + name)
}

func testSources(names ...string) []types.RemoteSource {
	out := make([]types.RemoteSource, 0, len(names))
	for _, n := range names {
		out = append(out, types.RemoteSource{
			Name:       types.SourceName(n),
			Repository: types.RepositoryLocation("file:///remotes/" + n),
			Branch:     "master",
			Directory:  "thrift",
		})
	}
	return out
}

// idlFiles gives every source one file named after the source, or the same
// shared name when shared is set.
func idlFiles(shared string, names ...string) map[types.SourceName][]extract.File {
	out := make(map[types.SourceName][]extract.File)
	for _, n := range names {
		name := n + ".thrift"
		if shared != "" {
			name = shared
		}
		out[types.SourceName(n)] = []extract.File{{
			Name:    name,
			Path:    "service.thrift",
			Source:  types.SourceName(n),
			Commit:  commitOf(types.SourceName(n)),
			Content: []byte("service " + n),
		}}
	}
	return out
}

func newTestEngine(sources []types.RemoteSource, c *fakeCache, x *fakeExtractor, p *fakePublisher, opts ...Option) *Engine {
	clock := testutil.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(sources, c, x, p, append([]Option{WithClock(clock.Now)}, opts...)...)
}

func TestSync_Success(t *testing.T) {
	t.Parallel()

	c, x, p := &fakeCache{}, &fakeExtractor{files: idlFiles("", "A", "B")}, &fakePublisher{}
	report, err := newTestEngine(testSources("B", "A"), c, x, p).Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if !report.Succeeded() || report.Stage != StagePublished || report.FailedStage != "" {
		t.Errorf("report stage = %s/%s", report.Stage, report.FailedStage)
	}
	if report.Commit != "published" || !report.Changed || !report.Pushed {
		t.Errorf("report = %+v", report)
	}
	if len(p.published) != 1 {
		t.Fatalf("Publish called %d times", len(p.published))
	}
	if got := p.published[0].Names(); !slices.Equal(got, []string{"A.thrift", "B.thrift"}) {
		t.Errorf("published names = %v", got)
	}
	if len(report.Sources) != 2 || report.Sources[0].Name != "B" || !slices.Equal(report.Sources[0].Files, []string{"B.thrift"}) {
		t.Errorf("report sources = %+v", report.Sources)
	}
	if p.previousCalls != 0 {
		t.Error("Previous called without failed sources")
	}
	if p.conditions[0] != 0 {
		t.Errorf("Publish() got %d conditions without carried files", p.conditions[0])
	}
}

func TestSync_InitFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sources []types.RemoteSource
		cache   *fakeCache
		pub     *fakePublisher
		wantErr error
	}{
		{name: "no sources", sources: nil, cache: &fakeCache{}, pub: &fakePublisher{}, wantErr: ErrNoSources},
		{name: "duplicate", sources: append(testSources("A"), testSources("A")...), cache: &fakeCache{}, pub: &fakePublisher{}, wantErr: ErrDuplicateSource},
		{name: "invalid source", sources: []types.RemoteSource{{Name: "A"}}, cache: &fakeCache{}, pub: &fakePublisher{}, wantErr: types.ErrInvalidRemoteSource},
		{name: "cache root", sources: testSources("A"), cache: &fakeCache{prepareErr: errors.New("read-only")}, pub: &fakePublisher{}},
		{name: "repository folder", sources: testSources("A"), cache: &fakeCache{}, pub: &fakePublisher{writeErr: errors.New("read-only")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			report, err := newTestEngine(tt.sources, tt.cache, &fakeExtractor{}, tt.pub).Sync(context.Background())
			var stageErr *StageError
			if !errors.As(err, &stageErr) || stageErr.Stage != StageInit {
				t.Fatalf("Sync() error = %v, want INIT StageError", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Sync() error = %v, want %v", err, tt.wantErr)
			}
			if report.Stage != StageFailed || report.FailedStage != StageInit {
				t.Errorf("report stage = %s/%s", report.Stage, report.FailedStage)
			}
			if len(tt.cache.calls) != 0 || len(tt.pub.published) != 0 {
				t.Error("remote work started after INIT failure")
			}
			if IsTransient(err) {
				t.Error("INIT failure classified transient")
			}
		})
	}
}

func TestSync_AllSourcesFail(t *testing.T) {
	t.Parallel()

	boom := errors.New("unreachable")
	c := &fakeCache{fail: map[types.SourceName]error{"A": boom, "B": boom}}
	p := &fakePublisher{}
	report, err := newTestEngine(testSources("A", "B"), c, &fakeExtractor{}, p).Sync(context.Background())

	if !errors.Is(err, ErrNoSourcesAvailable) || !errors.Is(err, boom) {
		t.Fatalf("Sync() error = %v", err)
	}
	if report.FailedStage != StageCacheReady || len(p.published) != 0 {
		t.Errorf("report = %+v, published %d", report, len(p.published))
	}
	if !IsTransient(err) {
		t.Error("fetch failure not transient")
	}
	if len(report.Failed()) != 2 || report.Failed()[0].Stage != StageCacheReady {
		t.Errorf("Failed() = %+v", report.Failed())
	}
}

func TestSync_IsolatesFailedSource(t *testing.T) {
	t.Parallel()

	c := &fakeCache{fail: map[types.SourceName]error{"C": errors.New("unreachable")}}
	x := &fakeExtractor{files: idlFiles("", "A", "B", "C")}
	p := &fakePublisher{}
	report, err := newTestEngine(testSources("A", "B", "C"), c, x, p, WithRetainStale(false)).Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if got := p.published[0].Names(); !slices.Equal(got, []string{"A.thrift", "B.thrift"}) {
		t.Errorf("published = %v", got)
	}
	prov := p.published[0].Provenance
	if _, ok := prov.Lookup("C"); ok {
		t.Error("failed source appears in provenance")
	}
	if p.previousCalls != 0 {
		t.Error("Previous called with retention off")
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0].Name != "C" || failed[0].Status != SourceFailed || failed[0].Error != "unreachable" {
		t.Errorf("Failed() = %+v", failed)
	}
}

func TestSync_CarriesStaleSource(t *testing.T) {
	t.Parallel()

	prev := aggregate.NewProvenance()
	prev.Remotes["C"] = aggregate.RemoteEntry{Repository: "file:///remotes/C", Branch: "master", Commit: "old-c", Files: []string{"C.thrift"}}
	p := &fakePublisher{previous: publish.NewSnapshot("prev", prev, map[string][]byte{"C.thrift": []byte("old C")})}
	c := &fakeCache{fail: map[types.SourceName]error{"C": errors.New("unreachable"), "D": errors.New("unreachable")}}
	x := &fakeExtractor{files: idlFiles("", "A")}

	report, err := newTestEngine(testSources("A", "C", "D"), c, x, p).Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	res := p.published[0]
	if p.conditions[0] != 1 {
		t.Errorf("Publish() got %d conditions, want the carried snapshot as base", p.conditions[0])
	}
	if got := string(res.Files["C.thrift"].Content); got != "old C" {
		t.Errorf("C.thrift = %q, want carried content", got)
	}
	stale, ok := res.Provenance.Stale["C"]
	if !ok || stale.Commit != "old-c" || stale.Error != "unreachable" {
		t.Errorf("stale C = %+v, %v", stale, ok)
	}
	if _, ok := res.Provenance.Remotes["C"]; ok {
		t.Error("stale source listed under remotes")
	}
	if _, ok := res.Provenance.Lookup("D"); ok {
		t.Error("never-published failed source appears in provenance")
	}

	statuses := map[types.SourceName]SourceStatus{}
	for _, s := range report.Sources {
		statuses[s.Name] = s.Status
	}
	if statuses["A"] != SourceOK || statuses["C"] != SourceStale || statuses["D"] != SourceFailed {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestSync_PreviousUnavailableDropsFailedSource(t *testing.T) {
	t.Parallel()

	p := &fakePublisher{previousErr: errors.New("upstream down")}
	c := &fakeCache{fail: map[types.SourceName]error{"B": errors.New("unreachable")}}
	x := &fakeExtractor{files: idlFiles("", "A")}

	if _, err := newTestEngine(testSources("A", "B"), c, x, p).Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if got := p.published[0].Names(); !slices.Equal(got, []string{"A.thrift"}) {
		t.Errorf("published = %v", got)
	}
}

func TestSync_ExtractionFailureExcludesSource(t *testing.T) {
	t.Parallel()

	x := &fakeExtractor{
		files: idlFiles("", "A", "B"),
		fail:  map[types.SourceName]error{"B": &extract.ExtractionError{Source: "B", Err: errors.New("permission denied")}},
	}
	p := &fakePublisher{}
	report, err := newTestEngine(testSources("A", "B"), &fakeCache{}, x, p, WithRetainStale(false)).Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if got := p.published[0].Names(); !slices.Equal(got, []string{"A.thrift"}) {
		t.Errorf("published = %v", got)
	}
	if f := report.Failed(); len(f) != 1 || f[0].Stage != StageExtracted {
		t.Errorf("Failed() = %+v", f)
	}
}

func TestSync_Collisions(t *testing.T) {
	t.Parallel()

	t.Run("reported", func(t *testing.T) {
		t.Parallel()
		p := &fakePublisher{}
		x := &fakeExtractor{files: idlFiles("service.thrift", "C", "A", "B")}
		report, err := newTestEngine(testSources("C", "B", "A"), &fakeCache{}, x, p).Sync(context.Background())
		if err != nil {
			t.Fatalf("Sync() error: %v", err)
		}
		if len(report.Collisions) != 1 || report.Collisions[0].Winner.Source != "A" {
			t.Fatalf("Collisions = %+v", report.Collisions)
		}
		if got := string(p.published[0].Files["service.thrift"].Content); got != "service A" {
			t.Errorf("published winner = %q", got)
		}
	})

	t.Run("fail on collision", func(t *testing.T) {
		t.Parallel()
		p := &fakePublisher{}
		x := &fakeExtractor{files: idlFiles("service.thrift", "A", "B")}
		report, err := newTestEngine(testSources("A", "B"), &fakeCache{}, x, p, WithFailOnCollision(true)).Sync(context.Background())
		var colErr *CollisionError
		if !errors.As(err, &colErr) || !errors.Is(err, ErrCollision) {
			t.Fatalf("Sync() error = %v, want CollisionError", err)
		}
		if report.FailedStage != StageAggregated || len(p.published) != 0 {
			t.Errorf("report = %+v, published %d", report, len(p.published))
		}
		if IsTransient(err) {
			t.Error("collision failure classified transient")
		}
	})
}

func TestSync_CanceledDuringFetch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &fakeCache{onEnsure: func(types.RemoteSource) { cancel() }}
	x := &fakeExtractor{files: idlFiles("", "A", "B")}
	p := &fakePublisher{}

	report, err := newTestEngine(testSources("A", "B"), c, x, p, WithMaxConcurrency(1)).Sync(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Sync() error = %v, want context.Canceled", err)
	}
	if report.FailedStage != StageCacheReady {
		t.Errorf("failed stage = %s", report.FailedStage)
	}
	if x.calls != 0 || len(p.published) != 0 {
		t.Errorf("work continued after cancellation: %d extractions, %d publishes", x.calls, len(p.published))
	}
	if IsTransient(err) {
		t.Error("cancellation classified transient")
	}
}

func TestSync_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	names := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	c := &fakeCache{onEnsure: func(types.RemoteSource) { time.Sleep(5 * time.Millisecond) }}
	x := &fakeExtractor{files: idlFiles("", names...)}
	if _, err := newTestEngine(testSources(names...), c, x, &fakePublisher{}, WithMaxConcurrency(2)).Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if got := c.maxSeen.Load(); got > 2 {
		t.Errorf("max in-flight = %d, want <= 2", got)
	}
	if len(c.calls) != len(names) {
		t.Errorf("Ensure called %d times, want %d", len(c.calls), len(names))
	}
}

func TestSync_PublishFailure(t *testing.T) {
	t.Parallel()

	p := &fakePublisher{publishErr: &publish.PublishError{Step: publish.StepPush, Err: errors.New("rejected")}}
	x := &fakeExtractor{files: idlFiles("", "A")}
	report, err := newTestEngine(testSources("A"), &fakeCache{}, x, p).Sync(context.Background())
	if !errors.Is(err, publish.ErrPublish) {
		t.Fatalf("Sync() error = %v, want ErrPublish", err)
	}
	if report.FailedStage != StagePublished || report.Pushed {
		t.Errorf("report = %+v", report)
	}
	if !IsTransient(err) {
		t.Error("publish failure not transient")
	}
}

func TestReport_Duration(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &Report{Started: start, Finished: start.Add(3 * time.Second)}
	if r.Duration() != 3*time.Second {
		t.Errorf("Duration() = %s", r.Duration())
	}
}
