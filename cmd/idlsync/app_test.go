// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/idlsync/idlsync/internal/config"
	"github.com/idlsync/idlsync/internal/engine"
	"github.com/idlsync/idlsync/pkg/types"
)

type (
	fakeConfigProvider struct {
		cfg  *config.Config
		err  error
		path string
	}

	syncResult struct {
		report *engine.Report
		err    error
	}

	fakeSyncService struct {
		mu      sync.Mutex
		results []syncResult
		calls   int
	}
)

func (f *fakeConfigProvider) Load(context.Context, config.LoadOptions) (*config.Config, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cfg, nil
}

func (f *fakeConfigProvider) Path(config.LoadOptions) (string, error) {
	if f.path == "" {
		return "", config.ErrConfigNotFound
	}
	return f.path, nil
}

// Sync returns the queued results in order, repeating the last one.
func (f *fakeSyncService) Sync(context.Context) (*engine.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.results[min(f.calls, len(f.results)-1)]
	f.calls++
	return r.report, r.err
}

func (f *fakeSyncService) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func validConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Upstream = "/srv/git/idl.git"
	cfg.RepositoryFolder = "/var/lib/idlsync/repository"
	cfg.CacheLocation = "/var/lib/idlsync/remote-cache"
	cfg.Remotes = []config.RemoteConfig{
		{Repository: "/srv/git/A", Branch: "master"},
		{Repository: "/srv/git/B", Branch: "master"},
	}
	return cfg
}

func publishedReport() *engine.Report {
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &engine.Report{
		Stage: engine.StagePublished,
		Sources: []engine.SourceReport{
			{Name: "A", Repository: "/srv/git/A", Branch: "master", Status: engine.SourceOK, Commit: "1111111111", Files: []string{"A.thrift"}},
			{Name: "B", Repository: "/srv/git/B", Branch: "master", Status: engine.SourceOK, Commit: "2222222222", Files: []string{"B.thrift"}},
		},
		Commit:   "abcdef0123",
		Sequence: 2,
		Changed:  true,
		Pushed:   true,
		Started:  started,
		Finished: started.Add(1500 * time.Millisecond),
	}
}

// runCLI executes args against an App wired with cfg and svc.
func runCLI(t *testing.T, provider ConfigProvider, svc SyncService, args ...string) (code types.ExitCode, stdout, stderr string) {
	t.Helper()

	var out, errOut bytes.Buffer
	deps := Dependencies{
		Config:     provider,
		Stdout:     &out,
		Stderr:     &errOut,
		WorkDir:    t.TempDir(),
		IssueStyle: "notty",
	}
	if svc != nil {
		deps.Engines = func(*config.Config, *log.Logger) (SyncService, error) { return svc, nil }
	}
	code = Run(context.Background(), args, deps)
	return code, out.String(), errOut.String()
}

func TestNewAppDefaults(t *testing.T) {
	t.Parallel()

	app, err := NewApp(Dependencies{})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if app.Config == nil || app.Engines == nil {
		t.Fatal("NewApp left Config or Engines nil")
	}
	if app.stdout == nil || app.stderr == nil || app.clock == nil || app.logger == nil {
		t.Error("NewApp left an output, clock or logger nil")
	}
	if app.issueStyle != defaultIssueStyle {
		t.Errorf("issueStyle = %q, want %q", app.issueStyle, defaultIssueStyle)
	}
}

func TestLoadOptionsCarryFlagsAndWorkDir(t *testing.T) {
	t.Parallel()

	app, err := NewApp(Dependencies{WorkDir: "/work"})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	app.opts.configFile = "custom.cue"

	opts := app.loadOptions()
	if opts.ConfigFilePath != "custom.cue" || opts.WorkDir != "/work" {
		t.Errorf("loadOptions() = %+v", opts)
	}
}
