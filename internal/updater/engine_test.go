package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caedis/launcher-updater/internal/config"
	"github.com/caedis/launcher-updater/internal/downloader"
	"github.com/caedis/launcher-updater/internal/manifest"
	"github.com/caedis/launcher-updater/internal/selfupdate"
)

func sum(data string) string {
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

// newOrigin serves index.json and file bodies for each branch id in files.
// Branch ids missing from files answer the index request with a 500.
func newOrigin(t *testing.T, files map[string]map[string]string) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 3)
		if len(parts) < 2 {
			http.NotFound(w, r)
			return
		}
		branchFiles, ok := files[parts[0]]
		if !ok {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		if parts[1] == "index.json" {
			m := manifest.Manifest{
				BaseURL:   srv.URL,
				URLFormat: "{base_url}/{branch}/files/{filename}",
				Files:     map[string]manifest.FileInfo{},
			}
			for name, data := range branchFiles {
				m.Files[name] = manifest.FileInfo{SHA256: sum(data), Size: int64(len(data))}
			}
			_ = json.NewEncoder(w).Encode(m)
			return
		}
		if parts[1] == "files" && len(parts) == 3 {
			if data, ok := branchFiles[parts[2]]; ok {
				_, _ = w.Write([]byte(data))
				return
			}
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(srv *httptest.Server, branches ...config.BranchConfig) *config.Config {
	return &config.Config{
		Project:          "Fantasy Crescendo",
		IndexEndpoint:    srv.URL + "/{branch}/index.json",
		LauncherEndpoint: srv.URL + "/launcher/{platform}",
		Branches:         branches,
	}
}

type fakeLauncher struct {
	check    *selfupdate.Check
	checkErr error
	applyErr error
	applied  bool
}

func (f *fakeLauncher) Check(context.Context) (*selfupdate.Check, error) {
	return f.check, f.checkErr
}

func (f *fakeLauncher) Apply(context.Context, *selfupdate.Check, *downloader.Batch) error {
	f.applied = true
	return f.applyErr
}

func TestStepFollowsLinearChain(t *testing.T) {
	t.Parallel()

	srv := newOrigin(t, map[string]map[string]string{"develop": {"a.txt": "a"}})
	e := New(Options{
		Config:  testConfig(srv, config.BranchConfig{ID: "develop", Name: "Development"}),
		BaseDir: t.TempDir(),
		Version: DevVersion,
	})

	want := []State{GameStatusCheck, GameUpdateCheck, Ready, Ready}
	require.Equal(t, LauncherUpdateCheck, e.State())
	for _, s := range want {
		require.NoError(t, e.Step(context.Background()))
		require.Equal(t, s, e.State())
	}
	assert.Equal(t, "not a packaged build", e.Launcher().Skipped)
}

func TestCycleIsolatesBranchFailuresAndPersistsState(t *testing.T) {
	t.Parallel()

	srv := newOrigin(t, map[string]map[string]string{
		"develop": {"a.txt": "0123456789", "data/b.bin": "bbbb"},
	})
	base := t.TempDir()
	e := New(Options{
		Config: testConfig(srv,
			config.BranchConfig{ID: "develop", Name: "Development"},
			config.BranchConfig{ID: "broken", Name: "Broken"}),
		BaseDir:     base,
		Version:     DevVersion,
		Concurrency: 2,
	})

	require.NoError(t, e.RunUntilReady(context.Background()))
	assert.Equal(t, Ready, e.State())

	results := e.Results()
	require.Len(t, results, 2)
	require.NoError(t, results["develop"].Err)
	assert.Len(t, results["develop"].Report.Diff.Downloads, 2)
	require.Error(t, results["broken"].Err)
	assert.True(t, manifest.FetchError.Has(results["broken"].Err))

	got, err := os.ReadFile(filepath.Join(base, "Development", "data", "b.bin"))
	require.NoError(t, err)
	assert.Equal(t, "bbbb", string(got))

	p := e.Progress()
	assert.Equal(t, int64(14), p.Total)
	assert.Equal(t, p.Total, p.Transferred)

	state, err := config.LoadState(base)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Branches["develop"].FileCount)
	assert.False(t, state.Branches["develop"].LastFetched.IsZero())
	assert.NotEmpty(t, state.Branches["broken"].Error)
}

func TestSecondCycleDownloadsNothing(t *testing.T) {
	t.Parallel()

	srv := newOrigin(t, map[string]map[string]string{"develop": {"a.txt": "0123456789"}})
	e := New(Options{
		Config:  testConfig(srv, config.BranchConfig{ID: "develop", Name: "Development"}),
		BaseDir: t.TempDir(),
		Version: DevVersion,
	})
	require.NoError(t, e.RunUntilReady(context.Background()))

	e.setState(GameStatusCheck)
	require.NoError(t, e.RunUntilReady(context.Background()))

	r := e.Results()["develop"]
	require.NoError(t, r.Err)
	assert.Empty(t, r.Report.Diff.Downloads)
	assert.Equal(t, downloader.Progress{}, e.Progress())
}

func TestLauncherCheckSkips(t *testing.T) {
	t.Parallel()

	srv := newOrigin(t, nil)
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"dev build", Options{Version: DevVersion}, "not a packaged build"},
		{"offline", Options{Version: "1.2.3", Offline: true}, "offline"},
		{"no endpoint", Options{Version: "1.2.3"}, "no launcher endpoint configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(srv, config.BranchConfig{ID: "develop", Name: "Development"})
			if tt.name == "no endpoint" {
				cfg.LauncherEndpoint = ""
			}
			tt.opts.Config = cfg
			tt.opts.BaseDir = t.TempDir()
			e := New(tt.opts)
			e.newLauncherUpdater = func(string) launcherUpdater {
				t.Fatalf("launcher updater must not be created")
				return nil
			}
			require.NoError(t, e.Step(context.Background()))
			assert.Equal(t, GameStatusCheck, e.State())
			assert.Equal(t, tt.want, e.Launcher().Skipped)
		})
	}
}

func TestLauncherReplacedTriggersRestart(t *testing.T) {
	t.Parallel()

	srv := newOrigin(t, nil)
	e := New(Options{
		Config:  testConfig(srv, config.BranchConfig{ID: "develop", Name: "Development"}),
		BaseDir: t.TempDir(),
		Version: "1.2.3",
	})

	var gotURL string
	fake := &fakeLauncher{check: &selfupdate.Check{ExecPath: "/opt/launcher", LocalHash: "aa", RemoteHash: "bb"}}
	e.newLauncherUpdater = func(url string) launcherUpdater {
		gotURL = url
		return fake
	}
	var restarted string
	e.restart = func(p string) error { restarted = p; return nil }

	require.NoError(t, e.Step(context.Background()))
	assert.True(t, fake.applied)
	assert.Equal(t, "/opt/launcher", restarted)
	assert.True(t, e.Launcher().Replaced)
	assert.NotContains(t, gotURL, "{platform}")
}

// checkedUpdater reports a fixed Check and applies it with the real updater.
type checkedUpdater struct {
	*selfupdate.Updater
	check *selfupdate.Check
}

func (c checkedUpdater) Check(context.Context) (*selfupdate.Check, error) {
	return c.check, nil
}

func TestLauncherDownloadReportsProgress(t *testing.T) {
	t.Parallel()

	build := strings.Repeat("L", 512<<10)
	release := make(chan struct{})
	launcherSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(build)))
		half := len(build) / 2
		_, _ = w.Write([]byte(build[:half]))
		w.(http.Flusher).Flush()
		<-release
		_, _ = w.Write([]byte(build[half:]))
	}))
	t.Cleanup(launcherSrv.Close)

	exe := filepath.Join(t.TempDir(), "launcher")
	require.NoError(t, os.WriteFile(exe, []byte("old build"), 0o755))

	srv := newOrigin(t, nil)
	e := New(Options{
		Config:  testConfig(srv, config.BranchConfig{ID: "develop", Name: "Development"}),
		BaseDir: t.TempDir(),
		Version: "1.2.3",
	})
	e.newLauncherUpdater = func(string) launcherUpdater {
		url := launcherSrv.URL + "/launcher"
		return checkedUpdater{
			Updater: selfupdate.New(url),
			check:   &selfupdate.Check{ExecPath: exe, URL: url, LocalHash: sum("old build"), RemoteHash: sum(build)},
		}
	}
	e.restart = func(string) error { return nil }

	done := make(chan error, 1)
	go func() { done <- e.Step(context.Background()) }()

	deadline := time.Now().Add(10 * time.Second)
	var mid downloader.Progress
	for time.Now().Before(deadline) {
		mid = e.Progress()
		if mid.Transferred > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(release)

	assert.Equal(t, int64(len(build)), mid.Total)
	assert.Greater(t, mid.Transferred, int64(0))
	assert.Less(t, mid.Transferred, mid.Total)

	require.NoError(t, <-done)
	require.NoError(t, e.Launcher().Err)
	assert.True(t, e.Launcher().Replaced)
	final := e.Progress()
	assert.Equal(t, final.Total, final.Transferred)
}

func TestLauncherFailureContinuesCycle(t *testing.T) {
	t.Parallel()

	srv := newOrigin(t, nil)
	cases := map[string]*fakeLauncher{
		"check fails": {checkErr: manifest.FetchError.New("down")},
		"apply fails": {
			check:    &selfupdate.Check{ExecPath: "/opt/launcher", LocalHash: "aa", RemoteHash: "bb"},
			applyErr: selfupdate.Error.New("hash mismatch"),
		},
		"up to date": {check: &selfupdate.Check{ExecPath: "/opt/launcher", LocalHash: "aa", RemoteHash: "AA"}},
	}
	for name, fake := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			e := New(Options{
				Config:  testConfig(srv, config.BranchConfig{ID: "develop", Name: "Development"}),
				BaseDir: t.TempDir(),
				Version: "1.2.3",
			})
			e.newLauncherUpdater = func(string) launcherUpdater { return fake }
			e.restart = func(string) error {
				t.Fatalf("restart must not run")
				return nil
			}

			require.NoError(t, e.Step(context.Background()))
			assert.Equal(t, GameStatusCheck, e.State())
			assert.False(t, e.Launcher().Replaced)
		})
	}
}

func TestRunUntilReadyHonorsCancellation(t *testing.T) {
	t.Parallel()

	srv := newOrigin(t, nil)
	e := New(Options{
		Config:  testConfig(srv, config.BranchConfig{ID: "develop", Name: "Development"}),
		BaseDir: t.TempDir(),
		Version: DevVersion,
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.RunUntilReady(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, LauncherUpdateCheck, e.State())
}

func TestWatchRerunsCycles(t *testing.T) {
	t.Parallel()

	var indexRequests atomic.Int32
	files := map[string]map[string]string{"develop": {"a.txt": "a"}}
	origin := newOrigin(t, files)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/index.json") {
			indexRequests.Add(1)
		}
		origin.Config.Handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	e := New(Options{
		Config:  testConfig(srv, config.BranchConfig{ID: "develop", Name: "Development"}),
		BaseDir: t.TempDir(),
		Version: DevVersion,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu     sync.Mutex
		cycles int
	)
	done := make(chan error, 1)
	go func() {
		done <- e.Watch(ctx, 10*time.Millisecond, func() {
			mu.Lock()
			cycles++
			if cycles == 3 {
				cancel()
			}
			mu.Unlock()
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.GreaterOrEqual(t, indexRequests.Load(), int32(3))
	assert.Equal(t, Ready, e.State())
}

func TestBranchLookup(t *testing.T) {
	t.Parallel()

	srv := newOrigin(t, nil)
	e := New(Options{
		Config: testConfig(srv,
			config.BranchConfig{ID: "develop", Name: "Development"},
			config.BranchConfig{ID: "master", Name: "Stable"}),
		BaseDir: t.TempDir(),
	})
	require.Len(t, e.Branches(), 2)

	b, ok := e.Branch("Stable")
	require.True(t, ok)
	assert.Equal(t, "master", b.ID)
	_, ok = e.Branch("missing")
	assert.False(t, ok)
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "GAME_UPDATE_CHECK", GameUpdateCheck.String())
	assert.Equal(t, "GAME_UPDATE_ERROR", GameUpdateError.String())
}
