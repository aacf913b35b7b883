package updater

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/caedis/launcher-updater/internal/branch"
	"github.com/caedis/launcher-updater/internal/config"
	"github.com/caedis/launcher-updater/internal/downloader"
	"github.com/caedis/launcher-updater/internal/manifest"
	"github.com/caedis/launcher-updater/internal/pathfmt"
	"github.com/caedis/launcher-updater/internal/selfupdate"
)

type launcherUpdater interface {
	Check(ctx context.Context) (*selfupdate.Check, error)
	Apply(ctx context.Context, c *selfupdate.Check, batch *downloader.Batch) error
}

// Engine drives the update cycle:
// LAUNCHER_UPDATE_CHECK -> GAME_STATUS_CHECK -> GAME_UPDATE_CHECK -> READY.
type Engine struct {
	opts     Options
	log      *zap.Logger
	vars     pathfmt.Vars
	branches []*branch.Branch

	newLauncherUpdater func(url string) launcherUpdater
	restart            func(execPath string) error

	mu       sync.Mutex
	state    State
	batches  []*downloader.Batch
	results  map[string]BranchResult
	launcher LauncherResult
}

// New creates an engine in LAUNCHER_UPDATE_CHECK with one branch per
// configured entry, in declaration order.
func New(opts Options) *Engine {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.ManifestClient == nil {
		opts.ManifestClient = manifest.NewClient()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = downloader.DefaultConcurrency()
	}

	e := &Engine{
		opts:    opts,
		log:     opts.Log,
		vars:    pathfmt.Global().With("project", pathfmt.SanitizeURL(opts.Config.Project)),
		state:   LauncherUpdateCheck,
		results: make(map[string]BranchResult),
		restart: func(execPath string) error {
			return selfupdate.Restart(execPath, opts.BeforeRestart)
		},
	}
	e.newLauncherUpdater = func(url string) launcherUpdater {
		return selfupdate.New(url,
			selfupdate.WithClient(opts.ManifestClient),
			selfupdate.WithLogger(opts.Log.Named("selfupdate")))
	}
	for _, bc := range opts.Config.Branches {
		e.branches = append(e.branches, branch.New(bc, opts.BaseDir))
	}
	return e
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()
	if prev != s {
		e.log.Debug("state transition", zap.Stringer("from", prev), zap.Stringer("state", s))
	}
}

// Progress aggregates the download batches of the current cycle. It never
// blocks on transfers and returns the zero value when there is nothing to
// show.
func (e *Engine) Progress() downloader.Progress {
	e.mu.Lock()
	batches := append([]*downloader.Batch(nil), e.batches...)
	e.mu.Unlock()

	var p downloader.Progress
	for _, b := range batches {
		bp := b.Progress()
		p.Total += bp.Total
		p.Transferred += bp.Transferred
	}
	if p.Total <= 0 {
		return downloader.Progress{}
	}
	return p
}

// Branches returns the tracked directories in configuration order.
func (e *Engine) Branches() []*branch.Branch {
	return e.branches
}

// Branch looks a tracked directory up by id, then by name.
func (e *Engine) Branch(key string) (*branch.Branch, bool) {
	bc, ok := e.opts.Config.FindBranch(key)
	if !ok {
		return nil, false
	}
	for _, b := range e.branches {
		if b.ID == bc.ID {
			return b, true
		}
	}
	return nil, false
}

// Results returns the per-branch outcome of the last GAME_UPDATE_CHECK.
func (e *Engine) Results() map[string]BranchResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]BranchResult, len(e.results))
	for k, v := range e.results {
		out[k] = v
	}
	return out
}

// Launcher returns the outcome of the last launcher check.
func (e *Engine) Launcher() LauncherResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.launcher
}

func (e *Engine) newBatch() *downloader.Batch {
	opts := []downloader.Option{
		downloader.WithConcurrency(e.opts.Concurrency),
		downloader.WithIntegrityPolicy(e.opts.Integrity),
		downloader.WithLogger(e.log.Named("download")),
	}
	if e.opts.HTTPClient != nil {
		opts = append(opts, downloader.WithHTTPClient(e.opts.HTTPClient))
	}
	b := downloader.NewBatch(opts...)
	e.mu.Lock()
	e.batches = append(e.batches, b)
	e.mu.Unlock()
	return b
}

// Step performs the action of the current state and advances. Failures inside
// a state are recorded and logged; the returned error is only set when ctx is
// done.
func (e *Engine) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch s := e.State(); s {
	case LauncherUpdateCheck:
		e.setState(GameStatusCheck)
		e.checkLauncher(ctx)
	case GameStatusCheck:
		e.indexBranches(ctx)
		e.setState(GameUpdateCheck)
	case GameUpdateCheck:
		e.updateBranches(ctx)
		e.setState(Ready)
	case Ready:
	default:
		e.log.Warn("unhandled state", zap.Stringer("state", s))
		e.setState(Ready)
	}
	return ctx.Err()
}

// RunUntilReady steps until READY is reached.
func (e *Engine) RunUntilReady(ctx context.Context) error {
	for e.State() != Ready {
		if err := e.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Watch runs a full cycle, then re-runs it from GAME_STATUS_CHECK every
// interval. READY is re-entered between cycles. onReady, if set, is called
// each time READY is reached. Watch returns nil when ctx is cancelled.
func (e *Engine) Watch(ctx context.Context, interval time.Duration, onReady func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := e.RunUntilReady(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if onReady != nil {
			onReady()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.setState(GameStatusCheck)
		}
	}
}

func (e *Engine) checkLauncher(ctx context.Context) {
	skip := func(reason string) {
		e.log.Info("skipping launcher update check", zap.String("reason", reason))
		e.mu.Lock()
		e.launcher = LauncherResult{Skipped: reason}
		e.mu.Unlock()
	}
	switch {
	case e.opts.Version == "" || e.opts.Version == DevVersion:
		skip("not a packaged build")
		return
	case e.opts.Offline:
		skip("offline")
		return
	case e.opts.Config.LauncherEndpoint == "":
		skip("no launcher endpoint configured")
		return
	}

	url := pathfmt.Inject(e.opts.Config.LauncherEndpoint, e.vars)
	u := e.newLauncherUpdater(url)

	result := LauncherResult{}
	defer func() {
		e.mu.Lock()
		e.launcher = result
		e.mu.Unlock()
	}()

	check, err := u.Check(ctx)
	if err != nil {
		e.log.Error("launcher update check failed", zap.Error(err))
		result.Err = err
		return
	}
	if !check.Needed() {
		e.log.Info("launcher is up to date")
		return
	}

	if err := u.Apply(ctx, check, e.newBatch()); err != nil {
		e.log.Error("launcher update failed", zap.Error(err))
		result.Err = err
		return
	}
	result.Replaced = true

	if err := e.restart(check.ExecPath); err != nil {
		e.log.Error("restarting launcher failed", zap.Error(err))
		result.Err = err
	}
}

func (e *Engine) indexBranches(ctx context.Context) {
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for _, b := range e.branches {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := b.Index(); err != nil {
				e.log.Error("indexing branch failed", zap.String("branch", b.ID), zap.Error(err))
				return nil
			}
			e.log.Debug("branch indexed", zap.String("branch", b.ID), zap.Int("files", len(b.Files())))
			return nil
		})
	}
	_ = g.Wait()

	e.log.Info("game status check complete", zap.Duration("took", time.Since(start)))
}

func (e *Engine) updateBranches(ctx context.Context) {
	e.mu.Lock()
	e.batches = nil
	e.mu.Unlock()

	results := make([]BranchResult, len(e.branches))
	var g errgroup.Group
	for i, b := range e.branches {
		batch := e.newBatch()
		g.Go(func() error {
			report, err := b.Update(ctx, branch.UpdateOptions{
				Client:        e.opts.ManifestClient,
				IndexEndpoint: e.opts.Config.IndexEndpoint,
				Vars:          e.vars,
				Batch:         batch,
				PruneExtras:   e.opts.PruneExtras,
				Log:           e.log.Named("branch"),
			})
			if err != nil {
				e.log.Error("branch update failed", zap.String("branch", b.ID), zap.Error(err))
			} else if len(report.Failed) > 0 {
				e.log.Warn("branch updated with failures", zap.String("branch", b.ID), zap.Strings("failed", report.Failed))
			}
			results[i] = BranchResult{Branch: b.ID, Report: report, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	e.mu.Lock()
	e.results = make(map[string]BranchResult, len(results))
	for _, r := range results {
		e.results[r.Branch] = r
	}
	e.mu.Unlock()

	if err := e.saveState(results); err != nil {
		e.log.Warn("saving state failed", zap.Error(err))
	}
}

func (e *Engine) saveState(results []BranchResult) error {
	state, err := config.LoadState(e.opts.BaseDir)
	if err != nil {
		e.log.Warn("discarding unreadable state", zap.Error(err))
		state = &config.State{Branches: make(map[string]config.BranchState)}
	}
	for i, r := range results {
		b := e.branches[i]
		bs := state.Branches[r.Branch]
		bs.Error = ""
		bs.Failed = nil
		if r.Err != nil {
			bs.Error = r.Err.Error()
		} else {
			bs.LastFetched = b.LastFetched()
			if m := b.Manifest(); m != nil {
				bs.FileCount = len(m.Files)
			}
			bs.Failed = r.Report.Failed
		}
		state.Branches[r.Branch] = bs
	}
	return state.Save(e.opts.BaseDir)
}
