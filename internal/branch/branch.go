// Package branch manages one tracked directory: its local inventory, its most
// recently fetched manifest, and the update that reconciles the two.
package branch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caedis/launcher-updater/internal/config"
	"github.com/caedis/launcher-updater/internal/diff"
	"github.com/caedis/launcher-updater/internal/downloader"
	"github.com/caedis/launcher-updater/internal/inventory"
	"github.com/caedis/launcher-updater/internal/manifest"
	"github.com/caedis/launcher-updater/internal/pathfmt"
)

// ErrNoBinary is returned by LaunchCommand when no game binary is configured
// for the platform or the file is missing.
var ErrNoBinary = errors.New("game binary not available")

// Branch is one tracked directory.
type Branch struct {
	ID   string
	Name string
	Dir  string

	mu          sync.Mutex
	indexed     bool
	files       inventory.Inventory
	manifest    *manifest.Manifest
	lastFetched time.Time
}

// New creates the branch rooted at baseDir/<name>.
func New(cfg config.BranchConfig, baseDir string) *Branch {
	return &Branch{
		ID:    cfg.ID,
		Name:  cfg.Name,
		Dir:   filepath.Join(baseDir, cfg.Name),
		files: inventory.Inventory{},
	}
}

// Index rebuilds the local inventory. A missing directory indexes as empty.
func (b *Branch) Index() error {
	files, err := inventory.Index(b.Dir)
	if err != nil {
		return fmt.Errorf("indexing %s: %w", b.Name, err)
	}
	b.mu.Lock()
	b.files = files
	b.indexed = true
	b.mu.Unlock()
	return nil
}

func (b *Branch) Indexed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indexed
}

// Files returns the inventory from the last Index.
func (b *Branch) Files() inventory.Inventory {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.files
}

// Manifest returns the last successfully fetched manifest, or nil.
func (b *Branch) Manifest() *manifest.Manifest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.manifest
}

// LastFetched is the time of the last successful manifest fetch.
func (b *Branch) LastFetched() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFetched
}

// Vars returns global with the branch id added as "branch".
func (b *Branch) Vars(global pathfmt.Vars) pathfmt.Vars {
	return global.With("branch", b.ID)
}

// UpdateOptions drive a single branch update.
type UpdateOptions struct {
	Client        *manifest.Client
	IndexEndpoint string
	Vars          pathfmt.Vars
	// Batch receives the download tasks. The caller owns it so it can read
	// progress while Update runs.
	Batch *downloader.Batch
	// PruneExtras deletes local files the manifest no longer lists.
	PruneExtras bool
	Log         *zap.Logger
}

// Report summarizes one branch update.
type Report struct {
	Branch   string
	Diff     diff.Result
	Failed   []string
	Warnings int
	Pruned   []string
}

// Update fetches the manifest, diffs it against the current inventory,
// pre-cleans the tree and runs the download batch. A manifest or pre-clean
// failure aborts the branch before anything is written. Per-file failures
// are listed in the report and do not return an error.
func (b *Branch) Update(ctx context.Context, opts UpdateOptions) (*Report, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("branch", b.ID))

	if !b.Indexed() {
		if err := b.Index(); err != nil {
			return nil, err
		}
	}

	m, err := opts.Client.Fetch(ctx, opts.IndexEndpoint, b.Vars(opts.Vars))
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.manifest = m
	b.lastFetched = time.Now()
	local := b.files
	b.mu.Unlock()

	result := diff.Compute(b.Dir, local, m, b.Vars(opts.Vars))
	added, updated, unchanged, extra := diff.Summary(result)
	log.Info("branch diff",
		zap.Int("added", added), zap.Int("updated", updated),
		zap.Int("unchanged", unchanged), zap.Int("extra", extra),
		zap.Int64("bytes", result.DownloadSize()))
	for _, name := range result.Rejected {
		log.Warn("manifest path outside branch directory ignored", zap.String("path", name))
	}

	report := &Report{Branch: b.ID, Diff: result}

	for _, c := range result.Downloads {
		if u := pathfmt.Unresolved(c.URL); len(u) > 0 {
			log.Warn("unresolved placeholders in download url", zap.String("url", c.URL), zap.Strings("placeholders", u))
		}
		log.Debug("queue download", zap.String("path", c.Path), zap.Stringer("change", c.Type))
		opts.Batch.Add(c.Dest, c.URL, c.Size, c.Hash)
	}

	if len(result.Downloads) > 0 {
		if err := downloader.PrecleanBatch(opts.Batch); err != nil {
			return nil, err
		}
		for _, r := range opts.Batch.Run(ctx) {
			if r.Warning != nil {
				report.Warnings++
			}
			if r.Err != nil {
				rel, _ := filepath.Rel(b.Dir, r.Task.Path)
				report.Failed = append(report.Failed, filepath.ToSlash(rel))
			}
		}
	}

	for _, name := range result.Extras {
		log.Info("extra file", zap.String("path", name))
		if !opts.PruneExtras {
			continue
		}
		if err := os.Remove(filepath.Join(b.Dir, filepath.FromSlash(name))); err != nil && !os.IsNotExist(err) {
			log.Warn("removing extra file", zap.String("path", name), zap.Error(err))
			continue
		}
		report.Pruned = append(report.Pruned, name)
	}

	return report, nil
}

// LaunchCommand locates the game binary for platform inside the branch
// directory, marks it executable and returns the command that starts it with
// the configured flags.
func (b *Branch) LaunchCommand(cfg *config.Config, platform string) (*exec.Cmd, error) {
	binary, flags, ok := cfg.LaunchFor(platform)
	if !ok {
		return nil, fmt.Errorf("%w: no game_binary for %s", ErrNoBinary, platform)
	}
	path := filepath.Join(b.Dir, filepath.FromSlash(binary))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNoBinary, path)
	}
	if err := os.Chmod(path, 0o740); err != nil {
		return nil, fmt.Errorf("marking %s executable: %w", path, err)
	}

	cmd := exec.Command(path, flags...)
	cmd.Dir = b.Dir
	return cmd, nil
}
