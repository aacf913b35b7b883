// Package selfupdate replaces the running launcher executable when the
// published build differs from it.
//
// The replacement runs verify, rotate, promote, exec, exit in that order. The
// canonical path holds a complete executable at every point except between the
// two renames, and a failure never deletes the rotated-out ".old" binary.
package selfupdate

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/caedis/launcher-updater/internal/downloader"
	"github.com/caedis/launcher-updater/internal/inventory"
	"github.com/caedis/launcher-updater/internal/manifest"
)

// RestartEnv is set to "1" in the environment of a freshly promoted launcher.
const RestartEnv = "LAUNCHER_UPDATED"

// Error wraps every failure of the self-update protocol.
var Error = errs.Class("self-update")

var (
	osExecutable = os.Executable
	evalSymlinks = filepath.EvalSymlinks
	chmod        = os.Chmod
	exit         = os.Exit

	startProcess = func(path string, args, env []string) error {
		cmd := exec.Command(path, args...)
		cmd.Env = env
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Start()
	}
)

// Check is the comparison between the running executable and the published
// build.
type Check struct {
	ExecPath   string
	URL        string
	LocalHash  string
	RemoteHash string
}

// Needed reports whether the published build differs from the running one.
func (c *Check) Needed() bool {
	return c.RemoteHash != "" && !strings.EqualFold(c.LocalHash, c.RemoteHash)
}

// Updater checks and applies launcher updates from one resolved endpoint.
type Updater struct {
	url    string
	client *manifest.Client
	log    *zap.Logger
}

// Option configures an Updater.
type Option func(*Updater)

// WithClient sets the client used to fetch the ".hash" file.
func WithClient(c *manifest.Client) Option {
	return func(u *Updater) { u.client = c }
}

// WithLogger sets the updater logger.
func WithLogger(l *zap.Logger) Option {
	return func(u *Updater) { u.log = l }
}

// New creates an Updater for the launcher published at url. The hash file is
// expected at url + ".hash".
func New(url string, opts ...Option) *Updater {
	u := &Updater{url: url, client: manifest.NewClient(), log: zap.NewNop()}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Check hashes the running executable and fetches the published hash.
func (u *Updater) Check(ctx context.Context) (*Check, error) {
	execPath, err := resolveExecPath()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	local, err := inventory.HashFile(execPath)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("hashing %s: %w", execPath, err))
	}
	u.log.Info("launcher hash", zap.String("path", execPath), zap.String("hash", local))

	remote, err := u.client.FetchHash(ctx, u.url+".hash")
	if err != nil {
		return nil, err
	}
	u.log.Info("remote launcher hash", zap.String("url", u.url+".hash"), zap.String("hash", remote))

	return &Check{ExecPath: execPath, URL: u.url, LocalHash: local, RemoteHash: remote}, nil
}

// Apply downloads the published build into batch as a single task, verifies
// it, and swaps it into place. batch belongs to the caller so progress can be
// observed. On success the canonical path holds the new build; call Restart
// to hand over to it.
func (u *Updater) Apply(ctx context.Context, c *Check, batch *downloader.Batch) error {
	newPath := c.ExecPath + ".new"
	u.log.Info("downloading new launcher", zap.String("url", c.URL), zap.String("path", newPath))

	batch.Add(newPath, c.URL, 0, c.RemoteHash)
	r := batch.Run(ctx)[0]
	if r.Err != nil {
		os.Remove(newPath)
		return Error.Wrap(r.Err)
	}
	if r.Warning != nil {
		os.Remove(newPath)
		return Error.Wrap(r.Warning)
	}

	// The batch verified the download; check the file on disk once more
	// before anything touches the live executable.
	actual, err := inventory.HashFile(newPath)
	if err != nil || !strings.EqualFold(actual, c.RemoteHash) {
		os.Remove(newPath)
		if err == nil {
			err = &downloader.HashMismatchError{Path: newPath, Expected: c.RemoteHash, Actual: actual}
		}
		return Error.Wrap(err)
	}

	return Replace(c.ExecPath, u.log)
}

// Replace rotates execPath to execPath+".old" and promotes execPath+".new" in
// its place, then restores the executable bits.
func Replace(execPath string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	newPath := execPath + ".new"
	oldPath := execPath + ".old"

	if _, err := os.Stat(newPath); err != nil {
		return Error.Wrap(fmt.Errorf("new launcher: %w", err))
	}

	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		return Error.Wrap(fmt.Errorf("removing %s: %w", oldPath, err))
	}

	log.Info("rotating old launcher", zap.String("path", oldPath))
	if err := os.Rename(execPath, oldPath); err != nil {
		return Error.Wrap(fmt.Errorf("rotating %s: %w", execPath, err))
	}

	if err := os.Rename(newPath, execPath); err != nil {
		// Put the old binary back; if that fails too, it stays at oldPath
		// for manual recovery.
		if rerr := os.Rename(oldPath, execPath); rerr != nil {
			log.Error("restoring old launcher failed", zap.String("path", oldPath), zap.Error(rerr))
			return Error.Wrap(errs.Combine(fmt.Errorf("promoting %s: %w", newPath, err), rerr))
		}
		return Error.Wrap(fmt.Errorf("promoting %s: %w", newPath, err))
	}

	if err := chmod(execPath, 0o750); err != nil {
		return Error.Wrap(fmt.Errorf("marking %s executable: %w", execPath, err))
	}
	log.Info("launcher replaced", zap.String("path", execPath))
	return nil
}

// Restart starts execPath with the current arguments and RestartEnv set,
// then exits the current process. beforeExit runs once the new process has
// started; use it to flush logs and release the terminal.
func Restart(execPath string, beforeExit ...func()) error {
	env := append(os.Environ(), RestartEnv+"=1")
	if err := startProcess(execPath, os.Args[1:], env); err != nil {
		return Error.Wrap(fmt.Errorf("starting %s: %w", execPath, err))
	}
	for _, fn := range beforeExit {
		if fn != nil {
			fn()
		}
	}
	exit(0)
	return nil
}

// JustUpdated reports whether this process was started by Restart.
func JustUpdated() bool {
	return os.Getenv(RestartEnv) == "1"
}

func resolveExecPath() (string, error) {
	p, err := osExecutable()
	if err != nil {
		return "", fmt.Errorf("determining executable path: %w", err)
	}
	resolved, err := evalSymlinks(p)
	if err != nil {
		return "", fmt.Errorf("resolving symlinks for %s: %w", p, err)
	}
	return resolved, nil
}
