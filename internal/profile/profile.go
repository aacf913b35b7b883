// Package profile stores named sets of launcher options, such as the install
// directory, download concurrency and watch interval, so a scheduled or
// desktop-shortcut invocation can use --profile instead of repeating flags.
package profile

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const ext = ".toml"

// ErrNotFound is returned by Load and Delete for a profile that was never
// saved.
var ErrNotFound = errors.New("profile not found")

// Profile is the subset of launcher flags a profile may pin. A nil field
// leaves the flag at its command-line value or default.
type Profile struct {
	Config      *string `toml:"config,omitempty"`
	BaseDir     *string `toml:"base-dir,omitempty"`
	Concurrency *int    `toml:"concurrency,omitempty"`
	StrictHash  *bool   `toml:"strict-hash,omitempty"`
	Prune       *bool   `toml:"prune,omitempty"`
	Verbose     *bool   `toml:"verbose,omitempty"`
	LogFile     *string `toml:"log-file,omitempty"`
	// Interval is the watch period in time.ParseDuration form.
	Interval *string `toml:"interval,omitempty"`
}

// WatchInterval parses Interval. ok is false when the profile does not set
// one.
func (p *Profile) WatchInterval() (d time.Duration, ok bool, err error) {
	if p.Interval == nil {
		return 0, false, nil
	}
	d, err = time.ParseDuration(*p.Interval)
	if err != nil {
		return 0, true, fmt.Errorf("invalid interval %q: %w", *p.Interval, err)
	}
	if d <= 0 {
		return 0, true, fmt.Errorf("interval must be positive, got %s", d)
	}
	return d, true, nil
}

// Dir is $XDG_CONFIG_HOME/launcher-updater/profiles, falling back to
// ~/.config when XDG_CONFIG_HOME is unset.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "launcher-updater", "profiles")
}

func path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid profile name %q", name)
	}
	return filepath.Join(Dir(), name+ext), nil
}

// Load reads the named profile.
func Load(name string) (*Profile, error) {
	p, err := path(name)
	if err != nil {
		return nil, err
	}
	var prof Profile
	if _, err := toml.DecodeFile(p, &prof); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return nil, fmt.Errorf("loading profile %q: %w", name, err)
	}
	return &prof, nil
}

// Save validates prof and writes it under name, replacing any previous
// profile of that name in one rename.
func Save(name string, prof *Profile) error {
	p, err := path(name)
	if err != nil {
		return err
	}
	if _, _, err := prof.WatchInterval(); err != nil {
		return fmt.Errorf("profile %q: %w", name, err)
	}
	if prof.Concurrency != nil && *prof.Concurrency < 1 {
		return fmt.Errorf("profile %q: concurrency must be at least 1, got %d", name, *prof.Concurrency)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(prof); err != nil {
		return fmt.Errorf("encoding profile %q: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating profiles directory: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing profile %q: %w", name, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing profile %q: %w", name, err)
	}
	return nil
}

// List returns saved profile names in sorted order. A missing profiles
// directory means none are saved.
func List() ([]string, error) {
	entries, err := os.ReadDir(Dir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ext) {
			names = append(names, strings.TrimSuffix(e.Name(), ext))
		}
	}
	slices.Sort(names)
	return names, nil
}

// Delete removes the named profile.
func Delete(name string) error {
	p, err := path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return fmt.Errorf("deleting profile %q: %w", name, err)
	}
	return nil
}
