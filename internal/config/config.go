package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultFile is the client configuration file name looked up in the base
// directory when no path is given.
const DefaultFile = "launcher.toml"

// Config is the read-only client configuration.
type Config struct {
	Project          string              `toml:"project"`
	LauncherEndpoint string              `toml:"launcher_endpoint"`
	IndexEndpoint    string              `toml:"index_endpoint"`
	NewsRSSFeed      string              `toml:"news_rss_feed"`
	GameBinary       map[string]string   `toml:"game_binary"`
	LaunchFlags      map[string][]string `toml:"launch_flags"`
	Branches         []BranchConfig      `toml:"branches"`
}

// BranchConfig declares one tracked directory. ID is the source branch used
// in endpoint templates; Name is the label and the directory name under the
// base directory.
type BranchConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

// Load reads and validates a TOML configuration file.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks required keys and branch uniqueness.
func (c *Config) Validate() error {
	var problems []error
	if strings.TrimSpace(c.Project) == "" {
		problems = append(problems, errors.New("project is required"))
	}
	if strings.TrimSpace(c.IndexEndpoint) == "" {
		problems = append(problems, errors.New("index_endpoint is required"))
	}
	if len(c.Branches) == 0 {
		problems = append(problems, errors.New("at least one [[branches]] entry is required"))
	}

	ids := make(map[string]bool)
	names := make(map[string]bool)
	for i, b := range c.Branches {
		switch {
		case b.ID == "":
			problems = append(problems, fmt.Errorf("branch %d: id is required", i))
		case ids[b.ID]:
			problems = append(problems, fmt.Errorf("branch %d: duplicate id %q", i, b.ID))
		}
		switch {
		case b.Name == "":
			problems = append(problems, fmt.Errorf("branch %d: name is required", i))
		case names[b.Name]:
			problems = append(problems, fmt.Errorf("branch %d: duplicate name %q", i, b.Name))
		case strings.ContainsAny(b.Name, `/\`) || b.Name == "." || b.Name == "..":
			problems = append(problems, fmt.Errorf("branch %d: name %q is not a valid directory name", i, b.Name))
		}
		ids[b.ID] = true
		names[b.Name] = true
	}
	return errors.Join(problems...)
}

// FindBranch looks a branch up by id, then by name.
func (c *Config) FindBranch(key string) (BranchConfig, bool) {
	for _, b := range c.Branches {
		if b.ID == key {
			return b, true
		}
	}
	for _, b := range c.Branches {
		if b.Name == key {
			return b, true
		}
	}
	return BranchConfig{}, false
}

// LaunchFor returns the game binary and flags configured for platform.
func (c *Config) LaunchFor(platform string) (binary string, flags []string, ok bool) {
	binary, ok = c.GameBinary[platform]
	if !ok || binary == "" {
		return "", nil, false
	}
	return binary, c.LaunchFlags[platform], true
}
