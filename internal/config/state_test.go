package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
project = "Fantasy Crescendo"
launcher_endpoint = "https://patch.example.net/{project}/launcher/{platform}/{executable}"
index_endpoint = "https://patch.example.net/{project}/{branch}/{platform}/index.json"
news_rss_feed = "https://example.net/news.rss"

[game_binary]
Windows = "fc.exe"
Linux = "fc.x86_64"

[launch_flags]
Windows = ["-bill", "-gates"]
Linux = ["-linus", "-torvalds"]

[[branches]]
id = "develop"
name = "Development"

[[branches]]
id = "master"
name = "Stable"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFile)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Project != "Fantasy Crescendo" {
		t.Fatalf("unexpected project %q", cfg.Project)
	}
	if len(cfg.Branches) != 2 || cfg.Branches[0].ID != "develop" || cfg.Branches[1].Name != "Stable" {
		t.Fatalf("branches not loaded in declaration order: %+v", cfg.Branches)
	}

	bin, flags, ok := cfg.LaunchFor("Linux")
	if !ok || bin != "fc.x86_64" || strings.Join(flags, " ") != "-linus -torvalds" {
		t.Fatalf("unexpected launch config: %q %v %v", bin, flags, ok)
	}
	if _, _, ok := cfg.LaunchFor("Darwin"); ok {
		t.Fatalf("expected no Darwin binary")
	}
}

func TestLoadConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing project", `index_endpoint = "x"
[[branches]]
id = "a"
name = "A"`, "project is required"},
		{"missing endpoint", `project = "p"
[[branches]]
id = "a"
name = "A"`, "index_endpoint is required"},
		{"no branches", `project = "p"
index_endpoint = "x"`, "at least one"},
		{"duplicate id", `project = "p"
index_endpoint = "x"
[[branches]]
id = "a"
name = "A"
[[branches]]
id = "a"
name = "B"`, `duplicate id "a"`},
		{"path in name", `project = "p"
index_endpoint = "x"
[[branches]]
id = "a"
name = "../up"`, "not a valid directory name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestFindBranch(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if b, ok := cfg.FindBranch("master"); !ok || b.Name != "Stable" {
		t.Fatalf("lookup by id failed: %+v %v", b, ok)
	}
	if b, ok := cfg.FindBranch("Development"); !ok || b.ID != "develop" {
		t.Fatalf("lookup by name failed: %+v %v", b, ok)
	}
	if _, ok := cfg.FindBranch("nope"); ok {
		t.Fatalf("unexpected match")
	}
}

func TestLoadMissingStateIsEmpty(t *testing.T) {
	t.Parallel()

	s, err := LoadState(t.TempDir())
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if s.Branches == nil || len(s.Branches) != 0 {
		t.Fatalf("expected empty initialized state, got %+v", s)
	}
}

func TestSaveAndLoadState(t *testing.T) {
	t.Parallel()

	tmp := filepath.Join(t.TempDir(), "base")
	fetched := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := &State{Branches: map[string]BranchState{
		"develop": {LastFetched: fetched, FileCount: 3, Failed: []string{"a.bin"}},
	}}

	if err := s.Save(tmp); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmp, StateFile+".tmp")); !os.IsNotExist(err) {
		t.Fatalf("temporary state file left behind")
	}

	loaded, err := LoadState(tmp)
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	got := loaded.Branches["develop"]
	if !got.LastFetched.Equal(fetched) || got.FileCount != 3 || len(got.Failed) != 1 {
		t.Fatalf("unexpected loaded state: %+v", got)
	}
}

func TestLoadCorruptState(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmp, StateFile), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadState(tmp); err == nil || !strings.Contains(err.Error(), "parsing state") {
		t.Fatalf("expected parse error, got %v", err)
	}
}
