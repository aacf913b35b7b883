package diff

import (
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/caedis/launcher-updater/internal/inventory"
	"github.com/caedis/launcher-updater/internal/manifest"
	"github.com/caedis/launcher-updater/internal/pathfmt"
)

type ChangeType int

const (
	// Added files are listed by the manifest but missing locally.
	Added ChangeType = iota
	// Updated files exist locally with a different hash.
	Updated
)

func (t ChangeType) String() string {
	switch t {
	case Added:
		return "added"
	case Updated:
		return "updated"
	}
	return "unknown"
}

// Change is one file that must be downloaded.
type Change struct {
	Path    string // manifest-relative, forward slashes
	Dest    string // destination on disk
	URL     string
	Size    int64
	Hash    string
	OldHash string
	Type    ChangeType
}

// Result is the action set for one tracked directory.
type Result struct {
	Downloads []Change
	// Extras are local paths the manifest no longer lists.
	Extras    []string
	Unchanged int
	// Rejected holds manifest paths that would resolve outside the root.
	Rejected []string
}

// Compute compares the local inventory of root against m. vars is the branch
// template context; base_url, filename and filehash are added per file
// before the manifest's url_format is resolved.
func Compute(root string, local inventory.Inventory, m *manifest.Manifest, vars pathfmt.Vars) Result {
	var r Result
	fileVars := vars.With("base_url", m.BaseURL)

	for _, name := range slices.Sorted(maps.Keys(m.Files)) {
		info := m.Files[name]

		if !filepath.IsLocal(filepath.FromSlash(name)) {
			r.Rejected = append(r.Rejected, name)
			continue
		}

		oldHash, exists := local[name]
		if exists && strings.EqualFold(oldHash, info.SHA256) {
			r.Unchanged++
			continue
		}

		c := Change{
			Path:    name,
			Dest:    filepath.Join(root, filepath.FromSlash(name)),
			Size:    info.Size,
			Hash:    info.SHA256,
			OldHash: oldHash,
			Type:    Added,
		}
		if exists {
			c.Type = Updated
		}
		fileVars["filename"] = name
		fileVars["filehash"] = info.SHA256
		c.URL = pathfmt.Inject(m.URLFormat, fileVars)
		r.Downloads = append(r.Downloads, c)
	}

	for _, name := range slices.Sorted(maps.Keys(local)) {
		if _, listed := m.Files[name]; !listed {
			r.Extras = append(r.Extras, name)
		}
	}

	return r
}

// DownloadSize returns the expected number of bytes to transfer.
func (r Result) DownloadSize() int64 {
	var total int64
	for _, c := range r.Downloads {
		total += c.Size
	}
	return total
}

// Summary returns counts by change type.
func Summary(r Result) (added, updated, unchanged, extra int) {
	for _, c := range r.Downloads {
		switch c.Type {
		case Added:
			added++
		case Updated:
			updated++
		}
	}
	return added, updated, r.Unchanged, len(r.Extras)
}
