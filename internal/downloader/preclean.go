package downloader

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/zeebo/errs"
)

// ConflictError wraps failures to clear or create filesystem nodes ahead of a
// batch.
var ConflictError = errs.Class("filesystem conflict")

// Preclean prepares the tree for writing every path in paths. A directory
// sitting where a file will be written is removed recursively, and each
// missing parent directory is created, removing a regular file that occupies
// its name. It must finish before any transfer in the batch starts.
func Preclean(paths []string) error {
	parents := make(map[string]struct{})
	for _, p := range paths {
		if info, err := os.Lstat(p); err == nil && info.IsDir() {
			if err := os.RemoveAll(p); err != nil {
				return ConflictError.Wrap(fmt.Errorf("removing directory at %s: %w", p, err))
			}
		}
		parents[filepath.Dir(p)] = struct{}{}
	}

	for _, dir := range slices.Sorted(maps.Keys(parents)) {
		if err := ensureDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// PrecleanBatch runs Preclean over the destinations of every task in b.
func PrecleanBatch(b *Batch) error {
	tasks := b.Tasks()
	paths := make([]string, len(tasks))
	for i, t := range tasks {
		paths[i] = t.Path
	}
	return Preclean(paths)
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err == nil {
		return nil
	}

	// The lowest existing ancestor is the only one that can be a file.
	cur := dir
	for {
		info, err := os.Lstat(cur)
		if err == nil {
			if info.IsDir() {
				break
			}
			if err := os.Remove(cur); err != nil {
				return ConflictError.Wrap(fmt.Errorf("removing file at %s: %w", cur, err))
			}
			break
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ConflictError.Wrap(fmt.Errorf("creating %s: %w", dir, err))
	}
	return nil
}
