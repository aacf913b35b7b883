// Package inventory builds content-hash inventories of tracked directories.
package inventory

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ChunkSize is the block size used when streaming files through the hash.
const ChunkSize = 1 << 20

// Inventory maps a forward-slash path relative to the tracked directory root
// to the lowercase hex SHA-256 of the file's contents.
type Inventory map[string]string

// File is one regular file found under a tracked directory.
type File struct {
	Path string // absolute or root-joined path on disk
	Rel  string // forward-slash path relative to the root
}

// HashReader streams r through SHA-256 in blockSize reads.
func HashReader(r io.Reader, blockSize int) (string, error) {
	if blockSize <= 0 {
		return "", fmt.Errorf("hash block size must be positive, got %d", blockSize)
	}
	h := sha256.New()
	buf := make([]byte, blockSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum, err := HashReader(f, ChunkSize)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return sum, nil
}

// List walks root recursively and returns every regular file beneath it.
// Symlinks to regular files are listed under the link's path; links to
// directories are not descended and dangling links are skipped. A missing
// root yields an empty list.
func List(root string) ([]File, error) {
	var files []File
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		switch {
		case d.Type().IsRegular():
		case d.Type()&fs.ModeSymlink != 0:
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				return nil
			}
		default:
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, File{Path: path, Rel: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Index hashes every regular file under root. A root that does not exist is
// not an error: the result is an empty inventory.
func Index(root string) (Inventory, error) {
	files, err := List(root)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}

	inv := make(Inventory, len(files))
	for _, f := range files {
		sum, err := HashFile(f.Path)
		if err != nil {
			return nil, err
		}
		inv[f.Rel] = sum
	}
	return inv, nil
}
