package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/odvcencio/gotsync/pkg/object"
)

// IndexEntry records the staged state of a single file. Conflicted entries
// carry the three blobs of the unresolved merge; BlobHash then holds the
// working-tree content with conflict markers.
type IndexEntry struct {
	Path           string      `json:"path"`
	BlobHash       object.Hash `json:"blob_hash"`
	Mode           string      `json:"mode,omitempty"`
	ModTime        int64       `json:"mod_time"`
	Size           int64       `json:"size"`
	Conflict       bool        `json:"conflict,omitempty"`
	BaseBlobHash   object.Hash `json:"base_blob_hash,omitempty"`
	OursBlobHash   object.Hash `json:"ours_blob_hash,omitempty"`
	TheirsBlobHash object.Hash `json:"theirs_blob_hash,omitempty"`
}

// Index is the staging area, persisted as JSON in .got/index.
type Index struct {
	Entries map[string]*IndexEntry `json:"entries"`
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{Entries: make(map[string]*IndexEntry)}
}

// HasConflicts reports whether any entry is conflicted.
func (idx *Index) HasConflicts() bool {
	for _, e := range idx.Entries {
		if e.Conflict {
			return true
		}
	}
	return false
}

// ConflictedPaths returns the conflicted paths, sorted.
func (idx *Index) ConflictedPaths() []string {
	var paths []string
	for p, e := range idx.Entries {
		if e.Conflict {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

func (r *Repo) indexPath() string {
	return filepath.Join(r.GotDir, "index")
}

// ReadIndex loads the index from .got/index. If the file does not exist,
// an empty Index is returned.
func (r *Repo) ReadIndex() (*Index, error) {
	data, err := os.ReadFile(r.indexPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewIndex(), nil
		}
		return nil, fmt.Errorf("read index: %w", err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("read index: unmarshal: %w", err)
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]*IndexEntry)
	}
	return &idx, nil
}

// WriteIndex atomically writes the index to .got/index.
func (r *Repo) WriteIndex(idx *Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("write index: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(r.GotDir, ".index-tmp-*")
	if err != nil {
		return fmt.Errorf("write index: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write index: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write index: close: %w", err)
	}
	if err := os.Rename(tmpName, r.indexPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write index: rename: %w", err)
	}
	return nil
}

// WriteTree snapshots the index as a tree. A conflicted index cannot be
// written.
func (r *Repo) WriteTree(idx *Index) (object.Hash, error) {
	if idx.HasConflicts() {
		return "", fmt.Errorf("write tree: %w: unresolved paths %s", ErrConflict, strings.Join(idx.ConflictedPaths(), ", "))
	}
	return r.BuildTree(idx)
}

// Add stages the given file paths. Each path is resolved relative to the
// repo root. Staging a conflicted path marks it resolved; staging a tracked
// path that no longer exists removes it from the index.
func (r *Repo) Add(paths []string) error {
	return r.withWriteLock("add", func() error {
		idx, err := r.ReadIndex()
		if err != nil {
			return fmt.Errorf("add: %w", err)
		}

		for _, p := range paths {
			relPath, err := r.repoRelPath(p)
			if err != nil {
				return fmt.Errorf("add: resolve path %q: %w", p, err)
			}
			if relPath == ".got" || strings.HasPrefix(relPath, ".got/") {
				return fmt.Errorf("add: refusing to stage %q", relPath)
			}

			entry, err := r.stageFile(relPath, "")
			if errors.Is(err, os.ErrNotExist) {
				if _, tracked := idx.Entries[relPath]; tracked {
					delete(idx.Entries, relPath)
					continue
				}
			}
			if err != nil {
				return fmt.Errorf("add: %w", err)
			}
			idx.Entries[relPath] = entry
		}

		if err := r.WriteIndex(idx); err != nil {
			return fmt.Errorf("add: %w", err)
		}
		return nil
	})
}

// stageFile writes the working-tree file at relPath as a blob and returns
// its index entry. An empty mode is taken from the file's permissions.
func (r *Repo) stageFile(relPath, mode string) (*IndexEntry, error) {
	absPath := filepath.Join(r.RootDir, filepath.FromSlash(relPath))
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%q is a directory", relPath)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", relPath, err)
	}
	blobHash, err := r.Store.WriteBlob(&object.Blob{Data: content})
	if err != nil {
		return nil, fmt.Errorf("write blob %q: %w", relPath, err)
	}
	if mode == "" {
		mode = modeFromFileInfo(info)
	}
	return &IndexEntry{
		Path:     relPath,
		BlobHash: blobHash,
		Mode:     normalizeFileMode(mode),
		ModTime:  info.ModTime().UnixNano(),
		Size:     info.Size(),
	}, nil
}

// repoRelPath converts a path (absolute, or relative to CWD) into a path
// relative to the repository root. If the path is already relative and does
// not start with the repo root, it is assumed to already be repo-relative.
func (r *Repo) repoRelPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(r.RootDir, p)
		if err != nil {
			return "", fmt.Errorf("cannot make %q relative to %q: %w", p, r.RootDir, err)
		}
		if strings.HasPrefix(rel, "..") {
			return "", fmt.Errorf("%q is outside repository %q", p, r.RootDir)
		}
		return filepath.ToSlash(rel), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return filepath.ToSlash(filepath.Clean(p)), nil
	}

	rel, err := filepath.Rel(r.RootDir, filepath.Join(cwd, p))
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(filepath.Clean(p)), nil
	}
	return filepath.ToSlash(rel), nil
}
