package repo

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/odvcencio/gotsync/pkg/object"
)

// TreeFileEntry represents a single file in a flattened tree.
type TreeFileEntry struct {
	Path     string
	BlobHash object.Hash
	Mode     string
}

// BuildTree converts the flat index entries into a hierarchical tree
// structure, writing TreeObj objects to the store and returning the root hash.
//
// Index entries use forward-slash paths (e.g. "pkg/util/util.go").
// BuildTree groups them by directory, recursively creates subtrees, and
// returns the root tree hash.
func (r *Repo) BuildTree(idx *Index) (object.Hash, error) {
	return r.buildTreeDir(idx.Entries, "")
}

func (r *Repo) buildTreeDir(entries map[string]*IndexEntry, prefix string) (object.Hash, error) {
	files := make(map[string]*IndexEntry)
	subdirs := make(map[string]struct{})

	for p, entry := range entries {
		rel := p
		if prefix != "" {
			if !strings.HasPrefix(p, prefix+"/") {
				continue
			}
			rel = p[len(prefix)+1:]
		}

		if slash := strings.IndexByte(rel, '/'); slash < 0 {
			files[rel] = entry
		} else {
			subdirs[rel[:slash]] = struct{}{}
		}
	}

	names := make([]string, 0, len(files)+len(subdirs))
	for name := range files {
		names = append(names, name)
	}
	for name := range subdirs {
		if _, isFile := files[name]; isFile {
			return "", fmt.Errorf("build tree: %q is both a file and a directory", path.Join(prefix, name))
		}
		names = append(names, name)
	}
	sort.Strings(names)

	treeEntries := make([]object.TreeEntry, 0, len(names))
	for _, name := range names {
		if entry, isFile := files[name]; isFile {
			treeEntries = append(treeEntries, object.TreeEntry{
				Name: name,
				Mode: normalizeFileMode(entry.Mode),
				Hash: entry.BlobHash,
			})
			continue
		}
		childPrefix := name
		if prefix != "" {
			childPrefix = prefix + "/" + name
		}
		subHash, err := r.buildTreeDir(entries, childPrefix)
		if err != nil {
			return "", err
		}
		treeEntries = append(treeEntries, object.TreeEntry{
			Name:  name,
			Mode:  object.TreeModeDir,
			Hash:  subHash,
			IsDir: true,
		})
	}

	h, err := r.Store.WriteTree(&object.TreeObj{Entries: treeEntries})
	if err != nil {
		return "", fmt.Errorf("write tree (prefix=%q): %w", prefix, err)
	}
	return h, nil
}

// FlattenTree walks a tree object recursively, returning all file entries
// with their full paths (using forward slashes).
func (r *Repo) FlattenTree(h object.Hash) ([]TreeFileEntry, error) {
	return r.flattenTreeRec(h, "")
}

func (r *Repo) flattenTreeRec(h object.Hash, prefix string) ([]TreeFileEntry, error) {
	treeObj, err := r.Store.ReadTree(h)
	if err != nil {
		return nil, fmt.Errorf("flatten tree: read %s: %w", h, err)
	}

	var result []TreeFileEntry
	for _, entry := range treeObj.Entries {
		fullPath := entry.Name
		if prefix != "" {
			fullPath = path.Join(prefix, entry.Name)
		}

		if entry.IsDir {
			sub, err := r.flattenTreeRec(entry.Hash, fullPath)
			if err != nil {
				return nil, err
			}
			result = append(result, sub...)
			continue
		}
		result = append(result, TreeFileEntry{
			Path:     fullPath,
			BlobHash: entry.Hash,
			Mode:     normalizeFileMode(entry.Mode),
		})
	}
	return result, nil
}

// commitFiles flattens the tree of a commit into a path map. The zero hash
// yields an empty map.
func (r *Repo) commitFiles(commit object.Hash) (map[string]TreeFileEntry, error) {
	if commit.IsZero() {
		return map[string]TreeFileEntry{}, nil
	}
	c, err := r.LookupCommit(commit)
	if err != nil {
		return nil, err
	}
	files, err := r.FlattenTree(c.TreeHash)
	if err != nil {
		return nil, err
	}
	return indexByPath(files), nil
}

// indexByPath creates a map from file path to TreeFileEntry.
func indexByPath(entries []TreeFileEntry) map[string]TreeFileEntry {
	m := make(map[string]TreeFileEntry, len(entries))
	for _, e := range entries {
		m[e.Path] = e
	}
	return m
}
