package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/odvcencio/gotsync/pkg/object"
)

// CheckoutStrategy decides what happens to paths whose local modifications
// would be overwritten.
type CheckoutStrategy int

const (
	// CheckoutSafe leaves locally modified paths untouched.
	CheckoutSafe CheckoutStrategy = iota
	// CheckoutForce overwrites locally modified paths.
	CheckoutForce
)

// ConflictPolicy decides whether conflicting paths stop the checkout.
type ConflictPolicy int

const (
	// AbortOnConflict fails the checkout before anything is written.
	AbortOnConflict ConflictPolicy = iota
	// ReportConflicts proceeds and lists the conflicting paths in the result.
	ReportConflicts
)

// CheckoutOptions configures CheckoutTree.
type CheckoutOptions struct {
	Strategy       CheckoutStrategy
	ConflictPolicy ConflictPolicy
}

// CheckoutResult lists what a checkout did. Conflicts holds paths with
// local modifications the checkout needed to replace: with CheckoutSafe they
// were skipped, with CheckoutForce they were overwritten.
type CheckoutResult struct {
	Updated   []string
	Removed   []string
	Conflicts []string
}

type checkoutAction struct {
	path   string
	target TreeFileEntry
	remove bool
}

// CheckoutTree moves the working tree and index from the HEAD commit's tree
// to the tree at treeHash. Only paths that differ between the two trees are
// touched. A path is a conflict when its working-tree or staged content
// differs from HEAD and from the target; with AbortOnConflict any conflict
// returns a *CheckoutConflictError and nothing is written.
func (r *Repo) CheckoutTree(treeHash object.Hash, opts CheckoutOptions) (*CheckoutResult, error) {
	head, err := r.HeadCommit()
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}
	current, err := r.commitFiles(head)
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}
	return r.checkoutBetween(current, treeHash, opts)
}

func (r *Repo) checkoutBetween(current map[string]TreeFileEntry, treeHash object.Hash, opts CheckoutOptions) (*CheckoutResult, error) {
	targetList, err := r.FlattenTree(treeHash)
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}
	target := indexByPath(targetList)

	idx, err := r.ReadIndex()
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}

	result := &CheckoutResult{}
	var actions []checkoutAction
	for _, p := range unionPaths(current, target) {
		cur, inCur := current[p]
		tgt, inTgt := target[p]
		if inCur && inTgt && cur.BlobHash == tgt.BlobHash && cur.Mode == tgt.Mode {
			continue
		}

		dirty, err := r.pathDirty(p, idx, cur, inCur, tgt, inTgt)
		if err != nil {
			return nil, fmt.Errorf("checkout: %w", err)
		}
		if dirty {
			result.Conflicts = append(result.Conflicts, p)
			if opts.Strategy == CheckoutSafe {
				continue
			}
		}
		actions = append(actions, checkoutAction{path: p, target: tgt, remove: !inTgt})
	}

	if len(result.Conflicts) > 0 && opts.ConflictPolicy == AbortOnConflict {
		r.Logger.Debug("checkout aborted", "conflicts", len(result.Conflicts))
		return result, &CheckoutConflictError{Paths: result.Conflicts}
	}

	for _, a := range actions {
		if a.remove {
			if err := r.removeWorktreeFile(a.path); err != nil {
				return result, fmt.Errorf("checkout: %w", err)
			}
			delete(idx.Entries, a.path)
			result.Removed = append(result.Removed, a.path)
			continue
		}
		entry, err := r.writeWorktreeFile(a.target)
		if err != nil {
			return result, fmt.Errorf("checkout: %w", err)
		}
		idx.Entries[a.path] = entry
		result.Updated = append(result.Updated, a.path)
	}

	if err := r.WriteIndex(idx); err != nil {
		return result, fmt.Errorf("checkout: %w", err)
	}
	return result, nil
}

// pathDirty reports whether replacing the HEAD version of p would lose
// local work: a staged change, or a working-tree file that matches neither
// HEAD nor the target.
func (r *Repo) pathDirty(p string, idx *Index, cur TreeFileEntry, inCur bool, tgt TreeFileEntry, inTgt bool) (bool, error) {
	if e, staged := idx.Entries[p]; staged {
		if e.Conflict || !inCur || e.BlobHash != cur.BlobHash {
			if !(inTgt && e.BlobHash == tgt.BlobHash && !e.Conflict) {
				return true, nil
			}
		}
	}

	data, err := os.ReadFile(filepath.Join(r.RootDir, filepath.FromSlash(p)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %q: %w", p, err)
	}
	h := blobHash(data)
	if inCur && h == cur.BlobHash {
		return false, nil
	}
	if inTgt && h == tgt.BlobHash {
		return false, nil
	}
	return true, nil
}

func (r *Repo) writeWorktreeFile(f TreeFileEntry) (*IndexEntry, error) {
	absPath := filepath.Join(r.RootDir, filepath.FromSlash(f.Path))
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir for %q: %w", f.Path, err)
	}
	blob, err := r.Store.ReadBlob(f.BlobHash)
	if err != nil {
		return nil, fmt.Errorf("read blob for %q: %w", f.Path, err)
	}
	return r.writeFileContent(f.Path, blob.Data, f.Mode, f.BlobHash)
}

func (r *Repo) writeFileContent(relPath string, data []byte, mode string, h object.Hash) (*IndexEntry, error) {
	absPath := filepath.Join(r.RootDir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir for %q: %w", relPath, err)
	}
	if err := os.WriteFile(absPath, data, filePermFromMode(mode)); err != nil {
		return nil, fmt.Errorf("write %q: %w", relPath, err)
	}
	if err := os.Chmod(absPath, filePermFromMode(mode)); err != nil {
		return nil, fmt.Errorf("chmod %q: %w", relPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", relPath, err)
	}
	return &IndexEntry{
		Path:     relPath,
		BlobHash: h,
		Mode:     normalizeFileMode(mode),
		ModTime:  info.ModTime().UnixNano(),
		Size:     info.Size(),
	}, nil
}

func (r *Repo) removeWorktreeFile(relPath string) error {
	absPath := filepath.Join(r.RootDir, filepath.FromSlash(relPath))
	if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %q: %w", relPath, err)
	}
	r.removeEmptyParents(filepath.Dir(absPath))
	return nil
}

// worktreeMatches reports whether the file at p currently holds exactly
// want (a missing file matches a zero want).
func (r *Repo) worktreeMatches(p string, want object.Hash) (bool, error) {
	data, err := os.ReadFile(filepath.Join(r.RootDir, filepath.FromSlash(p)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return want.IsZero(), nil
		}
		return false, err
	}
	return !want.IsZero() && blobHash(data) == want, nil
}

// removeEmptyParents removes empty directories up to (but not including)
// the repository root.
func (r *Repo) removeEmptyParents(dir string) {
	for {
		if dir == r.RootDir || !strings.HasPrefix(dir, r.RootDir) {
			return
		}

		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}

		os.Remove(dir)
		dir = filepath.Dir(dir)
	}
}

func blobHash(data []byte) object.Hash {
	return object.HashObject(object.TypeBlob, object.MarshalBlob(&object.Blob{Data: data}))
}

func unionPaths[T any](maps ...map[string]T) []string {
	seen := make(map[string]struct{})
	for _, m := range maps {
		for p := range m {
			seen[p] = struct{}{}
		}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
