package repo

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Unstage restores index entries to their HEAD versions. Paths absent from
// HEAD are dropped from the index; no paths means the whole index. A
// directory path covers every entry below it. Conflicted entries are
// replaced too, so unstaging is one way to discard a conflicted resolution.
// The working tree is not touched.
func (r *Repo) Unstage(paths []string) error {
	return r.withWriteLock("unstage", func() error {
		idx, err := r.ReadIndex()
		if err != nil {
			return fmt.Errorf("unstage: %w", err)
		}
		head, err := r.HeadCommit()
		if err != nil {
			return fmt.Errorf("unstage: %w", err)
		}
		headFiles, err := r.commitFiles(head)
		if err != nil {
			return fmt.Errorf("unstage: %w", err)
		}

		targets, err := r.resolveUnstageTargets(paths, idx, headFiles)
		if err != nil {
			return fmt.Errorf("unstage: %w", err)
		}
		for _, p := range targets {
			hf, ok := headFiles[p]
			if !ok {
				delete(idx.Entries, p)
				continue
			}
			idx.Entries[p] = &IndexEntry{
				Path:     p,
				BlobHash: hf.BlobHash,
				Mode:     normalizeFileMode(hf.Mode),
			}
		}

		if err := r.WriteIndex(idx); err != nil {
			return fmt.Errorf("unstage: %w", err)
		}
		r.Logger.Debug("unstaged", "paths", len(targets))
		return nil
	})
}

func (r *Repo) resolveUnstageTargets(paths []string, idx *Index, head map[string]TreeFileEntry) ([]string, error) {
	all := make(map[string]struct{}, len(idx.Entries)+len(head))
	for p := range idx.Entries {
		all[p] = struct{}{}
	}
	for p := range head {
		all[p] = struct{}{}
	}
	if len(paths) == 0 {
		return sortedPathSet(all), nil
	}

	targets := make(map[string]struct{})
	for _, raw := range paths {
		rel, err := r.repoRelPath(raw)
		if err != nil {
			return nil, err
		}
		rel = filepath.ToSlash(filepath.Clean(strings.TrimSpace(rel)))
		if rel == "" || rel == "." {
			for p := range all {
				targets[p] = struct{}{}
			}
			continue
		}

		matched := false
		if _, ok := all[rel]; ok {
			targets[rel] = struct{}{}
			matched = true
		}
		prefix := rel + "/"
		for p := range all {
			if strings.HasPrefix(p, prefix) {
				targets[p] = struct{}{}
				matched = true
			}
		}
		if !matched {
			return nil, fmt.Errorf("path %q did not match staged or HEAD entries", raw)
		}
	}
	return sortedPathSet(targets), nil
}

func sortedPathSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
