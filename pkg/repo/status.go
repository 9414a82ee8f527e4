package repo

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
)

// FileStatus is the state of one path in one comparison.
type FileStatus int

const (
	StatusClean     FileStatus = iota
	StatusNew                  // staged, not in HEAD
	StatusModified             // staged, differs from HEAD / worktree differs from index
	StatusDeleted              // in HEAD but not staged / staged but missing on disk
	StatusUntracked            // on disk, not staged
	StatusConflict             // unresolved merge conflict
)

func (s FileStatus) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusModified:
		return "modified"
	case StatusDeleted:
		return "deleted"
	case StatusUntracked:
		return "untracked"
	case StatusConflict:
		return "conflict"
	default:
		return "clean"
	}
}

// StatusEntry is the status of one path. Clean paths are not reported.
type StatusEntry struct {
	Path        string
	IndexStatus FileStatus // index vs HEAD
	WorkStatus  FileStatus // working tree vs index
}

// WorktreeStatus summarizes the repository for the status command.
type WorktreeStatus struct {
	Branch  string // empty when HEAD is detached
	Head    string // short id of the HEAD commit; empty when unborn
	State   MergeState
	Entries []StatusEntry
}

// Conflicts returns the paths with unresolved conflicts.
func (s *WorktreeStatus) Conflicts() []string {
	var out []string
	for _, e := range s.Entries {
		if e.IndexStatus == StatusConflict {
			out = append(out, e.Path)
		}
	}
	return out
}

// Status compares HEAD, the index and the working tree.
//
//  1. Walk the working tree, skipping ignored paths
//  2. Compare each file to its index entry
//  3. Compare the index to the HEAD tree
func (r *Repo) Status() (*WorktreeStatus, error) {
	st := &WorktreeStatus{State: r.MergeState()}
	if b, err := r.CurrentBranch(); err == nil {
		st.Branch = b.Name
	}
	head, err := r.HeadCommit()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	st.Head = head.Short()
	headFiles, err := r.commitFiles(head)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	idx, err := r.ReadIndex()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	ic := NewIgnoreChecker(r.RootDir)
	onDisk := make(map[string]struct{})
	err = filepath.WalkDir(r.RootDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(r.RootDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if _, tracked := idx.Entries[rel]; !tracked && ic.IsIgnored(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			onDisk[rel] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("status: walk: %w", err)
	}

	result := make(map[string]*StatusEntry)
	entry := func(p string) *StatusEntry {
		e, ok := result[p]
		if !ok {
			e = &StatusEntry{Path: p}
			result[p] = e
		}
		return e
	}

	for p := range onDisk {
		ie, staged := idx.Entries[p]
		switch {
		case !staged:
			e := entry(p)
			e.IndexStatus, e.WorkStatus = StatusUntracked, StatusUntracked
		case ie.Conflict:
			entry(p).WorkStatus = StatusConflict
		default:
			same, err := r.worktreeMatches(p, ie.BlobHash)
			if err != nil {
				return nil, fmt.Errorf("status: %w", err)
			}
			if !same {
				entry(p).WorkStatus = StatusModified
			}
		}
	}

	for p, ie := range idx.Entries {
		if _, ok := onDisk[p]; !ok {
			entry(p).WorkStatus = StatusDeleted
			if ie.Conflict {
				entry(p).WorkStatus = StatusConflict
			}
		}
		hf, inHead := headFiles[p]
		switch {
		case ie.Conflict:
			entry(p).IndexStatus = StatusConflict
		case !inHead:
			entry(p).IndexStatus = StatusNew
		case hf.BlobHash != ie.BlobHash || normalizeFileMode(hf.Mode) != normalizeFileMode(ie.Mode):
			entry(p).IndexStatus = StatusModified
		}
	}
	for p := range headFiles {
		if _, staged := idx.Entries[p]; !staged {
			entry(p).IndexStatus = StatusDeleted
		}
	}

	st.Entries = make([]StatusEntry, 0, len(result))
	for _, e := range result {
		if e.IndexStatus == StatusClean && e.WorkStatus == StatusClean {
			continue
		}
		st.Entries = append(st.Entries, *e)
	}
	sort.Slice(st.Entries, func(i, j int) bool { return st.Entries[i].Path < st.Entries[j].Path })
	return st, nil
}
