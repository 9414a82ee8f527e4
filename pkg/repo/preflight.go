package repo

import (
	"errors"
	"fmt"
	"os"
)

// checkMergePreconditions refuses to start a merge over unresolved state:
// a conflicted index, or a merge or cherry-pick left in progress.
func (r *Repo) checkMergePreconditions() error {
	idx, err := r.ReadIndex()
	if err != nil {
		return wrapStore("read index", StoreCodeGeneric, err)
	}
	if idx.HasConflicts() {
		return fmt.Errorf("%w: index has unresolved conflicts", ErrLocalConflict)
	}
	if r.hasMarker(mergeHeadFile) {
		return ErrMergeInProgress
	}
	if r.hasMarker(cherryPickHeadFile) {
		return ErrCherryPickInProgress
	}
	return nil
}

// AbortMerge abandons an in-progress merge or cherry-pick: the index and
// working tree are reset to HEAD and the markers are removed.
func (r *Repo) AbortMerge() error {
	return r.withWriteLock("abort merge", func() error {
		if r.MergeState() == MergeStateNone {
			return fmt.Errorf("abort merge: no merge in progress")
		}
		head, err := r.HeadCommit()
		if err != nil {
			return fmt.Errorf("abort merge: %w", err)
		}
		if head.IsZero() {
			return fmt.Errorf("abort merge: %w: HEAD has no commits", ErrUnexpected)
		}
		c, err := r.LookupCommit(head)
		if err != nil {
			return fmt.Errorf("abort merge: %w", err)
		}

		idx, err := r.ReadIndex()
		if err != nil {
			return fmt.Errorf("abort merge: %w", err)
		}
		current := make(map[string]TreeFileEntry, len(idx.Entries))
		for p, e := range idx.Entries {
			current[p] = TreeFileEntry{Path: p, BlobHash: e.BlobHash, Mode: e.Mode}
		}
		if _, err := r.checkoutBetween(current, c.TreeHash, CheckoutOptions{
			Strategy:       CheckoutForce,
			ConflictPolicy: ReportConflicts,
		}); err != nil {
			return fmt.Errorf("abort merge: %w", err)
		}

		if err := r.clearMergeState(); err != nil {
			return fmt.Errorf("abort merge: %w", err)
		}
		if err := os.Remove(r.markerPath(cherryPickHeadFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("abort merge: %w", err)
		}
		r.Logger.Debug("merge aborted", "head", head.Short())
		return nil
	})
}
