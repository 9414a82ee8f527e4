package repo

import (
	"fmt"

	"github.com/odvcencio/gotsync/pkg/object"
)

// fastForward advances local from oldTip to source without creating a
// commit. The working tree is moved first; the ref only moves once the
// checkout has succeeded, and a failed ref move puts the old tree back.
func (r *Repo) fastForward(local LocalBranch, oldTip object.Hash, source *AnnotatedCommit) error {
	old, err := r.LookupCommit(oldTip)
	if err != nil {
		return fmt.Errorf("fast-forward %s: %w: %w", local.Name, ErrUnexpected, err)
	}
	oldFiles, err := r.commitFiles(oldTip)
	if err != nil {
		return fmt.Errorf("fast-forward %s: %w", local.Name, err)
	}

	res, err := r.checkoutBetween(oldFiles, source.Commit.TreeHash, CheckoutOptions{
		Strategy:       CheckoutForce,
		ConflictPolicy: AbortOnConflict,
	})
	if err != nil {
		return fmt.Errorf("fast-forward %s: %w", local.Name, err)
	}

	reason := fmt.Sprintf("merge %s: Fast-forward", source.Name())
	if err := r.UpdateRefCAS(local.RefName(), source.ID, oldTip, reason); err != nil {
		r.restoreTree(source.Commit.TreeHash, old.TreeHash)
		return wrapStore("fast-forward "+local.Name, StoreCodeGeneric, err)
	}
	if err := r.SetHeadSymbolic(local.RefName()); err != nil {
		return wrapStore("fast-forward "+local.Name, StoreCodeGeneric, err)
	}

	r.Logger.Debug("fast-forward",
		"branch", local.Name,
		"from", oldTip.Short(),
		"to", source.ID.Short(),
		"updated", len(res.Updated),
		"removed", len(res.Removed))
	return nil
}

// restoreTree moves the working tree from the tree at from back to the tree
// at to. Failures are only logged: the caller already has an error to report.
func (r *Repo) restoreTree(from, to object.Hash) {
	fromList, err := r.FlattenTree(from)
	if err != nil {
		r.Logger.Warn("restore tree", "err", err)
		return
	}
	_, err = r.checkoutBetween(indexByPath(fromList), to, CheckoutOptions{
		Strategy:       CheckoutForce,
		ConflictPolicy: ReportConflicts,
	})
	if err != nil {
		r.Logger.Warn("restore tree", "err", err)
	}
}
