package repo

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/odvcencio/gotsync/pkg/object"
)

// LookupCommit reads a commit from the object store. A missing commit
// yields an error wrapping ErrNotFound.
func (r *Repo) LookupCommit(h object.Hash) (*object.CommitObj, error) {
	if h.IsZero() {
		return nil, fmt.Errorf("lookup commit: empty hash: %w", ErrNotFound)
	}
	c, err := r.Store.ReadCommit(h)
	if err != nil {
		if errors.Is(err, object.ErrObjectNotFound) {
			return nil, fmt.Errorf("lookup commit %s: %w", h.Short(), ErrNotFound)
		}
		return nil, wrapStore("lookup commit "+h.Short(), StoreCodeGeneric, err)
	}
	return c, nil
}

// ResolveBranch returns the tip commit of a branch.
func (r *Repo) ResolveBranch(b Branch) (object.Hash, error) {
	if b == nil {
		return "", fmt.Errorf("resolve branch: %w: nil branch", ErrUnexpected)
	}
	return r.ResolveRef(b.RefName())
}

// HeadCommit returns the commit HEAD points at. An unborn branch yields the
// zero hash without error.
func (r *Repo) HeadCommit() (object.Hash, error) {
	h, err := r.ResolveRef("HEAD")
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return h, nil
}

// LookupBranch interprets a user-supplied branch name. Accepted forms are
// "main", "refs/heads/main", "origin/main" and "refs/remotes/origin/main".
// A bare "x/y" name is read as a remote branch only when remote x is
// configured or refs/remotes/x/y exists; otherwise it is a local branch with
// a slash in its name.
func (r *Repo) LookupBranch(name string) (Branch, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("lookup branch: name is required")
	}
	if b, ok := BranchFromRef(name); ok {
		return b, nil
	}

	local := LocalBranch{Name: name}
	if remote, rest, ok := strings.Cut(name, "/"); ok && rest != "" {
		rb := RemoteBranch{Remote: remote, Name: rest}
		if r.branchExists(rb) && !r.branchExists(local) {
			return rb, nil
		}
		if !r.branchExists(local) {
			if _, err := r.Remote(remote); err == nil {
				return rb, nil
			}
		}
	}
	if err := validateBranchName(name); err != nil {
		return nil, fmt.Errorf("lookup branch: %w", err)
	}
	return local, nil
}

// AnnotatedCommit pairs a commit with the ref it was resolved from. It is
// the input to merge analysis and the merge primitive. Handles are counted
// by the repository and must be released with Free.
type AnnotatedCommit struct {
	ID      object.Hash
	Commit  *object.CommitObj
	RefName string // empty when created from a bare commit id

	repo  *Repo
	freed atomic.Bool
}

// Free releases the handle. It is safe to call more than once.
func (ac *AnnotatedCommit) Free() {
	if ac == nil || ac.repo == nil {
		return
	}
	if ac.freed.CompareAndSwap(false, true) {
		ac.repo.liveAnnotated.Add(-1)
	}
}

// Name describes the commit for messages: the short branch name when
// resolved from a branch, otherwise the short id.
func (ac *AnnotatedCommit) Name() string {
	if b, ok := BranchFromRef(ac.RefName); ok {
		return b.ShortName()
	}
	if ac.RefName != "" {
		return ac.RefName
	}
	return ac.ID.Short()
}

// AnnotatedCommitFromRef resolves a branch to an annotated commit. The
// caller owns the returned handle and must Free it.
func (r *Repo) AnnotatedCommitFromRef(b Branch) (*AnnotatedCommit, error) {
	tip, err := r.ResolveBranch(b)
	if err != nil {
		return nil, fmt.Errorf("annotated commit: %w: %w", ErrUnexpected, err)
	}
	ac, err := r.annotate(tip)
	if err != nil {
		return nil, err
	}
	ac.RefName = b.RefName()
	return ac, nil
}

// AnnotatedCommitFromID wraps a commit id in an annotated commit handle.
func (r *Repo) AnnotatedCommitFromID(h object.Hash) (*AnnotatedCommit, error) {
	return r.annotate(h)
}

func (r *Repo) annotate(h object.Hash) (*AnnotatedCommit, error) {
	c, err := r.LookupCommit(h)
	if err != nil {
		return nil, fmt.Errorf("annotated commit: %w: %w", ErrUnexpected, err)
	}
	r.liveAnnotated.Add(1)
	return &AnnotatedCommit{ID: h, Commit: c, repo: r}, nil
}
