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

const (
	localRefPrefix  = "refs/heads/"
	remoteRefPrefix = "refs/remotes/"
)

// Branch is either a LocalBranch or a RemoteBranch. The set is closed:
// callers dispatch with a type switch over the two concrete types.
type Branch interface {
	// RefName is the full ref path, e.g. "refs/heads/main".
	RefName() string
	// ShortName is the human-facing name, e.g. "main" or "origin/main".
	ShortName() string
	isBranch()
}

// LocalBranch is a mutable branch under refs/heads/.
type LocalBranch struct {
	Name string
}

func (b LocalBranch) RefName() string   { return localRefPrefix + b.Name }
func (b LocalBranch) ShortName() string { return b.Name }
func (b LocalBranch) String() string    { return b.Name }
func (LocalBranch) isBranch()           {}

// RemoteBranch is the read-only mirror of a branch on a remote, stored
// under refs/remotes/<remote>/.
type RemoteBranch struct {
	Remote string
	Name   string
}

func (b RemoteBranch) RefName() string   { return remoteRefPrefix + b.Remote + "/" + b.Name }
func (b RemoteBranch) ShortName() string { return b.Remote + "/" + b.Name }
func (b RemoteBranch) String() string    { return b.ShortName() }
func (RemoteBranch) isBranch()           {}

// BranchFromRef converts a full ref path into its Branch variant.
func BranchFromRef(ref string) (Branch, bool) {
	switch {
	case strings.HasPrefix(ref, localRefPrefix):
		name := strings.TrimPrefix(ref, localRefPrefix)
		if name == "" {
			return nil, false
		}
		return LocalBranch{Name: name}, true
	case strings.HasPrefix(ref, remoteRefPrefix):
		rest := strings.TrimPrefix(ref, remoteRefPrefix)
		remote, name, ok := strings.Cut(rest, "/")
		if !ok || remote == "" || name == "" {
			return nil, false
		}
		return RemoteBranch{Remote: remote, Name: name}, true
	default:
		return nil, false
	}
}

func validateBranchName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("branch name is required")
	case strings.HasPrefix(name, "/"), strings.HasSuffix(name, "/"),
		strings.Contains(name, ".."), strings.Contains(name, "//"),
		strings.HasSuffix(name, ".lock"), strings.ContainsAny(name, " ~^:?*[\\"):
		return fmt.Errorf("invalid branch name %q", name)
	}
	return nil
}

// CreateBranch creates a new branch pointing at the given target hash.
// Returns an error if the branch already exists.
func (r *Repo) CreateBranch(name string, target object.Hash) error {
	if err := validateBranchName(name); err != nil {
		return fmt.Errorf("create branch: %w", err)
	}
	if !r.Store.Has(target) {
		return fmt.Errorf("create branch %q: commit %s: %w", name, target, ErrNotFound)
	}
	b := LocalBranch{Name: name}
	if err := r.UpdateRefCAS(b.RefName(), target, "", "branch: Created from "+target.Short()); err != nil {
		if errors.Is(err, ErrRefCASMismatch) {
			return fmt.Errorf("create branch: branch %q already exists", name)
		}
		return fmt.Errorf("create branch %q: %w", name, err)
	}
	return nil
}

// DeleteBranch removes a local branch. The current branch cannot be deleted.
func (r *Repo) DeleteBranch(name string) error {
	current, err := r.CurrentBranch()
	if err != nil && !errors.Is(err, ErrDetachedHead) {
		return fmt.Errorf("delete branch: %w", err)
	}
	if err == nil && current.Name == name {
		return fmt.Errorf("delete branch: cannot delete current branch %q", name)
	}

	b := LocalBranch{Name: name}
	if err := r.DeleteRef(b.RefName(), ""); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("delete branch: branch %q does not exist", name)
		}
		return fmt.Errorf("delete branch %q: %w", name, err)
	}
	return nil
}

// ListBranches returns local branch names sorted alphabetically.
func (r *Repo) ListBranches() ([]string, error) {
	refs, err := r.ListRefs("heads")
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, strings.TrimPrefix(name, "heads/"))
	}
	sort.Strings(names)
	return names, nil
}

// ListRemoteBranches returns the remote-tracking branches of one remote.
func (r *Repo) ListRemoteBranches(remote string) ([]RemoteBranch, error) {
	refs, err := r.ListRefs(filepath.ToSlash(filepath.Join("remotes", remote)))
	if err != nil {
		return nil, fmt.Errorf("list remote branches: %w", err)
	}
	out := make([]RemoteBranch, 0, len(refs))
	for name := range refs {
		if b, ok := BranchFromRef("refs/" + name); ok {
			if rb, ok := b.(RemoteBranch); ok {
				out = append(out, rb)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CurrentBranch returns the branch HEAD points at. A detached HEAD yields
// ErrDetachedHead. The branch may be unborn (no commits yet).
func (r *Repo) CurrentBranch() (LocalBranch, error) {
	head, err := r.Head()
	if err != nil {
		return LocalBranch{}, fmt.Errorf("current branch: %w", err)
	}
	if strings.HasPrefix(head, localRefPrefix) {
		return LocalBranch{Name: strings.TrimPrefix(head, localRefPrefix)}, nil
	}
	return LocalBranch{}, fmt.Errorf("current branch: %w", ErrDetachedHead)
}

// SwitchBranch checks out the tip of an existing local branch and points
// HEAD at it. Local modifications that the switch would overwrite abort it.
func (r *Repo) SwitchBranch(name string) error {
	return r.withWriteLock("switch", func() error {
		b := LocalBranch{Name: name}
		tip, err := r.ResolveBranch(b)
		if err != nil {
			return fmt.Errorf("switch: %w", err)
		}
		c, err := r.LookupCommit(tip)
		if err != nil {
			return fmt.Errorf("switch: %w", err)
		}
		if _, err := r.CheckoutTree(c.TreeHash, CheckoutOptions{Strategy: CheckoutSafe, ConflictPolicy: AbortOnConflict}); err != nil {
			return fmt.Errorf("switch: %w", err)
		}
		if err := r.SetHeadSymbolic(b.RefName()); err != nil {
			return fmt.Errorf("switch: %w", err)
		}
		return nil
	})
}

func (r *Repo) branchExists(b Branch) bool {
	_, err := os.Stat(filepath.Join(r.GotDir, filepath.FromSlash(b.RefName())))
	return err == nil
}
