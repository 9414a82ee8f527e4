package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/odvcencio/gotsync/pkg/object"
	"github.com/odvcencio/gotsync/pkg/remote"
)

// DefaultRemote is used by Pull when neither the caller nor the branch's
// upstream names a remote.
const DefaultRemote = "origin"

// Push upload limits. Objects are sent in chunks so one request body stays
// bounded.
const (
	pushChunkObjects = 2000
	pushChunkBytes   = 32 << 20
	pushObjectBytes  = 16 << 20
)

// FetchOptions configures Fetch.
type FetchOptions struct {
	Callbacks remote.Callbacks
	// Prune deletes local refs under a refspec destination whose remote
	// counterpart no longer exists.
	Prune bool
}

// PushOptions configures Push.
type PushOptions struct {
	Callbacks remote.Callbacks
	// Force allows a non-fast-forward update of the remote branch.
	Force bool
}

// PullOptions configures Pull.
type PullOptions struct {
	Fetch FetchOptions
	// FastForward overrides merge.ff when non-nil.
	FastForward *FastForwardPreference
	Message     string
	Author      string
}

// RefChangeStatus says what happened to one ref during a transfer.
type RefChangeStatus int

const (
	RefCreated RefChangeStatus = iota
	RefFastForwarded
	RefForced
	RefRejected
	RefPruned
	RefUpToDate
)

func (s RefChangeStatus) String() string {
	switch s {
	case RefCreated:
		return "new"
	case RefFastForwarded:
		return "fast-forward"
	case RefForced:
		return "forced"
	case RefRejected:
		return "rejected"
	case RefPruned:
		return "pruned"
	case RefUpToDate:
		return "up-to-date"
	default:
		return "unknown"
	}
}

// RefChange describes one ref a transfer looked at.
type RefChange struct {
	Ref    string // local ref, e.g. refs/remotes/origin/main
	Source string // remote ref it mirrors; empty for pruned refs
	Old    object.Hash
	New    object.Hash
	Status RefChangeStatus
}

// FetchResult lists the local refs a fetch created, moved, rejected or
// pruned. Refs that were already current are omitted.
type FetchResult struct {
	Remote   string
	Updated  []RefChange
	Progress remote.TransferProgress
}

// Rejected returns the changes that were skipped as non-fast-forward.
func (f *FetchResult) Rejected() []RefChange {
	var out []RefChange
	for _, c := range f.Updated {
		if c.Status == RefRejected {
			out = append(out, c)
		}
	}
	return out
}

// PushResult describes the remote branch update of a push.
type PushResult struct {
	Remote  string
	Ref     string
	Change  RefChange
	Objects int
}

// PullResult carries both halves of a pull. Merge is nil when the fetch
// failed.
type PullResult struct {
	Fetch  *FetchResult
	Source Branch
	Merge  *MergeResult
}

// Fetch downloads objects for every remote ref matched by the remote's
// fetch refspecs and updates the local remote-tracking refs.
func (r *Repo) Fetch(ctx context.Context, remoteName string, opts FetchOptions) (*FetchResult, error) {
	var res *FetchResult
	err := r.withWriteLock("fetch", func() error {
		var err error
		res, err = r.fetchLocked(ctx, remoteName, opts)
		return err
	})
	return res, err
}

type fetchTarget struct {
	src   string
	dst   string
	tip   object.Hash
	force bool
}

func (r *Repo) fetchLocked(ctx context.Context, remoteName string, opts FetchOptions) (*FetchResult, error) {
	rc, err := r.Remote(remoteName)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	specs := rc.Fetch
	if len(specs) == 0 {
		specs = []string{DefaultFetchRefspec(rc.Name)}
	}
	refspecs, err := remote.ParseRefspecs(specs)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rc.Name, err)
	}

	tr, err := remote.Open(rc.URL, opts.Callbacks)
	if err != nil {
		return nil, wrapStore("fetch", StoreCodeTransport, err)
	}
	remoteRefs, err := tr.ListRefs(ctx)
	if err != nil {
		return nil, wrapStore("fetch", StoreCodeTransport, err)
	}

	targets := planFetch(remoteRefs, refspecs)
	res := &FetchResult{Remote: rc.Name}

	var wants []object.Hash
	for _, t := range targets {
		if !r.Store.Has(t.tip) {
			wants = append(wants, t.tip)
		}
	}
	if len(wants) > 0 {
		haves, err := r.localTips()
		if err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		progress, err := tr.FetchObjects(ctx, r.Store, object.UniqueHashes(wants), haves)
		res.Progress = progress
		if err != nil {
			return nil, wrapStore("fetch", StoreCodeTransport, err)
		}
	}

	reason := "fetching remote " + rc.Name
	for _, t := range targets {
		change, err := r.applyFetchTarget(t, reason)
		if err != nil {
			return res, fmt.Errorf("fetch: %w", err)
		}
		if change.Status != RefUpToDate {
			res.Updated = append(res.Updated, change)
		}
	}

	if opts.Prune {
		pruned, err := r.pruneTracking(refspecs, targets)
		res.Updated = append(res.Updated, pruned...)
		if err != nil {
			return res, fmt.Errorf("fetch: %w", err)
		}
	}

	r.Logger.Debug("fetch",
		"remote", rc.Name,
		"refs", len(targets),
		"changed", len(res.Updated),
		"objects", res.Progress.IndexedObjects)
	return res, nil
}

// planFetch maps remote refs through the refspecs. The first matching
// refspec wins for each remote ref; results are sorted by destination.
func planFetch(remoteRefs map[string]object.Hash, refspecs []remote.Refspec) []fetchTarget {
	names := make([]string, 0, len(remoteRefs))
	for name := range remoteRefs {
		names = append(names, name)
	}
	sort.Strings(names)

	byDst := make(map[string]fetchTarget)
	for _, name := range names {
		tip := remoteRefs[name]
		if tip.IsZero() {
			continue
		}
		for _, rs := range refspecs {
			dst, ok := rs.Transform(name)
			if !ok {
				continue
			}
			if _, dup := byDst[dst]; !dup {
				byDst[dst] = fetchTarget{src: name, dst: dst, tip: tip, force: rs.Force}
			}
			break
		}
	}

	out := make([]fetchTarget, 0, len(byDst))
	for _, t := range byDst {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].dst < out[j].dst })
	return out
}

func (r *Repo) applyFetchTarget(t fetchTarget, reason string) (RefChange, error) {
	old, err := r.resolveOptionalRef(t.dst)
	if err != nil {
		return RefChange{}, err
	}
	change := RefChange{Ref: t.dst, Source: t.src, Old: old, New: t.tip}
	switch {
	case old == t.tip:
		change.Status = RefUpToDate
		return change, nil
	case old.IsZero():
		change.Status = RefCreated
	default:
		ff, err := r.IsAncestor(old, t.tip)
		if err != nil {
			return change, fmt.Errorf("%s: %w: %w", t.dst, ErrUnexpected, err)
		}
		switch {
		case ff:
			change.Status = RefFastForwarded
		case t.force:
			change.Status = RefForced
		default:
			change.Status = RefRejected
			change.New = old
			r.Logger.Debug("fetch rejected non-fast-forward", "ref", t.dst, "old", old.Short(), "remote", t.tip.Short())
			return change, nil
		}
	}
	if err := r.UpdateRefCAS(t.dst, t.tip, old, reason); err != nil {
		return change, wrapStore("update "+t.dst, StoreCodeGeneric, err)
	}
	return change, nil
}

func (r *Repo) pruneTracking(refspecs []remote.Refspec, targets []fetchTarget) ([]RefChange, error) {
	keep := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		keep[t.dst] = struct{}{}
	}
	local, err := r.ListRefs("")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(local))
	for name := range local {
		names = append(names, "refs/"+name)
	}
	sort.Strings(names)

	var pruned []RefChange
	for _, name := range names {
		if _, ok := keep[name]; ok || !strings.HasPrefix(name, remoteRefPrefix) {
			continue
		}
		matched := false
		for _, rs := range refspecs {
			if rs.MatchDestination(name) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		old := local[strings.TrimPrefix(name, "refs/")]
		if err := r.DeleteRef(name, old); err != nil {
			return pruned, wrapStore("prune "+name, StoreCodeGeneric, err)
		}
		pruned = append(pruned, RefChange{Ref: name, Old: old, Status: RefPruned})
	}
	return pruned, nil
}

// Push uploads the local branch and updates the same-named branch on the
// remote, then moves the matching remote-tracking ref.
func (r *Repo) Push(ctx context.Context, branch LocalBranch, remoteName string, opts PushOptions) (*PushResult, error) {
	var res *PushResult
	err := r.withWriteLock("push", func() error {
		var err error
		res, err = r.pushLocked(ctx, branch, remoteName, opts)
		return err
	})
	return res, err
}

func (r *Repo) pushLocked(ctx context.Context, branch LocalBranch, remoteName string, opts PushOptions) (*PushResult, error) {
	if err := validateBranchName(branch.Name); err != nil {
		return nil, fmt.Errorf("push: %w", err)
	}
	localTip, err := r.ResolveBranch(branch)
	if err != nil {
		return nil, fmt.Errorf("push: %w", err)
	}
	rc, err := r.Remote(remoteName)
	if err != nil {
		return nil, fmt.Errorf("push: %w", err)
	}
	spec := remote.Refspec{Force: opts.Force, Src: branch.RefName(), Dst: branch.RefName()}

	tr, err := remote.Open(rc.URL, opts.Callbacks)
	if err != nil {
		return nil, wrapStore("push", StoreCodeTransport, err)
	}
	remoteRefs, err := tr.ListRefs(ctx)
	if err != nil {
		return nil, wrapStore("push", StoreCodeTransport, err)
	}

	remoteTip := remoteRefs[spec.Dst]
	tracking := RemoteBranch{Remote: rc.Name, Name: branch.Name}
	res := &PushResult{
		Remote: rc.Name,
		Ref:    spec.Dst,
		Change: RefChange{Ref: spec.Dst, Source: spec.Src, Old: remoteTip, New: localTip},
	}

	if remoteTip == localTip {
		res.Change.Status = RefUpToDate
		if err := r.UpdateRef(tracking.RefName(), localTip, "update by push"); err != nil {
			return res, wrapStore("push", StoreCodeGeneric, err)
		}
		return res, nil
	}

	switch {
	case remoteTip.IsZero():
		res.Change.Status = RefCreated
	case spec.Force:
		res.Change.Status = RefForced
	default:
		if !r.Store.Has(remoteTip) {
			haves, err := r.localTips()
			if err != nil {
				return nil, fmt.Errorf("push: %w", err)
			}
			if _, err := tr.FetchObjects(ctx, r.Store, []object.Hash{remoteTip}, haves); err != nil {
				return nil, wrapStore("push: fetch remote head", StoreCodeTransport, err)
			}
		}
		ff, err := r.IsAncestor(remoteTip, localTip)
		if err != nil {
			return nil, fmt.Errorf("push: %w: %w", ErrUnexpected, err)
		}
		if !ff {
			return nil, fmt.Errorf("push: %w: %s does not contain remote %s", ErrNonFastForward, branch.Name, remoteTip.Short())
		}
		res.Change.Status = RefFastForwarded
	}

	var stopRoots []object.Hash
	for _, h := range remoteRefs {
		if !h.IsZero() && r.Store.Has(h) {
			stopRoots = append(stopRoots, h)
		}
	}
	objs, err := remote.CollectObjectsForPush(r.Store, []object.Hash{localTip}, stopRoots)
	if err != nil {
		return nil, wrapStore("push", StoreCodeGeneric, err)
	}
	res.Objects, err = pushObjectsChunked(ctx, tr, objs)
	if err != nil {
		return res, wrapStore("push", StoreCodeTransport, err)
	}

	updated, err := tr.UpdateRefs(ctx, []remote.RefUpdate{remote.RefUpdateFor(spec.Dst, remoteTip, localTip)})
	if err != nil {
		if errors.Is(err, remote.ErrRefConflict) {
			return res, fmt.Errorf("push: %w: remote %s moved: %w", ErrNonFastForward, spec.Dst, err)
		}
		return res, wrapStore("push", StoreCodeTransport, err)
	}
	final := localTip
	if h, ok := updated[spec.Dst]; ok && !h.IsZero() {
		final = h
	}
	res.Change.New = final
	if err := r.UpdateRef(tracking.RefName(), final, "update by push"); err != nil {
		return res, wrapStore("push", StoreCodeGeneric, err)
	}

	r.Logger.Debug("push",
		"remote", rc.Name,
		"ref", spec.String(),
		"status", res.Change.Status.String(),
		"objects", res.Objects)
	return res, nil
}

func pushObjectsChunked(ctx context.Context, tr remote.Transport, objects []remote.ObjectRecord) (int, error) {
	chunk := make([]remote.ObjectRecord, 0, min(len(objects), pushChunkObjects))
	chunkBytes, uploaded := 0, 0

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := tr.PushObjects(ctx, chunk); err != nil {
			return err
		}
		uploaded += len(chunk)
		chunk = chunk[:0]
		chunkBytes = 0
		return nil
	}

	for _, obj := range objects {
		if len(obj.Data) > pushObjectBytes {
			return uploaded, fmt.Errorf("object %s exceeds %d-byte push limit", obj.Hash.Short(), pushObjectBytes)
		}
		recBytes := len(obj.Data) + 128
		if len(chunk) > 0 && (len(chunk) >= pushChunkObjects || chunkBytes+recBytes > pushChunkBytes) {
			if err := flush(); err != nil {
				return uploaded, err
			}
		}
		chunk = append(chunk, obj)
		chunkBytes += recBytes
	}
	if err := flush(); err != nil {
		return uploaded, err
	}
	return uploaded, nil
}

// Pull fetches from a remote and merges the resulting remote branch into
// the current branch. Both steps run in one write section.
//
// The merge source is the upstream of a LocalBranch that has one, a
// RemoteBranch as given, or <remote>/<name> for a LocalBranch without an
// upstream. An empty remoteName falls back to the upstream's remote and
// then to DefaultRemote.
func (r *Repo) Pull(ctx context.Context, branch Branch, remoteName string, opts PullOptions) (*PullResult, error) {
	res := &PullResult{}
	err := r.withWriteLock("pull", func() error {
		source, fetchRemote, err := r.pullSource(branch, remoteName)
		if err != nil {
			return err
		}
		res.Source = source

		res.Fetch, err = r.fetchLocked(ctx, fetchRemote, opts.Fetch)
		if err != nil {
			return err
		}

		var pref FastForwardPreference
		if opts.FastForward != nil {
			pref = *opts.FastForward
		} else {
			cfg, err := r.ReadConfig()
			if err != nil {
				return err
			}
			pref = cfg.FastForward()
		}
		res.Merge, err = r.mergeLocked(source, MergeOptions{
			FastForward: pref,
			Message:     opts.Message,
			Author:      opts.Author,
		})
		return err
	})
	if err != nil {
		return res, fmt.Errorf("pull: %w", err)
	}
	return res, nil
}

func (r *Repo) pullSource(branch Branch, remoteName string) (RemoteBranch, string, error) {
	remoteName = strings.TrimSpace(remoteName)
	switch b := branch.(type) {
	case RemoteBranch:
		if remoteName == "" {
			remoteName = b.Remote
		}
		return b, remoteName, nil
	case LocalBranch:
		up, ok, err := r.Upstream(b)
		if err != nil {
			return RemoteBranch{}, "", err
		}
		if ok {
			if remoteName == "" {
				remoteName = up.Remote
			}
			return up, remoteName, nil
		}
		if remoteName == "" {
			remoteName = DefaultRemote
		}
		return RemoteBranch{Remote: remoteName, Name: b.Name}, remoteName, nil
	default:
		return RemoteBranch{}, "", fmt.Errorf("%w: unsupported branch %v", ErrUnexpected, branch)
	}
}

// localTips lists the tips of all local refs present in the store; a
// remote uses them to skip objects already here.
func (r *Repo) localTips() ([]object.Hash, error) {
	refs, err := r.ListRefs("")
	if err != nil {
		return nil, err
	}
	tips := make([]object.Hash, 0, len(refs))
	for _, h := range refs {
		if !h.IsZero() && r.Store.Has(h) {
			tips = append(tips, h)
		}
	}
	return object.UniqueHashes(tips), nil
}

// resolveOptionalRef resolves name, returning the zero hash when the ref
// does not exist.
func (r *Repo) resolveOptionalRef(name string) (object.Hash, error) {
	h, err := r.ResolveRef(name)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return h, err
}
