package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/gotsync/pkg/object"
	"github.com/odvcencio/gotsync/pkg/remote"
)

// newRemotePair returns an upstream repository and an empty local
// repository whose "origin" remote points at it.
func newRemotePair(t *testing.T) (upstream, local *Repo) {
	t.Helper()
	upstream = newTestRepo(t)
	local = newTestRepo(t)
	require.NoError(t, local.SetRemote("origin", upstream.RootDir))
	return upstream, local
}

// cloneMain fetches origin and checks out origin/main as local main.
func cloneMain(t *testing.T, local *Repo) object.Hash {
	t.Helper()
	_, err := local.Fetch(context.Background(), "origin", FetchOptions{})
	require.NoError(t, err)
	tip, err := local.ResolveRef("refs/remotes/origin/main")
	require.NoError(t, err)
	require.NoError(t, local.UpdateRef("refs/heads/main", tip, "clone"))
	c, err := local.LookupCommit(tip)
	require.NoError(t, err)
	_, err = local.checkoutBetween(nil, c.TreeHash, CheckoutOptions{Strategy: CheckoutForce})
	require.NoError(t, err)
	return tip
}

func refTip(t *testing.T, r *Repo, name string) object.Hash {
	t.Helper()
	h, err := r.ResolveRef(name)
	require.NoError(t, err)
	return h
}

func TestFetchCreatesTrackingRefs(t *testing.T) {
	upstream, local := newRemotePair(t)
	a := commitChanges(t, upstream, "A", map[string]string{"f.txt": "a\n"})
	require.NoError(t, upstream.CreateBranch("dev", a))

	var progressCalls int
	res, err := local.Fetch(context.Background(), "origin", FetchOptions{
		Callbacks: remote.Callbacks{Progress: func(remote.TransferProgress) error {
			progressCalls++
			return nil
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "origin", res.Remote)
	require.Len(t, res.Updated, 2)
	assert.Equal(t, RefChange{Ref: "refs/remotes/origin/dev", Source: "refs/heads/dev", New: a, Status: RefCreated}, res.Updated[0])
	assert.Equal(t, "refs/remotes/origin/main", res.Updated[1].Ref)
	assert.Empty(t, res.Rejected())
	assert.Positive(t, progressCalls)
	assert.GreaterOrEqual(t, res.Progress.ReceivedObjects, 3)

	assert.True(t, local.Store.Has(a))
	assert.Equal(t, a, refTip(t, local, "refs/remotes/origin/main"))
	log, err := local.ReadReflog("refs/remotes/origin/main", 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "fetching remote origin", log[0].Reason)

	again, err := local.Fetch(context.Background(), "origin", FetchOptions{})
	require.NoError(t, err)
	assert.Empty(t, again.Updated)
}

func TestFetchFastForwardForcedAndRejected(t *testing.T) {
	upstream, local := newRemotePair(t)
	a := commitChanges(t, upstream, "A", map[string]string{"f.txt": "a\n"})
	_, err := local.Fetch(context.Background(), "origin", FetchOptions{})
	require.NoError(t, err)

	b := commitChanges(t, upstream, "B", map[string]string{"f.txt": "b\n"})
	res, err := local.Fetch(context.Background(), "origin", FetchOptions{})
	require.NoError(t, err)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, RefFastForwarded, res.Updated[0].Status)
	assert.Equal(t, a, res.Updated[0].Old)
	assert.Equal(t, b, res.Updated[0].New)

	// Rewrite upstream main to a commit that does not contain B.
	require.NoError(t, upstream.CreateBranch("alt", a))
	switchTo(t, upstream, "alt")
	c := commitChanges(t, upstream, "C", map[string]string{"f.txt": "c\n"})
	require.NoError(t, upstream.UpdateRef("refs/heads/main", c, "reset"))

	// A non-forced refspec refuses the rewrite.
	cfg, err := local.ReadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.SetRemote(RemoteConfig{
		Name:  "origin",
		URL:   upstream.RootDir,
		Fetch: []string{"refs/heads/main:refs/remotes/origin/main"},
	}))
	require.NoError(t, local.WriteConfig(cfg))

	res, err = local.Fetch(context.Background(), "origin", FetchOptions{})
	require.NoError(t, err)
	rejected := res.Rejected()
	require.Len(t, rejected, 1)
	assert.Equal(t, b, rejected[0].Old)
	assert.Equal(t, b, rejected[0].New)
	assert.Equal(t, b, refTip(t, local, "refs/remotes/origin/main"))
	assert.True(t, local.Store.Has(c), "objects are fetched even when the ref update is refused")

	// The default forced refspec accepts it.
	require.NoError(t, cfg.SetRemote(RemoteConfig{Name: "origin", URL: upstream.RootDir}))
	require.NoError(t, local.WriteConfig(cfg))
	res, err = local.Fetch(context.Background(), "origin", FetchOptions{})
	require.NoError(t, err)
	var statuses []RefChangeStatus
	for _, ch := range res.Updated {
		if ch.Ref == "refs/remotes/origin/main" {
			statuses = append(statuses, ch.Status)
		}
	}
	assert.Equal(t, []RefChangeStatus{RefForced}, statuses)
	assert.Equal(t, c, refTip(t, local, "refs/remotes/origin/main"))
}

func TestFetchPrune(t *testing.T) {
	upstream, local := newRemotePair(t)
	a := commitChanges(t, upstream, "A", map[string]string{"f.txt": "a\n"})
	require.NoError(t, upstream.CreateBranch("dev", a))
	_, err := local.Fetch(context.Background(), "origin", FetchOptions{})
	require.NoError(t, err)
	require.NoError(t, local.UpdateRef("refs/remotes/other/dev", a, "manual"))

	require.NoError(t, upstream.DeleteBranch("dev"))

	res, err := local.Fetch(context.Background(), "origin", FetchOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Updated)
	assert.Equal(t, a, refTip(t, local, "refs/remotes/origin/dev"), "no prune without the option")

	res, err = local.Fetch(context.Background(), "origin", FetchOptions{Prune: true})
	require.NoError(t, err)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, RefChange{Ref: "refs/remotes/origin/dev", Old: a, Status: RefPruned}, res.Updated[0])
	_, err = local.ResolveRef("refs/remotes/origin/dev")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, a, refTip(t, local, "refs/remotes/other/dev"), "refs outside the refspec are kept")
	assert.Equal(t, a, refTip(t, local, "refs/remotes/origin/main"))
}

func TestFetchUnknownRemote(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.Fetch(context.Background(), "origin", FetchOptions{})
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.SetRemote("origin", "/definitely/not/a/repo"))
	_, err = r.Fetch(context.Background(), "origin", FetchOptions{})
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StoreCodeTransport, se.Code)
}

func TestPushCreateFastForwardAndUpToDate(t *testing.T) {
	upstream, local := newRemotePair(t)
	a := commitChanges(t, local, "A", map[string]string{"f.txt": "a\n"})
	main := LocalBranch{Name: "main"}

	res, err := local.Push(context.Background(), main, "origin", PushOptions{})
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/main", res.Ref)
	assert.Equal(t, RefCreated, res.Change.Status)
	assert.Equal(t, 3, res.Objects, "commit, tree and blob")
	assert.Equal(t, a, refTip(t, upstream, "refs/heads/main"))
	assert.Equal(t, a, refTip(t, local, "refs/remotes/origin/main"))
	log, err := local.ReadReflog("refs/remotes/origin/main", 1)
	require.NoError(t, err)
	assert.Equal(t, "update by push", log[0].Reason)

	b := commitChanges(t, local, "B", map[string]string{"f.txt": "b\n"})
	res, err = local.Push(context.Background(), main, "origin", PushOptions{})
	require.NoError(t, err)
	assert.Equal(t, RefFastForwarded, res.Change.Status)
	assert.Equal(t, a, res.Change.Old)
	assert.Equal(t, b, res.Change.New)
	assert.Equal(t, 3, res.Objects, "objects behind the remote tip are not resent")
	assert.Equal(t, b, refTip(t, upstream, "refs/heads/main"))

	res, err = local.Push(context.Background(), main, "origin", PushOptions{})
	require.NoError(t, err)
	assert.Equal(t, RefUpToDate, res.Change.Status)
	assert.Zero(t, res.Objects)
}

func TestPushNonFastForwardAndForce(t *testing.T) {
	upstream, local := newRemotePair(t)
	commitChanges(t, local, "A", map[string]string{"f.txt": "a\n"})
	main := LocalBranch{Name: "main"}
	_, err := local.Push(context.Background(), main, "origin", PushOptions{})
	require.NoError(t, err)

	b := commitChanges(t, local, "B", map[string]string{"f.txt": "b\n"})
	_, err = local.Push(context.Background(), main, "origin", PushOptions{})
	require.NoError(t, err)

	// Someone else moves the remote branch on.
	d := commitChanges(t, upstream, "D", map[string]string{"u.txt": "upstream\n"})
	require.NotEqual(t, b, d)

	_, err = local.Push(context.Background(), main, "origin", PushOptions{})
	require.ErrorIs(t, err, ErrNonFastForward)
	assert.Equal(t, d, refTip(t, upstream, "refs/heads/main"))
	assert.Equal(t, b, refTip(t, local, "refs/remotes/origin/main"), "tracking ref untouched on rejection")
	assert.True(t, local.Store.Has(d), "remote head is fetched for the ancestry check")

	res, err := local.Push(context.Background(), main, "origin", PushOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, RefForced, res.Change.Status)
	assert.Equal(t, b, refTip(t, upstream, "refs/heads/main"))
	assert.Equal(t, b, refTip(t, local, "refs/remotes/origin/main"))
}

func TestPushErrors(t *testing.T) {
	_, local := newRemotePair(t)
	_, err := local.Push(context.Background(), LocalBranch{Name: "main"}, "origin", PushOptions{})
	require.ErrorIs(t, err, ErrNotFound, "unborn branch")

	commitChanges(t, local, "A", map[string]string{"f.txt": "a\n"})
	_, err = local.Push(context.Background(), LocalBranch{Name: "main"}, "missing", PushOptions{})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = local.Push(context.Background(), LocalBranch{Name: "bad name"}, "origin", PushOptions{})
	require.Error(t, err)
}

func TestPullFastForwardsFromUpstream(t *testing.T) {
	upstream, local := newRemotePair(t)
	a := commitChanges(t, upstream, "A", map[string]string{"f.txt": "a\n"})
	require.NoError(t, upstream.CreateBranch("trunk", a))
	switchTo(t, upstream, "trunk")
	tr := commitChanges(t, upstream, "T", map[string]string{"t.txt": "trunk\n"})
	cloneMain(t, local)

	main := LocalBranch{Name: "main"}
	require.NoError(t, local.SetUpstream(main, RemoteBranch{Remote: "origin", Name: "trunk"}))

	res, err := local.Pull(context.Background(), main, "", PullOptions{})
	require.NoError(t, err)
	assert.Equal(t, RemoteBranch{Remote: "origin", Name: "trunk"}, res.Source)
	require.NotNil(t, res.Fetch)
	require.NotNil(t, res.Merge)
	assert.Equal(t, MergeOutcomeFastForward, res.Merge.Outcome)
	assert.Equal(t, tr, headTip(t, local))
	assert.Equal(t, "trunk\n", readFile(t, local, "t.txt"))
}

func TestPullMergesDivergedRemote(t *testing.T) {
	upstream, local := newRemotePair(t)
	commitChanges(t, upstream, "A", map[string]string{"f.txt": "a\n"})
	cloneMain(t, local)

	l := commitChanges(t, local, "L", map[string]string{"local.txt": "local\n"})
	u := commitChanges(t, upstream, "U", map[string]string{"remote.txt": "remote\n"})

	res, err := local.Pull(context.Background(), LocalBranch{Name: "main"}, "origin", PullOptions{})
	require.NoError(t, err)
	require.Equal(t, MergeOutcomeMerged, res.Merge.Outcome)
	merge, err := local.LookupCommit(res.Merge.MergeCommit)
	require.NoError(t, err)
	assert.Equal(t, []object.Hash{l, u}, merge.Parents)
	assert.Equal(t, "Merge branch 'origin/main'", merge.Message)
	assert.Equal(t, "remote\n", readFile(t, local, "remote.txt"))
	assert.Equal(t, "local\n", readFile(t, local, "local.txt"))
}

func TestPullFastForwardOnlyRefusesDiverged(t *testing.T) {
	upstream, local := newRemotePair(t)
	commitChanges(t, upstream, "A", map[string]string{"f.txt": "a\n"})
	cloneMain(t, local)
	l := commitChanges(t, local, "L", map[string]string{"local.txt": "local\n"})
	u := commitChanges(t, upstream, "U", map[string]string{"remote.txt": "remote\n"})

	only := FastForwardOnly
	res, err := local.Pull(context.Background(), LocalBranch{Name: "main"}, "", PullOptions{FastForward: &only})
	require.ErrorIs(t, err, ErrNonFastForward)
	require.NotNil(t, res.Fetch, "the fetch half still ran")
	assert.Equal(t, u, refTip(t, local, "refs/remotes/origin/main"))
	assert.Equal(t, l, headTip(t, local))
}

func TestPullPreferenceOverridesConfig(t *testing.T) {
	upstream, local := newRemotePair(t)
	commitChanges(t, upstream, "A", map[string]string{"f.txt": "a\n"})
	cloneMain(t, local)
	l := commitChanges(t, local, "L", map[string]string{"local.txt": "local\n"})
	u := commitChanges(t, upstream, "U", map[string]string{"remote.txt": "remote\n"})

	cfg, err := local.ReadConfig()
	require.NoError(t, err)
	cfg.Set("merge", "ff", "only")
	require.NoError(t, local.WriteConfig(cfg))
	main := LocalBranch{Name: "main"}

	_, err = local.Pull(context.Background(), main, "", PullOptions{})
	require.ErrorIs(t, err, ErrNonFastForward, "no override follows merge.ff")
	assert.Equal(t, l, headTip(t, local))

	def := FastForwardDefault
	res, err := local.Pull(context.Background(), main, "", PullOptions{FastForward: &def})
	require.NoError(t, err)
	require.Equal(t, MergeOutcomeMerged, res.Merge.Outcome)
	merge, err := local.LookupCommit(res.Merge.MergeCommit)
	require.NoError(t, err)
	assert.Equal(t, []object.Hash{l, u}, merge.Parents)
}

func TestPullUnknownRemote(t *testing.T) {
	r := newTestRepo(t)
	commitChanges(t, r, "A", map[string]string{"f.txt": "a\n"})
	res, err := r.Pull(context.Background(), LocalBranch{Name: "main"}, "nowhere", PullOptions{})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, res.Merge)
}

func TestRepoRemoveRemoteDeletesTrackingRefs(t *testing.T) {
	upstream, local := newRemotePair(t)
	commitChanges(t, upstream, "A", map[string]string{"a.txt": "a\n"})
	cloneMain(t, local)
	require.NoError(t, local.SetUpstream(LocalBranch{Name: "main"}, RemoteBranch{Remote: "origin", Name: "main"}))

	require.NoError(t, local.RemoveRemote("origin"))

	_, err := local.ResolveRef("refs/remotes/origin/main")
	require.ErrorIs(t, err, ErrNotFound)
	_, ok, err := local.Upstream(LocalBranch{Name: "main"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.ErrorIs(t, local.RemoveRemote("origin"), ErrNotFound)
}
