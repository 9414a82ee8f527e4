package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/gotsync/pkg/object"
)

func TestIsAncestor(t *testing.T) {
	r, a, b, c := divergedRepo(t)

	for _, tc := range []struct {
		anc, desc object.Hash
		want      bool
	}{
		{a, b, true},
		{a, c, true},
		{b, b, true},
		{b, a, false},
		{b, c, false},
		{"", b, false},
	} {
		got, err := r.IsAncestor(tc.anc, tc.desc)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s..%s", tc.anc.Short(), tc.desc.Short())
	}
}

func TestFindMergeBase(t *testing.T) {
	r, a, b, c := divergedRepo(t)

	base, err := r.FindMergeBase(b, c)
	require.NoError(t, err)
	assert.Equal(t, a, base)
	base, err = r.FindMergeBase(c, b)
	require.NoError(t, err)
	assert.Equal(t, a, base, "cached pair is order independent")

	base, err = r.FindMergeBase(a, b)
	require.NoError(t, err)
	assert.Equal(t, a, base)

	base, err = r.FindMergeBase(b, "")
	require.NoError(t, err)
	assert.True(t, base.IsZero())
}

func TestFindMergeBaseAfterMerge(t *testing.T) {
	r, _, _, c := divergedRepo(t)
	res, err := r.Merge(LocalBranch{Name: "feature"})
	require.NoError(t, err)

	switchTo(t, r, "feature")
	d := commitChanges(t, r, "D", map[string]string{"theirs.txt": "theirs 2\n"})
	base, err := r.FindMergeBase(res.MergeCommit, d)
	require.NoError(t, err)
	assert.Equal(t, c, base, "the previous merge moves the base forward")
}

func TestFindMergeBaseUnrelated(t *testing.T) {
	r := newTestRepo(t)
	a := commitChanges(t, r, "A", map[string]string{"f.txt": "a\n"})
	tree, err := r.Store.WriteTree(&object.TreeObj{})
	require.NoError(t, err)
	orphan, err := r.Store.WriteCommit(&object.CommitObj{TreeHash: tree, Author: testAuthor, Message: "orphan"})
	require.NoError(t, err)

	base, err := r.FindMergeBase(a, orphan)
	require.NoError(t, err)
	assert.True(t, base.IsZero())
}

func TestTraversalLimitNormalization(t *testing.T) {
	assert.Equal(t, 10, normalizeTraversalLimit(10, 100))
	assert.Equal(t, 100, normalizeTraversalLimit(0, 100))
	assert.Equal(t, 100, normalizeTraversalLimit(-1, 100))
	assert.Equal(t, 100, normalizeTraversalLimit(1000, 100))
}
