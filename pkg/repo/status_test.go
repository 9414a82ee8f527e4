package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusOf(t *testing.T, r *Repo) map[string][2]FileStatus {
	t.Helper()
	st, err := r.Status()
	require.NoError(t, err)
	out := make(map[string][2]FileStatus, len(st.Entries))
	for _, e := range st.Entries {
		out[e.Path] = [2]FileStatus{e.IndexStatus, e.WorkStatus}
	}
	return out
}

func TestStatusCleanAfterCommit(t *testing.T) {
	r := newTestRepo(t)
	commitChanges(t, r, "A", map[string]string{"f.txt": "a\n", "dir/g.txt": "g\n"})

	st, err := r.Status()
	require.NoError(t, err)
	assert.Equal(t, "main", st.Branch)
	assert.NotEmpty(t, st.Head)
	assert.Equal(t, MergeStateNone, st.State)
	assert.Empty(t, st.Entries)
}

func TestStatusReportsChanges(t *testing.T) {
	r := newTestRepo(t)
	commitChanges(t, r, "A", map[string]string{"f.txt": "a\n", "gone.txt": "g\n", "staged.txt": "s\n"})

	writeFile(t, r, "f.txt", "edited\n")
	writeFile(t, r, "new.txt", "n\n")
	writeFile(t, r, "staged.txt", "s2\n")
	writeFile(t, r, "added.txt", "x\n")
	require.NoError(t, r.Add([]string{
		filepath.Join(r.RootDir, "staged.txt"),
		filepath.Join(r.RootDir, "added.txt"),
	}))
	require.NoError(t, os.Remove(filepath.Join(r.RootDir, "gone.txt")))

	assert.Equal(t, map[string][2]FileStatus{
		"f.txt":      {StatusClean, StatusModified},
		"new.txt":    {StatusUntracked, StatusUntracked},
		"staged.txt": {StatusModified, StatusClean},
		"added.txt":  {StatusNew, StatusClean},
		"gone.txt":   {StatusClean, StatusDeleted},
	}, statusOf(t, r))
}

func TestStatusHonoursIgnoreFile(t *testing.T) {
	r := newTestRepo(t)
	writeFile(t, r, IgnoreFile, "*.log\nbuild/\n!keep.log\n")
	writeFile(t, r, "debug.log", "x\n")
	writeFile(t, r, "keep.log", "x\n")
	writeFile(t, r, "build/out.bin", "x\n")

	got := statusOf(t, r)
	assert.Contains(t, got, "keep.log")
	assert.Contains(t, got, IgnoreFile)
	assert.NotContains(t, got, "debug.log")
	assert.NotContains(t, got, "build/out.bin")
	for p := range got {
		assert.NotContains(t, p, ".got/")
	}
}

func TestStatusDuringConflictedMerge(t *testing.T) {
	r, _, _ := divergedConflictRepo(t)
	_, err := r.Merge(LocalBranch{Name: "feature"})
	require.ErrorIs(t, err, ErrConflict)

	st, err := r.Status()
	require.NoError(t, err)
	assert.Equal(t, MergeStateMerge, st.State)
	assert.Equal(t, []string{"shared.txt"}, st.Conflicts())
	assert.Equal(t, "merge", st.State.String())
}

func TestIgnoreChecker(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, IgnoreFile), []byte(`# comment
*.tmp
/vendor/
docs/**/draft.md
!important.tmp
node_modules/
`), 0o644))
	ic := NewIgnoreChecker(dir)

	tests := map[string]bool{
		".got":                      true,
		".got/objects/ab":           true,
		".git/HEAD":                 true,
		"a.tmp":                     true,
		"deep/b.tmp":                true,
		"important.tmp":             false,
		"vendor/x.go":               true,
		"docs/draft.md":             true,
		"docs/a/b/draft.md":         true,
		"docs/final.md":             false,
		"web/node_modules/pkg/i.js": true,
		"main.go":                   false,
	}
	for p, want := range tests {
		assert.Equal(t, want, ic.IsIgnored(p), p)
	}
}

func TestIgnoreCheckerWithoutFile(t *testing.T) {
	ic := NewIgnoreChecker(t.TempDir())
	assert.True(t, ic.IsIgnored(".got/HEAD"))
	assert.False(t, ic.IsIgnored("README.md"))
}
