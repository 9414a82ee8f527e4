package repo

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odvcencio/gotsync/pkg/object"
)

const testAuthor = "Test <test@example.com>"

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := Init(t.TempDir())
	require.NoError(t, err)
	return r
}

func writeFile(t *testing.T, r *Repo, rel, content string) {
	t.Helper()
	abs := filepath.Join(r.RootDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func readFile(t *testing.T, r *Repo, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(r.RootDir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func fileExists(r *Repo, rel string) bool {
	_, err := os.Stat(filepath.Join(r.RootDir, filepath.FromSlash(rel)))
	return err == nil
}

// commitChanges writes files (an empty value deletes the file), stages
// them and commits on the current branch.
func commitChanges(t *testing.T, r *Repo, msg string, files map[string]string) object.Hash {
	t.Helper()
	paths := make([]string, 0, len(files))
	for rel, content := range files {
		abs := filepath.Join(r.RootDir, filepath.FromSlash(rel))
		if content == "" {
			require.NoError(t, os.Remove(abs))
		} else {
			writeFile(t, r, rel, content)
		}
		paths = append(paths, abs)
	}
	sort.Strings(paths)
	require.NoError(t, r.Add(paths))
	h, err := r.Commit(msg, testAuthor)
	require.NoError(t, err)
	return h
}

// switchTo moves HEAD to an existing branch and checks it out.
func switchTo(t *testing.T, r *Repo, name string) {
	t.Helper()
	require.NoError(t, r.SwitchBranch(name))
}

func headTip(t *testing.T, r *Repo) object.Hash {
	t.Helper()
	h, err := r.HeadCommit()
	require.NoError(t, err)
	return h
}

// treeFiles returns path -> content for the tree of commit c.
func treeFiles(t *testing.T, r *Repo, c object.Hash) map[string]string {
	t.Helper()
	commit, err := r.LookupCommit(c)
	require.NoError(t, err)
	entries, err := r.FlattenTree(commit.TreeHash)
	require.NoError(t, err)
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		blob, err := r.Store.ReadBlob(e.BlobHash)
		require.NoError(t, err)
		out[e.Path] = string(blob.Data)
	}
	return out
}

// divergedRepo builds:
//
//	A (main.txt, shared.txt) ── B (main adds ours.txt)      main
//	  └──────────────────────── C (feature adds theirs.txt) feature
//
// and leaves HEAD on main.
func divergedRepo(t *testing.T) (r *Repo, a, b, c object.Hash) {
	t.Helper()
	r = newTestRepo(t)
	a = commitChanges(t, r, "A", map[string]string{
		"main.txt":   "base\n",
		"shared.txt": "one\ntwo\nthree\n",
	})
	require.NoError(t, r.CreateBranch("feature", a))
	b = commitChanges(t, r, "B", map[string]string{"ours.txt": "ours\n"})
	switchTo(t, r, "feature")
	c = commitChanges(t, r, "C", map[string]string{"theirs.txt": "theirs\n"})
	switchTo(t, r, "main")
	return r, a, b, c
}
