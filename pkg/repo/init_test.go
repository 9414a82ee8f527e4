package repo

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLayout(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	require.NoError(t, err)

	for _, sub := range []string{"objects", "refs/heads", "refs/remotes", "logs/refs/heads"} {
		info, err := os.Stat(filepath.Join(r.GotDir, filepath.FromSlash(sub)))
		require.NoError(t, err, sub)
		assert.True(t, info.IsDir(), sub)
	}
	head, err := r.Head()
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/"+DefaultBranch, head)

	_, err = Init(dir)
	require.Error(t, err, "second init must fail")
}

func TestOpenSearchesUpward(t *testing.T) {
	dir := t.TempDir()
	created, err := Init(dir)
	require.NoError(t, err)
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	r, err := Open(nested)
	require.NoError(t, err)
	assert.Equal(t, created.RootDir, r.RootDir)
	assert.Equal(t, created.GotDir, r.GotDir)

	_, err = Open(t.TempDir())
	require.Error(t, err)
}

func TestWithLoggerReceivesEngineEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r, err := Init(t.TempDir(), WithLogger(logger))
	require.NoError(t, err)

	commitChanges(t, r, "A", map[string]string{"f.txt": "a\n"})
	assert.Contains(t, buf.String(), "ref updated")
	assert.Contains(t, buf.String(), "op=commit")
}
