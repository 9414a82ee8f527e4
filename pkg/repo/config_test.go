package repo

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`[user]
name = Alice
email = alice@example.com
[merge]
ff = only
[remote "origin"]
url = https://example.com/alice/repo
fetch = +refs/heads/*:refs/remotes/origin/*
fetch = +refs/tags/*:refs/tags/*
[branch "main"]
remote = origin
merge = refs/heads/main
`))
	require.NoError(t, err)

	assert.Equal(t, "Alice", cfg.UserName())
	assert.Equal(t, "alice@example.com", cfg.UserEmail())
	assert.Equal(t, FastForwardOnly, cfg.FastForward())

	rc, ok := cfg.Remote("origin")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/alice/repo", rc.URL)
	assert.Equal(t, []string{
		"+refs/heads/*:refs/remotes/origin/*",
		"+refs/tags/*:refs/tags/*",
	}, rc.Fetch)
	assert.Equal(t, []string{"origin"}, cfg.Remotes())

	up, ok := cfg.Upstream("main")
	require.True(t, ok)
	assert.Equal(t, RemoteBranch{Remote: "origin", Name: "main"}, up)
	_, ok = cfg.Upstream("other")
	assert.False(t, ok)
}

func TestConfigFastForwardFallback(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, FastForwardDefault, cfg.FastForward())
	cfg.Set("merge", "ff", "false")
	assert.Equal(t, NoFastForward, cfg.FastForward())
	cfg.Set("merge", "ff", "sometimes")
	assert.Equal(t, FastForwardDefault, cfg.FastForward())
}

func TestRepoRemoteRoundTrip(t *testing.T) {
	r := newTestRepo(t)

	_, err := r.Remote("origin")
	require.ErrorIs(t, err, ErrNotFound)

	require.Error(t, r.SetRemote("", "https://x"))
	require.Error(t, r.SetRemote("bad/name", "https://x"))
	require.Error(t, r.SetRemote("origin", " "))

	require.NoError(t, r.SetRemote("origin", "https://example.com/one"))
	rc, err := r.Remote("origin")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/one", rc.URL)
	assert.Equal(t, []string{DefaultFetchRefspec("origin")}, rc.Fetch)

	// Changing the URL keeps custom fetch lines.
	cfg, err := r.ReadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.SetRemote(RemoteConfig{
		Name:  "origin",
		URL:   rc.URL,
		Fetch: []string{"refs/heads/main:refs/remotes/origin/main", "+refs/heads/dev:refs/remotes/origin/dev"},
	}))
	require.NoError(t, r.WriteConfig(cfg))
	require.NoError(t, r.SetRemote("origin", "https://example.com/two"))

	rc, err = r.Remote("origin")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/two", rc.URL)
	assert.Len(t, rc.Fetch, 2)

	url, err := r.RemoteURL("origin")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/two", url)
}

func TestConcurrentSetRemoteKeepsEveryRemote(t *testing.T) {
	r := newTestRepo(t)
	const n = 16

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.SetRemote(fmt.Sprintf("r%02d", i), fmt.Sprintf("https://example.com/%d", i))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	cfg, err := r.ReadConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.Remotes(), n)
}

func TestUpstreamRequiresConfiguredRemote(t *testing.T) {
	r := newTestRepo(t)
	main := LocalBranch{Name: "main"}

	err := r.SetUpstream(main, RemoteBranch{Remote: "origin", Name: "main"})
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.SetRemote("origin", "https://example.com/repo"))
	require.NoError(t, r.SetUpstream(main, RemoteBranch{Remote: "origin", Name: "trunk"}))
	up, ok, err := r.Upstream(main)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RemoteBranch{Remote: "origin", Name: "trunk"}, up)
}

func TestRemoveRemoteDropsUpstreams(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.SetRemote(RemoteConfig{Name: "origin", URL: "https://a"}))
	require.NoError(t, cfg.SetRemote(RemoteConfig{Name: "backup", URL: "https://b"}))
	cfg.SetUpstream("main", RemoteBranch{Remote: "origin", Name: "main"})
	cfg.SetUpstream("dev", RemoteBranch{Remote: "backup", Name: "dev"})

	assert.Equal(t, []string{"backup", "origin"}, cfg.Remotes())
	assert.True(t, cfg.RemoveRemote("origin"))
	assert.False(t, cfg.RemoveRemote("origin"))
	assert.Equal(t, []string{"backup"}, cfg.Remotes())
	_, ok := cfg.Upstream("main")
	assert.False(t, ok)
	_, ok = cfg.Upstream("dev")
	assert.True(t, ok)
}

func TestCommitUsesConfiguredAuthor(t *testing.T) {
	r := newTestRepo(t)
	cfg, err := r.ReadConfig()
	require.NoError(t, err)
	cfg.Set("user", "name", "Alice")
	cfg.Set("user", "email", "alice@example.com")
	require.NoError(t, r.WriteConfig(cfg))

	writeFile(t, r, "f.txt", "x\n")
	require.NoError(t, r.Add([]string{r.RootDir + string(os.PathSeparator) + "f.txt"}))
	h, err := r.Commit("first", "")
	require.NoError(t, err)
	c, err := r.LookupCommit(h)
	require.NoError(t, err)
	assert.Equal(t, "Alice <alice@example.com>", c.Author)
}
