package remote

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCapabilities(t *testing.T) {
	caps := ParseCapabilities(" zstd, sideband ,,")
	assert.True(t, caps.Has("zstd"))
	assert.True(t, caps.Has("sideband"))
	assert.False(t, caps.Has(""))
	assert.False(t, caps.Has("nonexistent"))
}

func TestCapabilitiesIntersect(t *testing.T) {
	common := ParseCapabilities(ClientCapabilities).Intersect(ParseCapabilities("zstd,shallow"))
	assert.Equal(t, "zstd", common.String())
}

func TestCapabilitiesString(t *testing.T) {
	assert.Equal(t, "shallow,sideband,zstd", ParseCapabilities("zstd,shallow,sideband").String())
	assert.Equal(t, "", ParseCapabilities("").String())
}

func TestRemoteErrorFormat(t *testing.T) {
	re := &RemoteError{Code: "ref_not_found", Message: "ref not found", Detail: "heads/main"}
	assert.Equal(t, "ref not found (ref_not_found): heads/main", re.Error())
	re.Detail = ""
	assert.Equal(t, "ref not found (ref_not_found)", re.Error())
}

func TestRemoteErrorMatchesRefConflict(t *testing.T) {
	conflict := fmt.Errorf("update refs: %w", &RemoteError{Code: "ref_conflict", Message: "stale"})
	assert.ErrorIs(t, conflict, ErrRefConflict)

	other := &RemoteError{Code: "forbidden", Message: "nope"}
	assert.NotErrorIs(t, other, ErrRefConflict)
}

func TestTryParseRemoteError(t *testing.T) {
	re := tryParseRemoteError([]byte(`{"code":"ref_conflict","error":"stale","detail":"heads/main"}`))
	require.NotNil(t, re)
	assert.Equal(t, "ref_conflict", re.Code)
	assert.Equal(t, "heads/main", re.Detail)

	assert.Nil(t, tryParseRemoteError([]byte("plain text")))
	assert.Nil(t, tryParseRemoteError([]byte(`{"unrelated":true}`)))
}

func TestWireRefNames(t *testing.T) {
	assert.Equal(t, "heads/main", toWireRef("refs/heads/main"))
	assert.Equal(t, "heads/main", toWireRef("heads/main"))
	assert.Equal(t, "refs/heads/main", fromWireRef("heads/main"))
	assert.Equal(t, "refs/tags/v1", fromWireRef("refs/tags/v1"))
	assert.Equal(t, "HEAD", fromWireRef("HEAD"))
}
