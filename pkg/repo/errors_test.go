package repo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/gotsync/pkg/object"
)

func TestWrapStoreClassifies(t *testing.T) {
	err := wrapStore("read", StoreCodeGeneric, fmt.Errorf("x: %w", object.ErrObjectNotFound))
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StoreCodeNotFound, se.Code)
	assert.ErrorIs(t, err, object.ErrObjectNotFound)
	assert.Contains(t, err.Error(), "store error (not-found)")

	err = wrapStore("update", StoreCodeGeneric, fmt.Errorf("y: %w", ErrRefCASMismatch))
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StoreCodeCASMismatch, se.Code)

	err = wrapStore("fetch", StoreCodeTransport, errors.New("connection reset"))
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StoreCodeTransport, se.Code)

	assert.NoError(t, wrapStore("noop", StoreCodeGeneric, nil))
}

func TestWrapStorePassesTaxonomyThrough(t *testing.T) {
	err := wrapStore("merge", StoreCodeGeneric, fmt.Errorf("inner: %w", ErrNonFastForward))
	var se *StoreError
	assert.False(t, errors.As(err, &se))
	assert.ErrorIs(t, err, ErrNonFastForward)

	inner := &StoreError{Op: "read", Code: StoreCodeLocked, Err: errRefLocked}
	err = wrapStore("outer", StoreCodeTransport, inner)
	require.ErrorAs(t, err, &se)
	assert.Same(t, inner, se)
}

func TestConflictErrorsMatchErrConflict(t *testing.T) {
	var err error = &MergeConflictError{Paths: []string{"a", "b"}}
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "merge conflict in 2 file(s): a, b", err.Error())

	err = fmt.Errorf("switch: %w", &CheckoutConflictError{Paths: []string{"x"}})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrLocalConflict)
}

func TestRefUpdateReflogError(t *testing.T) {
	err := &RefUpdateReflogError{Ref: "refs/heads/main", NewHash: "abc", Err: errors.New("disk full")}
	assert.ErrorIs(t, err, ErrRefUpdatedButReflogAppendFailed)
	assert.Contains(t, err.Error(), "refs/heads/main")
}
