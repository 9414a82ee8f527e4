package diff3

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(ls ...string) []byte {
	if len(ls) == 0 {
		return nil
	}
	return []byte(strings.Join(ls, "\n") + "\n")
}

func TestMerge_CleanTopBottom(t *testing.T) {
	base := lines("a", "b", "c", "d", "e")
	ours := lines("A", "b", "c", "d", "e")
	theirs := lines("a", "b", "c", "d", "E")

	res := Merge(base, ours, theirs)
	assert.False(t, res.HasConflicts)
	assert.Equal(t, string(lines("A", "b", "c", "d", "E")), string(res.Merged))
}

func TestMerge_OneSideOnly(t *testing.T) {
	base := lines("a", "b", "c")
	changed := lines("a", "B", "c")

	res := Merge(base, changed, base)
	assert.False(t, res.HasConflicts)
	assert.Equal(t, string(changed), string(res.Merged))

	res = Merge(base, base, changed)
	assert.False(t, res.HasConflicts)
	assert.Equal(t, string(changed), string(res.Merged))
}

func TestMerge_Conflict(t *testing.T) {
	base := lines("a", "b", "c")
	ours := lines("a", "ours", "c")
	theirs := lines("a", "theirs", "c")

	res := Merge(base, ours, theirs)
	require.True(t, res.HasConflicts)
	assert.Equal(t, 1, res.ConflictCount)

	want := "a\n<<<<<<< ours\nours\n=======\ntheirs\n>>>>>>> theirs\nc\n"
	assert.Equal(t, want, string(res.Merged))

	var conflict *Hunk
	for i := range res.Hunks {
		if res.Hunks[i].Type == HunkConflict {
			conflict = &res.Hunks[i]
		}
	}
	require.NotNil(t, conflict)
	assert.Equal(t, "b\n", string(conflict.Base))
	assert.Equal(t, "ours\n", string(conflict.Ours))
	assert.Equal(t, "theirs\n", string(conflict.Theirs))
}

func TestMerge_CustomLabels(t *testing.T) {
	res := MergeWithOptions(lines("x"), lines("y"), lines("z"), Options{OursLabel: "HEAD", TheirsLabel: "feature"})
	require.True(t, res.HasConflicts)
	assert.Contains(t, string(res.Merged), "<<<<<<< HEAD\n")
	assert.Contains(t, string(res.Merged), ">>>>>>> feature\n")
}

func TestMerge_IdenticalChange(t *testing.T) {
	base := lines("a", "b", "c")
	both := lines("a", "same", "c")

	res := Merge(base, both, both)
	assert.False(t, res.HasConflicts)
	assert.Equal(t, string(both), string(res.Merged))
}

func TestMerge_NonOverlappingInserts(t *testing.T) {
	base := lines("aaa", "bbb", "ccc", "ddd", "eee")
	ours := lines("aaa", "OUR-INSERT", "bbb", "ccc", "ddd", "eee")
	theirs := lines("aaa", "bbb", "ccc", "ddd", "THEIR-INSERT", "eee")

	res := Merge(base, ours, theirs)
	assert.False(t, res.HasConflicts)
	assert.Equal(t, string(lines("aaa", "OUR-INSERT", "bbb", "ccc", "ddd", "THEIR-INSERT", "eee")), string(res.Merged))
}

func TestMerge_DeleteVsModify(t *testing.T) {
	base := lines("aaa", "bbb", "ccc")
	ours := lines("aaa", "ccc")
	theirs := lines("aaa", "BBB-MOD", "ccc")

	res := Merge(base, ours, theirs)
	assert.True(t, res.HasConflicts)
}

func TestMerge_DeleteBothSides(t *testing.T) {
	base := lines("aaa", "bbb", "ccc")
	both := lines("aaa", "ccc")

	res := Merge(base, both, both)
	assert.False(t, res.HasConflicts)
	assert.Equal(t, string(both), string(res.Merged))
}

func TestMerge_EmptyBase(t *testing.T) {
	res := Merge(nil, lines("ours"), lines("theirs"))
	assert.True(t, res.HasConflicts)
}

func TestMerge_EmptyInputs(t *testing.T) {
	base := lines("a", "b")

	res := Merge(base, nil, base)
	assert.False(t, res.HasConflicts)
	assert.Empty(t, res.Merged)

	res = Merge(base, base, nil)
	assert.False(t, res.HasConflicts)
	assert.Empty(t, res.Merged)

	res = Merge(nil, nil, nil)
	assert.False(t, res.HasConflicts)
	assert.Empty(t, res.Merged)
}

func TestMerge_FinalNewlineFollowsChangedSide(t *testing.T) {
	res := Merge([]byte("a\nb\nc\n"), []byte("A\nb\nc\n"), []byte("a\nb\nc"))
	assert.False(t, res.HasConflicts)
	assert.Equal(t, "A\nb\nc", string(res.Merged), "theirs dropped the final newline")

	res = Merge([]byte("a\nb\nc"), []byte("a\nb\nc\n"), []byte("a\nB\nc"))
	assert.False(t, res.HasConflicts)
	assert.Equal(t, "a\nB\nc\n", string(res.Merged), "ours added the final newline")

	res = Merge([]byte("a\nb\nc"), []byte("A\nb\nc"), []byte("a\nb\nC"))
	assert.False(t, res.HasConflicts)
	assert.Equal(t, "A\nb\nC", string(res.Merged), "no newline is invented")

	res = Merge([]byte("x\ny"), []byte("x\ny\n"), []byte("x\ny\n"))
	assert.False(t, res.HasConflicts)
	assert.Equal(t, "x\ny\n", string(res.Merged))
}

func TestMerge_FinalNewlineConflict(t *testing.T) {
	res := Merge([]byte("a\nc"), []byte("a\nc\n"), []byte("a\nC"))
	require.True(t, res.HasConflicts)
	assert.Equal(t, 1, res.ConflictCount)
	assert.Equal(t, "a\n<<<<<<< ours\nc\n=======\nC\n>>>>>>> theirs\n", string(res.Merged))

	var conflict *Hunk
	for i := range res.Hunks {
		if res.Hunks[i].Type == HunkConflict {
			conflict = &res.Hunks[i]
		}
	}
	require.NotNil(t, conflict)
	assert.Equal(t, "c", string(conflict.Base))
	assert.Equal(t, "c\n", string(conflict.Ours))
	assert.Equal(t, "C", string(conflict.Theirs))
}

func TestMerge_Binary(t *testing.T) {
	base := []byte("bin\x00base")
	ours := []byte("bin\x00ours")
	theirs := []byte("bin\x00theirs")

	res := Merge(base, ours, base)
	assert.True(t, res.Binary)
	assert.False(t, res.HasConflicts)
	assert.Equal(t, ours, res.Merged)

	res = Merge(base, base, theirs)
	assert.False(t, res.HasConflicts)
	assert.Equal(t, theirs, res.Merged)

	res = Merge(base, ours, theirs)
	assert.True(t, res.HasConflicts)
	assert.Equal(t, ours, res.Merged)
	assert.False(t, bytes.Contains(res.Merged, []byte("<<<<<<<")))
}

func TestMerge_LargeFile(t *testing.T) {
	var base []string
	for i := 0; i < 500; i++ {
		base = append(base, fmt.Sprintf("line %d", i))
	}
	ours := append([]string(nil), base...)
	theirs := append([]string(nil), base...)
	ours[10] = "ours 10"
	theirs[480] = "theirs 480"

	res := Merge(lines(base...), lines(ours...), lines(theirs...))
	assert.False(t, res.HasConflicts)

	want := append([]string(nil), base...)
	want[10] = "ours 10"
	want[480] = "theirs 480"
	assert.Equal(t, string(lines(want...)), string(res.Merged))
}

func TestIsBinary(t *testing.T) {
	assert.False(t, IsBinary([]byte("plain text\n")))
	assert.True(t, IsBinary([]byte{'a', 0, 'b'}))
}
