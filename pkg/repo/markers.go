package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/gotsync/pkg/object"
)

const (
	mergeHeadFile      = "MERGE_HEAD"
	mergeMsgFile       = "MERGE_MSG"
	cherryPickHeadFile = "CHERRY_PICK_HEAD"
)

// MergeState names the operation, if any, left in progress on disk.
type MergeState int

const (
	MergeStateNone MergeState = iota
	MergeStateMerge
	MergeStateCherryPick
)

func (s MergeState) String() string {
	switch s {
	case MergeStateMerge:
		return "merge"
	case MergeStateCherryPick:
		return "cherry-pick"
	default:
		return "none"
	}
}

// MergeState reports which in-progress marker exists under .got/.
func (r *Repo) MergeState() MergeState {
	switch {
	case r.hasMarker(mergeHeadFile):
		return MergeStateMerge
	case r.hasMarker(cherryPickHeadFile):
		return MergeStateCherryPick
	default:
		return MergeStateNone
	}
}

func (r *Repo) markerPath(name string) string {
	return filepath.Join(r.GotDir, name)
}

func (r *Repo) hasMarker(name string) bool {
	_, err := os.Stat(r.markerPath(name))
	return err == nil
}

func (r *Repo) readMergeHead() (object.Hash, bool, error) {
	data, err := os.ReadFile(r.markerPath(mergeHeadFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", mergeHeadFile, err)
	}
	h := object.Hash(strings.TrimSpace(string(data)))
	if err := object.ValidateHash(h); err != nil {
		return "", false, fmt.Errorf("read %s: %w: %w", mergeHeadFile, ErrUnexpected, err)
	}
	return h, true, nil
}

func (r *Repo) readMergeMsg() string {
	data, err := os.ReadFile(r.markerPath(mergeMsgFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// writeMergeState records an in-progress merge of source.
func (r *Repo) writeMergeState(source object.Hash, message string) error {
	if err := os.WriteFile(r.markerPath(mergeHeadFile), []byte(string(source)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", mergeHeadFile, err)
	}
	if err := os.WriteFile(r.markerPath(mergeMsgFile), []byte(message+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", mergeMsgFile, err)
	}
	return nil
}

// clearMergeState removes MERGE_HEAD and MERGE_MSG.
func (r *Repo) clearMergeState() error {
	for _, name := range []string{mergeHeadFile, mergeMsgFile} {
		if err := os.Remove(r.markerPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}
