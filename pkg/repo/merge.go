package repo

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/odvcencio/gotsync/pkg/diff3"
	"github.com/odvcencio/gotsync/pkg/object"
)

// FileMergeStatus is the per-file outcome of a three-way merge.
type FileMergeStatus string

const (
	FileMergeClean    FileMergeStatus = "clean"
	FileMergeAdded    FileMergeStatus = "added"
	FileMergeDeleted  FileMergeStatus = "deleted"
	FileMergeConflict FileMergeStatus = "conflict"
)

// FileMergeReport records the merge outcome for a single file.
type FileMergeReport struct {
	Path          string
	Status        FileMergeStatus
	ConflictCount int
	Binary        bool
}

// MergeReport is the overall result of a repository-level merge. Only
// files the source side changed are listed.
type MergeReport struct {
	Files          []FileMergeReport
	HasConflicts   bool
	TotalConflicts int
	LocalConflicts []string    // paths the merge refused to overwrite
	MergeCommit    object.Hash // set when the merge was committed
}

func (rep *MergeReport) add(fr FileMergeReport) {
	rep.Files = append(rep.Files, fr)
	if fr.Status == FileMergeConflict {
		rep.HasConflicts = true
		rep.TotalConflicts += fr.ConflictCount
	}
}

// MergeOutcome is what Merge ended up doing.
type MergeOutcome int

const (
	MergeOutcomeNone MergeOutcome = iota
	MergeOutcomeUpToDate
	MergeOutcomeFastForward
	MergeOutcomeMerged
)

func (o MergeOutcome) String() string {
	switch o {
	case MergeOutcomeUpToDate:
		return "up-to-date"
	case MergeOutcomeFastForward:
		return "fast-forward"
	case MergeOutcomeMerged:
		return "merged"
	default:
		return "none"
	}
}

// MergeOptions configures MergeWithOptions.
type MergeOptions struct {
	FastForward FastForwardPreference
	Message     string // merge commit message; defaults to "Merge branch '<source>'"
	Author      string // merge commit author; defaults to the configured user
}

// MergeResult describes a finished merge. For a conflicted merge it is
// returned alongside the error with Report filled in.
type MergeResult struct {
	Analysis    MergeAnalysis
	Outcome     MergeOutcome
	OldTip      object.Hash
	NewTip      object.Hash
	MergeCommit object.Hash
	Report      *MergeReport
}

// Merge merges branch into the current branch, honouring the merge.ff
// setting from the repository config.
func (r *Repo) Merge(branch Branch) (*MergeResult, error) {
	cfg, err := r.ReadConfig()
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	return r.MergeWithOptions(branch, MergeOptions{FastForward: cfg.FastForward()})
}

// MergeWithOptions merges branch into the current branch.
//
//  1. Refuse while a conflict, merge or cherry-pick is pending
//  2. Resolve the current branch (detached HEAD is an error)
//  3. Resolve both tips; identical tips are a no-op
//  4. Analyze, then fast-forward or create a merge commit
func (r *Repo) MergeWithOptions(branch Branch, opts MergeOptions) (*MergeResult, error) {
	var res *MergeResult
	err := r.withWriteLock("merge", func() error {
		var err error
		res, err = r.mergeLocked(branch, opts)
		return err
	})
	return res, err
}

func (r *Repo) mergeLocked(source Branch, opts MergeOptions) (*MergeResult, error) {
	if source == nil {
		return nil, fmt.Errorf("merge: %w: no source branch", ErrUnexpected)
	}
	if err := r.checkMergePreconditions(); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	target, err := r.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	targetTip, err := r.ResolveBranch(target)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("merge: resolve %s: %w: %w", target.Name, ErrUnexpected, err)
	}
	sourceTip, err := r.ResolveBranch(source)
	if err != nil {
		return nil, fmt.Errorf("merge: resolve %s: %w: %w", source.ShortName(), ErrUnexpected, err)
	}

	res := &MergeResult{OldTip: targetTip, NewTip: targetTip}
	if sourceTip == targetTip {
		res.Analysis = AnalysisUpToDate
		res.Outcome = MergeOutcomeUpToDate
		return res, nil
	}

	analysis, err := r.analyzeMerge(targetTip, source, opts.FastForward)
	res.Analysis = analysis
	if err != nil {
		return res, fmt.Errorf("merge: %w", err)
	}

	switch analysis.Resolve() {
	case AnalysisUpToDate:
		res.Outcome = MergeOutcomeUpToDate
	case AnalysisUnborn:
		return res, fmt.Errorf("merge: %w: branch %s has no commits", ErrUnexpected, target.Name)
	case AnalysisFastForward:
		ac, err := r.AnnotatedCommitFromRef(source)
		if err != nil {
			return res, fmt.Errorf("merge: %w", err)
		}
		defer ac.Free()
		if err := r.fastForward(target, targetTip, ac); err != nil {
			return res, fmt.Errorf("merge: %w", err)
		}
		res.Outcome = MergeOutcomeFastForward
		res.NewTip = ac.ID
	case AnalysisNormal:
		report, commit, err := r.normalMerge(source, sourceTip, target, targetTip, opts)
		res.Report = report
		if err != nil {
			return res, fmt.Errorf("merge: %w", err)
		}
		res.Outcome = MergeOutcomeMerged
		res.MergeCommit = commit
		res.NewTip = commit
	default:
		return res, fmt.Errorf("merge: %w: analysis %s", ErrUnexpected, analysis)
	}

	r.Logger.Info("merge",
		"source", source.ShortName(),
		"target", target.Name,
		"outcome", res.Outcome.String(),
		"new_tip", res.NewTip.Short())
	return res, nil
}

// normalMerge merges source into target through the merge primitive and
// commits the result with parents [targetTip, sourceTip].
func (r *Repo) normalMerge(source Branch, sourceTip object.Hash, target LocalBranch, targetTip object.Hash, opts MergeOptions) (*MergeReport, object.Hash, error) {
	ac, err := r.AnnotatedCommitFromRef(source)
	if err != nil {
		return nil, "", err
	}
	defer ac.Free()
	if ac.ID != sourceTip {
		return nil, "", fmt.Errorf("%w: %s moved during merge", ErrUnexpected, source.ShortName())
	}

	if _, err := r.ReadIndex(); err != nil {
		return nil, "", wrapStore("merge: refresh index", StoreCodeGeneric, err)
	}

	message := opts.Message
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("Merge branch '%s'", source.ShortName())
	}
	report, status, err := r.mergeAnnotated(targetTip, ac, MergeFileOptions{
		Checkout:       CheckoutSafe,
		AllowConflicts: true,
		OursLabel:      target.Name,
		TheirsLabel:    source.ShortName(),
		Message:        message,
	})
	if err != nil {
		return report, "", wrapStore("merge "+source.ShortName(), StoreCodeGeneric, err)
	}
	switch status {
	case mergeStatusClean:
	case mergeStatusLocalConflict:
		return report, "", fmt.Errorf("%w: %s", ErrLocalConflict, strings.Join(report.LocalConflicts, ", "))
	default:
		return report, "", &StoreError{Op: "merge " + source.ShortName(), Code: StoreCodeInvalid, Err: fmt.Errorf("merge primitive returned %s", status)}
	}

	idx, err := r.ReadIndex()
	if err != nil {
		return report, "", wrapStore("merge: read index", StoreCodeGeneric, err)
	}
	if idx.HasConflicts() {
		r.Logger.Debug("merge left conflicts", "paths", len(idx.ConflictedPaths()))
		return report, "", &MergeConflictError{Paths: idx.ConflictedPaths(), Report: report}
	}

	tree, err := r.WriteTree(idx)
	if err != nil {
		return report, "", wrapStore("merge: write tree", StoreCodeGeneric, err)
	}
	commit, err := r.createCommit(tree, []object.Hash{targetTip, sourceTip}, opts.Author, message, r.Signer)
	if err != nil {
		return report, "", err
	}
	reason := fmt.Sprintf("merge %s: Merge made by the 'three-way' strategy.", source.ShortName())
	if err := r.UpdateRefCAS(target.RefName(), commit, targetTip, reason); err != nil {
		return report, "", wrapStore("merge: update "+target.Name, StoreCodeGeneric, err)
	}
	if err := r.clearMergeState(); err != nil {
		return report, "", err
	}
	report.MergeCommit = commit
	return report, commit, nil
}

// MergeFileOptions configures the merge primitive.
type MergeFileOptions struct {
	// Checkout decides what happens to paths with local modifications
	// the merge needs to write. CheckoutSafe refuses the whole merge.
	Checkout CheckoutStrategy
	// AllowConflicts lets the merge write conflicted files and index
	// entries instead of stopping.
	AllowConflicts bool

	OursLabel   string
	TheirsLabel string
	Message     string // recorded in MERGE_MSG
}

type mergeStatus int

const (
	mergeStatusClean mergeStatus = iota
	mergeStatusLocalConflict
	mergeStatusConflict
)

func (s mergeStatus) String() string {
	switch s {
	case mergeStatusClean:
		return "clean"
	case mergeStatusLocalConflict:
		return "local-conflict"
	default:
		return "conflict"
	}
}

type mergeConflictState struct {
	baseHash   object.Hash
	oursHash   object.Hash
	theirsHash object.Hash
}

// mergedPath is the planned result for one path. A path the merge leaves
// as ours has no mergedPath at all.
type mergedPath struct {
	path     string
	content  []byte
	mode     string
	remove   bool
	conflict *mergeConflictState
}

// mergeAnnotated is the merge primitive: it merges source into the tree of
// ours, writes the working tree and index, and records MERGE_HEAD and
// MERGE_MSG. It does not commit. With CheckoutSafe, a path carrying local
// modifications makes it return mergeStatusLocalConflict before anything is
// written.
func (r *Repo) mergeAnnotated(ours object.Hash, source *AnnotatedCommit, opts MergeFileOptions) (*MergeReport, mergeStatus, error) {
	base, err := r.FindMergeBase(ours, source.ID)
	if err != nil {
		return nil, mergeStatusClean, fmt.Errorf("find merge base: %w", err)
	}
	baseMap, err := r.commitFiles(base)
	if err != nil {
		return nil, mergeStatusClean, err
	}
	oursMap, err := r.commitFiles(ours)
	if err != nil {
		return nil, mergeStatusClean, err
	}
	theirsMap, err := r.commitFiles(source.ID)
	if err != nil {
		return nil, mergeStatusClean, err
	}

	report := &MergeReport{}
	var planned []mergedPath
	for _, p := range unionPaths(baseMap, oursMap, theirsMap) {
		mp, fr, err := r.mergePath(p, baseMap, oursMap, theirsMap, opts)
		if err != nil {
			return nil, mergeStatusClean, fmt.Errorf("merge %q: %w", p, err)
		}
		if mp == nil {
			continue
		}
		report.add(fr)
		planned = append(planned, *mp)
	}
	if report.HasConflicts && !opts.AllowConflicts {
		return report, mergeStatusConflict, nil
	}

	idx, err := r.ReadIndex()
	if err != nil {
		return nil, mergeStatusClean, err
	}
	for _, mp := range planned {
		cur, inCur := oursMap[mp.path]
		var tgt TreeFileEntry
		if !mp.remove && mp.conflict == nil {
			tgt = TreeFileEntry{Path: mp.path, BlobHash: blobHash(mp.content), Mode: mp.mode}
		}
		dirty, err := r.pathDirty(mp.path, idx, cur, inCur, tgt, !tgt.BlobHash.IsZero())
		if err != nil {
			return nil, mergeStatusClean, err
		}
		if dirty {
			report.LocalConflicts = append(report.LocalConflicts, mp.path)
		}
	}
	if len(report.LocalConflicts) > 0 && opts.Checkout == CheckoutSafe {
		r.Logger.Debug("merge refused", "local_conflicts", len(report.LocalConflicts))
		return report, mergeStatusLocalConflict, nil
	}

	for _, mp := range planned {
		if mp.remove {
			if err := r.removeWorktreeFile(mp.path); err != nil {
				return report, mergeStatusClean, err
			}
			delete(idx.Entries, mp.path)
			continue
		}
		h, err := r.Store.WriteBlob(&object.Blob{Data: mp.content})
		if err != nil {
			return report, mergeStatusClean, fmt.Errorf("write blob %q: %w", mp.path, err)
		}
		entry, err := r.writeFileContent(mp.path, mp.content, mp.mode, h)
		if err != nil {
			return report, mergeStatusClean, err
		}
		if c := mp.conflict; c != nil {
			entry.Conflict = true
			entry.BaseBlobHash = c.baseHash
			entry.OursBlobHash = c.oursHash
			entry.TheirsBlobHash = c.theirsHash
		}
		idx.Entries[mp.path] = entry
	}
	if err := r.WriteIndex(idx); err != nil {
		return report, mergeStatusClean, err
	}
	if err := r.writeMergeState(source.ID, opts.Message); err != nil {
		return report, mergeStatusClean, err
	}
	return report, mergeStatusClean, nil
}

// mergePath decides the merged state of one path. It returns nil when the
// result is identical to ours.
func (r *Repo) mergePath(p string, baseMap, oursMap, theirsMap map[string]TreeFileEntry, opts MergeFileOptions) (*mergedPath, FileMergeReport, error) {
	b, inBase := baseMap[p]
	o, inOurs := oursMap[p]
	t, inTheirs := theirsMap[p]
	fr := FileMergeReport{Path: p}

	switch {
	case sameEntry(o, inOurs, t, inTheirs), sameEntry(b, inBase, t, inTheirs):
		// Theirs brings nothing new.
		return nil, fr, nil

	case sameEntry(b, inBase, o, inOurs):
		// Only theirs changed: take it.
		if !inTheirs {
			fr.Status = FileMergeDeleted
			return &mergedPath{path: p, remove: true}, fr, nil
		}
		data, err := r.readBlobData(t.BlobHash)
		if err != nil {
			return nil, fr, err
		}
		fr.Status = FileMergeClean
		if !inOurs {
			fr.Status = FileMergeAdded
		}
		return &mergedPath{path: p, content: data, mode: t.Mode}, fr, nil

	case inOurs && inTheirs:
		// Changed on both sides, or added on both sides with different content.
		var baseData []byte
		if inBase {
			var err error
			if baseData, err = r.readBlobData(b.BlobHash); err != nil {
				return nil, fr, err
			}
		}
		oursData, err := r.readBlobData(o.BlobHash)
		if err != nil {
			return nil, fr, err
		}
		theirsData, err := r.readBlobData(t.BlobHash)
		if err != nil {
			return nil, fr, err
		}
		res := diff3.MergeWithOptions(baseData, oursData, theirsData, diff3.Options{
			OursLabel:   opts.OursLabel,
			TheirsLabel: opts.TheirsLabel,
		})
		mode := mergeMode(b, inBase, o, t)
		fr.Binary = res.Binary
		if !res.HasConflicts {
			fr.Status = FileMergeClean
			return &mergedPath{path: p, content: res.Merged, mode: mode}, fr, nil
		}
		fr.Status = FileMergeConflict
		fr.ConflictCount = max(res.ConflictCount, 1)
		return &mergedPath{
			path:    p,
			content: res.Merged,
			mode:    mode,
			conflict: &mergeConflictState{
				baseHash:   b.BlobHash,
				oursHash:   o.BlobHash,
				theirsHash: t.BlobHash,
			},
		}, fr, nil

	default:
		// Modified on one side, deleted on the other. Keep the surviving
		// content between markers so nothing is lost silently.
		var oursData, theirsData []byte
		var err error
		mode := o.Mode
		if inOurs {
			oursData, err = r.readBlobData(o.BlobHash)
		} else {
			mode = t.Mode
			theirsData, err = r.readBlobData(t.BlobHash)
		}
		if err != nil {
			return nil, fr, err
		}
		fr.Status = FileMergeConflict
		fr.ConflictCount = 1
		return &mergedPath{
			path:    p,
			content: renderFileConflict(oursData, theirsData, opts.OursLabel, opts.TheirsLabel),
			mode:    mode,
			conflict: &mergeConflictState{
				baseHash:   b.BlobHash,
				oursHash:   o.BlobHash,
				theirsHash: t.BlobHash,
			},
		}, fr, nil
	}
}

func sameEntry(a TreeFileEntry, aok bool, b TreeFileEntry, bok bool) bool {
	if aok != bok {
		return false
	}
	return !aok || (a.BlobHash == b.BlobHash && a.Mode == b.Mode)
}

// mergeMode takes the side that changed the mode, preferring ours.
func mergeMode(b TreeFileEntry, inBase bool, o, t TreeFileEntry) string {
	if inBase && o.Mode == b.Mode {
		return t.Mode
	}
	return o.Mode
}

func renderFileConflict(ours, theirs []byte, oursLabel, theirsLabel string) []byte {
	if oursLabel == "" {
		oursLabel = "ours"
	}
	if theirsLabel == "" {
		theirsLabel = "theirs"
	}
	var buf bytes.Buffer
	buf.WriteString("<<<<<<< " + oursLabel + "\n")
	buf.Write(ours)
	if len(ours) > 0 && ours[len(ours)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.WriteString("=======\n")
	buf.Write(theirs)
	if len(theirs) > 0 && theirs[len(theirs)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.WriteString(">>>>>>> " + theirsLabel + "\n")
	return buf.Bytes()
}

func (r *Repo) readBlobData(h object.Hash) ([]byte, error) {
	blob, err := r.Store.ReadBlob(h)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", h.Short(), err)
	}
	return blob.Data, nil
}
