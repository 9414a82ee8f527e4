package repo

import (
	"fmt"
	"strings"

	"github.com/odvcencio/gotsync/pkg/object"
)

// MergeAnalysis is a set of flags describing how a source commit relates
// to a target. Several flags may be set at once; Resolve picks the one
// outcome that is acted upon.
type MergeAnalysis uint8

const (
	AnalysisNormal MergeAnalysis = 1 << iota
	AnalysisUpToDate
	AnalysisFastForward
	AnalysisUnborn

	// AnalysisNone is the empty set.
	AnalysisNone MergeAnalysis = 0
)

// Has reports whether every flag in f is set.
func (a MergeAnalysis) Has(f MergeAnalysis) bool {
	return f != 0 && a&f == f
}

// Resolve returns the single flag to act on, by priority
// UpToDate > Unborn > FastForward > Normal. The empty set resolves to
// AnalysisNone.
func (a MergeAnalysis) Resolve() MergeAnalysis {
	for _, f := range []MergeAnalysis{AnalysisUpToDate, AnalysisUnborn, AnalysisFastForward, AnalysisNormal} {
		if a.Has(f) {
			return f
		}
	}
	return AnalysisNone
}

func (a MergeAnalysis) String() string {
	if a == AnalysisNone {
		return "none"
	}
	var names []string
	for _, f := range []struct {
		flag MergeAnalysis
		name string
	}{
		{AnalysisUpToDate, "up-to-date"},
		{AnalysisUnborn, "unborn"},
		{AnalysisFastForward, "fast-forward"},
		{AnalysisNormal, "normal"},
	} {
		if a.Has(f.flag) {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, "|")
}

// FastForwardPreference constrains how a merge may be carried out.
type FastForwardPreference int

const (
	// FastForwardDefault fast-forwards when possible and merges otherwise.
	FastForwardDefault FastForwardPreference = iota
	// FastForwardOnly refuses anything but a fast-forward.
	FastForwardOnly
	// NoFastForward always creates a merge commit.
	NoFastForward
)

func (p FastForwardPreference) String() string {
	switch p {
	case FastForwardOnly:
		return "only"
	case NoFastForward:
		return "false"
	default:
		return "true"
	}
}

// ParseFastForwardPreference parses the merge.ff config value.
func ParseFastForwardPreference(s string) (FastForwardPreference, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "true", "default":
		return FastForwardDefault, nil
	case "only":
		return FastForwardOnly, nil
	case "false", "no":
		return NoFastForward, nil
	default:
		return FastForwardDefault, fmt.Errorf("invalid fast-forward preference %q", s)
	}
}

// AnalyzeMerge classifies merging from into the current HEAD.
func (r *Repo) AnalyzeMerge(from Branch, pref FastForwardPreference) (MergeAnalysis, error) {
	target, err := r.HeadCommit()
	if err != nil {
		return AnalysisNone, fmt.Errorf("analyze merge: %w: %w", ErrUnexpected, err)
	}
	return r.analyzeMerge(target, from, pref)
}

// analyzeMerge classifies merging source into the target commit. A zero
// target means the target branch is unborn.
func (r *Repo) analyzeMerge(target object.Hash, source Branch, pref FastForwardPreference) (MergeAnalysis, error) {
	ac, err := r.AnnotatedCommitFromRef(source)
	if err != nil {
		return AnalysisNone, fmt.Errorf("analyze merge: %w", err)
	}
	defer ac.Free()

	analysis, err := r.analyzeCommits(target, ac.ID, pref)
	if err != nil {
		return analysis, fmt.Errorf("analyze merge %s: %w", source.ShortName(), err)
	}
	r.Logger.Debug("merge analysis",
		"source", source.ShortName(),
		"target", target.Short(),
		"analysis", analysis.String(),
		"resolved", analysis.Resolve().String())
	return analysis, nil
}

func (r *Repo) analyzeCommits(target, source object.Hash, pref FastForwardPreference) (MergeAnalysis, error) {
	var analysis MergeAnalysis
	switch {
	case source == target:
		analysis = AnalysisUpToDate
	case target.IsZero():
		analysis = AnalysisUnborn | AnalysisFastForward
	default:
		merged, err := r.IsAncestor(source, target)
		if err != nil {
			return AnalysisNone, fmt.Errorf("%w: %w", ErrUnexpected, err)
		}
		if merged {
			analysis = AnalysisUpToDate
			break
		}
		behind, err := r.IsAncestor(target, source)
		if err != nil {
			return AnalysisNone, fmt.Errorf("%w: %w", ErrUnexpected, err)
		}
		analysis = AnalysisNormal
		if behind && pref != NoFastForward {
			analysis |= AnalysisFastForward
		}
	}

	if pref == FastForwardOnly && analysis.Resolve() == AnalysisNormal {
		return analysis, ErrNonFastForward
	}
	return analysis, nil
}
