// Package diff3 implements a line-oriented three-way content merge.
package diff3

import (
	"bytes"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// HunkType classifies a hunk in a three-way merge result.
type HunkType int

const (
	HunkClean    HunkType = iota // merged without intervention
	HunkConflict                 // both sides changed the same base region differently
)

// Hunk is a contiguous section of the merge output.
type Hunk struct {
	Type                       HunkType
	Base, Ours, Theirs, Merged []byte
}

// Result holds the outcome of a three-way merge.
type Result struct {
	Merged        []byte // merged content, with conflict markers when HasConflicts
	HasConflicts  bool
	ConflictCount int
	Binary        bool // content was not line-mergeable; Merged holds ours
	Hunks         []Hunk
}

// Options tunes the conflict markers written into Merged.
type Options struct {
	OursLabel   string // default "ours"
	TheirsLabel string // default "theirs"
}

// Merge performs a three-way merge of base, ours, and theirs with default
// conflict labels.
func Merge(base, ours, theirs []byte) Result {
	return MergeWithOptions(base, ours, theirs, Options{})
}

// MergeWithOptions performs a three-way merge:
//  1. Diff base→ours and base→theirs into chunks aligned on base lines.
//  2. Walk both chunk lists in base order.
//  3. Regions changed on one side take that side; regions changed
//     identically on both sides are clean; anything else is a conflict.
func MergeWithOptions(base, ours, theirs []byte, opts Options) Result {
	if opts.OursLabel == "" {
		opts.OursLabel = "ours"
	}
	if opts.TheirsLabel == "" {
		opts.TheirsLabel = "theirs"
	}

	if IsBinary(base) || IsBinary(ours) || IsBinary(theirs) {
		return mergeBinary(base, ours, theirs)
	}

	baseLines := splitLines(string(base))
	oursChunks := buildChunks(baseLines, splitLines(string(ours)))
	theirsChunks := buildChunks(baseLines, splitLines(string(theirs)))

	m := merger{base: baseLines, opts: opts}
	m.run(oursChunks, theirsChunks)
	return m.result()
}

// IsBinary reports whether data looks like binary content (contains NUL in
// the first 8000 bytes, the same heuristic git uses).
func IsBinary(data []byte) bool {
	probe := data
	if len(probe) > 8000 {
		probe = probe[:8000]
	}
	return bytes.IndexByte(probe, 0) >= 0
}

func mergeBinary(base, ours, theirs []byte) Result {
	switch {
	case bytes.Equal(ours, theirs), bytes.Equal(theirs, base):
		return Result{Merged: ours, Binary: true}
	case bytes.Equal(ours, base):
		return Result{Merged: theirs, Binary: true}
	default:
		return Result{Merged: ours, Binary: true, HasConflicts: true, ConflictCount: 1}
	}
}

// splitLines splits s into lines, each keeping its "\n". A final line
// without one stays bare, so adding or dropping the last newline is an
// edit of that line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// chunk is a contiguous region [baseStart, baseEnd) of the base together
// with the side's replacement lines. Pure insertions have an empty range.
type chunk struct {
	baseStart, baseEnd int
	lines              []string
	changed            bool
}

// buildChunks turns the base→side edit script into chunks. Unchanged
// regions are split into one chunk per line so both sides stay aligned.
func buildChunks(base, side []string) []chunk {
	matcher := difflib.NewMatcherWithJunk(base, side, false, nil)

	var chunks []chunk
	for _, op := range matcher.GetOpCodes() {
		if op.Tag == 'e' {
			for i := op.I1; i < op.I2; i++ {
				chunks = append(chunks, chunk{baseStart: i, baseEnd: i + 1, lines: []string{base[i]}})
			}
			continue
		}
		chunks = append(chunks, chunk{
			baseStart: op.I1,
			baseEnd:   op.I2,
			lines:     append([]string(nil), side[op.J1:op.J2]...),
			changed:   true,
		})
	}
	return chunks
}

type merger struct {
	base      []string
	opts      Options
	out       bytes.Buffer
	hunks     []Hunk
	conflicts int
}

func (m *merger) run(ours, theirs []chunk) {
	oi, ti := 0, 0
	for oi < len(ours) || ti < len(theirs) {
		switch {
		case oi >= len(ours):
			m.takeSide(theirs[ti : ti+1])
			ti++
			continue
		case ti >= len(theirs):
			m.takeSide(ours[oi : oi+1])
			oi++
			continue
		}

		oc, tc := ours[oi], theirs[ti]
		if oc.baseStart == tc.baseStart && oc.baseEnd == tc.baseEnd {
			m.resolve(oc.baseStart, oc.baseEnd, ours[oi:oi+1], theirs[ti:ti+1])
			oi++
			ti++
			continue
		}

		// Misaligned: widen the region until neither side has a chunk that
		// starts inside it.
		regionStart := min(oc.baseStart, tc.baseStart)
		regionEnd := max(oc.baseEnd, tc.baseEnd)
		oStart, tStart := oi, ti
		for {
			progressed := false
			for oi < len(ours) && (oi == oStart || ours[oi].baseStart < regionEnd) {
				regionEnd = max(regionEnd, ours[oi].baseEnd)
				oi++
				progressed = true
			}
			for ti < len(theirs) && (ti == tStart || theirs[ti].baseStart < regionEnd) {
				regionEnd = max(regionEnd, theirs[ti].baseEnd)
				ti++
				progressed = true
			}
			if !progressed {
				break
			}
		}
		m.resolve(regionStart, regionEnd, ours[oStart:oi], theirs[tStart:ti])
	}
}

func (m *merger) takeSide(cs []chunk) {
	c := cs[0]
	m.writeLines(c.lines)
	m.hunks = append(m.hunks, Hunk{
		Type:   HunkClean,
		Base:   joinLines(m.base[c.baseStart:c.baseEnd]),
		Merged: joinLines(c.lines),
	})
}

func (m *merger) resolve(start, end int, ours, theirs []chunk) {
	oursOut, theirsOut := assemble(ours), assemble(theirs)
	oursChanged, theirsChanged := anyChanged(ours), anyChanged(theirs)
	base := joinLines(m.base[start:end])

	var merged []string
	switch {
	case !theirsChanged:
		merged = oursOut
	case !oursChanged:
		merged = theirsOut
	case linesEqual(oursOut, theirsOut):
		merged = oursOut
	default:
		m.conflicts++
		m.writeConflict(oursOut, theirsOut)
		m.hunks = append(m.hunks, Hunk{
			Type:   HunkConflict,
			Base:   base,
			Ours:   joinLines(oursOut),
			Theirs: joinLines(theirsOut),
		})
		return
	}
	m.writeLines(merged)
	m.hunks = append(m.hunks, Hunk{Type: HunkClean, Base: base, Merged: joinLines(merged)})
}

func (m *merger) writeLines(lines []string) {
	for _, l := range lines {
		m.out.WriteString(l)
	}
}

func (m *merger) writeConflict(ours, theirs []string) {
	m.out.WriteString("<<<<<<< " + m.opts.OursLabel + "\n")
	m.writeSide(ours)
	m.out.WriteString("=======\n")
	m.writeSide(theirs)
	m.out.WriteString(">>>>>>> " + m.opts.TheirsLabel + "\n")
}

// writeSide writes one side of a conflict. Markers always start a line,
// even after a side whose last line has no newline.
func (m *merger) writeSide(lines []string) {
	m.writeLines(lines)
	if n := len(lines); n > 0 && !strings.HasSuffix(lines[n-1], "\n") {
		m.out.WriteByte('\n')
	}
}

func (m *merger) result() Result {
	return Result{
		Merged:        m.out.Bytes(),
		HasConflicts:  m.conflicts > 0,
		ConflictCount: m.conflicts,
		Hunks:         m.hunks,
	}
}

func joinLines(lines []string) []byte {
	if len(lines) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
	}
	return buf.Bytes()
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func assemble(chunks []chunk) []string {
	var lines []string
	for _, c := range chunks {
		lines = append(lines, c.lines...)
	}
	return lines
}

func anyChanged(chunks []chunk) bool {
	for _, c := range chunks {
		if c.changed {
			return true
		}
	}
	return false
}
