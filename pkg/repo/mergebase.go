package repo

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"

	"github.com/odvcencio/gotsync/pkg/object"
)

const (
	maxMergeBaseBFSSteps = 1_000_000
	maxMergeBaseBFSDepth = 1_000_000
)

// Tests may tighten these; values outside (0, hard max] fall back to the
// hard max.
var (
	mergeBaseBFSStepsLimit = maxMergeBaseBFSSteps
	mergeBaseBFSDepthLimit = maxMergeBaseBFSDepth
)

var errCommitGraphCycle = errors.New("commit graph cycle detected")

func mergeBaseTraversalLimits() (maxSteps int, maxDepth int) {
	return normalizeTraversalLimit(mergeBaseBFSStepsLimit, maxMergeBaseBFSSteps),
		normalizeTraversalLimit(mergeBaseBFSDepthLimit, maxMergeBaseBFSDepth)
}

func normalizeTraversalLimit(limit, hardMax int) int {
	if limit <= 0 || limit > hardMax {
		return hardMax
	}
	return limit
}

// commitGraph caches immutable commit data across history walks: parsed
// commits, generation numbers (1 + max parent generation) and merge bases.
type commitGraph struct {
	mu          sync.RWMutex
	commits     map[object.Hash]*object.CommitObj
	generations map[object.Hash]uint64
	mergeBases  map[[2]object.Hash]object.Hash
}

func newCommitGraph() *commitGraph {
	return &commitGraph{
		commits:     make(map[object.Hash]*object.CommitObj),
		generations: make(map[object.Hash]uint64),
		mergeBases:  make(map[[2]object.Hash]object.Hash),
	}
}

func pairKey(a, b object.Hash) [2]object.Hash {
	if a <= b {
		return [2]object.Hash{a, b}
	}
	return [2]object.Hash{b, a}
}

func (g *commitGraph) readCommit(r *Repo, h object.Hash) (*object.CommitObj, error) {
	g.mu.RLock()
	c, ok := g.commits[h]
	g.mu.RUnlock()
	if ok {
		return c, nil
	}
	c, err := r.Store.ReadCommit(h)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", h.Short(), err)
	}
	g.mu.Lock()
	g.commits[h] = c
	g.mu.Unlock()
	return c, nil
}

func (g *commitGraph) loadGeneration(h object.Hash) (uint64, bool) {
	g.mu.RLock()
	gen, ok := g.generations[h]
	g.mu.RUnlock()
	return gen, ok
}

// generation computes h's generation number with an explicit stack so deep
// linear histories do not grow the goroutine stack.
func (g *commitGraph) generation(r *Repo, h object.Hash) (uint64, error) {
	if gen, ok := g.loadGeneration(h); ok {
		return gen, nil
	}

	type frame struct {
		hash     object.Hash
		expanded bool
	}
	stack := []frame{{hash: h}}
	onPath := make(map[object.Hash]bool)

	for len(stack) > 0 {
		top := len(stack) - 1
		cur := stack[top]
		if _, done := g.loadGeneration(cur.hash); done {
			stack = stack[:top]
			continue
		}
		c, err := g.readCommit(r, cur.hash)
		if err != nil {
			return 0, err
		}

		if !cur.expanded {
			stack[top].expanded = true
			onPath[cur.hash] = true
			for _, p := range c.Parents {
				if p == "" {
					continue
				}
				if _, done := g.loadGeneration(p); done {
					continue
				}
				if onPath[p] {
					return 0, fmt.Errorf("%w at %s", errCommitGraphCycle, p)
				}
				stack = append(stack, frame{hash: p})
			}
			continue
		}

		var maxParent uint64
		for _, p := range c.Parents {
			if pg, ok := g.loadGeneration(p); ok && pg > maxParent {
				maxParent = pg
			}
		}
		g.mu.Lock()
		g.generations[cur.hash] = maxParent + 1
		g.mu.Unlock()
		delete(onPath, cur.hash)
		stack = stack[:top]
	}

	gen, _ := g.loadGeneration(h)
	return gen, nil
}

type mergeBaseQueueItem struct {
	hash       object.Hash
	generation uint64
	depth      int
}

// mergeBaseMaxHeap pops the highest generation first; ties break on hash
// so walks are deterministic.
type mergeBaseMaxHeap []mergeBaseQueueItem

func (h mergeBaseMaxHeap) Len() int { return len(h) }

func (h mergeBaseMaxHeap) Less(i, j int) bool {
	if h[i].generation == h[j].generation {
		return h[i].hash < h[j].hash
	}
	return h[i].generation > h[j].generation
}

func (h mergeBaseMaxHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeBaseMaxHeap) Push(x any) { *h = append(*h, x.(mergeBaseQueueItem)) }

func (h *mergeBaseMaxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// traversal walks ancestors of a commit in descending generation order,
// enforcing the step and depth limits.
type traversal struct {
	r        *Repo
	g        *commitGraph
	queue    mergeBaseMaxHeap
	seen     map[object.Hash]struct{}
	steps    int
	maxSteps int
	maxDepth int
}

func (r *Repo) newTraversal(start object.Hash) (*traversal, error) {
	g := r.commitGraph()
	gen, err := g.generation(r, start)
	if err != nil {
		return nil, err
	}
	maxSteps, maxDepth := mergeBaseTraversalLimits()
	t := &traversal{
		r:        r,
		g:        g,
		queue:    mergeBaseMaxHeap{{hash: start, generation: gen}},
		seen:     map[object.Hash]struct{}{start: {}},
		maxSteps: maxSteps,
		maxDepth: maxDepth,
	}
	return t, nil
}

// next pops the next ancestor and queues its parents. ok is false when the
// walk is exhausted.
func (t *traversal) next() (item mergeBaseQueueItem, ok bool, err error) {
	if t.queue.Len() == 0 {
		return mergeBaseQueueItem{}, false, nil
	}
	item = heap.Pop(&t.queue).(mergeBaseQueueItem)
	t.steps++
	if t.steps > t.maxSteps {
		return item, false, fmt.Errorf("find merge base: traversal exceeded maximum steps (%d)", t.maxSteps)
	}

	c, err := t.g.readCommit(t.r, item.hash)
	if err != nil {
		return item, false, err
	}
	for _, p := range c.Parents {
		if p == "" {
			continue
		}
		if _, dup := t.seen[p]; dup {
			continue
		}
		if item.depth+1 > t.maxDepth {
			return item, false, fmt.Errorf("find merge base: traversal exceeded maximum depth (%d)", t.maxDepth)
		}
		pg, err := t.g.generation(t.r, p)
		if err != nil {
			return item, false, err
		}
		t.seen[p] = struct{}{}
		heap.Push(&t.queue, mergeBaseQueueItem{hash: p, generation: pg, depth: item.depth + 1})
	}
	return item, true, nil
}

// IsAncestor reports whether ancestor is reachable from descendant through
// parent links. A commit is its own ancestor.
func (r *Repo) IsAncestor(ancestor, descendant object.Hash) (bool, error) {
	if ancestor.IsZero() || descendant.IsZero() {
		return false, nil
	}
	if ancestor == descendant {
		return true, nil
	}
	g := r.commitGraph()
	ancestorGen, err := g.generation(r, ancestor)
	if err != nil {
		return false, err
	}

	t, err := r.newTraversal(descendant)
	if err != nil {
		return false, err
	}
	for {
		item, ok, err := t.next()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if item.hash == ancestor {
			return true, nil
		}
		// Everything left in the queue is older than the ancestor.
		if item.generation < ancestorGen {
			return false, nil
		}
	}
}

// FindMergeBase returns the best common ancestor of a and b: the common
// ancestor with the highest generation number. Unrelated histories yield
// the empty hash.
func (r *Repo) FindMergeBase(a, b object.Hash) (object.Hash, error) {
	if a.IsZero() || b.IsZero() {
		return "", nil
	}
	if a == b {
		return a, nil
	}

	g := r.commitGraph()
	key := pairKey(a, b)
	g.mu.RLock()
	cached, ok := g.mergeBases[key]
	g.mu.RUnlock()
	if ok {
		return cached, nil
	}

	base, err := r.findMergeBase(a, b)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	g.mergeBases[key] = base
	g.mu.Unlock()
	return base, nil
}

func (r *Repo) findMergeBase(a, b object.Hash) (object.Hash, error) {
	if ok, err := r.IsAncestor(a, b); err != nil || ok {
		if ok {
			return a, nil
		}
		return "", err
	}
	if ok, err := r.IsAncestor(b, a); err != nil || ok {
		if ok {
			return b, nil
		}
		return "", err
	}

	fromA, err := r.newTraversal(a)
	if err != nil {
		return "", err
	}
	ancestorsOfA := make(map[object.Hash]struct{})
	for {
		item, ok, err := fromA.next()
		if err != nil {
			return "", err
		}
		if !ok {
			break
		}
		ancestorsOfA[item.hash] = struct{}{}
	}

	// b's ancestors come out in descending generation order, so the first
	// one shared with a is a best common ancestor.
	fromB, err := r.newTraversal(b)
	if err != nil {
		return "", err
	}
	for {
		item, ok, err := fromB.next()
		if err != nil {
			return "", err
		}
		if !ok {
			return "", nil
		}
		if _, shared := ancestorsOfA[item.hash]; shared {
			return item.hash, nil
		}
	}
}
