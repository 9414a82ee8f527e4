package repo

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/odvcencio/gotsync/pkg/object"
)

// Repo represents an opened repository. A Repo is safe for concurrent use:
// mutating operations (merge, fetch, push, pull, commit, abort) are
// serialized by an in-process writer lock, and ref files are additionally
// guarded by lockfiles so separate processes cannot interleave updates.
type Repo struct {
	RootDir string        // working directory root
	GotDir  string        // .got/ directory
	Store   *object.Store // content-addressed object store
	Logger  *slog.Logger

	// Signer, when set, signs every commit the repository creates,
	// including merge commits.
	Signer CommitSigner

	writeMu sync.Mutex

	liveAnnotated atomic.Int64

	graphOnce sync.Once
	graph     *commitGraph
}

// Option customizes a Repo returned by Init or Open.
type Option func(*Repo)

// WithLogger sets the structured logger used for engine decisions.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repo) {
		if l != nil {
			r.Logger = l
		}
	}
}

// WithSigner installs a commit signer.
func WithSigner(s CommitSigner) Option {
	return func(r *Repo) { r.Signer = s }
}

func newRepo(root, gotDir string, opts []Option) *Repo {
	r := &Repo{
		RootDir: root,
		GotDir:  gotDir,
		Store:   object.NewStore(gotDir),
		Logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// withWriteLock runs fn inside the repository's writer-exclusion section.
// The lock is not reentrant: fn must call unlocked internals only.
func (r *Repo) withWriteLock(op string, fn func() error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.Logger.Debug("write section", "op", op)
	return fn()
}

// LiveAnnotatedCommits reports how many AnnotatedCommit handles are
// currently acquired and not yet freed.
func (r *Repo) LiveAnnotatedCommits() int64 {
	return r.liveAnnotated.Load()
}

func (r *Repo) commitGraph() *commitGraph {
	r.graphOnce.Do(func() {
		r.graph = newCommitGraph()
	})
	return r.graph
}
