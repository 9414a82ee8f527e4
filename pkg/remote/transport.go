package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/odvcencio/gotsync/pkg/object"
)

// ErrRefConflict is returned when a remote ref no longer holds the value a
// RefUpdate expected.
var ErrRefConflict = errors.New("remote ref changed")

// Transport moves objects and refs between a local store and a remote.
// Ref names are always full names such as "refs/heads/main".
type Transport interface {
	// ListRefs returns every ref the remote advertises.
	ListRefs(ctx context.Context) (map[string]object.Hash, error)
	// FetchObjects copies everything reachable from wants, minus what is
	// reachable from haves, into store.
	FetchObjects(ctx context.Context, store *object.Store, wants, haves []object.Hash) (TransferProgress, error)
	// PushObjects uploads objects to the remote store.
	PushObjects(ctx context.Context, objects []ObjectRecord) error
	// UpdateRefs applies compare-and-swap ref updates atomically per ref.
	UpdateRefs(ctx context.Context, updates []RefUpdate) (map[string]object.Hash, error)
}

// ObjectRecord is an object payload used by push and fetch.
type ObjectRecord struct {
	Hash object.Hash
	Type object.ObjectType
	Data []byte
}

// RefUpdate is one compare-and-swap ref update. A nil Old requires the ref
// to be absent; a nil New deletes it.
type RefUpdate struct {
	Name string
	Old  *object.Hash
	New  *object.Hash
}

// Open returns the transport for a remote URL: http(s) URLs use the HTTP
// Client, file:// URLs and plain paths use a DirTransport.
func Open(remoteURL string, cb Callbacks) (Transport, error) {
	raw := strings.TrimSpace(remoteURL)
	if raw == "" {
		return nil, fmt.Errorf("remote URL is required")
	}
	if u, err := url.Parse(raw); err == nil {
		switch u.Scheme {
		case "http", "https":
			return NewClientWithOptions(raw, ClientOptions{Callbacks: cb})
		case "file":
			return NewDirTransport(u.Path, cb)
		}
	}
	if _, err := os.Stat(raw); err == nil {
		return NewDirTransport(raw, cb)
	}
	return nil, fmt.Errorf("unsupported remote URL %q", raw)
}

func hashPtr(h object.Hash) *object.Hash {
	if h.IsZero() {
		return nil
	}
	return &h
}

// RefUpdateFor builds a RefUpdate moving name from old to new; zero hashes
// mean "absent".
func RefUpdateFor(name string, old, new object.Hash) RefUpdate {
	return RefUpdate{Name: name, Old: hashPtr(old), New: hashPtr(new)}
}
