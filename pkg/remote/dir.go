package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/gotsync/pkg/object"
)

// DirTransport serves a repository on the local filesystem. It accepts
// either a working tree containing .got/ or the .got directory itself.
type DirTransport struct {
	gotDir string
	store  *object.Store
	cb     Callbacks
}

// NewDirTransport opens the repository at path.
func NewDirTransport(path string, cb Callbacks) (*DirTransport, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	gotDir := abs
	if info, err := os.Stat(filepath.Join(abs, ".got")); err == nil && info.IsDir() {
		gotDir = filepath.Join(abs, ".got")
	}
	if info, err := os.Stat(filepath.Join(gotDir, "refs")); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("open %q: not a repository", path)
	}
	return &DirTransport{gotDir: gotDir, store: object.NewStore(gotDir), cb: cb}, nil
}

// ListRefs returns every ref under refs/.
func (d *DirTransport) ListRefs(ctx context.Context) (map[string]object.Hash, error) {
	refs := make(map[string]object.Hash)
	refsDir := filepath.Join(d.gotDir, "refs")
	err := filepath.WalkDir(refsDir, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() || strings.HasSuffix(p, ".lock") {
			return nil
		}
		rel, err := filepath.Rel(d.gotDir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		h := object.Hash(strings.TrimSpace(string(data)))
		if err := object.ValidateHash(h); err != nil {
			return fmt.Errorf("ref %s: %w", rel, err)
		}
		refs[filepath.ToSlash(rel)] = h
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return refs, nil
}

// BatchObjects returns every object reachable from wants and not reachable
// from haves. It never truncates.
func (d *DirTransport) BatchObjects(ctx context.Context, wants, haves []object.Hash, maxObjects int) ([]ObjectRecord, bool, error) {
	objs, err := CollectObjectsForPush(d.store, wants, haves)
	if err != nil {
		return nil, false, err
	}
	return objs, false, nil
}

// GetObject reads one object.
func (d *DirTransport) GetObject(ctx context.Context, hash object.Hash) (ObjectRecord, error) {
	objType, data, err := d.store.Read(hash)
	if err != nil {
		return ObjectRecord{}, err
	}
	return ObjectRecord{Hash: hash, Type: objType, Data: data}, nil
}

// FetchObjects copies the objects reachable from wants into store.
func (d *DirTransport) FetchObjects(ctx context.Context, store *object.Store, wants, haves []object.Hash) (TransferProgress, error) {
	return fetchIntoStore(ctx, d, store, wants, haves, d.cb)
}

// PushObjects writes objects into the remote store after verifying them.
func (d *DirTransport) PushObjects(ctx context.Context, objects []ObjectRecord) error {
	progress := newProgressTracker(d.cb)
	if err := progress.expect(len(objects)); err != nil {
		return err
	}
	for i, obj := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}
		stored, err := writeVerifiedObject(d.store, obj)
		if err != nil {
			return fmt.Errorf("push object %d: %w", i, err)
		}
		if err := progress.received(len(obj.Data), stored); err != nil {
			return err
		}
	}
	d.cb.message(fmt.Sprintf("wrote %d objects", len(objects)))
	return nil
}

// UpdateRefs applies each update under a lockfile, checking the current
// value first.
func (d *DirTransport) UpdateRefs(ctx context.Context, updates []RefUpdate) (map[string]object.Hash, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("at least one ref update is required")
	}
	out := make(map[string]object.Hash, len(updates))
	for _, u := range updates {
		if err := d.updateRef(u); err != nil {
			return out, err
		}
		if u.New != nil {
			out[u.Name] = *u.New
		} else {
			out[u.Name] = ""
		}
	}
	return out, nil
}

func (d *DirTransport) updateRef(u RefUpdate) error {
	name := strings.TrimSpace(u.Name)
	if !strings.HasPrefix(name, "refs/") || strings.Contains(name, "..") {
		return fmt.Errorf("update ref %q: invalid name", u.Name)
	}
	refPath := filepath.Join(d.gotDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return fmt.Errorf("update ref %q: %w", name, err)
	}

	lockPath := refPath + ".lock"
	lock, err := acquireLock(lockPath)
	if err != nil {
		return fmt.Errorf("update ref %q: %w", name, err)
	}
	cleanupLock := true
	defer func() {
		if lock != nil {
			_ = lock.Close()
		}
		if cleanupLock {
			_ = os.Remove(lockPath)
		}
	}()

	current := object.Hash("")
	if data, err := os.ReadFile(refPath); err == nil {
		current = object.Hash(strings.TrimSpace(string(data)))
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("update ref %q: %w", name, err)
	}
	var want object.Hash
	if u.Old != nil {
		want = *u.Old
	}
	if current != want {
		return fmt.Errorf("update ref %q: %w (have %s, expected %s)", name, ErrRefConflict, current.Short(), want.Short())
	}

	if u.New == nil {
		if err := os.Remove(refPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete ref %q: %w", name, err)
		}
		return nil
	}
	if !d.store.Has(*u.New) {
		return fmt.Errorf("update ref %q: object %s missing on remote", name, u.New.Short())
	}
	if _, err := lock.WriteString(string(*u.New) + "\n"); err != nil {
		return fmt.Errorf("update ref %q: %w", name, err)
	}
	err = lock.Close()
	lock = nil
	if err != nil {
		return fmt.Errorf("update ref %q: %w", name, err)
	}
	if err := os.Rename(lockPath, refPath); err != nil {
		return fmt.Errorf("update ref %q: %w", name, err)
	}
	// The lock path now belongs to the next writer.
	cleanupLock = false
	return nil
}

const lockTimeout = 2 * time.Second

func acquireLock(lockPath string) (*os.File, error) {
	deadline := time.Now().Add(lockTimeout)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock %s: timed out", filepath.Base(lockPath))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
