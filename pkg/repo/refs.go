package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/gotsync/pkg/object"
)

const refLockRetryDelay = 5 * time.Millisecond

// refLockWaitLimit bounds how long a ref update waits for another writer.
var refLockWaitLimit = 2 * time.Second

// Head reads .got/HEAD. If the content starts with "ref: ", it returns the
// ref path (e.g., "refs/heads/main"). Otherwise it returns the raw content
// as a detached hash string.
func (r *Repo) Head() (string, error) {
	data, err := os.ReadFile(filepath.Join(r.GotDir, "HEAD"))
	if err != nil {
		return "", fmt.Errorf("head: %w", err)
	}
	content := strings.TrimRight(string(data), "\n")

	if strings.HasPrefix(content, "ref: ") {
		return strings.TrimPrefix(content, "ref: "), nil
	}
	return content, nil
}

// ResolveRef resolves a ref name to an object hash. A ref that does not
// exist yields an error wrapping ErrNotFound.
//
// Resolution order:
//  1. If name is "HEAD", read HEAD. If HEAD is symbolic, resolve the target ref.
//  2. If name starts with "refs/", read .got/<name>.
//  3. Otherwise, try "refs/heads/<name>".
func (r *Repo) ResolveRef(name string) (object.Hash, error) {
	if name == "HEAD" {
		head, err := r.Head()
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(head, "refs/") {
			return r.ResolveRef(head)
		}
		return object.Hash(head), nil
	}

	refName := name
	if !strings.HasPrefix(name, "refs/") {
		refName = "refs/heads/" + name
	}

	h, err := readRefHash(filepath.Join(r.GotDir, filepath.FromSlash(refName)))
	if err != nil {
		return "", fmt.Errorf("resolve ref %q: %w", name, err)
	}
	if h == "" {
		return "", fmt.Errorf("resolve ref %q: %w", name, ErrNotFound)
	}
	return h, nil
}

// ListRefs lists references under .got/refs.
// Names are returned relative to refs root, e.g. "heads/main", "remotes/origin/main".
func (r *Repo) ListRefs(prefix string) (map[string]object.Hash, error) {
	root := filepath.Join(r.GotDir, "refs")
	dir := root
	if strings.TrimSpace(prefix) != "" {
		dir = filepath.Join(root, filepath.FromSlash(prefix))
	}

	refs := make(map[string]object.Hash)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".lock") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		refs[filepath.ToSlash(rel)] = object.Hash(strings.TrimSpace(string(data)))
		return nil
	})
	if os.IsNotExist(err) {
		return refs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return refs, nil
}

// UpdateRef unconditionally points name at h, logging reason in the reflog.
func (r *Repo) UpdateRef(name string, h object.Hash, reason string) error {
	return r.updateRef(name, h, reason, false, "")
}

// UpdateRefCAS writes a hash to the named ref file under .got/ using
// lockfile + rename atomic semantics. The update only succeeds when the
// current value matches expectedOld; a zero expectedOld requires that the
// ref does not exist yet.
//
// Reflog append happens after the ref rename; if reflog append fails, the ref
// update remains committed and a RefUpdateReflogError is returned.
func (r *Repo) UpdateRefCAS(name string, h, expectedOld object.Hash, reason string) error {
	return r.updateRef(name, h, reason, true, expectedOld)
}

func (r *Repo) updateRef(name string, h object.Hash, reason string, checkOld bool, wantOld object.Hash) error {
	refPath := filepath.Join(r.GotDir, filepath.FromSlash(name))

	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return fmt.Errorf("update ref %q: mkdir: %w", name, err)
	}

	lockPath := refPath + ".lock"
	lockFile, err := acquireRefLock(lockPath)
	if err != nil {
		return fmt.Errorf("update ref %q: lock: %w", name, err)
	}
	cleanupLock := true
	defer func() {
		if lockFile != nil {
			_ = lockFile.Close()
		}
		if cleanupLock {
			_ = os.Remove(lockPath)
		}
	}()

	oldHash, err := readRefHash(refPath)
	if err != nil {
		return fmt.Errorf("update ref %q: read old hash: %w", name, err)
	}
	if checkOld && !sameHash(oldHash, wantOld) {
		return fmt.Errorf(
			"update ref %q: %w (expected %s, found %s)",
			name,
			ErrRefCASMismatch,
			displayHash(wantOld),
			displayHash(oldHash),
		)
	}

	if _, err := lockFile.WriteString(string(h) + "\n"); err != nil {
		return fmt.Errorf("update ref %q: write: %w", name, err)
	}
	if err := lockFile.Sync(); err != nil {
		return fmt.Errorf("update ref %q: sync: %w", name, err)
	}
	if err := lockFile.Close(); err != nil {
		lockFile = nil
		return fmt.Errorf("update ref %q: close: %w", name, err)
	}
	lockFile = nil

	if err := os.Rename(lockPath, refPath); err != nil {
		return fmt.Errorf("update ref %q: rename: %w", name, err)
	}
	cleanupLock = false

	r.Logger.Debug("ref updated", "ref", name, "old", oldHash.Short(), "new", h.Short(), "reason", reason)

	if err := r.appendReflog(name, oldHash, h, reason); err != nil {
		return &RefUpdateReflogError{
			Ref:     name,
			OldHash: oldHash,
			NewHash: h,
			Err:     err,
		}
	}
	return nil
}

// DeleteRef removes a ref if it still points at expectedOld. The ref's
// reflog is removed with it.
func (r *Repo) DeleteRef(name string, expectedOld object.Hash) error {
	refPath := filepath.Join(r.GotDir, filepath.FromSlash(name))
	lockPath := refPath + ".lock"
	lockFile, err := acquireRefLock(lockPath)
	if err != nil {
		return fmt.Errorf("delete ref %q: lock: %w", name, err)
	}
	defer func() {
		_ = lockFile.Close()
		_ = os.Remove(lockPath)
	}()

	oldHash, err := readRefHash(refPath)
	if err != nil {
		return fmt.Errorf("delete ref %q: %w", name, err)
	}
	if oldHash == "" {
		return fmt.Errorf("delete ref %q: %w", name, ErrNotFound)
	}
	if !expectedOld.IsZero() && oldHash != expectedOld {
		return fmt.Errorf("delete ref %q: %w (expected %s, found %s)", name, ErrRefCASMismatch, expectedOld, oldHash)
	}
	if err := os.Remove(refPath); err != nil {
		return fmt.Errorf("delete ref %q: %w", name, err)
	}
	_ = os.Remove(filepath.Join(r.GotDir, "logs", filepath.FromSlash(name)))
	r.Logger.Debug("ref deleted", "ref", name, "old", oldHash.Short())
	return nil
}

// SetHeadSymbolic points HEAD at refName (e.g. "refs/heads/main").
func (r *Repo) SetHeadSymbolic(refName string) error {
	if !strings.HasPrefix(refName, "refs/heads/") {
		return fmt.Errorf("set HEAD: %q is not a local branch ref", refName)
	}
	return r.writeHead("ref: " + refName)
}

// SetHeadDetached points HEAD directly at a commit.
func (r *Repo) SetHeadDetached(h object.Hash) error {
	if err := object.ValidateHash(h); err != nil {
		return fmt.Errorf("set HEAD: %w", err)
	}
	return r.writeHead(string(h))
}

func (r *Repo) writeHead(content string) error {
	headPath := filepath.Join(r.GotDir, "HEAD")
	lockPath := headPath + ".lock"
	lockFile, err := acquireRefLock(lockPath)
	if err != nil {
		return fmt.Errorf("set HEAD: lock: %w", err)
	}
	if _, err := lockFile.WriteString(content + "\n"); err != nil {
		lockFile.Close()
		os.Remove(lockPath)
		return fmt.Errorf("set HEAD: write: %w", err)
	}
	if err := lockFile.Close(); err != nil {
		os.Remove(lockPath)
		return fmt.Errorf("set HEAD: close: %w", err)
	}
	if err := os.Rename(lockPath, headPath); err != nil {
		os.Remove(lockPath)
		return fmt.Errorf("set HEAD: rename: %w", err)
	}
	return nil
}

func acquireRefLock(lockPath string) (*os.File, error) {
	deadline := time.Now().Add(refLockWaitLimit)
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if os.IsExist(err) {
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("%w: timeout waiting for %q", errRefLocked, lockPath)
			}
			time.Sleep(refLockRetryDelay)
			continue
		}
		return nil, err
	}
}

func readRefHash(refPath string) (object.Hash, error) {
	data, err := os.ReadFile(refPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return object.Hash(strings.TrimSpace(string(data))), nil
}

func sameHash(a, b object.Hash) bool {
	if a.IsZero() || b.IsZero() {
		return a.IsZero() && b.IsZero()
	}
	return a == b
}

func displayHash(h object.Hash) string {
	if h.IsZero() {
		return "<none>"
	}
	return string(h)
}
