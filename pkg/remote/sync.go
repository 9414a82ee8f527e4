package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/odvcencio/gotsync/pkg/object"
)

const (
	// MaxBatchObjects mirrors the server-side cap per batch response.
	MaxBatchObjects = 50000
	// MaxBatchHaveHashes keeps batch request payloads under server body limits.
	MaxBatchHaveHashes = 20000
	// MaxBatchNegotiationRounds prevents unbounded negotiation loops.
	MaxBatchNegotiationRounds = 1024
)

// objectSource is the read side of a transport.
type objectSource interface {
	BatchObjects(ctx context.Context, wants, haves []object.Hash, maxObjects int) ([]ObjectRecord, bool, error)
	GetObject(ctx context.Context, hash object.Hash) (ObjectRecord, error)
}

// fetchIntoStore fetches all objects reachable from wants into store.
//
// It starts with batch negotiation, then guarantees closure by walking the
// object graph locally and fetching any still-missing object one by one.
func fetchIntoStore(ctx context.Context, src objectSource, store *object.Store, wants, haves []object.Hash, cb Callbacks) (TransferProgress, error) {
	progress := newProgressTracker(cb)
	roots := object.UniqueHashes(wants)
	if len(roots) == 0 {
		return progress.snapshot(), fmt.Errorf("at least one want hash is required")
	}

	knownHaves, knownHaveSet := initKnownHaves(haves)
	negotiationCompleted := false
	for round := 0; round < MaxBatchNegotiationRounds; round++ {
		batchObjects, truncated, err := src.BatchObjects(ctx, roots, selectBatchHaves(knownHaves, MaxBatchHaveHashes), MaxBatchObjects)
		if err != nil {
			return progress.snapshot(), err
		}
		if err := progress.expect(len(batchObjects)); err != nil {
			return progress.snapshot(), err
		}

		newInRound := 0
		for _, obj := range batchObjects {
			stored, err := writeVerifiedObject(store, obj)
			if err != nil {
				return progress.snapshot(), err
			}
			if stored {
				newInRound++
			}
			if err := progress.received(len(obj.Data), stored); err != nil {
				return progress.snapshot(), err
			}
			knownHaves, knownHaveSet = appendKnownHave(knownHaves, knownHaveSet, obj.Hash)
		}

		// A server that keeps truncating without sending anything new is
		// finished off by point fetches below.
		if !truncated || newInRound == 0 {
			negotiationCompleted = true
			break
		}
	}
	if !negotiationCompleted {
		return progress.snapshot(), fmt.Errorf("batch negotiation exceeded %d rounds", MaxBatchNegotiationRounds)
	}

	if err := ensureGraphClosure(ctx, src, store, roots, progress); err != nil {
		return progress.snapshot(), err
	}
	return progress.snapshot(), nil
}

func initKnownHaves(haves []object.Hash) ([]object.Hash, map[object.Hash]struct{}) {
	haveSet := make(map[object.Hash]struct{}, len(haves))
	haveList := make([]object.Hash, 0, len(haves))
	for _, h := range object.UniqueHashes(haves) {
		haveList = append(haveList, h)
		haveSet[h] = struct{}{}
	}
	return haveList, haveSet
}

func appendKnownHave(haveList []object.Hash, haveSet map[object.Hash]struct{}, h object.Hash) ([]object.Hash, map[object.Hash]struct{}) {
	h = object.Hash(strings.TrimSpace(string(h)))
	if h == "" {
		return haveList, haveSet
	}
	if _, ok := haveSet[h]; ok {
		return haveList, haveSet
	}
	haveSet[h] = struct{}{}
	haveList = append(haveList, h)
	return haveList, haveSet
}

func selectBatchHaves(haves []object.Hash, max int) []object.Hash {
	if max <= 0 || len(haves) <= max {
		out := make([]object.Hash, len(haves))
		copy(out, haves)
		return out
	}
	out := make([]object.Hash, max)
	copy(out, haves[len(haves)-max:])
	return out
}

// CollectObjectsForPush returns objects reachable from roots excluding
// anything reachable from stopRoots.
func CollectObjectsForPush(store *object.Store, roots, stopRoots []object.Hash) ([]ObjectRecord, error) {
	roots = object.UniqueHashes(roots)
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one root hash is required")
	}

	stopSet, err := store.ReachableSet(stopRoots)
	if err != nil {
		return nil, err
	}

	seen := make(map[object.Hash]struct{})
	stack := append([]object.Hash(nil), roots...)
	objects := make([]ObjectRecord, 0, 64)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if h.IsZero() {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		if _, stopped := stopSet[h]; stopped {
			continue
		}
		seen[h] = struct{}{}

		objType, data, err := store.Read(h)
		if err != nil {
			return nil, fmt.Errorf("read object %s: %w", h, err)
		}
		objects = append(objects, ObjectRecord{Hash: h, Type: objType, Data: data})

		refs, err := object.ReferencedHashes(objType, data)
		if err != nil {
			return nil, fmt.Errorf("parse object %s (%s): %w", h, objType, err)
		}
		stack = append(stack, refs...)
	}
	return objects, nil
}

func ensureGraphClosure(ctx context.Context, src objectSource, store *object.Store, roots []object.Hash, progress *progressTracker) error {
	seen := make(map[object.Hash]struct{}, len(roots))
	stack := append([]object.Hash(nil), roots...)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if h.IsZero() {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}

		if !store.Has(h) {
			obj, err := src.GetObject(ctx, h)
			if err != nil {
				return err
			}
			stored, err := writeVerifiedObject(store, obj)
			if err != nil {
				return err
			}
			if err := progress.received(len(obj.Data), stored); err != nil {
				return err
			}
		}

		objType, data, err := store.Read(h)
		if err != nil {
			return fmt.Errorf("read object %s: %w", h, err)
		}
		refs, err := object.ReferencedHashes(objType, data)
		if err != nil {
			return fmt.Errorf("parse object %s (%s): %w", h, objType, err)
		}
		stack = append(stack, refs...)
	}
	return nil
}

// writeVerifiedObject stores obj after checking its hash. It reports
// whether the object was new to the store.
func writeVerifiedObject(store *object.Store, obj ObjectRecord) (bool, error) {
	if strings.TrimSpace(string(obj.Hash)) == "" {
		return false, fmt.Errorf("object hash is required")
	}
	if _, err := parseObjectType(string(obj.Type)); err != nil {
		return false, err
	}
	computed := object.HashObject(obj.Type, obj.Data)
	if computed != obj.Hash {
		return false, fmt.Errorf("object hash mismatch: expected %s, got %s", obj.Hash, computed)
	}
	alreadyPresent := store.Has(obj.Hash)
	writtenHash, err := store.Write(obj.Type, obj.Data)
	if err != nil {
		return false, err
	}
	if writtenHash != obj.Hash {
		return false, fmt.Errorf("object write mismatch: expected %s, wrote %s", obj.Hash, writtenHash)
	}
	return !alreadyPresent, nil
}

func parseObjectType(raw string) (object.ObjectType, error) {
	t, ok := object.ParseObjectType(strings.TrimSpace(raw))
	if !ok {
		return "", fmt.Errorf("unsupported object type %q", raw)
	}
	return t, nil
}
