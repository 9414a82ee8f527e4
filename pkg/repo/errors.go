package repo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/odvcencio/gotsync/pkg/object"
)

// Merge and transfer failures. Callers match with errors.Is; the engine
// wraps every failure with the operation that produced it.
var (
	ErrUnexpected           = errors.New("unexpected repository state")
	ErrNotFound             = errors.New("reference not found")
	ErrDetachedHead         = errors.New("HEAD is detached")
	ErrMergeInProgress      = errors.New("merge in progress")
	ErrCherryPickInProgress = errors.New("cherry-pick in progress")
	ErrLocalConflict        = errors.New("local changes would be overwritten")
	ErrConflict             = errors.New("merge conflict")
	ErrNonFastForward       = errors.New("not possible to fast-forward")
)

var ErrRefCASMismatch = errors.New("ref compare-and-swap mismatch")
var ErrRefUpdatedButReflogAppendFailed = errors.New("ref updated but reflog append failed")

// RefUpdateReflogError indicates the ref file update succeeded, but appending
// the corresponding reflog entry failed.
type RefUpdateReflogError struct {
	Ref     string
	OldHash object.Hash
	NewHash object.Hash
	Err     error
}

func (e *RefUpdateReflogError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf(
		"update ref %q: %s (old=%s new=%s): %v",
		e.Ref,
		ErrRefUpdatedButReflogAppendFailed,
		e.OldHash,
		e.NewHash,
		e.Err,
	)
}

func (e *RefUpdateReflogError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *RefUpdateReflogError) Is(target error) bool {
	return target == ErrRefUpdatedButReflogAppendFailed
}

// StoreCode classifies an underlying store or transport failure.
type StoreCode int

const (
	StoreCodeGeneric StoreCode = iota
	StoreCodeNotFound
	StoreCodeLocked
	StoreCodeCASMismatch
	StoreCodeInvalid
	StoreCodeTransport
)

func (c StoreCode) String() string {
	switch c {
	case StoreCodeNotFound:
		return "not-found"
	case StoreCodeLocked:
		return "locked"
	case StoreCodeCASMismatch:
		return "cas-mismatch"
	case StoreCodeInvalid:
		return "invalid"
	case StoreCodeTransport:
		return "transport"
	default:
		return "generic"
	}
}

// StoreError wraps a failure reported by the object store, the ref store or
// a remote transport, keeping its classification for diagnostics.
type StoreError struct {
	Op   string
	Code StoreCode
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: store error (%s): %v", e.Op, e.Code, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

var errRefLocked = errors.New("ref is locked")

// wrapStore converts err into a *StoreError for op. Errors that already
// carry a StoreError, or belong to the merge taxonomy, pass through.
func wrapStore(op string, code StoreCode, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) || isTaxonomyError(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if code == StoreCodeGeneric {
		code = classifyStoreError(err)
	}
	return &StoreError{Op: op, Code: code, Err: err}
}

func classifyStoreError(err error) StoreCode {
	switch {
	case errors.Is(err, object.ErrObjectNotFound), errors.Is(err, ErrNotFound):
		return StoreCodeNotFound
	case errors.Is(err, ErrRefCASMismatch):
		return StoreCodeCASMismatch
	case errors.Is(err, errRefLocked):
		return StoreCodeLocked
	default:
		return StoreCodeGeneric
	}
}

func isTaxonomyError(err error) bool {
	for _, target := range []error{
		ErrUnexpected, ErrDetachedHead, ErrMergeInProgress, ErrCherryPickInProgress,
		ErrLocalConflict, ErrConflict, ErrNonFastForward,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// MergeConflictError reports a merge that completed but left conflicted
// entries in the index. No commit was created.
type MergeConflictError struct {
	Paths  []string
	Report *MergeReport
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("%s in %d file(s): %s", ErrConflict, len(e.Paths), strings.Join(e.Paths, ", "))
}

func (e *MergeConflictError) Is(target error) bool { return target == ErrConflict }

// CheckoutConflictError lists paths whose local modifications a checkout
// refused to overwrite.
type CheckoutConflictError struct {
	Paths []string
}

func (e *CheckoutConflictError) Error() string {
	return fmt.Sprintf("checkout %s: local modifications in %s", ErrConflict, strings.Join(e.Paths, ", "))
}

func (e *CheckoutConflictError) Is(target error) bool { return target == ErrConflict }
