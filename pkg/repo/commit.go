package repo

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/odvcencio/gotsync/pkg/object"
)

// CommitSigner signs canonical commit payload bytes and returns an encoded
// signature string to be persisted in CommitObj.Signature.
type CommitSigner func(payload []byte) (string, error)

// Commit creates a new commit from the current index on the current branch,
// signed with r.Signer when one is installed.
func (r *Repo) Commit(message, author string) (object.Hash, error) {
	return r.CommitWithSigner(message, author, r.Signer)
}

// CommitWithSigner creates a new commit and signs it when signer is provided.
//
//  1. Read the index; refuse while it is conflicted
//  2. Write the index as a tree
//  3. Resolve HEAD to get the parent commit (if any); a pending merge adds
//     MERGE_HEAD as second parent
//  4. Create, sign and store the commit
//  5. Move the current branch ref by CAS from the parent
func (r *Repo) CommitWithSigner(message, author string, signer CommitSigner) (object.Hash, error) {
	var out object.Hash
	err := r.withWriteLock("commit", func() error {
		idx, err := r.ReadIndex()
		if err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		if len(idx.Entries) == 0 {
			return fmt.Errorf("commit: nothing staged")
		}
		treeHash, err := r.WriteTree(idx)
		if err != nil {
			return fmt.Errorf("commit: %w", err)
		}

		parent, err := r.HeadCommit()
		if err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		var parents []object.Hash
		if !parent.IsZero() {
			parents = append(parents, parent)
		}

		// A resolved merge concludes with MERGE_HEAD as the second parent.
		mergeHead, concluding, err := r.readMergeHead()
		if err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		if concluding {
			merged, err := r.AnnotatedCommitFromID(mergeHead)
			if err != nil {
				return fmt.Errorf("commit: %s: %w", mergeHeadFile, err)
			}
			defer merged.Free()
			parents = append(parents, merged.ID)
			if strings.TrimSpace(message) == "" {
				message = r.readMergeMsg()
			}
		}
		if strings.TrimSpace(message) == "" {
			return fmt.Errorf("commit: empty commit message")
		}

		h, err := r.createCommit(treeHash, parents, author, message, signer)
		if err != nil {
			return fmt.Errorf("commit: %w", err)
		}

		head, err := r.Head()
		if err != nil {
			return fmt.Errorf("commit: read HEAD: %w", err)
		}
		reason := "commit: " + firstLine(message)
		if concluding {
			reason = "commit (merge): " + firstLine(message)
		} else if parent.IsZero() {
			reason = "commit (initial): " + firstLine(message)
		}
		if strings.HasPrefix(head, "refs/") {
			if err := r.UpdateRefCAS(head, h, parent, reason); err != nil {
				return fmt.Errorf("commit: update ref %q: %w", head, err)
			}
		} else if err := r.SetHeadDetached(h); err != nil {
			return fmt.Errorf("commit: update detached HEAD: %w", err)
		}
		if concluding {
			if err := r.clearMergeState(); err != nil {
				return fmt.Errorf("commit: %w", err)
			}
		}
		out = h
		return nil
	})
	return out, err
}

// createCommit writes a commit object with the given parents, in order.
func (r *Repo) createCommit(tree object.Hash, parents []object.Hash, author, message string, signer CommitSigner) (object.Hash, error) {
	if strings.TrimSpace(author) == "" {
		author = r.defaultAuthor()
	}
	c := &object.CommitObj{
		TreeHash:  tree,
		Parents:   parents,
		Author:    author,
		Timestamp: time.Now().Unix(),
		Message:   message,
	}
	if signer != nil {
		sig, err := signer(object.CommitSigningPayload(c))
		if err != nil {
			return "", fmt.Errorf("sign commit: %w", err)
		}
		c.Signature = sig
	}
	h, err := r.Store.WriteCommit(c)
	if err != nil {
		return "", wrapStore("write commit", StoreCodeGeneric, err)
	}
	return h, nil
}

// defaultAuthor builds "Name <email>" from repository config.
func (r *Repo) defaultAuthor() string {
	cfg, err := r.ReadConfig()
	if err != nil {
		return "gotsync"
	}
	name, email := cfg.UserName(), cfg.UserEmail()
	switch {
	case name != "" && email != "":
		return name + " <" + email + ">"
	case name != "":
		return name
	default:
		return "gotsync"
	}
}

// Log walks the commit history starting from the given hash, following
// first-parent links, returning up to limit commits newest first.
func (r *Repo) Log(start object.Hash, limit int) ([]*object.CommitObj, error) {
	var commits []*object.CommitObj
	current := start

	for !current.IsZero() && (limit <= 0 || len(commits) < limit) {
		c, err := r.Store.ReadCommit(current)
		if err != nil {
			if errors.Is(err, object.ErrObjectNotFound) || errors.Is(err, os.ErrNotExist) {
				break
			}
			return nil, fmt.Errorf("log: read commit %s: %w", current, err)
		}
		commits = append(commits, c)

		if len(c.Parents) == 0 {
			break
		}
		current = c.Parents[0]
	}
	return commits, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
