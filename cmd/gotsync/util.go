package main

import (
	"fmt"
	"strings"

	"github.com/odvcencio/gotsync/pkg/repo"
)

// branchLabel names the current branch, or "HEAD" when detached.
func branchLabel(r *repo.Repo) string {
	b, err := r.CurrentBranch()
	if err != nil {
		return "HEAD"
	}
	return b.Name
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
