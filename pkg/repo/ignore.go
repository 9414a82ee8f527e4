package repo

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// IgnoreFile lists untracked paths that status should not report.
const IgnoreFile = ".gotignore"

// IgnoreChecker matches repo-relative paths against .gotignore rules.
// The .got and .git directories are always ignored.
type IgnoreChecker struct {
	rules []ignoreRule
}

type ignoreRule struct {
	glob     string
	negated  bool
	dirOnly  bool
	anchored bool // glob contains a slash and is matched against the full path
	re       *regexp.Regexp
}

// NewIgnoreChecker loads <root>/.gotignore if present.
func NewIgnoreChecker(root string) *IgnoreChecker {
	ic := &IgnoreChecker{rules: []ignoreRule{
		{glob: ".got", dirOnly: true},
		{glob: ".git", dirOnly: true},
	}}
	f, err := os.Open(filepath.Join(root, IgnoreFile))
	if err != nil {
		return ic
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if rule, ok := parseIgnoreRule(sc.Text()); ok {
			ic.rules = append(ic.rules, rule)
		}
	}
	return ic
}

func parseIgnoreRule(line string) (ignoreRule, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") {
		return ignoreRule{}, false
	}
	var rule ignoreRule
	if rest, ok := strings.CutPrefix(line, "!"); ok {
		rule.negated = true
		line = rest
	}
	if strings.HasSuffix(line, "/") {
		rule.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	line = strings.TrimPrefix(line, "/")
	if line == "" {
		return ignoreRule{}, false
	}
	rule.glob = line
	rule.anchored = strings.Contains(line, "/")
	if strings.Contains(line, "**") {
		rule.re = regexp.MustCompile(globstarRegexp(line))
	}
	return rule, true
}

// IsIgnored reports whether p (slash separated, repo relative) is ignored.
// The last matching rule wins, so a later "!" rule re-includes a path.
func (ic *IgnoreChecker) IsIgnored(p string) bool {
	p = filepath.ToSlash(p)
	ignored := false
	for _, rule := range ic.rules {
		if rule.matches(p) {
			ignored = !rule.negated
		}
	}
	return ignored
}

func (r ignoreRule) matches(p string) bool {
	if r.dirOnly {
		// A directory rule covers the directory and everything below it.
		for dir := p; dir != "." && dir != "/" && dir != ""; dir = path.Dir(dir) {
			if r.matchOne(dir) {
				return true
			}
		}
		return false
	}
	return r.matchOne(p)
}

func (r ignoreRule) matchOne(p string) bool {
	target := p
	if !r.anchored {
		target = path.Base(p)
	}
	if r.re != nil {
		return r.re.MatchString(target)
	}
	ok, _ := path.Match(r.glob, target)
	return ok
}

func globstarRegexp(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); i++ {
		switch ch := glob[i]; {
		case ch == '*' && strings.HasPrefix(glob[i:], "**/"):
			b.WriteString("(?:.*/)?")
			i += 2
		case ch == '*' && strings.HasPrefix(glob[i:], "**"):
			b.WriteString(".*")
			i++
		case ch == '*':
			b.WriteString("[^/]*")
		case ch == '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString("$")
	return b.String()
}
