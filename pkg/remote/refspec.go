package remote

import (
	"fmt"
	"strings"
)

// Refspec maps source refs to destination refs, e.g.
// "+refs/heads/*:refs/remotes/origin/*". A leading "+" allows
// non-fast-forward updates. Either both sides carry one "*" or neither does.
type Refspec struct {
	Force bool
	Src   string
	Dst   string
}

// ParseRefspec parses a single refspec.
func ParseRefspec(s string) (Refspec, error) {
	raw := strings.TrimSpace(s)
	var rs Refspec
	if strings.HasPrefix(raw, "+") {
		rs.Force = true
		raw = raw[1:]
	}
	src, dst, ok := strings.Cut(raw, ":")
	if !ok {
		dst = src
	}
	rs.Src, rs.Dst = strings.TrimSpace(src), strings.TrimSpace(dst)
	if rs.Src == "" || rs.Dst == "" {
		return Refspec{}, fmt.Errorf("invalid refspec %q: empty side", s)
	}
	srcStars, dstStars := strings.Count(rs.Src, "*"), strings.Count(rs.Dst, "*")
	if srcStars > 1 || dstStars > 1 || srcStars != dstStars {
		return Refspec{}, fmt.Errorf("invalid refspec %q: mismatched wildcards", s)
	}
	return rs, nil
}

// ParseRefspecs parses every entry, failing on the first invalid one.
func ParseRefspecs(specs []string) ([]Refspec, error) {
	out := make([]Refspec, 0, len(specs))
	for _, s := range specs {
		rs, err := ParseRefspec(s)
		if err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, nil
}

func (rs Refspec) String() string {
	s := rs.Src + ":" + rs.Dst
	if rs.Force {
		return "+" + s
	}
	return s
}

// Match reports whether name matches the source side.
func (rs Refspec) Match(name string) bool {
	_, ok := matchPattern(rs.Src, name)
	return ok
}

// MatchDestination reports whether name matches the destination side.
func (rs Refspec) MatchDestination(name string) bool {
	_, ok := matchPattern(rs.Dst, name)
	return ok
}

// Transform maps a source ref name to its destination name.
func (rs Refspec) Transform(name string) (string, bool) {
	wild, ok := matchPattern(rs.Src, name)
	if !ok {
		return "", false
	}
	return strings.Replace(rs.Dst, "*", wild, 1), true
}

// matchPattern matches name against a pattern with at most one "*",
// returning the text the wildcard stood for.
func matchPattern(pattern, name string) (string, bool) {
	prefix, suffix, wildcard := strings.Cut(pattern, "*")
	if !wildcard {
		return "", pattern == name
	}
	if len(name) < len(prefix)+len(suffix) {
		return "", false
	}
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return "", false
	}
	wild := name[len(prefix) : len(name)-len(suffix)]
	if wild == "" {
		return "", false
	}
	return wild, true
}
