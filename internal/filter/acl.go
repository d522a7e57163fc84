package filter

import (
	"fmt"
	"regexp"
)

// ACL is an ordered set of compiled patterns matched against identity strings.
// It is read-only once compiled.
type ACL struct {
	patterns []string
	res      []*regexp.Regexp
}

// CompileACL compiles every pattern. An empty list yields an ACL that matches nothing.
func CompileACL(patterns []string) (*ACL, error) {
	acl := &ACL{
		patterns: make([]string, 0, len(patterns)),
		res:      make([]*regexp.Regexp, 0, len(patterns)),
	}
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("acl entry %d %q: %w", i, p, err)
		}
		acl.patterns = append(acl.patterns, p)
		acl.res = append(acl.res, re)
	}
	return acl, nil
}

// Match returns the index and source of the first pattern matching subject.
func (a *ACL) Match(subject string) (int, string, bool) {
	if a == nil {
		return -1, "", false
	}
	for i, re := range a.res {
		if re.MatchString(subject) {
			return i, a.patterns[i], true
		}
	}
	return -1, "", false
}

// Matches reports whether any pattern matches subject.
func (a *ACL) Matches(subject string) bool {
	_, _, ok := a.Match(subject)
	return ok
}

// Patterns returns a copy of the pattern sources in order.
func (a *ACL) Patterns() []string {
	if a == nil {
		return nil
	}
	out := make([]string, len(a.patterns))
	copy(out, a.patterns)
	return out
}

// Len returns the number of patterns.
func (a *ACL) Len() int {
	if a == nil {
		return 0
	}
	return len(a.res)
}
