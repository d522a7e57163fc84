package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Rule is a URL rewrite rule: a pattern and a replacement template using
// $1, ${1} or ${name} back-references.
type Rule struct {
	Pattern     string
	Replacement string
}

type compiledRule struct {
	re          *regexp.Regexp
	replacement string
}

// Mutator rewrites URLs with the first matching rule.
type Mutator struct {
	rules []compiledRule
}

// CompileMutator compiles the rules in order and checks that every replacement
// only references capture groups its pattern defines.
func CompileMutator(rules []Rule) (*Mutator, error) {
	m := &Mutator{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("mutation rule %d %q: %w", i, r.Pattern, err)
		}
		if err := checkTemplate(re, r.Replacement); err != nil {
			return nil, fmt.Errorf("mutation rule %d: %w", i, err)
		}
		m.rules = append(m.rules, compiledRule{re: re, replacement: r.Replacement})
	}
	return m, nil
}

// Apply rewrites url with the first rule whose pattern matches it. Only the
// leftmost match of that rule is replaced. It returns the rule index, or -1
// and false when no rule matches.
func (m *Mutator) Apply(url string) (string, int, bool) {
	if m == nil {
		return url, -1, false
	}
	for i, r := range m.rules {
		loc := r.re.FindStringSubmatchIndex(url)
		if loc == nil {
			continue
		}
		expanded := r.re.ExpandString(nil, r.replacement, url, loc)
		return url[:loc[0]] + string(expanded) + url[loc[1]:], i, true
	}
	return url, -1, false
}

// Len returns the number of rules.
func (m *Mutator) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}

func checkTemplate(re *regexp.Regexp, tmpl string) error {
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '$' {
			continue
		}
		i++
		if i >= len(tmpl) {
			return fmt.Errorf("dangling $ in %q", tmpl)
		}
		if tmpl[i] == '$' {
			continue
		}

		var name string
		if tmpl[i] == '{' {
			end := strings.IndexByte(tmpl[i:], '}')
			if end < 0 {
				return fmt.Errorf("unterminated ${ in %q", tmpl)
			}
			name = tmpl[i+1 : i+end]
			i += end
		} else {
			j := i
			for j < len(tmpl) && isNameByte(tmpl[j]) {
				j++
			}
			name = tmpl[i:j]
			i = j - 1
		}
		if name == "" {
			return fmt.Errorf("malformed group reference in %q", tmpl)
		}
		if !hasGroup(re, name) {
			return fmt.Errorf("replacement %q references unknown group %q", tmpl, name)
		}
	}
	return nil
}

func isNameByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func hasGroup(re *regexp.Regexp, name string) bool {
	if n, err := strconv.Atoi(name); err == nil {
		return n >= 0 && n <= re.NumSubexp()
	}
	return re.SubexpIndex(name) >= 0
}
