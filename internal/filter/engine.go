// Package filter implements the pattern engines applied to identities and URLs:
// regex ACLs, first-match URL mutation and the URL blacklist.
package filter

import "strings"

// Blacklist is a set of literal URL fragments. A URL containing any of them is ignored.
type Blacklist []string

// Blocked reports whether url contains one of the blacklisted fragments.
// Empty entries never match.
func (b Blacklist) Blocked(url string) (string, bool) {
	for _, s := range b {
		if s != "" && strings.Contains(url, s) {
			return s, true
		}
	}
	return "", false
}
