package bot

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SplitCommand splits a private message into its command word and the
// trimmed remainder.
func SplitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	word, rest, _ := cutSpace(text)
	return word, strings.TrimSpace(rest)
}

// cutSpace slices s around the first whitespace rune.
func cutSpace(s string) (before, after string, found bool) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, "", false
	}
	_, size := utf8.DecodeRuneInString(s[i:])
	return s[:i], s[i+size:], true
}

// ParseURLCommand parses "!name args" channel text. ok is false when text
// is not a URL command.
func ParseURLCommand(text string) (name, arg string, ok bool) {
	word, rest := SplitCommand(text)
	name, ok = strings.CutPrefix(word, "!")
	if !ok || name == "" {
		return "", "", false
	}
	return name, rest, true
}

// ParseSay splits say arguments into target and text. A leading channel
// name selects the target; otherwise the default channel is used.
func ParseSay(args, defaultChannel string) (target, text string) {
	if strings.HasPrefix(args, "#") {
		if ch, rest, found := cutSpace(args); found {
			return ch, strings.TrimSpace(rest)
		}
	}
	return defaultChannel, args
}
