package session

import (
	"strings"

	"gopkg.in/irc.v4"

	"chanbot/internal/model"
)

const channelPrefixes = "#&+!"

// IsChannel reports whether target names a channel.
func IsChannel(target string) bool {
	return target != "" && strings.ContainsRune(channelPrefixes, rune(target[0]))
}

// Classify maps a protocol message to a router event. self is the bot's
// current nick; the bot's own JOINs classify as EventOther.
func Classify(m *irc.Message, self string) model.Event {
	ev := model.Event{Command: m.Command, Params: m.Params}
	if m.Prefix != nil {
		ev.Source = model.Identity{Nick: m.Prefix.Name, User: m.Prefix.User, Host: m.Prefix.Host}
	}
	param := func(i int) string {
		if i < len(m.Params) {
			return m.Params[i]
		}
		return ""
	}

	switch {
	case m.Command == "PRIVMSG":
		ev.Target = param(0)
		ev.Text = m.Trailing()
		if len(m.Params) < 2 {
			return ev
		}
		if IsChannel(ev.Target) {
			ev.Kind = model.EventChannelText
		} else {
			ev.Kind = model.EventPrivateText
		}
	case m.Command == "JOIN":
		ev.Target = param(0)
		if ev.Target != "" && !strings.EqualFold(ev.Source.Nick, self) {
			ev.Kind = model.EventJoin
		}
	case m.Command == "INVITE":
		ev.Target = param(0)
		ev.Text = param(1)
		if ev.Text != "" {
			ev.Kind = model.EventInvite
		}
	case m.Command == "NICK":
		ev.Text = param(0)
		ev.Kind = model.EventNick
	case isNumeric(m.Command):
		ev.Target = param(0)
		ev.Text = m.Trailing()
		ev.Kind = model.EventNumeric
	}
	return ev
}

func isNumeric(cmd string) bool {
	if len(cmd) != 3 {
		return false
	}
	for _, r := range cmd {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
