// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"time"
)

// EventKind classifies an incoming protocol event.
type EventKind int

// Event classes understood by the router. Anything else is EventOther and dropped.
const (
	EventOther EventKind = iota
	EventChannelText
	EventPrivateText
	EventJoin
	EventInvite
	EventNick
	EventNumeric
)

func (k EventKind) String() string {
	switch k {
	case EventChannelText:
		return "chantext"
	case EventPrivateText:
		return "privtext"
	case EventJoin:
		return "join"
	case EventInvite:
		return "invite"
	case EventNick:
		return "nick"
	case EventNumeric:
		return "numeric"
	default:
		return "other"
	}
}

// Identity is the nick!user@host triple presented by a message source.
type Identity struct {
	Nick string
	User string
	Host string
}

// String returns the identity in nick!user@host form, the subject of ACL matching.
func (i Identity) String() string {
	return fmt.Sprintf("%s!%s@%s", i.Nick, i.User, i.Host)
}

// Event is a single incoming protocol event after classification.
type Event struct {
	Kind    EventKind
	Source  Identity
	Command string
	// Target is the channel or nick the event was addressed to.
	Target string
	// Text holds the message body, the new nick of a NICK or the channel of an INVITE.
	Text   string
	Params []string
}

// URLEvent is one URL detected inside a channel message.
type URLEvent struct {
	Channel  string
	Sender   Identity
	URL      string
	Observed time.Time
}

// OpKind tags the variant carried by an Op.
type OpKind int

// Supported operations.
const (
	OpGrantMode OpKind = iota + 1
	OpInvite
	OpJoin
	OpChangeNick
	OpReloadAck
)

func (k OpKind) String() string {
	switch k {
	case OpGrantMode:
		return "mode"
	case OpInvite:
		return "invite"
	case OpJoin:
		return "join"
	case OpChangeNick:
		return "nick"
	case OpReloadAck:
		return "reload_ack"
	default:
		return "unknown"
	}
}

// ModeFlag is a channel member mode the bot may grant.
type ModeFlag byte

// Grantable modes.
const (
	ModeOp    ModeFlag = 'o'
	ModeVoice ModeFlag = 'v'
)

// Op is an outbound operation for the operations queue.
// Only the fields relevant to Kind are set.
type Op struct {
	Kind    OpKind
	Channel string
	Nick    string
	Flag    ModeFlag
	// Target, OK and Detail describe a reload acknowledgment.
	Target string
	OK     bool
	Detail string
}

// GrantMode returns an op giving nick the flag on channel.
func GrantMode(channel, nick string, flag ModeFlag) Op {
	return Op{Kind: OpGrantMode, Channel: channel, Nick: nick, Flag: flag}
}

// Invite returns an op inviting nick to channel.
func Invite(channel, nick string) Op {
	return Op{Kind: OpInvite, Channel: channel, Nick: nick}
}

// Join returns an op making the bot join channel.
func Join(channel string) Op {
	return Op{Kind: OpJoin, Channel: channel}
}

// ChangeNick returns an op changing the bot's nick.
func ChangeNick(nick string) Op {
	return Op{Kind: OpChangeNick, Nick: nick}
}

// ReloadAck returns an op acknowledging a reload request to target.
func ReloadAck(target string, ok bool, detail string) Op {
	return Op{Kind: OpReloadAck, Target: target, OK: ok, Detail: detail}
}

// Msg is an outbound text message for the message queue.
type Msg struct {
	Target string
	Text   string
}

// PriorSeen summarizes earlier sightings of a URL inside the dedup window.
type PriorSeen struct {
	Count int
	First time.Time
	Last  time.Time
	Nick  string
}

// URLRecord is one row of the URL log.
type URLRecord struct {
	ID      int64
	Seen    time.Time
	Channel string
	Nick    string
	URL     string
}
