package dispatch

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/irc.v4"

	"chanbot/internal/model"
)

// Reload acknowledgment texts.
const (
	ReloadOK     = "*** Reload successful."
	ReloadFailed = "*** Reload failed: "
)

// Ops is the operations queue.
type Ops = Queue[model.Op]

// Msgs is the messages queue.
type Msgs = Queue[model.Msg]

// NewOps creates the operations queue.
func NewOps(pace time.Duration, out Writer, log *slog.Logger) *Ops {
	return NewQueue("ops", pace, out, EncodeOp, log)
}

// NewMsgs creates the messages queue.
func NewMsgs(pace time.Duration, out Writer, log *slog.Logger) *Msgs {
	return NewQueue("msgs", pace, out, EncodeMsg, log)
}

// EncodeOp renders an operation as protocol messages.
func EncodeOp(op model.Op) ([]*irc.Message, error) {
	var m *irc.Message
	switch op.Kind {
	case model.OpGrantMode:
		if op.Flag != model.ModeOp && op.Flag != model.ModeVoice {
			return nil, fmt.Errorf("unsupported mode %q", op.Flag)
		}
		m = &irc.Message{Command: "MODE", Params: []string{op.Channel, "+" + string(op.Flag), op.Nick}}
	case model.OpInvite:
		m = &irc.Message{Command: "INVITE", Params: []string{op.Nick, op.Channel}}
	case model.OpJoin:
		m = &irc.Message{Command: "JOIN", Params: []string{op.Channel}}
	case model.OpChangeNick:
		m = &irc.Message{Command: "NICK", Params: []string{op.Nick}}
	case model.OpReloadAck:
		text := ReloadOK
		if !op.OK {
			text = ReloadFailed + strings.Join(strings.Fields(op.Detail), " ")
		}
		m = privmsg(op.Target, text)
	default:
		return nil, fmt.Errorf("unknown op kind %d", op.Kind)
	}
	return []*irc.Message{m}, nil
}

// EncodeMsg renders a text message as one PRIVMSG per line.
func EncodeMsg(msg model.Msg) ([]*irc.Message, error) {
	if msg.Target == "" {
		return nil, fmt.Errorf("message without target")
	}
	var out []*irc.Message
	for _, line := range strings.FieldsFunc(msg.Text, func(r rune) bool { return r == '\n' || r == '\r' }) {
		out = append(out, privmsg(msg.Target, line))
	}
	return out, nil
}

func privmsg(target, text string) *irc.Message {
	return &irc.Message{Command: "PRIVMSG", Params: []string{target, text}}
}
