package settings

// Command is a privileged bot command resolved from its configured alias.
type Command int

// Known commands.
const (
	CmdNone Command = iota
	CmdDumpACL
	CmdInvite
	CmdJoin
	CmdModeOp
	CmdModeVoice
	CmdNick
	CmdReload
	CmdSay
)

func (c Command) String() string {
	switch c {
	case CmdDumpACL:
		return "dumpacl"
	case CmdInvite:
		return "invite"
	case CmdJoin:
		return "join"
	case CmdModeOp:
		return "mode_o"
	case CmdModeVoice:
		return "mode_v"
	case CmdNick:
		return "nick"
	case CmdReload:
		return "reload"
	case CmdSay:
		return "say"
	default:
		return "none"
	}
}

// Resolve maps a command word to its Command using the snapshot's alias table.
func (c *BotConfig) Resolve(word string) Command {
	return c.commands[word]
}
