package bot

import (
	"context"

	"chanbot/internal/model"
	"chanbot/internal/settings"
)

// privilegedOnly lists commands reserved for privileged nicks.
var privilegedOnly = map[settings.Command]bool{
	settings.CmdDumpACL: true,
	settings.CmdJoin:    true,
	settings.CmdNick:    true,
	settings.CmdReload:  true,
	settings.CmdSay:     true,
}

func (b *Bot) handleCommand(ctx context.Context, ev model.Event) {
	cfg := b.cfg.Current()
	word, args := SplitCommand(ev.Text)
	cmd := cfg.Resolve(word)
	if cmd == settings.CmdNone {
		return
	}
	if !authorized(cfg, cmd, ev.Source) {
		b.log.Info("unauthorized command dropped", "cmd", cmd, "identity", ev.Source.String())
		return
	}

	b.log.Debug("command", "cmd", cmd, "args", args, "nick", ev.Source.Nick)

	switch cmd {
	case settings.CmdDumpACL:
		b.handleDumpACL(cfg, ev.Source.Nick)
	case settings.CmdInvite:
		b.log.Info("inviting", "nick", ev.Source.Nick, "channel", cfg.Channel)
		b.ops.Push(model.Invite(cfg.Channel, ev.Source.Nick))
	case settings.CmdJoin:
		if args == "" {
			return
		}
		b.log.Info("joining", "channel", args)
		b.ops.Push(model.Join(args))
	case settings.CmdModeOp:
		b.handleModeOp(cfg, ev.Source)
	case settings.CmdModeVoice:
		b.ops.Push(model.GrantMode(cfg.Channel, ev.Source.Nick, model.ModeVoice))
	case settings.CmdNick:
		if args == "" {
			return
		}
		b.log.Info("changing nick", "nick", args)
		b.ops.Push(model.ChangeNick(args))
	case settings.CmdReload:
		requester := ev.Source.Nick
		b.spawn(ctx, func(context.Context) {
			b.handleReload(requester)
		})
	case settings.CmdSay:
		target, text := ParseSay(args, cfg.Channel)
		if text == "" {
			return
		}
		b.msgs.Push(model.Msg{Target: target, Text: text})
	}
}

// authorized decides whether sender may run cmd. Privileged nicks may run
// everything; mode and invite commands are open, invite minus its blocklists.
func authorized(cfg *settings.BotConfig, cmd settings.Command, sender model.Identity) bool {
	if cfg.IsPrivileged(sender.Nick) {
		return true
	}
	if privilegedOnly[cmd] {
		return false
	}
	if cmd == settings.CmdInvite {
		return !cfg.InviteBlocked(sender.Nick, sender.String())
	}
	return true
}

func (b *Bot) handleModeOp(cfg *settings.BotConfig, sender model.Identity) {
	identity := sender.String()
	if cfg.IsPrivileged(sender.Nick) {
		b.ops.Push(model.GrantMode(cfg.Channel, sender.Nick, model.ModeOp))
		return
	}
	if i, pattern, ok := cfg.ModeOpACL.Match(identity); ok {
		b.log.Info("mode_o acl match", "identity", identity, "index", i, "pattern", pattern)
		b.ops.Push(model.GrantMode(cfg.Channel, sender.Nick, model.ModeOp))
		return
	}
	b.log.Info("mode_o acl check failed, granting voice", "identity", identity)
	b.ops.Push(model.GrantMode(cfg.Channel, sender.Nick, model.ModeVoice))
}

func (b *Bot) handleDumpACL(cfg *settings.BotConfig, nick string) {
	dump := func(header string, patterns []string) {
		b.msgs.Push(model.Msg{Target: nick, Text: header})
		for _, p := range patterns {
			b.msgs.Push(model.Msg{Target: nick, Text: p})
		}
		b.msgs.Push(model.Msg{Target: nick, Text: "<EOF>"})
	}
	dump("My +o ACL:", cfg.ModeOpACL.Patterns())
	dump("My auto +o ACL:", cfg.AutoOpACL.Patterns())
}

func (b *Bot) handleReload(requester string) {
	b.log.Warn("reloading config", "requester", requester)
	cfg, err := b.cfg.Reload()
	if err != nil {
		b.log.Error("reload failed", "error", err)
		b.ops.Push(model.ReloadAck(requester, false, err.Error()))
		return
	}
	b.log.Info("reload successful", "loaded_at", cfg.LoadedAt)
	b.ops.Push(model.ReloadAck(requester, true, ""))
}
