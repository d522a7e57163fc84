// Package bot routes incoming IRC events to command handlers and the URL pipeline.
package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/semaphore"

	"chanbot/internal/model"
	"chanbot/internal/settings"
	"chanbot/internal/storage"
)

// DefaultWorkers bounds concurrent URL pipeline and URL command runs.
const DefaultWorkers = 8

const welcome = "001"

// ConfigSource provides the active configuration snapshot and reloads it.
type ConfigSource interface {
	Current() *settings.BotConfig
	Reload() (*settings.BotConfig, error)
}

// Fetcher retrieves titles and templated command results.
type Fetcher interface {
	Title(ctx context.Context, url string) (string, error)
	FetchTemplated(ctx context.Context, cmd settings.URLCommand, arg string) ([]string, error)
}

// OpQueue accepts outbound operations.
type OpQueue interface {
	Push(op model.Op)
}

// MsgQueue accepts outbound messages.
type MsgQueue interface {
	Push(msg model.Msg)
}

// Options tune a Bot. Zero values take defaults.
type Options struct {
	// Channels are joined after the server welcomes the bot.
	Channels []string
	Workers  int64
	// LogTimeout bounds one URL log call including its retries.
	LogTimeout time.Duration
	Now        func() time.Time
}

// Bot is the event router. HandleEvent is called from the connection's read
// loop; anything needing network or database I/O runs on its own goroutine.
type Bot struct {
	cfg   ConfigSource
	urls  storage.Storage
	fetch Fetcher
	ops   OpQueue
	msgs  MsgQueue
	log   *slog.Logger

	channels   []string
	logTimeout time.Duration
	now        func() time.Time

	sem      *semaphore.Weighted
	inflight *xsync.Map[string, struct{}]
	wg       sync.WaitGroup
}

// New creates a Bot.
func New(cfg ConfigSource, urls storage.Storage, fetch Fetcher, ops OpQueue, msgs MsgQueue, opts Options, log *slog.Logger) *Bot {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.LogTimeout <= 0 {
		opts.LogTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Bot{
		cfg:        cfg,
		urls:       urls,
		fetch:      fetch,
		ops:        ops,
		msgs:       msgs,
		log:        log,
		channels:   opts.Channels,
		logTimeout: opts.LogTimeout,
		now:        opts.Now,
		sem:        semaphore.NewWeighted(opts.Workers),
		inflight:   xsync.NewMap[string, struct{}](),
	}
}

// HandleEvent dispatches one classified event. Decisions are made in
// receipt order against the snapshot current at that moment.
func (b *Bot) HandleEvent(ctx context.Context, ev model.Event) {
	switch ev.Kind {
	case model.EventChannelText:
		b.handleChannelText(ctx, ev)
	case model.EventPrivateText:
		b.handleCommand(ctx, ev)
	case model.EventJoin:
		b.handleJoin(ev)
	case model.EventInvite:
		b.handleInvite(ev)
	case model.EventNick:
		b.log.Info("nick change", "from", ev.Source.Nick, "to", ev.Text)
	case model.EventNumeric:
		if ev.Command == welcome {
			b.handleWelcome()
		}
	}
}

// Wait blocks until every spawned pipeline and handler has finished.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// spawn runs fn on its own goroutine once a worker slot is free.
func (b *Bot) spawn(ctx context.Context, fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer b.sem.Release(1)
		fn(ctx)
	}()
}

func (b *Bot) handleChannelText(ctx context.Context, ev model.Event) {
	cfg := b.cfg.Current()
	channel := ev.Target

	if name, arg, ok := ParseURLCommand(ev.Text); ok && cfg.URLCmd.Get(channel) {
		if cmd, found := cfg.URLCommands[name]; found {
			b.log.Info("url command", "channel", channel, "nick", ev.Source.Nick, "cmd", name, "arg", arg)
			b.spawn(ctx, func(ctx context.Context) {
				b.runURLCommand(ctx, channel, cmd, arg)
			})
			return
		}
	}

	if !cfg.Log.Get(channel) && !cfg.Fetch.Get(channel) && !cfg.Mutate.Get(channel) {
		return
	}
	observed := b.now()
	for _, u := range cfg.FindURLs(ev.Text) {
		ue := model.URLEvent{Channel: channel, Sender: ev.Source, URL: u, Observed: observed}
		b.log.Info("detected url", "channel", channel, "nick", ev.Source.Nick, "url", u)
		b.spawn(ctx, func(ctx context.Context) {
			b.processURL(ctx, ue)
		})
	}
}

func (b *Bot) handleJoin(ev model.Event) {
	cfg := b.cfg.Current()
	identity := ev.Source.String()
	i, pattern, ok := cfg.AutoOpACL.Match(identity)
	if !ok {
		return
	}
	b.log.Info("auto-op acl match", "channel", ev.Target, "identity", identity, "index", i, "pattern", pattern)
	b.ops.Push(model.GrantMode(ev.Target, ev.Source.Nick, model.ModeOp))
}

func (b *Bot) handleInvite(ev model.Event) {
	cfg := b.cfg.Current()
	if !cfg.IsPrivileged(ev.Source.Nick) {
		b.log.Debug("ignoring invite", "nick", ev.Source.Nick, "channel", ev.Text)
		return
	}
	b.log.Info("invited", "nick", ev.Source.Nick, "channel", ev.Text)
	b.ops.Push(model.Join(ev.Text))
}

func (b *Bot) handleWelcome() {
	b.log.Info("registered, joining channels", "channels", b.channels)
	for _, ch := range b.channels {
		b.ops.Push(model.Join(ch))
	}
}
