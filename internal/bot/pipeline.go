package bot

import (
	"context"
	"errors"

	"chanbot/internal/fetcher"
	"chanbot/internal/model"
	"chanbot/internal/settings"
)

// processURL runs one detected URL through blacklist, URL log, title and
// mutation stages. Each stage reads the snapshot current when the pipeline
// starts and any output is an independent message.
func (b *Bot) processURL(ctx context.Context, ev model.URLEvent) {
	cfg := b.cfg.Current()
	log := b.log.With("channel", ev.Channel, "url", ev.URL)

	if entry, blocked := cfg.Blacklist.Blocked(ev.URL); blocked {
		log.Info("blacklisted url ignored", "entry", entry)
		return
	}

	if cfg.Log.Get(ev.Channel) {
		b.checkDuplicate(ctx, cfg, ev)
	}

	fetch := cfg.Fetch.Get(ev.Channel)
	if fetch {
		b.announceTitle(ctx, ev.Channel, ev.URL)
	}

	if cfg.Mutate.Get(ev.Channel) {
		mutated, i, ok := cfg.Mutator.Apply(ev.URL)
		if !ok || mutated == ev.URL {
			return
		}
		log.Info("url mutated", "rule", i, "mutated", mutated)
		b.msgs.Push(model.Msg{Target: ev.Channel, Text: mutated})
		if fetch {
			b.announceTitle(ctx, ev.Channel, mutated)
		}
	}
}

// checkDuplicate records the sighting, or complains when the URL was already
// seen inside the channel's window. A failing URL log degrades to "not seen".
func (b *Bot) checkDuplicate(ctx context.Context, cfg *settings.BotConfig, ev model.URLEvent) {
	window := cfg.DedupWindow(ev.Channel)
	ctx, cancel := context.WithTimeout(ctx, b.logTimeout)
	defer cancel()

	rec := model.URLRecord{Seen: ev.Observed, Channel: ev.Channel, Nick: ev.Sender.Nick, URL: ev.URL}
	prior, err := b.urls.RecordIfNew(ctx, rec, window.Start(ev.Observed))
	if err != nil {
		b.log.Error("url log unavailable, treating url as new", "channel", ev.Channel, "url", ev.URL, "error", err)
		return
	}
	if prior == nil {
		return
	}
	b.log.Info("duplicate url", "channel", ev.Channel, "url", ev.URL, "count", prior.Count, "first_nick", prior.Nick)
	if cfg.DupComplain.Get(ev.Channel) {
		b.msgs.Push(model.Msg{Target: ev.Channel, Text: FormatComplaint(*prior, window.Location)})
	}
}

// announceTitle fetches and announces the title of url. Concurrent requests
// for the same channel and URL collapse into one.
func (b *Bot) announceTitle(ctx context.Context, channel, url string) {
	key := channel + " " + url
	if _, loaded := b.inflight.LoadOrStore(key, struct{}{}); loaded {
		return
	}
	defer b.inflight.Delete(key)

	title, err := b.fetch.Title(ctx, url)
	if err != nil {
		if !errors.Is(err, fetcher.ErrNoTitle) {
			b.log.Debug("title fetch failed", "channel", channel, "url", url, "error", err)
		}
		return
	}
	b.msgs.Push(model.Msg{Target: channel, Text: FormatTitle(title)})
}

func (b *Bot) runURLCommand(ctx context.Context, channel string, cmd settings.URLCommand, arg string) {
	captures, err := b.fetch.FetchTemplated(ctx, cmd, arg)
	if err != nil {
		b.log.Warn("url command failed", "channel", channel, "cmd", cmd.Name, "error", err)
		return
	}
	for _, c := range captures {
		b.msgs.Push(model.Msg{Target: channel, Text: FormatCapture(c)})
	}
}
