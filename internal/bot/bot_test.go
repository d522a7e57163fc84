package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"chanbot/internal/fetcher"
	"chanbot/internal/model"
	"chanbot/internal/settings"
	"chanbot/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDoc() settings.Document {
	return settings.Document{
		Channel:         "#home",
		PrivilegedNicks: map[string]bool{"owner": true},
		URLRegex:        `(https?://[^\s]+)`,
		URLLogDB:        ":memory:",
		URLBlacklist:    []string{"https://znc.in"},

		URLFetchChannels:       settings.ChannelSetting[bool]{"*": true, "#quiet": false},
		URLCmdChannels:         settings.ChannelSetting[bool]{"*": true, "#quiet": false},
		URLMutChannels:         settings.ChannelSetting[bool]{"*": true},
		URLLogChannels:         settings.ChannelSetting[bool]{"*": true},
		URLDupComplainChannels: settings.ChannelSetting[bool]{"*": true, "#quiet": false},
		URLDupExpireDays:       settings.ChannelSetting[int]{"*": 7},
		URLDupTimezone:         settings.ChannelSetting[string]{"*": "UTC", "#fi": "Europe/Helsinki"},

		CmdDumpACL: "dumpacl",
		CmdInvite:  "invite",
		CmdJoin:    "join",
		CmdModeO:   "op",
		CmdModeV:   "voice",
		CmdNick:    "nick",
		CmdReload:  "reload",
		CmdSay:     "say",

		ModeOACL:         []string{`@trusted\.example$`},
		AutoOACL:         []string{`^.*@example\.com$`},
		InviteBlockNicks: []string{"Spammer"},
		InviteBlockHosts: []string{`@bad\.example$`},

		URLCmdList: map[string]settings.URLCmd{
			"w": {URLTmpl: "https://wttr.example/{{path .Arg}}", OutputFilter: `^(.+)$`},
		},
		URLMutList: [][2]string{
			{`^\w+://[\w.]*twitter.com/([^?]+).*$`, "https://nitter.net/$1"},
		},
	}
}

type fakeConfig struct {
	mu       sync.Mutex
	cur      *settings.BotConfig
	next     *settings.BotConfig
	err      error
	reloaded int
}

func (f *fakeConfig) Current() *settings.BotConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur
}

func (f *fakeConfig) Reload() (*settings.BotConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloaded++
	if f.err != nil {
		return nil, f.err
	}
	f.cur = f.next
	return f.cur, nil
}

type fakeFetcher struct {
	mu       sync.Mutex
	titles   map[string]string
	captures []string
	fetched  []string
	gate     chan struct{}
	started  chan struct{}
}

func (f *fakeFetcher) Title(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	gate, started := f.gate, f.started
	title, ok := f.titles[url]
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if gate != nil {
		<-gate
	}
	if !ok {
		return "", fetcher.ErrNoTitle
	}
	return title, nil
}

func (f *fakeFetcher) FetchTemplated(_ context.Context, cmd settings.URLCommand, arg string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := cmd.Render(arg)
	if err != nil {
		return nil, err
	}
	f.fetched = append(f.fetched, u)
	return f.captures, nil
}

type queue[T any] struct {
	mu    sync.Mutex
	items []T
}

func (q *queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

func (q *queue[T]) all() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]T(nil), q.items...)
}

type failingStorage struct {
	storage.Storage
	calls int
}

func (f *failingStorage) RecordIfNew(context.Context, model.URLRecord, time.Time) (*model.PriorSeen, error) {
	f.calls++
	return nil, errors.New("unable to open database file")
}

// loggedStorage records which sightings the wrapped storage actually stored.
type loggedStorage struct {
	storage.Storage
	mu     sync.Mutex
	stored []model.URLRecord
}

func (l *loggedStorage) RecordIfNew(ctx context.Context, rec model.URLRecord, since time.Time) (*model.PriorSeen, error) {
	prior, err := l.Storage.RecordIfNew(ctx, rec, since)
	if err == nil && prior == nil {
		l.mu.Lock()
		l.stored = append(l.stored, rec)
		l.mu.Unlock()
	}
	return prior, err
}

func (l *loggedStorage) records(url string) []model.URLRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.URLRecord
	for _, rec := range l.stored {
		if rec.URL == url {
			out = append(out, rec)
		}
	}
	return out
}

type harness struct {
	bot   *Bot
	cfg   *fakeConfig
	urls  *loggedStorage
	fetch *fakeFetcher
	ops   *queue[model.Op]
	msgs  *queue[model.Msg]
	now   time.Time
}

func newHarness(t *testing.T, doc settings.Document) *harness {
	t.Helper()
	return newHarnessWorkers(t, doc, 4)
}

func newHarnessWorkers(t *testing.T, doc settings.Document, workers int64) *harness {
	t.Helper()
	cfg, err := settings.Compile(doc)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	urls, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = urls.Close() })

	h := &harness{
		cfg:   &fakeConfig{cur: cfg},
		urls:  &loggedStorage{Storage: urls},
		fetch: &fakeFetcher{titles: map[string]string{}},
		ops:   &queue[model.Op]{},
		msgs:  &queue[model.Msg]{},
		now:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.bot = New(h.cfg, h.urls, h.fetch, h.ops, h.msgs, Options{
		Channels: []string{"#home", "#misc"},
		Workers:  workers,
		Now:      func() time.Time { return h.now },
	}, discardLogger())
	return h
}

// say delivers a message from sender to target and waits for spawned work.
func (h *harness) say(sender model.Identity, target, text string) {
	kind := model.EventPrivateText
	if target[0] == '#' {
		kind = model.EventChannelText
	}
	h.bot.HandleEvent(context.Background(), model.Event{
		Kind: kind, Source: sender, Command: "PRIVMSG", Target: target, Text: text,
	})
	h.bot.Wait()
}

var (
	alice    = model.Identity{Nick: "alice", User: "a", Host: "home.example"}
	bob      = model.Identity{Nick: "bob", User: "b", Host: "other.example"}
	owner    = model.Identity{Nick: "owner", User: "o", Host: "owner.example"}
	trusted  = model.Identity{Nick: "tim", User: "t", Host: "trusted.example"}
	stranger = model.Identity{Nick: "eve", User: "e", Host: "evil.example"}
)

func TestBlacklistedURLProducesNothing(t *testing.T) {
	h := newHarness(t, testDoc())

	h.say(alice, "#home", "look https://znc.in/x")

	if msgs := h.msgs.all(); len(msgs) != 0 {
		t.Errorf("messages = %v, want none", msgs)
	}
	if len(h.fetch.fetched) != 0 {
		t.Errorf("fetched %v, want nothing", h.fetch.fetched)
	}
	if recs := h.urls.records("https://znc.in/x"); len(recs) != 0 {
		t.Errorf("records = %v, want none", recs)
	}
}

func TestMutationAnnouncesRewrittenURL(t *testing.T) {
	h := newHarness(t, testDoc())
	h.fetch.titles["https://nitter.net/user/status/1"] = "A tweet"

	h.say(alice, "#home", "https://twitter.com/user/status/1")

	want := []model.Msg{
		{Target: "#home", Text: "https://nitter.net/user/status/1"},
		{Target: "#home", Text: `"A tweet"`},
	}
	if diff := cmp.Diff(want, h.msgs.all()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestMutationDisabled(t *testing.T) {
	doc := testDoc()
	doc.URLMutChannels = settings.ChannelSetting[bool]{"*": false}
	h := newHarness(t, doc)

	h.say(alice, "#home", "https://twitter.com/user/status/1")

	if msgs := h.msgs.all(); len(msgs) != 0 {
		t.Errorf("messages = %v, want none", msgs)
	}
}

func TestTitleAnnounced(t *testing.T) {
	h := newHarness(t, testDoc())
	h.fetch.titles["https://example.com/a"] = "Example page"

	h.say(alice, "#home", "see https://example.com/a and https://example.com/none")

	want := []model.Msg{{Target: "#home", Text: `"Example page"`}}
	if diff := cmp.Diff(want, h.msgs.all()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}

	h.say(alice, "#quiet", "https://example.com/a")
	if got := len(h.msgs.all()); got != 1 {
		t.Errorf("fetch-disabled channel produced output, messages = %d", got)
	}
}

func TestDuplicateComplaint(t *testing.T) {
	h := newHarness(t, testDoc())

	h.say(alice, "#home", "https://example.com/dup")
	if msgs := h.msgs.all(); len(msgs) != 0 {
		t.Fatalf("first sighting produced %v", msgs)
	}

	h.now = h.now.Add(time.Hour)
	h.say(bob, "#home", "again https://example.com/dup")

	want := []model.Msg{{Target: "#home", Text: "Old URL, first seen 2024-03-01 12:00:00 UTC by alice"}}
	if diff := cmp.Diff(want, h.msgs.all()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}

	recs := h.urls.records("https://example.com/dup")
	if len(recs) != 1 || recs[0].Nick != "alice" {
		t.Errorf("records = %+v, want only the first sighting", recs)
	}
}

func TestDuplicateWithoutComplaint(t *testing.T) {
	h := newHarness(t, testDoc())

	h.say(alice, "#quiet", "https://example.com/dup")
	h.now = h.now.Add(time.Hour)
	h.say(bob, "#quiet", "https://example.com/dup")

	if msgs := h.msgs.all(); len(msgs) != 0 {
		t.Errorf("messages = %v, want none", msgs)
	}
}

func TestDuplicateAfterWindow(t *testing.T) {
	h := newHarness(t, testDoc())

	h.say(alice, "#home", "https://example.com/old")
	h.now = h.now.AddDate(0, 0, 8)
	h.say(bob, "#home", "https://example.com/old")

	if msgs := h.msgs.all(); len(msgs) != 0 {
		t.Errorf("messages = %v, want none", msgs)
	}
	if recs := h.urls.records("https://example.com/old"); len(recs) != 2 {
		t.Errorf("records = %d, want 2", len(recs))
	}
}

func TestURLLogFailureDegrades(t *testing.T) {
	h := newHarness(t, testDoc())
	failing := &failingStorage{}
	h.bot.urls = failing
	h.fetch.titles["https://example.com/a"] = "Still here"

	h.say(alice, "#home", "https://example.com/a")

	if failing.calls != 1 {
		t.Errorf("url log calls = %d, want 1", failing.calls)
	}
	want := []model.Msg{{Target: "#home", Text: `"Still here"`}}
	if diff := cmp.Diff(want, h.msgs.all()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestURLCommand(t *testing.T) {
	h := newHarness(t, testDoc())
	h.fetch.captures = []string{"Helsinki: +5C"}

	h.say(alice, "#home", "!w helsinki")

	want := []model.Msg{{Target: "#home", Text: "--> Helsinki: +5C"}}
	if diff := cmp.Diff(want, h.msgs.all()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"https://wttr.example/helsinki"}, h.fetch.fetched); diff != "" {
		t.Errorf("fetched mismatch (-want +got):\n%s", diff)
	}

	h.say(alice, "#quiet", "!w helsinki")
	h.say(alice, "#home", "!unknown x")
	if got := len(h.msgs.all()); got != 1 {
		t.Errorf("messages = %d, want 1", got)
	}
}

func TestAutoOpOnJoin(t *testing.T) {
	tests := []struct {
		name   string
		source model.Identity
		want   []model.Op
	}{
		{
			name:   "acl match",
			source: model.Identity{Nick: "a", User: "b", Host: "example.com"},
			want:   []model.Op{model.GrantMode("#home", "a", model.ModeOp)},
		},
		{
			name:   "no match",
			source: model.Identity{Nick: "a", User: "b", Host: "example.org"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testDoc())
			h.bot.HandleEvent(context.Background(), model.Event{
				Kind: model.EventJoin, Source: tt.source, Command: "JOIN", Target: "#home",
			})
			if diff := cmp.Diff(tt.want, h.ops.all()); diff != "" {
				t.Errorf("ops mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCommands(t *testing.T) {
	tests := []struct {
		name     string
		sender   model.Identity
		text     string
		wantOps  []model.Op
		wantMsgs []model.Msg
	}{
		{name: "join", sender: owner, text: "join #new", wantOps: []model.Op{model.Join("#new")}},
		{name: "join without channel", sender: owner, text: "join"},
		{name: "join unauthorized", sender: stranger, text: "join #new"},
		{name: "nick", sender: owner, text: "nick newbot", wantOps: []model.Op{model.ChangeNick("newbot")}},
		{name: "nick unauthorized", sender: alice, text: "nick newbot"},
		{
			name:     "say to channel",
			sender:   owner,
			text:     "say #misc hello there",
			wantMsgs: []model.Msg{{Target: "#misc", Text: "hello there"}},
		},
		{
			name:     "say to default channel",
			sender:   owner,
			text:     "say hello",
			wantMsgs: []model.Msg{{Target: "#home", Text: "hello"}},
		},
		{name: "say unauthorized", sender: stranger, text: "say hello"},
		{name: "op via acl", sender: trusted, text: "op", wantOps: []model.Op{model.GrantMode("#home", "tim", model.ModeOp)}},
		{name: "op privileged", sender: owner, text: "op", wantOps: []model.Op{model.GrantMode("#home", "owner", model.ModeOp)}},
		{name: "op falls back to voice", sender: alice, text: "op", wantOps: []model.Op{model.GrantMode("#home", "alice", model.ModeVoice)}},
		{name: "voice", sender: bob, text: "voice", wantOps: []model.Op{model.GrantMode("#home", "bob", model.ModeVoice)}},
		{name: "invite", sender: bob, text: "invite", wantOps: []model.Op{model.Invite("#home", "bob")}},
		{name: "invite blocked nick", sender: model.Identity{Nick: "spammer", User: "s", Host: "x.example"}, text: "invite"},
		{name: "invite blocked host", sender: model.Identity{Nick: "ok", User: "s", Host: "bad.example"}, text: "invite"},
		{name: "unknown command", sender: owner, text: "frobnicate"},
		{
			name:   "dumpacl",
			sender: owner,
			text:   "dumpacl",
			wantMsgs: []model.Msg{
				{Target: "owner", Text: "My +o ACL:"},
				{Target: "owner", Text: `@trusted\.example$`},
				{Target: "owner", Text: "<EOF>"},
				{Target: "owner", Text: "My auto +o ACL:"},
				{Target: "owner", Text: `^.*@example\.com$`},
				{Target: "owner", Text: "<EOF>"},
			},
		},
		{name: "dumpacl unauthorized", sender: trusted, text: "dumpacl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testDoc())
			h.say(tt.sender, "chanbot", tt.text)

			if diff := cmp.Diff(tt.wantOps, h.ops.all()); diff != "" {
				t.Errorf("ops mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantMsgs, h.msgs.all()); diff != "" {
				t.Errorf("msgs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReload(t *testing.T) {
	next := testDoc()
	next.Channel = "#next"
	nextCfg, err := settings.Compile(next)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	tests := []struct {
		name        string
		sender      model.Identity
		err         error
		wantOps     []model.Op
		wantReloads int
		wantChannel string
	}{
		{
			name:        "success",
			sender:      owner,
			wantOps:     []model.Op{model.ReloadAck("owner", true, "")},
			wantReloads: 1,
			wantChannel: "#next",
		},
		{
			name:        "failure keeps snapshot",
			sender:      owner,
			err:         errors.New("url_fetch_channels: missing wildcard"),
			wantOps:     []model.Op{model.ReloadAck("owner", false, "url_fetch_channels: missing wildcard")},
			wantReloads: 1,
			wantChannel: "#home",
		},
		{
			name:        "unauthorized",
			sender:      stranger,
			wantChannel: "#home",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testDoc())
			h.cfg.next = nextCfg
			h.cfg.err = tt.err

			h.say(tt.sender, "chanbot", "reload")

			if diff := cmp.Diff(tt.wantOps, h.ops.all()); diff != "" {
				t.Errorf("ops mismatch (-want +got):\n%s", diff)
			}
			if h.cfg.reloaded != tt.wantReloads {
				t.Errorf("reloads = %d, want %d", h.cfg.reloaded, tt.wantReloads)
			}
			if got := h.cfg.Current().Channel; got != tt.wantChannel {
				t.Errorf("channel = %q, want %q", got, tt.wantChannel)
			}
		})
	}
}

func TestWelcomeJoinsChannels(t *testing.T) {
	h := newHarness(t, testDoc())
	h.bot.HandleEvent(context.Background(), model.Event{Kind: model.EventNumeric, Command: "001", Target: "chanbot"})
	h.bot.HandleEvent(context.Background(), model.Event{Kind: model.EventNumeric, Command: "375", Target: "chanbot"})

	want := []model.Op{model.Join("#home"), model.Join("#misc")}
	if diff := cmp.Diff(want, h.ops.all()); diff != "" {
		t.Errorf("ops mismatch (-want +got):\n%s", diff)
	}
}

func TestInvite(t *testing.T) {
	h := newHarness(t, testDoc())
	invite := func(from model.Identity, channel string) {
		h.bot.HandleEvent(context.Background(), model.Event{
			Kind: model.EventInvite, Source: from, Command: "INVITE", Target: "chanbot", Text: channel,
		})
	}
	invite(owner, "#secret")
	invite(stranger, "#spam")

	want := []model.Op{model.Join("#secret")}
	if diff := cmp.Diff(want, h.ops.all()); diff != "" {
		t.Errorf("ops mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentTitleFetchCollapses(t *testing.T) {
	h := newHarness(t, testDoc())
	h.fetch.titles["https://example.com/slow"] = "Slow"
	h.fetch.gate = make(chan struct{})
	h.fetch.started = make(chan struct{})

	done := make(chan struct{})
	go func() {
		h.bot.announceTitle(context.Background(), "#home", "https://example.com/slow")
		close(done)
	}()
	<-h.fetch.started

	h.bot.announceTitle(context.Background(), "#home", "https://example.com/slow")
	close(h.fetch.gate)
	<-done

	if diff := cmp.Diff([]string{"https://example.com/slow"}, h.fetch.fetched); diff != "" {
		t.Errorf("fetched mismatch (-want +got):\n%s", diff)
	}
	want := []model.Msg{{Target: "#home", Text: `"Slow"`}}
	if diff := cmp.Diff(want, h.msgs.all()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestManyURLsInOneMessage(t *testing.T) {
	h := newHarness(t, testDoc())
	for _, u := range []string{"https://a.example", "https://b.example", "https://c.example"} {
		h.fetch.titles[u] = "T " + u
	}

	h.say(alice, "#home", "https://a.example https://b.example https://c.example")

	want := []model.Msg{
		{Target: "#home", Text: `"T https://a.example"`},
		{Target: "#home", Text: `"T https://b.example"`},
		{Target: "#home", Text: `"T https://c.example"`},
	}
	sortMsgs := cmpopts.SortSlices(func(a, b model.Msg) bool { return a.Text < b.Text })
	if diff := cmp.Diff(want, h.msgs.all(), sortMsgs); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

// blockingFetcher holds every title fetch until released and tracks how many
// run at once.
type blockingFetcher struct {
	*fakeFetcher
	mu       sync.Mutex
	inflight int
	peak     int
	entered  chan string
	release  chan struct{}
}

func (f *blockingFetcher) Title(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	f.inflight++
	f.peak = max(f.peak, f.inflight)
	f.mu.Unlock()

	f.entered <- url
	<-f.release

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
	return "T " + url, nil
}

func TestWorkersBoundPipelines(t *testing.T) {
	h := newHarnessWorkers(t, testDoc(), 1)
	f := &blockingFetcher{
		fakeFetcher: h.fetch,
		entered:     make(chan string, 3),
		release:     make(chan struct{}),
	}
	h.bot.fetch = f

	h.bot.HandleEvent(context.Background(), model.Event{
		Kind: model.EventChannelText, Source: alice, Command: "PRIVMSG", Target: "#home",
		Text: "https://a.example https://b.example https://c.example",
	})

	for i := range 3 {
		select {
		case <-f.entered:
		case <-time.After(5 * time.Second):
			t.Fatalf("fetch %d never started", i)
		}
		select {
		case u := <-f.entered:
			t.Fatalf("fetch of %s started while another was in flight", u)
		case <-time.After(50 * time.Millisecond):
		}
		f.release <- struct{}{}
	}
	h.bot.Wait()

	if f.peak != 1 {
		t.Errorf("peak concurrent fetches = %d, want 1", f.peak)
	}
	if got := len(h.msgs.all()); got != 3 {
		t.Errorf("messages = %d, want 3", got)
	}
}
