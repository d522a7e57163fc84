// Package settings holds the hot-reloadable bot configuration: the JSON
// document, its compiled snapshot and the store that swaps snapshots.
package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"
	_ "time/tzdata" // channel timezones must resolve without a system zoneinfo.

	"chanbot/internal/filter"
)

// Document is the on-disk bot configuration.
type Document struct {
	Channel         string          `json:"channel"`
	PrivilegedNicks map[string]bool `json:"privileged_nicks"`

	URLRegex     string   `json:"url_regex"`
	URLLogDB     string   `json:"url_log_db"`
	URLBlacklist []string `json:"url_blacklist"`

	URLFetchChannels       ChannelSetting[bool]   `json:"url_fetch_channels"`
	URLCmdChannels         ChannelSetting[bool]   `json:"url_cmd_channels"`
	URLMutChannels         ChannelSetting[bool]   `json:"url_mut_channels"`
	URLLogChannels         ChannelSetting[bool]   `json:"url_log_channels"`
	URLDupComplainChannels ChannelSetting[bool]   `json:"url_dup_complain_channels"`
	URLDupExpireDays       ChannelSetting[int]    `json:"url_dup_expire_days"`
	URLDupTimezone         ChannelSetting[string] `json:"url_dup_timezone"`

	CmdDumpACL string `json:"cmd_dumpacl"`
	CmdInvite  string `json:"cmd_invite"`
	CmdJoin    string `json:"cmd_join"`
	CmdModeO   string `json:"cmd_mode_o"`
	CmdModeV   string `json:"cmd_mode_v"`
	CmdNick    string `json:"cmd_nick"`
	CmdReload  string `json:"cmd_reload"`
	CmdSay     string `json:"cmd_say"`

	ModeOACL []string `json:"mode_o_acl"`
	AutoOACL []string `json:"auto_o_acl"`

	InviteBlockNicks []string `json:"invite_block_nicks"`
	InviteBlockHosts []string `json:"invite_block_hosts"`

	URLCmdList map[string]URLCmd `json:"url_cmd_list"`
	URLMutList [][2]string       `json:"url_mut_list"`
}

// URLCmd is a templated fetch command as written in the document.
type URLCmd struct {
	URLTmpl      string `json:"url_tmpl"`
	OutputFilter string `json:"output_filter"`
}

// URLCommand is a compiled URLCmd.
type URLCommand struct {
	Name   string
	tmpl   *template.Template
	Filter *regexp.Regexp
}

// Render produces the URL to fetch. The template sees .Arg (the whole
// argument string) and .Args (its whitespace-separated fields).
func (u URLCommand) Render(arg string) (string, error) {
	var b bytes.Buffer
	data := struct {
		Arg  string
		Args []string
	}{Arg: arg, Args: strings.Fields(arg)}
	if err := u.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s: %w", u.Name, err)
	}
	return b.String(), nil
}

// DedupWindow is the per-channel duplicate window.
type DedupWindow struct {
	Days     int
	Location *time.Location
}

// Start returns the earliest sighting time still inside the window at now.
func (w DedupWindow) Start(now time.Time) time.Time {
	return now.AddDate(0, 0, -w.Days)
}

// BotConfig is an immutable, validated configuration snapshot.
type BotConfig struct {
	Source   string
	LoadedAt time.Time

	Channel    string
	privileged map[string]bool

	URLPattern *regexp.Regexp
	URLLogDB   string
	Blacklist  filter.Blacklist

	Fetch       ChannelSetting[bool]
	URLCmd      ChannelSetting[bool]
	Mutate      ChannelSetting[bool]
	Log         ChannelSetting[bool]
	DupComplain ChannelSetting[bool]
	expireDays  ChannelSetting[int]
	timezones   ChannelSetting[*time.Location]

	commands map[string]Command

	ModeOpACL        *filter.ACL
	AutoOpACL        *filter.ACL
	inviteBlockNicks map[string]bool
	InviteBlockHosts *filter.ACL

	URLCommands map[string]URLCommand
	Mutator     *filter.Mutator
}

// Load reads and compiles the document at path.
func Load(path string) (*BotConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read bot config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Source = path
	return cfg, nil
}

// Parse decodes and compiles a document. Any structural problem fails the
// whole parse; nothing partial is returned.
func Parse(data []byte) (*BotConfig, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode bot config: %w", err)
	}
	return Compile(doc)
}

// Compile validates doc and builds a snapshot from it.
func Compile(doc Document) (*BotConfig, error) {
	for key, s := range map[string]interface{ validate(string) error }{
		"url_fetch_channels":        doc.URLFetchChannels,
		"url_cmd_channels":          doc.URLCmdChannels,
		"url_mut_channels":          doc.URLMutChannels,
		"url_log_channels":          doc.URLLogChannels,
		"url_dup_complain_channels": doc.URLDupComplainChannels,
		"url_dup_expire_days":       doc.URLDupExpireDays,
		"url_dup_timezone":          doc.URLDupTimezone,
	} {
		if err := s.validate(key); err != nil {
			return nil, err
		}
	}

	cfg := &BotConfig{
		LoadedAt:    time.Now(),
		Channel:     doc.Channel,
		privileged:  make(map[string]bool, len(doc.PrivilegedNicks)),
		URLLogDB:    os.ExpandEnv(doc.URLLogDB),
		Blacklist:   filter.Blacklist(append([]string(nil), doc.URLBlacklist...)),
		Fetch:       copySetting(doc.URLFetchChannels),
		URLCmd:      copySetting(doc.URLCmdChannels),
		Mutate:      copySetting(doc.URLMutChannels),
		Log:         copySetting(doc.URLLogChannels),
		DupComplain: copySetting(doc.URLDupComplainChannels),
		expireDays:  copySetting(doc.URLDupExpireDays),
		timezones:   make(ChannelSetting[*time.Location], len(doc.URLDupTimezone)),
		URLCommands: make(map[string]URLCommand, len(doc.URLCmdList)),
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("channel is required")
	}

	for nick, ok := range doc.PrivilegedNicks {
		if ok {
			cfg.privileged[nick] = true
		}
	}

	if doc.URLRegex == "" {
		return nil, fmt.Errorf("url_regex is required")
	}
	var err error
	if cfg.URLPattern, err = regexp.Compile(doc.URLRegex); err != nil {
		return nil, fmt.Errorf("url_regex: %w", err)
	}

	for ch, days := range cfg.expireDays {
		if days <= 0 {
			return nil, fmt.Errorf("url_dup_expire_days %q: must be positive, got %d", ch, days)
		}
	}
	for ch, name := range doc.URLDupTimezone {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("url_dup_timezone %q: %w", ch, err)
		}
		cfg.timezones[ch] = loc
	}

	if cfg.commands, err = aliasTable(doc); err != nil {
		return nil, err
	}

	if cfg.ModeOpACL, err = filter.CompileACL(doc.ModeOACL); err != nil {
		return nil, fmt.Errorf("mode_o_acl: %w", err)
	}
	if cfg.AutoOpACL, err = filter.CompileACL(doc.AutoOACL); err != nil {
		return nil, fmt.Errorf("auto_o_acl: %w", err)
	}
	if cfg.InviteBlockHosts, err = filter.CompileACL(doc.InviteBlockHosts); err != nil {
		return nil, fmt.Errorf("invite_block_hosts: %w", err)
	}
	cfg.inviteBlockNicks = make(map[string]bool, len(doc.InviteBlockNicks))
	for _, n := range doc.InviteBlockNicks {
		cfg.inviteBlockNicks[strings.ToLower(n)] = true
	}

	for name, c := range doc.URLCmdList {
		cmd, err := CompileURLCommand(name, c)
		if err != nil {
			return nil, err
		}
		cfg.URLCommands[name] = cmd
	}

	rules := make([]filter.Rule, 0, len(doc.URLMutList))
	for _, r := range doc.URLMutList {
		rules = append(rules, filter.Rule{Pattern: r[0], Replacement: r[1]})
	}
	if cfg.Mutator, err = filter.CompileMutator(rules); err != nil {
		return nil, fmt.Errorf("url_mut_list: %w", err)
	}

	return cfg, nil
}

// IsPrivileged reports whether nick is in the privileged-nick set.
func (c *BotConfig) IsPrivileged(nick string) bool {
	return c.privileged[nick]
}

// PrivilegedNicks returns the number of privileged nicks.
func (c *BotConfig) PrivilegedNicks() int {
	return len(c.privileged)
}

// InviteBlocked reports whether nick or identity is on an invite blocklist.
func (c *BotConfig) InviteBlocked(nick, identity string) bool {
	return c.inviteBlockNicks[strings.ToLower(nick)] || c.InviteBlockHosts.Matches(identity)
}

// DedupWindow resolves the duplicate window for channel. The timezone falls
// back to UTC when the setting is absent.
func (c *BotConfig) DedupWindow(channel string) DedupWindow {
	loc := c.timezones.Get(channel)
	if loc == nil {
		loc = time.UTC
	}
	return DedupWindow{Days: c.expireDays.Get(channel), Location: loc}
}

// FindURLs returns every URL detected in text. When the pattern has a
// capture group, group 1 is the URL; otherwise the whole match is.
func (c *BotConfig) FindURLs(text string) []string {
	var urls []string
	for _, m := range c.URLPattern.FindAllStringSubmatch(text, -1) {
		u := m[0]
		if len(m) > 1 {
			u = m[1]
		}
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func aliasTable(doc Document) (map[string]Command, error) {
	aliases := []struct {
		key  string
		word string
		cmd  Command
	}{
		{"cmd_dumpacl", doc.CmdDumpACL, CmdDumpACL},
		{"cmd_invite", doc.CmdInvite, CmdInvite},
		{"cmd_join", doc.CmdJoin, CmdJoin},
		{"cmd_mode_o", doc.CmdModeO, CmdModeOp},
		{"cmd_mode_v", doc.CmdModeV, CmdModeVoice},
		{"cmd_nick", doc.CmdNick, CmdNick},
		{"cmd_reload", doc.CmdReload, CmdReload},
		{"cmd_say", doc.CmdSay, CmdSay},
	}
	table := make(map[string]Command, len(aliases))
	for _, a := range aliases {
		if a.word == "" {
			return nil, fmt.Errorf("%s is required", a.key)
		}
		if prev, dup := table[a.word]; dup {
			return nil, fmt.Errorf("%s: alias %q already used by %s", a.key, a.word, prev)
		}
		table[a.word] = a.cmd
	}
	return table, nil
}

var templateFuncs = template.FuncMap{
	"query": url.QueryEscape,
	"path":  url.PathEscape,
}

// CompileURLCommand parses the template and output filter of c.
func CompileURLCommand(name string, c URLCmd) (URLCommand, error) {
	tmpl, err := template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(c.URLTmpl)
	if err != nil {
		return URLCommand{}, fmt.Errorf("url_cmd_list %q template: %w", name, err)
	}
	re, err := regexp.Compile(c.OutputFilter)
	if err != nil {
		return URLCommand{}, fmt.Errorf("url_cmd_list %q output_filter: %w", name, err)
	}
	return URLCommand{Name: name, tmpl: tmpl, Filter: re}, nil
}

func copySetting[T any](s ChannelSetting[T]) ChannelSetting[T] {
	out := make(ChannelSetting[T], len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
