package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var envKeys = []string{
	"BOT_CONFIG", "IRC_PROFILE", "LOG_LEVEL", "RECONNECT_DELAY", "OP_PACE", "MSG_PACE",
	"FETCH_TIMEOUT", "PIPELINE_WORKERS", "URL_RETENTION_DAYS", "PRUNE_SCHEDULE",
}

func TestLoad(t *testing.T) {
	defaults := Config{
		BotConfigPath:   "/home/test/chanbot/config/chanbot.json",
		ProfilePath:     "/home/test/chanbot/config/irc.yaml",
		LogLevel:        "info",
		ReconnectDelay:  10 * time.Second,
		OpPace:          2500 * time.Millisecond,
		MsgPace:         1500 * time.Millisecond,
		FetchTimeout:    10 * time.Second,
		PipelineWorkers: 8,
		PruneSchedule:   "@daily",
	}

	tests := []struct {
		name    string
		env     map[string]string
		want    func() *Config
		wantErr bool
	}{
		{
			name: "defaults applied",
			env:  map[string]string{},
			want: func() *Config { c := defaults; return &c },
		},
		{
			name: "all values set",
			env: map[string]string{
				"BOT_CONFIG":         "$HOME/bot.json",
				"IRC_PROFILE":        "/etc/chanbot/irc.yaml",
				"LOG_LEVEL":          "debug",
				"RECONNECT_DELAY":    "30s",
				"OP_PACE":            "3s",
				"MSG_PACE":           "2s",
				"FETCH_TIMEOUT":      "5s",
				"PIPELINE_WORKERS":   "4",
				"URL_RETENTION_DAYS": "365",
				"PRUNE_SCHEDULE":     "0 4 * * *",
			},
			want: func() *Config {
				return &Config{
					BotConfigPath:    "/home/test/bot.json",
					ProfilePath:      "/etc/chanbot/irc.yaml",
					LogLevel:         "debug",
					ReconnectDelay:   30 * time.Second,
					OpPace:           3 * time.Second,
					MsgPace:          2 * time.Second,
					FetchTimeout:     5 * time.Second,
					PipelineWorkers:  4,
					URLRetentionDays: 365,
					PruneSchedule:    "0 4 * * *",
				}
			},
		},
		{name: "invalid duration", env: map[string]string{"OP_PACE": "fast"}, wantErr: true},
		{name: "negative duration", env: map[string]string{"MSG_PACE": "-1s"}, wantErr: true},
		{name: "zero workers", env: map[string]string{"PIPELINE_WORKERS": "0"}, wantErr: true},
		{name: "invalid retention", env: map[string]string{"URL_RETENTION_DAYS": "forever"}, wantErr: true},
		{name: "negative retention", env: map[string]string{"URL_RETENTION_DAYS": "-1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear relevant env vars
			for _, key := range envKeys {
				t.Setenv(key, "")
			}
			t.Setenv("HOME", "/home/test")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want(), got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPruningEnabled(t *testing.T) {
	tests := []struct {
		name string
		days int
		want bool
	}{
		{name: "keep forever", days: 0, want: false},
		{name: "retention set", days: 30, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{URLRetentionDays: tt.days}
			if diff := cmp.Diff(tt.want, cfg.PruningEnabled()); diff != "" {
				t.Errorf("PruningEnabled() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
