// Package config handles process configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults for unset variables.
const (
	DefaultBotConfig      = "$HOME/chanbot/config/chanbot.json"
	DefaultProfile        = "$HOME/chanbot/config/irc.yaml"
	DefaultLogLevel       = "info"
	DefaultReconnectDelay = 10 * time.Second
	DefaultOpPace         = 2500 * time.Millisecond
	DefaultMsgPace        = 1500 * time.Millisecond
	DefaultFetchTimeout   = 10 * time.Second
	DefaultWorkers        = 8
	DefaultPruneSchedule  = "@daily"
)

// Config holds the process configuration.
type Config struct {
	BotConfigPath    string
	ProfilePath      string
	LogLevel         string
	ReconnectDelay   time.Duration
	OpPace           time.Duration
	MsgPace          time.Duration
	FetchTimeout     time.Duration
	PipelineWorkers  int
	URLRetentionDays int
	PruneSchedule    string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		BotConfigPath: os.ExpandEnv(stringEnv("BOT_CONFIG", DefaultBotConfig)),
		ProfilePath:   os.ExpandEnv(stringEnv("IRC_PROFILE", DefaultProfile)),
		LogLevel:      stringEnv("LOG_LEVEL", DefaultLogLevel),
		PruneSchedule: stringEnv("PRUNE_SCHEDULE", DefaultPruneSchedule),
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"RECONNECT_DELAY", DefaultReconnectDelay, &cfg.ReconnectDelay},
		{"OP_PACE", DefaultOpPace, &cfg.OpPace},
		{"MSG_PACE", DefaultMsgPace, &cfg.MsgPace},
		{"FETCH_TIMEOUT", DefaultFetchTimeout, &cfg.FetchTimeout},
	}
	for _, d := range durations {
		v, err := durationEnv(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	var err error
	if cfg.PipelineWorkers, err = intEnv("PIPELINE_WORKERS", DefaultWorkers, 1); err != nil {
		return nil, err
	}
	if cfg.URLRetentionDays, err = intEnv("URL_RETENTION_DAYS", 0, 0); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PruningEnabled reports whether old URL records should be removed.
func (c *Config) PruningEnabled() bool {
	return c.URLRetentionDays > 0
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, raw)
	}
	return d, nil
}

func intEnv(key string, def, minimum int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if n < minimum {
		return 0, fmt.Errorf("%s must be at least %d, got %d", key, minimum, n)
	}
	return n, nil
}
