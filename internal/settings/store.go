package settings

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Store holds the active BotConfig snapshot. Readers take the snapshot
// pointer under a read lock and use it without further locking; Reload
// builds the replacement before taking the write lock.
type Store struct {
	mu   sync.RWMutex
	cur  *BotConfig
	path string
	load func(path string) (*BotConfig, error)
	log  *slog.Logger
}

// NewStore loads the document at path. A failure here is a startup fault.
func NewStore(path string, log *slog.Logger) (*Store, error) {
	return newStore(path, Load, log)
}

func newStore(path string, load func(string) (*BotConfig, error), log *slog.Logger) (*Store, error) {
	s := &Store{path: path, load: load, log: log}
	cfg, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("load bot config %s: %w", path, err)
	}
	s.cur = cfg
	log.Info("bot config loaded", "path", path,
		"privileged", cfg.PrivilegedNicks(),
		"mode_o_acl", cfg.ModeOpACL.Len(),
		"auto_o_acl", cfg.AutoOpACL.Len(),
		"url_commands", len(cfg.URLCommands),
		"url_mutations", cfg.Mutator.Len(),
	)
	return s, nil
}

// Current returns the active snapshot.
func (s *Store) Current() *BotConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Reload re-reads the document. On success the new snapshot replaces the
// active one; on failure the active snapshot is left untouched.
func (s *Store) Reload() (*BotConfig, error) {
	start := time.Now()
	cfg, err := s.load(s.path)
	if err != nil {
		s.log.Error("reload failed", "path", s.path, "error", err)
		return nil, fmt.Errorf("could not parse runtime config %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.cur = cfg
	s.mu.Unlock()

	s.log.Info("reload successful", "path", s.path, "duration_ms", time.Since(start).Milliseconds())
	return cfg, nil
}
