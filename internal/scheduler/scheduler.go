// Package scheduler runs periodic maintenance of the URL log.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule prunes once a day.
const DefaultSchedule = "@daily"

// Pruner removes URL records older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler prunes the URL log on a cron schedule.
type Scheduler struct {
	urls      Pruner
	retention int
	log       *slog.Logger
	now       func() time.Time

	cron    *cron.Cron
	entryID cron.EntryID
	ctx     context.Context
}

// New creates a Scheduler keeping retentionDays of history. The schedule is
// a standard cron expression or descriptor such as "@daily".
func New(urls Pruner, retentionDays int, schedule string, log *slog.Logger) (*Scheduler, error) {
	if retentionDays <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %d days", retentionDays)
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s := &Scheduler{
		urls:      urls,
		retention: retentionDays,
		log:       log,
		now:       time.Now,
		cron:      cron.New(),
		ctx:       context.Background(),
	}
	id, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.PruneNow(s.ctx); err != nil {
			s.log.Error("scheduled prune failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	s.entryID = id
	return s, nil
}

// Run prunes once, then on schedule until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	if _, err := s.PruneNow(ctx); err != nil {
		s.log.Error("startup prune failed", "error", err)
	}

	s.cron.Start()
	s.log.Info("prune scheduler started", "retention_days", s.retention, "next", s.Next(s.now()))

	<-ctx.Done()
	<-s.cron.Stop().Done()
}

// PruneNow removes records older than the retention period.
func (s *Scheduler) PruneNow(ctx context.Context) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -s.retention)
	n, err := s.urls.Prune(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if n > 0 {
		s.log.Info("pruned url log", "removed", n, "before", cutoff)
	}
	return n, nil
}

// Next returns when the prune job fires after from.
func (s *Scheduler) Next(from time.Time) time.Time {
	entry := s.cron.Entry(s.entryID)
	if entry.Schedule == nil {
		return time.Time{}
	}
	return entry.Schedule.Next(from)
}
