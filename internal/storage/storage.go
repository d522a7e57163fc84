// Package storage defines the URL log persistence interface and its implementations.
package storage

import (
	"context"
	"time"

	"chanbot/internal/model"
)

// Storage is the URL log: it remembers which URLs were posted where and by whom.
type Storage interface {
	// RecordIfNew looks for sightings of rec.URL on rec.Channel at or after
	// since. If any exist it returns their summary and stores nothing;
	// otherwise it stores rec and returns nil.
	RecordIfNew(ctx context.Context, rec model.URLRecord, since time.Time) (*model.PriorSeen, error)

	// Prune removes records seen before the given time and returns how many were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
