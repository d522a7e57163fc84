package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"chanbot/internal/model"
	"chanbot/migrations"
)

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// RecordIfNew checks and inserts inside one transaction so concurrent
// sightings of the same URL cannot both be stored as first.
func (s *SQLite) RecordIfNew(ctx context.Context, rec model.URLRecord, since time.Time) (*model.PriorSeen, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	prior, err := queryPrior(ctx, tx, rec.Channel, rec.URL, since)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return prior, nil
	}

	if err := insertURL(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return nil, nil
}

// insert stores rec unconditionally.
func (s *SQLite) insert(ctx context.Context, rec model.URLRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertURL(ctx, tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Prune removes records seen before the given time.
func (s *SQLite) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM url WHERE seen < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune urls: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// records returns every record of url on channel, oldest first.
func (s *SQLite) records(ctx context.Context, channel, url string) ([]model.URLRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seen, channel, nick, url FROM url WHERE channel = ? AND url = ? ORDER BY seen, id`,
		channel, url,
	)
	if err != nil {
		return nil, fmt.Errorf("query urls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []model.URLRecord
	for rows.Next() {
		var r model.URLRecord
		var seen int64
		if err := rows.Scan(&r.ID, &seen, &r.Channel, &r.Nick, &r.URL); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		r.Seen = time.Unix(seen, 0).UTC()
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// LastChange returns when the URL log was last written.
func (s *SQLite) LastChange(ctx context.Context) (time.Time, error) {
	var last int64
	if err := s.db.QueryRowContext(ctx, `SELECT last FROM url_changed LIMIT 1`).Scan(&last); err != nil {
		return time.Time{}, fmt.Errorf("query url_changed: %w", err)
	}
	return time.Unix(last, 0).UTC(), nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func queryPrior(ctx context.Context, q queryer, channel, url string, since time.Time) (*model.PriorSeen, error) {
	var (
		count       int
		first, last int64
		nick        string
	)
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MIN(seen), 0), COALESCE(MAX(seen), 0),
		        COALESCE((SELECT nick FROM url
		                  WHERE channel = ? AND url = ? AND seen >= ?
		                  ORDER BY seen, id LIMIT 1), '')
		 FROM url WHERE channel = ? AND url = ? AND seen >= ?`,
		channel, url, since.Unix(), channel, url, since.Unix(),
	).Scan(&count, &first, &last, &nick)
	if err != nil {
		return nil, fmt.Errorf("query prior: %w", err)
	}
	if count == 0 {
		return nil, nil
	}
	return &model.PriorSeen{
		Count: count,
		First: time.Unix(first, 0).UTC(),
		Last:  time.Unix(last, 0).UTC(),
		Nick:  nick,
	}, nil
}

func insertURL(ctx context.Context, q queryer, rec model.URLRecord) error {
	seen := rec.Seen.Unix()
	if _, err := q.ExecContext(ctx,
		`INSERT INTO url (seen, channel, nick, url) VALUES (?, ?, ?, ?)`,
		seen, rec.Channel, rec.Nick, rec.URL,
	); err != nil {
		return fmt.Errorf("insert url: %w", err)
	}
	if _, err := q.ExecContext(ctx, `UPDATE url_changed SET last = ?`, time.Now().Unix()); err != nil {
		return fmt.Errorf("mark change: %w", err)
	}
	return nil
}
