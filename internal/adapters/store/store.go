// Package store persists the user library and recorded intro markers in a
// pure-Go SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/mikey-austin/media_bridge/internal/ports"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

// Store is the library store and intro signal source.
type Store struct {
	db    *sql.DB
	clock ports.Clock
}

// Open opens (or creates) the database at path. ":memory:" keeps everything
// in a single connection.
func Open(path string, clock ports.Clock) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path required")
	}
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db, clock: clock}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS library_items (
		id          TEXT PRIMARY KEY,
		type        TEXT NOT NULL DEFAULT '',
		name        TEXT NOT NULL DEFAULT '',
		poster      TEXT NOT NULL DEFAULT '',
		time_offset INTEGER NOT NULL DEFAULT 0,
		duration    INTEGER NOT NULL DEFAULT 0,
		watched     INTEGER NOT NULL DEFAULT 0,
		updated_at  INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS intro_markers (
		item_id  TEXT NOT NULL,
		duration INTEGER NOT NULL,
		from_ms  INTEGER NOT NULL,
		to_ms    INTEGER NOT NULL,
		PRIMARY KEY (item_id, duration)
	)`,
}

func (s *Store) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const itemColumns = `id, type, name, poster, time_offset, duration, watched, updated_at`

// List returns the library, most recently touched first.
func (s *Store) List(ctx context.Context) ([]mb.LibraryItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM library_items ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []mb.LibraryItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Get returns one library item or ports.ErrNotFound.
func (s *Store) Get(ctx context.Context, itemID string) (mb.LibraryItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM library_items WHERE id = ?`, itemID)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return mb.LibraryItem{}, fmt.Errorf("library item %s: %w", itemID, ports.ErrNotFound)
	}
	return item, err
}

// Upsert inserts or replaces an item. A zero UpdatedAt is stamped now.
func (s *Store) Upsert(ctx context.Context, item mb.LibraryItem) error {
	if strings.TrimSpace(item.ID) == "" {
		return errors.New("library item id required")
	}
	if item.UpdatedAt == 0 {
		item.UpdatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO library_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			poster = excluded.poster,
			time_offset = excluded.time_offset,
			duration = excluded.duration,
			watched = excluded.watched,
			updated_at = excluded.updated_at
	`, item.ID, item.Type, item.Name, item.Poster, item.TimeOffset, item.DurationMS, boolInt(item.Watched), item.UpdatedAt)
	return err
}

// UpdateProgress stores a playback position. A zero duration keeps the
// stored one.
func (s *Store) UpdateProgress(ctx context.Context, itemID string, positionMS int64, durationMS int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE library_items
		SET time_offset = ?,
			duration = CASE WHEN ? > 0 THEN ? ELSE duration END,
			updated_at = ?
		WHERE id = ?
	`, positionMS, durationMS, durationMS, s.now(), itemID)
	return affected(res, err, itemID)
}

// MarkWatched flags an item as watched and rewinds it.
func (s *Store) MarkWatched(ctx context.Context, itemID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE library_items SET watched = 1, time_offset = 0, updated_at = ? WHERE id = ?
	`, s.now(), itemID)
	return affected(res, err, itemID)
}

// Remove deletes an item and its markers.
func (s *Store) Remove(ctx context.Context, itemID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM library_items WHERE id = ?`, itemID)
	if err := affected(res, err, itemID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM intro_markers WHERE item_id = ?`, itemID); err != nil {
		return err
	}
	return tx.Commit()
}

// PutMarker records a precise intro interval for an item played at a
// given duration.
func (s *Store) PutMarker(ctx context.Context, itemID string, marker ports.IntroMarker) error {
	if strings.TrimSpace(itemID) == "" {
		return errors.New("item id required")
	}
	if marker.DurationMS <= 0 || marker.FromMS < 0 || marker.ToMS <= marker.FromMS {
		return fmt.Errorf("invalid intro marker %d..%d at %d", marker.FromMS, marker.ToMS, marker.DurationMS)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intro_markers (item_id, duration, from_ms, to_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id, duration) DO UPDATE SET
			from_ms = excluded.from_ms,
			to_ms = excluded.to_ms
	`, itemID, marker.DurationMS, marker.FromMS, marker.ToMS)
	return err
}

// Lookup returns the markers of an item, closest duration first.
func (s *Store) Lookup(ctx context.Context, itemID string, durationMS int64) ([]ports.IntroMarker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT duration, from_ms, to_ms FROM intro_markers
		WHERE item_id = ?
		ORDER BY ABS(duration - ?) ASC, duration ASC
	`, itemID, durationMS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markers []ports.IntroMarker
	for rows.Next() {
		var m ports.IntroMarker
		if err := rows.Scan(&m.DurationMS, &m.FromMS, &m.ToMS); err != nil {
			return nil, err
		}
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (mb.LibraryItem, error) {
	var item mb.LibraryItem
	var watched int
	err := row.Scan(&item.ID, &item.Type, &item.Name, &item.Poster, &item.TimeOffset, &item.DurationMS, &watched, &item.UpdatedAt)
	if err != nil {
		return mb.LibraryItem{}, err
	}
	item.Watched = watched != 0
	return item, nil
}

func affected(res sql.Result, err error, itemID string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("library item %s: %w", itemID, ports.ErrNotFound)
	}
	return nil
}

func (s *Store) now() int64 {
	if s.clock == nil {
		return 0
	}
	return s.clock.NowUnix()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
