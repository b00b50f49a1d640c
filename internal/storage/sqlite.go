package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"unfurl/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	source_reference TEXT NOT NULL DEFAULT '',
	canonical_url TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	page_type TEXT NOT NULL DEFAULT '',
	site_name TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	last_updated INTEGER NOT NULL DEFAULT 0
);
`

const selectRecord = `SELECT key, source_reference, canonical_url, title, description, page_type, site_name, image_url, last_updated FROM metadata WHERE key = ?`

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// NewSQLiteStore opens the database file at dbPath, creating its directory and
// schema as needed.
func NewSQLiteStore(dbPath string, logger logrus.FieldLogger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db at %s: %w", dbPath, err)
	}
	// One connection serializes all writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open sqlite db at %s: %w", dbPath, err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		logger.WithError(err).Warn("Failed to set sqlite pragmas")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}
	logger.WithField("path", dbPath).Info("SQLite opened")

	return &SQLiteStore{db: db, log: logger.WithField("component", "store")}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.log.Info("Closing SQLite")
	return s.db.Close()
}

func scanRecord(row *sql.Row) (*domain.Record, error) {
	var (
		rec     domain.Record
		updated int64
	)
	err := row.Scan(&rec.Key, &rec.SourceReference, &rec.CanonicalURL, &rec.Title,
		&rec.Description, &rec.PageType, &rec.SiteName, &rec.ImageURL, &updated)
	if err != nil {
		return nil, err
	}
	if updated != 0 {
		rec.LastUpdated = time.Unix(0, updated)
	}
	return &rec, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// FetchOrCreate inserts an empty row unless one exists, then reads it back.
// ON CONFLICT DO NOTHING keeps the first writer's row.
func (s *SQLiteStore) FetchOrCreate(ctx context.Context, reference string) (*domain.Record, error) {
	key := domain.NormalizeReference(reference)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO metadata (key) VALUES (?) ON CONFLICT(key) DO NOTHING`, key); err != nil {
		s.log.WithError(err).WithField("reference", reference).Error("Failed to create record")
		return nil, fmt.Errorf("failed to fetch or create %s: %w", reference, err)
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord, key))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch or create %s: %w", reference, err)
	}
	return rec, nil
}

// Fetch looks a record up without creating it.
func (s *SQLiteStore) Fetch(ctx context.Context, reference string) (*domain.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord, domain.NormalizeReference(reference)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, reference)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", reference, err)
	}
	return rec, nil
}

// Save upserts the record.
func (s *SQLiteStore) Save(ctx context.Context, record *domain.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, source_reference, canonical_url, title, description, page_type, site_name, image_url, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			source_reference = excluded.source_reference,
			canonical_url = excluded.canonical_url,
			title = excluded.title,
			description = excluded.description,
			page_type = excluded.page_type,
			site_name = excluded.site_name,
			image_url = excluded.image_url,
			last_updated = excluded.last_updated`,
		record.Key, record.SourceReference, record.CanonicalURL, record.Title, record.Description,
		record.PageType, record.SiteName, record.ImageURL, unixNano(record.LastUpdated))
	if err != nil {
		s.log.WithError(err).WithField("reference", record.Key).Error("Failed to save record")
		return fmt.Errorf("failed to save %s: %w", record.Key, err)
	}
	return nil
}

// Delete removes the row for reference.
func (s *SQLiteStore) Delete(ctx context.Context, reference string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, domain.NormalizeReference(reference))
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", reference, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", reference, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, reference)
	}
	s.log.WithField("reference", reference).Info("Record deleted")
	return nil
}

// DeleteRecord removes record if it is still stored.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, record *domain.Record) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, record.Key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", record.Key, err)
	}
	return nil
}
