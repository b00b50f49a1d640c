package storage

import (
	"context"

	"unfurl/internal/domain"
)

// Store persists metadata records keyed by normalized reference.
// Implementations (BadgerDB, SQLite) are safe for concurrent use.
type Store interface {
	// FetchOrCreate returns the record for reference, creating and persisting an
	// empty one when none exists. Concurrent creates for the same reference
	// yield a single record.
	FetchOrCreate(ctx context.Context, reference string) (*domain.Record, error)

	// Fetch returns the record for reference or domain.ErrNotFound.
	Fetch(ctx context.Context, reference string) (*domain.Record, error)

	// Save persists the current state of record.
	Save(ctx context.Context, record *domain.Record) error

	// Delete removes the record for reference or returns domain.ErrNotFound.
	Delete(ctx context.Context, reference string) error

	// DeleteRecord removes record. Removing an already removed record is not an error.
	DeleteRecord(ctx context.Context, record *domain.Record) error

	// Close gracefully shuts down the store.
	Close() error
}

// GarbageCollector is implemented by stores that need periodic compaction.
type GarbageCollector interface {
	RunGC() error
}
