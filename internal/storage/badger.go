package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"unfurl/internal/domain"
)

// maxConflictRetries bounds the FetchOrCreate retry loop on transaction conflicts.
const maxConflictRetries = 5

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	log logrus.FieldLogger
}

// NewBadgerStore opens (or creates) the BadgerDB database at dbPath.
func NewBadgerStore(dbPath string, logger logrus.FieldLogger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		logger.WithError(err).Error("Failed to open BadgerDB")
		return nil, fmt.Errorf("failed to open badger db at %s: %w", dbPath, err)
	}
	logger.WithField("path", dbPath).Info("BadgerDB opened")

	return &BadgerStore{
		db:  db,
		log: logger.WithField("component", "store"),
	}, nil
}

// Close closes the BadgerDB database.
func (s *BadgerStore) Close() error {
	s.log.Info("Closing BadgerDB")
	if err := s.db.Close(); err != nil {
		s.log.WithError(err).Error("Error closing BadgerDB")
		return err
	}
	return nil
}

// recordKey builds the badger key for a reference.
// Format: metadata:{normalized reference}
func recordKey(reference string) []byte {
	return []byte("metadata:" + domain.NormalizeReference(reference))
}

func readRecord(txn *badger.Txn, key []byte) (*domain.Record, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var rec domain.Record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", string(key), err)
	}
	return &rec, nil
}

func writeRecord(txn *badger.Txn, rec *domain.Record) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return txn.SetEntry(badger.NewEntry(recordKey(rec.Key), val))
}

// FetchOrCreate returns the stored record or persists a new empty one.
// The read and the insert share one transaction; a concurrent insert of the
// same key makes the commit fail with ErrConflict and the loop re-reads the
// winner's record.
func (s *BadgerStore) FetchOrCreate(ctx context.Context, reference string) (*domain.Record, error) {
	log := s.log.WithField("reference", reference)
	key := recordKey(reference)

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rec *domain.Record
		err := s.db.Update(func(txn *badger.Txn) error {
			existing, err := readRecord(txn, key)
			if err == nil {
				rec = existing
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			rec = domain.NewRecord(reference)
			return writeRecord(txn, rec)
		})
		if errors.Is(err, badger.ErrConflict) {
			log.WithField("attempt", attempt).Debug("Concurrent create, retrying")
			continue
		}
		if err != nil {
			log.WithError(err).Error("Failed to fetch or create record")
			return nil, fmt.Errorf("failed to fetch or create %s: %w", reference, err)
		}
		return rec, nil
	}
	return nil, fmt.Errorf("failed to fetch or create %s: %w", reference, badger.ErrConflict)
}

// Fetch looks a record up without creating it.
func (s *BadgerStore) Fetch(ctx context.Context, reference string) (*domain.Record, error) {
	var rec *domain.Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readRecord(txn, recordKey(reference))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, reference)
	}
	if err != nil {
		s.log.WithError(err).WithField("reference", reference).Error("Failed to fetch record")
		return nil, fmt.Errorf("failed to fetch %s: %w", reference, err)
	}
	return rec, nil
}

// Save overwrites the stored record with its current state.
func (s *BadgerStore) Save(ctx context.Context, record *domain.Record) error {
	log := s.log.WithField("reference", record.Key)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return writeRecord(txn, record)
	}); err != nil {
		log.WithError(err).Error("Failed to save record")
		return fmt.Errorf("failed to save %s: %w", record.Key, err)
	}
	log.Debug("Record saved")
	return nil
}

// Delete removes the record for reference.
func (s *BadgerStore) Delete(ctx context.Context, reference string) error {
	log := s.log.WithField("reference", reference)
	key := recordKey(reference)
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, reference)
	}
	if err != nil {
		log.WithError(err).Error("Failed to delete record")
		return fmt.Errorf("failed to delete %s: %w", reference, err)
	}
	log.Info("Record deleted")
	return nil
}

// DeleteRecord removes record; Delete is idempotent in badger.
func (s *BadgerStore) DeleteRecord(ctx context.Context, record *domain.Record) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(record.Key))
	}); err != nil {
		s.log.WithError(err).WithField("reference", record.Key).Error("Failed to delete record")
		return fmt.Errorf("failed to delete %s: %w", record.Key, err)
	}
	return nil
}

// RunGC reclaims value log space. Badger reports ErrNoRewrite when there was
// nothing to collect; that is not an error here.
func (s *BadgerStore) RunGC() error {
	err := s.db.RunValueLogGC(0.7)
	if errors.Is(err, badger.ErrNoRewrite) {
		s.log.Debug("BadgerDB GC: no rewrite needed")
		return nil
	}
	if err != nil {
		s.log.WithError(err).Error("BadgerDB GC failed")
		return err
	}
	s.log.Info("BadgerDB GC completed")
	return nil
}

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{})   { l.logger.Errorf(f, v...) }
func (l *badgerLogger) Warningf(f string, v ...interface{}) { l.logger.Warningf(f, v...) }
func (l *badgerLogger) Infof(f string, v ...interface{})    { l.logger.Debugf(f, v...) }
func (l *badgerLogger) Debugf(f string, v ...interface{})   { l.logger.Debugf(f, v...) }
