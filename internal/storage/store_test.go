package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unfurl/internal/domain"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.ErrorLevel)
	return l
}

// setupTestStores opens one store per backend in temporary directories.
func setupTestStores(t *testing.T) map[string]Store {
	t.Helper()

	badgerStore, err := NewBadgerStore(t.TempDir(), testLogger())
	require.NoError(t, err, "Failed to create test BadgerDB store")
	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "metadata.db"), testLogger())
	require.NoError(t, err, "Failed to create test SQLite store")

	t.Cleanup(func() {
		assert.NoError(t, badgerStore.Close())
		assert.NoError(t, sqliteStore.Close())
	})
	return map[string]Store{"badger": badgerStore, "sqlite": sqliteStore}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, s := range setupTestStores(t) {
		t.Run(name, func(t *testing.T) { fn(t, s) })
	}
}

func TestStore_FetchOrCreate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ref := "https://example.com/a"

		_, err := s.Fetch(ctx, ref)
		require.ErrorIs(t, err, domain.ErrNotFound)

		rec, err := s.FetchOrCreate(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, ref, rec.Key)
		assert.False(t, rec.Fetched(), "a created record is unfetched")
		assert.True(t, rec.LastUpdated.IsZero())

		stored, err := s.Fetch(ctx, ref)
		require.NoError(t, err, "created record is persisted")
		assert.Equal(t, rec.Key, stored.Key)
	})
}

func TestStore_SaveUpdatesInPlace(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ref := "https://example.com/page"

		rec, err := s.FetchOrCreate(ctx, ref)
		require.NoError(t, err)

		now := time.Now().Truncate(time.Millisecond)
		rec.SourceReference = ref
		rec.Title = "Example"
		rec.ImageURL = "https://example.com/a.png"
		rec.LastUpdated = now
		require.NoError(t, s.Save(ctx, rec))

		again, err := s.FetchOrCreate(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, ref, again.SourceReference)
		assert.Equal(t, "Example", again.Title)
		assert.Equal(t, "https://example.com/a.png", again.ImageURL)
		assert.True(t, now.Equal(again.LastUpdated), "LastUpdated round-trips")

		rec.Title = "Updated"
		require.NoError(t, s.Save(ctx, rec))
		latest, err := s.Fetch(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, "Updated", latest.Title)
	})
}

func TestStore_ConcurrentCreateYieldsOneRecord(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ref := "https://example.com/race"

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.FetchOrCreate(ctx, ref)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		rec, err := s.Fetch(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, ref, rec.Key)
	})
}

func TestStore_Delete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		err := s.Delete(ctx, "https://example.com/missing")
		require.ErrorIs(t, err, domain.ErrNotFound, "deleting a missing reference reports not found")

		rec, err := s.FetchOrCreate(ctx, "https://example.com/delete")
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, "https://example.com/delete"))
		_, err = s.Fetch(ctx, "https://example.com/delete")
		require.ErrorIs(t, err, domain.ErrNotFound)

		// Recreated records start out unfetched again.
		rec, err = s.FetchOrCreate(ctx, "https://example.com/delete")
		require.NoError(t, err)
		assert.False(t, rec.Fetched())

		require.NoError(t, s.DeleteRecord(ctx, rec))
		require.NoError(t, s.DeleteRecord(ctx, rec), "deleting a removed record is not an error")
		_, err = s.Fetch(ctx, rec.Key)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestBadgerStore_RunGC(t *testing.T) {
	s, err := NewBadgerStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.RunGC(), "GC on an empty value log is not an error")
}
