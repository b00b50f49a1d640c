// Package imagecache is a two-tier image cache: a bounded in-memory LRU of
// decoded images in front of a sharded directory of encoded files.
package imagecache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// DefaultMemoryEntries is the in-memory capacity.
const DefaultMemoryEntries = 30

// Key returns the hex md5 digest addressing reference on disk.
func Key(reference string) string {
	sum := md5.Sum([]byte(reference))
	return hex.EncodeToString(sum[:])
}

// Cache stores images by reference. The disk tree has 256 shard directories
// named 00..ff; each file is named by the full key of its reference.
type Cache struct {
	fs     afero.Fs
	root   string
	memory *lru.Cache[string, *Image]
	log    logrus.FieldLogger
}

// New creates the cache rooted at root on fs, creating the shard tree.
func New(fs afero.Fs, root string, memoryEntries int, logger logrus.FieldLogger) (*Cache, error) {
	if memoryEntries <= 0 {
		memoryEntries = DefaultMemoryEntries
	}
	memory, err := lru.New[string, *Image](memoryEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	c := &Cache{
		fs:     fs,
		root:   root,
		memory: memory,
		log:    logger.WithField("component", "imagecache"),
	}
	if err := c.createDirectories(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) createDirectories() error {
	for i := 0; i < 256; i++ {
		dir := filepath.Join(c.root, fmt.Sprintf("%02x", i))
		if err := c.fs.MkdirAll(dir, 0o755); err != nil {
			c.log.WithError(err).WithField("dir", dir).Error("Failed to create shard directory")
			return fmt.Errorf("failed to create shard directory %s: %w", dir, err)
		}
	}
	return nil
}

// Path returns the file that holds reference's bytes.
func (c *Cache) Path(reference string) string {
	key := Key(reference)
	return filepath.Join(c.root, key[:2], key)
}

// Get returns the cached image for reference. A disk hit is decoded and
// promoted into memory; a file that no longer decodes counts as a miss.
func (c *Cache) Get(reference string) (*Image, bool) {
	if img, ok := c.memory.Get(reference); ok {
		return img, true
	}

	path := c.Path(reference)
	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.WithError(err).WithField("path", path).Warn("Failed to read cached image")
		}
		return nil, false
	}
	img, err := Decode(data)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Warn("Cached image no longer decodes")
		return nil, false
	}
	c.memory.Add(reference, img)
	return img, true
}

// Put stores img in memory and writes its bytes to disk. The file is written
// to a temporary name in the shard directory and renamed into place, so
// readers never observe a partial file.
func (c *Cache) Put(reference string, img *Image) error {
	c.memory.Add(reference, img)

	path := c.Path(reference)
	dir := filepath.Dir(path)
	if err := c.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create shard directory %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(c.fs, dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(img.Data); err != nil {
		tmp.Close()
		c.fs.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		c.fs.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := c.fs.Rename(tmpName, path); err != nil {
		c.fs.Remove(tmpName)
		c.log.WithError(err).WithField("path", path).Error("Failed to store image")
		return fmt.Errorf("failed to store %s: %w", path, err)
	}
	c.log.WithField("path", path).Debug("Image stored")
	return nil
}

// Len is the number of images held in memory.
func (c *Cache) Len() int {
	return c.memory.Len()
}

// ClearMemory drops every in-memory entry. Files on disk are kept.
func (c *Cache) ClearMemory() {
	c.memory.Purge()
	c.log.Info("Memory cache cleared")
}

// ClearAll drops memory, removes the disk tree and recreates it empty.
func (c *Cache) ClearAll() error {
	c.ClearMemory()
	if err := c.fs.RemoveAll(c.root); err != nil {
		c.log.WithError(err).Error("Failed to remove image cache")
		return fmt.Errorf("failed to remove %s: %w", c.root, err)
	}
	return c.createDirectories()
}

// WatchLowMemory clears memory on every signal until ctx is done or signals
// is closed.
func (c *Cache) WatchLowMemory(ctx context.Context, signals <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				return
			}
			c.log.Warn("Low memory signal received")
			c.ClearMemory()
		}
	}
}
