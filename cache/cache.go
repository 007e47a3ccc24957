// Package cache stores compiled images in SQLite, keyed by a digest of the
// source they were compiled from, so unchanged scripts skip compilation.
package cache

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/colox/vm"

	_ "modernc.org/sqlite"
)

// ErrMiss is returned when no image is cached for a digest.
var ErrMiss = errors.New("cache miss")

var log = commonlog.GetLogger("colox.cache")

const schema = `CREATE TABLE IF NOT EXISTS images (
	digest   TEXT PRIMARY KEY,
	build_id TEXT NOT NULL,
	image    BLOB NOT NULL,
	created  INTEGER NOT NULL,
	hits     INTEGER NOT NULL DEFAULT 0
)`

// Cache is a compile cache backed by a SQLite database file.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Stats summarizes cache contents.
type Stats struct {
	Entries int
	Bytes   int64
	Hits    int64
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	// Set busy timeout for concurrent colox processes
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened compile cache %s", path)
	return &Cache{db: db, path: path}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (c *Cache) Path() string {
	return c.path
}

// Digest identifies source as compiled by the named compiler into the
// current image format. A change to any of the three yields a new key.
func Digest(compilerName, source string) string {
	h := sha256.New()
	h.Write([]byte(compilerName))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(vm.ImageVersion)))
	h.Write([]byte{0})
	h.Write([]byte(source))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the encoded image stored under digest, or ErrMiss.
func (c *Cache) Get(digest string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var data []byte
	err := c.db.QueryRow("SELECT image FROM images WHERE digest = ?", digest).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("querying image: %w", err)
	}

	if _, err := c.db.Exec("UPDATE images SET hits = hits + 1 WHERE digest = ?", digest); err != nil {
		return nil, fmt.Errorf("recording hit: %w", err)
	}
	return data, nil
}

// Put stores an encoded image under digest, replacing any previous entry.
func (c *Cache) Put(digest string, img *vm.Image) error {
	var buf bytes.Buffer
	if err := vm.WriteImage(&buf, img); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO images (digest, build_id, image, created, hits) VALUES (?, ?, ?, ?, 0)",
		digest, img.BuildID.String(), buf.Bytes(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving image: %w", err)
	}
	log.Debugf("cached image %s (%d bytes)", digest[:12], buf.Len())
	return nil
}

// Delete removes the entry for digest. Deleting a missing entry is not an
// error.
func (c *Cache) Delete(digest string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec("DELETE FROM images WHERE digest = ?", digest); err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}
	return nil
}

// Load returns the cached image for digest, decoded into heap. An entry that
// no longer decodes is dropped and reported as a miss.
func (c *Cache) Load(digest string, heap *vm.Heap) (*vm.Image, error) {
	data, err := c.Get(digest)
	if err != nil {
		return nil, err
	}

	img, err := vm.DecodeImage(data, heap)
	if err != nil {
		log.Warningf("dropping unreadable cache entry %s: %s", digest[:12], err)
		if derr := c.Delete(digest); derr != nil {
			return nil, derr
		}
		return nil, ErrMiss
	}
	return img, nil
}

// Stats reports the number of entries, their total size and total hits.
func (c *Cache) Stats() (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s Stats
	err := c.db.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(LENGTH(image)), 0), COALESCE(SUM(hits), 0) FROM images",
	).Scan(&s.Entries, &s.Bytes, &s.Hits)
	if err != nil {
		return Stats{}, fmt.Errorf("querying stats: %w", err)
	}
	return s, nil
}

// Purge removes every entry and returns how many were removed.
func (c *Cache) Purge() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec("DELETE FROM images")
	if err != nil {
		return 0, fmt.Errorf("purging cache: %w", err)
	}
	return res.RowsAffected()
}
