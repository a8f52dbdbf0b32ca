// Package cache stores rendered page rasters in badger.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultTTL is how long a rendered page stays cached.
const DefaultTTL = 24 * time.Hour

// Entry is a cached page raster.
type Entry struct {
	PNG       []byte    `msgpack:"png"`
	Width     int       `msgpack:"width"`
	Height    int       `msgpack:"height"`
	CreatedAt time.Time `msgpack:"created_at"`
}

// Cache is a key/value store with per-entry expiry.
type Cache struct {
	db *badger.DB
}

// New opens the cache at path. An empty path keeps everything in memory.
func New(path string) (*Cache, error) {
	opts := badger.DefaultOptions(path).WithLogger(slogLogger{})
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Cache{db: db}, nil
}

// Get returns the entry stored under key.
func (c *Cache) Get(key string) (*Entry, bool) {
	var entry Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			slog.Warn("read cache", "key", key, "error", err)
		}
		return nil, false
	}
	return &entry, true
}

// Set stores entry under key for ttl. A zero ttl never expires.
func (c *Cache) Set(key string, entry *Entry, ttl time.Duration) error {
	val, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), val)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}

// Close flushes and closes the store.
func (c *Cache) Close() error {
	return c.db.Close()
}

// GenerateKey derives a fixed-length key from parts.
func GenerateKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// slogLogger routes badger's log output through slog. Badger is chatty at
// info level, so that is demoted to debug.
type slogLogger struct{}

func (slogLogger) Errorf(format string, args ...any)   { slog.Error(badgerMsg(format, args)) }
func (slogLogger) Warningf(format string, args ...any) { slog.Warn(badgerMsg(format, args)) }
func (slogLogger) Infof(format string, args ...any)    { slog.Debug(badgerMsg(format, args)) }
func (slogLogger) Debugf(format string, args ...any)   { slog.Debug(badgerMsg(format, args)) }

func badgerMsg(format string, args []any) string {
	return "badger: " + strings.TrimSpace(fmt.Sprintf(format, args...))
}
