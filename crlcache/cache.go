package crlcache

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cache errors.
var (
	ErrCRLParseFailed = errors.New("CRL parse failed")
)

// defaultTTL is used when a CRL does not declare a next-update time.
const defaultTTL = 1 * time.Hour

// Record holds metadata about a cached CRL.
type Record struct {
	// URL of the distribution point.
	URL string

	// LastFetch is when the CRL was last downloaded.
	LastFetch time.Time

	// NextUpdate is when the cached CRL becomes stale, taken from the
	// CRL's own nextUpdate field.
	NextUpdate time.Time

	// Path of the file-backed copy, empty for memory-only records.
	Path string
}

type record struct {
	Record
	data []byte
}

// Cache is a process-wide CRL cache. A cached list is served unchanged until
// the clock reaches its next-update time; after that a refresh is performed
// through the downloader. Refreshes are serialized per URL while distinct
// URLs may download in parallel.
type Cache struct {
	mu      sync.RWMutex
	records map[string]*record

	group      singleflight.Group
	downloader Downloader
	clock      clockwork.Clock
	dir        string
	log        *zap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the clock used for staleness decisions.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// WithDirectory enables a file-backed store. Each fetched CRL is written to
// a file in dir named by the hash of its URL, and previously written files
// are loaded lazily on first access.
func WithDirectory(dir string) Option {
	return func(c *Cache) { c.dir = dir }
}

// New creates a Cache using the given downloader.
func New(downloader Downloader, opts ...Option) *Cache {
	c := &Cache{
		records:    make(map[string]*record),
		downloader: downloader,
		clock:      clockwork.NewRealClock(),
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the CRL bytes for the given distribution-point URL. A fresh
// cached copy is returned unchanged. A missing or stale record triggers a
// download; concurrent callers for the same URL share a single download.
//
// When a refresh fails but a previously fetched list is still cached, the
// stale bytes are returned together with the refresh error so the caller can
// decide whether the stale list is acceptable.
func (c *Cache) Get(ctx context.Context, urlStr string) ([]byte, error) {
	if data, ok := c.fresh(urlStr); ok {
		return data, nil
	}

	v, err, _ := c.group.Do(urlStr, func() (interface{}, error) {
		// Another caller may have refreshed while we waited on the group.
		if data, ok := c.fresh(urlStr); ok {
			return data, nil
		}
		return c.refresh(ctx, urlStr)
	})

	if err != nil {
		if stale := c.staleData(urlStr); stale != nil {
			c.log.Warn("CRL refresh failed, serving stale copy",
				zap.String("url", urlStr),
				zap.Error(err))
			return stale, err
		}
		return nil, err
	}
	return v.([]byte), nil
}

// Record returns the cache metadata for a URL.
func (c *Cache) Record(urlStr string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[urlStr]
	if !ok {
		return Record{}, false
	}
	return rec.Record, true
}

// Purge removes the record for a URL.
func (c *Cache) Purge(urlStr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, urlStr)
}

// Clear removes all records.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]*record)
}

// fresh returns cached bytes if a record exists and is not yet stale.
func (c *Cache) fresh(urlStr string) ([]byte, bool) {
	c.mu.RLock()
	rec, ok := c.records[urlStr]
	c.mu.RUnlock()

	if !ok && c.dir != "" {
		rec = c.loadFromDisk(urlStr)
		ok = rec != nil
	}
	if !ok {
		return nil, false
	}

	// A record is stale once the clock reaches its next-update time.
	if !c.clock.Now().Before(rec.NextUpdate) {
		return nil, false
	}
	return rec.data, true
}

// staleData returns cached bytes regardless of staleness, or nil.
func (c *Cache) staleData(urlStr string) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if rec, ok := c.records[urlStr]; ok {
		return rec.data
	}
	return nil
}

// refresh downloads and stores a CRL, returning its bytes.
func (c *Cache) refresh(ctx context.Context, urlStr string) ([]byte, error) {
	data, err := c.downloader.Download(ctx, urlStr)
	if err != nil {
		return nil, err
	}

	crl, err := x509.ParseRevocationList(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCRLParseFailed, err)
	}

	now := c.clock.Now()
	nextUpdate := crl.NextUpdate
	if nextUpdate.IsZero() || !nextUpdate.After(now) {
		// Some CRLs omit nextUpdate or are already past it. Keep the list
		// for a bounded interval rather than re-downloading on every call.
		nextUpdate = now.Add(defaultTTL)
	}

	rec := &record{
		Record: Record{
			URL:        urlStr,
			LastFetch:  now,
			NextUpdate: nextUpdate,
		},
		data: data,
	}

	if c.dir != "" {
		path := filepath.Join(c.dir, cacheFileName(urlStr))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			c.log.Warn("failed to write CRL cache file",
				zap.String("path", path),
				zap.Error(err))
		} else {
			rec.Path = path
		}
	}

	c.mu.Lock()
	c.records[urlStr] = rec
	c.mu.Unlock()

	c.log.Debug("cached CRL",
		zap.String("url", urlStr),
		zap.Time("nextUpdate", nextUpdate))
	return data, nil
}

// loadFromDisk restores a file-backed record written by an earlier process.
// The record's next-update time is re-derived from the CRL itself.
func (c *Cache) loadFromDisk(urlStr string) *record {
	path := filepath.Join(c.dir, cacheFileName(urlStr))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	crl, err := x509.ParseRevocationList(data)
	if err != nil {
		return nil
	}

	rec := &record{
		Record: Record{
			URL:        urlStr,
			LastFetch:  crl.ThisUpdate,
			NextUpdate: crl.NextUpdate,
			Path:       path,
		},
		data: data,
	}

	c.mu.Lock()
	if existing, ok := c.records[urlStr]; ok {
		rec = existing
	} else {
		c.records[urlStr] = rec
	}
	c.mu.Unlock()

	return rec
}

// cacheFileName derives a stable file name from a distribution-point URL.
func cacheFileName(urlStr string) string {
	h := sha256.Sum256([]byte(urlStr))
	return hex.EncodeToString(h[:16]) + ".crl"
}
