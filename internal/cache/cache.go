// Package cache provides the two-tier artifact cache that makes multi-source
// backfills idempotent and resumable. The local tier is a directory of files
// and is authoritative: a set succeeds iff the local write succeeds. The
// remote tier is shared across machines and best-effort; a remote hit is
// promoted into the local tier on read, and a remote push failure is logged
// as a warning without failing the set.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/John-Swindell/data-engineering/internal/domain"
	"github.com/John-Swindell/data-engineering/internal/observability"
)

// File extensions pick the serialization per payload kind: tabular payloads
// are stored as parquet, everything else as JSON.
const (
	extTable = ".parquet"
	extJSON  = ".json"
)

// ErrKeyNotFound is returned by a RemoteTier when a key is absent. Any other
// remote error is a backend failure and is degraded to a warning here.
var ErrKeyNotFound = errors.New("cache: key not found")

// RemoteTier is the durable shared tier behind the local directory.
// Implementations must tolerate concurrent puts to distinct keys;
// concurrent writers to the same key are not a supported case.
type RemoteTier interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

// Cache is the tiered cache. A nil remote tier leaves the cache local-only.
type Cache struct {
	dir     string
	remote  RemoteTier
	logger  *log.Logger
	metrics *observability.Metrics
}

// Options configures a Cache.
type Options struct {
	Dir     string
	Remote  RemoteTier
	Logger  *log.Logger
	Metrics *observability.Metrics
}

// New creates a tiered cache rooted at opts.Dir, creating it if needed.
func New(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, errors.New("cache: dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Cache{dir: opts.Dir, remote: opts.Remote, logger: logger, metrics: opts.Metrics}, nil
}

// GetTable loads a tabular payload. The second return is false on a full
// miss; a miss is not an error.
func (c *Cache) GetTable(ctx context.Context, key string) ([]domain.DailyObservation, bool, error) {
	data, ok, err := c.get(ctx, key+extTable)
	if err != nil || !ok {
		return nil, false, err
	}

	rows, err := decodeTable(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode cached table %q: %w", key, err)
	}
	return rows, true, nil
}

// SetTable stores a tabular payload, replacing any prior payload for key.
func (c *Cache) SetTable(ctx context.Context, key string, rows []domain.DailyObservation) error {
	data, err := encodeTable(rows)
	if err != nil {
		return fmt.Errorf("encode table %q: %w", key, err)
	}
	return c.set(ctx, key+extTable, data)
}

// GetJSON loads a structured payload into v. Returns false on a full miss.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	data, ok, err := c.get(ctx, key+extJSON)
	if err != nil || !ok {
		return false, err
	}

	if err := decodeJSON(data, v); err != nil {
		return false, fmt.Errorf("decode cached json %q: %w", key, err)
	}
	return true, nil
}

// SetJSON stores a structured payload, replacing any prior payload for key.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	data, err := encodeJSON(v)
	if err != nil {
		return fmt.Errorf("encode json %q: %w", key, err)
	}
	return c.set(ctx, key+extJSON, data)
}

// get checks the local tier first, then the remote tier. A remote hit is
// materialized locally before returning so subsequent gets stay local.
func (c *Cache) get(ctx context.Context, name string) ([]byte, bool, error) {
	path := c.localPath(name)

	data, err := os.ReadFile(path)
	if err == nil {
		c.metrics.RecordCacheHit("local")
		return data, true, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("read local cache file %q: %w", name, err)
	}

	if c.remote == nil {
		c.metrics.RecordCacheMiss()
		return nil, false, nil
	}

	data, err = c.remote.Get(ctx, name)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			c.metrics.RecordRemoteCacheError()
			c.logger.Printf("WARNING: remote cache get for %q failed: %v", name, err)
		}
		c.metrics.RecordCacheMiss()
		return nil, false, nil
	}

	// Tier promotion. A failed local write here is fatal: the local tier
	// must stay authoritative for what a get returns.
	if err := c.writeLocal(path, data); err != nil {
		return nil, false, err
	}
	c.metrics.RecordCacheHit("remote")
	return data, true, nil
}

// set persists locally, then pushes to the remote tier. The local write is
// the success signal; a remote push failure only degrades durability.
func (c *Cache) set(ctx context.Context, name string, data []byte) error {
	if err := c.writeLocal(c.localPath(name), data); err != nil {
		return err
	}

	if c.remote == nil {
		return nil
	}
	if err := c.remote.Put(ctx, name, data); err != nil {
		c.metrics.RecordRemoteCacheError()
		c.logger.Printf("WARNING: remote cache put for %q failed: %v", name, err)
	}
	return nil
}

func (c *Cache) writeLocal(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache subdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write local cache file: %w", err)
	}
	return nil
}

func (c *Cache) localPath(name string) string {
	return filepath.Join(c.dir, filepath.FromSlash(name))
}
