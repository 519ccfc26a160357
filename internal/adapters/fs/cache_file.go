package fs

import (
	"context"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/songhahaha66/inlong/internal/ports"
	"github.com/songhahaha66/inlong/pkg/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CacheEntry is the persisted result of the last successful resolve.
type CacheEntry struct {
	GroupIDs  []string  `json:"group_ids"`
	Endpoints []string  `json:"endpoints"`
	SavedAt   time.Time `json:"saved_at"`
}

// EndpointCache stores the last resolved endpoints in a JSON file.
type EndpointCache struct {
	path string
}

// NewEndpointCache creates a cache at path.
func NewEndpointCache(path string) *EndpointCache {
	return &EndpointCache{path: path}
}

// Load returns the cached entry, or an empty entry and nil error if no
// cache file exists.
func (c *EndpointCache) Load() (CacheEntry, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return CacheEntry{}, nil
		}
		return CacheEntry{}, err
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return CacheEntry{}, err
	}
	return entry, nil
}

// Save persists entry atomically (write to temp file, then rename).
func (c *EndpointCache) Save(entry CacheEntry) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

// Path returns the cache file path.
func (c *EndpointCache) Path() string {
	return c.path
}

// CachingResolver saves every successful answer of inner and falls back
// to the saved answer when inner fails, so a restart during a manager
// outage still has endpoints.
type CachingResolver struct {
	inner  ports.Resolver
	cache  *EndpointCache
	logger log.Logger
}

var _ ports.Resolver = (*CachingResolver)(nil)

// NewCachingResolver wraps inner with cache.
func NewCachingResolver(inner ports.Resolver, cache *EndpointCache, logger log.Logger) *CachingResolver {
	return &CachingResolver{inner: inner, cache: cache, logger: logger}
}

// Resolve asks inner first. The cached list is returned only when inner
// fails and the cache holds endpoints.
func (r *CachingResolver) Resolve(ctx context.Context, groupIDs []string) ([]string, error) {
	addrs, err := r.inner.Resolve(ctx, groupIDs)
	if err == nil && len(addrs) > 0 {
		saveErr := r.cache.Save(CacheEntry{GroupIDs: groupIDs, Endpoints: addrs, SavedAt: time.Now().UTC()})
		if saveErr != nil {
			r.logger.Warn("failed to save endpoint cache",
				log.String("path", r.cache.Path()),
				log.Err(saveErr),
			)
		}
		return addrs, nil
	}

	entry, loadErr := r.cache.Load()
	if loadErr != nil || len(entry.Endpoints) == 0 {
		if err == nil {
			return addrs, nil
		}
		return nil, err
	}
	r.logger.Warn("resolver failed, using cached endpoints",
		log.String("path", r.cache.Path()),
		log.Time("saved_at", entry.SavedAt),
		log.Err(err),
	)
	return entry.Endpoints, nil
}
