package acoustic

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ConfigSource loads the current field allow-lists and the newsletter
// mapping from their authoritative store.
type ConfigSource interface {
	LoadFieldConfig(ctx context.Context) (*FieldConfig, error)
}

// ConfigCache serves a shared FieldConfig snapshot, refreshed at a
// coarse interval rather than per sync cycle. Reads are lock-free; only
// the refresh path takes the mutex.
type ConfigCache struct {
	source  ConfigSource
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	current atomic.Pointer[configSnapshot]
}

type configSnapshot struct {
	cfg      *FieldConfig
	loadedAt time.Time
}

// NewConfigCache creates a cache over the given source. ttl controls
// how stale a snapshot may get before the next reader refreshes it.
func NewConfigCache(source ConfigSource, ttl time.Duration) *ConfigCache {
	return &ConfigCache{
		source: source,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the current snapshot, refreshing it first when expired.
// When a refresh fails but an old snapshot exists, the old snapshot is
// served so a flaky config store degrades to stale mappings rather than
// a halted sync loop.
func (c *ConfigCache) Get(ctx context.Context) (*FieldConfig, error) {
	if snap := c.current.Load(); snap != nil && c.now().Sub(snap.loadedAt) < c.ttl {
		return snap.cfg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if snap := c.current.Load(); snap != nil && c.now().Sub(snap.loadedAt) < c.ttl {
		return snap.cfg, nil
	}

	cfg, err := c.source.LoadFieldConfig(ctx)
	if err != nil {
		if snap := c.current.Load(); snap != nil {
			return snap.cfg, nil
		}
		return nil, fmt.Errorf("loading acoustic field config: %w", err)
	}
	c.current.Store(&configSnapshot{cfg: cfg, loadedAt: c.now()})
	return cfg, nil
}
