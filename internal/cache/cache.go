// Package cache implements the TTL-keyed, single-flighted, batch-delete
// cache layer used as a performance annotation over the metadata store.
// It is never a source of truth: every consumer must tolerate cold
// misses and must not depend on cached data for correctness.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"chuncker/internal/callgroup"
	"chuncker/internal/notify"
)

// Options tunes the cache's TTL and batched-delete behavior.
type Options struct {
	DefaultTTL      time.Duration
	DeleteBatchMax  int
	DeleteCooldown  time.Duration
}

// DefaultOptions returns the defaults named in spec §4.C/§6.
func DefaultOptions() Options {
	return Options{
		DefaultTTL:     30 * time.Minute,
		DeleteBatchMax: 100,
		DeleteCooldown: 50 * time.Millisecond,
	}
}

// Cache is a TTL-keyed JSON value cache with single-flighted writes and
// coalesced, batched deletes. Values are stored in a ristretto cache;
// TTL, single-flight, and delete-batching discipline are layered on top.
type Cache struct {
	opts  Options
	store *ristretto.Cache
	sf    callgroup.Group[string]

	delMu      sync.Mutex
	delPending []string
	delSignal  *notify.Signal

	closeOnce sync.Once
	closeCh   chan struct{}
}

// New constructs a Cache and starts its background delete-batch flusher.
func New(opts Options) (*Cache, error) {
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     1 << 27, // 128 MiB of cached JSON values
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: new ristretto cache: %w", err)
	}
	c := &Cache{
		opts:      opts,
		store:     store,
		delSignal: notify.NewSignal(),
		closeCh:   make(chan struct{}),
	}
	go c.flushLoop()
	return c, nil
}

// Get returns the cached value for key decoded into out, or (false, nil)
// on a miss. Serialization errors are treated as a miss and never
// propagate to the caller.
func (c *Cache) Get(_ context.Context, key string, out any) (bool, error) {
	raw, ok := c.store.Get(key)
	if !ok {
		return false, nil
	}
	data, ok := raw.([]byte)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, nil
	}
	return true, nil
}

// Set serializes value as JSON and stores it under key with the default
// TTL, single-flighted per key so concurrent writers to the same key do
// not race.
func (c *Cache) Set(_ context.Context, key string, value any) error {
	err := <-c.sf.DoChan(key, func() error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("cache: marshal %s: %w", key, err)
		}
		c.store.SetWithTTL(key, data, int64(len(data)), c.opts.DefaultTTL)
		return nil
	})
	return err
}

// RefreshTTL extends key's lifetime to the default TTL. Returns false
// without creating the key if key is absent.
func (c *Cache) RefreshTTL(_ context.Context, key string) bool {
	raw, ok := c.store.Get(key)
	if !ok {
		return false
	}
	data, _ := raw.([]byte)
	c.store.SetWithTTL(key, data, int64(len(data)), c.opts.DefaultTTL)
	return true
}

// Delete enqueues key for coalesced, batched deletion. The batch flushes
// when it reaches DeleteBatchMax entries or after DeleteCooldown,
// whichever comes first.
func (c *Cache) Delete(_ context.Context, key string) {
	c.delMu.Lock()
	c.delPending = append(c.delPending, key)
	full := len(c.delPending) >= c.opts.DeleteBatchMax
	c.delMu.Unlock()
	if full {
		c.delSignal.Notify()
	}
}

func (c *Cache) flushLoop() {
	ticker := time.NewTicker(c.opts.DeleteCooldown)
	defer ticker.Stop()
	for {
		select {
		case <-c.closeCh:
			c.flushDeletes()
			return
		case <-ticker.C:
			c.flushDeletes()
		case <-c.delSignal.C():
			c.flushDeletes()
		}
	}
}

func (c *Cache) flushDeletes() {
	c.delMu.Lock()
	pending := c.delPending
	c.delPending = nil
	c.delMu.Unlock()
	for _, key := range pending {
		c.store.Del(key)
	}
}

// Wait blocks until every Set issued so far has been applied to the
// underlying store. Exposed for tests that need a deterministic Get
// immediately after a Set.
func (c *Cache) Wait() {
	c.store.Wait()
}

// Close stops the background flusher after flushing any pending deletes.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
	c.flushDeletes()
	c.store.Close()
	return nil
}
