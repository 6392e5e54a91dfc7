package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sdko-org/opsedge/internal/storage"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "snapshot:"

type Options struct {
	MaxAge     time.Duration
	MaxSize    int64
	MaxEntries int
	// EvictionTarget is the fraction of MaxSize that eviction drains down to,
	// so the next few writes do not each trigger another eviction.
	EvictionTarget float64
	// QuotaRetryTarget is the fraction of MaxSize drained before the single
	// retry that follows a quota error from the store.
	QuotaRetryTarget float64
	Index            IndexStore
	Now              func() time.Time
}

type Stats struct {
	Count      int    `json:"count"`
	Size       int64  `json:"size"`
	Budget     int64  `json:"budget"`
	MaxEntries int    `json:"maxEntries"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Evictions  uint64 `json:"evictions"`
}

// SnapshotCache keeps the last known status of remote devices in a KV store
// with a TTL and a size/count budget. Get and Put never return errors; every
// storage failure degrades to a miss or a rejected write.
type SnapshotCache struct {
	mu    sync.Mutex
	kv    storage.KV
	index *Index
	opts  Options
	log   *logrus.Entry

	hits      uint64
	misses    uint64
	evictions uint64
}

func New(logger *logrus.Logger, kv storage.KV, opts Options) *SnapshotCache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Index == nil {
		opts.Index = NopIndexStore{}
	}
	if opts.EvictionTarget <= 0 || opts.EvictionTarget > 1 {
		opts.EvictionTarget = 0.8
	}
	if opts.QuotaRetryTarget <= 0 || opts.QuotaRetryTarget > opts.EvictionTarget {
		opts.QuotaRetryTarget = opts.EvictionTarget / 2
	}

	return &SnapshotCache{
		kv:    kv,
		index: NewIndex(),
		opts:  opts,
		log:   logger.WithField("component", "snapshot_cache"),
	}
}

func storageKey(key string) string {
	return keyPrefix + key
}

func (c *SnapshotCache) expired(storedAt, now time.Time) bool {
	return now.Sub(storedAt) > c.opts.MaxAge
}

// Load rebuilds the index from the mirror. Expired records are dropped and the
// budget is re-applied in case the limits shrank since the last run.
func (c *SnapshotCache) Load(ctx context.Context) error {
	records, err := c.opts.Index.Load(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	c.index.Reset()
	for _, rec := range records {
		if c.expired(rec.StoredAt, now) && c.removeLocked(ctx, rec.Key) == nil {
			continue
		}
		c.index.Set(rec.Key, rec.StoredAt, rec.SizeBytes)
	}
	c.evictLocked(ctx, "", 0, c.opts.MaxSize)

	c.log.WithFields(logrus.Fields{
		"count": c.index.Len(),
		"size":  c.index.Size(),
	}).Info("Snapshot index loaded")
	return nil
}

// Get returns the cached payload for key. Expired and unreadable entries are
// purged and reported as absent.
func (c *SnapshotCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.log.WithField("key", key)
	now := c.opts.Now()

	entry, ok := c.index.Lookup(key)
	if !ok {
		c.misses++
		return nil, false
	}
	if c.expired(entry.StoredAt, now) {
		log.Debug("Snapshot expired")
		c.removeLocked(ctx, key)
		c.misses++
		return nil, false
	}

	raw, err := c.kv.Get(ctx, storageKey(key))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.forgetLocked(ctx, key)
		} else {
			log.WithError(err).Warn("Snapshot read failed")
		}
		c.misses++
		return nil, false
	}

	storedAt, payload, err := decodeEntry(raw)
	if err != nil {
		log.WithError(err).Warn("Purging corrupt snapshot")
		c.removeLocked(ctx, key)
		c.misses++
		return nil, false
	}
	if c.expired(storedAt, now) {
		c.removeLocked(ctx, key)
		c.misses++
		return nil, false
	}

	c.hits++
	return payload, true
}

// Put stores payload under key, evicting the oldest snapshots first when the
// write would exceed the budget. It reports whether the write was committed.
func (c *SnapshotCache) Put(ctx context.Context, key string, payload []byte) bool {
	now := c.opts.Now()
	value := encodeEntry(now, payload)
	size := int64(len(value))

	log := c.log.WithFields(logrus.Fields{"key": key, "bytes": size})

	if size > c.opts.MaxSize {
		log.WithField("budget", c.opts.MaxSize).Warn("Snapshot larger than cache budget, not stored")
		return false
	}

	if err := ctx.Err(); err != nil {
		log.WithError(err).Debug("Context done, snapshot not stored")
		return false
	}
	// Evictions and the write must land together once started.
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.fitsLocked(key, size) {
		c.evictLocked(ctx, key, size, c.target(c.opts.EvictionTarget))
		if !c.fitsLocked(key, size) {
			log.Warn("Eviction incomplete, snapshot not stored")
			return false
		}
	}

	err := c.kv.Set(ctx, storageKey(key), value)
	if errors.Is(err, storage.ErrQuotaExceeded) {
		log.WithError(err).Warn("Storage quota exceeded, evicting and retrying")
		c.evictOneLocked(ctx, key)
		c.evictLocked(ctx, key, size, c.target(c.opts.QuotaRetryTarget))
		err = c.kv.Set(ctx, storageKey(key), value)
	}
	if err != nil {
		log.WithError(err).Warn("Snapshot write failed")
		return false
	}

	c.index.Set(key, now, size)
	if err := c.opts.Index.Save(ctx, IndexRecord{Key: key, StoredAt: now, SizeBytes: size}); err != nil {
		log.WithError(err).Warn("Index mirror save failed")
	}
	return true
}

// Clear removes every snapshot and resets the index.
func (c *SnapshotCache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	failed := 0
	for _, key := range c.index.Keys() {
		if err := c.removeLocked(ctx, key); err != nil {
			failed++
		}
	}
	if failed > 0 {
		c.log.WithField("remaining", failed).Warn("Cache clear incomplete")
		return
	}

	if err := c.opts.Index.Truncate(ctx); err != nil {
		c.log.WithError(err).Warn("Index mirror truncate failed")
	}
}

// PurgeExpired removes every entry older than MaxAge and returns how many
// were removed.
func (c *SnapshotCache) PurgeExpired(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.index.Expired(c.opts.Now(), c.opts.MaxAge) {
		if c.removeLocked(ctx, key) == nil {
			removed++
		}
	}
	return removed
}

func (c *SnapshotCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Count:      c.index.Len(),
		Size:       c.index.Size(),
		Budget:     c.opts.MaxSize,
		MaxEntries: c.opts.MaxEntries,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
	}
}

func (c *SnapshotCache) fitsLocked(key string, size int64) bool {
	projectedSize, projectedCount := c.index.Projected(key, size)
	return projectedSize <= c.opts.MaxSize && projectedCount <= c.opts.MaxEntries
}

func (c *SnapshotCache) target(fraction float64) int64 {
	return int64(float64(c.opts.MaxSize) * fraction)
}

// evictLocked removes the globally oldest entries other than key until a
// write of size bytes under key would leave usage at or below limit and the
// entry count within MaxEntries.
func (c *SnapshotCache) evictLocked(ctx context.Context, key string, size, limit int64) {
	for {
		projectedSize, projectedCount := c.index.Projected(key, size)
		if key == "" {
			projectedSize, projectedCount = c.index.Size(), c.index.Len()
		}
		if projectedSize <= limit && projectedCount <= c.opts.MaxEntries {
			return
		}
		if !c.evictOneLocked(ctx, key) {
			return
		}
	}
}

func (c *SnapshotCache) evictOneLocked(ctx context.Context, exclude string) bool {
	victim, ok := c.index.Oldest(exclude)
	if !ok {
		return false
	}
	if c.removeLocked(ctx, victim) != nil {
		return false
	}
	c.evictions++
	c.log.WithField("key", victim).Debug("Evicted snapshot")
	return true
}

// removeLocked deletes the stored value and forgets the key. A key whose
// delete fails stays indexed so its bytes still count against the budget.
func (c *SnapshotCache) removeLocked(ctx context.Context, key string) error {
	err := c.kv.Remove(ctx, storageKey(key))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.log.WithField("key", key).WithError(err).Warn("Snapshot delete failed, keeping index entry")
		return err
	}
	c.forgetLocked(ctx, key)
	return nil
}

func (c *SnapshotCache) forgetLocked(ctx context.Context, key string) {
	c.index.Remove(key)
	if err := c.opts.Index.Delete(ctx, key); err != nil {
		c.log.WithField("key", key).WithError(err).Warn("Index mirror delete failed")
	}
}
