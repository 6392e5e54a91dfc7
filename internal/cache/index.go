package cache

import (
	"sort"
	"time"
)

type indexEntry struct {
	StoredAt time.Time
	Size     int64
}

// Index tracks when each snapshot was written and how many bytes it holds.
// total always equals the sum of the indexed sizes. Not safe for concurrent
// use; SnapshotCache serializes access.
type Index struct {
	entries map[string]indexEntry
	total   int64
}

func NewIndex() *Index {
	return &Index{entries: make(map[string]indexEntry)}
}

func (x *Index) Set(key string, storedAt time.Time, size int64) {
	if old, ok := x.entries[key]; ok {
		x.total -= old.Size
	}
	x.entries[key] = indexEntry{StoredAt: storedAt, Size: size}
	x.total += size
}

func (x *Index) Remove(key string) (indexEntry, bool) {
	old, ok := x.entries[key]
	if !ok {
		return indexEntry{}, false
	}
	delete(x.entries, key)
	x.total -= old.Size
	return old, true
}

func (x *Index) Lookup(key string) (indexEntry, bool) {
	e, ok := x.entries[key]
	return e, ok
}

// Oldest returns the key with the earliest storedAt, skipping exclude. Ties
// break on key order so eviction is deterministic.
func (x *Index) Oldest(exclude string) (string, bool) {
	var (
		oldestKey string
		oldest    indexEntry
		found     bool
	)
	for key, e := range x.entries {
		if key == exclude {
			continue
		}
		if !found || e.StoredAt.Before(oldest.StoredAt) ||
			(e.StoredAt.Equal(oldest.StoredAt) && key < oldestKey) {
			oldestKey, oldest, found = key, e, true
		}
	}
	return oldestKey, found
}

// Projected returns the size and count the index would have after key is
// written with size bytes.
func (x *Index) Projected(key string, size int64) (int64, int) {
	total, count := x.total+size, len(x.entries)+1
	if old, ok := x.entries[key]; ok {
		total -= old.Size
		count--
	}
	return total, count
}

// Expired lists keys whose age at now is strictly greater than maxAge.
func (x *Index) Expired(now time.Time, maxAge time.Duration) []string {
	var keys []string
	for key, e := range x.entries {
		if now.Sub(e.StoredAt) > maxAge {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (x *Index) Keys() []string {
	keys := make([]string, 0, len(x.entries))
	for key := range x.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (x *Index) Len() int    { return len(x.entries) }
func (x *Index) Size() int64 { return x.total }

func (x *Index) Reset() {
	x.entries = make(map[string]indexEntry)
	x.total = 0
}
