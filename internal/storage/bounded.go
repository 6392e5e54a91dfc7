package storage

import (
	"context"
	"fmt"
	"sync"
)

// Bounded enforces a byte capacity on top of another KV, the way browser
// storage refuses writes once its origin quota is used up. Usage counts key
// and value bytes.
type Bounded struct {
	inner    KV
	capacity int64

	mu    sync.Mutex
	sizes map[string]int64
	used  int64
}

var _ KV = (*Bounded)(nil)

func NewBounded(inner KV, capacity int64) *Bounded {
	return &Bounded{
		inner:    inner,
		capacity: capacity,
		sizes:    make(map[string]int64),
	}
}

func (b *Bounded) Get(ctx context.Context, key string) ([]byte, error) {
	return b.inner.Get(ctx, key)
}

func (b *Bounded) Set(ctx context.Context, key string, value []byte) error {
	size := int64(len(key) + len(value))

	b.mu.Lock()
	defer b.mu.Unlock()

	projected := b.used - b.sizes[key] + size
	if projected > b.capacity {
		return fmt.Errorf("set %q (%d bytes, %d/%d used): %w", key, size, b.used, b.capacity, ErrQuotaExceeded)
	}

	if err := b.inner.Set(ctx, key, value); err != nil {
		return err
	}
	b.used = projected
	b.sizes[key] = size
	return nil
}

func (b *Bounded) Remove(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.inner.Remove(ctx, key); err != nil {
		return err
	}
	b.used -= b.sizes[key]
	delete(b.sizes, key)
	return nil
}

// Used returns the bytes currently charged against the capacity.
func (b *Bounded) Used() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}
