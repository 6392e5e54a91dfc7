package cache

import (
	"context"
	"time"
)

type IndexRecord struct {
	Key       string
	StoredAt  time.Time
	SizeBytes int64
}

// IndexStore mirrors the in-memory index somewhere that outlives the process,
// so a restarted service can resume its budget accounting.
type IndexStore interface {
	Load(ctx context.Context) ([]IndexRecord, error)
	Save(ctx context.Context, rec IndexRecord) error
	Delete(ctx context.Context, key string) error
	Truncate(ctx context.Context) error
}

type NopIndexStore struct{}

func (NopIndexStore) Load(context.Context) ([]IndexRecord, error) { return nil, nil }
func (NopIndexStore) Save(context.Context, IndexRecord) error     { return nil }
func (NopIndexStore) Delete(context.Context, string) error        { return nil }
func (NopIndexStore) Truncate(context.Context) error              { return nil }
