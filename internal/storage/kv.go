package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("storage: key not found")
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
)

// KV is the persistent key/value collaborator behind the snapshot cache.
// Set must report capacity exhaustion as an error wrapping ErrQuotaExceeded so
// callers can tell it apart from other failures.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}
