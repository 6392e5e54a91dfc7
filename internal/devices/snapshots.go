package devices

import (
	"context"

	"github.com/sirupsen/logrus"
)

type Fetcher interface {
	FetchStatus(ctx context.Context, deviceID string) ([]byte, error)
}

// SnapshotCache is the subset of cache.SnapshotCache used here.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, payload []byte) bool
}

// Snapshots serves device status from the cache, polling the device only on
// a miss.
type Snapshots struct {
	cache   SnapshotCache
	fetcher Fetcher
	log     *logrus.Entry
}

func NewSnapshots(logger *logrus.Logger, cache SnapshotCache, fetcher Fetcher) *Snapshots {
	return &Snapshots{
		cache:   cache,
		fetcher: fetcher,
		log:     logger.WithField("component", "device_snapshots"),
	}
}

// Get returns the snapshot for deviceID and whether it came from the cache.
func (s *Snapshots) Get(ctx context.Context, deviceID string) ([]byte, bool, error) {
	if payload, ok := s.cache.Get(ctx, deviceID); ok {
		return payload, true, nil
	}

	payload, err := s.fetcher.FetchStatus(ctx, deviceID)
	if err != nil {
		return nil, false, err
	}

	if !s.cache.Put(ctx, deviceID, payload) {
		s.log.WithField("device", deviceID).Warn("Snapshot not cached")
	}
	return payload, false, nil
}
