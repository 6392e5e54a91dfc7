package handlers

import (
	"context"

	"github.com/sdko-org/opsedge/internal/activity"
	"github.com/sdko-org/opsedge/internal/cache"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

type SnapshotSource interface {
	Get(ctx context.Context, deviceID string) ([]byte, bool, error)
}

type CacheAdmin interface {
	Stats() cache.Stats
	Clear(ctx context.Context)
	PurgeExpired(ctx context.Context) int
}

// Handler exposes device snapshots, activity ingestion and the admin
// endpoints over HTTP.
type Handler struct {
	snapshots SnapshotSource
	cache     CacheAdmin
	recorder  *activity.Recorder
	log       *logrus.Entry
}

func NewHandler(logger *logrus.Logger, snapshots SnapshotSource, cache CacheAdmin, recorder *activity.Recorder) *Handler {
	return &Handler{
		snapshots: snapshots,
		cache:     cache,
		recorder:  recorder,
		log:       logger.WithField("component", "http_handler"),
	}
}
