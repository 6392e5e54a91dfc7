package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Purger sweeps expired snapshots in the background. Get already purges
// lazily; the sweep keeps entries that are never read again from holding
// budget until the next eviction.
type Purger struct {
	logger   *logrus.Logger
	cache    *SnapshotCache
	interval time.Duration
}

func NewPurger(logger *logrus.Logger, cache *SnapshotCache, interval time.Duration) *Purger {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Purger{
		logger:   logger,
		cache:    cache,
		interval: interval,
	}
}

func (p *Purger) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logEntry := p.logger.WithField("component", "cache_purger")
	logEntry.WithField("interval", p.interval).Info("Starting cache purger")

	for {
		select {
		case <-ticker.C:
			p.purgeExpiredCache(ctx, logEntry)
		case <-ctx.Done():
			logEntry.Info("Stopping cache purger")
			return
		}
	}
}

func (p *Purger) purgeExpiredCache(ctx context.Context, log *logrus.Entry) {
	log = log.WithField("operation", "cache_purge")

	removed := p.cache.PurgeExpired(ctx)
	if removed == 0 {
		return
	}

	stats := p.cache.Stats()
	log.WithFields(logrus.Fields{
		"removed": removed,
		"count":   stats.Count,
		"size":    stats.Size,
	}).Info("Purged expired snapshots")
}
