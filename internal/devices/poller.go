package devices

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Poller keeps the snapshots of a fixed device list warm. A device whose
// snapshot is still fresh costs no network call.
type Poller struct {
	snapshots *Snapshots
	devices   []string
	interval  time.Duration
	log       *logrus.Entry
}

func NewPoller(logger *logrus.Logger, snapshots *Snapshots, devices []string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Poller{
		snapshots: snapshots,
		devices:   devices,
		interval:  interval,
		log:       logger.WithField("component", "device_poller"),
	}
}

func (p *Poller) Start(ctx context.Context) {
	if len(p.devices) == 0 {
		p.log.Info("No devices configured, poller idle")
		return
	}

	p.log.WithFields(logrus.Fields{
		"devices":  len(p.devices),
		"interval": p.interval,
	}).Info("Starting device poller")

	p.PollOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.PollOnce(ctx)
		case <-ctx.Done():
			p.log.Info("Stopping device poller")
			return
		}
	}
}

// PollOnce refreshes every device and returns how many were fetched remotely.
func (p *Poller) PollOnce(ctx context.Context) int {
	fetched := 0
	for _, id := range p.devices {
		if ctx.Err() != nil {
			break
		}
		_, hit, err := p.snapshots.Get(ctx, id)
		if err != nil {
			p.log.WithField("device", id).WithError(err).Warn("Device poll failed")
			continue
		}
		if !hit {
			fetched++
		}
	}
	return fetched
}
