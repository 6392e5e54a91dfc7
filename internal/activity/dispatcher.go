package activity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrDispatcherFull   = errors.New("activity: dispatcher queue full")
	ErrDispatcherClosed = errors.New("activity: dispatcher closed")
)

type DispatcherStats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

// Dispatcher sends single records on a small pool of background workers.
// Each send gets its own context detached from the submitter, so a record
// handed over during request teardown still goes out. One attempt per record.
type Dispatcher struct {
	transport Transport
	jobs      chan LogRecord
	timeout   time.Duration
	log       *logrus.Entry
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

func NewDispatcher(logger *logrus.Logger, transport Transport, workers, buffer int, timeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	d := &Dispatcher{
		transport: transport,
		jobs:      make(chan LogRecord, buffer),
		timeout:   timeout,
		log:       logger.WithField("component", "activity_dispatcher"),
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Submit hands rec to a worker without waiting for the send.
func (d *Dispatcher) Submit(rec LogRecord) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		return ErrDispatcherClosed
	}

	select {
	case d.jobs <- rec:
		return nil
	default:
		d.dropped.Add(1)
		return ErrDispatcherFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for rec := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.transport.Send(ctx, rec)
		cancel()

		if err != nil {
			d.failed.Add(1)
			d.log.WithFields(logrus.Fields{
				"record_id": rec.ID,
				"action":    rec.Action,
				"category":  rec.Category,
			}).WithError(err).Warn("Priority record send failed")
			continue
		}
		d.sent.Add(1)
	}
}

// Close stops accepting records and waits for queued sends to finish or ctx
// to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
	}
}
