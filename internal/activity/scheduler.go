package activity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type State int

const (
	StateIdle State = iota
	StateArmed
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateFlushing:
		return "flushing"
	default:
		return "idle"
	}
}

type SchedulerOptions struct {
	BatchSize      int
	BatchDelay     time.Duration
	MaxQueueLength int
	SendTimeout    time.Duration
}

type SchedulerStats struct {
	State         string `json:"state"`
	Queued        int    `json:"queued"`
	Dropped       uint64 `json:"dropped"`
	Flushes       uint64 `json:"flushes"`
	BatchesSent   uint64 `json:"batchesSent"`
	FallbackSent  uint64 `json:"fallbackSent"`
	FallbackLost  uint64 `json:"fallbackLost"`
	RejectedAfter uint64 `json:"rejectedAfterClose"`
}

// FlushScheduler drains the Queue to a Transport in batches, either when
// BatchSize records are waiting or BatchDelay after the first one arrived.
// The inFlight flag admits a single flush at a time so a record popped by one
// flush is never popped by another.
type FlushScheduler struct {
	transport Transport
	opts      SchedulerOptions
	log       *logrus.Entry

	mu       sync.Mutex
	cond     *sync.Cond
	queue    *Queue
	timer    *time.Timer
	timerGen uint64
	inFlight bool
	closed   bool

	flushes      atomic.Uint64
	batchesSent  atomic.Uint64
	fallbackSent atomic.Uint64
	fallbackLost atomic.Uint64
	rejected     atomic.Uint64
}

func NewFlushScheduler(logger *logrus.Logger, transport Transport, opts SchedulerOptions) *FlushScheduler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.BatchDelay <= 0 {
		opts.BatchDelay = 2 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}

	s := &FlushScheduler{
		transport: transport,
		opts:      opts,
		log:       logger.WithField("component", "flush_scheduler"),
		queue:     NewQueue(opts.MaxQueueLength),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Enqueue stages rec for the next batch and arms the size or time trigger.
func (s *FlushScheduler) Enqueue(rec LogRecord) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		s.rejected.Add(1)
		s.log.WithField("record_id", rec.ID).Warn("Scheduler closed, record dropped")
		return
	}

	if s.queue.Push(rec) {
		s.log.WithField("limit", s.opts.MaxQueueLength).Warn("Activity queue full, dropped oldest record")
	}

	if s.queue.Len() >= s.opts.BatchSize {
		s.stopTimerLocked()
		s.mu.Unlock()
		go s.Flush(context.Background())
		return
	}

	if s.timer == nil && !s.inFlight {
		s.armLocked()
	}
	s.mu.Unlock()
}

// Flush sends one batch of up to BatchSize records and returns how many were
// popped. It returns 0 straight away when another flush is running; that
// flush re-arms the scheduler for whatever is left.
func (s *FlushScheduler) Flush(ctx context.Context) int {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return 0
	}
	s.stopTimerLocked()

	batch := s.queue.Pop(s.opts.BatchSize)
	if len(batch) == 0 {
		s.mu.Unlock()
		return 0
	}
	s.inFlight = true
	s.mu.Unlock()

	s.send(ctx, batch)

	s.mu.Lock()
	s.inFlight = false
	s.cond.Broadcast()
	again := !s.closed && s.queue.Len() >= s.opts.BatchSize
	if !again {
		s.rearmLocked()
	}
	s.mu.Unlock()

	if again {
		go s.Flush(context.Background())
	}
	return len(batch)
}

// ForceFlush cancels the pending timer, waits out any running flush and then
// sends everything queued at that moment, in batches, before returning.
// ctx bounds only the wait; once records are popped their sends run to
// completion under SendTimeout even if ctx is cancelled.
func (s *FlushScheduler) ForceFlush(ctx context.Context) int {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	s.stopTimerLocked()
	for s.inFlight {
		if err := ctx.Err(); err != nil {
			s.mu.Unlock()
			s.log.WithError(err).Warn("Forced flush abandoned while another flush was running")
			return 0
		}
		s.cond.Wait()
	}
	s.inFlight = true

	pending := s.queue.Len()
	total := 0
	for total < pending {
		n := s.opts.BatchSize
		if rest := pending - total; rest < n {
			n = rest
		}
		batch := s.queue.Pop(n)
		if len(batch) == 0 {
			break
		}
		s.mu.Unlock()

		s.send(ctx, batch)
		total += len(batch)

		s.mu.Lock()
	}

	s.inFlight = false
	s.cond.Broadcast()
	again := !s.closed && s.queue.Len() >= s.opts.BatchSize
	if !again {
		s.rearmLocked()
	}
	s.mu.Unlock()

	if again {
		go s.Flush(context.Background())
	}
	if total > 0 {
		s.log.WithField("records", total).Info("Forced flush completed")
	}
	return total
}

// Close force-flushes and rejects records enqueued afterwards.
func (s *FlushScheduler) Close(ctx context.Context) int {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.ForceFlush(ctx)
}

func (s *FlushScheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *FlushScheduler) stateLocked() State {
	switch {
	case s.inFlight:
		return StateFlushing
	case s.timer != nil:
		return StateArmed
	default:
		return StateIdle
	}
}

func (s *FlushScheduler) Stats() SchedulerStats {
	s.mu.Lock()
	state, queued, dropped := s.stateLocked(), s.queue.Len(), s.queue.Dropped()
	s.mu.Unlock()

	return SchedulerStats{
		State:         state.String(),
		Queued:        queued,
		Dropped:       dropped,
		Flushes:       s.flushes.Load(),
		BatchesSent:   s.batchesSent.Load(),
		FallbackSent:  s.fallbackSent.Load(),
		FallbackLost:  s.fallbackLost.Load(),
		RejectedAfter: s.rejected.Load(),
	}
}

// send makes one batched attempt and, if that fails, one attempt per record.
// Nothing is retried beyond that. Popped records are already out of the
// queue, so sends ignore cancellation of ctx and stop only at SendTimeout.
func (s *FlushScheduler) send(ctx context.Context, batch []LogRecord) {
	ctx = context.WithoutCancel(ctx)
	s.flushes.Add(1)
	log := s.log.WithField("records", len(batch))

	batchCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	err := s.transport.SendBatch(batchCtx, batch)
	cancel()
	if err == nil {
		s.batchesSent.Add(1)
		log.Debug("Activity batch sent")
		return
	}

	log.WithError(err).Warn("Batch send failed, falling back to individual sends")
	for _, rec := range batch {
		recCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
		err := s.transport.Send(recCtx, rec)
		cancel()
		if err != nil {
			s.fallbackLost.Add(1)
			log.WithField("record_id", rec.ID).WithError(err).Debug("Individual send failed, record dropped")
			continue
		}
		s.fallbackSent.Add(1)
	}
}

func (s *FlushScheduler) armLocked() {
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(s.opts.BatchDelay, func() { s.onTimer(gen) })
}

// rearmLocked arms the timer if records are waiting and nothing else will
// pick them up.
func (s *FlushScheduler) rearmLocked() {
	if s.closed || s.inFlight || s.timer != nil || s.queue.Len() == 0 {
		return
	}
	s.armLocked()
}

func (s *FlushScheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// onTimer ignores callbacks from timers that were stopped or replaced after
// they had already fired.
func (s *FlushScheduler) onTimer(gen uint64) {
	s.mu.Lock()
	if s.timer == nil || gen != s.timerGen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	s.Flush(context.Background())
}
