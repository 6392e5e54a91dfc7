package activity

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type RecorderStats struct {
	Bypassed   uint64          `json:"bypassed"`
	Queued     uint64          `json:"queued"`
	Malformed  uint64          `json:"malformed"`
	Dispatcher DispatcherStats `json:"dispatcher"`
	Scheduler  SchedulerStats  `json:"scheduler"`
}

// Recorder is the entry point for activity records. LogEvent never blocks on
// the network and never fails the caller.
type Recorder struct {
	session    *Session
	router     PriorityRouter
	dispatcher *Dispatcher
	scheduler  *FlushScheduler
	now        func() time.Time
	log        *logrus.Entry

	bypassed  atomic.Uint64
	queued    atomic.Uint64
	malformed atomic.Uint64
}

func NewRecorder(logger *logrus.Logger, session *Session, router PriorityRouter, dispatcher *Dispatcher, scheduler *FlushScheduler) *Recorder {
	return &Recorder{
		session:    session,
		router:     router,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		now:        time.Now,
		log:        logger.WithField("component", "activity_recorder"),
	}
}

// LogEvent stamps rec with an ID, time and session identity, then either
// hands it to the dispatcher right away or stages it for the next batch.
func (r *Recorder) LogEvent(rec LogRecord) {
	if err := rec.normalize(r.now()); err != nil {
		r.malformed.Add(1)
		r.log.WithFields(logrus.Fields{
			"category": rec.Category,
			"resource": rec.Resource,
		}).WithError(err).Warn("Dropping activity record")
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	r.session.Stamp(&rec)

	if r.router.Classify(rec) == RouteBypass {
		r.bypassed.Add(1)
		if err := r.dispatcher.Submit(rec); err != nil {
			log := r.log.WithFields(logrus.Fields{"record_id": rec.ID, "action": rec.Action})
			if errors.Is(err, ErrDispatcherFull) {
				log.Warn("Dispatcher saturated, priority record dropped")
			} else {
				log.WithError(err).Warn("Priority record not dispatched")
			}
		}
		return
	}

	r.queued.Add(1)
	r.scheduler.Enqueue(rec)
}

// Login starts the operator session and records the login.
func (r *Recorder) Login(actor Actor, address, agent string) {
	r.session.Init(actor, address, agent)
	r.LogEvent(LogRecord{
		Action:      ActionLogin,
		Category:    CategorySecurity,
		Resource:    "session",
		Description: "operator signed in",
	})
}

// Logout records the logout, drains staged records while the session
// identity is still known, and then clears the session.
func (r *Recorder) Logout(ctx context.Context) int {
	r.LogEvent(LogRecord{
		Action:      ActionLogout,
		Category:    CategorySecurity,
		Resource:    "session",
		Description: "operator signed out",
	})
	n := r.scheduler.ForceFlush(ctx)
	r.session.Reset()
	return n
}

func (r *Recorder) ForceFlush(ctx context.Context) int {
	return r.scheduler.ForceFlush(ctx)
}

func (r *Recorder) Session() *Session {
	return r.session
}

func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Bypassed:   r.bypassed.Load(),
		Queued:     r.queued.Load(),
		Malformed:  r.malformed.Load(),
		Dispatcher: r.dispatcher.Stats(),
		Scheduler:  r.scheduler.Stats(),
	}
}

// Close drains the queue and waits for detached sends, bounded by ctx.
func (r *Recorder) Close(ctx context.Context) error {
	flushed := r.scheduler.Close(ctx)
	err := r.dispatcher.Close(ctx)
	r.log.WithField("flushed", flushed).Info("Activity recorder closed")
	return err
}
