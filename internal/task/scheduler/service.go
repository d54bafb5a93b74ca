// Package scheduler implements the Scheduler/Executor: FIFO-per-class
// intake, per-task ephemeral workers supervised for panic safety, named
// semaphore acquisition, cancellation, and graceful shutdown (spec §4.4).
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"taskengine/internal/eventbus"
	"taskengine/internal/runtime/supervisor"
	"taskengine/internal/task/record"
	"taskengine/internal/task/semaphore"
	"taskengine/internal/task/store"
	logx "taskengine/pkg/logx"
)

// DefaultGracePeriod is used when Config.GracePeriod is zero.
const DefaultGracePeriod = 5 * time.Second

// DefaultProgressHookInterval is the cadence the engine samples a Body's
// ProgressHook at, per spec §4.2.
const DefaultProgressHookInterval = 100 * time.Millisecond

// Scheduler owns task intake, dispatch, and shutdown. It runs each
// submitted task in its own supervised goroutine rather than a fixed
// worker pool; this is the variant spec §4.4 calls out as equivalent to a
// fixed dispatcher pool, and it keeps a fully contended `single` semaphore
// from ever stalling unrelated `multiple` tasks.
type Scheduler struct {
	bus   *eventbus.Bus
	store *store.Store
	sems  *semaphore.Registry
	log   logx.Logger
	sup   *supervisor.Supervisor

	gracePeriod time.Duration

	mu        sync.Mutex
	stopping  bool
	cancelers map[string]context.CancelFunc
}

// New builds a Scheduler. bus, st, and sems are shared with the rest of
// the engine (Store, Semaphore Registry, Event Bus).
func New(bus *eventbus.Bus, st *store.Store, sems *semaphore.Registry, log logx.Logger, cfg Config) *Scheduler {
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Scheduler{
		bus:         bus,
		store:       st,
		sems:        sems,
		log:         log,
		sup:         supervisor.NewSupervisor(context.Background(), supervisor.WithLogger(log)),
		gracePeriod: grace,
		cancelers:   make(map[string]context.CancelFunc),
	}
}

// Submit assigns the record a queued state, inserts it into the Store,
// publishes task_added on the queue topic, and schedules it for
// execution. It returns the assigned task_id.
func (s *Scheduler) Submit(rec *record.Record) (string, error) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return "", ErrShutdownInProgress
	}
	ctx, cancel := context.WithCancel(s.sup.Context())
	s.cancelers[rec.TaskID()] = cancel
	s.mu.Unlock()

	s.store.Insert(rec)
	snap := rec.Snapshot()
	s.publishQueue(QueueEvent{Type: QueueEventTaskAdded, Task: &snap})

	s.sup.Go0("task:"+rec.TaskID(), func(_ context.Context) {
		s.runTask(ctx, rec)
	})

	return rec.TaskID(), nil
}

// Cancel stops a queued task before it starts, or signals a running one
// to unwind. It reports ErrNotFound for an unknown id and
// ErrAlreadyTerminal for a task that has already finished.
func (s *Scheduler) Cancel(taskID string) error {
	rec := s.store.Get(taskID)
	if rec == nil {
		return ErrNotFound
	}
	if rec.Status().Terminal() {
		return ErrAlreadyTerminal
	}

	s.mu.Lock()
	cancel := s.cancelers[taskID]
	s.mu.Unlock()
	if cancel == nil {
		return ErrNotFound
	}
	cancel()
	return nil
}

// runTask is the body of one ephemeral task worker: it blocks until the
// task's semaphore class frees a slot (or the task is cancelled first),
// runs the body, and commits the terminal outcome.
func (s *Scheduler) runTask(ctx context.Context, rec *record.Record) {
	defer s.cleanup(rec)

	select {
	case <-ctx.Done():
		rec.Finish(time.Now(), record.StatusFailed, "cancelled", "task cancelled before start", "")
		return
	default:
	}

	release, err := s.sems.Acquire(ctx, rec.SemaphoreName())
	if err != nil {
		rec.Finish(time.Now(), record.StatusFailed, "cancelled", "task cancelled while queued", "")
		return
	}
	defer release()

	rec.Start(time.Now())

	runErr := s.invokeBody(ctx, rec)
	now := time.Now()

	bodyFailed, errType, errMsg := rec.BodyDeclaredFailure()
	switch {
	case runErr != nil:
		rec.Finish(now, record.StatusFailed, runErr.kind, runErr.message, runErr.traceback)
	case bodyFailed:
		rec.Finish(now, record.StatusFailed, errType, errMsg, "")
	case ctx.Err() != nil:
		rec.Finish(now, record.StatusFailed, "cancelled", "task cancelled while running", "")
	default:
		rec.Finish(now, record.StatusDone, "", "", "")
		s.pruneSucceeded()
	}
}

// pruneSucceeded runs the Store's retention policy and publishes
// task_removed for anything it dropped. Invoked after every successful
// completion, per spec §4.5.
func (s *Scheduler) pruneSucceeded() {
	for _, id := range s.store.PruneSucceeded() {
		s.RemoveFromQueue(id)
	}
}

// bodyError captures a Body panic or returned error in the three fields
// the Task Record surfaces (error_type, error_message, error_traceback).
type bodyError struct {
	kind      string
	message   string
	traceback string
}

// invokeBody runs the task's Body, sampling its ProgressHook (if it has
// one) on a fixed cadence concurrently, and recovers a panic into the
// same shape as a returned error so a misbehaving body can never take
// down the worker.
func (s *Scheduler) invokeBody(ctx context.Context, rec *record.Record) (outErr *bodyError) {
	ctl := record.NewControl(ctx, rec)
	work := rec.Work()

	stop := make(chan struct{})
	var hookWG sync.WaitGroup
	if hook, ok := work.(record.ProgressHook); ok {
		hookWG.Add(1)
		go func() {
			defer hookWG.Done()
			ticker := time.NewTicker(DefaultProgressHookInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-stop:
					return
				case <-ticker.C:
					s.sampleHook(hook, ctl)
				}
			}
		}()
	}

	defer func() {
		close(stop)
		hookWG.Wait()
		if r := recover(); r != nil {
			outErr = &bodyError{
				kind:      "PanicError",
				message:   fmt.Sprint(r),
				traceback: string(debug.Stack()),
			}
		}
	}()

	err := work.Run(ctx, ctl)
	if err != nil {
		return &bodyError{kind: "BodyError", message: err.Error(), traceback: ""}
	}
	return nil
}

// sampleHook runs a Body's ProgressHook once, swallowing and logging any
// panic (spec §4.2: "exceptions from the hook are swallowed and logged").
func (s *Scheduler) sampleHook(hook record.ProgressHook, ctl *record.Control) {
	defer func() {
		if r := recover(); r != nil {
			if !s.log.IsZero() {
				s.log.Warn("progress hook panicked", logx.Any("panic", r))
			}
		}
	}()
	hook.ProgressHook(ctl)
}

func (s *Scheduler) cleanup(rec *record.Record) {
	s.mu.Lock()
	delete(s.cancelers, rec.TaskID())
	s.mu.Unlock()
}

// RemoveFromQueue publishes task_removed for id. Callers invoke this after
// they have already removed the record from the Store (explicit delete,
// delete_completed, or pruning) so the queue topic reflects departures
// from the active set.
func (s *Scheduler) RemoveFromQueue(id string) {
	s.publishQueue(QueueEvent{Type: QueueEventTaskRemoved, TaskID: id})
}

// PublishQueueUpdated emits a queue_updated event, for bulk changes (e.g.
// delete_completed) where publishing one task_removed per affected task
// would be noisier than useful.
func (s *Scheduler) PublishQueueUpdated() {
	s.publishQueue(QueueEvent{Type: QueueEventQueueUpdated})
}

func (s *Scheduler) publishQueue(ev QueueEvent) {
	_ = s.bus.Publish(QueueTopic, eventbus.Event{Type: ev.Type, Data: ev})
}

// Stop stops accepting submissions, signals every in-flight task's
// context (cooperative cancellation), waits up to the configured grace
// period for them to unwind, then force-finalizes any task that is still
// not terminal so every topic ends up closed with a final snapshot.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, s.gracePeriod)
	defer cancel()
	waitErr := s.sup.Stop(waitCtx)

	now := time.Now()
	for _, snap := range s.store.List() {
		if snap.Status.Terminal() {
			continue
		}
		rec := s.store.Get(snap.TaskID)
		if rec == nil {
			continue
		}
		rec.Finish(now, record.StatusFailed, "cancelled", "shutdown grace period exceeded", "")
	}
	return waitErr
}
