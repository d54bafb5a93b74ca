package record

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"taskengine/internal/eventbus"
)

// DefaultCoalesceInterval is the minimum spacing between non-terminal
// snapshot publications for a single task, per spec §4.2. Terminal
// transitions always publish immediately regardless of this interval.
const DefaultCoalesceInterval = 100 * time.Millisecond

// Record is the mutable state of one unit of work. It owns a reference to
// the event bus and publishes a full Snapshot on every observable mutation
// (status, progress, heading, body, img, error fields, timestamps),
// coalescing bursts of non-terminal updates.
//
// A Record is mutated only by its owning worker and by the Body it runs
// (through Control); nothing else should hold a pointer to one while it is
// in flight.
type Record struct {
	mu sync.Mutex

	taskID        string
	parentID      string
	taskType      string
	status        Status
	progress      int
	semaphoreName string
	img           string
	heading       string
	body          string
	startedAt     *time.Time
	completedAt   *time.Time

	errorType      string
	errorMessage   string
	errorTraceback string

	// bodyFailed records a Body's self-declared failure (via
	// Control.MarkFailed) ahead of Run returning. The worker consults this
	// after Run returns to decide the terminal status; Finish itself is
	// still the only place completedAt and the terminal publish happen.
	bodyFailed  bool
	bodyErrType string
	bodyErrMsg  string

	results any

	work Body

	bus        *eventbus.Bus
	topic      string
	limiter    *rate.Limiter
	coalesce   time.Duration
	dirty      bool
	flushTimer *time.Timer
	closed     bool
}

// New creates a queued Task Record wrapping work. taskType is taken from
// work.Kind() rather than passed separately, so the engine never has to
// trust a caller-supplied label that could disagree with the body's own
// identity. semaphoreName selects the Semaphore Registry entry the
// Scheduler will acquire before running it; an empty name is left as-is
// so the registry's own fallback-to-default applies.
func New(bus *eventbus.Bus, parentID, semaphoreName string, work Body) *Record {
	id := uuid.NewString()
	r := &Record{
		taskID:        id,
		parentID:      parentID,
		taskType:      work.Kind(),
		status:        StatusQueued,
		progress:      0,
		semaphoreName: semaphoreName,
		work:          work,
		bus:           bus,
		topic:         Topic(id),
		coalesce:      DefaultCoalesceInterval,
		limiter:       rate.NewLimiter(rate.Every(DefaultCoalesceInterval), 1),
	}
	return r
}

func (r *Record) TaskID() string        { return r.taskID }
func (r *Record) ParentID() string      { return r.parentID }
func (r *Record) TaskType() string      { return r.taskType }
func (r *Record) Work() Body            { return r.work }
func (r *Record) SemaphoreName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.semaphoreName
}
func (r *Record) Topic() string { return r.topic }

// Status reports the current lifecycle state.
func (r *Record) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Snapshot returns the current externally-visible state.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Record) snapshotLocked() Snapshot {
	return Snapshot{
		TaskID:         r.taskID,
		ParentID:       r.parentID,
		TaskType:       r.taskType,
		Status:         r.status,
		Progress:       r.progress,
		SemaphoreName:  r.semaphoreName,
		Img:            r.img,
		Heading:        r.heading,
		Body:           r.body,
		StartedAt:      r.startedAt,
		CompletedAt:    r.completedAt,
		ErrorType:      r.errorType,
		ErrorMessage:   r.errorMessage,
		ErrorTraceback: r.errorTraceback,
		Results:        r.results,
	}
}

// Start transitions the record to Running, records startedAt, and
// publishes immediately (the transition into Running is not coalesced:
// spec invariant I2 requires it observable at the instant it happens).
func (r *Record) Start(now time.Time) {
	r.mu.Lock()
	if r.status != StatusQueued {
		r.mu.Unlock()
		return
	}
	r.status = StatusRunning
	r.startedAt = &now
	r.mu.Unlock()
	r.publishNow()
}

// Finish transitions the record to a terminal status, recording
// completedAt and (if failing) the error fields, publishes the final
// snapshot, and closes the task topic. Calling Finish twice is a no-op
// after the first call.
func (r *Record) Finish(now time.Time, status Status, errType, errMsg, errTrace string) {
	r.mu.Lock()
	if r.status.Terminal() {
		r.mu.Unlock()
		return
	}
	if r.flushTimer != nil {
		r.flushTimer.Stop()
		r.flushTimer = nil
	}
	r.status = status
	r.completedAt = &now
	if status == StatusFailed {
		r.errorType = errType
		r.errorMessage = errMsg
		r.errorTraceback = errTrace
	} else if r.progress < 100 {
		r.progress = 100
	}
	snap := r.snapshotLocked()
	r.closed = true
	r.mu.Unlock()

	final := eventbus.Event{Type: "task_update", Data: snap}
	_ = r.bus.Close(r.topic, &final)
}

// MarkFailedByBody lets a Body declare its own failure without returning
// an error (spec §4.2 step 3: "did not explicitly set status = failed").
// It records intent only; Finish (called by the worker once Run returns)
// is still the sole place the terminal transition, completedAt, and the
// closing publish happen.
func (r *Record) MarkFailedByBody(errType, errMsg string) {
	r.mu.Lock()
	if r.status.Terminal() {
		r.mu.Unlock()
		return
	}
	r.bodyFailed = true
	r.bodyErrType = errType
	r.bodyErrMsg = errMsg
	r.mu.Unlock()
}

// BodyDeclaredFailure reports a failure a Body declared via
// Control.MarkFailed while it was running, so the worker can fold it into
// the outcome it passes to Finish once Run returns.
func (r *Record) BodyDeclaredFailure() (failed bool, errType, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodyFailed, r.bodyErrType, r.bodyErrMsg
}

// ---- mutators exposed through Control ----

func (r *Record) setProgress(p int) {
	r.mu.Lock()
	r.progress = p
	r.mu.Unlock()
	r.touch()
}

func (r *Record) setHeading(s string) {
	r.mu.Lock()
	r.heading = s
	r.mu.Unlock()
	r.touch()
}

func (r *Record) setBody(s string) {
	r.mu.Lock()
	r.body = s
	r.mu.Unlock()
	r.touch()
}

func (r *Record) setImg(s string) {
	r.mu.Lock()
	r.img = s
	r.mu.Unlock()
	r.touch()
}

func (r *Record) setResults(v any) {
	r.mu.Lock()
	r.results = v
	r.mu.Unlock()
}

// ---- publish coalescing ----

// touch marks the record dirty and either flushes immediately (if the
// rate limiter has a token available) or arms a trailing timer so the
// latest state is still observed within one coalesce window even if no
// further mutation arrives to trigger another token check.
func (r *Record) touch() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.dirty = true
	if r.limiter.Allow() {
		snap := r.snapshotLocked()
		r.dirty = false
		r.mu.Unlock()
		r.publish(snap)
		return
	}
	if r.flushTimer == nil {
		r.flushTimer = time.AfterFunc(r.coalesce, r.scheduledFlush)
	}
	r.mu.Unlock()
}

func (r *Record) scheduledFlush() {
	r.mu.Lock()
	r.flushTimer = nil
	if r.closed || !r.dirty {
		r.mu.Unlock()
		return
	}
	r.limiter.Allow() // consume a token so the next touch() sees the refreshed window
	snap := r.snapshotLocked()
	r.dirty = false
	r.mu.Unlock()
	r.publish(snap)
}

func (r *Record) publishNow() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if r.flushTimer != nil {
		r.flushTimer.Stop()
		r.flushTimer = nil
	}
	r.dirty = false
	r.limiter.Allow()
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.publish(snap)
}

func (r *Record) publish(snap Snapshot) {
	_ = r.bus.Publish(r.topic, eventbus.Event{Type: "task_update", Data: snap})
}
