package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"taskengine/internal/eventbus"
	"taskengine/internal/task/record"
	"taskengine/internal/task/semaphore"
	"taskengine/internal/task/store"
	logx "taskengine/pkg/logx"
)

func realNoopLogger() logx.Logger { return logx.Logger{} }

func waitForStatus(t *testing.T, rec *record.Record, want record.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec.Status() == want || rec.Status().Terminal() {
			if rec.Status() == want {
				return
			}
			t.Fatalf("task reached terminal status %v, want %v", rec.Status(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %v, got %v", want, rec.Status())
}

type blockingBody struct {
	kind    string
	release chan struct{}
	started chan struct{}
}

func (b *blockingBody) Kind() string { return b.kind }
func (b *blockingBody) Run(ctx context.Context, ctl *record.Control) error {
	close(b.started)
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type immediateBody struct {
	kind string
	err  error
}

func (b immediateBody) Kind() string { return b.kind }
func (b immediateBody) Run(ctx context.Context, ctl *record.Control) error { return b.err }

func TestSubmitRunsTaskToCompletion(t *testing.T) {
	bus := eventbus.New()
	st := store.New(0)
	sems := semaphore.New()
	sched := New(bus, st, sems, realNoopLogger(), Config{GracePeriod: time.Second})

	rec := record.New(bus, "", semaphore.NameSingle, immediateBody{kind: "x"})
	if _, err := sched.Submit(rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitForStatus(t, rec, record.StatusDone)
}

func TestSubmitCapturesBodyError(t *testing.T) {
	bus := eventbus.New()
	st := store.New(0)
	sems := semaphore.New()
	sched := New(bus, st, sems, realNoopLogger(), Config{GracePeriod: time.Second})

	rec := record.New(bus, "", semaphore.NameSingle, immediateBody{kind: "x", err: errors.New("boom")})
	if _, err := sched.Submit(rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitForStatus(t, rec, record.StatusFailed)
	snap := rec.Snapshot()
	if snap.ErrorType != "BodyError" || snap.ErrorMessage != "boom" {
		t.Fatalf("error fields = %+v, want BodyError/boom", snap)
	}
}

func TestSingleSemaphoreSerializesExecution(t *testing.T) {
	bus := eventbus.New()
	st := store.New(0)
	sems := semaphore.New()
	sched := New(bus, st, sems, realNoopLogger(), Config{GracePeriod: time.Second})

	b1 := &blockingBody{kind: "x", release: make(chan struct{}), started: make(chan struct{})}
	b2 := &blockingBody{kind: "x", release: make(chan struct{}), started: make(chan struct{})}

	r1 := record.New(bus, "", semaphore.NameSingle, b1)
	r2 := record.New(bus, "", semaphore.NameSingle, b2)

	sched.Submit(r1)
	sched.Submit(r2)

	select {
	case <-b1.started:
	case <-time.After(time.Second):
		t.Fatal("first task never started")
	}

	select {
	case <-b2.started:
		t.Fatal("second task started while first still holds the single semaphore")
	case <-time.After(50 * time.Millisecond):
	}

	close(b1.release)
	waitForStatus(t, r1, record.StatusDone)

	select {
	case <-b2.started:
	case <-time.After(time.Second):
		t.Fatal("second task never started after first released the semaphore")
	}
	close(b2.release)
	waitForStatus(t, r2, record.StatusDone)
}

func TestMultipleSemaphoreClassRunsConcurrently(t *testing.T) {
	bus := eventbus.New()
	st := store.New(0)
	sems := semaphore.New()
	sched := New(bus, st, sems, realNoopLogger(), Config{GracePeriod: time.Second})

	var startedCount int32
	bodies := make([]*blockingBody, 3)
	for i := range bodies {
		bodies[i] = &blockingBody{kind: "x", release: make(chan struct{}), started: make(chan struct{})}
	}

	var wg sync.WaitGroup
	for _, b := range bodies {
		b := b
		rec := record.New(bus, "", semaphore.NameMultiple, b)
		sched.Submit(rec)
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-b.started:
				atomic.AddInt32(&startedCount, 1)
			case <-time.After(time.Second):
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&startedCount) != 3 {
		t.Fatalf("started count = %d, want 3 (multiple class should run concurrently)", startedCount)
	}
	for _, b := range bodies {
		close(b.release)
	}
}

func TestCancelQueuedTaskBeforeItStarts(t *testing.T) {
	bus := eventbus.New()
	st := store.New(0)
	sems := semaphore.New()
	sched := New(bus, st, sems, realNoopLogger(), Config{GracePeriod: time.Second})

	holder := &blockingBody{kind: "x", release: make(chan struct{}), started: make(chan struct{})}
	holderRec := record.New(bus, "", semaphore.NameSingle, holder)
	sched.Submit(holderRec)
	<-holder.started

	queued := &blockingBody{kind: "x", release: make(chan struct{}), started: make(chan struct{})}
	queuedRec := record.New(bus, "", semaphore.NameSingle, queued)
	sched.Submit(queuedRec)

	if err := sched.Cancel(queuedRec.TaskID()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	waitForStatus(t, queuedRec, record.StatusFailed)
	close(holder.release)
	waitForStatus(t, holderRec, record.StatusDone)
}

func TestCancelUnknownTaskReturnsErrNotFound(t *testing.T) {
	bus := eventbus.New()
	st := store.New(0)
	sems := semaphore.New()
	sched := New(bus, st, sems, realNoopLogger(), Config{GracePeriod: time.Second})

	if err := sched.Cancel("does-not-exist"); err != ErrNotFound {
		t.Fatalf("Cancel(unknown) = %v, want ErrNotFound", err)
	}
}

func TestCancelAlreadyTerminalReturnsErrAlreadyTerminal(t *testing.T) {
	bus := eventbus.New()
	st := store.New(0)
	sems := semaphore.New()
	sched := New(bus, st, sems, realNoopLogger(), Config{GracePeriod: time.Second})

	rec := record.New(bus, "", semaphore.NameSingle, immediateBody{kind: "x"})
	sched.Submit(rec)
	waitForStatus(t, rec, record.StatusDone)

	if err := sched.Cancel(rec.TaskID()); err != ErrAlreadyTerminal {
		t.Fatalf("Cancel(terminal) = %v, want ErrAlreadyTerminal", err)
	}
}

func TestSubmitAfterStopReturnsErrShutdownInProgress(t *testing.T) {
	bus := eventbus.New()
	st := store.New(0)
	sems := semaphore.New()
	sched := New(bus, st, sems, realNoopLogger(), Config{GracePeriod: 200 * time.Millisecond})

	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	rec := record.New(bus, "", semaphore.NameSingle, immediateBody{kind: "x"})
	if _, err := sched.Submit(rec); err != ErrShutdownInProgress {
		t.Fatalf("Submit after Stop = %v, want ErrShutdownInProgress", err)
	}
}

func TestStopForceFinalizesTasksPastGracePeriod(t *testing.T) {
	bus := eventbus.New()
	st := store.New(0)
	sems := semaphore.New()
	sched := New(bus, st, sems, realNoopLogger(), Config{GracePeriod: 50 * time.Millisecond})

	b := &blockingBody{kind: "x", release: make(chan struct{}), started: make(chan struct{})}
	rec := record.New(bus, "", semaphore.NameSingle, b)
	sched.Submit(rec)
	<-b.started

	_ = sched.Stop(context.Background())

	if !rec.Status().Terminal() {
		t.Fatalf("status after Stop = %v, want terminal", rec.Status())
	}
	if rec.Status() != record.StatusFailed {
		t.Fatalf("force-finalized status = %v, want failed", rec.Status())
	}
}
