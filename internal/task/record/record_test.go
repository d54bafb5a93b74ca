package record

import (
	"context"
	"testing"
	"time"

	"taskengine/internal/eventbus"
)

type noopBody struct{ kind string }

func (b noopBody) Kind() string { return b.kind }
func (b noopBody) Run(ctx context.Context, ctl *Control) error { return nil }

func TestNewDerivesTaskTypeFromBodyKind(t *testing.T) {
	bus := eventbus.New()
	rec := New(bus, "", "single", noopBody{kind: "example_cpu_task"})

	if rec.TaskType() != "example_cpu_task" {
		t.Fatalf("TaskType() = %q, want example_cpu_task", rec.TaskType())
	}
	if rec.Status() != StatusQueued {
		t.Fatalf("Status() = %v, want StatusQueued", rec.Status())
	}
}

func TestStartPublishesImmediatelyUncoalesced(t *testing.T) {
	bus := eventbus.New()
	rec := New(bus, "", "single", noopBody{kind: "x"})
	sub := bus.Subscribe(rec.Topic(), 4)
	defer sub.Unsubscribe()

	rec.Start(time.Now())

	select {
	case ev := <-sub.Events():
		snap := ev.Data.(Snapshot)
		if snap.Status != StatusRunning {
			t.Fatalf("status = %v, want running", snap.Status)
		}
		if snap.StartedAt == nil {
			t.Fatal("StartedAt not set")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for start publish")
	}
}

func TestStartIsANoOpWhenNotQueued(t *testing.T) {
	bus := eventbus.New()
	rec := New(bus, "", "single", noopBody{kind: "x"})
	rec.Start(time.Now())
	first := rec.Snapshot().StartedAt

	rec.Start(time.Now().Add(time.Hour))
	if rec.Snapshot().StartedAt != first {
		t.Fatal("second Start call mutated StartedAt")
	}
}

func TestFinishIsIdempotentAndClosesTopic(t *testing.T) {
	bus := eventbus.New()
	rec := New(bus, "", "single", noopBody{kind: "x"})
	rec.Start(time.Now())

	sub := bus.Subscribe(rec.Topic(), 4)
	defer sub.Unsubscribe()
	drain(t, sub) // the Start publish, replayed on subscribe

	rec.Finish(time.Now(), StatusDone, "", "", "")
	rec.Finish(time.Now(), StatusFailed, "should-not-apply", "", "")

	if rec.Status() != StatusDone {
		t.Fatalf("Status() = %v, want done (second Finish must be a no-op)", rec.Status())
	}

	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("channel closed before delivering final snapshot")
		}
		snap := ev.Data.(Snapshot)
		if snap.Status != StatusDone {
			t.Fatalf("final snapshot status = %v, want done", snap.Status)
		}
		if snap.CompletedAt == nil {
			t.Fatal("CompletedAt not set on final snapshot")
		}
		if snap.Progress != 100 {
			t.Fatalf("progress = %d, want 100 on a successful finish", snap.Progress)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for final snapshot")
	}

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected topic to close after final snapshot")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for topic close")
	}
}

func TestFinishFailedRecordsErrorFields(t *testing.T) {
	bus := eventbus.New()
	rec := New(bus, "", "single", noopBody{kind: "x"})
	rec.Start(time.Now())
	rec.Finish(time.Now(), StatusFailed, "BodyError", "boom", "trace")

	snap := rec.Snapshot()
	if snap.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", snap.Status)
	}
	if snap.ErrorType != "BodyError" || snap.ErrorMessage != "boom" || snap.ErrorTraceback != "trace" {
		t.Fatalf("error fields not recorded: %+v", snap)
	}
}

func TestMarkFailedByBodyRecordsIntentWithoutForcingTerminal(t *testing.T) {
	bus := eventbus.New()
	rec := New(bus, "", "single", noopBody{kind: "x"})
	rec.Start(time.Now())

	ctl := NewControl(context.Background(), rec)
	ctl.MarkFailed("ValidationError", "bad input")

	if rec.Status() != StatusRunning {
		t.Fatalf("status = %v, want still running (MarkFailed alone must not finalize)", rec.Status())
	}

	failed, errType, errMsg := rec.BodyDeclaredFailure()
	if !failed || errType != "ValidationError" || errMsg != "bad input" {
		t.Fatalf("BodyDeclaredFailure = (%v, %q, %q)", failed, errType, errMsg)
	}

	// The worker is the one that actually finalizes, once Run returns.
	rec.Finish(time.Now(), StatusFailed, errType, errMsg, "")
	if rec.Status() != StatusFailed {
		t.Fatalf("status after worker Finish = %v, want failed", rec.Status())
	}
}

func TestProgressMutationsCoalesceWithinWindow(t *testing.T) {
	bus := eventbus.New()
	rec := New(bus, "", "single", noopBody{kind: "x"})
	rec.Start(time.Now())

	sub := bus.Subscribe(rec.Topic(), 32)
	defer sub.Unsubscribe()
	drain(t, sub) // the Start publish

	ctl := NewControl(context.Background(), rec)
	for i := 0; i < 20; i++ {
		ctl.SetProgress(i)
	}

	// At most: one immediate publish (token available) plus one trailing
	// flush. It must not be 20 separate publishes.
	count := 0
	timeout := time.After(300 * time.Millisecond)
loop:
	for {
		select {
		case <-sub.Events():
			count++
		case <-timeout:
			break loop
		}
	}
	if count == 0 {
		t.Fatal("expected at least one coalesced publish")
	}
	if count >= 20 {
		t.Fatalf("got %d publishes for 20 rapid mutations, coalescing did not engage", count)
	}

	final := rec.Snapshot()
	if final.Progress != 19 {
		t.Fatalf("final progress = %d, want 19 (last mutation always wins)", final.Progress)
	}
}

func drain(t *testing.T, sub *eventbus.Subscription) {
	t.Helper()
	select {
	case <-sub.Events():
	case <-time.After(time.Second):
		t.Fatal("timed out draining expected event")
	}
}

func TestSetResultsIsNotPublished(t *testing.T) {
	bus := eventbus.New()
	rec := New(bus, "", "single", noopBody{kind: "x"})
	rec.Start(time.Now())

	sub := bus.Subscribe(rec.Topic(), 4)
	defer sub.Unsubscribe()
	drain(t, sub)

	ctl := NewControl(context.Background(), rec)
	ctl.SetResults(map[string]int{"n": 1})

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected publish for SetResults: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	snap := rec.Snapshot()
	if snap.Results == nil {
		t.Fatal("Results not retained on the snapshot")
	}
}

type cloneableBody struct{ n int }

func (b *cloneableBody) Kind() string                          { return "cloneable" }
func (b *cloneableBody) Run(ctx context.Context, ctl *Control) error { return nil }
func (b *cloneableBody) Clone() Body                            { return &cloneableBody{n: b.n} }

func TestSpawnFromClonesTemplateBody(t *testing.T) {
	bus := eventbus.New()
	template := New(bus, "", "multiple", &cloneableBody{n: 7})

	child := SpawnFrom(bus, "recurring-1", template)

	if child.TaskID() == template.TaskID() {
		t.Fatal("spawned child reused the template's task_id")
	}
	if child.ParentID() != "recurring-1" {
		t.Fatalf("ParentID() = %q, want recurring-1", child.ParentID())
	}
	if child.SemaphoreName() != "multiple" {
		t.Fatalf("SemaphoreName() = %q, want multiple", child.SemaphoreName())
	}
	childBody, ok := child.Work().(*cloneableBody)
	if !ok {
		t.Fatalf("Work() type = %T, want *cloneableBody", child.Work())
	}
	if childBody == template.Work() {
		t.Fatal("child body is the same pointer as the template's, Clone was not used")
	}
	if childBody.n != 7 {
		t.Fatalf("cloned body n = %d, want 7", childBody.n)
	}
}
