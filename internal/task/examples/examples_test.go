package examples

import (
	"context"
	"os"
	"testing"
	"time"

	"taskengine/internal/eventbus"
	"taskengine/internal/task/record"
)

func TestCPUTaskKindAndDefaults(t *testing.T) {
	c := NewCPUTask("")
	if c.Name != "Example Task" {
		t.Fatalf("Name = %q, want default", c.Name)
	}
	if c.Kind() != "example_cpu_task" {
		t.Fatalf("Kind() = %q", c.Kind())
	}
	if CPUTaskSemaphore != "single" {
		t.Fatalf("CPUTaskSemaphore = %q, want single", CPUTaskSemaphore)
	}
}

func TestCPUTaskCloneIsIndependent(t *testing.T) {
	c := NewCPUTask("mine")
	cloned := c.Clone().(*CPUTask)
	cloned.Name = "other"
	if c.Name != "mine" {
		t.Fatalf("original mutated through clone: %q", c.Name)
	}
}

func TestCPUTaskRunRespectsCancellation(t *testing.T) {
	c := NewCPUTask("x")
	bus := eventbus.New()
	rec := record.New(bus, "", "single", c)

	ctx, cancel := context.WithCancel(context.Background())
	ctl := record.NewControl(ctx, rec)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, ctl) }()

	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Run returned nil after immediate cancellation, want ctx.Err()")
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not observe cancellation during its initial sleep")
	}
}

func TestIOTaskRunToCompletionDrivesProgressViaHook(t *testing.T) {
	task := NewIOTask()
	task.SleepStep = time.Millisecond
	defer os.Remove(task.progressFile)

	bus := eventbus.New()
	rec := record.New(bus, "", "multiple", task)
	ctl := record.NewControl(context.Background(), rec)

	done := make(chan error, 1)
	go func() { done <- task.Run(context.Background(), ctl) }()

	// Sample the hook mid-run at least once; it should not error even if
	// the file briefly doesn't exist or is mid-write.
	task.ProgressHook(ctl)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("IOTask.Run did not complete in time")
	}

	if rec.Snapshot().Progress != 100 {
		t.Fatalf("final progress = %d, want 100", rec.Snapshot().Progress)
	}
	if _, err := os.Stat(task.progressFile); !os.IsNotExist(err) {
		t.Fatal("scratch progress file was not cleaned up")
	}
}

func TestIOTaskCloneGetsDistinctScratchFile(t *testing.T) {
	task := NewIOTask()
	cloned := task.Clone().(*IOTask)
	if cloned.progressFile == task.progressFile {
		t.Fatal("clone reused the template's scratch file path")
	}
}

func TestIOTaskProgressHookIgnoresUnreadableFile(t *testing.T) {
	task := NewIOTask() // progressFile does not exist yet
	bus := eventbus.New()
	rec := record.New(bus, "", "multiple", task)
	ctl := record.NewControl(context.Background(), rec)

	task.ProgressHook(ctl) // must not panic or set progress from a missing file

	if rec.Snapshot().Progress != 0 {
		t.Fatalf("progress = %d, want unchanged 0 when scratch file is missing", rec.Snapshot().Progress)
	}
}
