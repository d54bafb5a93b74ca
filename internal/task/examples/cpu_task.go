// Package examples provides the two demonstration Body implementations the
// host exposes via the example_cpu_task and example_io_task endpoints,
// ported from original_source/task.py's ExampleCPUTask and ExampleIOTask.
package examples

import (
	"context"
	"time"

	"taskengine/internal/task/record"
	"taskengine/internal/task/semaphore"
)

// CPUTask mimics a CPU-bound job: it uses the "single" semaphore class so
// only one instance runs at a time across the whole engine.
type CPUTask struct {
	Name      string
	SleepStep time.Duration
}

// NewCPUTask builds a CPUTask with the same defaults as the source
// (a 100ms per-iteration step, "Example Task" as the display name).
func NewCPUTask(name string) *CPUTask {
	if name == "" {
		name = "Example Task"
	}
	return &CPUTask{Name: name, SleepStep: 100 * time.Millisecond}
}

func (t *CPUTask) Kind() string { return "example_cpu_task" }

// Clone returns a fresh CPUTask with the same configuration, for the
// Recurring Engine to spawn from a template.
func (t *CPUTask) Clone() record.Body {
	cp := *t
	return &cp
}

func (t *CPUTask) Run(ctx context.Context, ctl *record.Control) error {
	ctl.SetBody("This is an example task. It runs for about 10 seconds and updates progress every 100ms.")
	ctl.SetHeading("Starting up...")
	ctl.SetProgress(-1)

	if err := sleepCtx(ctx, 3*time.Second); err != nil {
		return err
	}

	ctl.SetHeading(t.Name)

	step := t.SleepStep
	if step <= 0 {
		step = 100 * time.Millisecond
	}
	for i := 0; i < 100; i++ {
		ctl.SetProgress(i)
		if err := sleepCtx(ctx, step); err != nil {
			return err
		}
	}

	ctl.SetProgress(100)
	ctl.SetBody("Task completed successfully!")
	return nil
}

// sleepCtx sleeps for d or returns ctx.Err() early if ctx is cancelled
// first, so example bodies cooperate with cancellation like any other.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CPUTaskSemaphore is the class this body should be submitted under; the
// host's factory endpoint reads this when constructing the Task Record so
// the choice lives next to the body that needs it.
const CPUTaskSemaphore = semaphore.NameSingle
