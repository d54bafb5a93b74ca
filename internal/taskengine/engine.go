// Package taskengine wires the Event Bus, Semaphore Registry, Store,
// Scheduler, and Recurring Engine into the single programmatic entry point
// a host process constructs once and passes by reference (spec §9:
// "expose as a host-constructed engine passed by reference; provide a
// process-wide default only as a convenience wrapper").
package taskengine

import (
	"context"
	"time"

	"taskengine/internal/eventbus"
	"taskengine/internal/task/examples"
	"taskengine/internal/task/record"
	"taskengine/internal/task/recurring"
	"taskengine/internal/task/scheduler"
	"taskengine/internal/task/semaphore"
	"taskengine/internal/task/store"
	logx "taskengine/pkg/logx"
)

// Config bundles the engine's tunables. Zero-valued fields take the
// defaults of the component they configure.
type Config struct {
	GracePeriod       time.Duration
	MaxSucceededTasks int
	RecurringTick     time.Duration
	ExtraSemaphores   map[string]int
}

// Engine is the task engine's single programmatic surface.
type Engine struct {
	Bus       *eventbus.Bus
	Semaphore *semaphore.Registry
	Store     *store.Store
	Scheduler *scheduler.Scheduler
	Recurring *recurring.Engine

	log logx.Logger
}

// New constructs an Engine with all of its components wired together, but
// does not start the Recurring Engine's tick loop yet (call Start).
func New(log logx.Logger, cfg Config) *Engine {
	bus := eventbus.New()
	sems := semaphore.New()
	for name, capacity := range cfg.ExtraSemaphores {
		sems.Register(name, capacity)
	}

	st := store.New(cfg.MaxSucceededTasks)
	sched := scheduler.New(bus, st, sems, log, scheduler.Config{GracePeriod: cfg.GracePeriod})
	rec := recurring.New(bus, sched, log, nil, cfg.RecurringTick)

	return &Engine{
		Bus:       bus,
		Semaphore: sems,
		Store:     st,
		Scheduler: sched,
		Recurring: rec,
		log:       log,
	}
}

// Start begins the Recurring Engine's tick loop. The Scheduler accepts
// submissions as soon as New returns; only recurring spawning needs an
// explicit start.
func (e *Engine) Start() {
	e.Recurring.Start()
}

// Stop shuts the engine down: the Recurring Engine is stopped first (so no
// new submissions arrive while in-flight work drains), then the Scheduler
// is stopped, waiting up to its configured grace period.
func (e *Engine) Stop(ctx context.Context) error {
	_ = e.Recurring.Stop(ctx)
	return e.Scheduler.Stop(ctx)
}

// Submit creates a Task Record for work under semaphoreName and hands it
// to the Scheduler, returning the assigned task_id.
func (e *Engine) Submit(semaphoreName string, work record.Body) (string, error) {
	rec := record.New(e.Bus, "", semaphoreName, work)
	return e.Scheduler.Submit(rec)
}

// SubmitExampleCPUTask submits the example_cpu_task demonstration body.
func (e *Engine) SubmitExampleCPUTask(name string) (string, error) {
	return e.Submit(examples.CPUTaskSemaphore, examples.NewCPUTask(name))
}

// SubmitExampleIOTask submits the example_io_task demonstration body.
func (e *Engine) SubmitExampleIOTask() (string, error) {
	return e.Submit(examples.IOTaskSemaphore, examples.NewIOTask())
}

// Get returns the current snapshot for a task, or ok=false if unknown.
func (e *Engine) Get(taskID string) (record.Snapshot, bool) {
	rec := e.Store.Get(taskID)
	if rec == nil {
		return record.Snapshot{}, false
	}
	return rec.Snapshot(), true
}

// List returns every stored task's snapshot in insertion order.
func (e *Engine) List() []record.Snapshot {
	return e.Store.List()
}

// Delete removes a task from the Store and publishes task_removed. It does
// not cancel the task if it is still running: per the testable end-to-end
// deletion scenario, the task topic stays observable to existing
// subscribers until the body itself finishes.
func (e *Engine) Delete(taskID string) bool {
	if !e.Store.Delete(taskID) {
		return false
	}
	e.Scheduler.RemoveFromQueue(taskID)
	return true
}

// DeleteCompleted removes every done/failed task, reporting how many of
// each were removed.
func (e *Engine) DeleteCompleted() (deleted, failed int) {
	deleted, failed = e.Store.DeleteCompleted()
	// The Store doesn't report individual ids removed by this bulk call;
	// a queue_updated event is sufficient here since potentially many
	// individual task_removed events would otherwise fire in a burst.
	if deleted+failed > 0 {
		e.Scheduler.PublishQueueUpdated()
	}
	return deleted, failed
}

// Search returns task_ids whose record matches every criterion by
// equality.
func (e *Engine) Search(criteria map[string]string) []string {
	return e.Store.Search(store.Criteria(criteria))
}

// PruneSucceeded runs the Store's retention policy and publishes
// task_removed for anything it dropped.
func (e *Engine) PruneSucceeded() []string {
	removed := e.Store.PruneSucceeded()
	for _, id := range removed {
		e.Scheduler.RemoveFromQueue(id)
	}
	return removed
}

// CancelTask cancels a queued or running task. Not part of the HTTP
// surface in spec §6, but kept as a programmatic capability per §4.4.
func (e *Engine) CancelTask(taskID string) error {
	return e.Scheduler.Cancel(taskID)
}

// AddRecurring registers a new recurrence spawning work on cronExpr, capped
// at maxConcurrent simultaneous children.
func (e *Engine) AddRecurring(cronExpr, semaphoreName string, work record.Body, maxConcurrent int) (string, error) {
	template := record.New(e.Bus, "", semaphoreName, work)
	return e.Recurring.Add(cronExpr, template, maxConcurrent)
}
