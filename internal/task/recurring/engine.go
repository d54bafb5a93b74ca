// Package recurring implements the Recurring Engine: periodic spawning of
// task instances from a template, gated per-recurrence by a concurrency
// cap, with next-fire times computed by a standard cron schedule (spec
// §4.6).
package recurring

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"taskengine/internal/eventbus"
	"taskengine/internal/runtime/supervisor"
	"taskengine/internal/task/record"
	logx "taskengine/pkg/logx"
)

// DefaultTickInterval is the engine's polling cadence, injectable via
// Clock for tests.
const DefaultTickInterval = 1 * time.Second

var (
	// ErrNotFound is returned by operations addressing an unknown
	// recurring_id.
	ErrNotFound = errors.New("recurring: not found")
	// ErrBadRequest is returned for a malformed cron expression or a
	// non-positive max_concurrent.
	ErrBadRequest = errors.New("recurring: bad request")
)

// submitter is the subset of *scheduler.Scheduler this package depends on,
// declared locally to avoid an import cycle concern and to keep the
// engine testable against a fake.
type submitter interface {
	Submit(rec *record.Record) (string, error)
}

// Engine ticks on a fixed interval, spawning cloned tasks from enabled
// recurrence templates and tracking their completion.
type Engine struct {
	bus       *eventbus.Bus
	scheduler submitter
	parser    cron.Parser
	log       logx.Logger
	sup       *supervisor.Supervisor
	clock     func() time.Time
	tick      time.Duration

	startOnce sync.Once

	mu      sync.Mutex
	entries map[string]*entry
}

// New builds a recurring Engine. clock defaults to time.Now if nil;
// tickInterval defaults to DefaultTickInterval if zero.
func New(bus *eventbus.Bus, sched submitter, log logx.Logger, clock func() time.Time, tickInterval time.Duration) *Engine {
	if clock == nil {
		clock = time.Now
	}
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	return &Engine{
		bus:       bus,
		scheduler: sched,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		log:       log,
		sup:       supervisor.NewSupervisor(context.Background(), supervisor.WithLogger(log)),
		clock:     clock,
		tick:      tickInterval,
		entries:   make(map[string]*entry),
	}
}

// Start begins the tick loop. Calling Start twice has no additional
// effect.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.sup.Go0("recurring-tick", e.runLoop)
	})
}

// Stop halts the tick loop. It does not touch active children: per spec
// §9's resolved open question, stopping/disabling a recurrence never
// cancels tasks it already spawned.
func (e *Engine) Stop(ctx context.Context) error {
	return e.sup.Stop(ctx)
}

func (e *Engine) runLoop(ctx context.Context) {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tickOnce()
		}
	}
}

// tickOnce fires at most one spawn per enabled, due entry, mirroring the
// source scheduler: a tick that finds next_run in the past spawns once
// and recomputes next_run from the current moment rather than walking
// forward through every missed fire (spec §4.6's no-backfill rule).
func (e *Engine) tickOnce() {
	now := e.clock()

	e.mu.Lock()
	due := make([]*entry, 0, len(e.entries))
	for _, en := range e.entries {
		due = append(due, en)
	}
	e.mu.Unlock()

	for _, en := range due {
		e.maybeSpawn(en, now)
	}
}

func (e *Engine) maybeSpawn(en *entry, now time.Time) {
	en.mu.Lock()
	canRun := en.enabled && en.nextRun != nil && !en.nextRun.After(now) && len(en.activeChildren) < en.maxConcurrent
	if !canRun {
		en.mu.Unlock()
		return
	}
	template := en.template
	recurringID := en.recurringID
	en.mu.Unlock()

	child := record.SpawnFrom(e.bus, recurringID, template)
	if _, err := e.scheduler.Submit(child); err != nil {
		if !e.log.IsZero() {
			e.log.Warn("recurring spawn failed", logx.String("recurring_id", recurringID), logx.Err(err))
		}
		return
	}
	en.mu.Lock()
	en.lastRun = &now
	en.totalRuns++
	next := en.schedule.Next(now)
	en.nextRun = &next
	en.activeChildren[child.TaskID()] = struct{}{}
	en.mu.Unlock()

	// watchChild must not start until the child is recorded in
	// activeChildren above: its terminal-event goroutine can delete the
	// entry as soon as the child finishes, and if that raced ahead of the
	// insert the slot would be reinserted and never freed.
	e.watchChild(en, child.TaskID())
}

// watchChild subscribes once to the spawned task's topic to observe its
// terminal event, updating the recurrence's counters and active_children
// set (spec §4.6 step 4).
func (e *Engine) watchChild(en *entry, taskID string) {
	sub := e.bus.Subscribe(record.Topic(taskID), 0)
	go func() {
		defer sub.Unsubscribe()
		for ev := range sub.Events() {
			snap, ok := ev.Data.(record.Snapshot)
			if !ok || !snap.Status.Terminal() {
				continue
			}
			en.mu.Lock()
			delete(en.activeChildren, taskID)
			if snap.Status == record.StatusFailed {
				en.totalFailures++
				en.consecutiveFailures++
			} else {
				en.consecutiveFailures = 0
			}
			en.mu.Unlock()
			return
		}
		// Channel closed without a terminal snapshot observed (e.g. the
		// subscriber was dropped for overflow): still free the slot so a
		// stuck child can't wedge the recurrence at its concurrency cap.
		en.mu.Lock()
		delete(en.activeChildren, taskID)
		en.mu.Unlock()
	}()
}

// Add registers a new recurrence from cronExpr and template, enabled
// immediately with next_run computed from now.
func (e *Engine) Add(cronExpr string, template *record.Record, maxConcurrent int) (string, error) {
	if maxConcurrent <= 0 {
		return "", ErrBadRequest
	}
	schedule, err := e.parser.Parse(cronExpr)
	if err != nil {
		return "", ErrBadRequest
	}

	now := e.clock()
	next := schedule.Next(now)
	id := uuid.NewString()
	en := &entry{
		recurringID:    id,
		cronExpression: cronExpr,
		schedule:       schedule,
		template:       template,
		maxConcurrent:  maxConcurrent,
		enabled:        true,
		nextRun:        &next,
		activeChildren: make(map[string]struct{}),
	}

	e.mu.Lock()
	e.entries[id] = en
	e.mu.Unlock()
	return id, nil
}

// Remove deletes a recurrence. Its active children keep running.
func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entries[id]; !ok {
		return ErrNotFound
	}
	delete(e.entries, id)
	return nil
}

// Enable re-arms a disabled recurrence, recomputing next_run from now.
func (e *Engine) Enable(id string) error {
	en, err := e.get(id)
	if err != nil {
		return err
	}
	now := e.clock()
	en.mu.Lock()
	en.enabled = true
	next := en.schedule.Next(now)
	en.nextRun = &next
	en.mu.Unlock()
	return nil
}

// Disable stops future spawns. Per spec §9 it intentionally does not
// cancel active_children.
func (e *Engine) Disable(id string) error {
	en, err := e.get(id)
	if err != nil {
		return err
	}
	en.mu.Lock()
	en.enabled = false
	en.nextRun = nil
	en.mu.Unlock()
	return nil
}

// Get returns a point-in-time snapshot of one recurrence.
func (e *Engine) Get(id string) (Info, error) {
	en, err := e.get(id)
	if err != nil {
		return Info{}, err
	}
	return en.snapshot(), nil
}

// List returns snapshots of every recurrence.
func (e *Engine) List() []Info {
	e.mu.Lock()
	entries := make([]*entry, 0, len(e.entries))
	for _, en := range e.entries {
		entries = append(entries, en)
	}
	e.mu.Unlock()

	out := make([]Info, 0, len(entries))
	for _, en := range entries {
		out = append(out, en.snapshot())
	}
	return out
}

func (e *Engine) get(id string) (*entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return en, nil
}
