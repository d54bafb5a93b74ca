package record

import "taskengine/internal/eventbus"

// SpawnFrom builds a fresh, queued Record from a template record, for the
// Recurring Engine: a new task_id, parent_id set to the recurrence's id,
// and every lifecycle field reset, while the work's configuration is
// duplicated via Body.Clone (or reused as-is for stateless bodies).
func SpawnFrom(bus *eventbus.Bus, recurringID string, template *Record) *Record {
	template.mu.Lock()
	semaphoreName := template.semaphoreName
	work := template.work
	template.mu.Unlock()
	return New(bus, recurringID, semaphoreName, CloneBody(work))
}
