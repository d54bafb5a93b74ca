package record

import "time"

// Snapshot is the externally visible state of a Task Record at a point in
// time. It is what gets published to the event bus and projected to JSON
// by the HTTP collaborator (spec §6's task snapshot fields).
type Snapshot struct {
	TaskID         string     `json:"task_id"`
	ParentID       string     `json:"parent_id,omitempty"`
	TaskType       string     `json:"task_type"`
	Status         Status     `json:"status"`
	Progress       int        `json:"progress"`
	SemaphoreName  string     `json:"semaphore_name"`
	Img            string     `json:"img,omitempty"`
	Heading        string     `json:"heading,omitempty"`
	Body           string     `json:"body,omitempty"`
	StartedAt      *time.Time `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	ErrorType      string     `json:"error_type,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	ErrorTraceback string     `json:"error_traceback,omitempty"`

	// Results is programmatic-only: it is never serialized over the wire
	// (it mirrors original_source's TaskUpdate model, which also omits it),
	// but callers holding a Go Snapshot value can still read it.
	Results any `json:"-"`
}

// Topic returns the event bus topic name this task publishes snapshots to.
func Topic(taskID string) string { return "task/" + taskID }
