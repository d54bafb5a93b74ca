package record

import "context"

// Body is opaque user code executed by a worker. The engine never
// inspects or reflects on its concrete type; Kind is the one piece of
// identity the engine needs (spec's "task_type"), and the body supplies it
// explicitly rather than the engine deriving it from a runtime class name.
type Body interface {
	// Kind names the concrete class of work, e.g. "example_cpu_task". It is
	// surfaced on the Task Record as TaskType.
	Kind() string

	// Run performs the work. ctx carries cancellation: when the owning
	// task is cancelled while running, ctx is cancelled and Run should
	// unwind as soon as practical. Run mutates the record through ctl.
	Run(ctx context.Context, ctl *Control) error
}

// ProgressHook is an optional capability a Body can implement to have the
// engine sample external progress on a fixed cadence (default 100ms)
// while Run is in flight, for bodies whose real progress lives outside the
// call stack (e.g. a file written to by a subprocess).
type ProgressHook interface {
	ProgressHook(ctl *Control)
}

// Cloner is an optional capability a Body can implement to control how it
// is duplicated when the Recurring Engine spawns a new instance from a
// template. Bodies that don't implement it are expected to be safe to
// reuse as a shared, read-only template (the common case: stateless
// bodies with only configuration fields).
type Cloner interface {
	Clone() Body
}

// CloneBody duplicates b for a new task instance, using its Clone method
// if present.
func CloneBody(b Body) Body {
	if c, ok := b.(Cloner); ok {
		return c.Clone()
	}
	return b
}
