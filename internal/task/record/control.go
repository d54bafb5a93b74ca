package record

import "context"

// Control is the mutation surface a Body sees while it runs. Every setter
// is safe to call from the goroutine running Body.Run and, concurrently,
// from a ProgressHook sampling goroutine.
type Control struct {
	ctx context.Context
	rec *Record
}

// NewControl builds the Control a worker passes into Body.Run and
// ProgressHook for one execution of rec under ctx.
func NewControl(ctx context.Context, rec *Record) *Control {
	return &Control{ctx: ctx, rec: rec}
}

// Context returns the task's cancellation context. A body that ignores it
// cannot be cancelled while running; bodies doing blocking I/O should pass
// it down (e.g. http.NewRequestWithContext).
func (c *Control) Context() context.Context { return c.ctx }

// SetProgress updates the progress indicator and publishes (subject to
// coalescing). pct is 0-100, or -1 for indeterminate (the UI animates
// rather than showing a percentage) — anything below -1 clamps to -1,
// anything above 100 clamps to 100.
func (c *Control) SetProgress(pct int) {
	if pct < -1 {
		pct = -1
	}
	if pct > 100 {
		pct = 100
	}
	c.rec.setProgress(pct)
}

// SetHeading updates the short human-readable title.
func (c *Control) SetHeading(s string) { c.rec.setHeading(s) }

// SetBody updates the long-form human-readable description.
func (c *Control) SetBody(s string) { c.rec.setBody(s) }

// SetImg updates the thumbnail/illustration reference.
func (c *Control) SetImg(s string) { c.rec.setImg(s) }

// SetResults attaches the body's output value. It does not trigger a
// publish of its own and Results is never serialized to JSON; the value
// rides along on later published snapshots, and callers read it through
// the Store after the task reaches a terminal state.
func (c *Control) SetResults(v any) { c.rec.setResults(v) }

// MarkFailed lets a body declare failure explicitly, with a reason, rather
// than returning an error from Run. The worker still owns the moment the
// terminal transition is committed (spec §4.2 step 3): it observes this
// mark after Run returns and calls Finish accordingly rather than treating
// a nil error as success.
func (c *Control) MarkFailed(errType, message string) {
	c.rec.MarkFailedByBody(errType, message)
}
