package recurring

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskengine/internal/task/record"
)

// Info is a recurrence's externally visible state (spec §3's RecurringInfo
// entity).
type Info struct {
	RecurringID         string     `json:"recurring_id"`
	CronExpression      string     `json:"cron_expression"`
	MaxConcurrent       int        `json:"max_concurrent"`
	Enabled             bool       `json:"enabled"`
	NextRun             *time.Time `json:"next_run"`
	LastRun             *time.Time `json:"last_run"`
	TotalRuns           int        `json:"total_runs"`
	TotalFailures       int        `json:"total_failures"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	ActiveChildren      []string   `json:"active_children"`
}

// entry is the engine's internal, mutable record for one recurrence.
type entry struct {
	mu sync.Mutex

	recurringID    string
	cronExpression string
	schedule       cron.Schedule
	template       *record.Record

	maxConcurrent       int
	enabled             bool
	nextRun             *time.Time
	lastRun             *time.Time
	totalRuns           int
	totalFailures       int
	consecutiveFailures int
	activeChildren      map[string]struct{}
}

func (e *entry) snapshot() Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	children := make([]string, 0, len(e.activeChildren))
	for id := range e.activeChildren {
		children = append(children, id)
	}
	return Info{
		RecurringID:         e.recurringID,
		CronExpression:      e.cronExpression,
		MaxConcurrent:       e.maxConcurrent,
		Enabled:             e.enabled,
		NextRun:             e.nextRun,
		LastRun:             e.lastRun,
		TotalRuns:           e.totalRuns,
		TotalFailures:       e.totalFailures,
		ConsecutiveFailures: e.consecutiveFailures,
		ActiveChildren:      children,
	}
}
