// Package store implements the Store: an indexed, insertion-ordered
// collection of Task Records with attribute search, deletion, and
// automatic pruning of succeeded tasks beyond a retention cap.
package store

import (
	"sort"
	"sync"
	"time"

	"taskengine/internal/task/record"
)

// DefaultMaxSucceeded is the default retention cap for status=done
// records, per spec §4.5.
const DefaultMaxSucceeded = 10

// Store is an in-memory index of Task Records keyed by task_id, retaining
// insertion order for List.
type Store struct {
	mu           sync.Mutex
	order        []string
	records      map[string]*record.Record
	maxSucceeded int
}

// New builds an empty Store. maxSucceeded <= 0 uses DefaultMaxSucceeded.
func New(maxSucceeded int) *Store {
	if maxSucceeded <= 0 {
		maxSucceeded = DefaultMaxSucceeded
	}
	return &Store{
		maxSucceeded: maxSucceeded,
		records:      make(map[string]*record.Record),
	}
}

// Insert adds rec to the store, appending it to insertion order. Inserting
// a task_id already present replaces the record in place without moving
// its position.
func (s *Store) Insert(rec *record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := rec.TaskID()
	if _, exists := s.records[id]; !exists {
		s.order = append(s.order, id)
	}
	s.records[id] = rec
}

// Get returns the record for id, or nil if absent.
func (s *Store) Get(id string) *record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

// List returns snapshots of every stored record in insertion order.
func (s *Store) List() []record.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]record.Snapshot, 0, len(s.order))
	for _, id := range s.order {
		if rec, ok := s.records[id]; ok {
			out = append(out, rec.Snapshot())
		}
	}
	return out
}

// Delete removes id, reporting whether it was present.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id)
}

func (s *Store) deleteLocked(id string) bool {
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	for i, cur := range s.order {
		if cur == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// DeleteCompleted removes every record in a terminal state, reporting how
// many were done vs failed.
func (s *Store) DeleteCompleted() (deleted, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var toDelete []string
	for _, id := range s.order {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		st := rec.Status()
		switch st {
		case record.StatusDone:
			deleted++
			toDelete = append(toDelete, id)
		case record.StatusFailed:
			failed++
			toDelete = append(toDelete, id)
		}
	}
	for _, id := range toDelete {
		s.deleteLocked(id)
	}
	return deleted, failed
}

// Criteria is an equality search: every key/value pair must match the
// corresponding Snapshot field for a task_id to be returned. Unknown
// attribute names match nothing, per spec §4.5.
type Criteria map[string]string

// Search returns task_ids whose record matches every criterion by
// equality. It switches explicitly over known Snapshot field names
// rather than reflecting on the struct, so an unrecognized key always
// yields no matches instead of a reflection-based guess.
func (s *Store) Search(criteria Criteria) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, id := range s.order {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		if matches(rec.Snapshot(), criteria) {
			out = append(out, id)
		}
	}
	return out
}

func matches(snap record.Snapshot, criteria Criteria) bool {
	for attr, want := range criteria {
		got, known := field(snap, attr)
		if !known || got != want {
			return false
		}
	}
	return true
}

// field reads one named attribute off a snapshot, returning ok=false for
// any name the engine does not recognize.
func field(snap record.Snapshot, attr string) (value string, ok bool) {
	switch attr {
	case "task_id":
		return snap.TaskID, true
	case "parent_id":
		return snap.ParentID, true
	case "task_type":
		return snap.TaskType, true
	case "status":
		return string(snap.Status), true
	case "semaphore_name":
		return snap.SemaphoreName, true
	case "heading":
		return snap.Heading, true
	case "body":
		return snap.Body, true
	case "img":
		return snap.Img, true
	case "error_type":
		return snap.ErrorType, true
	default:
		return "", false
	}
}

// PruneSucceeded keeps at most maxSucceeded records with status=done,
// preferring the ones with the latest completed_at. Records with
// status=done and a nil completed_at are dropped first (spec §9's open
// question resolves these as drop-eligible bugs). Failed and non-terminal
// records are never touched. Returns the task_ids removed.
func (s *Store) PruneSucceeded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	type candidate struct {
		id          string
		completedAt *time.Time
	}
	var done []candidate
	for _, id := range s.order {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		if rec.Status() != record.StatusDone {
			continue
		}
		snap := rec.Snapshot()
		done = append(done, candidate{id: id, completedAt: snap.CompletedAt})
	}

	if len(done) <= s.maxSucceeded {
		return nil
	}

	// nil completed_at sorts first (dropped first), then oldest completed_at
	// first, so the tail of the slice after trimming to maxSucceeded is the
	// set we keep (latest completions).
	sort.SliceStable(done, func(i, j int) bool {
		a, b := done[i].completedAt, done[j].completedAt
		if a == nil && b == nil {
			return false
		}
		if a == nil {
			return true
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})

	removeCount := len(done) - s.maxSucceeded
	toRemove := done[:removeCount]

	removed := make([]string, 0, len(toRemove))
	for _, c := range toRemove {
		if s.deleteLocked(c.id) {
			removed = append(removed, c.id)
		}
	}
	return removed
}

// Len reports the current number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
