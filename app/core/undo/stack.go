// Package undo keeps a bounded, process-local stack of inverse entries for
// committed task mutations. It only ever reverses task writes; projects and
// types are operator-supervised and stay out of scope.
package undo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"taskpilot/app/core/domain"
)

// ErrNothingToUndo is returned when the stack is empty.
var ErrNothingToUndo = errors.New("nothing to undo")

type EntryKind string

const (
	// EntryDeleteTasks reverses a creation: the listed ids are removed.
	EntryDeleteTasks EntryKind = "delete_tasks"
	// EntryUpsertTasks reverses an update or delete: the full prior
	// snapshots are restored by id.
	EntryUpsertTasks EntryKind = "upsert_tasks"
)

// Entry is one undoable step. Exactly the slice matching Kind is populated.
type Entry struct {
	Kind      EntryKind
	TaskIDs   []string
	Snapshots []domain.Task
	Label     string
	At        time.Time
}

const (
	DefaultDepth          = 20
	DefaultCollapseWindow = 5 * time.Second
)

// Stack is bounded: the oldest entries fall off beyond depth. Consecutive
// single-task upsert entries for the same task within the collapse window
// merge into one step, so autosave-style update bursts cost one undo.
type Stack struct {
	mu       sync.Mutex
	entries  []Entry
	depth    int
	collapse time.Duration
}

func NewStack(depth int, collapse time.Duration) *Stack {
	if depth <= 0 {
		depth = DefaultDepth
	}
	if collapse < 0 {
		collapse = DefaultCollapseWindow
	}
	return &Stack{depth: depth, collapse: collapse}
}

func (s *Stack) Push(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shouldCollapse(e) {
		// keep the older snapshot: undoing the burst restores the state
		// before the first update, not some intermediate one
		s.entries[len(s.entries)-1].At = e.At
		return
	}

	s.entries = append(s.entries, e)
	if len(s.entries) > s.depth {
		s.entries = s.entries[len(s.entries)-s.depth:]
	}
}

func (s *Stack) shouldCollapse(e Entry) bool {
	if len(s.entries) == 0 || s.collapse == 0 {
		return false
	}
	top := s.entries[len(s.entries)-1]
	if e.Kind != EntryUpsertTasks || top.Kind != EntryUpsertTasks {
		return false
	}
	if len(e.Snapshots) != 1 || len(top.Snapshots) != 1 {
		return false
	}
	if e.Snapshots[0].ID != top.Snapshots[0].ID {
		return false
	}
	return e.At.Sub(top.At) <= s.collapse
}

func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Undo pops the most recent entry and applies its inverse through the
// store. On failure the entry is pushed back so the user can retry.
func (s *Stack) Undo(ctx context.Context, store domain.TaskStore) (Entry, error) {
	s.mu.Lock()
	if len(s.entries) == 0 {
		s.mu.Unlock()
		return Entry{}, ErrNothingToUndo
	}
	entry := s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	s.mu.Unlock()

	var err error
	switch entry.Kind {
	case EntryDeleteTasks:
		err = store.DeleteTasks(ctx, entry.TaskIDs)
	case EntryUpsertTasks:
		err = store.RestoreTasks(ctx, entry.Snapshots)
	default:
		err = fmt.Errorf("unknown undo entry kind %q", entry.Kind)
	}
	if err != nil {
		s.mu.Lock()
		s.entries = append(s.entries, entry)
		s.mu.Unlock()
		return Entry{}, fmt.Errorf("undo %q: %w", entry.Label, err)
	}
	return entry, nil
}
