package domain

import (
	"testing"
	"time"
)

func mkTask(id string, status Status, start time.Time, end *time.Time) Task {
	return Task{
		ID:        id,
		Title:     id,
		ProjectID: "p-1",
		TypeID:    "t-1",
		Status:    status,
		Start:     start,
		End:       end,
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 9, 1, hour, minute, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time {
	return &t
}

func TestDetectConflictsSymmetric(t *testing.T) {
	tasks := []Task{
		mkTask("a", StatusNotDone, at(9, 0), ptr(at(10, 0))),
		mkTask("b", StatusNotDone, at(9, 30), ptr(at(11, 0))),
		mkTask("c", StatusNotDone, at(14, 0), ptr(at(15, 0))),
	}
	conflicts := DetectConflicts(tasks)

	if len(conflicts["a"]) != 1 || conflicts["a"][0] != "b" {
		t.Fatalf("expected a to conflict with b, got %v", conflicts["a"])
	}
	if len(conflicts["b"]) != 1 || conflicts["b"][0] != "a" {
		t.Fatalf("expected b to conflict with a, got %v", conflicts["b"])
	}
	if _, ok := conflicts["c"]; ok {
		t.Fatalf("expected c to have no conflicts, got %v", conflicts["c"])
	}
}

func TestDetectConflictsNeverSelf(t *testing.T) {
	tasks := []Task{mkTask("a", StatusNotDone, at(9, 0), ptr(at(10, 0)))}
	conflicts := DetectConflicts(tasks)
	if len(conflicts) != 0 {
		t.Fatalf("a lone task must not conflict: %v", conflicts)
	}
}

func TestDetectConflictsTouchingBoundary(t *testing.T) {
	// inclusive bounds: a.end == b.start counts as a conflict
	tasks := []Task{
		mkTask("a", StatusNotDone, at(9, 0), ptr(at(10, 0))),
		mkTask("b", StatusNotDone, at(10, 0), ptr(at(11, 0))),
	}
	conflicts := DetectConflicts(tasks)
	if len(conflicts["a"]) != 1 || len(conflicts["b"]) != 1 {
		t.Fatalf("touching endpoints must conflict, got %v", conflicts)
	}
}

func TestDetectConflictsIgnoresDone(t *testing.T) {
	tasks := []Task{
		mkTask("a", StatusDone, at(9, 0), ptr(at(10, 0))),
		mkTask("b", StatusNotDone, at(9, 0), ptr(at(10, 0))),
	}
	conflicts := DetectConflicts(tasks)
	if len(conflicts) != 0 {
		t.Fatalf("DONE tasks must not participate, got %v", conflicts)
	}
}

func TestDetectConflictsEndDefaultsToStart(t *testing.T) {
	tasks := []Task{
		mkTask("a", StatusNotDone, at(9, 30), nil),
		mkTask("b", StatusOnHold, at(9, 0), ptr(at(10, 0))),
		mkTask("c", StatusNotDone, at(11, 0), nil),
	}
	conflicts := DetectConflicts(tasks)
	if len(conflicts["a"]) != 1 || conflicts["a"][0] != "b" {
		t.Fatalf("instant task inside b's interval must conflict, got %v", conflicts)
	}
	if _, ok := conflicts["c"]; ok {
		t.Fatalf("instant task outside any interval must not conflict, got %v", conflicts["c"])
	}
}

func TestDetectConflictsClampsInvertedEnd(t *testing.T) {
	// an end before start is clamped up to start instead of producing a
	// negative interval
	inverted := mkTask("a", StatusNotDone, at(10, 0), ptr(at(9, 0)))
	tasks := []Task{
		inverted,
		mkTask("b", StatusNotDone, at(9, 30), ptr(at(9, 45))),
	}
	conflicts := DetectConflicts(tasks)
	if len(conflicts) != 0 {
		t.Fatalf("clamped interval [10:00,10:00] must not reach back to 09:30: %v", conflicts)
	}
}

func TestOverlapsInclusive(t *testing.T) {
	if !Overlaps(at(9, 0), at(10, 0), at(10, 0), at(11, 0)) {
		t.Fatal("touching bounds must overlap")
	}
	if Overlaps(at(9, 0), at(10, 0), at(10, 1), at(11, 0)) {
		t.Fatal("disjoint intervals must not overlap")
	}
}
