package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskpilot/app/core/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := NewSQLiteDB(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func baseTask(title string) domain.Task {
	return domain.Task{
		Title:     title,
		ProjectID: "proj-inbox",
		TypeID:    "type-general",
		Start:     time.Date(2026, 9, 2, 9, 0, 0, 0, time.Local),
	}
}

func TestCreateAndGetTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateTask(ctx, baseTask("Write minutes"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a generated id")
	}
	if created.Status != domain.StatusNotDone {
		t.Fatalf("default status = %s", created.Status)
	}
	if created.Recurrence.Pattern != domain.RecurrenceNone {
		t.Fatalf("default recurrence = %s", created.Recurrence.Pattern)
	}
	if created.CompletedAt != nil {
		t.Fatal("a fresh NOT_DONE task has no completion time")
	}

	got, err := s.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Write minutes" || !got.Start.Equal(created.Start) {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, created)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateTask(ctx, domain.Task{ProjectID: "proj-inbox", TypeID: "type-general", Start: time.Now()}); err == nil {
		t.Fatal("empty title must be rejected")
	}

	task := baseTask("x")
	task.ProjectID = "proj-ghost"
	if _, err := s.CreateTask(ctx, task); !errors.Is(err, domain.ErrInvalidReference) {
		t.Fatalf("dangling project: %v", err)
	}

	task = baseTask("x")
	task.TypeID = "type-ghost"
	if _, err := s.CreateTask(ctx, task); !errors.Is(err, domain.ErrInvalidReference) {
		t.Fatalf("dangling type: %v", err)
	}

	task = baseTask("x")
	end := task.Start.Add(-time.Hour)
	task.End = &end
	if _, err := s.CreateTask(ctx, task); !errors.Is(err, domain.ErrInvalidTimeRange) {
		t.Fatalf("end before start: %v", err)
	}

	task = baseTask("x")
	task.Start = time.Time{}
	if _, err := s.CreateTask(ctx, task); err == nil {
		t.Fatal("missing start must be rejected")
	}
}

func TestUpdateTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateTask(ctx, baseTask("Stand-up"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.UpdateTask(ctx, created.ID, domain.TaskChanges{}); !errors.Is(err, domain.ErrEmptyChange) {
		t.Fatalf("empty change set: %v", err)
	}
	if _, err := s.UpdateTask(ctx, "missing", domain.TaskChanges{Title: strPtr("x")}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown id: %v", err)
	}

	title := "Daily stand-up"
	done := domain.StatusDone
	updated, err := s.UpdateTask(ctx, created.ID, domain.TaskChanges{Title: &title, Status: &done})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != title || updated.Status != domain.StatusDone {
		t.Fatalf("changes not applied: %+v", updated)
	}
	if updated.CompletedAt == nil {
		t.Fatal("DONE must stamp a completion time")
	}

	// leaving DONE forgets the completion time
	notDone := domain.StatusNotDone
	updated, err = s.UpdateTask(ctx, created.ID, domain.TaskChanges{Status: &notDone})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.CompletedAt != nil {
		t.Fatal("NOT_DONE must clear the completion time")
	}

	// clearing the end beats setting it
	end := created.Start.Add(time.Hour)
	if _, err := s.UpdateTask(ctx, created.ID, domain.TaskChanges{End: &end}); err != nil {
		t.Fatalf("set end: %v", err)
	}
	updated, err = s.UpdateTask(ctx, created.ID, domain.TaskChanges{ClearEnd: true})
	if err != nil {
		t.Fatalf("clear end: %v", err)
	}
	if updated.End != nil {
		t.Fatal("end not cleared")
	}

	badEnd := created.Start.Add(-time.Hour)
	if _, err := s.UpdateTask(ctx, created.ID, domain.TaskChanges{End: &badEnd}); !errors.Is(err, domain.ErrInvalidTimeRange) {
		t.Fatalf("inverted range: %v", err)
	}
}

func TestDeleteAndRestoreTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, _ := s.CreateTask(ctx, baseTask("one"))
	b, _ := s.CreateTask(ctx, baseTask("two"))

	if err := s.DeleteTask(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteTask(ctx, a.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("double delete: %v", err)
	}

	if err := s.DeleteTasks(ctx, []string{b.ID}); err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if err := s.RestoreTasks(ctx, []domain.Task{a, b}); err != nil {
		t.Fatalf("restore: %v", err)
	}

	for _, id := range []string{a.ID, b.ID} {
		got, err := s.GetTask(ctx, id)
		if err != nil {
			t.Fatalf("get restored %s: %v", id, err)
		}
		if got.ID != id {
			t.Fatalf("restored wrong row: %+v", got)
		}
	}

	// restoring over a live row overwrites it
	a.Title = "one, as it was"
	if err := s.RestoreTasks(ctx, []domain.Task{a}); err != nil {
		t.Fatalf("restore over live row: %v", err)
	}
	got, _ := s.GetTask(ctx, a.ID)
	if got.Title != "one, as it was" {
		t.Fatalf("restore did not overwrite: %q", got.Title)
	}
}

func TestListTasksFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AddProject(ctx, domain.Project{ID: "proj-work", Name: "Deep Work", Active: true}); err != nil {
		t.Fatalf("add project: %v", err)
	}

	plain, _ := s.CreateTask(ctx, baseTask("Buy milk"))
	workTask := baseTask("Refactor importer")
	workTask.ProjectID = "proj-work"
	work, _ := s.CreateTask(ctx, workTask)
	doneTask := baseTask("Archive inbox")
	doneTask.Status = domain.StatusDone
	archived, _ := s.CreateTask(ctx, doneTask)

	got, err := s.ListTasks(ctx, domain.TaskFilter{ProjectID: "proj-work"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != work.ID {
		t.Fatalf("project filter: %+v", got)
	}

	status := domain.StatusDone
	got, _ = s.ListTasks(ctx, domain.TaskFilter{Status: &status})
	if len(got) != 1 || got[0].ID != archived.ID {
		t.Fatalf("status filter: %+v", got)
	}

	// keyword matches resolved project names too
	got, _ = s.ListTasks(ctx, domain.TaskFilter{Keyword: "deep work"})
	if len(got) != 1 || got[0].ID != work.ID {
		t.Fatalf("keyword via project name: %+v", got)
	}

	got, _ = s.ListTasks(ctx, domain.TaskFilter{Keyword: "milk"})
	if len(got) != 1 || got[0].ID != plain.ID {
		t.Fatalf("keyword via title: %+v", got)
	}

	got, _ = s.ListTasks(ctx, domain.TaskFilter{Limit: 2})
	if len(got) != 2 {
		t.Fatalf("limit: got %d", len(got))
	}
}

func TestRemoveProjectProtection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RemoveProject(ctx, "proj-inbox"); !errors.Is(err, domain.ErrProtected) {
		t.Fatalf("default project must be protected: %v", err)
	}

	if err := s.AddProject(ctx, domain.Project{ID: "proj-tmp", Name: "Temp", Active: true}); err != nil {
		t.Fatalf("add: %v", err)
	}
	task := baseTask("occupies temp")
	task.ProjectID = "proj-tmp"
	created, _ := s.CreateTask(ctx, task)

	if err := s.RemoveProject(ctx, "proj-tmp"); !errors.Is(err, domain.ErrProtected) {
		t.Fatalf("non-empty project must be protected: %v", err)
	}
	if err := s.DeleteTask(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.RemoveProject(ctx, "proj-tmp"); err != nil {
		t.Fatalf("empty non-default project should remove: %v", err)
	}
}

func TestLoadSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateTask(ctx, baseTask("snap me")); err != nil {
		t.Fatalf("create: %v", err)
	}
	snap, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Tasks) != 1 || len(snap.Projects) != 1 || len(snap.Types) != 1 {
		t.Fatalf("snapshot counts: %d tasks, %d projects, %d types",
			len(snap.Tasks), len(snap.Projects), len(snap.Types))
	}
	if snap.Now.IsZero() {
		t.Fatal("snapshot must carry a clock")
	}
	if snap.ProjectName("proj-inbox") != "Inbox" || snap.TypeName("type-general") != "General" {
		t.Fatal("snapshot name lookups broken")
	}
}

func strPtr(s string) *string { return &s }
