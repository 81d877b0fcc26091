package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"taskpilot/app/core/domain"
)

const defaultListLimit = 200

// Store is the sqlite-backed persistence collaborator. It implements
// domain.TaskStore and additionally provides the frozen snapshot one agent
// run observes.
type Store struct {
	db *DB
}

func NewStore(database *DB) *Store {
	return &Store{db: database}
}

const taskColumns = `id, title, body, project_id, type_id, status, start_at, end_at, important, created_at, updated_at, completed_at, recur_pattern, COALESCE(recur_group_id, ''), recur_index`

func (s *Store) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return domain.Task{}, fmt.Errorf("title is required")
	}
	if t.Status == "" {
		t.Status = domain.StatusNotDone
	}
	if _, ok := domain.ParseStatus(string(t.Status)); !ok {
		return domain.Task{}, fmt.Errorf("invalid status: %s", t.Status)
	}
	if t.Recurrence.Pattern == "" {
		t.Recurrence.Pattern = domain.RecurrenceNone
	}
	if err := s.checkReferences(ctx, t.ProjectID, t.TypeID); err != nil {
		return domain.Task{}, err
	}
	if t.Start.IsZero() {
		return domain.Task{}, fmt.Errorf("start is required")
	}
	if t.End != nil && t.End.Before(t.Start) {
		return domain.Task{}, domain.ErrInvalidTimeRange
	}

	now := normTime(time.Now())
	if t.ID == "" {
		t.ID = strings.ToLower(ulid.Make().String())
	}
	t.Start = normTime(t.Start)
	t.End = normTimePtr(t.End)
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == domain.StatusDone {
		t.CompletedAt = &now
	} else {
		t.CompletedAt = nil
	}

	query := `INSERT INTO tasks (id, title, body, project_id, type_id, status, start_at, end_at, important, created_at, updated_at, completed_at, recur_pattern, recur_group_id, recur_index)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Conn().ExecContext(ctx, query,
		t.ID, t.Title, t.Body, t.ProjectID, t.TypeID, string(t.Status),
		t.Start.Unix(), unixPtr(t.End), boolInt(t.Important),
		t.CreatedAt.Unix(), t.UpdatedAt.Unix(), unixPtr(t.CompletedAt),
		string(t.Recurrence.Pattern), nullString(t.Recurrence.GroupID), t.Recurrence.Index,
	)
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := s.db.Conn().QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (s *Store) UpdateTask(ctx context.Context, id string, changes domain.TaskChanges) (domain.Task, error) {
	if changes.Empty() {
		return domain.Task{}, domain.ErrEmptyChange
	}
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}

	if changes.Title != nil {
		title := strings.TrimSpace(*changes.Title)
		if title == "" {
			return domain.Task{}, fmt.Errorf("title is required")
		}
		t.Title = title
	}
	if changes.Body != nil {
		t.Body = *changes.Body
	}
	if changes.ProjectID != nil {
		t.ProjectID = *changes.ProjectID
	}
	if changes.TypeID != nil {
		t.TypeID = *changes.TypeID
	}
	if changes.Status != nil {
		if _, ok := domain.ParseStatus(string(*changes.Status)); !ok {
			return domain.Task{}, fmt.Errorf("invalid status: %s", *changes.Status)
		}
		t.Status = *changes.Status
	}
	if changes.Start != nil {
		t.Start = normTime(*changes.Start)
	}
	if changes.ClearEnd {
		t.End = nil
	} else if changes.End != nil {
		t.End = normTimePtr(changes.End)
	}
	if changes.Important != nil {
		t.Important = *changes.Important
	}

	if err := s.checkReferences(ctx, t.ProjectID, t.TypeID); err != nil {
		return domain.Task{}, err
	}
	if t.End != nil && t.End.Before(t.Start) {
		return domain.Task{}, domain.ErrInvalidTimeRange
	}

	now := normTime(time.Now())
	t.UpdatedAt = now
	if t.Status == domain.StatusDone {
		if t.CompletedAt == nil {
			t.CompletedAt = &now
		}
	} else {
		t.CompletedAt = nil
	}

	query := `UPDATE tasks SET title = ?, body = ?, project_id = ?, type_id = ?, status = ?, start_at = ?, end_at = ?, important = ?, updated_at = ?, completed_at = ? WHERE id = ?`
	if _, err := s.db.Conn().ExecContext(ctx, query,
		t.Title, t.Body, t.ProjectID, t.TypeID, string(t.Status),
		t.Start.Unix(), unixPtr(t.End), boolInt(t.Important),
		t.UpdatedAt.Unix(), unixPtr(t.CompletedAt), t.ID,
	); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.Conn().ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) ListTasks(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	var (
		clauses []string
		args    []interface{}
	)
	if filter.ProjectID != "" {
		clauses = append(clauses, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY updated_at DESC, id ASC"

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names nameIndex
	keyword := strings.ToLower(strings.TrimSpace(filter.Keyword))
	if keyword != "" {
		names, err = s.loadNameIndex(ctx)
		if err != nil {
			return nil, err
		}
	}

	items := make([]domain.Task, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		if keyword != "" && !matchesKeyword(t, keyword, names) {
			continue
		}
		items = append(items, t)
		if len(items) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeleteTasks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) RestoreTasks(ctx context.Context, tasks []domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO tasks (id, title, body, project_id, type_id, status, start_at, end_at, important, created_at, updated_at, completed_at, recur_pattern, recur_group_id, recur_index)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	title = excluded.title,
	body = excluded.body,
	project_id = excluded.project_id,
	type_id = excluded.type_id,
	status = excluded.status,
	start_at = excluded.start_at,
	end_at = excluded.end_at,
	important = excluded.important,
	created_at = excluded.created_at,
	updated_at = excluded.updated_at,
	completed_at = excluded.completed_at,
	recur_pattern = excluded.recur_pattern,
	recur_group_id = excluded.recur_group_id,
	recur_index = excluded.recur_index`
	for _, t := range tasks {
		if _, err := tx.ExecContext(ctx, query,
			t.ID, t.Title, t.Body, t.ProjectID, t.TypeID, string(t.Status),
			t.Start.Unix(), unixPtr(t.End), boolInt(t.Important),
			t.CreatedAt.Unix(), t.UpdatedAt.Unix(), unixPtr(t.CompletedAt),
			string(t.Recurrence.Pattern), nullString(t.Recurrence.GroupID), t.Recurrence.Index,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var (
		p                 domain.Project
		active, isDefault int
	)
	err := s.db.Conn().QueryRowContext(ctx, `SELECT id, name, color, active, is_default FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Color, &active, &isDefault)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Project{}, err
	}
	p.Active = active != 0
	p.Default = isDefault != 0
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context, activeOnly bool) ([]domain.Project, error) {
	query := `SELECT id, name, color, active, is_default FROM projects`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name ASC`
	rows, err := s.db.Conn().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Project
	for rows.Next() {
		var (
			p                 domain.Project
			active, isDefault int
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Color, &active, &isDefault); err != nil {
			return nil, err
		}
		p.Active = active != 0
		p.Default = isDefault != 0
		items = append(items, p)
	}
	return items, rows.Err()
}

func (s *Store) GetTaskType(ctx context.Context, id string) (domain.TaskType, error) {
	var (
		tt                domain.TaskType
		active, isDefault int
	)
	err := s.db.Conn().QueryRowContext(ctx, `SELECT id, name, color, active, is_default, sort_order FROM task_types WHERE id = ?`, id).
		Scan(&tt.ID, &tt.Name, &tt.Color, &active, &isDefault, &tt.SortOrder)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TaskType{}, fmt.Errorf("task type %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TaskType{}, err
	}
	tt.Active = active != 0
	tt.Default = isDefault != 0
	return tt, nil
}

func (s *Store) ListTaskTypes(ctx context.Context, activeOnly bool) ([]domain.TaskType, error) {
	query := `SELECT id, name, color, active, is_default, sort_order FROM task_types`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY sort_order ASC, name ASC`
	rows, err := s.db.Conn().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.TaskType
	for rows.Next() {
		var (
			tt                domain.TaskType
			active, isDefault int
		)
		if err := rows.Scan(&tt.ID, &tt.Name, &tt.Color, &active, &isDefault, &tt.SortOrder); err != nil {
			return nil, err
		}
		tt.Active = active != 0
		tt.Default = isDefault != 0
		items = append(items, tt)
	}
	return items, rows.Err()
}

// AddProject and AddTaskType exist for setup and tests; the agent never
// mutates projects or types.
func (s *Store) AddProject(ctx context.Context, p domain.Project) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO projects (id, name, color, active, is_default) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Color, boolInt(p.Active), boolInt(p.Default))
	return err
}

func (s *Store) AddTaskType(ctx context.Context, tt domain.TaskType) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO task_types (id, name, color, active, is_default, sort_order) VALUES (?, ?, ?, ?, ?, ?)`,
		tt.ID, tt.Name, tt.Color, boolInt(tt.Active), boolInt(tt.Default), tt.SortOrder)
	return err
}

func (s *Store) RemoveProject(ctx context.Context, id string) error {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if p.Default {
		return fmt.Errorf("project %s is the default: %w", id, domain.ErrProtected)
	}
	var count int
	if err := s.db.Conn().QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE project_id = ?`, id).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("project %s has %d tasks: %w", id, count, domain.ErrProtected)
	}
	_, err = s.db.Conn().ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	return err
}

// LoadSnapshot freezes the view of the store for one agent run.
func (s *Store) LoadSnapshot(ctx context.Context) (domain.Snapshot, error) {
	tasks, err := s.ListTasks(ctx, domain.TaskFilter{})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load tasks: %w", err)
	}
	projects, err := s.ListProjects(ctx, true)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load projects: %w", err)
	}
	types, err := s.ListTaskTypes(ctx, true)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load task types: %w", err)
	}
	return domain.Snapshot{
		Now:      time.Now(),
		Tasks:    tasks,
		Projects: projects,
		Types:    types,
	}, nil
}

func (s *Store) checkReferences(ctx context.Context, projectID, typeID string) error {
	if strings.TrimSpace(projectID) == "" {
		return fmt.Errorf("project id is required: %w", domain.ErrInvalidReference)
	}
	if strings.TrimSpace(typeID) == "" {
		return fmt.Errorf("type id is required: %w", domain.ErrInvalidReference)
	}
	if _, err := s.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("project %s does not exist: %w", projectID, domain.ErrInvalidReference)
		}
		return err
	}
	if _, err := s.GetTaskType(ctx, typeID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("task type %s does not exist: %w", typeID, domain.ErrInvalidReference)
		}
		return err
	}
	return nil
}

type nameIndex struct {
	projects map[string]string
	types    map[string]string
}

func (s *Store) loadNameIndex(ctx context.Context) (nameIndex, error) {
	idx := nameIndex{
		projects: map[string]string{},
		types:    map[string]string{},
	}
	projects, err := s.ListProjects(ctx, false)
	if err != nil {
		return idx, err
	}
	for _, p := range projects {
		idx.projects[p.ID] = p.Name
	}
	types, err := s.ListTaskTypes(ctx, false)
	if err != nil {
		return idx, err
	}
	for _, tt := range types {
		idx.types[tt.ID] = tt.Name
	}
	return idx, nil
}

func matchesKeyword(t domain.Task, keyword string, names nameIndex) bool {
	fields := []string{t.Title, t.Body, names.projects[t.ProjectID], names.types[t.TypeID]}
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), keyword) {
			return true
		}
	}
	return false
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t                    domain.Task
		status, pattern      string
		startAt              int64
		endAt, completedAt   sql.NullInt64
		important            int
		createdAt, updatedAt int64
		groupID              string
	)
	if err := row.Scan(
		&t.ID, &t.Title, &t.Body, &t.ProjectID, &t.TypeID, &status,
		&startAt, &endAt, &important, &createdAt, &updatedAt, &completedAt,
		&pattern, &groupID, &t.Recurrence.Index,
	); err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.Status(status)
	t.Start = time.Unix(startAt, 0)
	if endAt.Valid {
		end := time.Unix(endAt.Int64, 0)
		t.End = &end
	}
	t.Important = important != 0
	t.CreatedAt = time.Unix(createdAt, 0)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	if completedAt.Valid {
		done := time.Unix(completedAt.Int64, 0)
		t.CompletedAt = &done
	}
	t.Recurrence.Pattern = domain.RecurrencePattern(pattern)
	t.Recurrence.GroupID = groupID
	return t, nil
}

func normTime(t time.Time) time.Time {
	return time.Unix(t.Unix(), 0)
}

func normTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := normTime(*t)
	return &n
}

func unixPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// SortTasksByStart is a display helper for the CLI task listing.
func SortTasksByStart(tasks []domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Start.Equal(tasks[j].Start) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].Start.Before(tasks[j].Start)
	})
}
