package domain

import "context"

// TaskFilter narrows ListTasks. Keyword matches case-insensitively across
// title, body, resolved project name and resolved type name. A zero Limit
// falls back to the store default.
type TaskFilter struct {
	Keyword   string
	ProjectID string
	Status    *Status
	Limit     int
}

// TaskStore is the persistence collaborator the applier, the undo stack and
// the snapshot provider talk to. Implementations report ErrNotFound,
// ErrInvalidReference and ErrInvalidTimeRange from the sentinel set above.
type TaskStore interface {
	CreateTask(ctx context.Context, t Task) (Task, error)
	GetTask(ctx context.Context, id string) (Task, error)
	UpdateTask(ctx context.Context, id string, changes TaskChanges) (Task, error)
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)

	// Bulk forms used by undo: DeleteTasks reverses a creation batch,
	// RestoreTasks reinstates full prior snapshots by id.
	DeleteTasks(ctx context.Context, ids []string) error
	RestoreTasks(ctx context.Context, tasks []Task) error

	GetProject(ctx context.Context, id string) (Project, error)
	ListProjects(ctx context.Context, activeOnly bool) ([]Project, error)
	GetTaskType(ctx context.Context, id string) (TaskType, error)
	ListTaskTypes(ctx context.Context, activeOnly bool) ([]TaskType, error)
}
