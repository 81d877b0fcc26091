package domain

import (
	"strings"
	"time"
)

// Status is the task lifecycle state. The vocabulary is closed: these three
// values are the only ones the agent protocol and the store accept.
type Status string

const (
	StatusNotDone Status = "NOT_DONE"
	StatusOnHold  Status = "ON_HOLD"
	StatusDone    Status = "DONE"
)

func ValidStatuses() []Status {
	return []Status{StatusNotDone, StatusOnHold, StatusDone}
}

// ParseStatus maps free text onto a Status, case-insensitively.
func ParseStatus(raw string) (Status, bool) {
	switch Status(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusNotDone:
		return StatusNotDone, true
	case StatusOnHold:
		return StatusOnHold, true
	case StatusDone:
		return StatusDone, true
	default:
		return "", false
	}
}

type RecurrencePattern string

const (
	RecurrenceNone    RecurrencePattern = "NONE"
	RecurrenceDaily   RecurrencePattern = "DAILY"
	RecurrenceWeekly  RecurrencePattern = "WEEKLY"
	RecurrenceMonthly RecurrencePattern = "MONTHLY"
)

func ParseRecurrencePattern(raw string) (RecurrencePattern, bool) {
	switch RecurrencePattern(strings.ToUpper(strings.TrimSpace(raw))) {
	case RecurrenceNone:
		return RecurrenceNone, true
	case RecurrenceDaily:
		return RecurrenceDaily, true
	case RecurrenceWeekly:
		return RecurrenceWeekly, true
	case RecurrenceMonthly:
		return RecurrenceMonthly, true
	default:
		return "", false
	}
}

// Recurrence ties one instance of a recurring request to its siblings.
// GroupID is shared by every instance created from the same request,
// Index is the zero-based position within that group.
type Recurrence struct {
	Pattern RecurrencePattern `json:"pattern"`
	GroupID string            `json:"group_id,omitempty"`
	Index   int               `json:"index"`
}

// Task is the persisted calendar item. Start is always set; End, when
// present, is never before Start. CompletedAt is set exactly while the
// status is DONE and cleared otherwise.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Body        string     `json:"body,omitempty"`
	ProjectID   string     `json:"project_id"`
	TypeID      string     `json:"type_id"`
	Status      Status     `json:"status"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
	Important   bool       `json:"important"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Recurrence  Recurrence `json:"recurrence"`
}

// EffectiveEnd is the interval end used for overlap math: End when present,
// clamped so it never precedes Start, else Start itself.
func (t Task) EffectiveEnd() time.Time {
	if t.End == nil || t.End.Before(t.Start) {
		return t.Start
	}
	return *t.End
}

type Project struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Color   string `json:"color"`
	Active  bool   `json:"active"`
	Default bool   `json:"default"`
}

type TaskType struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	Active    bool   `json:"active"`
	Default   bool   `json:"default"`
	SortOrder int    `json:"sort_order"`
}

// TaskChanges is a sparse change-set for one task. Nil pointers mean
// "leave untouched". ClearEnd distinguishes "set End to nothing" from
// "leave End alone", since both arrive as absent fields otherwise.
type TaskChanges struct {
	Title     *string
	Body      *string
	ProjectID *string
	TypeID    *string
	Status    *Status
	Start     *time.Time
	End       *time.Time
	ClearEnd  bool
	Important *bool
}

func (c TaskChanges) Empty() bool {
	return c.Title == nil &&
		c.Body == nil &&
		c.ProjectID == nil &&
		c.TypeID == nil &&
		c.Status == nil &&
		c.Start == nil &&
		c.End == nil &&
		!c.ClearEnd &&
		c.Important == nil
}

// Snapshot is the frozen view of the store visible to one agent run.
// It is captured once at run start and never refreshed mid-run.
type Snapshot struct {
	Now      time.Time
	Tasks    []Task
	Projects []Project
	Types    []TaskType
}

func (s Snapshot) TaskByID(id string) (Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

func (s Snapshot) ProjectName(id string) string {
	for _, p := range s.Projects {
		if p.ID == id {
			return p.Name
		}
	}
	return ""
}

func (s Snapshot) TypeName(id string) string {
	for _, tt := range s.Types {
		if tt.ID == id {
			return tt.Name
		}
	}
	return ""
}
