package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"taskpilot/app/core/domain"
	"taskpilot/app/core/tools"
)

var (
	// ErrRoundBudget is returned when the model keeps requesting tools and
	// never delivers a final answer within the round cap.
	ErrRoundBudget = errors.New("agent: no final proposal within round budget")
	// ErrBadModelOutput is returned when the model output cannot be parsed
	// into a JSON object at all.
	ErrBadModelOutput = errors.New("agent: model output is not a JSON object")
)

// ChatTurn is one turn of the recent conversation shown to the model.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OperationKind discriminates the closed operation union.
type OperationKind string

const (
	OpCreateTask OperationKind = "create_task"
	OpUpdateTask OperationKind = "update_task"
	OpDeleteTask OperationKind = "delete_task"
)

// CreateTask carries the full field set for a new task. Status defaults to
// NOT_DONE and Important to false when the model omits them. Count > 1 with
// a recurrence pattern expands into that many instances at apply time.
type CreateTask struct {
	Title      string
	Body       string
	ProjectID  string
	TypeID     string
	Status     domain.Status
	Start      time.Time
	End        *time.Time
	Important  bool
	Recurrence domain.RecurrencePattern
	Count      int
}

// UpdateTask targets one task with a sparse change-set. An empty change-set
// never survives parsing.
type UpdateTask struct {
	ID      string
	Changes domain.TaskChanges
}

type DeleteTask struct {
	ID     string
	Reason string
}

// Operation is one intended mutation inside a proposal. Exactly one of the
// pointers matching Kind is set; dispatch is an exhaustive switch on Kind.
type Operation struct {
	Kind   OperationKind
	Create *CreateTask
	Update *UpdateTask
	Delete *DeleteTask
}

// Describe renders a one-line human label for review lists and tallies.
func (op Operation) Describe() string {
	switch op.Kind {
	case OpCreateTask:
		label := fmt.Sprintf("create %q at %s", op.Create.Title, op.Create.Start.Format(time.RFC3339))
		if op.Create.Recurrence != domain.RecurrenceNone && op.Create.Count > 1 {
			label += fmt.Sprintf(" (%s x%d)", strings.ToLower(string(op.Create.Recurrence)), op.Create.Count)
		}
		return label
	case OpUpdateTask:
		return fmt.Sprintf("update %s", op.Update.ID)
	case OpDeleteTask:
		if op.Delete.Reason != "" {
			return fmt.Sprintf("delete %s (%s)", op.Delete.ID, op.Delete.Reason)
		}
		return fmt.Sprintf("delete %s", op.Delete.ID)
	default:
		return fmt.Sprintf("unknown operation %q", op.Kind)
	}
}

// Proposal is an unapplied, user-reviewable batch of operations. Order is
// the application order and is preserved end to end.
type Proposal struct {
	Summary    string
	Operations []Operation
}

// ModelReply is the validated shape of one model round. Dropped collects
// human-readable notes about discarded tool calls, operations and fields,
// for telemetry only.
type ModelReply struct {
	AssistantMessage string
	NeedsUserInput   bool
	UserQuestion     string
	ToolCalls        []tools.Call
	Proposal         *Proposal
	Dropped          []string
}

// RunRequest is the input to one agent run: the utterance, the trimmed
// conversation and the snapshot frozen at run start.
type RunRequest struct {
	Utterance string
	History   []ChatTurn
	Snapshot  domain.Snapshot
}

// RunResult is the terminal outcome of a run: either a clarifying question
// or an assistant message with an optional proposal.
type RunResult struct {
	NeedsClarification bool
	Question           string
	AssistantMessage   string
	Proposal           *Proposal
}
