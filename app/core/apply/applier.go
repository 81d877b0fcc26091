// Package apply commits a user-selected subset of a proposal's operations.
// Operations are applied independently in list order; one corrupt operation
// never discards the rest of the batch.
package apply

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskpilot/app/core/agent"
	"taskpilot/app/core/domain"
	"taskpilot/app/core/undo"
)

type Applier struct {
	store domain.TaskStore
	undo  *undo.Stack
}

func New(store domain.TaskStore, undoStack *undo.Stack) *Applier {
	return &Applier{store: store, undo: undoStack}
}

// OpResult labels one attempted operation for the success/failure tally.
type OpResult struct {
	Index int
	Label string
	Err   error
}

// Outcome reports the batch: applied and failed operations plus the
// residual proposal. The residual keeps failed selected operations for
// retry and preserves unselected ones unchanged; successfully applied
// operations are cleared. Nil when nothing remains pending.
type Outcome struct {
	Applied  []OpResult
	Failed   []OpResult
	Residual *agent.Proposal
}

// Apply commits the operations at the selected indices in list order. A nil
// selection means every operation. Each operation is re-validated against
// the live store at commit time; the snapshot the proposal was built from
// may be stale by now and a stale reference fails just that operation.
func (a *Applier) Apply(ctx context.Context, proposal agent.Proposal, selected []int) Outcome {
	chosen := make(map[int]bool, len(proposal.Operations))
	if selected == nil {
		for i := range proposal.Operations {
			chosen[i] = true
		}
	} else {
		for _, idx := range selected {
			if idx >= 0 && idx < len(proposal.Operations) {
				chosen[idx] = true
			}
		}
	}

	var outcome Outcome
	applied := make(map[int]bool, len(chosen))
	for i, op := range proposal.Operations {
		if !chosen[i] {
			continue
		}
		res := OpResult{Index: i, Label: op.Describe()}
		if err := a.applyOne(ctx, op); err != nil {
			res.Err = err
			outcome.Failed = append(outcome.Failed, res)
			continue
		}
		applied[i] = true
		outcome.Applied = append(outcome.Applied, res)
	}

	var remaining []agent.Operation
	for i, op := range proposal.Operations {
		if !applied[i] {
			remaining = append(remaining, op)
		}
	}
	if len(remaining) > 0 {
		outcome.Residual = &agent.Proposal{
			Summary:    proposal.Summary,
			Operations: remaining,
		}
	}
	return outcome
}

func (a *Applier) applyOne(ctx context.Context, op agent.Operation) error {
	switch op.Kind {
	case agent.OpCreateTask:
		return a.applyCreate(ctx, op.Create)
	case agent.OpUpdateTask:
		return a.applyUpdate(ctx, op.Update)
	case agent.OpDeleteTask:
		return a.applyDelete(ctx, op.Delete)
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

func (a *Applier) applyCreate(ctx context.Context, op *agent.CreateTask) error {
	if op.End != nil && op.End.Before(op.Start) {
		return domain.ErrInvalidTimeRange
	}

	count := op.Count
	if op.Recurrence == domain.RecurrenceNone || count < 1 {
		count = 1
	}
	groupID := ""
	if op.Recurrence != domain.RecurrenceNone && count > 1 {
		groupID = uuid.NewString()
	}

	createdIDs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		task := domain.Task{
			Title:     op.Title,
			Body:      op.Body,
			ProjectID: op.ProjectID,
			TypeID:    op.TypeID,
			Status:    op.Status,
			Start:     advance(op.Start, op.Recurrence, i),
			Important: op.Important,
			Recurrence: domain.Recurrence{
				Pattern: op.Recurrence,
				GroupID: groupID,
				Index:   i,
			},
		}
		if op.End != nil {
			end := advance(*op.End, op.Recurrence, i)
			task.End = &end
		}
		created, err := a.store.CreateTask(ctx, task)
		if err != nil {
			// the whole creation is one user-facing action: roll the
			// partial batch back before failing the operation
			_ = a.store.DeleteTasks(ctx, createdIDs)
			return err
		}
		createdIDs = append(createdIDs, created.ID)
	}

	a.undo.Push(undo.Entry{
		Kind:    undo.EntryDeleteTasks,
		TaskIDs: createdIDs,
		Label:   fmt.Sprintf("create %q", op.Title),
	})
	return nil
}

func (a *Applier) applyUpdate(ctx context.Context, op *agent.UpdateTask) error {
	if op.Changes.Empty() {
		return domain.ErrEmptyChange
	}
	prior, err := a.store.GetTask(ctx, op.ID)
	if err != nil {
		return err
	}
	if _, err := a.store.UpdateTask(ctx, op.ID, op.Changes); err != nil {
		return err
	}
	a.undo.Push(undo.Entry{
		Kind:      undo.EntryUpsertTasks,
		Snapshots: []domain.Task{prior},
		Label:     fmt.Sprintf("update %q", prior.Title),
	})
	return nil
}

func (a *Applier) applyDelete(ctx context.Context, op *agent.DeleteTask) error {
	prior, err := a.store.GetTask(ctx, op.ID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteTask(ctx, op.ID); err != nil {
		return err
	}
	a.undo.Push(undo.Entry{
		Kind:      undo.EntryUpsertTasks,
		Snapshots: []domain.Task{prior},
		Label:     fmt.Sprintf("delete %q", prior.Title),
	})
	return nil
}

func advance(t time.Time, pattern domain.RecurrencePattern, i int) time.Time {
	if i == 0 {
		return t
	}
	switch pattern {
	case domain.RecurrenceDaily:
		return t.AddDate(0, 0, i)
	case domain.RecurrenceWeekly:
		return t.AddDate(0, 0, 7*i)
	case domain.RecurrenceMonthly:
		return t.AddDate(0, i, 0)
	default:
		return t
	}
}
