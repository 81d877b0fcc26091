package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"taskpilot/app/core/agent"
	"taskpilot/app/core/apply"
	"taskpilot/app/core/domain"
	"taskpilot/app/core/runlog"
	"taskpilot/app/core/store"
	"taskpilot/app/core/undo"
)

// Channel is the local REPL: free text runs the agent, slash commands
// review and commit what it proposed.
type Channel struct {
	name         string
	orchestrator *agent.Orchestrator
	store        *store.Store
	applier      *apply.Applier
	undoStack    *undo.Stack
	log          *runlog.Logger

	history []agent.ChatTurn
	pending *agent.Proposal
}

func New(name string, orchestrator *agent.Orchestrator, st *store.Store, applier *apply.Applier, undoStack *undo.Stack, log *runlog.Logger) *Channel {
	if strings.TrimSpace(name) == "" {
		name = "Taskpilot"
	}
	return &Channel{
		name:         name,
		orchestrator: orchestrator,
		store:        st,
		applier:      applier,
		undoStack:    undoStack,
		log:          log,
	}
}

func (c *Channel) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Printf(">> %s CLI started. Describe a change, or type /help.\n", c.name)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			fmt.Print("> ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			if text == "exit" || text == "quit" {
				fmt.Println("Bye.")
				return nil
			}
			if strings.HasPrefix(text, "/") {
				c.handleCommand(ctx, text)
				continue
			}
			c.runAgent(ctx, text)
		}
	}
}

func (c *Channel) handleCommand(ctx context.Context, text string) {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /tasks            list tasks")
		fmt.Println("  /conflicts        show overlapping tasks")
		fmt.Println("  /apply [n,m,...]  apply the pending proposal (all, or selected 1-based)")
		fmt.Println("  /undo             revert the most recent change")
		fmt.Println("  exit              quit")
	case "/tasks":
		c.printTasks(ctx)
	case "/conflicts":
		c.printConflicts(ctx)
	case "/apply":
		c.applyPending(ctx, fields[1:])
	case "/undo":
		entry, err := c.undoStack.Undo(ctx, c.store)
		if errors.Is(err, undo.ErrNothingToUndo) {
			fmt.Println("Nothing to undo.")
			return
		}
		if err != nil {
			c.log.Event("", runlog.StageUndo, "error", err.Error())
			fmt.Printf("Undo failed: %v\n", err)
			return
		}
		c.log.Event("", runlog.StageUndo, "ok", entry.Label)
		fmt.Printf("Reverted: %s\n", entry.Label)
	default:
		fmt.Printf("Unknown command %s, try /help.\n", fields[0])
	}
}

func (c *Channel) runAgent(ctx context.Context, text string) {
	snapshot, err := c.store.LoadSnapshot(ctx)
	if err != nil {
		fmt.Printf("Could not load tasks: %v\n", err)
		return
	}
	result, err := c.orchestrator.Run(ctx, agent.RunRequest{
		Utterance: text,
		History:   c.history,
		Snapshot:  snapshot,
	})
	if err != nil {
		if errors.Is(err, agent.ErrRoundBudget) {
			fmt.Println("The agent could not conclude: it kept looking things up without answering. Try rephrasing.")
			return
		}
		fmt.Printf("Agent run failed: %v\n", err)
		return
	}

	c.history = append(c.history, agent.ChatTurn{Role: "user", Content: text})
	if result.NeedsClarification {
		c.history = append(c.history, agent.ChatTurn{Role: "assistant", Content: result.Question})
		fmt.Printf("[%s] %s\n", c.name, result.Question)
		return
	}
	if result.AssistantMessage != "" {
		c.history = append(c.history, agent.ChatTurn{Role: "assistant", Content: result.AssistantMessage})
		fmt.Printf("[%s] %s\n", c.name, result.AssistantMessage)
	}
	if result.Proposal == nil {
		return
	}

	c.pending = result.Proposal
	c.printPending()
}

func (c *Channel) printPending() {
	if c.pending == nil {
		return
	}
	if c.pending.Summary != "" {
		fmt.Printf("Proposal: %s\n", c.pending.Summary)
	}
	for i, op := range c.pending.Operations {
		fmt.Printf("  %d. %s\n", i+1, op.Describe())
	}
	fmt.Println("Review and run /apply, or /apply 1,3 for a subset.")
}

func (c *Channel) applyPending(ctx context.Context, args []string) {
	if c.pending == nil {
		fmt.Println("No pending proposal.")
		return
	}
	selected, err := parseSelection(args, len(c.pending.Operations))
	if err != nil {
		fmt.Printf("Bad selection: %v\n", err)
		return
	}

	outcome := c.applier.Apply(ctx, *c.pending, selected)
	fmt.Printf("Applied %d, failed %d.\n", len(outcome.Applied), len(outcome.Failed))
	for _, res := range outcome.Applied {
		c.log.Event("", runlog.StageApply, "ok", res.Label)
		fmt.Printf("  ok: %s\n", res.Label)
	}
	for _, res := range outcome.Failed {
		c.log.Event("", runlog.StageApply, "error", fmt.Sprintf("%s: %v", res.Label, res.Err))
		fmt.Printf("  failed: %s (%v)\n", res.Label, res.Err)
	}
	c.pending = outcome.Residual
	if c.pending != nil {
		fmt.Println("Still pending:")
		c.printPending()
	}
}

func (c *Channel) printTasks(ctx context.Context) {
	tasks, err := c.store.ListTasks(ctx, domain.TaskFilter{})
	if err != nil {
		fmt.Printf("Could not list tasks: %v\n", err)
		return
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return
	}
	store.SortTasksByStart(tasks)
	conflicts := domain.DetectConflicts(tasks)
	for _, t := range tasks {
		line := fmt.Sprintf("%s  %-8s %s  %s", t.ID, t.Status, t.Start.Format(time.RFC3339), t.Title)
		if t.Important {
			line += "  !"
		}
		if len(conflicts[t.ID]) > 0 {
			line += fmt.Sprintf("  (overlaps %s)", strings.Join(conflicts[t.ID], ", "))
		}
		fmt.Println(line)
	}
}

func (c *Channel) printConflicts(ctx context.Context) {
	tasks, err := c.store.ListTasks(ctx, domain.TaskFilter{})
	if err != nil {
		fmt.Printf("Could not list tasks: %v\n", err)
		return
	}
	conflicts := domain.DetectConflicts(tasks)
	if len(conflicts) == 0 {
		fmt.Println("No overlaps.")
		return
	}
	for id, others := range conflicts {
		fmt.Printf("%s overlaps %s\n", id, strings.Join(others, ", "))
	}
}

// parseSelection turns "1,3 4" style arguments into zero-based indices.
// Empty arguments select every operation.
func parseSelection(args []string, total int) ([]int, error) {
	if len(args) == 0 {
		return nil, nil
	}
	var indices []int
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", part)
			}
			if n < 1 || n > total {
				return nil, fmt.Errorf("%d is out of range 1..%d", n, total)
			}
			indices = append(indices, n-1)
		}
	}
	if len(indices) == 0 {
		return nil, nil
	}
	return indices, nil
}
