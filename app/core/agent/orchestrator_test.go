package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"taskpilot/app/core/domain"
)

type scriptedTransport struct {
	responses []string
	err       error
	calls     int
	payloads  []string
}

func (s *scriptedTransport) Complete(_ context.Context, messages []ChatMessage) (string, error) {
	s.calls++
	if len(messages) != 2 {
		return "", fmt.Errorf("expected system + user message, got %d", len(messages))
	}
	s.payloads = append(s.payloads, messages[1].Content)
	if s.err != nil {
		return "", s.err
	}
	if s.calls > len(s.responses) {
		return "", fmt.Errorf("no scripted response for call %d", s.calls)
	}
	return s.responses[s.calls-1], nil
}

func testSnapshot() domain.Snapshot {
	end := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	return domain.Snapshot{
		Now: time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC),
		Tasks: []domain.Task{
			{
				ID:        "task-1",
				Title:     "Quarterly report",
				ProjectID: "proj-1",
				TypeID:    "type-1",
				Status:    domain.StatusNotDone,
				Start:     time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
				End:       &end,
				UpdatedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
			},
		},
		Projects: []domain.Project{{ID: "proj-1", Name: "Work", Active: true}},
		Types:    []domain.TaskType{{ID: "type-1", Name: "General", Active: true, Default: true}},
	}
}

func TestRunToolCallThenProposal(t *testing.T) {
	transport := &scriptedTransport{responses: []string{
		`{"toolCalls":[{"tool":"search_tasks","args":{"keyword":"report"}}]}`,
		`{"assistantMessage":"Deleting it.","proposal":{"summary":"remove the report task","operations":[{"type":"delete_task","id":"task-1"}]}}`,
	}}
	o := NewOrchestrator(transport, nil)

	result, err := o.Run(context.Background(), RunRequest{
		Utterance: "delete the report task",
		Snapshot:  testSnapshot(),
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if transport.calls != 2 {
		t.Fatalf("expected exactly 2 rounds, got %d", transport.calls)
	}
	if result.Proposal == nil || len(result.Proposal.Operations) != 1 {
		t.Fatalf("expected the round-2 proposal, got %+v", result)
	}

	// the search result must be injected into the round-2 context
	if !strings.Contains(transport.payloads[0], `"request":"delete the report task"`) {
		t.Fatalf("round 1 payload missing request: %s", transport.payloads[0])
	}
	if strings.Contains(transport.payloads[0], "toolResults") {
		t.Fatal("round 1 must not contain tool results yet")
	}
	if !strings.Contains(transport.payloads[1], "toolResults") ||
		!strings.Contains(transport.payloads[1], "Quarterly report") {
		t.Fatalf("round 2 payload missing search results: %s", transport.payloads[1])
	}
}

func TestRunRoundBudgetExhausted(t *testing.T) {
	toolRound := `{"toolCalls":[{"tool":"get_current_time","args":{}}]}`
	transport := &scriptedTransport{responses: []string{toolRound, toolRound, toolRound, toolRound, toolRound}}
	o := NewOrchestrator(transport, nil)

	_, err := o.Run(context.Background(), RunRequest{Utterance: "loop forever", Snapshot: testSnapshot()})
	if !errors.Is(err, ErrRoundBudget) {
		t.Fatalf("expected ErrRoundBudget, got %v", err)
	}
	if transport.calls != 4 {
		t.Fatalf("a 5th round must never be issued, got %d calls", transport.calls)
	}
}

func TestRunToolCallsWinOverProposal(t *testing.T) {
	transport := &scriptedTransport{responses: []string{
		`{"toolCalls":[{"tool":"list_projects","args":{}}],"proposal":{"summary":"premature","operations":[{"type":"delete_task","id":"task-1"}]}}`,
		`{"assistantMessage":"ok","proposal":{"summary":"final","operations":[{"type":"delete_task","id":"task-1"}]}}`,
	}}
	o := NewOrchestrator(transport, nil)

	result, err := o.Run(context.Background(), RunRequest{Utterance: "clean up", Snapshot: testSnapshot()})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if transport.calls != 2 {
		t.Fatalf("round 1 proposal must be ignored in favor of tools, got %d calls", transport.calls)
	}
	if result.Proposal == nil || result.Proposal.Summary != "final" {
		t.Fatalf("expected the round-2 proposal, got %+v", result.Proposal)
	}
}

func TestRunToolCallCap(t *testing.T) {
	var calls []string
	for i := 0; i < 6; i++ {
		calls = append(calls, `{"tool":"get_current_time","args":{}}`)
	}
	transport := &scriptedTransport{responses: []string{
		`{"toolCalls":[` + strings.Join(calls, ",") + `]}`,
		`{"assistantMessage":"done"}`,
	}}
	o := NewOrchestrator(transport, nil)

	if _, err := o.Run(context.Background(), RunRequest{Utterance: "time?", Snapshot: testSnapshot()}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	// 4 results at most make it into round 2
	if got := strings.Count(transport.payloads[1], `"tool":"get_current_time"`); got != 4 {
		t.Fatalf("expected 4 capped tool results in round 2, got %d", got)
	}
}

func TestRunClarifyingQuestion(t *testing.T) {
	transport := &scriptedTransport{responses: []string{
		`{"assistantMessage":"","needsUserInput":true,"userQuestion":"Which report do you mean?"}`,
	}}
	o := NewOrchestrator(transport, nil)

	result, err := o.Run(context.Background(), RunRequest{Utterance: "move the report", Snapshot: testSnapshot()})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !result.NeedsClarification || result.Question != "Which report do you mean?" {
		t.Fatalf("expected a clarifying question, got %+v", result)
	}
}

func TestRunTransportErrorIsFatal(t *testing.T) {
	transport := &scriptedTransport{err: errors.New("connection refused")}
	o := NewOrchestrator(transport, nil)

	_, err := o.Run(context.Background(), RunRequest{Utterance: "anything", Snapshot: testSnapshot()})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("transport errors must surface verbatim, got %v", err)
	}
	if transport.calls != 1 {
		t.Fatalf("no retry inside the core, got %d calls", transport.calls)
	}
}

func TestRunHistoryTrimmedToEight(t *testing.T) {
	var history []ChatTurn
	for i := 0; i < 12; i++ {
		history = append(history, ChatTurn{Role: "user", Content: fmt.Sprintf("turn-%d", i)})
	}
	transport := &scriptedTransport{responses: []string{`{"assistantMessage":"ok"}`}}
	o := NewOrchestrator(transport, nil)

	if _, err := o.Run(context.Background(), RunRequest{Utterance: "x", History: history, Snapshot: testSnapshot()}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	payload := transport.payloads[0]
	if strings.Contains(payload, "turn-3") {
		t.Fatal("turns beyond the last 8 must be trimmed")
	}
	if !strings.Contains(payload, "turn-4") || !strings.Contains(payload, "turn-11") {
		t.Fatal("the last 8 turns must be present")
	}
}
