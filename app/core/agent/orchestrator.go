package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskpilot/app/core/runlog"
	"taskpilot/app/core/tools"
)

const (
	maxRounds            = 4
	maxToolCallsPerRound = 4
)

// Orchestrator drives the bounded round-trip protocol: send the request and
// accumulated tool results to the model, execute requested lookups, repeat.
// Rounds are strictly sequential; each prompt depends on every prior tool
// result within the same run.
type Orchestrator struct {
	transport Transport
	log       *runlog.Logger
}

func NewOrchestrator(transport Transport, log *runlog.Logger) *Orchestrator {
	return &Orchestrator{transport: transport, log: log}
}

// Run executes one agent run and terminates with either a clarifying
// question or a proposal. A transport failure or unparseable round is fatal
// for the run. If every round keeps requesting tools the run fails with
// ErrRoundBudget: deliberate backpressure against runaway tool use.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	req.Utterance = strings.TrimSpace(req.Utterance)
	if req.Utterance == "" {
		return RunResult{}, fmt.Errorf("empty request")
	}

	runID := uuid.NewString()
	executor := tools.NewExecutor(req.Snapshot)
	system := ChatMessage{Role: "system", Content: systemInstruction()}

	var accumulated []tools.Result
	for round := 1; round <= maxRounds; round++ {
		payload := buildUserPayload(req, accumulated)
		messages := []ChatMessage{system, {Role: "user", Content: payload}}

		start := time.Now()
		raw, err := o.transport.Complete(ctx, messages)
		o.log.Round(runID, round, payload, raw, time.Since(start), err)
		if err != nil {
			return RunResult{}, fmt.Errorf("round %d: %w", round, err)
		}

		reply, err := ParseModelReply(raw)
		if err != nil {
			return RunResult{}, fmt.Errorf("round %d: %w", round, err)
		}
		for _, note := range reply.Dropped {
			o.log.Dropped(runID, round, note)
		}

		if len(reply.ToolCalls) > 0 {
			// tool calls and a proposal never ride together: gathering
			// information wins over premature commitment
			if reply.Proposal != nil {
				o.log.Dropped(runID, round, "proposal ignored: response also requested tool calls")
			}
			calls := reply.ToolCalls
			if len(calls) > maxToolCallsPerRound {
				o.log.Dropped(runID, round, fmt.Sprintf("%d tool calls beyond the per-round cap discarded", len(calls)-maxToolCallsPerRound))
				calls = calls[:maxToolCallsPerRound]
			}
			for _, call := range calls {
				result, handled := executor.Execute(call)
				if !handled {
					o.log.Dropped(runID, round, fmt.Sprintf("unknown tool %q discarded", call.Tool))
					continue
				}
				accumulated = append(accumulated, result)
			}
			continue
		}

		// no tool calls: this round's payload is final
		if reply.NeedsUserInput && strings.TrimSpace(reply.UserQuestion) != "" {
			return RunResult{
				NeedsClarification: true,
				Question:           reply.UserQuestion,
				AssistantMessage:   reply.AssistantMessage,
			}, nil
		}
		return RunResult{
			AssistantMessage: reply.AssistantMessage,
			Proposal:         reply.Proposal,
		}, nil
	}

	return RunResult{}, fmt.Errorf("%d rounds exhausted: %w", maxRounds, ErrRoundBudget)
}
