package agent

import (
	"strings"
	"time"

	"github.com/tidwall/sjson"

	"taskpilot/app/core/domain"
	"taskpilot/app/core/tools"
)

const historyTurnLimit = 8

// systemInstruction is the fixed per-run contract with the model. It pins
// the output shape, the status vocabulary, the timestamp format and the
// five permitted tools.
func systemInstruction() string {
	var b strings.Builder
	b.WriteString("You are a calendar task assistant. You translate the user's request into task operations.\n")
	b.WriteString("Respond with a single JSON object and nothing else. Shape:\n")
	b.WriteString(`{"assistantMessage":"...","needsUserInput":false,"userQuestion":"optional","toolCalls":[...],"proposal":{...}}` + "\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Never combine toolCalls and proposal in one response.\n")
	b.WriteString("- Before proposing changes to existing tasks, look them up with tool calls first.\n")
	b.WriteString("- If the request is ambiguous, set needsUserInput=true and ask one concise userQuestion.\n")
	b.WriteString("- Task status is exactly one of: NOT_DONE, ON_HOLD, DONE.\n")
	b.WriteString("- All timestamps use RFC 3339 with a UTC offset, e.g. 2026-09-01T14:00:00+02:00.\n\n")
	b.WriteString("Tools (read-only, at most 4 per response):\n")
	b.WriteString(`- {"tool":"list_projects","args":{}}` + "\n")
	b.WriteString(`- {"tool":"list_task_types","args":{}}` + "\n")
	b.WriteString(`- {"tool":"get_current_time","args":{}}` + "\n")
	b.WriteString(`- {"tool":"get_task","args":{"id":"..."}}` + "\n")
	b.WriteString(`- {"tool":"search_tasks","args":{"keyword":"...","projectId":"optional","status":"optional","limit":10}}` + "\n\n")
	b.WriteString("Proposal operations:\n")
	b.WriteString(`- {"type":"create_task","title":"...","body":"","projectId":"...","typeId":"...","start":"...","end":"optional","status":"optional","important":false,"recurrence":{"pattern":"DAILY|WEEKLY|MONTHLY","count":3}}` + "\n")
	b.WriteString(`- {"type":"update_task","id":"...","title":"optional","status":"optional","start":"optional","end":"optional or null to clear",...}` + "\n")
	b.WriteString(`- {"type":"delete_task","id":"...","reason":"optional"}` + "\n")
	return b.String()
}

// buildUserPayload assembles the per-round user turn: current time, trimmed
// conversation, the original request, the enumerated known choices and the
// accumulated tool results of all prior rounds.
func buildUserPayload(req RunRequest, toolResults []tools.Result) string {
	payload := "{}"
	payload, _ = sjson.Set(payload, "currentTime", req.Snapshot.Now.Format(time.RFC3339))
	payload, _ = sjson.Set(payload, "request", req.Utterance)

	history := req.History
	if len(history) > historyTurnLimit {
		history = history[len(history)-historyTurnLimit:]
	}
	payload, _ = sjson.Set(payload, "conversation", history)

	payload, _ = sjson.Set(payload, "choices.statuses", domain.ValidStatuses())
	payload, _ = sjson.Set(payload, "choices.projects", projectChoices(req.Snapshot.Projects))
	payload, _ = sjson.Set(payload, "choices.taskTypes", typeChoices(req.Snapshot.Types))

	if len(toolResults) > 0 {
		payload, _ = sjson.Set(payload, "toolResults", toolResults)
	}
	return payload
}

func projectChoices(projects []domain.Project) []map[string]string {
	choices := make([]map[string]string, 0, len(projects))
	for _, p := range projects {
		choices = append(choices, map[string]string{"id": p.ID, "name": p.Name})
	}
	return choices
}

func typeChoices(types []domain.TaskType) []map[string]string {
	choices := make([]map[string]string, 0, len(types))
	for _, tt := range types {
		choices = append(choices, map[string]string{"id": tt.ID, "name": tt.Name})
	}
	return choices
}
