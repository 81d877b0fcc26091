package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"taskpilot/app/core/domain"
	"taskpilot/app/core/tools"
)

const maxRecurrenceCount = 30

// ParseModelReply turns raw model text into a validated ModelReply. The
// payload extraction tolerates fenced blocks and surrounding prose; an
// unparseable or non-object payload is a hard error for the round. Past
// that point every field is validated independently: a malformed tool call
// or operation is dropped (and noted) rather than failing the whole reply.
func ParseModelReply(raw string) (ModelReply, error) {
	payload := extractPayload(raw)
	if !gjson.Valid(payload) {
		return ModelReply{}, fmt.Errorf("%w: %s", ErrBadModelOutput, preview(payload, 80))
	}
	root := gjson.Parse(payload)
	if !root.IsObject() {
		return ModelReply{}, fmt.Errorf("%w: top-level value is %s", ErrBadModelOutput, root.Type)
	}

	reply := ModelReply{}
	if v := root.Get("assistantMessage"); v.Type == gjson.String {
		reply.AssistantMessage = v.String()
	}
	if v := root.Get("needsUserInput"); isBool(v) {
		reply.NeedsUserInput = v.Bool()
	}
	if v := root.Get("userQuestion"); v.Type == gjson.String {
		reply.UserQuestion = v.String()
	}

	if calls := root.Get("toolCalls"); calls.IsArray() {
		for _, entry := range calls.Array() {
			call, err := parseToolCall(entry)
			if err != nil {
				reply.Dropped = append(reply.Dropped, fmt.Sprintf("tool call dropped: %v", err))
				continue
			}
			reply.ToolCalls = append(reply.ToolCalls, call)
		}
	}

	if prop := root.Get("proposal"); prop.IsObject() {
		proposal := &Proposal{}
		if v := prop.Get("summary"); v.Type == gjson.String {
			proposal.Summary = v.String()
		}
		for _, entry := range prop.Get("operations").Array() {
			op, err := parseOperation(entry)
			if err != nil {
				reply.Dropped = append(reply.Dropped, fmt.Sprintf("operation dropped: %v", err))
				continue
			}
			proposal.Operations = append(proposal.Operations, op)
		}
		// a proposal with zero surviving operations is treated as absent
		if len(proposal.Operations) > 0 {
			reply.Proposal = proposal
		} else if prop.Get("operations").Exists() {
			reply.Dropped = append(reply.Dropped, "proposal discarded: no valid operations")
		}
	}

	return reply, nil
}

// extractPayload locates the structured object inside arbitrary model text.
// Order: the trimmed text itself when it already looks like an object, then
// the first fenced block, then the first-to-last brace span, and finally
// the trimmed text verbatim so parsing fails explicitly.
func extractPayload(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed
	}
	if fenced, ok := extractFencedBlock(trimmed); ok {
		return fenced
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start != -1 && end > start {
		return trimmed[start : end+1]
	}
	return trimmed
}

func extractFencedBlock(text string) (string, bool) {
	open := strings.Index(text, "```")
	if open == -1 {
		return "", false
	}
	rest := text[open+3:]
	// skip an optional language tag on the fence line
	if nl := strings.Index(rest, "\n"); nl != -1 {
		rest = rest[nl+1:]
	}
	closing := strings.Index(rest, "```")
	if closing == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:closing]), true
}

func parseToolCall(entry gjson.Result) (tools.Call, error) {
	if !entry.IsObject() {
		return tools.Call{}, fmt.Errorf("entry is not an object")
	}
	name := entry.Get("tool").String()
	if name == "" {
		name = entry.Get("name").String()
	}
	if !tools.IsKnownTool(name) {
		return tools.Call{}, fmt.Errorf("unknown tool %q", name)
	}
	call := tools.Call{Tool: name}
	if args := entry.Get("args"); args.IsObject() {
		if m, ok := args.Value().(map[string]interface{}); ok {
			call.Args = m
		}
	}
	return call, nil
}

func parseOperation(entry gjson.Result) (Operation, error) {
	if !entry.IsObject() {
		return Operation{}, fmt.Errorf("entry is not an object")
	}
	kind := entry.Get("type").String()
	switch OperationKind(kind) {
	case OpCreateTask:
		create, err := parseCreateTask(entry)
		if err != nil {
			return Operation{}, err
		}
		return Operation{Kind: OpCreateTask, Create: create}, nil
	case OpUpdateTask:
		update, err := parseUpdateTask(entry)
		if err != nil {
			return Operation{}, err
		}
		return Operation{Kind: OpUpdateTask, Update: update}, nil
	case OpDeleteTask:
		del, err := parseDeleteTask(entry)
		if err != nil {
			return Operation{}, err
		}
		return Operation{Kind: OpDeleteTask, Delete: del}, nil
	default:
		return Operation{}, fmt.Errorf("unknown operation type %q", kind)
	}
}

func parseCreateTask(entry gjson.Result) (*CreateTask, error) {
	title := strings.TrimSpace(stringField(entry, "title"))
	if title == "" {
		return nil, fmt.Errorf("create_task: title is required")
	}
	projectID := strings.TrimSpace(stringField(entry, "projectId"))
	if projectID == "" {
		return nil, fmt.Errorf("create_task: projectId is required")
	}
	typeID := strings.TrimSpace(stringField(entry, "typeId"))
	if typeID == "" {
		return nil, fmt.Errorf("create_task: typeId is required")
	}
	startRaw := strings.TrimSpace(stringField(entry, "start"))
	if startRaw == "" {
		return nil, fmt.Errorf("create_task: start is required")
	}
	start, err := parseTimestamp(startRaw)
	if err != nil {
		return nil, fmt.Errorf("create_task: %v", err)
	}

	create := &CreateTask{
		Title:      title,
		ProjectID:  projectID,
		TypeID:     typeID,
		Start:      start,
		Status:     domain.StatusNotDone,
		Recurrence: domain.RecurrenceNone,
		Count:      1,
	}
	create.Body = stringField(entry, "body")
	if v := entry.Get("important"); isBool(v) {
		create.Important = v.Bool()
	}
	if v := entry.Get("status"); v.Type == gjson.String {
		if status, ok := domain.ParseStatus(v.String()); ok {
			create.Status = status
		}
	}
	if v := entry.Get("end"); v.Type == gjson.String {
		if end, endErr := parseTimestamp(v.String()); endErr == nil {
			create.End = &end
		}
	}
	if rec := entry.Get("recurrence"); rec.IsObject() {
		if pattern, ok := domain.ParseRecurrencePattern(rec.Get("pattern").String()); ok && pattern != domain.RecurrenceNone {
			create.Recurrence = pattern
			count := int(rec.Get("count").Int())
			if count < 1 {
				count = 1
			}
			if count > maxRecurrenceCount {
				count = maxRecurrenceCount
			}
			create.Count = count
		}
	}
	return create, nil
}

func parseUpdateTask(entry gjson.Result) (*UpdateTask, error) {
	id := strings.TrimSpace(stringField(entry, "id"))
	if id == "" {
		return nil, fmt.Errorf("update_task: id is required")
	}

	var changes domain.TaskChanges
	if v := entry.Get("title"); v.Type == gjson.String {
		if title := strings.TrimSpace(v.String()); title != "" {
			changes.Title = &title
		}
	}
	if v := entry.Get("body"); v.Type == gjson.String {
		body := v.String()
		changes.Body = &body
	}
	if v := entry.Get("projectId"); v.Type == gjson.String {
		if projectID := strings.TrimSpace(v.String()); projectID != "" {
			changes.ProjectID = &projectID
		}
	}
	if v := entry.Get("typeId"); v.Type == gjson.String {
		if typeID := strings.TrimSpace(v.String()); typeID != "" {
			changes.TypeID = &typeID
		}
	}
	if v := entry.Get("status"); v.Type == gjson.String {
		if status, ok := domain.ParseStatus(v.String()); ok {
			changes.Status = &status
		}
	}
	if v := entry.Get("start"); v.Type == gjson.String {
		if start, err := parseTimestamp(v.String()); err == nil {
			changes.Start = &start
		}
	}
	// end is tri-state: absent leaves it alone, an explicit null clears it,
	// a parseable timestamp sets it
	if v := entry.Get("end"); v.Exists() {
		switch v.Type {
		case gjson.Null:
			changes.ClearEnd = true
		case gjson.String:
			if end, err := parseTimestamp(v.String()); err == nil {
				changes.End = &end
			}
		}
	}
	if v := entry.Get("important"); isBool(v) {
		important := v.Bool()
		changes.Important = &important
	}

	if changes.Empty() {
		return nil, fmt.Errorf("update_task %s: %w", id, domain.ErrEmptyChange)
	}
	return &UpdateTask{ID: id, Changes: changes}, nil
}

func parseDeleteTask(entry gjson.Result) (*DeleteTask, error) {
	id := strings.TrimSpace(stringField(entry, "id"))
	if id == "" {
		return nil, fmt.Errorf("delete_task: id is required")
	}
	return &DeleteTask{
		ID:     id,
		Reason: strings.TrimSpace(stringField(entry, "reason")),
	}, nil
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}

func stringField(entry gjson.Result, key string) string {
	v := entry.Get(key)
	if v.Type != gjson.String {
		return ""
	}
	return v.String()
}

func preview(text string, maxLen int) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}

func isBool(v gjson.Result) bool {
	return v.Type == gjson.True || v.Type == gjson.False
}
