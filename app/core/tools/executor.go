package tools

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"taskpilot/app/core/domain"
)

const (
	ToolListProjects   = "list_projects"
	ToolListTaskTypes  = "list_task_types"
	ToolGetCurrentTime = "get_current_time"
	ToolGetTask        = "get_task"
	ToolSearchTasks    = "search_tasks"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// Whitelist returns the permitted tool names in a stable order.
func Whitelist() []string {
	return []string{ToolListProjects, ToolListTaskTypes, ToolGetCurrentTime, ToolGetTask, ToolSearchTasks}
}

func IsKnownTool(name string) bool {
	for _, t := range Whitelist() {
		if t == name {
			return true
		}
	}
	return false
}

// Call is one model-requested lookup.
type Call struct {
	Tool string
	Args map[string]interface{}
}

// Result tags every execution with the originating call so the model can
// self-correct in the next round.
type Result struct {
	Tool    string                 `json:"tool"`
	Args    map[string]interface{} `json:"args"`
	OK      bool                   `json:"ok"`
	Payload interface{}            `json:"payload"`
}

// Executor answers the whitelisted read-only queries against one snapshot.
// It never touches the live store.
type Executor struct {
	snapshot domain.Snapshot
}

func NewExecutor(snapshot domain.Snapshot) *Executor {
	return &Executor{snapshot: snapshot}
}

// Execute runs one call. The second return is false for a tool name outside
// the whitelist; such calls are dropped by the caller, not errored.
func (e *Executor) Execute(call Call) (Result, bool) {
	res := Result{Tool: call.Tool, Args: call.Args}
	switch call.Tool {
	case ToolListProjects:
		res.OK = true
		res.Payload = projectViews(e.snapshot.Projects)
	case ToolListTaskTypes:
		res.OK = true
		res.Payload = typeViews(e.snapshot.Types)
	case ToolGetCurrentTime:
		res.OK = true
		res.Payload = e.snapshot.Now.Format(time.RFC3339)
	case ToolGetTask:
		id := stringArg(call.Args, "id")
		task, ok := e.snapshot.TaskByID(id)
		if !ok {
			res.OK = false
			res.Payload = fmt.Sprintf("task not found: %s", id)
			return res, true
		}
		res.OK = true
		res.Payload = e.taskView(task)
	case ToolSearchTasks:
		res.OK = true
		res.Payload = e.searchTasks(call.Args)
	default:
		return Result{}, false
	}
	return res, true
}

func (e *Executor) searchTasks(args map[string]interface{}) []map[string]interface{} {
	keyword := strings.ToLower(strings.TrimSpace(stringArg(args, "keyword")))
	projectID := strings.TrimSpace(stringArg(args, "projectId"))
	statusRaw := strings.TrimSpace(stringArg(args, "status"))
	limit := intArg(args, "limit", defaultSearchLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	var status domain.Status
	if statusRaw != "" {
		if parsed, ok := domain.ParseStatus(statusRaw); ok {
			status = parsed
		}
	}

	matches := make([]domain.Task, 0, limit)
	for _, t := range e.snapshot.Tasks {
		if projectID != "" && t.ProjectID != projectID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		if keyword != "" && !e.matchesKeyword(t, keyword) {
			continue
		}
		matches = append(matches, t)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].UpdatedAt.Equal(matches[j].UpdatedAt) {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	views := make([]map[string]interface{}, 0, len(matches))
	for _, t := range matches {
		views = append(views, e.taskView(t))
	}
	return views
}

func (e *Executor) matchesKeyword(t domain.Task, keyword string) bool {
	fields := []string{
		t.Title,
		t.Body,
		e.snapshot.ProjectName(t.ProjectID),
		e.snapshot.TypeName(t.TypeID),
	}
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), keyword) {
			return true
		}
	}
	return false
}

func (e *Executor) taskView(t domain.Task) map[string]interface{} {
	view := map[string]interface{}{
		"id":        t.ID,
		"title":     t.Title,
		"status":    string(t.Status),
		"start":     t.Start.Format(time.RFC3339),
		"project":   e.snapshot.ProjectName(t.ProjectID),
		"projectId": t.ProjectID,
		"type":      e.snapshot.TypeName(t.TypeID),
		"typeId":    t.TypeID,
		"important": t.Important,
	}
	if t.Body != "" {
		view["body"] = t.Body
	}
	if t.End != nil {
		view["end"] = t.End.Format(time.RFC3339)
	}
	return view
}

func projectViews(projects []domain.Project) []map[string]interface{} {
	views := make([]map[string]interface{}, 0, len(projects))
	for _, p := range projects {
		views = append(views, map[string]interface{}{
			"id":   p.ID,
			"name": p.Name,
		})
	}
	return views
}

func typeViews(types []domain.TaskType) []map[string]interface{} {
	views := make([]map[string]interface{}, 0, len(types))
	for _, tt := range types {
		views = append(views, map[string]interface{}{
			"id":   tt.ID,
			"name": tt.Name,
		})
	}
	return views
}

func stringArg(args map[string]interface{}, key string) string {
	if args == nil {
		return ""
	}
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]interface{}, key string, fallback int) int {
	if args == nil {
		return fallback
	}
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return fallback
	}
}
