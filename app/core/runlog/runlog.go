// Package runlog appends a JSONL trace of agent activity: one record per
// model round plus explicit records for silently dropped tool calls and
// operations. Writing is best-effort; a broken log never fails a run.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	StageRound   = "round"
	StageDropped = "dropped"
	StageApply   = "apply"
	StageUndo    = "undo"
)

const previewLen = 240

type Entry struct {
	Timestamp     string `json:"timestamp"`
	RunID         string `json:"run_id"`
	Stage         string `json:"stage"`
	Round         int    `json:"round,omitempty"`
	Status        string `json:"status"`
	DurationMs    int64  `json:"duration_ms,omitempty"`
	PromptChars   int    `json:"prompt_chars,omitempty"`
	OutputChars   int    `json:"output_chars,omitempty"`
	PromptPreview string `json:"prompt_preview,omitempty"`
	OutputPreview string `json:"output_preview,omitempty"`
	Detail        string `json:"detail,omitempty"`
	Error         string `json:"error,omitempty"`
}

type Logger struct {
	mu  sync.Mutex
	dir string
}

// New returns a logger writing under dir. An empty dir disables writing.
func New(dir string) *Logger {
	return &Logger{dir: dir}
}

// Round records one model round-trip.
func (l *Logger) Round(runID string, round int, prompt, output string, duration time.Duration, runErr error) {
	e := Entry{
		RunID:         runID,
		Stage:         StageRound,
		Round:         round,
		Status:        "ok",
		DurationMs:    duration.Milliseconds(),
		PromptChars:   len(prompt),
		OutputChars:   len(output),
		PromptPreview: previewText(prompt),
		OutputPreview: previewText(output),
	}
	if runErr != nil {
		e.Status = "error"
		e.Error = runErr.Error()
	}
	l.append(e)
}

// Dropped records a tool call, operation or field the parser discarded
// silently. The lax drop behavior is deliberate; this is its paper trail.
func (l *Logger) Dropped(runID string, round int, detail string) {
	l.append(Entry{
		RunID:  runID,
		Stage:  StageDropped,
		Round:  round,
		Status: "dropped",
		Detail: detail,
	})
}

// Event records an apply or undo outcome.
func (l *Logger) Event(runID, stage, status, detail string) {
	l.append(Entry{
		RunID:  runID,
		Stage:  stage,
		Status: status,
		Detail: detail,
	})
}

func (l *Logger) append(e Entry) {
	if l == nil || l.dir == "" {
		return
	}
	e.Timestamp = time.Now().Format(time.RFC3339Nano)
	if e.RunID == "" {
		e.RunID = "unknown"
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return
	}

	dayDir := filepath.Join(l.dir, time.Now().Format("2006-01-02"))
	if err := os.MkdirAll(dayDir, 0755); err != nil {
		return
	}
	logPath := filepath.Join(dayDir, fmt.Sprintf("agent_%s.jsonl", time.Now().Format("20060102")))

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(append(payload, '\n'))
}

func previewText(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= previewLen {
		return text
	}
	return text[:previewLen] + "..."
}
