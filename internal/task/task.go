// Package task defines the unit of work flowing through a session's queue.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Type distinguishes plain prompts from agent slash-commands.
type Type string

const (
	TypePrompt  Type = "prompt"
	TypeCommand Type = "command"
)

// Task is immutable after creation.
type Task struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a task with a fresh id.
func New(content string, typ Type) *Task {
	return &Task{
		ID:        uuid.New().String(),
		Type:      typ,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// previewLen bounds how much task content appears in queue snapshots.
const previewLen = 50

// Preview is a truncated view of a task for queue snapshots.
type Preview struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// PreviewOf truncates a task's content for display.
func PreviewOf(t *Task) Preview {
	content := t.Content
	if len([]rune(content)) > previewLen {
		content = string([]rune(content)[:previewLen]) + "…"
	}
	return Preview{ID: t.ID, Content: content}
}

// QueueSnapshot is a point-in-time view of one session's queue.
type QueueSnapshot struct {
	Current      *Preview  `json:"current,omitempty"`
	Pending      []Preview `json:"pending"`
	PendingCount int       `json:"pendingCount"`
}
