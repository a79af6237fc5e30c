package acp

import (
	"fmt"
	"strings"
	"time"

	"github.com/baton-gw/baton/pkg/acp/protocol"
)

// Canonical plan-entry status buckets.
const (
	PlanCompleted  = "completed"
	PlanInProgress = "in_progress"
	PlanPending    = "pending"
	PlanOther      = "other"
)

// PlanCounts aggregates entries by canonical status.
type PlanCounts struct {
	Completed  int `json:"completed"`
	InProgress int `json:"inProgress"`
	Pending    int `json:"pending"`
	Other      int `json:"other"`
	Total      int `json:"total"`
}

// PlanStatus is a point-in-time snapshot of the agent's self-reported plan.
type PlanStatus struct {
	Entries   []protocol.PlanEntry `json:"entries"`
	UpdatedAt time.Time            `json:"updatedAt"`
	Counts    PlanCounts           `json:"counts"`
	Current   string               `json:"current"` // first in_progress entry, if any
	Summary   string               `json:"summary"`
}

// NormalizeStatus folds the agent's free-form status strings into the four
// canonical buckets.
func NormalizeStatus(raw string) string {
	switch strings.ToLower(raw) {
	case "completed", "done":
		return PlanCompleted
	case "in_progress", "in-progress", "running", "active":
		return PlanInProgress
	case "pending", "todo", "not_started", "not-started":
		return PlanPending
	default:
		return PlanOther
	}
}

// StatusEmoji maps a canonical status to its display emoji.
func StatusEmoji(status string) string {
	switch NormalizeStatus(status) {
	case PlanCompleted:
		return "✅"
	case PlanInProgress:
		return "🚧"
	case PlanPending:
		return "⏳"
	default:
		return "❔"
	}
}

// PriorityEmoji maps a plan-entry priority to its display emoji.
func PriorityEmoji(priority string) string {
	switch strings.ToLower(priority) {
	case "high":
		return "🔥"
	case "medium":
		return "⚖️"
	case "low":
		return "🧊"
	default:
		return "📌"
	}
}

// buildPlanStatus computes the snapshot for a copied entry slice.
func buildPlanStatus(entries []protocol.PlanEntry, updatedAt time.Time) *PlanStatus {
	st := &PlanStatus{Entries: entries, UpdatedAt: updatedAt}
	for _, e := range entries {
		st.Counts.Total++
		switch NormalizeStatus(e.Status) {
		case PlanCompleted:
			st.Counts.Completed++
		case PlanInProgress:
			st.Counts.InProgress++
			if st.Current == "" {
				st.Current = e.Content
			}
		case PlanPending:
			st.Counts.Pending++
		default:
			st.Counts.Other++
		}
	}
	st.Summary = fmt.Sprintf("总计 %d 步，完成 %d，进行中 %d，待处理 %d",
		st.Counts.Total, st.Counts.Completed, st.Counts.InProgress, st.Counts.Pending)
	return st
}
