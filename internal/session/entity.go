// Package session implements the gateway's per-conversation execution
// contexts: the session table, per-session task queues, pending interactions,
// and the state machine that serializes work against each agent.
package session

import (
	"context"
	"time"

	"github.com/baton-gw/baton/internal/agent/acp"
	"github.com/baton-gw/baton/internal/task"
	"github.com/baton-gw/baton/pkg/acp/protocol"
)

// State is the session execution state.
type State string

const (
	StateIdle           State = "IDLE"
	StateRunning        State = "RUNNING"
	StateWaitingConfirm State = "WAITING_CONFIRM"
	StateStopped        State = "STOPPED"
)

// AgentClient is the slice of the ACP client a session depends on.
// *acp.Client satisfies it; tests substitute fakes.
type AgentClient interface {
	SendPrompt(ctx context.Context, text string) (*acp.Response, error)
	SendCommand(ctx context.Context, text string) (*acp.Response, error)
	Cancel()
	SetMode(ctx context.Context, modeID string) *acp.Response
	SetModel(ctx context.Context, modelID string) *acp.Response
	Status() acp.AgentStatus
	PlanStatus() *acp.PlanStatus
	Modes() *protocol.SessionModeState
	Models() *protocol.SessionModelState
	Stop()
}

// Session is the unit of serial execution. Its queue, state, and interaction
// fields are guarded by the manager's per-session lock; the Agent field is
// set once during lazy initialization and read-only afterwards.
type Session struct {
	ID          string
	UserID      string
	ContextID   string
	ProjectPath string
	RepoName    string

	Agent AgentClient // nil until first use

	State        State
	IsProcessing bool
	Current      *task.Task
	Pending      []*task.Task

	Interactions map[string]*Interaction

	CreatedAt time.Time
}

// Snapshot builds a queue view for user-facing messages.
func (s *Session) Snapshot() *task.QueueSnapshot {
	snap := &task.QueueSnapshot{PendingCount: len(s.Pending), Pending: []task.Preview{}}
	if s.Current != nil {
		p := task.PreviewOf(s.Current)
		snap.Current = &p
	}
	for i, t := range s.Pending {
		if i >= 5 {
			break
		}
		snap.Pending = append(snap.Pending, task.PreviewOf(t))
	}
	return snap
}
