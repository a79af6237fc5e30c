package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/baton-gw/baton/internal/agent/acp"
	"github.com/baton-gw/baton/internal/common/logger"
	"github.com/baton-gw/baton/internal/i18n"
	"github.com/baton-gw/baton/internal/task"
)

// planPrefixHeader opens the plan-progress block prepended to responses. The
// idempotence check keys on it.
const planPrefixHeader = "📋 Plan progress"

// CompletionCallback receives each finished task's response. It runs without
// the session lock held and strictly in enqueue order within one session.
type CompletionCallback func(s *Session, t *task.Task, resp *acp.Response)

// EnqueueResult is the immediate answer to an enqueue. An empty Message means
// the task started right away and the caller should wait for the completion
// callback instead.
type EnqueueResult struct {
	Success  bool                `json:"success"`
	Message  string              `json:"message"`
	TaskID   string              `json:"taskId"`
	Position int                 `json:"position"`
	Queue    *task.QueueSnapshot `json:"queue,omitempty"`
}

// Engine drives per-session FIFO execution. It owns no session state: it
// mutates the queue and state fields of the sessions handed to it, under the
// shared per-session locks.
type Engine struct {
	locks      *lockTable
	onComplete CompletionCallback
	logger     *logger.Logger
}

// NewEngine builds the queue engine. The callback may be nil.
func NewEngine(locks *lockTable, onComplete CompletionCallback, log *logger.Logger) *Engine {
	return &Engine{
		locks:      locks,
		onComplete: onComplete,
		logger:     log.WithFields(zap.String("component", "task-queue")),
	}
}

// Enqueue appends work to a session. Fast path: an idle session with nothing
// pending starts the task immediately. Otherwise the task queues and the
// returned message tells the user where it sits.
func (e *Engine) Enqueue(ctx context.Context, s *Session, content string, typ task.Type) *EnqueueResult {
	t := task.New(content, typ)

	lock := e.locks.Get(s.ID)
	lock.Lock()

	if s.State == StateIdle && !s.IsProcessing && s.Current == nil && len(s.Interactions) == 0 {
		s.Current = t
		s.IsProcessing = true
		s.State = StateRunning
		lock.Unlock()

		e.logger.Debug("task started immediately",
			zap.String("session_id", s.ID),
			zap.String("task_id", t.ID))
		go e.processTask(ctx, s, t)
		return &EnqueueResult{Success: true, TaskID: t.ID}
	}

	s.Pending = append(s.Pending, t)
	position := len(s.Pending)
	state := s.State
	snapshot := s.Snapshot()
	lock.Unlock()

	e.logger.Debug("task queued",
		zap.String("session_id", s.ID),
		zap.String("task_id", t.ID),
		zap.Int("position", position))

	return &EnqueueResult{
		Success:  true,
		Message:  queuedMessage(position, state, snapshot),
		TaskID:   t.ID,
		Position: position,
		Queue:    snapshot,
	}
}

// queuedMessage composes the user-visible answer for the queued path.
func queuedMessage(position int, state State, snap *task.QueueSnapshot) string {
	var b strings.Builder
	b.WriteString(i18n.T("queue.position", position))
	switch state {
	case StateWaitingConfirm:
		b.WriteString("\n" + i18n.T("queue.paused.confirm"))
	case StateStopped:
		b.WriteString("\n" + i18n.T("queue.paused.stopped"))
	}
	if snap.Current != nil {
		b.WriteString("\n" + i18n.T("queue.current", snap.Current.Content))
	}
	if len(snap.Pending) > 0 {
		b.WriteString("\n" + i18n.T("queue.pending.header"))
		for i, p := range snap.Pending {
			b.WriteString(fmt.Sprintf("\n%d. %s", i+1, p.Content))
		}
		if snap.PendingCount > len(snap.Pending) {
			b.WriteString("\n" + i18n.T("queue.pending.more", snap.PendingCount-len(snap.Pending)))
		}
	}
	return b.String()
}

// processTask executes one task against the session's agent. The completion
// callback fires on every exit path, and processNext always follows it.
func (e *Engine) processTask(ctx context.Context, s *Session, t *task.Task) {
	defer e.processNext(ctx, s)

	e.logger.Info("processing task",
		zap.String("session_id", s.ID),
		zap.String("task_id", t.ID),
		zap.String("type", string(t.Type)))

	var resp *acp.Response
	if s.Agent == nil {
		resp = &acp.Response{Success: false, Message: i18n.T("agent.not_initialized")}
	} else {
		var err error
		if t.Type == task.TypeCommand {
			resp, err = s.Agent.SendCommand(ctx, t.Content)
		} else {
			resp, err = s.Agent.SendPrompt(ctx, t.Content)
		}
		if err != nil {
			resp = &acp.Response{Success: false, Message: err.Error()}
		}
	}

	resp = e.attachPlanProgressPrefix(s, resp)

	if e.onComplete != nil {
		e.onComplete(s, t, resp)
	}
}

// attachPlanProgressPrefix prepends a compact plan summary when the agent has
// reported plan entries. Idempotent: a response already carrying the prefix
// is returned unchanged.
func (e *Engine) attachPlanProgressPrefix(s *Session, resp *acp.Response) *acp.Response {
	if s.Agent == nil {
		return resp
	}
	plan := s.Agent.PlanStatus()
	if plan == nil || plan.Counts.Total == 0 {
		return resp
	}
	if strings.HasPrefix(resp.Message, planPrefixHeader) {
		return resp
	}

	var b strings.Builder
	b.WriteString(planPrefixHeader + "\n")
	b.WriteString(plan.Summary + "\n")
	shown := len(plan.Entries)
	if shown > 3 {
		shown = 3
	}
	for _, entry := range plan.Entries[:shown] {
		fmt.Fprintf(&b, "%s %s %s\n", acp.StatusEmoji(entry.Status), acp.PriorityEmoji(entry.Priority), entry.Content)
	}
	if len(plan.Entries) > shown {
		fmt.Fprintf(&b, "… and %d more\n", len(plan.Entries)-shown)
	}

	return &acp.Response{
		Success: resp.Success,
		Message: b.String() + "\n" + resp.Message,
	}
}

// processNext advances the session after a task finishes. A session paused
// on a confirmation or stopped outright keeps its queue frozen.
func (e *Engine) processNext(ctx context.Context, s *Session) {
	lock := e.locks.Get(s.ID)
	lock.Lock()

	if s.State == StateWaitingConfirm || s.State == StateStopped {
		lock.Unlock()
		return
	}

	if len(s.Pending) > 0 {
		next := s.Pending[0]
		s.Pending = s.Pending[1:]
		s.Current = next
		s.State = StateRunning
		s.IsProcessing = true
		lock.Unlock()
		go e.processTask(ctx, s, next)
		return
	}

	s.Current = nil
	s.State = StateIdle
	s.IsProcessing = false
	lock.Unlock()
}
