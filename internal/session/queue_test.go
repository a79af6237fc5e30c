package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/baton-gw/baton/internal/agent/acp"
	"github.com/baton-gw/baton/internal/common/logger"
	"github.com/baton-gw/baton/internal/task"
	"github.com/baton-gw/baton/pkg/acp/protocol"
)

// fakeAgent satisfies AgentClient for queue and manager tests.
type fakeAgent struct {
	mu         sync.Mutex
	sent       []string
	reply      func(ctx context.Context, text string) (*acp.Response, error)
	plan       *acp.PlanStatus
	modes      *protocol.SessionModeState
	models     *protocol.SessionModelState
	cancels    int
	stopped    bool
	permission acp.PermissionHandler
	cancelOnce sync.Once
	onCancel   func()
}

func (f *fakeAgent) SendPrompt(ctx context.Context, text string) (*acp.Response, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	reply := f.reply
	f.mu.Unlock()
	if reply != nil {
		return reply(ctx, text)
	}
	return &acp.Response{Success: true, Message: "ok: " + text}, nil
}

func (f *fakeAgent) SendCommand(ctx context.Context, text string) (*acp.Response, error) {
	return f.SendPrompt(ctx, text)
}

func (f *fakeAgent) Cancel() {
	f.mu.Lock()
	f.cancels++
	cb := f.onCancel
	f.mu.Unlock()
	if cb != nil {
		f.cancelOnce.Do(cb)
	}
}

func (f *fakeAgent) SetMode(ctx context.Context, modeID string) *acp.Response {
	if f.modes == nil {
		return &acp.Response{Success: false, Message: "not supported"}
	}
	f.modes.CurrentModeID = modeID
	return &acp.Response{Success: true}
}

func (f *fakeAgent) SetModel(ctx context.Context, modelID string) *acp.Response {
	if f.models == nil {
		return &acp.Response{Success: false, Message: "not supported"}
	}
	f.models.CurrentModelID = modelID
	return &acp.Response{Success: true}
}

func (f *fakeAgent) Status() acp.AgentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return acp.AgentStatus{PID: 42, Running: !f.stopped}
}

func (f *fakeAgent) PlanStatus() *acp.PlanStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plan
}

func (f *fakeAgent) Modes() *protocol.SessionModeState   { return f.modes }
func (f *fakeAgent) Models() *protocol.SessionModelState { return f.models }

func (f *fakeAgent) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func newTestSession(agent AgentClient) *Session {
	return &Session{
		ID:           "sess-test",
		UserID:       "u1",
		ProjectPath:  "/proj",
		Agent:        agent,
		State:        StateIdle,
		Interactions: make(map[string]*Interaction),
		CreatedAt:    time.Now(),
	}
}

type completion struct {
	task *task.Task
	resp *acp.Response
}

func TestEnqueueFastPath(t *testing.T) {
	agent := &fakeAgent{}
	done := make(chan completion, 1)
	engine := NewEngine(newLockTable(), func(s *Session, tk *task.Task, resp *acp.Response) {
		done <- completion{tk, resp}
	}, logger.NewNop())
	s := newTestSession(agent)

	result := engine.Enqueue(context.Background(), s, "hello", task.TypePrompt)
	if !result.Success {
		t.Fatal("enqueue failed")
	}
	if result.Message != "" {
		t.Errorf("fast path should return empty message, got %q", result.Message)
	}

	select {
	case c := <-done:
		if c.resp.Message != "ok: hello" {
			t.Errorf("unexpected response %q", c.resp.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback never fired")
	}

	// Queue drains back to IDLE.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State == StateIdle && s.Current == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("session did not return to IDLE, state=%s", s.State)
}

func TestEnqueueFIFOOrderAndPositions(t *testing.T) {
	gate := make(chan struct{})
	agent := &fakeAgent{
		reply: func(ctx context.Context, text string) (*acp.Response, error) {
			<-gate
			return &acp.Response{Success: true, Message: "done: " + text}, nil
		},
	}
	done := make(chan completion, 3)
	engine := NewEngine(newLockTable(), func(s *Session, tk *task.Task, resp *acp.Response) {
		done <- completion{tk, resp}
	}, logger.NewNop())
	s := newTestSession(agent)

	first := engine.Enqueue(context.Background(), s, "A", task.TypePrompt)
	if first.Message != "" {
		t.Errorf("first enqueue should start immediately, got %q", first.Message)
	}
	second := engine.Enqueue(context.Background(), s, "B", task.TypePrompt)
	if second.Position != 1 {
		t.Errorf("expected position 1, got %d", second.Position)
	}
	third := engine.Enqueue(context.Background(), s, "C", task.TypePrompt)
	if third.Position != 2 {
		t.Errorf("expected position 2, got %d", third.Position)
	}
	if !strings.Contains(third.Message, "1. B") {
		t.Errorf("expected pending preview in message, got %q", third.Message)
	}

	close(gate)

	var order []string
	for i := 0; i < 3; i++ {
		select {
		case c := <-done:
			order = append(order, c.resp.Message)
		case <-time.After(2 * time.Second):
			t.Fatalf("callback %d never fired", i)
		}
	}
	want := []string{"done: A", "done: B", "done: C"}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("completion order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestEnqueueQueuedWhileStopped(t *testing.T) {
	agent := &fakeAgent{}
	fired := make(chan completion, 1)
	engine := NewEngine(newLockTable(), func(s *Session, tk *task.Task, resp *acp.Response) {
		fired <- completion{tk, resp}
	}, logger.NewNop())
	s := newTestSession(agent)
	s.State = StateStopped

	result := engine.Enqueue(context.Background(), s, "later", task.TypePrompt)
	if result.Position != 1 {
		t.Errorf("expected position 1, got %d", result.Position)
	}
	if !strings.Contains(result.Message, "/reset") {
		t.Errorf("expected stopped hint, got %q", result.Message)
	}

	select {
	case <-fired:
		t.Error("stopped session must not execute tasks")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEnqueueWaitingConfirmHint(t *testing.T) {
	agent := &fakeAgent{}
	engine := NewEngine(newLockTable(), nil, logger.NewNop())
	s := newTestSession(agent)
	s.State = StateWaitingConfirm
	s.Current = task.New("long running", task.TypePrompt)

	result := engine.Enqueue(context.Background(), s, "queued", task.TypePrompt)
	if !strings.Contains(result.Message, "auto-resume") {
		t.Errorf("expected waiting-confirm hint, got %q", result.Message)
	}
	if !strings.Contains(result.Message, "long running") {
		t.Errorf("expected current-task snapshot, got %q", result.Message)
	}
}

func TestAttachPlanProgressPrefix(t *testing.T) {
	agent := &fakeAgent{
		plan: &acp.PlanStatus{
			Entries: []protocol.PlanEntry{
				{Content: "step1", Status: "done", Priority: "high"},
				{Content: "step2", Status: "in_progress", Priority: "medium"},
				{Content: "step3", Status: "pending", Priority: "low"},
				{Content: "step4", Status: "pending", Priority: "low"},
			},
			Counts:  acp.PlanCounts{Completed: 1, InProgress: 1, Pending: 2, Total: 4},
			Summary: "总计 4 步，完成 1，进行中 1，待处理 2",
		},
	}
	engine := NewEngine(newLockTable(), nil, logger.NewNop())
	s := newTestSession(agent)

	resp := engine.attachPlanProgressPrefix(s, &acp.Response{Success: true, Message: "all done"})
	if !strings.HasPrefix(resp.Message, planPrefixHeader) {
		t.Fatalf("expected plan prefix, got %q", resp.Message)
	}
	if !strings.Contains(resp.Message, "… and 1 more") {
		t.Errorf("expected overflow tail, got %q", resp.Message)
	}
	if !strings.Contains(resp.Message, "all done") {
		t.Errorf("original message lost: %q", resp.Message)
	}

	// Idempotent: applying again must not duplicate the prefix.
	again := engine.attachPlanProgressPrefix(s, resp)
	if strings.Count(again.Message, planPrefixHeader) != 1 {
		t.Errorf("prefix duplicated: %q", again.Message)
	}
}

func TestAttachPlanPrefixNoPlan(t *testing.T) {
	engine := NewEngine(newLockTable(), nil, logger.NewNop())
	s := newTestSession(&fakeAgent{})

	resp := engine.attachPlanProgressPrefix(s, &acp.Response{Success: true, Message: "plain"})
	if resp.Message != "plain" {
		t.Errorf("expected untouched message, got %q", resp.Message)
	}
}

func TestProcessTaskWithoutAgent(t *testing.T) {
	done := make(chan completion, 1)
	engine := NewEngine(newLockTable(), func(s *Session, tk *task.Task, resp *acp.Response) {
		done <- completion{tk, resp}
	}, logger.NewNop())
	s := newTestSession(nil)

	engine.Enqueue(context.Background(), s, "hello", task.TypePrompt)

	select {
	case c := <-done:
		if c.resp.Success {
			t.Error("expected failure without agent")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback never fired")
	}
}
