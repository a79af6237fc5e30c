package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/baton-gw/baton/internal/agent/acp"
	"github.com/baton-gw/baton/internal/common/config"
	"github.com/baton-gw/baton/internal/common/logger"
	"github.com/baton-gw/baton/internal/events"
	"github.com/baton-gw/baton/internal/events/bus"
	"github.com/baton-gw/baton/internal/i18n"
	"github.com/baton-gw/baton/internal/repos"
	"github.com/baton-gw/baton/internal/task"
	"github.com/baton-gw/baton/pkg/acp/protocol"
)

// SelectionPrompt is the payload of a selection-prompt event.
type SelectionPrompt struct {
	Kind    string   `json:"kind"`
	Title   string   `json:"title"`
	Options []Option `json:"options"`
}

// Listener receives the manager's user-facing events. Adapters register one
// listener each at startup and render the payloads to their platform.
type Listener interface {
	OnPermissionRequest(s *Session, requestID string, req *protocol.RequestPermissionParams)
	OnSelectionPrompt(s *Session, requestID string, sel *SelectionPrompt)
}

// AgentFactory spawns an agent client for a project. Injectable for tests.
type AgentFactory func(ctx context.Context, projectPath string, onPermission acp.PermissionHandler) (AgentClient, error)

// Manager owns the session table, the per-conversation repo cursor, the
// per-session locks, and the pending-interaction map.
type Manager struct {
	cfg    *config.Config
	inv    *repos.Inventory
	engine *Engine
	locks  *lockTable
	events bus.EventBus // optional
	logger *logger.Logger

	mu        sync.Mutex
	sessions  map[string]*Session // by session key
	cursor    map[string]string   // conversation key → projectPath
	listeners []Listener

	onComplete CompletionCallback
	newAgent   AgentFactory
}

// NewManager builds a session manager. eventBus may be nil.
func NewManager(cfg *config.Config, inv *repos.Inventory, eventBus bus.EventBus, log *logger.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		inv:      inv,
		locks:    newLockTable(),
		events:   eventBus,
		logger:   log.WithFields(zap.String("component", "session-manager")),
		sessions: make(map[string]*Session),
		cursor:   make(map[string]string),
	}
	m.engine = NewEngine(m.locks, m.handleCompletion, log)
	m.newAgent = m.spawnAgent
	return m
}

// SetCompletionCallback registers the adapter-facing completion hook. Must be
// called before any task is enqueued.
func (m *Manager) SetCompletionCallback(cb CompletionCallback) {
	m.onComplete = cb
}

// SetAgentFactory overrides how agents are spawned. Tests use this.
func (m *Manager) SetAgentFactory(f AgentFactory) {
	m.newAgent = f
}

// RegisterListener adds an adapter listener for permission and selection
// events.
func (m *Manager) RegisterListener(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

func (m *Manager) handleCompletion(s *Session, t *task.Task, resp *acp.Response) {
	m.publish(events.TaskCompleted, map[string]interface{}{
		"session_id": s.ID,
		"task_id":    t.ID,
		"success":    resp.Success,
	})
	if m.onComplete != nil {
		m.onComplete(s, t, resp)
	}
}

// Key derivation

const defaultContext = "__default__"

func conversationKey(userID, contextID string) string {
	if contextID == "" {
		contextID = defaultContext
	}
	return userID + ":" + contextID
}

func sessionKey(userID, contextID, projectPath string) string {
	if contextID == "" {
		return userID + ":" + projectPath
	}
	return userID + ":" + contextID + ":" + projectPath
}

// ProjectPathFor resolves the working directory for a conversation: cursor
// first, then the configured project, then the first repo in the inventory.
func (m *Manager) ProjectPathFor(userID, contextID string) string {
	m.mu.Lock()
	path, ok := m.cursor[conversationKey(userID, contextID)]
	m.mu.Unlock()
	if ok {
		return path
	}
	if m.cfg.Project.Path != "" {
		return m.cfg.Project.Path
	}
	if m.inv != nil && m.inv.Len() > 0 {
		return m.inv.All()[0].Path
	}
	return ""
}

// SetCursor moves the conversation's repo cursor. Only future session
// creation is affected; running sessions keep their project path.
func (m *Manager) SetCursor(userID, contextID, projectPath string) {
	m.mu.Lock()
	m.cursor[conversationKey(userID, contextID)] = projectPath
	m.mu.Unlock()
}

// GetOrCreateSession returns the session for the conversation's current
// project path, creating the entry if needed. The agent is not spawned here;
// see EnsureAgent.
func (m *Manager) GetOrCreateSession(userID, contextID string) (*Session, error) {
	projectPath := m.ProjectPathFor(userID, contextID)
	if projectPath == "" {
		return nil, fmt.Errorf("no project path configured for conversation %s", conversationKey(userID, contextID))
	}

	key := sessionKey(userID, contextID, projectPath)
	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		s = &Session{
			ID:           uuid.New().String(),
			UserID:       userID,
			ContextID:    contextID,
			ProjectPath:  projectPath,
			RepoName:     filepath.Base(projectPath),
			State:        StateIdle,
			Interactions: make(map[string]*Interaction),
			CreatedAt:    time.Now(),
		}
		m.sessions[key] = s
		m.logger.Info("session created",
			zap.String("session_id", s.ID),
			zap.String("user_id", userID),
			zap.String("project", projectPath))
	}
	m.mu.Unlock()

	if !ok {
		m.publish(events.SessionCreated, map[string]interface{}{
			"session_id": s.ID,
			"user_id":    userID,
			"project":    projectPath,
		})
	}
	return s, nil
}

// EnsureAgent lazily spawns the session's agent child process on first use.
// Concurrent callers race benignly: the loser's agent is stopped.
func (m *Manager) EnsureAgent(ctx context.Context, s *Session) error {
	lock := m.locks.Get(s.ID)
	lock.Lock()
	if s.Agent != nil {
		lock.Unlock()
		return nil
	}
	lock.Unlock()

	agent, err := m.newAgent(ctx, s.ProjectPath, m.permissionHandler(s))
	if err != nil {
		return fmt.Errorf("failed to start agent for %s: %w", s.ProjectPath, err)
	}

	lock.Lock()
	if s.Agent != nil {
		lock.Unlock()
		agent.Stop()
		return nil
	}
	s.Agent = agent
	lock.Unlock()

	m.publish(events.AgentStarted, map[string]interface{}{"session_id": s.ID})
	return nil
}

func (m *Manager) spawnAgent(ctx context.Context, projectPath string, onPermission acp.PermissionHandler) (AgentClient, error) {
	client := acp.NewClient(projectPath, m.cfg.ACP, onPermission, m.logger)
	if err := client.Start(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Enqueue routes a prompt or command into the session's queue.
func (m *Manager) Enqueue(ctx context.Context, s *Session, content string, typ task.Type) *EnqueueResult {
	m.publish(events.TaskQueued, map[string]interface{}{"session_id": s.ID})
	return m.engine.Enqueue(ctx, s, content, typ)
}

// permissionHandler synthesizes the closure handed to the ACP client: it
// registers a pending interaction, pauses the session, notifies adapters,
// and blocks until the user answers or the timeout fallback fires.
func (m *Manager) permissionHandler(s *Session) acp.PermissionHandler {
	return func(ctx context.Context, req *protocol.RequestPermissionParams) (string, error) {
		requestID := uuid.New().String()
		options := make([]Option, 0, len(req.Options))
		for _, o := range req.Options {
			options = append(options, Option{OptionID: o.OptionID, Name: o.Name})
		}
		inter := newInteraction(requestID, KindPermission, req.ToolCall.Title, options, req)

		lock := m.locks.Get(s.ID)
		lock.Lock()
		for id, old := range s.Interactions {
			old.Reject("replaced by new interaction")
			delete(s.Interactions, id)
		}
		s.Interactions[requestID] = inter
		s.State = StateWaitingConfirm
		lock.Unlock()

		m.logger.Info("permission requested",
			zap.String("session_id", s.ID),
			zap.String("request_id", requestID),
			zap.String("title", req.ToolCall.Title))

		m.emitPermissionRequest(s, requestID, req)
		m.publish(events.PermissionRequested, map[string]interface{}{
			"session_id": s.ID,
			"request_id": requestID,
			"title":      req.ToolCall.Title,
		})

		timer := time.AfterFunc(m.cfg.PermissionTimeout(), func() {
			m.timeoutInteraction(s, requestID)
		})
		defer timer.Stop()

		return inter.Wait(ctx)
	}
}

// timeoutInteraction resolves a still-pending interaction with the fallback
// option and restores the session state.
func (m *Manager) timeoutInteraction(s *Session, requestID string) {
	lock := m.locks.Get(s.ID)
	lock.Lock()
	inter, ok := s.Interactions[requestID]
	if !ok {
		lock.Unlock()
		return
	}
	delete(s.Interactions, requestID)
	m.restoreStateLocked(s)
	lock.Unlock()

	fallback := timeoutFallback(inter.Options)
	m.logger.Warn("interaction timed out, using fallback",
		zap.String("session_id", s.ID),
		zap.String("request_id", requestID),
		zap.String("fallback", fallback))
	inter.Resolve(fallback)

	m.publish(events.InteractionResolved, map[string]interface{}{
		"session_id": s.ID,
		"request_id": requestID,
		"option_id":  fallback,
		"timeout":    true,
	})
}

// timeoutFallback prefers an option named deny or cancel, then the first
// option, then the literal "deny".
func timeoutFallback(options []Option) string {
	for _, o := range options {
		name := strings.ToLower(o.Name)
		if strings.Contains(name, "deny") || strings.Contains(name, "cancel") {
			return o.OptionID
		}
	}
	if len(options) > 0 {
		return options[0].OptionID
	}
	return "deny"
}

// restoreStateLocked puts the session back to RUNNING or IDLE after an
// interaction leaves the pending map. Caller holds the session lock.
func (m *Manager) restoreStateLocked(s *Session) {
	if s.State != StateWaitingConfirm {
		return
	}
	if s.Current != nil {
		s.State = StateRunning
	} else {
		s.State = StateIdle
	}
}

// findSessionByID does a best-effort linear scan.
func (m *Manager) findSessionByID(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == sessionID {
			return s
		}
	}
	return nil
}

// sessionFor returns the live session for a conversation's current cursor,
// or nil.
func (m *Manager) sessionFor(userID, contextID string) *Session {
	projectPath := m.ProjectPathFor(userID, contextID)
	if projectPath == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionKey(userID, contextID, projectPath)]
}

// ResolveInteraction converts the user's reply into an optionId and resolves
// the pending interaction. An empty requestID targets the session's only
// pending interaction.
func (m *Manager) ResolveInteraction(ctx context.Context, sessionID, requestID, input string) *acp.Response {
	s := m.findSessionByID(sessionID)
	if s == nil {
		return &acp.Response{Success: false, Message: i18n.T("session.none")}
	}

	lock := m.locks.Get(s.ID)
	lock.Lock()

	var inter *Interaction
	if requestID != "" {
		inter = s.Interactions[requestID]
	} else {
		for _, i := range s.Interactions {
			inter = i
			break
		}
	}
	if inter == nil {
		lock.Unlock()
		return &acp.Response{Success: false, Message: i18n.T("interaction.none")}
	}

	optionID, ok := matchOption(inter, input)
	if !ok {
		ids := make([]string, 0, len(inter.Options))
		for _, o := range inter.Options {
			ids = append(ids, o.OptionID)
		}
		lock.Unlock()
		return &acp.Response{
			Success: false,
			Message: i18n.T("interaction.invalid", input, strings.Join(ids, ", "), len(inter.Options)-1),
		}
	}

	delete(s.Interactions, inter.RequestID)
	m.restoreStateLocked(s)
	lock.Unlock()

	resp := m.applyResolution(ctx, s, inter, optionID)

	m.publish(events.InteractionResolved, map[string]interface{}{
		"session_id": s.ID,
		"request_id": inter.RequestID,
		"option_id":  optionID,
	})

	// A queue that filled up behind the interaction resumes now.
	lock.Lock()
	if s.State == StateIdle && !s.IsProcessing && s.Current == nil && len(s.Pending) > 0 {
		next := s.Pending[0]
		s.Pending = s.Pending[1:]
		s.Current = next
		s.State = StateRunning
		s.IsProcessing = true
		go m.engine.processTask(ctx, s, next)
	}
	lock.Unlock()
	return resp
}

// applyResolution performs the kind-specific effect of a resolved
// interaction.
func (m *Manager) applyResolution(ctx context.Context, s *Session, inter *Interaction, optionID string) *acp.Response {
	switch inter.Kind {
	case KindRepoSelection:
		id := strings.TrimPrefix(optionID, "repo:")
		repo, ok := m.inv.Lookup(id)
		if !ok {
			inter.Reject("unknown repository")
			return &acp.Response{Success: false, Message: i18n.T("repo.unknown", id)}
		}
		m.SetCursor(s.UserID, s.ContextID, repo.Path)
		inter.Resolve(optionID)
		return &acp.Response{Success: true, Message: i18n.T("repo.switched", repo.Name, repo.Path)}

	case KindModeSelection:
		inter.Resolve(optionID)
		if s.Agent != nil {
			if r := s.Agent.SetMode(ctx, optionID); !r.Success {
				return r
			}
		}
		return &acp.Response{Success: true, Message: i18n.T("mode.switched", optionID)}

	case KindModelSelection:
		inter.Resolve(optionID)
		if s.Agent != nil {
			if r := s.Agent.SetModel(ctx, optionID); !r.Success {
				return r
			}
		}
		return &acp.Response{Success: true, Message: i18n.T("model.switched", optionID)}

	default:
		inter.Resolve(optionID)
		name := optionID
		for _, o := range inter.Options {
			if o.OptionID == optionID {
				name = o.Name
				break
			}
		}
		return &acp.Response{Success: true, Message: i18n.T("interaction.resolved", name)}
	}
}

// matchOption converts user input to an optionId. Numeric input is a 0-based
// index; non-numeric input matches optionId then display name, both
// case-insensitive.
func matchOption(inter *Interaction, input string) (string, bool) {
	input = strings.TrimSpace(input)
	if n, err := strconv.Atoi(input); err == nil {
		if n >= 0 && n < len(inter.Options) {
			return inter.Options[n].OptionID, true
		}
		return "", false
	}
	for _, o := range inter.Options {
		if strings.EqualFold(o.OptionID, input) {
			return o.OptionID, true
		}
	}
	for _, o := range inter.Options {
		if strings.EqualFold(o.Name, input) {
			return o.OptionID, true
		}
	}
	return "", false
}

// TryResolveInteraction resolves a pending interaction when the text is a
// plausible selection. Returns nil when the session has no pending
// interaction or the text matches no option, so the caller can treat the
// text as a prompt.
func (m *Manager) TryResolveInteraction(ctx context.Context, userID, contextID, text string) *acp.Response {
	s := m.sessionFor(userID, contextID)
	if s == nil {
		return nil
	}

	lock := m.locks.Get(s.ID)
	lock.Lock()
	var inter *Interaction
	for _, i := range s.Interactions {
		inter = i
		break
	}
	if inter == nil {
		lock.Unlock()
		return nil
	}
	_, ok := matchOption(inter, text)
	requestID := inter.RequestID
	lock.Unlock()

	if !ok {
		return nil
	}
	return m.ResolveInteraction(ctx, s.ID, requestID, text)
}

// ResetSession destroys the conversation's session: cancels the current
// task, stops the agent, rejects pending interactions, and frees the entry.
func (m *Manager) ResetSession(userID, contextID string) *acp.Response {
	projectPath := m.ProjectPathFor(userID, contextID)
	key := sessionKey(userID, contextID, projectPath)

	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	if !ok {
		return &acp.Response{Success: false, Message: i18n.T("session.none")}
	}

	lock := m.locks.Get(s.ID)
	lock.Lock()
	cancelled := s.Current != nil
	cleared := len(s.Pending)
	rejected := len(s.Interactions)
	for id, inter := range s.Interactions {
		inter.Reject("Session reset")
		delete(s.Interactions, id)
	}
	s.Pending = nil
	s.Current = nil
	s.State = StateStopped
	agent := s.Agent
	lock.Unlock()

	if agent != nil {
		agent.Cancel()
		agent.Stop()
	}

	m.logger.Info("session reset",
		zap.String("session_id", s.ID),
		zap.Bool("cancelled_current", cancelled),
		zap.Int("cleared_pending", cleared),
		zap.Int("rejected_interactions", rejected))
	m.publish(events.SessionReset, map[string]interface{}{"session_id": s.ID})

	return &acp.Response{Success: true, Message: i18n.T("session.reset", cancelled, cleared, rejected)}
}

// StopTask cancels work. target "all" freezes the session until /reset, an
// empty target cancels only the current task, and a task id removes that
// queued task.
func (m *Manager) StopTask(userID, contextID, target string) *acp.Response {
	s := m.sessionFor(userID, contextID)
	if s == nil {
		return &acp.Response{Success: false, Message: i18n.T("session.none")}
	}

	lock := m.locks.Get(s.ID)

	switch target {
	case "all":
		lock.Lock()
		cleared := len(s.Pending)
		s.Pending = nil
		s.Current = nil
		for id, inter := range s.Interactions {
			inter.Reject("task stopped")
			delete(s.Interactions, id)
		}
		s.State = StateStopped
		agent := s.Agent
		lock.Unlock()

		if agent != nil {
			agent.Cancel()
		}
		m.publish(events.TaskStopped, map[string]interface{}{"session_id": s.ID, "scope": "all"})
		return &acp.Response{Success: true, Message: i18n.T("stop.all", cleared)}

	case "":
		lock.Lock()
		s.Current = nil
		if s.State == StateRunning || s.State == StateWaitingConfirm {
			s.State = StateIdle
		}
		agent := s.Agent
		lock.Unlock()

		if agent != nil {
			agent.Cancel()
		}
		m.publish(events.TaskStopped, map[string]interface{}{"session_id": s.ID, "scope": "current"})
		return &acp.Response{Success: true, Message: i18n.T("stop.current")}

	default:
		lock.Lock()
		defer lock.Unlock()
		for i, t := range s.Pending {
			if t.ID == target {
				s.Pending = append(s.Pending[:i], s.Pending[i+1:]...)
				return &acp.Response{Success: true, Message: i18n.T("stop.removed", target)}
			}
		}
		return &acp.Response{Success: false, Message: i18n.T("stop.unknown_task", target)}
	}
}

// QueueStatus builds the /current status card.
func (m *Manager) QueueStatus(userID, contextID string) *acp.Response {
	s := m.sessionFor(userID, contextID)
	if s == nil {
		return &acp.Response{Success: false, Message: i18n.T("session.none")}
	}

	lock := m.locks.Get(s.ID)
	lock.Lock()
	state := s.State
	snap := s.Snapshot()
	repoName := s.RepoName
	projectPath := s.ProjectPath
	agent := s.Agent
	lock.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\n", s.ID[:8])
	fmt.Fprintf(&b, "Repo: %s (%s)\n", repoName, projectPath)
	fmt.Fprintf(&b, "State: %s\n", state)
	if agent != nil {
		st := agent.Status()
		fmt.Fprintf(&b, "Agent: pid=%d running=%v\n", st.PID, st.Running)
		if plan := agent.PlanStatus(); plan != nil {
			fmt.Fprintf(&b, "Plan: %s\n", plan.Summary)
		}
	}
	if snap.Current != nil {
		b.WriteString(i18n.T("queue.current", snap.Current.Content) + "\n")
	}
	if len(snap.Pending) > 0 {
		b.WriteString(i18n.T("queue.pending.header"))
		for i, p := range snap.Pending {
			fmt.Fprintf(&b, "\n%d. %s", i+1, p.Content)
		}
		if snap.PendingCount > len(snap.Pending) {
			b.WriteString("\n" + i18n.T("queue.pending.more", snap.PendingCount-len(snap.Pending)))
		}
	}
	return &acp.Response{Success: true, Message: strings.TrimRight(b.String(), "\n")}
}

// registerSelection replaces any pending interaction with a new selection
// and notifies adapters.
func (m *Manager) registerSelection(s *Session, kind, title string, options []Option) string {
	requestID := uuid.New().String()
	inter := newInteraction(requestID, kind, title, options, nil)

	lock := m.locks.Get(s.ID)
	lock.Lock()
	for id, old := range s.Interactions {
		old.Reject("replaced by new interaction")
		delete(s.Interactions, id)
	}
	s.Interactions[requestID] = inter
	lock.Unlock()

	m.emitSelectionPrompt(s, requestID, &SelectionPrompt{Kind: kind, Title: title, Options: options})
	m.publish(events.SelectionPrompted, map[string]interface{}{
		"session_id": s.ID,
		"request_id": requestID,
		"kind":       kind,
	})
	return requestID
}

// TriggerModeSelection offers the agent's modes as a selection card.
func (m *Manager) TriggerModeSelection(ctx context.Context, userID, contextID string) *acp.Response {
	s, err := m.GetOrCreateSession(userID, contextID)
	if err != nil {
		return &acp.Response{Success: false, Message: err.Error()}
	}
	if err := m.EnsureAgent(ctx, s); err != nil {
		return &acp.Response{Success: false, Message: err.Error()}
	}

	modes := s.Agent.Modes()
	if modes == nil || len(modes.AvailableModes) == 0 {
		return &acp.Response{Success: false, Message: "not supported"}
	}

	options := make([]Option, 0, len(modes.AvailableModes))
	for _, mode := range modes.AvailableModes {
		options = append(options, Option{OptionID: mode.ID, Name: mode.Name})
	}
	m.registerSelection(s, KindModeSelection, i18n.T("select.mode.title"), options)
	return &acp.Response{Success: true, Message: selectionMessage(i18n.T("select.mode.title"), options, modes.CurrentModeID)}
}

// TriggerModelSelection offers the agent's models as a selection card.
func (m *Manager) TriggerModelSelection(ctx context.Context, userID, contextID string) *acp.Response {
	s, err := m.GetOrCreateSession(userID, contextID)
	if err != nil {
		return &acp.Response{Success: false, Message: err.Error()}
	}
	if err := m.EnsureAgent(ctx, s); err != nil {
		return &acp.Response{Success: false, Message: err.Error()}
	}

	models := s.Agent.Models()
	if models == nil || len(models.AvailableModels) == 0 {
		return &acp.Response{Success: false, Message: "not supported"}
	}

	options := make([]Option, 0, len(models.AvailableModels))
	for _, model := range models.AvailableModels {
		options = append(options, Option{OptionID: model.ModelID, Name: model.Name})
	}
	m.registerSelection(s, KindModelSelection, i18n.T("select.model.title"), options)
	return &acp.Response{Success: true, Message: selectionMessage(i18n.T("select.model.title"), options, models.CurrentModelID)}
}

// CreateRepoSelection offers the repository inventory as a selection card.
func (m *Manager) CreateRepoSelection(userID, contextID string) *acp.Response {
	s, err := m.GetOrCreateSession(userID, contextID)
	if err != nil {
		return &acp.Response{Success: false, Message: err.Error()}
	}

	all := m.inv.All()
	options := make([]Option, 0, len(all))
	for _, r := range all {
		options = append(options, Option{
			OptionID: fmt.Sprintf("repo:%d", r.Index),
			Name:     fmt.Sprintf("%s (%s)", r.Name, r.Path),
		})
	}
	m.registerSelection(s, KindRepoSelection, i18n.T("select.repo.title"), options)
	return &acp.Response{Success: true, Message: selectionMessage(i18n.T("select.repo.title"), options, "")}
}

// SwitchRepo moves the conversation cursor directly by repo index or name.
func (m *Manager) SwitchRepo(userID, contextID, id string) *acp.Response {
	repo, ok := m.inv.Lookup(id)
	if !ok {
		return &acp.Response{Success: false, Message: i18n.T("repo.unknown", id)}
	}
	m.SetCursor(userID, contextID, repo.Path)
	return &acp.Response{Success: true, Message: i18n.T("repo.switched", repo.Name, repo.Path)}
}

// ListRepos renders the repository inventory.
func (m *Manager) ListRepos() *acp.Response {
	var b strings.Builder
	b.WriteString(i18n.T("repo.list.header"))
	for _, r := range m.inv.All() {
		fmt.Fprintf(&b, "\n%d. %s (%s)", r.Index, r.Name, r.Path)
	}
	return &acp.Response{Success: true, Message: b.String()}
}

// SwitchMode switches the agent mode directly by id or display name.
func (m *Manager) SwitchMode(ctx context.Context, userID, contextID, name string) *acp.Response {
	s, err := m.GetOrCreateSession(userID, contextID)
	if err != nil {
		return &acp.Response{Success: false, Message: err.Error()}
	}
	if err := m.EnsureAgent(ctx, s); err != nil {
		return &acp.Response{Success: false, Message: err.Error()}
	}

	modes := s.Agent.Modes()
	if modes == nil {
		return &acp.Response{Success: false, Message: "not supported"}
	}
	modeID := name
	for _, mode := range modes.AvailableModes {
		if strings.EqualFold(mode.ID, name) || strings.EqualFold(mode.Name, name) {
			modeID = mode.ID
			break
		}
	}
	if r := s.Agent.SetMode(ctx, modeID); !r.Success {
		return r
	}
	return &acp.Response{Success: true, Message: i18n.T("mode.switched", modeID)}
}

// SwitchModel switches the agent model directly by id or display name.
func (m *Manager) SwitchModel(ctx context.Context, userID, contextID, name string) *acp.Response {
	s, err := m.GetOrCreateSession(userID, contextID)
	if err != nil {
		return &acp.Response{Success: false, Message: err.Error()}
	}
	if err := m.EnsureAgent(ctx, s); err != nil {
		return &acp.Response{Success: false, Message: err.Error()}
	}

	models := s.Agent.Models()
	if models == nil {
		return &acp.Response{Success: false, Message: "not supported"}
	}
	modelID := name
	for _, model := range models.AvailableModels {
		if strings.EqualFold(model.ModelID, name) || strings.EqualFold(model.Name, name) {
			modelID = model.ModelID
			break
		}
	}
	if r := s.Agent.SetModel(ctx, modelID); !r.Success {
		return r
	}
	return &acp.Response{Success: true, Message: i18n.T("model.switched", modelID)}
}

func selectionMessage(title string, options []Option, currentID string) string {
	var b strings.Builder
	b.WriteString(title)
	for i, o := range options {
		marker := ""
		if currentID != "" && o.OptionID == currentID {
			marker = " ←"
		}
		fmt.Fprintf(&b, "\n%d. %s%s", i, o.Name, marker)
	}
	return b.String()
}

func (m *Manager) emitPermissionRequest(s *Session, requestID string, req *protocol.RequestPermissionParams) {
	m.mu.Lock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()
	for _, l := range listeners {
		l.OnPermissionRequest(s, requestID, req)
	}
}

func (m *Manager) emitSelectionPrompt(s *Session, requestID string, sel *SelectionPrompt) {
	m.mu.Lock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()
	for _, l := range listeners {
		l.OnSelectionPrompt(s, requestID, sel)
	}
}

func (m *Manager) publish(eventType string, data map[string]interface{}) {
	if m.events == nil {
		return
	}
	evt := bus.NewEvent(eventType, "session-manager", data)
	if err := m.events.Publish(context.Background(), eventType, evt); err != nil {
		m.logger.Warn("failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

// Shutdown stops every live agent. Called on gateway exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if s.Agent != nil {
			s.Agent.Stop()
		}
	}
}
