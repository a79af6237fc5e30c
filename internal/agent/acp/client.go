// Package acp implements the gateway side of the Agent Client Protocol: it
// launches and supervises one coding-agent child process per session, drives
// prompts over NDJSON JSON-RPC, and serves the callbacks the agent invokes
// (permission requests, file access, terminals).
package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/baton-gw/baton/internal/agent/registry"
	"github.com/baton-gw/baton/internal/common/config"
	"github.com/baton-gw/baton/internal/common/errors"
	"github.com/baton-gw/baton/internal/common/logger"
	"github.com/baton-gw/baton/pkg/acp/jsonrpc"
	"github.com/baton-gw/baton/pkg/acp/protocol"
)

// defaultPromptTimeout bounds how long a prompt may run before the watchdog
// resolves it with whatever output was buffered.
const defaultPromptTimeout = 120 * time.Second

// PermissionHandler decides a permission request on behalf of the user and
// returns the chosen optionId. Blocking is expected: resolution is usually
// driven by an external user reply or a timeout.
type PermissionHandler func(ctx context.Context, req *protocol.RequestPermissionParams) (string, error)

// Response is the outcome of one prompt or command turn.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// AgentStatus reports the child process state.
type AgentStatus struct {
	PID     int  `json:"pid"`
	Running bool `json:"running"`
}

type promptOutcome struct {
	stopReason string
	message    string
}

// Client owns exactly one ACP agent child process.
type Client struct {
	projectPath  string
	acpConfig    config.ACPConfig
	onPermission PermissionHandler
	logger       *logger.Logger

	// PromptTimeout overrides the watchdog interval; zero means the default.
	PromptTimeout time.Duration

	cmd     *exec.Cmd
	peer    *jsonrpc.Peer
	running atomic.Bool

	mu        sync.Mutex
	sessionID string
	buffer    strings.Builder
	waiter    chan promptOutcome
	modes     *protocol.SessionModeState
	models    *protocol.SessionModelState

	planMu        sync.Mutex
	planEntries   []protocol.PlanEntry
	planUpdatedAt time.Time

	terminals *terminalManager
}

// NewClient builds a client for a session rooted at projectPath. The agent
// is not spawned until Start.
func NewClient(projectPath string, acpCfg config.ACPConfig, onPermission PermissionHandler, log *logger.Logger) *Client {
	return &Client{
		projectPath:  projectPath,
		acpConfig:    acpCfg,
		onPermission: onPermission,
		logger:       log.WithFields(zap.String("component", "acp-client"), zap.String("project", projectPath)),
		terminals:    newTerminalManager(projectPath, log),
	}
}

// Start spawns the agent child process, performs the initialize handshake,
// and creates one agent session rooted at the project path.
func (c *Client) Start(ctx context.Context) error {
	spec, err := registry.Resolve(c.acpConfig, c.projectPath)
	if err != nil {
		return err
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Cwd
	cmd.Env = append(os.Environ(), spec.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open agent stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open agent stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn agent %s: %w", spec.Command, err)
	}
	c.cmd = cmd
	c.logger.Info("agent process spawned",
		zap.String("command", spec.Command),
		zap.Strings("args", spec.Args),
		zap.Int("pid", cmd.Process.Pid))

	go c.forwardStderr(stderr)
	go func() {
		err := cmd.Wait()
		c.running.Store(false)
		c.logger.Info("agent process exited", zap.Error(err))
		if c.peer != nil {
			c.peer.Stop()
		}
	}()

	if err := c.connect(ctx, stdin, stdout); err != nil {
		_ = cmd.Process.Kill()
		return err
	}
	return nil
}

// connect wires the JSON-RPC peer over the given streams and runs the
// handshake. Split from Start so tests can drive a fake agent over pipes.
func (c *Client) connect(ctx context.Context, stdin io.Writer, stdout io.Reader) error {
	peer := jsonrpc.NewPeer(stdin, stdout, c.logger)
	peer.SetNotificationHandler(c.handleNotification)
	peer.Handle(protocol.MethodRequestPermission, c.handleRequestPermission)
	peer.Handle(protocol.MethodReadTextFile, c.handleReadTextFile)
	peer.Handle(protocol.MethodWriteTextFile, c.handleWriteTextFile)
	peer.Handle(protocol.MethodTerminalCreate, c.handleTerminalCreate)
	peer.Handle(protocol.MethodTerminalOutput, c.handleTerminalOutput)
	peer.Handle(protocol.MethodTerminalWaitForExit, c.handleTerminalWaitForExit)
	peer.Handle(protocol.MethodTerminalRelease, c.handleTerminalRelease)
	peer.Handle(protocol.MethodTerminalKill, c.handleTerminalKill)
	peer.Start(ctx)
	c.peer = peer
	c.running.Store(true)

	handshakeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	initResult, err := c.initialize(handshakeCtx)
	if err != nil {
		return fmt.Errorf("initialize handshake failed: %w", err)
	}
	c.logger.Info("agent initialized",
		zap.Int("protocol_version", initResult.ProtocolVersion))

	sessResult, err := c.newSession(handshakeCtx)
	if err != nil {
		return fmt.Errorf("session creation failed: %w", err)
	}

	c.mu.Lock()
	c.sessionID = sessResult.SessionID
	c.modes = sessResult.Modes
	c.models = sessResult.Models
	c.mu.Unlock()

	c.logger.Info("agent session created", zap.String("session_id", sessResult.SessionID))
	return nil
}

func (c *Client) initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	params := protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      protocol.Implementation{Name: "baton", Version: "0.1.0"},
		ClientCapabilities: protocol.ClientCapabilities{
			FS:       protocol.FileSystemCapability{ReadTextFile: true, WriteTextFile: true},
			Terminal: true,
		},
	}
	resp, err := c.peer.Call(ctx, protocol.MethodInitialize, params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	var result protocol.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to parse initialize result: %w", err)
	}
	return &result, nil
}

func (c *Client) newSession(ctx context.Context) (*protocol.NewSessionResult, error) {
	params := protocol.NewSessionParams{
		Cwd:        c.projectPath,
		McpServers: []json.RawMessage{},
	}
	resp, err := c.peer.Call(ctx, protocol.MethodSessionNew, params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	var result protocol.NewSessionResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to parse session result: %w", err)
	}
	return &result, nil
}

// SendPrompt sends one user turn and blocks until the agent reports a stop
// reason, the watchdog fires, or the process dies. The returned message is
// the concatenation of all agent_message_chunk texts observed in between.
func (c *Client) SendPrompt(ctx context.Context, text string) (*Response, error) {
	return c.sendTurn(ctx, text)
}

// SendCommand is semantically identical to SendPrompt.
func (c *Client) SendCommand(ctx context.Context, text string) (*Response, error) {
	return c.sendTurn(ctx, text)
}

func (c *Client) sendTurn(ctx context.Context, text string) (*Response, error) {
	c.mu.Lock()
	if !c.running.Load() || c.sessionID == "" {
		c.mu.Unlock()
		return nil, errors.AgentNotReady(c.sessionID)
	}
	if c.waiter != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("another prompt is already in flight")
	}
	ch := make(chan promptOutcome, 1)
	c.waiter = ch
	c.buffer.Reset()
	sessionID := c.sessionID
	c.mu.Unlock()

	go func() {
		params := protocol.PromptParams{
			SessionID: sessionID,
			Prompt:    []protocol.ContentBlock{protocol.TextBlock(text)},
		}
		resp, err := c.peer.Call(ctx, protocol.MethodSessionPrompt, params)
		if err != nil {
			c.finish(protocol.StopReasonError, "")
			return
		}
		if resp.Error != nil {
			c.finish(protocol.StopReasonError, resp.Error.Message)
			return
		}
		var result protocol.PromptResult
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			c.finish(protocol.StopReasonError, "")
			return
		}
		c.finish(result.StopReason, "")
	}()

	timeout := c.PromptTimeout
	if timeout <= 0 {
		timeout = defaultPromptTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return outcomeResponse(out), nil
	case <-timer.C:
		c.logger.Warn("prompt watchdog fired, returning partial output",
			zap.Duration("timeout", timeout))
		c.finish(protocol.StopReasonCompleted, "")
		return outcomeResponse(<-ch), nil
	case <-c.peer.Done():
		c.finish(protocol.StopReasonError, "")
		out := <-ch
		if out.message == "" {
			out.message = "agent process ended unexpectedly"
		}
		return outcomeResponse(out), nil
	}
}

// finish resolves the in-flight prompt waiter with the buffered output.
// Idempotent: only the first call per turn delivers.
func (c *Client) finish(stopReason, override string) {
	c.mu.Lock()
	ch := c.waiter
	if ch == nil {
		c.mu.Unlock()
		return
	}
	c.waiter = nil
	msg := c.buffer.String()
	c.buffer.Reset()
	c.mu.Unlock()

	if override != "" {
		msg = override
	}
	ch <- promptOutcome{stopReason: stopReason, message: msg}
}

func outcomeResponse(out promptOutcome) *Response {
	if out.stopReason == protocol.StopReasonError {
		msg := out.message
		if msg == "" {
			msg = "agent reported an error"
		}
		return &Response{Success: false, Message: msg}
	}
	return &Response{Success: true, Message: out.message}
}

// Cancel aborts the in-flight turn. The cancel goes out as a notification
// and the local waiter is resolved immediately so callers never hang on an
// agent that ignores it. No-op when not connected.
func (c *Client) Cancel() {
	if !c.running.Load() {
		return
	}
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	if err := c.peer.Notify(protocol.MethodSessionCancel, protocol.CancelParams{SessionID: sessionID}); err != nil {
		c.logger.Warn("failed to send cancel notification", zap.Error(err))
	}
	c.finish(protocol.StopReasonCancelled, "[Completed: cancelled]")
}

// SetMode switches the agent's operating mode. Reports "not supported" when
// the agent advertised no modes.
func (c *Client) SetMode(ctx context.Context, modeID string) *Response {
	c.mu.Lock()
	supported := c.modes != nil && len(c.modes.AvailableModes) > 0
	sessionID := c.sessionID
	c.mu.Unlock()
	if !supported {
		return &Response{Success: false, Message: "not supported"}
	}

	resp, err := c.peer.Call(ctx, protocol.MethodSessionSetMode, protocol.SetModeParams{SessionID: sessionID, ModeID: modeID})
	if err != nil {
		return &Response{Success: false, Message: err.Error()}
	}
	if resp.Error != nil {
		return &Response{Success: false, Message: resp.Error.Message}
	}

	c.mu.Lock()
	c.modes.CurrentModeID = modeID
	c.mu.Unlock()
	return &Response{Success: true, Message: fmt.Sprintf("mode switched to %s", modeID)}
}

// SetModel switches the agent's model. Reports "not supported" when the
// agent advertised no models.
func (c *Client) SetModel(ctx context.Context, modelID string) *Response {
	c.mu.Lock()
	supported := c.models != nil && len(c.models.AvailableModels) > 0
	sessionID := c.sessionID
	c.mu.Unlock()
	if !supported {
		return &Response{Success: false, Message: "not supported"}
	}

	resp, err := c.peer.Call(ctx, protocol.MethodSessionSetModel, protocol.SetModelParams{SessionID: sessionID, ModelID: modelID})
	if err != nil {
		return &Response{Success: false, Message: err.Error()}
	}
	if resp.Error != nil {
		return &Response{Success: false, Message: resp.Error.Message}
	}

	c.mu.Lock()
	c.models.CurrentModelID = modelID
	c.mu.Unlock()
	return &Response{Success: true, Message: fmt.Sprintf("model switched to %s", modelID)}
}

// Status reports the child process state.
func (c *Client) Status() AgentStatus {
	st := AgentStatus{Running: c.running.Load()}
	if c.cmd != nil && c.cmd.Process != nil {
		st.PID = c.cmd.Process.Pid
	}
	return st
}

// PlanStatus returns a snapshot of the agent's latest plan, or nil if the
// agent never sent one. The snapshot is a copy; callers may not reach the
// cached entries through it.
func (c *Client) PlanStatus() *PlanStatus {
	c.planMu.Lock()
	defer c.planMu.Unlock()
	if c.planEntries == nil {
		return nil
	}
	entries := make([]protocol.PlanEntry, len(c.planEntries))
	copy(entries, c.planEntries)
	return buildPlanStatus(entries, c.planUpdatedAt)
}

// Modes returns the cached mode state, or nil if the agent has none.
func (c *Client) Modes() *protocol.SessionModeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.modes == nil {
		return nil
	}
	cp := *c.modes
	cp.AvailableModes = append([]protocol.SessionMode(nil), c.modes.AvailableModes...)
	return &cp
}

// Models returns the cached model state, or nil if the agent has none.
func (c *Client) Models() *protocol.SessionModelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.models == nil {
		return nil
	}
	cp := *c.models
	cp.AvailableModels = append([]protocol.ModelInfo(nil), c.models.AvailableModels...)
	return &cp
}

// Stop kills the child process and releases all terminals.
func (c *Client) Stop() {
	c.running.Store(false)
	c.finish(protocol.StopReasonCancelled, "[Completed: cancelled]")
	c.terminals.Shutdown()
	if c.peer != nil {
		c.peer.Stop()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

func (c *Client) forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		c.logger.Debug("agent stderr", zap.String("line", scanner.Text()))
	}
}

// handleNotification routes session/update notifications by kind.
func (c *Client) handleNotification(method string, params json.RawMessage) {
	if method != protocol.MethodSessionUpdate {
		c.logger.Debug("ignoring notification", zap.String("method", method))
		return
	}

	var update protocol.SessionUpdateParams
	if err := json.Unmarshal(params, &update); err != nil {
		c.logger.Warn("malformed session update", zap.Error(err))
		return
	}

	switch update.Update.Kind {
	case protocol.UpdateAgentMessageChunk:
		if update.Update.Content != nil && update.Update.Content.Text != "" {
			c.mu.Lock()
			c.buffer.WriteString(update.Update.Content.Text)
			c.mu.Unlock()
		}
	case protocol.UpdatePlan:
		c.planMu.Lock()
		c.planEntries = append([]protocol.PlanEntry(nil), update.Update.Entries...)
		c.planUpdatedAt = time.Now()
		c.planMu.Unlock()
	case protocol.UpdateCurrentModeUpdate:
		c.mu.Lock()
		if c.modes != nil {
			c.modes.CurrentModeID = update.Update.CurrentModeID
		}
		c.mu.Unlock()
	case protocol.UpdateToolCall, protocol.UpdateToolCallUpdate:
		c.logger.Debug("tool call update",
			zap.String("tool_call_id", update.Update.ToolCallID),
			zap.String("title", update.Update.Title),
			zap.String("status", update.Update.Status))
	default:
		// thought chunks, usage, command catalogs: nothing to track
	}
}

// handleRequestPermission delegates the decision to the injected handler and
// validates its answer against the offered options. Any handler failure or
// unknown optionId falls back to the first "deny"-named option, then the
// first option overall.
func (c *Client) handleRequestPermission(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req protocol.RequestPermissionParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("malformed permission request: %w", err)
	}
	if len(req.Options) == 0 {
		return protocol.RequestPermissionResult{
			Outcome: protocol.PermissionOutcome{Outcome: protocol.OutcomeCancelled},
		}, nil
	}

	optionID, err := c.onPermission(ctx, &req)
	if err != nil {
		c.logger.Warn("permission handler failed, using fallback",
			zap.String("tool_call_id", req.ToolCall.ToolCallID),
			zap.Error(err))
		optionID = fallbackOption(req.Options)
	} else if !validOption(req.Options, optionID) {
		c.logger.Warn("permission handler returned unknown option, using fallback",
			zap.String("option_id", optionID))
		optionID = fallbackOption(req.Options)
	}

	return protocol.RequestPermissionResult{
		Outcome: protocol.PermissionOutcome{Outcome: protocol.OutcomeSelected, OptionID: optionID},
	}, nil
}

func validOption(options []protocol.PermissionOption, optionID string) bool {
	for _, o := range options {
		if o.OptionID == optionID {
			return true
		}
	}
	return false
}

// fallbackOption prefers the first option whose name contains "deny", else
// the first option.
func fallbackOption(options []protocol.PermissionOption) string {
	for _, o := range options {
		if strings.Contains(strings.ToLower(o.Name), "deny") {
			return o.OptionID
		}
	}
	return options[0].OptionID
}

func (c *Client) handleReadTextFile(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req protocol.ReadTextFileParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("malformed read request: %w", err)
	}

	path, err := resolveWithinRoot(c.projectPath, req.Path)
	if err != nil {
		c.logger.Warn("read denied", zap.String("path", req.Path))
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", req.Path, err)
	}
	content := string(data)

	if req.Line != nil || req.Limit != nil {
		content = sliceLines(content, req.Line, req.Limit)
	}
	return protocol.ReadTextFileResult{Content: content}, nil
}

// sliceLines applies the optional 1-based line offset and line-count limit.
func sliceLines(content string, line, limit *int) string {
	lines := strings.Split(content, "\n")
	start := 0
	if line != nil && *line > 1 {
		start = *line - 1
	}
	if start >= len(lines) {
		return ""
	}
	end := len(lines)
	if limit != nil && *limit >= 0 && start+*limit < end {
		end = start + *limit
	}
	return strings.Join(lines[start:end], "\n")
}

func (c *Client) handleWriteTextFile(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req protocol.WriteTextFileParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("malformed write request: %w", err)
	}

	path, err := resolveWithinRoot(c.projectPath, req.Path)
	if err != nil {
		c.logger.Warn("write denied", zap.String("path", req.Path))
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(req.Content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", req.Path, err)
	}
	return map[string]interface{}{}, nil
}

func (c *Client) handleTerminalCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req protocol.CreateTerminalParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("malformed terminal request: %w", err)
	}
	id, err := c.terminals.Create(&req)
	if err != nil {
		return nil, err
	}
	return protocol.CreateTerminalResult{TerminalID: id}, nil
}

func (c *Client) handleTerminalOutput(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req protocol.TerminalID
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("malformed terminal request: %w", err)
	}
	return c.terminals.Output(req.TerminalID)
}

func (c *Client) handleTerminalWaitForExit(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req protocol.TerminalID
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("malformed terminal request: %w", err)
	}
	return c.terminals.WaitForExit(req.TerminalID)
}

func (c *Client) handleTerminalRelease(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req protocol.TerminalID
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("malformed terminal request: %w", err)
	}
	if err := c.terminals.Release(req.TerminalID); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

func (c *Client) handleTerminalKill(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req protocol.TerminalID
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("malformed terminal request: %w", err)
	}
	if err := c.terminals.Kill(req.TerminalID); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}
