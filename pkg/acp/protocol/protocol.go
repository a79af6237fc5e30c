// Package protocol defines the ACP (Agent Client Protocol) wire vocabulary:
// method names and the typed params/results exchanged with the agent child
// process over NDJSON JSON-RPC.
package protocol

import "encoding/json"

// ProtocolVersion is exchanged during initialize.
const ProtocolVersion = 1

// Client → agent methods.
const (
	MethodInitialize      = "initialize"
	MethodSessionNew      = "session/new"
	MethodSessionPrompt   = "session/prompt"
	MethodSessionCancel   = "session/cancel"
	MethodSessionSetMode  = "session/set_mode"
	MethodSessionSetModel = "session/set_model"
)

// Agent → client methods.
const (
	MethodSessionUpdate       = "session/update"
	MethodRequestPermission   = "session/request_permission"
	MethodReadTextFile        = "fs/read_text_file"
	MethodWriteTextFile       = "fs/write_text_file"
	MethodTerminalCreate      = "terminal/create"
	MethodTerminalOutput      = "terminal/output"
	MethodTerminalWaitForExit = "terminal/wait_for_exit"
	MethodTerminalRelease     = "terminal/release"
	MethodTerminalKill        = "terminal/kill"
)

// Stop reasons reported by session/prompt.
const (
	StopReasonCompleted = "completed"
	StopReasonCancelled = "cancelled"
	StopReasonError     = "error"
)

// Implementation identifies one side of the connection.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// FileSystemCapability advertises the fs callbacks the client implements.
type FileSystemCapability struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

// ClientCapabilities advertises the callbacks the client implements.
type ClientCapabilities struct {
	FS       FileSystemCapability `json:"fs"`
	Terminal bool                 `json:"terminal"`
}

// InitializeParams is the client's half of the handshake.
type InitializeParams struct {
	ProtocolVersion    int                `json:"protocolVersion"`
	ClientInfo         Implementation     `json:"clientInfo"`
	ClientCapabilities ClientCapabilities `json:"clientCapabilities"`
}

// AgentCapabilities is the agent's half of the handshake.
type AgentCapabilities struct {
	LoadSession bool `json:"loadSession,omitempty"`
}

// InitializeResult reports the agent's identity and capabilities.
type InitializeResult struct {
	ProtocolVersion   int               `json:"protocolVersion"`
	AgentInfo         *Implementation   `json:"agentInfo,omitempty"`
	AgentCapabilities AgentCapabilities `json:"agentCapabilities"`
}

// NewSessionParams creates an agent session rooted at cwd.
type NewSessionParams struct {
	Cwd        string            `json:"cwd"`
	McpServers []json.RawMessage `json:"mcpServers"`
}

// SessionMode is one of the agent's operating modes.
type SessionMode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SessionModeState carries the mode catalog and current selection.
type SessionModeState struct {
	CurrentModeID  string        `json:"currentModeId"`
	AvailableModes []SessionMode `json:"availableModes"`
}

// ModelInfo is one of the agent's selectable models.
type ModelInfo struct {
	ModelID     string `json:"modelId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SessionModelState carries the model catalog and current selection.
type SessionModelState struct {
	CurrentModelID  string      `json:"currentModelId"`
	AvailableModels []ModelInfo `json:"availableModels"`
}

// NewSessionResult reports the created session and capability caches.
type NewSessionResult struct {
	SessionID string             `json:"sessionId"`
	Modes     *SessionModeState  `json:"modes,omitempty"`
	Models    *SessionModelState `json:"models,omitempty"`
}

// ContentBlock is a prompt or message fragment. Only text blocks are used.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// PromptParams sends one user turn to the agent.
type PromptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// PromptResult reports why the turn ended.
type PromptResult struct {
	StopReason string `json:"stopReason"`
}

// CancelParams aborts the in-flight turn. Sent as a notification.
type CancelParams struct {
	SessionID string `json:"sessionId"`
}

// SetModeParams switches the agent's operating mode.
type SetModeParams struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

// SetModelParams switches the agent's model.
type SetModelParams struct {
	SessionID string `json:"sessionId"`
	ModelID   string `json:"modelId"`
}

// Session update kinds delivered via session/update.
const (
	UpdateAgentMessageChunk       = "agent_message_chunk"
	UpdateAgentThoughtChunk       = "agent_thought_chunk"
	UpdateUserMessageChunk        = "user_message_chunk"
	UpdateToolCall                = "tool_call"
	UpdateToolCallUpdate          = "tool_call_update"
	UpdatePlan                    = "plan"
	UpdateCurrentModeUpdate       = "current_mode_update"
	UpdateAvailableCommandsUpdate = "available_commands_update"
	UpdateConfigOptionUpdate      = "config_option_update"
	UpdateSessionInfoUpdate       = "session_info_update"
	UpdateUsageUpdate             = "usage_update"
)

// PlanEntry is one step of the agent's self-reported plan.
type PlanEntry struct {
	Content  string `json:"content"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

// SessionUpdate is the discriminated union carried by session/update
// notifications. Kind selects which of the optional fields are meaningful.
type SessionUpdate struct {
	Kind          string        `json:"sessionUpdate"`
	Content       *ContentBlock `json:"content,omitempty"`
	ToolCallID    string        `json:"toolCallId,omitempty"`
	Title         string        `json:"title,omitempty"`
	Status        string        `json:"status,omitempty"`
	Entries       []PlanEntry   `json:"entries,omitempty"`
	CurrentModeID string        `json:"currentModeId,omitempty"`
}

// SessionUpdateParams is the session/update notification payload.
type SessionUpdateParams struct {
	SessionID string        `json:"sessionId"`
	Update    SessionUpdate `json:"update"`
}

// PermissionOption is one of the choices offered by a permission request.
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind,omitempty"` // allow_once, allow_always, reject_once, ...
}

// ToolCallRef describes the tool invocation a permission request refers to.
type ToolCallRef struct {
	ToolCallID string          `json:"toolCallId"`
	Title      string          `json:"title,omitempty"`
	Kind       string          `json:"kind,omitempty"`
	RawInput   json.RawMessage `json:"rawInput,omitempty"`
}

// RequestPermissionParams asks the user to approve a tool call.
type RequestPermissionParams struct {
	SessionID string             `json:"sessionId"`
	ToolCall  ToolCallRef        `json:"toolCall"`
	Options   []PermissionOption `json:"options"`
}

// Permission outcomes.
const (
	OutcomeSelected  = "selected"
	OutcomeCancelled = "cancelled"
)

// PermissionOutcome is the user's answer to a permission request.
type PermissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}

// RequestPermissionResult wraps the outcome.
type RequestPermissionResult struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// ReadTextFileParams is an agent request to read a file under the project root.
type ReadTextFileParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Line      *int   `json:"line,omitempty"`
	Limit     *int   `json:"limit,omitempty"`
}

// ReadTextFileResult returns the file content.
type ReadTextFileResult struct {
	Content string `json:"content"`
}

// WriteTextFileParams is an agent request to write a file under the project root.
type WriteTextFileParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

// EnvVariable is one environment entry for a terminal.
type EnvVariable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CreateTerminalParams spawns a command in a grandchild shell.
type CreateTerminalParams struct {
	SessionID string        `json:"sessionId"`
	Command   string        `json:"command"`
	Args      []string      `json:"args,omitempty"`
	Cwd       string        `json:"cwd,omitempty"`
	Env       []EnvVariable `json:"env,omitempty"`
}

// CreateTerminalResult returns the opaque terminal handle.
type CreateTerminalResult struct {
	TerminalID string `json:"terminalId"`
}

// TerminalID addresses an existing terminal.
type TerminalID struct {
	SessionID  string `json:"sessionId"`
	TerminalID string `json:"terminalId"`
}

// TerminalExitStatus reports how a terminal's process ended.
type TerminalExitStatus struct {
	ExitCode *int    `json:"exitCode,omitempty"`
	Signal   *string `json:"signal,omitempty"`
}

// TerminalOutputResult drains the accumulated output buffer.
type TerminalOutputResult struct {
	Output     string              `json:"output"`
	Truncated  bool                `json:"truncated"`
	ExitStatus *TerminalExitStatus `json:"exitStatus,omitempty"`
}

// WaitForTerminalExitResult resolves when the terminal's process exits.
type WaitForTerminalExitResult struct {
	ExitCode *int    `json:"exitCode,omitempty"`
	Signal   *string `json:"signal,omitempty"`
}
