// Package dispatch parses inbound chat text into slash-commands or prompts
// and routes them to the session manager.
package dispatch

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/baton-gw/baton/internal/agent/acp"
	"github.com/baton-gw/baton/internal/common/logger"
	"github.com/baton-gw/baton/internal/i18n"
	"github.com/baton-gw/baton/internal/session"
	"github.com/baton-gw/baton/internal/task"
)

// Dispatcher is stateless; all state lives in the session manager.
type Dispatcher struct {
	mgr    *session.Manager
	logger *logger.Logger
	tracer trace.Tracer
}

// New builds a dispatcher.
func New(mgr *session.Manager, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		mgr:    mgr,
		logger: log.WithFields(zap.String("component", "dispatcher")),
		tracer: otel.Tracer("baton-dispatch"),
	}
}

// Dispatch handles one inbound message. An empty returned message on success
// means the task started immediately and the adapter should wait for the
// completion callback.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, contextID, text string) *acp.Response {
	text = strings.TrimSpace(text)
	if text == "" {
		return &acp.Response{Success: false, Message: i18n.T("help")}
	}

	fields := strings.Fields(text)
	cmd := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], " ")
	}

	ctx, span := d.tracer.Start(ctx, "dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("context_id", contextID))
	if strings.HasPrefix(cmd, "/") {
		// Prompt text stays out of span attributes; commands are safe.
		span.SetAttributes(attribute.String("command", cmd))
	}

	d.logger.Debug("dispatching",
		zap.String("user_id", userID),
		zap.String("command", cmd))

	switch cmd {
	case "/repo":
		if arg == "" {
			return d.mgr.CreateRepoSelection(userID, contextID)
		}
		return d.mgr.SwitchRepo(userID, contextID, arg)

	case "/current":
		return d.mgr.QueueStatus(userID, contextID)

	case "/stop":
		return d.mgr.StopTask(userID, contextID, arg)

	case "/reset", "/new":
		return d.mgr.ResetSession(userID, contextID)

	case "/mode":
		if arg == "" {
			return d.mgr.TriggerModeSelection(ctx, userID, contextID)
		}
		return d.mgr.SwitchMode(ctx, userID, contextID, arg)

	case "/model":
		if arg == "" {
			return d.mgr.TriggerModelSelection(ctx, userID, contextID)
		}
		return d.mgr.SwitchModel(ctx, userID, contextID, arg)

	case "/help":
		return &acp.Response{Success: true, Message: i18n.T("help")}

	default:
		// Everything else is a prompt, including unknown slash tokens.
		return d.prompt(ctx, userID, contextID, text)
	}
}

// prompt enqueues free text, first giving a pending interaction the chance
// to consume it as a selection reply.
func (d *Dispatcher) prompt(ctx context.Context, userID, contextID, text string) *acp.Response {
	if resp := d.mgr.TryResolveInteraction(ctx, userID, contextID, text); resp != nil {
		return resp
	}

	s, err := d.mgr.GetOrCreateSession(userID, contextID)
	if err != nil {
		return &acp.Response{Success: false, Message: err.Error()}
	}
	if err := d.mgr.EnsureAgent(ctx, s); err != nil {
		return &acp.Response{Success: false, Message: err.Error()}
	}

	result := d.mgr.Enqueue(ctx, s, text, task.TypePrompt)
	return &acp.Response{Success: result.Success, Message: result.Message}
}
