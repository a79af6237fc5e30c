// Package whatsapp implements the WhatsApp transport on top of the wacli
// command-line client. Inbound messages are polled from the wacli store;
// outbound messages are sent through the same binary.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/baton-gw/baton/internal/agent/acp"
	"github.com/baton-gw/baton/internal/common/config"
	"github.com/baton-gw/baton/internal/common/logger"
	"github.com/baton-gw/baton/internal/session"
	"github.com/baton-gw/baton/internal/transport"
	"github.com/baton-gw/baton/pkg/acp/protocol"
)

const defaultBin = "wacli"

// runner abstracts wacli invocation so tests can stub the binary.
type runner func(ctx context.Context, args ...string) ([]byte, error)

// Adapter bridges WhatsApp chats to the gateway core via wacli.
type Adapter struct {
	cfg    config.WacliConfig
	dedup  *transport.Deduper
	run    runner
	logger *logger.Logger

	inbound transport.Inbound
}

// New builds the wacli-backed WhatsApp adapter.
func New(cfg config.WacliConfig, dedup *transport.Deduper, log *logger.Logger) *Adapter {
	if cfg.Bin == "" {
		cfg.Bin = defaultBin
	}
	a := &Adapter{
		cfg:    cfg,
		dedup:  dedup,
		logger: log.WithFields(zap.String("component", "whatsapp-adapter")),
	}
	a.run = func(ctx context.Context, args ...string) ([]byte, error) {
		return exec.CommandContext(ctx, a.cfg.Bin, args...).Output()
	}
	return a
}

// Name implements transport.Adapter.
func (a *Adapter) Name() string { return "whatsapp" }

func (a *Adapter) pollInterval() time.Duration {
	if a.cfg.PollIntervalMs <= 0 {
		return 1500 * time.Millisecond
	}
	return time.Duration(a.cfg.PollIntervalMs) * time.Millisecond
}

// Start launches the polling loop.
func (a *Adapter) Start(ctx context.Context, inbound transport.Inbound) error {
	a.inbound = inbound
	go a.pollLoop(ctx)
	return nil
}

// inboundMessage is one entry of `wacli recv --json`.
type inboundMessage struct {
	ID     string `json:"id"`
	Chat   string `json:"chat"`   // JID of the chat
	Sender string `json:"sender"` // JID of the sender
	Text   string `json:"text"`
	FromMe bool   `json:"fromMe"`
}

func (a *Adapter) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(a.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.pollOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				a.logger.Warn("poll failed", zap.Error(err))
			}
		}
	}
}

func (a *Adapter) pollOnce(ctx context.Context) error {
	args := []string{"recv", "--json"}
	if a.cfg.StoreDir != "" {
		args = append(args, "--store", a.cfg.StoreDir)
	}
	out, err := a.run(ctx, args...)
	if err != nil {
		return fmt.Errorf("wacli recv failed: %w", err)
	}
	out = []byte(strings.TrimSpace(string(out)))
	if len(out) == 0 {
		return nil
	}

	var messages []inboundMessage
	if err := json.Unmarshal(out, &messages); err != nil {
		return fmt.Errorf("wacli recv output unparseable: %w", err)
	}
	for _, m := range messages {
		a.handleMessage(ctx, m)
	}
	return nil
}

func (a *Adapter) handleMessage(ctx context.Context, m inboundMessage) {
	if m.FromMe || a.dedup.Seen(m.ID) {
		return
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}

	target := transport.ChatTarget{Platform: a.Name(), UserID: m.Sender, ContextID: m.Chat}
	go func() {
		resp := a.inbound.HandleMessage(ctx, target, text)
		if resp != nil && resp.Message != "" {
			if err := a.RenderResponse(target, resp); err != nil {
				a.logger.Error("failed to send response", zap.Error(err))
			}
		}
	}()
}

func (a *Adapter) send(chatJID, text string) error {
	args := []string{"send"}
	if a.cfg.StoreDir != "" {
		args = append(args, "--store", a.cfg.StoreDir)
	}
	args = append(args, chatJID, text)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := a.run(ctx, args...); err != nil {
		return fmt.Errorf("wacli send failed: %w", err)
	}
	return nil
}

// RenderResponse implements transport.Adapter.
func (a *Adapter) RenderResponse(target transport.ChatTarget, resp *acp.Response) error {
	text := resp.Message
	if !resp.Success {
		text = "⚠️ " + text
	}
	return a.send(target.ContextID, text)
}

// RenderPermission implements transport.Adapter. WhatsApp has no buttons
// on this path, so options are numbered for a text reply.
func (a *Adapter) RenderPermission(target transport.ChatTarget, requestID string, req *protocol.RequestPermissionParams) error {
	var b strings.Builder
	fmt.Fprintf(&b, "🔐 %s\n", req.ToolCall.Title)
	for i, o := range req.Options {
		fmt.Fprintf(&b, "%d. %s\n", i, o.Name)
	}
	b.WriteString("Reply with a number or option name.")
	return a.send(target.ContextID, b.String())
}

// RenderSelection implements transport.Adapter.
func (a *Adapter) RenderSelection(target transport.ChatTarget, requestID string, sel *session.SelectionPrompt) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", sel.Title)
	for i, o := range sel.Options {
		fmt.Fprintf(&b, "%d. %s\n", i, o.Name)
	}
	return a.send(target.ContextID, b.String())
}
