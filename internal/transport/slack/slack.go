// Package slack implements the Slack Events API transport. Inbound events
// arrive on a signed webhook; outbound messages go through chat.postMessage.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/baton-gw/baton/internal/agent/acp"
	"github.com/baton-gw/baton/internal/common/config"
	"github.com/baton-gw/baton/internal/common/logger"
	"github.com/baton-gw/baton/internal/session"
	"github.com/baton-gw/baton/internal/transport"
	"github.com/baton-gw/baton/pkg/acp/protocol"
)

const defaultAPIBase = "https://slack.com/api"

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>`)

// Adapter bridges Slack conversations to the gateway core.
type Adapter struct {
	cfg     config.SlackConfig
	apiBase string
	dedup   *transport.Deduper
	client  *http.Client
	logger  *logger.Logger

	inbound transport.Inbound
	ctx     context.Context
}

// New builds the Slack adapter and registers its webhook route.
func New(cfg config.SlackConfig, router gin.IRouter, dedup *transport.Deduper, log *logger.Logger) *Adapter {
	a := &Adapter{
		cfg:     cfg,
		apiBase: defaultAPIBase,
		dedup:   dedup,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  log.WithFields(zap.String("component", "slack-adapter")),
	}
	path := cfg.WebhookPath
	if path == "" {
		path = "/webhook/slack"
	}
	router.POST(path, a.handleWebhook)
	return a
}

// Name implements transport.Adapter.
func (a *Adapter) Name() string { return "slack" }

// Start implements transport.Adapter. The webhook route is already
// registered; Start only wires the inbound sink.
func (a *Adapter) Start(ctx context.Context, inbound transport.Inbound) error {
	a.inbound = inbound
	a.ctx = ctx
	return nil
}

// eventEnvelope is the outer Events API payload.
type eventEnvelope struct {
	Type      string     `json:"type"`
	Challenge string     `json:"challenge"`
	EventID   string     `json:"event_id"`
	Event     innerEvent `json:"event"`
}

type innerEvent struct {
	Type    string `json:"type"`
	User    string `json:"user"`
	Channel string `json:"channel"`
	Text    string `json:"text"`
	BotID   string `json:"bot_id"`
}

func (a *Adapter) handleWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	ts := c.GetHeader("X-Slack-Request-Timestamp")
	sig := c.GetHeader("X-Slack-Signature")
	if !VerifySignature(a.cfg.SigningSecret, ts, sig, body, time.Now()) {
		a.logger.Warn("rejected webhook with invalid signature")
		c.Status(http.StatusUnauthorized)
		return
	}

	var env eventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	switch env.Type {
	case "url_verification":
		c.JSON(http.StatusOK, gin.H{"challenge": env.Challenge})
		return
	case "event_callback":
		// Ack before processing; Slack redelivers on slow responses.
		c.Status(http.StatusOK)
		if a.dedup.Seen(env.EventID) {
			a.logger.Debug("duplicate event suppressed", zap.String("event_id", env.EventID))
			return
		}
		a.processEvent(env.Event)
	default:
		c.Status(http.StatusOK)
	}
}

func (a *Adapter) processEvent(ev innerEvent) {
	if ev.BotID != "" {
		return
	}
	if ev.Type != "message" && ev.Type != "app_mention" {
		return
	}
	text := strings.TrimSpace(mentionPattern.ReplaceAllString(ev.Text, ""))
	if text == "" {
		return
	}

	target := transport.ChatTarget{Platform: a.Name(), UserID: ev.User, ContextID: ev.Channel}
	go func() {
		if a.inbound == nil {
			return
		}
		resp := a.inbound.HandleMessage(a.ctx, target, text)
		if resp != nil && resp.Message != "" {
			if err := a.RenderResponse(target, resp); err != nil {
				a.logger.Error("failed to post response", zap.Error(err))
			}
		}
	}()
}

// RenderResponse implements transport.Adapter.
func (a *Adapter) RenderResponse(target transport.ChatTarget, resp *acp.Response) error {
	text := resp.Message
	if !resp.Success {
		text = "⚠️ " + text
	}
	return a.postMessage(target.ContextID, text)
}

// RenderPermission implements transport.Adapter.
func (a *Adapter) RenderPermission(target transport.ChatTarget, requestID string, req *protocol.RequestPermissionParams) error {
	var b strings.Builder
	fmt.Fprintf(&b, "🔐 *%s*\n", req.ToolCall.Title)
	for i, o := range req.Options {
		fmt.Fprintf(&b, "%d. %s\n", i, o.Name)
	}
	b.WriteString("_Reply with a number or option name._")
	return a.postMessage(target.ContextID, b.String())
}

// RenderSelection implements transport.Adapter.
func (a *Adapter) RenderSelection(target transport.ChatTarget, requestID string, sel *session.SelectionPrompt) error {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", sel.Title)
	for i, o := range sel.Options {
		fmt.Fprintf(&b, "%d. %s\n", i, o.Name)
	}
	return a.postMessage(target.ContextID, b.String())
}

func (a *Adapter) postMessage(channel, text string) error {
	payload, err := json.Marshal(map[string]string{"channel": channel, "text": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, a.apiBase+"/chat.postMessage", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.BotToken)

	httpResp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	defer httpResp.Body.Close()

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&result); err != nil {
		return fmt.Errorf("chat.postMessage decode failed: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("chat.postMessage rejected: %s", result.Error)
	}
	return nil
}
