// Package discord implements the Discord interactions transport. Slash
// commands and message components arrive on a signed webhook; outbound
// messages go through the channel messages REST API.
package discord

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/baton-gw/baton/internal/agent/acp"
	"github.com/baton-gw/baton/internal/common/config"
	"github.com/baton-gw/baton/internal/common/logger"
	"github.com/baton-gw/baton/internal/session"
	"github.com/baton-gw/baton/internal/transport"
	"github.com/baton-gw/baton/pkg/acp/protocol"
)

const defaultAPIBase = "https://discord.com/api/v10"

// Interaction types and callback types from the Discord API.
const (
	interactionPing             = 1
	interactionCommand          = 2
	interactionMessageComponent = 3

	callbackPong            = 1
	callbackChannelMessage  = 4
	callbackDeferredMessage = 5
)

// Adapter bridges Discord conversations to the gateway core.
type Adapter struct {
	cfg     config.DiscordConfig
	apiBase string
	client  *http.Client
	logger  *logger.Logger

	inbound transport.Inbound
	ctx     context.Context
}

// New builds the Discord adapter and registers its webhook route.
func New(cfg config.DiscordConfig, router gin.IRouter, log *logger.Logger) *Adapter {
	a := &Adapter{
		cfg:     cfg,
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  log.WithFields(zap.String("component", "discord-adapter")),
	}
	path := cfg.WebhookPath
	if path == "" {
		path = "/webhook/discord"
	}
	router.POST(path, a.handleInteraction)
	return a
}

// Name implements transport.Adapter.
func (a *Adapter) Name() string { return "discord" }

// Start implements transport.Adapter.
func (a *Adapter) Start(ctx context.Context, inbound transport.Inbound) error {
	a.inbound = inbound
	a.ctx = ctx
	return nil
}

type interaction struct {
	Type      int             `json:"type"`
	ChannelID string          `json:"channel_id"`
	Member    *struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	} `json:"member"`
	User *struct {
		ID string `json:"id"`
	} `json:"user"`
	Data struct {
		Name     string `json:"name"`
		CustomID string `json:"custom_id"`
		Options  []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"options"`
	} `json:"data"`
}

func (in *interaction) userID() string {
	if in.Member != nil {
		return in.Member.User.ID
	}
	if in.User != nil {
		return in.User.ID
	}
	return ""
}

func (a *Adapter) handleInteraction(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	ts := c.GetHeader("X-Signature-Timestamp")
	sig := c.GetHeader("X-Signature-Ed25519")
	if !VerifySignature(a.cfg.PublicKey, ts, sig, body) {
		a.logger.Warn("rejected interaction with invalid signature")
		c.Status(http.StatusUnauthorized)
		return
	}

	var in interaction
	if err := json.Unmarshal(body, &in); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	switch in.Type {
	case interactionPing:
		c.JSON(http.StatusOK, gin.H{"type": callbackPong})
	case interactionCommand:
		a.handleCommand(c, &in)
	case interactionMessageComponent:
		a.handleComponent(c, &in)
	default:
		c.Status(http.StatusOK)
	}
}

// handleCommand turns a slash command into a gateway message. The webhook
// must be answered within three seconds, so the interaction is acknowledged
// deferred and the result lands as a channel message.
func (a *Adapter) handleCommand(c *gin.Context, in *interaction) {
	text := in.Data.Name
	if len(in.Data.Options) > 0 {
		text = strings.TrimSpace(in.Data.Options[0].Value)
	}
	if text == "" {
		c.JSON(http.StatusOK, gin.H{"type": callbackChannelMessage, "data": gin.H{"content": "empty command"}})
		return
	}
	if in.Data.Name != "" && !strings.HasPrefix(text, "/") && len(in.Data.Options) == 0 {
		text = "/" + in.Data.Name
	}

	c.JSON(http.StatusOK, gin.H{"type": callbackDeferredMessage})

	target := transport.ChatTarget{Platform: a.Name(), UserID: in.userID(), ContextID: in.ChannelID}
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

// handleComponent resolves a button press against a pending interaction.
// custom_id carries "requestID:optionID".
func (a *Adapter) handleComponent(c *gin.Context, in *interaction) {
	requestID, optionID, ok := strings.Cut(in.Data.CustomID, ":")
	if !ok {
		c.JSON(http.StatusOK, gin.H{"type": callbackChannelMessage, "data": gin.H{"content": "malformed component id"}})
		return
	}

	target := transport.ChatTarget{Platform: a.Name(), UserID: in.userID(), ContextID: in.ChannelID}
	content := "…"
	if a.inbound != nil {
		if resp := a.inbound.HandleSelection(a.ctx, target, requestID, optionID); resp != nil && resp.Message != "" {
			content = resp.Message
		}
	}
	c.JSON(http.StatusOK, gin.H{"type": callbackChannelMessage, "data": gin.H{"content": content}})
}

// RenderResponse implements transport.Adapter.
func (a *Adapter) RenderResponse(target transport.ChatTarget, resp *acp.Response) error {
	text := resp.Message
	if !resp.Success {
		text = "⚠️ " + text
	}
	return a.createMessage(target.ContextID, map[string]interface{}{"content": text})
}

// RenderPermission implements transport.Adapter.
func (a *Adapter) RenderPermission(target transport.ChatTarget, requestID string, req *protocol.RequestPermissionParams) error {
	return a.createMessage(target.ContextID, map[string]interface{}{
		"content":    fmt.Sprintf("🔐 **%s**", req.ToolCall.Title),
		"components": buttonRows(requestID, permissionOptions(req.Options)),
	})
}

// RenderSelection implements transport.Adapter.
func (a *Adapter) RenderSelection(target transport.ChatTarget, requestID string, sel *session.SelectionPrompt) error {
	return a.createMessage(target.ContextID, map[string]interface{}{
		"content":    fmt.Sprintf("**%s**", sel.Title),
		"components": buttonRows(requestID, sel.Options),
	})
}

func permissionOptions(opts []protocol.PermissionOption) []session.Option {
	out := make([]session.Option, 0, len(opts))
	for _, o := range opts {
		out = append(out, session.Option{OptionID: o.OptionID, Name: o.Name})
	}
	return out
}

// buttonRows packs options into action rows of at most five buttons, the
// Discord component limit.
func buttonRows(requestID string, opts []session.Option) []map[string]interface{} {
	const perRow = 5
	var rows []map[string]interface{}
	for start := 0; start < len(opts); start += perRow {
		end := start + perRow
		if end > len(opts) {
			end = len(opts)
		}
		var buttons []map[string]interface{}
		for _, o := range opts[start:end] {
			buttons = append(buttons, map[string]interface{}{
				"type":      2,
				"style":     2,
				"label":     o.Name,
				"custom_id": requestID + ":" + o.OptionID,
			})
		}
		rows = append(rows, map[string]interface{}{"type": 1, "components": buttons})
	}
	return rows
}

func (a *Adapter) createMessage(channelID string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/channels/%s/messages", a.apiBase, channelID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+a.cfg.BotToken)

	httpResp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord message create failed: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode >= 300 {
		return fmt.Errorf("discord message create rejected: %s", httpResp.Status)
	}
	return nil
}
