// Package feishu implements the Feishu (Lark) transport over the event
// long connection. The gateway dials a websocket endpoint instead of
// exposing a public webhook; outbound messages and cards go through the
// im/v1 REST API with a tenant access token.
package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/baton-gw/baton/internal/agent/acp"
	"github.com/baton-gw/baton/internal/common/config"
	"github.com/baton-gw/baton/internal/common/logger"
	"github.com/baton-gw/baton/internal/session"
	"github.com/baton-gw/baton/internal/transport"
	"github.com/baton-gw/baton/pkg/acp/protocol"
)

const (
	defaultDomain     = "https://open.feishu.cn"
	pingInterval      = 30 * time.Second
	reconnectBackoff  = 5 * time.Second
	tokenSafetyMargin = 5 * time.Minute
)

// Adapter bridges Feishu chats to the gateway core.
type Adapter struct {
	cfg    config.FeishuConfig
	domain string
	dedup  *transport.Deduper
	client *http.Client
	logger *logger.Logger

	inbound transport.Inbound

	tokenMu     sync.Mutex
	tenantToken string
	tokenExpiry time.Time
}

// New builds the Feishu adapter.
func New(cfg config.FeishuConfig, dedup *transport.Deduper, log *logger.Logger) *Adapter {
	domain := cfg.Domain
	if domain == "" {
		domain = defaultDomain
	}
	return &Adapter{
		cfg:    cfg,
		domain: strings.TrimRight(domain, "/"),
		dedup:  dedup,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: log.WithFields(zap.String("component", "feishu-adapter")),
	}
}

// Name implements transport.Adapter.
func (a *Adapter) Name() string { return "feishu" }

// Start launches the long-connection loop with automatic reconnect.
func (a *Adapter) Start(ctx context.Context, inbound transport.Inbound) error {
	a.inbound = inbound
	go a.connectLoop(ctx)
	return nil
}

func (a *Adapter) connectLoop(ctx context.Context) {
	for {
		if err := a.runConnection(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("long connection dropped", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

// runConnection resolves the websocket endpoint, dials it, and pumps
// frames until the connection breaks or ctx is cancelled.
func (a *Adapter) runConnection(ctx context.Context) error {
	endpoint, err := a.resolveEndpoint(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve ws endpoint: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("ws dial failed: %w", err)
	}
	defer conn.Close()
	a.logger.Info("long connection established")

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					conn.Close()
					return
				}
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		a.handleFrame(ctx, data)
	}
}

// resolveEndpoint asks the open platform for a websocket URL bound to the
// app credentials.
func (a *Adapter) resolveEndpoint(ctx context.Context) (string, error) {
	payload, _ := json.Marshal(map[string]string{
		"app_id":     a.cfg.AppID,
		"app_secret": a.cfg.AppSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.domain+"/callback/ws/endpoint", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Code != 0 {
		return "", fmt.Errorf("endpoint request rejected: %d %s", out.Code, out.Msg)
	}
	return out.Data.URL, nil
}

type eventFrame struct {
	Type   string `json:"type"`
	Header struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
	} `json:"header"`
	Event json.RawMessage `json:"event"`
}

type messageEvent struct {
	Sender struct {
		SenderID struct {
			OpenID string `json:"open_id"`
		} `json:"sender_id"`
		SenderType string `json:"sender_type"`
	} `json:"sender"`
	Message struct {
		ChatID      string `json:"chat_id"`
		MessageType string `json:"message_type"`
		Content     string `json:"content"`
	} `json:"message"`
}

type cardActionEvent struct {
	Operator struct {
		OpenID string `json:"open_id"`
	} `json:"operator"`
	Context struct {
		OpenChatID string `json:"open_chat_id"`
	} `json:"context"`
	Action struct {
		Value struct {
			RequestID string `json:"request_id"`
			OptionID  string `json:"option_id"`
		} `json:"value"`
	} `json:"action"`
}

func (a *Adapter) handleFrame(ctx context.Context, data []byte) {
	var frame eventFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		a.logger.Debug("discarding unparseable frame", zap.Error(err))
		return
	}
	if frame.Type == "ping" {
		return
	}
	if a.dedup.Seen(frame.Header.EventID) {
		a.logger.Debug("duplicate event suppressed", zap.String("event_id", frame.Header.EventID))
		return
	}

	switch frame.Header.EventType {
	case "im.message.receive_v1":
		a.handleMessageEvent(ctx, frame.Event)
	case "card.action.trigger":
		a.handleCardAction(ctx, frame.Event)
	}
}

func (a *Adapter) handleMessageEvent(ctx context.Context, raw json.RawMessage) {
	var ev messageEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	if ev.Sender.SenderType == "app" || ev.Message.MessageType != "text" {
		return
	}

	var content struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(ev.Message.Content), &content); err != nil {
		return
	}
	text := strings.TrimSpace(content.Text)
	if text == "" {
		return
	}

	target := transport.ChatTarget{
		Platform:  a.Name(),
		UserID:    ev.Sender.SenderID.OpenID,
		ContextID: ev.Message.ChatID,
	}
	go func() {
		resp := a.inbound.HandleMessage(ctx, target, text)
		if resp != nil && resp.Message != "" {
			if err := a.RenderResponse(target, resp); err != nil {
				a.logger.Error("failed to send response", zap.Error(err))
			}
		}
	}()
}

func (a *Adapter) handleCardAction(ctx context.Context, raw json.RawMessage) {
	var ev cardActionEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	if ev.Action.Value.RequestID == "" {
		return
	}

	target := transport.ChatTarget{
		Platform:  a.Name(),
		UserID:    ev.Operator.OpenID,
		ContextID: ev.Context.OpenChatID,
	}
	go func() {
		resp := a.inbound.HandleSelection(ctx, target, ev.Action.Value.RequestID, ev.Action.Value.OptionID)
		if resp != nil && resp.Message != "" {
			if err := a.RenderResponse(target, resp); err != nil {
				a.logger.Error("failed to send response", zap.Error(err))
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
	content, _ := json.Marshal(map[string]string{"text": text})
	return a.sendMessage(target.ContextID, "text", string(content))
}

// RenderPermission implements transport.Adapter.
func (a *Adapter) RenderPermission(target transport.ChatTarget, requestID string, req *protocol.RequestPermissionParams) error {
	opts := make([]session.Option, 0, len(req.Options))
	for _, o := range req.Options {
		opts = append(opts, session.Option{OptionID: o.OptionID, Name: o.Name})
	}
	card := a.buildCard("🔐 "+req.ToolCall.Title, requestID, opts, true)
	content, err := json.Marshal(card)
	if err != nil {
		return err
	}
	return a.sendMessage(target.ContextID, "interactive", string(content))
}

// RenderSelection implements transport.Adapter.
func (a *Adapter) RenderSelection(target transport.ChatTarget, requestID string, sel *session.SelectionPrompt) error {
	card := a.buildCard(sel.Title, requestID, sel.Options, false)
	content, err := json.Marshal(card)
	if err != nil {
		return err
	}
	return a.sendMessage(target.ContextID, "interactive", string(content))
}

// buildCard renders an interactive card with one button per option. The
// permission variant notes the auto-fallback deadline.
func (a *Adapter) buildCard(title, requestID string, opts []session.Option, permission bool) map[string]interface{} {
	var actions []map[string]interface{}
	for _, o := range opts {
		actions = append(actions, map[string]interface{}{
			"tag":  "button",
			"text": map[string]string{"tag": "plain_text", "content": o.Name},
			"type": "default",
			"value": map[string]string{
				"request_id": requestID,
				"option_id":  o.OptionID,
			},
		})
	}

	elements := []map[string]interface{}{
		{"tag": "action", "actions": actions},
	}
	if permission {
		timeout := a.cfg.Card.PermissionTimeout
		if timeout <= 0 {
			timeout = 300000
		}
		note := fmt.Sprintf("auto-resolves in %d s", timeout/1000)
		elements = append(elements, map[string]interface{}{
			"tag": "note",
			"elements": []map[string]string{
				{"tag": "plain_text", "content": note},
			},
		})
	}

	return map[string]interface{}{
		"config": map[string]bool{"wide_screen_mode": true},
		"header": map[string]interface{}{
			"title": map[string]string{"tag": "plain_text", "content": title},
		},
		"elements": elements,
	}
}

func (a *Adapter) sendMessage(chatID, msgType, content string) error {
	token, err := a.tenantAccessToken()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{
		"receive_id": chatID,
		"msg_type":   msgType,
		"content":    content,
	})
	if err != nil {
		return err
	}

	url := a.domain + "/open-apis/im/v1/messages?receive_id_type=chat_id"
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("message send failed: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("message send decode failed: %w", err)
	}
	if out.Code != 0 {
		return fmt.Errorf("message send rejected: %d %s", out.Code, out.Msg)
	}
	return nil
}

// tenantAccessToken returns a cached token, refreshing it shortly before
// expiry.
func (a *Adapter) tenantAccessToken() (string, error) {
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()

	if a.tenantToken != "" && time.Now().Before(a.tokenExpiry) {
		return a.tenantToken, nil
	}

	payload, _ := json.Marshal(map[string]string{
		"app_id":     a.cfg.AppID,
		"app_secret": a.cfg.AppSecret,
	})
	resp, err := a.client.Post(
		a.domain+"/open-apis/auth/v3/tenant_access_token/internal",
		"application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("token decode failed: %w", err)
	}
	if out.Code != 0 {
		return "", fmt.Errorf("token request rejected: %d %s", out.Code, out.Msg)
	}

	a.tenantToken = out.TenantAccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(out.Expire)*time.Second - tokenSafetyMargin)
	return a.tenantToken, nil
}
