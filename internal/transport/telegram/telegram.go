// Package telegram implements the Telegram bot transport. Inbound traffic
// uses the getUpdates long poll; outbound goes through sendMessage, with
// inline keyboards for permission and selection prompts.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
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

const longPollSeconds = 30

// Adapter bridges Telegram chats to the gateway core.
type Adapter struct {
	cfg    config.TelegramConfig
	client *http.Client
	logger *logger.Logger

	inbound transport.Inbound
	offset  int64
}

// New builds the Telegram adapter.
func New(cfg config.TelegramConfig, log *logger.Logger) *Adapter {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.telegram.org"
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: (longPollSeconds + 10) * time.Second},
		logger: log.WithFields(zap.String("component", "telegram-adapter")),
	}
}

// Name implements transport.Adapter.
func (a *Adapter) Name() string { return "telegram" }

// Start launches the long-poll loop.
func (a *Adapter) Start(ctx context.Context, inbound transport.Inbound) error {
	a.inbound = inbound
	go a.pollLoop(ctx)
	return nil
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		Data string `json:"data"`
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Message *struct {
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	} `json:"callback_query"`
}

func (a *Adapter) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := a.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("getUpdates failed", zap.Error(err))
			time.Sleep(3 * time.Second)
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= a.offset {
				a.offset = u.UpdateID + 1
			}
			a.handleUpdate(ctx, u)
		}
	}
}

func (a *Adapter) getUpdates(ctx context.Context) ([]update, error) {
	url := fmt.Sprintf("%s/bot%s/getUpdates?timeout=%d&offset=%d",
		a.cfg.APIBase, a.cfg.BotToken, longPollSeconds, a.offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool     `json:"ok"`
		Description string   `json:"description"`
		Result      []update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("getUpdates decode failed: %w", err)
	}
	if !out.OK {
		return nil, fmt.Errorf("getUpdates rejected: %s", out.Description)
	}
	return out.Result, nil
}

func (a *Adapter) handleUpdate(ctx context.Context, u update) {
	switch {
	case u.Message != nil:
		text := strings.TrimSpace(u.Message.Text)
		if text == "" {
			return
		}
		target := transport.ChatTarget{
			Platform:  a.Name(),
			UserID:    strconv.FormatInt(u.Message.From.ID, 10),
			ContextID: strconv.FormatInt(u.Message.Chat.ID, 10),
		}
		go func() {
			resp := a.inbound.HandleMessage(ctx, target, text)
			if resp != nil && resp.Message != "" {
				if err := a.RenderResponse(target, resp); err != nil {
					a.logger.Error("failed to send response", zap.Error(err))
				}
			}
		}()
	case u.CallbackQuery != nil:
		cb := u.CallbackQuery
		requestID, optionID, ok := strings.Cut(cb.Data, ":")
		if !ok || cb.Message == nil {
			return
		}
		target := transport.ChatTarget{
			Platform:  a.Name(),
			UserID:    strconv.FormatInt(cb.From.ID, 10),
			ContextID: strconv.FormatInt(cb.Message.Chat.ID, 10),
		}
		go func() {
			a.answerCallback(cb.ID)
			resp := a.inbound.HandleSelection(ctx, target, requestID, optionID)
			if resp != nil && resp.Message != "" {
				if err := a.RenderResponse(target, resp); err != nil {
					a.logger.Error("failed to send response", zap.Error(err))
				}
			}
		}()
	}
}

// answerCallback stops the client-side spinner on the pressed button.
func (a *Adapter) answerCallback(callbackID string) {
	payload, _ := json.Marshal(map[string]string{"callback_query_id": callbackID})
	url := fmt.Sprintf("%s/bot%s/answerCallbackQuery", a.cfg.APIBase, a.cfg.BotToken)
	resp, err := a.client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		a.logger.Debug("answerCallbackQuery failed", zap.Error(err))
		return
	}
	resp.Body.Close()
}

// RenderResponse implements transport.Adapter.
func (a *Adapter) RenderResponse(target transport.ChatTarget, resp *acp.Response) error {
	text := resp.Message
	if !resp.Success {
		text = "⚠️ " + text
	}
	return a.sendMessage(target.ContextID, text, nil)
}

// RenderPermission implements transport.Adapter.
func (a *Adapter) RenderPermission(target transport.ChatTarget, requestID string, req *protocol.RequestPermissionParams) error {
	opts := make([]session.Option, 0, len(req.Options))
	for _, o := range req.Options {
		opts = append(opts, session.Option{OptionID: o.OptionID, Name: o.Name})
	}
	return a.sendMessage(target.ContextID, "🔐 "+req.ToolCall.Title, inlineKeyboard(requestID, opts))
}

// RenderSelection implements transport.Adapter.
func (a *Adapter) RenderSelection(target transport.ChatTarget, requestID string, sel *session.SelectionPrompt) error {
	return a.sendMessage(target.ContextID, sel.Title, inlineKeyboard(requestID, sel.Options))
}

// inlineKeyboard builds one button per row; callback_data carries
// "requestID:optionID" and is capped at 64 bytes by Telegram.
func inlineKeyboard(requestID string, opts []session.Option) map[string]interface{} {
	rows := make([][]map[string]string, 0, len(opts))
	for _, o := range opts {
		data := requestID + ":" + o.OptionID
		if len(data) > 64 {
			data = data[:64]
		}
		rows = append(rows, []map[string]string{{"text": o.Name, "callback_data": data}})
	}
	return map[string]interface{}{"inline_keyboard": rows}
}

func (a *Adapter) sendMessage(chatID, text string, replyMarkup map[string]interface{}) error {
	payload := map[string]interface{}{"chat_id": chatID, "text": text}
	if replyMarkup != nil {
		payload["reply_markup"] = replyMarkup
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", a.cfg.APIBase, a.cfg.BotToken)
	resp, err := a.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sendMessage failed: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("sendMessage decode failed: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("sendMessage rejected: %s", out.Description)
	}
	return nil
}
