package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/baton-gw/baton/internal/agent/acp"
	"github.com/baton-gw/baton/internal/common/config"
	"github.com/baton-gw/baton/internal/common/logger"
	"github.com/baton-gw/baton/internal/session"
	"github.com/baton-gw/baton/internal/transport"
)

type recordingInbound struct {
	mu         sync.Mutex
	messages   []string
	selections [][2]string
	got        chan struct{}
}

func (r *recordingInbound) HandleMessage(ctx context.Context, target transport.ChatTarget, text string) *acp.Response {
	r.mu.Lock()
	r.messages = append(r.messages, text)
	r.mu.Unlock()
	r.got <- struct{}{}
	return &acp.Response{Success: true}
}

func (r *recordingInbound) HandleSelection(ctx context.Context, target transport.ChatTarget, requestID, optionID string) *acp.Response {
	r.mu.Lock()
	r.selections = append(r.selections, [2]string{requestID, optionID})
	r.mu.Unlock()
	r.got <- struct{}{}
	return &acp.Response{Success: true}
}

// fakeAPI serves getUpdates once with the given updates, then empty batches.
type fakeAPI struct {
	mu      sync.Mutex
	updates []update
	sent    []map[string]interface{}
	offsets []string
}

func (f *fakeAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			f.mu.Lock()
			batch := f.updates
			f.updates = nil
			f.offsets = append(f.offsets, r.URL.Query().Get("offset"))
			f.mu.Unlock()
			if batch == nil {
				// Keep the poll loop slow once drained.
				time.Sleep(50 * time.Millisecond)
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "result": batch})
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var payload map[string]interface{}
			json.NewDecoder(r.Body).Decode(&payload)
			f.mu.Lock()
			f.sent = append(f.sent, payload)
			f.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
		case strings.HasSuffix(r.URL.Path, "/answerCallbackQuery"):
			json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
		default:
			http.NotFound(w, r)
		}
	}
}

func mustUpdate(t *testing.T, raw string) update {
	t.Helper()
	var u update
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		t.Fatalf("bad test update: %v", err)
	}
	return u
}

func newTestAdapter(t *testing.T, api *fakeAPI) (*Adapter, *recordingInbound, func()) {
	t.Helper()
	srv := httptest.NewServer(api.handler())

	a := New(config.TelegramConfig{BotToken: "tok", APIBase: srv.URL}, logger.NewNop())
	inbound := &recordingInbound{got: make(chan struct{}, 8)}

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx, inbound); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return a, inbound, func() {
		cancel()
		srv.Close()
	}
}

func TestPollDeliversMessageAndAdvancesOffset(t *testing.T) {
	api := &fakeAPI{updates: []update{
		mustUpdate(t, `{"update_id":7,"message":{"text":"hello","from":{"id":11},"chat":{"id":22}}}`),
	}}
	_, inbound, stop := newTestAdapter(t, api)
	defer stop()

	select {
	case <-inbound.got:
	case <-time.After(2 * time.Second):
		t.Fatal("message never delivered")
	}
	inbound.mu.Lock()
	if inbound.messages[0] != "hello" {
		t.Errorf("unexpected text %q", inbound.messages[0])
	}
	inbound.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for {
		api.mu.Lock()
		advanced := len(api.offsets) >= 2 && api.offsets[len(api.offsets)-1] == "8"
		api.mu.Unlock()
		if advanced {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("offset never advanced past the consumed update")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCallbackQueryResolvesSelection(t *testing.T) {
	api := &fakeAPI{updates: []update{
		mustUpdate(t, `{"update_id":1,"callback_query":{"id":"cb1","data":"req-3:allow","from":{"id":11},"message":{"chat":{"id":22}}}}`),
	}}
	_, inbound, stop := newTestAdapter(t, api)
	defer stop()

	select {
	case <-inbound.got:
	case <-time.After(2 * time.Second):
		t.Fatal("selection never delivered")
	}
	inbound.mu.Lock()
	defer inbound.mu.Unlock()
	if len(inbound.selections) != 1 || inbound.selections[0] != [2]string{"req-3", "allow"} {
		t.Errorf("unexpected selections %v", inbound.selections)
	}
}

func TestRenderSelectionSendsInlineKeyboard(t *testing.T) {
	api := &fakeAPI{}
	a, _, stop := newTestAdapter(t, api)
	defer stop()

	err := a.RenderSelection(transport.ChatTarget{ContextID: "22"}, "req-1", &session.SelectionPrompt{
		Title:   "Pick a repo",
		Options: []session.Option{{OptionID: "repo:1", Name: "alpha"}, {OptionID: "repo:2", Name: "beta"}},
	})
	if err != nil {
		t.Fatalf("RenderSelection failed: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sent) != 1 {
		t.Fatalf("expected 1 sendMessage, got %d", len(api.sent))
	}
	payload := api.sent[0]
	if payload["chat_id"] != "22" || payload["text"] != "Pick a repo" {
		t.Errorf("unexpected payload %v", payload)
	}
	markup, _ := json.Marshal(payload["reply_markup"])
	if !strings.Contains(string(markup), "req-1:repo:1") {
		t.Errorf("callback_data missing, markup=%s", markup)
	}
}

func TestInlineKeyboardCapsCallbackData(t *testing.T) {
	long := strings.Repeat("x", 80)
	kb := inlineKeyboard("req", []session.Option{{OptionID: long, Name: "big"}})
	rows := kb["inline_keyboard"].([][]map[string]string)
	if got := rows[0][0]["callback_data"]; len(got) != 64 {
		t.Errorf("callback_data not capped, len=%d", len(got))
	}
}

func TestSendMessageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	a := New(config.TelegramConfig{BotToken: "tok", APIBase: srv.URL}, logger.NewNop())
	err := a.sendMessage("1", "hi", nil)
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("expected API error surfaced, got %v", err)
	}
}
