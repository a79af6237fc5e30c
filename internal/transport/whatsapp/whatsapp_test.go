package whatsapp

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/baton-gw/baton/internal/agent/acp"
	"github.com/baton-gw/baton/internal/common/config"
	"github.com/baton-gw/baton/internal/common/logger"
	"github.com/baton-gw/baton/internal/transport"
)

type recordingInbound struct {
	mu       sync.Mutex
	messages []string
	targets  []transport.ChatTarget
	got      chan struct{}
}

func (r *recordingInbound) HandleMessage(ctx context.Context, target transport.ChatTarget, text string) *acp.Response {
	r.mu.Lock()
	r.messages = append(r.messages, text)
	r.targets = append(r.targets, target)
	r.mu.Unlock()
	r.got <- struct{}{}
	return &acp.Response{Success: true}
}

func (r *recordingInbound) HandleSelection(ctx context.Context, target transport.ChatTarget, requestID, optionID string) *acp.Response {
	return &acp.Response{Success: true}
}

type fakeWacli struct {
	mu    sync.Mutex
	recv  []string // successive recv outputs
	calls [][]string
}

func (f *fakeWacli) run(ctx context.Context, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	if len(args) > 0 && args[0] == "recv" {
		if len(f.recv) == 0 {
			return []byte("[]"), nil
		}
		out := f.recv[0]
		f.recv = f.recv[1:]
		return []byte(out), nil
	}
	return nil, nil
}

func (f *fakeWacli) sends() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, c := range f.calls {
		if len(c) > 0 && c[0] == "send" {
			out = append(out, c)
		}
	}
	return out
}

func newTestAdapter(t *testing.T, wacli *fakeWacli) (*Adapter, *recordingInbound) {
	t.Helper()
	a := New(config.WacliConfig{StoreDir: "/tmp/wa", PollIntervalMs: 10}, transport.NewDeduper(time.Minute), logger.NewNop())
	a.run = wacli.run
	inbound := &recordingInbound{got: make(chan struct{}, 8)}
	a.inbound = inbound
	return a, inbound
}

func TestPollDeliversMessage(t *testing.T) {
	wacli := &fakeWacli{recv: []string{
		`[{"id":"m1","chat":"123@g.us","sender":"456@s.whatsapp.net","text":" hello "}]`,
	}}
	a, inbound := newTestAdapter(t, wacli)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx, inbound); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-inbound.got:
	case <-time.After(2 * time.Second):
		t.Fatal("message never delivered")
	}
	inbound.mu.Lock()
	defer inbound.mu.Unlock()
	if inbound.messages[0] != "hello" {
		t.Errorf("text not trimmed, got %q", inbound.messages[0])
	}
	if inbound.targets[0].UserID != "456@s.whatsapp.net" || inbound.targets[0].ContextID != "123@g.us" {
		t.Errorf("wrong target %+v", inbound.targets[0])
	}
}

func TestDuplicateAndOwnMessagesIgnored(t *testing.T) {
	wacli := &fakeWacli{}
	a, inbound := newTestAdapter(t, wacli)

	a.handleMessage(context.Background(), inboundMessage{ID: "m1", Chat: "c", Sender: "s", Text: "hi"})
	<-inbound.got

	a.handleMessage(context.Background(), inboundMessage{ID: "m1", Chat: "c", Sender: "s", Text: "hi"})
	a.handleMessage(context.Background(), inboundMessage{ID: "m2", Chat: "c", Sender: "s", Text: "me", FromMe: true})

	select {
	case <-inbound.got:
		t.Fatal("duplicate or own message processed")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendUsesStoreDir(t *testing.T) {
	wacli := &fakeWacli{}
	a, _ := newTestAdapter(t, wacli)

	err := a.RenderResponse(transport.ChatTarget{ContextID: "123@g.us"}, &acp.Response{Success: false, Message: "boom"})
	if err != nil {
		t.Fatalf("RenderResponse failed: %v", err)
	}

	sends := wacli.sends()
	if len(sends) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sends))
	}
	args := sends[0]
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--store /tmp/wa") {
		t.Errorf("store dir not passed: %v", args)
	}
	if args[len(args)-2] != "123@g.us" || !strings.HasPrefix(args[len(args)-1], "⚠️") {
		t.Errorf("unexpected send args %v", args)
	}
}

func TestPollSkipsUnparseableOutput(t *testing.T) {
	wacli := &fakeWacli{recv: []string{"not json"}}
	a, _ := newTestAdapter(t, wacli)

	if err := a.pollOnce(context.Background()); err == nil {
		t.Error("expected error for unparseable output")
	}
}
