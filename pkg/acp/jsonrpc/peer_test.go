package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/baton-gw/baton/internal/common/logger"
)

// pipePair wires a peer to a fake agent over in-process pipes.
type pipePair struct {
	peer *Peer

	// agentIn receives what the peer writes; agentOut feeds the peer.
	agentIn  *bufio.Scanner
	agentOut *io.PipeWriter
}

func newPipePair(t *testing.T) *pipePair {
	t.Helper()

	toAgentR, toAgentW := io.Pipe()
	fromAgentR, fromAgentW := io.Pipe()

	p := NewPeer(toAgentW, fromAgentR, logger.NewNop())
	t.Cleanup(func() {
		p.Stop()
		toAgentW.Close()
		fromAgentW.Close()
	})

	return &pipePair{
		peer:     p,
		agentIn:  bufio.NewScanner(toAgentR),
		agentOut: fromAgentW,
	}
}

func (pp *pipePair) agentWrite(t *testing.T, line string) {
	t.Helper()
	if _, err := pp.agentOut.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("agent write failed: %v", err)
	}
}

func (pp *pipePair) agentRead(t *testing.T) envelope {
	t.Helper()
	env, err := pp.tryAgentRead()
	if err != nil {
		t.Fatalf("agent read failed: %v", err)
	}
	return env
}

// tryAgentRead is the non-fatal variant, safe to use from goroutines that
// may outlive the test body.
func (pp *pipePair) tryAgentRead() (envelope, error) {
	var env envelope
	if !pp.agentIn.Scan() {
		if err := pp.agentIn.Err(); err != nil {
			return env, err
		}
		return env, io.EOF
	}
	if err := json.Unmarshal(pp.agentIn.Bytes(), &env); err != nil {
		return env, err
	}
	return env, nil
}

func TestCallResponse(t *testing.T) {
	pp := newPipePair(t)
	ctx := context.Background()
	pp.peer.Start(ctx)

	go func() {
		env, err := pp.tryAgentRead()
		if err != nil {
			return
		}
		pp.agentOut.Write([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":{"pong":true}}`, string(env.ID)) + "\n"))
	}()

	resp, err := pp.peer.Call(ctx, "ping", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %v", resp.Error)
	}

	var result struct {
		Pong bool `json:"pong"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to parse result: %v", err)
	}
	if !result.Pong {
		t.Error("expected pong=true in result")
	}
}

func TestCallErrorResponse(t *testing.T) {
	pp := newPipePair(t)
	ctx := context.Background()
	pp.peer.Start(ctx)

	go func() {
		env, err := pp.tryAgentRead()
		if err != nil {
			return
		}
		pp.agentOut.Write([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"nope"}}`, string(env.ID)) + "\n"))
	}()

	resp, err := pp.peer.Call(ctx, "bogus", nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("expected error response")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("expected code %d, got %d", CodeMethodNotFound, resp.Error.Code)
	}
}

func TestCallContextCancelled(t *testing.T) {
	pp := newPipePair(t)
	pp.peer.Start(context.Background())

	// Drain the request but never answer.
	go pp.tryAgentRead()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := pp.peer.Call(ctx, "ping", nil)
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestNotificationDispatch(t *testing.T) {
	pp := newPipePair(t)

	got := make(chan string, 1)
	pp.peer.SetNotificationHandler(func(method string, params json.RawMessage) {
		got <- method
	})
	pp.peer.Start(context.Background())

	pp.agentWrite(t, `{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"s1"}}`)

	select {
	case method := <-got:
		if method != "session/update" {
			t.Errorf("expected session/update, got %s", method)
		}
	case <-time.After(time.Second):
		t.Fatal("notification handler not invoked")
	}
}

func TestInboundRequestDispatch(t *testing.T) {
	pp := newPipePair(t)

	pp.peer.Handle("fs/read_text_file", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return map[string]string{"content": "hello"}, nil
	})
	pp.peer.Start(context.Background())

	pp.agentWrite(t, `{"jsonrpc":"2.0","id":99,"method":"fs/read_text_file","params":{"path":"/x"}}`)

	env := pp.agentRead(t)
	if string(env.ID) != "99" {
		t.Errorf("expected reply id 99, got %s", string(env.ID))
	}
	var result struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("failed to parse result: %v", err)
	}
	if result.Content != "hello" {
		t.Errorf("expected content 'hello', got %q", result.Content)
	}
}

func TestInboundRequestUnknownMethod(t *testing.T) {
	pp := newPipePair(t)
	pp.peer.Start(context.Background())

	pp.agentWrite(t, `{"jsonrpc":"2.0","id":7,"method":"no/such/method"}`)

	env := pp.agentRead(t)
	if env.Error == nil {
		t.Fatal("expected error reply")
	}
	if env.Error.Code != CodeMethodNotFound {
		t.Errorf("expected code %d, got %d", CodeMethodNotFound, env.Error.Code)
	}
}

func TestInboundRequestHandlerError(t *testing.T) {
	pp := newPipePair(t)

	pp.peer.Handle("fs/write_text_file", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, fmt.Errorf("path outside project root")
	})
	pp.peer.Start(context.Background())

	pp.agentWrite(t, `{"jsonrpc":"2.0","id":8,"method":"fs/write_text_file","params":{}}`)

	env := pp.agentRead(t)
	if env.Error == nil {
		t.Fatal("expected error reply")
	}
	if env.Error.Code != CodeInternalError {
		t.Errorf("expected code %d, got %d", CodeInternalError, env.Error.Code)
	}
}

func TestStopFailsPendingCalls(t *testing.T) {
	pp := newPipePair(t)
	pp.peer.Start(context.Background())

	go pp.tryAgentRead()

	errCh := make(chan error, 1)
	go func() {
		_, err := pp.peer.Call(context.Background(), "ping", nil)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	pp.peer.Stop()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected error after Stop")
		}
	case <-time.After(time.Second):
		t.Fatal("Call did not return after Stop")
	}
}
