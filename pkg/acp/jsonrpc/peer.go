// Package jsonrpc implements a symmetric JSON-RPC 2.0 peer over NDJSON
// streams. Either side may issue requests: outgoing calls are correlated by
// id, and incoming requests are dispatched to registered handlers.
package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/baton-gw/baton/internal/common/logger"
	"go.uber.org/zap"
)

// RequestHandler serves one inbound request method. The returned value is
// marshaled as the result; a non-nil error becomes a JSON-RPC error reply.
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// NotificationHandler receives inbound notifications.
type NotificationHandler func(method string, params json.RawMessage)

// Peer handles JSON-RPC 2.0 communication over stdin/stdout streams.
type Peer struct {
	stdin  io.Writer
	stdout io.Reader

	requestID atomic.Int64
	pending   map[string]chan *Response
	mu        sync.Mutex

	writeMu sync.Mutex

	onNotification NotificationHandler
	handlers       map[string]RequestHandler
	handlerMu      sync.RWMutex

	logger *logger.Logger
	done   chan struct{}
	once   sync.Once
}

// NewPeer creates a peer over the given streams.
func NewPeer(stdin io.Writer, stdout io.Reader, log *logger.Logger) *Peer {
	return &Peer{
		stdin:    stdin,
		stdout:   stdout,
		pending:  make(map[string]chan *Response),
		handlers: make(map[string]RequestHandler),
		logger:   log.WithFields(zap.String("component", "jsonrpc-peer")),
		done:     make(chan struct{}),
	}
}

// SetNotificationHandler sets the handler for incoming notifications.
// Must be called before Start.
func (p *Peer) SetNotificationHandler(handler NotificationHandler) {
	p.onNotification = handler
}

// Handle registers a handler for an inbound request method.
func (p *Peer) Handle(method string, handler RequestHandler) {
	p.handlerMu.Lock()
	p.handlers[method] = handler
	p.handlerMu.Unlock()
}

// Start begins reading messages from stdout.
func (p *Peer) Start(ctx context.Context) {
	go p.readLoop(ctx)
}

// Stop stops the peer and fails all pending calls.
func (p *Peer) Stop() {
	p.once.Do(func() { close(p.done) })
}

// Done is closed when the peer shuts down (explicitly or on stream EOF).
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Call sends a request and waits for the matching response.
func (p *Peer) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	id := p.requestID.Add(1)

	var paramsJSON json.RawMessage
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	req := &Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  paramsJSON,
	}

	key := strconv.FormatInt(id, 10)
	respCh := make(chan *Response, 1)
	p.mu.Lock()
	p.pending[key] = respCh
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, key)
		p.mu.Unlock()
	}()

	if err := p.send(req); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, fmt.Errorf("peer closed")
	}
}

// Notify sends a notification (no response expected).
func (p *Peer) Notify(method string, params interface{}) error {
	var paramsJSON json.RawMessage
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	notif := &Notification{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
	}
	return p.send(notif)
}

func (p *Peer) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	p.writeMu.Lock()
	_, err = p.stdin.Write(data)
	p.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	p.logger.Debug("sent message", zap.ByteString("data", data))
	return nil
}

func (p *Peer) readLoop(ctx context.Context) {
	defer p.Stop()

	scanner := bufio.NewScanner(p.stdout)
	// Large buffer for big message chunks
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		p.logger.Debug("received message", zap.ByteString("data", line))

		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			p.logger.Warn("received malformed message", zap.Error(err))
			continue
		}

		switch {
		case env.Method != "" && len(env.ID) > 0:
			p.handleRequest(ctx, &env)
		case env.Method != "":
			if p.onNotification != nil {
				p.onNotification(env.Method, env.Params)
			}
		case len(env.ID) > 0:
			p.handleResponse(&env)
		default:
			p.logger.Warn("received unknown message format", zap.ByteString("data", line))
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Error("read loop error", zap.Error(err))
	}
}

func (p *Peer) handleResponse(env *envelope) {
	key := string(env.ID)
	p.mu.Lock()
	ch, ok := p.pending[key]
	p.mu.Unlock()

	if !ok {
		p.logger.Warn("received response for unknown request", zap.String("id", key))
		return
	}
	ch <- &Response{JSONRPC: env.JSONRPC, ID: env.ID, Result: env.Result, Error: env.Error}
}

// handleRequest dispatches an inbound request to its handler. Runs in its
// own goroutine so a blocking handler (permission prompt, terminal wait)
// does not stall the read loop.
func (p *Peer) handleRequest(ctx context.Context, env *envelope) {
	p.handlerMu.RLock()
	handler, ok := p.handlers[env.Method]
	p.handlerMu.RUnlock()

	id := env.ID
	method := env.Method
	params := env.Params

	if !ok {
		p.replyError(id, CodeMethodNotFound, fmt.Sprintf("method not found: %s", method))
		return
	}

	go func() {
		result, err := handler(ctx, params)
		if err != nil {
			p.replyError(id, CodeInternalError, err.Error())
			return
		}

		resultJSON, err := json.Marshal(result)
		if err != nil {
			p.replyError(id, CodeInternalError, fmt.Sprintf("failed to marshal result: %v", err))
			return
		}
		if err := p.send(&Response{JSONRPC: "2.0", ID: id, Result: resultJSON}); err != nil {
			p.logger.Error("failed to send response",
				zap.String("method", method),
				zap.Error(err))
		}
	}()
}

func (p *Peer) replyError(id json.RawMessage, code int, message string) {
	resp := &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message},
	}
	if err := p.send(resp); err != nil {
		p.logger.Error("failed to send error response", zap.Error(err))
	}
}
