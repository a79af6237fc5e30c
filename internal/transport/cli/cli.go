// Package cli implements the interactive terminal transport, mainly used
// for local development and as the auto-mode fallback.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/baton-gw/baton/internal/agent/acp"
	"github.com/baton-gw/baton/internal/common/logger"
	"github.com/baton-gw/baton/internal/session"
	"github.com/baton-gw/baton/internal/transport"
	"github.com/baton-gw/baton/pkg/acp/protocol"
)

const localUser = "local"

// Adapter reads prompts from stdin and renders to stdout.
type Adapter struct {
	in     io.Reader
	out    io.Writer
	logger *logger.Logger
}

// New builds the CLI adapter on the process's stdio.
func New(log *logger.Logger) *Adapter {
	return &Adapter{
		in:     os.Stdin,
		out:    os.Stdout,
		logger: log.WithFields(zap.String("component", "cli-adapter")),
	}
}

// Name implements transport.Adapter.
func (a *Adapter) Name() string { return "cli" }

// Start reads stdin line by line until EOF or ctx cancellation.
func (a *Adapter) Start(ctx context.Context, inbound transport.Inbound) error {
	target := transport.ChatTarget{Platform: a.Name(), UserID: localUser}

	go func() {
		scanner := bufio.NewScanner(a.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		fmt.Fprint(a.out, "> ")
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			text := scanner.Text()
			if text != "" {
				resp := inbound.HandleMessage(ctx, target, text)
				if resp != nil && resp.Message != "" {
					a.print(resp)
				}
			}
			fmt.Fprint(a.out, "> ")
		}
	}()
	return nil
}

func (a *Adapter) print(resp *acp.Response) {
	prefix := ""
	if !resp.Success {
		prefix = "✗ "
	}
	fmt.Fprintf(a.out, "%s%s\n", prefix, resp.Message)
}

// RenderResponse implements transport.Adapter.
func (a *Adapter) RenderResponse(target transport.ChatTarget, resp *acp.Response) error {
	a.print(resp)
	fmt.Fprint(a.out, "> ")
	return nil
}

// RenderPermission implements transport.Adapter.
func (a *Adapter) RenderPermission(target transport.ChatTarget, requestID string, req *protocol.RequestPermissionParams) error {
	fmt.Fprintf(a.out, "\n🔐 %s\n", req.ToolCall.Title)
	for i, o := range req.Options {
		fmt.Fprintf(a.out, "%d. %s\n", i, o.Name)
	}
	fmt.Fprint(a.out, "reply with a number or option name\n> ")
	return nil
}

// RenderSelection implements transport.Adapter.
func (a *Adapter) RenderSelection(target transport.ChatTarget, requestID string, sel *session.SelectionPrompt) error {
	fmt.Fprintf(a.out, "\n%s\n", sel.Title)
	for i, o := range sel.Options {
		fmt.Fprintf(a.out, "%d. %s\n", i, o.Name)
	}
	fmt.Fprint(a.out, "> ")
	return nil
}
