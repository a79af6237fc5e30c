// Package transport defines the contract between the gateway core and the
// platform adapters, plus the pieces every adapter shares (duplicate
// suppression).
package transport

import (
	"context"

	"github.com/baton-gw/baton/internal/agent/acp"
	"github.com/baton-gw/baton/internal/session"
	"github.com/baton-gw/baton/pkg/acp/protocol"
)

// ChatTarget addresses a conversation on a platform.
type ChatTarget struct {
	Platform  string `json:"platform"`
	UserID    string `json:"userId"`
	ContextID string `json:"contextId,omitempty"`
}

// Inbound is the gateway side of the adapter contract. Adapters call it for
// every user message or selection reply.
type Inbound interface {
	// HandleMessage delivers one inbound message. The returned response is
	// the immediate answer; an empty message on success means a task
	// started and the result arrives later via RenderResponse.
	HandleMessage(ctx context.Context, target ChatTarget, text string) *acp.Response

	// HandleSelection resolves an interactive reply (button press, numbered
	// answer) against a pending interaction.
	HandleSelection(ctx context.Context, target ChatTarget, requestID, optionID string) *acp.Response
}

// Adapter is one platform transport.
type Adapter interface {
	Name() string

	// Start begins receiving; it returns once the adapter is accepting
	// traffic. Shutdown happens when ctx is cancelled.
	Start(ctx context.Context, inbound Inbound) error

	// RenderResponse delivers a task result or command answer to a chat.
	RenderResponse(target ChatTarget, resp *acp.Response) error

	// RenderPermission shows a permission request with its options.
	RenderPermission(target ChatTarget, requestID string, req *protocol.RequestPermissionParams) error

	// RenderSelection shows a selection card.
	RenderSelection(target ChatTarget, requestID string, sel *session.SelectionPrompt) error
}
