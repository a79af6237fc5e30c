package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/baton-gw/baton/pkg/acp/protocol"
)

// Interaction kinds.
const (
	KindPermission     = "permission"
	KindRepoSelection  = "repo_selection"
	KindModeSelection  = "mode_selection"
	KindModelSelection = "model_selection"
)

// Option is one user-selectable choice of an interaction.
type Option struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
}

type interactionOutcome struct {
	optionID string
	err      error
}

// Interaction is a suspended question from the agent (or the gateway itself)
// to the user. It resolves exactly once: by a user reply, a timeout fallback,
// or a reject when it is replaced or the session is torn down.
type Interaction struct {
	RequestID string
	Kind      string
	Title     string
	Options   []Option
	CreatedAt time.Time

	// OriginalRequest is set for kind=permission.
	OriginalRequest *protocol.RequestPermissionParams

	once sync.Once
	ch   chan interactionOutcome
}

func newInteraction(requestID, kind, title string, options []Option, original *protocol.RequestPermissionParams) *Interaction {
	return &Interaction{
		RequestID:       requestID,
		Kind:            kind,
		Title:           title,
		Options:         options,
		CreatedAt:       time.Now(),
		OriginalRequest: original,
		ch:              make(chan interactionOutcome, 1),
	}
}

// Resolve delivers the chosen option. Later calls are no-ops.
func (i *Interaction) Resolve(optionID string) {
	i.once.Do(func() { i.ch <- interactionOutcome{optionID: optionID} })
}

// Reject fails the interaction. Later calls are no-ops.
func (i *Interaction) Reject(reason string) {
	i.once.Do(func() { i.ch <- interactionOutcome{err: fmt.Errorf("%s", reason)} })
}

// Wait blocks until the interaction resolves or ctx ends.
func (i *Interaction) Wait(ctx context.Context) (string, error) {
	select {
	case out := <-i.ch:
		return out.optionID, out.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// HasOption reports whether optionID is one of the offered choices.
func (i *Interaction) HasOption(optionID string) bool {
	for _, o := range i.Options {
		if o.OptionID == optionID {
			return true
		}
	}
	return false
}
