// Package events defines the gateway's event vocabulary.
package events

// Session lifecycle and task events published on the bus.
const (
	SessionCreated = "session.created"
	SessionReset   = "session.reset"

	TaskQueued    = "task.queued"
	TaskStarted   = "task.started"
	TaskCompleted = "task.completed"
	TaskStopped   = "task.stopped"

	PermissionRequested = "interaction.permission"
	SelectionPrompted   = "interaction.selection"
	InteractionResolved = "interaction.resolved"

	AgentStarted = "agent.started"
	AgentStopped = "agent.stopped"
)
