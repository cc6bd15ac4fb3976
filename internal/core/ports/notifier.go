package ports

import "streamgrid/internal/core/domain"

// Notifier fans out asynchronous events to sessions. Delivery is
// fire-and-forget: a failure for one recipient must not block or fail
// delivery to the others. Implementations are called synchronously with
// the state mutation that caused the event, which is what preserves the
// ordering guarantee of the protocol (activation is visible before any
// event referencing it).
type Notifier interface {
	// Broadcast delivers the event to every connected session.
	Broadcast(event domain.Event)
	// Send delivers the event to the given sessions only.
	Send(sessions []domain.SessionID, event domain.Event)
}
