package domain

import "time"

// Role is the declared role of a signaling session. Sessions start as
// subscribers and are promoted to ingest exactly once, when they register
// a stream.
type Role string

const (
	RoleSubscriber Role = "subscriber"
	RoleIngest     Role = "ingest"
)

// Session is one connected signaling session. The registry only tracks
// identity and role; resource ownership lives in the resource graph and
// teardown is driven by the protocol handler, not here.
type Session struct {
	ID          SessionID
	Role        Role
	ConnectedAt time.Time
}
