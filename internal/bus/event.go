package bus

import "time"

// Event is a domain event published on the bus.
//
// Kinds are dot-separated namespaces; subscribers filter by prefix:
//
//	conn.status       session status changes
//	conn.self_id      self identity learned
//	event.<category>  normalized protocol events (event.message, event.notice, ...)
//	message.sent      send acknowledged, remote id assigned
//	message.updated   message content rewritten after reload
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
