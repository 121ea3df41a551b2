package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-separated and namespaced by the publishing subsystem:
// "userdata.*" for store mutations, "query.*" for remote fetch outcomes,
// "recommend.*" for ranking refreshes and "profile.*" for runtime status.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
