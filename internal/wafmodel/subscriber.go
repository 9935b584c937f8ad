package wafmodel

import "time"

// Subscriber identifies one live bidirectional dashboard connection.
// The set of current subscribers is process-local and owned by the
// Broadcaster; a subscriber is removed on any send failure.
type Subscriber struct {
	Id          string    `json:"id"`
	ConnectedAt time.Time `json:"connected_at"`
	RemoteAddr  string    `json:"remote_addr"`
}

// DecisionEvent is the envelope the Broadcaster fans out to every
// subscriber whenever the decision pipeline reaches a verdict. It
// carries enough of a DecisionRecord for a dashboard to render a
// live feed without re-querying the Event Log Store.
type DecisionEvent struct {
	Type      string         `json:"type"`
	Record    DecisionRecord `json:"record"`
	EmittedAt time.Time      `json:"emitted_at"`
}
