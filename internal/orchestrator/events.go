package orchestrator

import "time"

// EventKind tags entries on the orchestrator's outbound event stream.
type EventKind int

const (
	// EventPresenceChanged fires on every appeared/vanished transition.
	EventPresenceChanged EventKind = iota
	// EventStatusChanged carries a human-readable progress or error line.
	EventStatusChanged
	// EventResultReceived carries a recognized, non-empty gesture label.
	EventResultReceived
	// EventPendingCountChanged reports the in-flight classifier call count.
	EventPendingCountChanged
)

func (k EventKind) String() string {
	switch k {
	case EventPresenceChanged:
		return "presence_changed"
	case EventStatusChanged:
		return "status_changed"
	case EventResultReceived:
		return "result_received"
	case EventPendingCountChanged:
		return "pending_count_changed"
	default:
		return "unknown"
	}
}

// Event is the tagged union consumers receive instead of wiring individual
// callbacks. Only the fields relevant to Kind are populated.
type Event struct {
	Kind      EventKind
	Present   bool
	Status    string
	Label     string
	Sequence  uint64
	Pending   int
	SessionID string
	Time      time.Time
}
