package message

import (
	"encoding/json"
	"time"
)

// Kind tags an InboundEvent.
type Kind int

const (
	KindUnclassified Kind = iota
	KindStatus
	KindAlert
	KindHealth
)

// String returns the topic segment for known kinds.
func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindAlert:
		return "alerts"
	case KindHealth:
		return "health"
	default:
		return "unclassified"
	}
}

// InboundEvent is one decoded broker message. Exactly one of Status, Alert
// and Health is set for the matching Kind; Unclassified events carry only
// Fields.
type InboundEvent struct {
	Kind       Kind
	GridID     string // empty for system-level messages
	Topic      string
	Suffix     string // last topic segment
	ReceivedAt time.Time

	Raw    json.RawMessage
	Fields map[string]any

	Status *StatusPayload
	Alert  *AlertPayload
	Health *HealthPayload
}

// IsSystem reports whether the event is not bound to a grid.
func (e InboundEvent) IsSystem() bool {
	return e.GridID == ""
}
