package health

import "time"

// Status values, from best to worst.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy reports a connected link.
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewDegraded reports a link that is connecting or reconnecting.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// NewUnhealthy reports a link that has given up.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// Aggregate rolls link statuses up into one: the worst state wins, and the
// links are attached as sub-statuses.
func Aggregate(component string, links []Status) Status {
	if len(links) == 0 {
		return NewHealthy(component, "no links registered")
	}

	worst := StateHealthy
	for _, l := range links {
		switch {
		case l.IsUnhealthy():
			worst = StateUnhealthy
		case l.IsDegraded() && worst == StateHealthy:
			worst = StateDegraded
		}
	}

	var msg string
	switch worst {
	case StateUnhealthy:
		msg = "one or more links are down"
	case StateDegraded:
		msg = "one or more links are reconnecting"
	default:
		msg = "all links connected"
	}

	status := newStatus(component, worst, msg)
	status.SubStatuses = append([]Status(nil), links...)
	return status
}
