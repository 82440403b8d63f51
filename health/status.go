package health

import (
	"regexp"
	"time"
)

// Status is the health of one link, or of the bridge as a whole when
// SubStatuses is set.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

func (s Status) IsHealthy() bool   { return s.Status == StateHealthy }
func (s Status) IsDegraded() bool  { return s.Status == StateDegraded }
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// FromError reports a link that stopped with err. The message has addresses
// and credentials removed because /health is served unauthenticated. A nil
// err reports the link healthy.
func FromError(component string, err error) Status {
	if err == nil {
		return NewHealthy(component, "ok")
	}
	return NewUnhealthy(component, redact(err.Error()))
}

var redactions = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`(?:https?|nats|tls|wss?)://\S+`), "[URL]"},
	{regexp.MustCompile(`(?i)(?:password|token|secret|credential)s?\s*[:=]\s*[^,\s}]+`), "[REDACTED]"},
	{regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
}

func redact(msg string) string {
	for _, r := range redactions {
		msg = r.re.ReplaceAllString(msg, r.with)
	}
	return msg
}
