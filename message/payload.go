package message

import (
	"bytes"
	"encoding/json"
)

// StatusPayload is the periodic grid status published by an edge node.
type StatusPayload struct {
	GridID             string              `json:"grid_id,omitempty"`
	Timestamp          Stamp               `json:"timestamp,omitempty"`
	Status             string              `json:"status,omitempty"`
	PeopleCount        *int                `json:"people_count,omitempty"`
	CrowdDensity       *CrowdDensity       `json:"crowd_density,omitempty"`
	BehaviorAnalysis   *BehaviorAnalysis   `json:"behavior_analysis,omitempty"`
	EmergencyDetection *EmergencyDetection `json:"emergency_detection,omitempty"`
	ProcessingTime     *float64            `json:"processing_time,omitempty"`
	ZoneType           string              `json:"zone_type,omitempty"`
	Location           any                 `json:"location,omitempty"`
}

// CrowdDensity is the density block of a status payload.
type CrowdDensity struct {
	Level           string   `json:"level,omitempty"`
	Percentage      *float64 `json:"percentage,omitempty"`
	ThresholdStatus string   `json:"threshold_status,omitempty"`
}

// BehaviorAnalysis is the behavior block of a status payload.
type BehaviorAnalysis struct {
	Alerts                   []map[string]any `json:"alerts,omitempty"`
	NormalBehaviorConfidence *float64         `json:"normal_behavior_confidence,omitempty"`
}

// EmergencyDetection is the emergency block of a status payload.
type EmergencyDetection struct {
	Status     string   `json:"status,omitempty"`
	Type       string   `json:"type,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// SeverityCritical is the only severity that escalates. Edge nodes may send
// any other string; it is stored as given.
const SeverityCritical = "critical"

// AlertPayload is an alert raised by an edge node. Fields holds the whole
// payload as sent.
type AlertPayload struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Message   string `json:"message,omitempty"`
	GridID    string `json:"grid_id,omitempty"`
	Timestamp Stamp  `json:"timestamp,omitempty"`

	Fields map[string]any `json:"-"`
}

// IsCritical reports whether the alert severity is exactly "critical".
func (a *AlertPayload) IsCritical() bool {
	return a != nil && a.Severity == SeverityCritical
}

// HealthPayload is the device health report of an edge node.
type HealthPayload struct {
	Timestamp        Stamp         `json:"timestamp,omitempty"`
	HealthScore      *float64      `json:"health_score,omitempty"`
	CPUTemperature   *float64      `json:"cpu_temperature,omitempty"`
	CPUUsage         Usage         `json:"cpu_usage"`
	MemoryUsage      Usage         `json:"memory_usage"`
	DiskUsage        Usage         `json:"disk_usage"`
	CameraStatus     *CameraStatus `json:"camera_status,omitempty"`
	NetworkConnected *bool         `json:"network_connected,omitempty"`
	Uptime           *float64      `json:"uptime,omitempty"`
}

// CameraStatus reports whether the camera module is usable.
type CameraStatus struct {
	Available *bool  `json:"available,omitempty"`
	Connected *bool  `json:"connected,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Up reports whether the camera is available or connected.
func (c *CameraStatus) Up() bool {
	if c == nil {
		return false
	}
	return (c.Available != nil && *c.Available) || (c.Connected != nil && *c.Connected)
}

// Stamp is a payload timestamp as sent: a date string or Unix seconds or
// milliseconds as a JSON number. Numbers keep their literal text so
// timestamp.Parse can tell seconds from milliseconds.
type Stamp string

// UnmarshalJSON implements json.Unmarshaler.
func (s *Stamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = Stamp(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = Stamp(n.String())
	return nil
}

// Usage is a utilisation percentage that edge nodes send either as a plain
// number or as an object carrying "overall", "percentage" or "percent". Disk
// usage may also be keyed by mount point, in which case "/" is used.
type Usage struct {
	Value float64
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *Usage) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] != '{' {
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*u = Usage{Value: v, Set: true}
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	for _, key := range []string{"overall", "percentage", "percent"} {
		if raw, ok := obj[key]; ok {
			var v float64
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			*u = Usage{Value: v, Set: true}
			return nil
		}
	}
	if root, ok := obj["/"]; ok {
		return u.UnmarshalJSON(root)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (u Usage) MarshalJSON() ([]byte, error) {
	if !u.Set {
		return []byte("null"), nil
	}
	return json.Marshal(u.Value)
}
