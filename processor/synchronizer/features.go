package synchronizer

import (
	"time"

	"github.com/c360/twinbridge/message"
	"github.com/c360/twinbridge/pkg/timestamp"
	"github.com/c360/twinbridge/twinstore"
)

// statusTwin maps a status payload onto the twin document. Missing values
// take the same defaults a freshly bootstrapped twin carries.
func statusTwin(namespace, gridID string, p *message.StatusPayload, now time.Time) twinstore.Twin {
	if p == nil {
		p = &message.StatusPayload{}
	}

	attributes := map[string]any{
		"gridId":     gridID,
		"lastUpdate": timestamp.Normalize(string(p.Timestamp), now),
	}
	if p.ZoneType != "" {
		attributes["zoneType"] = p.ZoneType
	}
	if p.Location != nil {
		attributes["location"] = p.Location
	}

	density := p.CrowdDensity
	if density == nil {
		density = &message.CrowdDensity{}
	}
	behavior := p.BehaviorAnalysis
	if behavior == nil {
		behavior = &message.BehaviorAnalysis{}
	}
	emergency := p.EmergencyDetection
	if emergency == nil {
		emergency = &message.EmergencyDetection{}
	}

	alerts := make([]any, 0, len(behavior.Alerts))
	for _, a := range behavior.Alerts {
		alerts = append(alerts, a)
	}

	emergencyProps := map[string]any{
		"status":     stringOr(emergency.Status, "clear"),
		"confidence": floatOr(emergency.Confidence, 1.0),
	}
	if emergency.Type != "" {
		emergencyProps["type"] = emergency.Type
	}

	return twinstore.Twin{
		ThingID:    twinstore.ThingID(namespace, gridID),
		PolicyID:   twinstore.PolicyID(namespace),
		Attributes: attributes,
		Features: twinstore.Features{
			twinstore.FeatureCrowdMonitoring: {Properties: map[string]any{
				"peopleCount":       intOr(p.PeopleCount, 0),
				"densityLevel":      stringOr(density.Level, "normal"),
				"densityPercentage": floatOr(density.Percentage, 0),
				"thresholdStatus":   stringOr(density.ThresholdStatus, "normal"),
			}},
			twinstore.FeatureBehaviorAnalysis: {Properties: map[string]any{
				"alerts":                   alerts,
				"normalBehaviorConfidence": floatOr(behavior.NormalBehaviorConfidence, 1.0),
			}},
			twinstore.FeatureEmergencyDetection: {Properties: emergencyProps},
			twinstore.FeaturePerformance: {Properties: map[string]any{
				"processingTime": floatOr(p.ProcessingTime, 0),
			}},
		},
	}
}

// alertProperties is the alerts feature after one more alert.
func alertProperties(previous map[string]any, ev message.InboundEvent, now time.Time) map[string]any {
	latest := ev.Fields
	if latest == nil {
		latest = map[string]any{}
	}
	stamp := ""
	if ev.Alert != nil {
		stamp = string(ev.Alert.Timestamp)
	}
	return map[string]any{
		"latestAlert":   latest,
		"alertCount":    count(previous["alertCount"]) + 1,
		"lastAlertTime": timestamp.Normalize(stamp, now),
	}
}

func healthProperties(p *message.HealthPayload, now time.Time) map[string]any {
	if p == nil {
		p = &message.HealthPayload{}
	}
	return map[string]any{
		"healthScore":      floatOr(p.HealthScore, 0),
		"cpuTemperature":   floatOr(p.CPUTemperature, 0),
		"cpuUsage":         p.CPUUsage.Value,
		"memoryUsage":      p.MemoryUsage.Value,
		"diskUsage":        p.DiskUsage.Value,
		"cameraConnected":  p.CameraStatus.Up(),
		"networkConnected": p.NetworkConnected != nil && *p.NetworkConnected,
		"lastHealthCheck":  timestamp.Normalize(string(p.Timestamp), now),
	}
}

// count reads a counter that may have been round-tripped through JSON.
func count(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// isRepeat reports whether alert has an id equal to that of the latest alert
// already stored in previous.
func isRepeat(previous map[string]any, alert *message.AlertPayload) bool {
	if alert == nil || alert.ID == "" {
		return false
	}
	latest, ok := previous["latestAlert"].(map[string]any)
	if !ok {
		return false
	}
	id, _ := latest["id"].(string)
	return id == alert.ID
}
