package twinstore

import (
	"fmt"
	"strings"
	"time"
)

// Feature ids of a grid twin.
const (
	FeatureCrowdMonitoring    = "crowdMonitoring"
	FeatureBehaviorAnalysis   = "behaviorAnalysis"
	FeatureEmergencyDetection = "emergencyDetection"
	FeaturePerformance        = "performance"
	FeatureDeviceHealth       = "deviceHealth"
	FeatureAlerts             = "alerts"
)

// Twin is a thing document. Features may be partially present; a missing
// feature has not been observed yet.
type Twin struct {
	ThingID    string         `json:"thingId"`
	PolicyID   string         `json:"policyId,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Features   Features       `json:"features,omitempty"`
}

// Features maps feature id to feature.
type Features map[string]Feature

// Feature is one independently addressable sub-document of a twin.
type Feature struct {
	Properties map[string]any `json:"properties"`
}

// Policy is an authorization document.
type Policy struct {
	PolicyID string                 `json:"policyId,omitempty"`
	Entries  map[string]PolicyEntry `json:"entries"`
}

// PolicyEntry grants a set of subjects access to resources.
type PolicyEntry struct {
	Subjects  map[string]PolicySubject  `json:"subjects"`
	Resources map[string]PolicyResource `json:"resources"`
}

// PolicySubject identifies an authenticated principal.
type PolicySubject struct {
	Type string `json:"type"`
}

// PolicyResource lists granted and revoked permissions on a resource path.
type PolicyResource struct {
	Grant  []string `json:"grant"`
	Revoke []string `json:"revoke"`
}

// ThingID returns "<namespace>:grid-<gridID>".
func ThingID(namespace, gridID string) string {
	return fmt.Sprintf("%s:grid-%s", namespace, gridID)
}

// GridID extracts the grid id from a thing id minted by ThingID. It
// reports false for things that are not grid twins, including the policy.
func GridID(thingID string) (string, bool) {
	_, name, ok := strings.Cut(thingID, ":")
	if !ok {
		return "", false
	}
	grid, ok := strings.CutPrefix(name, "grid-")
	if !ok || grid == "" || grid == "policy" {
		return "", false
	}
	return grid, true
}

// PolicyID returns the id of the policy shared by all grid twins.
func PolicyID(namespace string) string {
	return namespace + ":grid-policy"
}

// DefaultPolicy grants user read and write access to things, policies and
// messages.
func DefaultPolicy(namespace, user string) Policy {
	rw := PolicyResource{Grant: []string{"READ", "WRITE"}, Revoke: []string{}}
	return Policy{
		PolicyID: PolicyID(namespace),
		Entries: map[string]PolicyEntry{
			"DEFAULT": {
				Subjects: map[string]PolicySubject{
					"nginx:" + user: {Type: "basic auth user"},
				},
				Resources: map[string]PolicyResource{
					"thing:/":   rw,
					"policy:/":  rw,
					"message:/": rw,
				},
			},
		},
	}
}

// DefaultFeatures is the feature set a grid twin starts with.
func DefaultFeatures() Features {
	return Features{
		FeatureCrowdMonitoring: {Properties: map[string]any{
			"peopleCount":       0,
			"densityLevel":      "normal",
			"densityPercentage": 0.0,
			"thresholdStatus":   "normal",
		}},
		FeatureBehaviorAnalysis: {Properties: map[string]any{
			"alerts":                   []any{},
			"normalBehaviorConfidence": 1.0,
		}},
		FeatureEmergencyDetection: {Properties: map[string]any{
			"status":     "clear",
			"confidence": 1.0,
		}},
		FeaturePerformance: {Properties: map[string]any{
			"processingTime": 0.0,
		}},
		FeatureDeviceHealth: {Properties: map[string]any{
			"healthScore": 100.0,
		}},
		FeatureAlerts: {Properties: map[string]any{
			"alertCount": 0,
		}},
	}
}

// NewGridTwin returns the bootstrap document for gridID.
func NewGridTwin(namespace, gridID string, now time.Time) Twin {
	return Twin{
		ThingID:  ThingID(namespace, gridID),
		PolicyID: PolicyID(namespace),
		Attributes: map[string]any{
			"gridId":     gridID,
			"lastUpdate": now.UTC().Format(time.RFC3339Nano),
		},
		Features: DefaultFeatures(),
	}
}
