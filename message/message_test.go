package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/twinbridge/errors"
)

func TestParseTopic(t *testing.T) {
	tests := []struct {
		topic  string
		kind   Kind
		grid   string
		suffix string
	}{
		{"dhsiled/grids/G01/status", KindStatus, "G01", "status"},
		{"dhsiled.grids.G01.alerts", KindAlert, "G01", "alerts"},
		{"dhsiled/grids/G-7/health", KindHealth, "G-7", "health"},
		{"dhsiled/grids/G01/commands", KindUnclassified, "G01", "commands"},
		{"dhsiled/system/health", KindHealth, "", "health"},
		{"dhsiled.system.announce", KindUnclassified, "", "announce"},
		{"other/grids/G01/status", KindUnclassified, "", "status"},
		{"dhsiled", KindUnclassified, "", "dhsiled"},
		{"dhsiled/grids/G01/status/extra", KindUnclassified, "", "extra"},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got := ParseTopic("dhsiled", tt.topic)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.grid, got.GridID)
			assert.Equal(t, tt.suffix, got.Suffix)
		})
	}
}

func TestParseTopic_NestedRoot(t *testing.T) {
	got := ParseTopic("site/a", "site.a.grids.G2.status")
	assert.Equal(t, KindStatus, got.Kind)
	assert.Equal(t, "G2", got.GridID)
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, []string{
		"dhsiled.grids.*.status",
		"dhsiled.grids.*.alerts",
		"dhsiled.grids.*.health",
		"dhsiled.system.*",
	}, Subjects("dhsiled"))
	assert.Equal(t, "a.b.system.*", Subjects("a/b")[3])
}

func TestDecode_Status(t *testing.T) {
	ev, err := Decode("dhsiled", "dhsiled.grids.G01.status", []byte(`{
		"people_count": 12,
		"crowd_density": {"level": "medium", "percentage": 40.5, "threshold_status": "normal"},
		"emergency_detection": {"status": "clear", "type": null, "confidence": 0.9},
		"processing_time": 0.12
	}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Status)
	assert.Equal(t, KindStatus, ev.Kind)
	assert.Equal(t, "G01", ev.GridID)
	require.NotNil(t, ev.Status.PeopleCount)
	assert.Equal(t, 12, *ev.Status.PeopleCount)
	assert.Equal(t, "medium", ev.Status.CrowdDensity.Level)
	assert.Nil(t, ev.Status.BehaviorAnalysis)
}

func TestDecode_StatusWithoutCount(t *testing.T) {
	ev, err := Decode("dhsiled", "dhsiled/grids/G01/status", []byte(`{"status":"offline"}`))
	require.NoError(t, err)
	assert.Nil(t, ev.Status.PeopleCount)
	assert.Equal(t, "offline", ev.Status.Status)
}

func TestDecode_Alert(t *testing.T) {
	ev, err := Decode("dhsiled", "dhsiled/grids/G01/alerts",
		[]byte(`{"id":"a1","severity":"critical","type":"emergency","message":"fire","confidence":0.97}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Alert)
	assert.True(t, ev.Alert.IsCritical())
	assert.Equal(t, 0.97, ev.Alert.Fields["confidence"])
}

func TestDecode_AlertUnlistedSeverity(t *testing.T) {
	ev, err := Decode("dhsiled", "dhsiled/grids/G01/alerts", []byte(`{"id":"a2","severity":"moderate"}`))
	require.NoError(t, err)
	assert.Equal(t, "moderate", ev.Alert.Severity)
	assert.False(t, ev.Alert.IsCritical())
}

func TestDecode_NumericTimestamp(t *testing.T) {
	tests := []struct {
		topic string
		data  string
		want  Stamp
	}{
		{"dhsiled/grids/G01/health", `{"timestamp": 1700000000}`, "1700000000"},
		{"dhsiled/grids/G01/status", `{"timestamp": 1700000000250}`, "1700000000250"},
		{"dhsiled/grids/G01/alerts", `{"timestamp": 1700000000.5}`, "1700000000.5"},
		{"dhsiled/grids/G01/health", `{"timestamp": "2026-03-01T12:00:00Z"}`, "2026-03-01T12:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			ev, err := Decode("dhsiled", tt.topic, []byte(tt.data))
			require.NoError(t, err)
			switch ev.Kind {
			case KindHealth:
				assert.Equal(t, tt.want, ev.Health.Timestamp)
			case KindStatus:
				assert.Equal(t, tt.want, ev.Status.Timestamp)
			case KindAlert:
				assert.Equal(t, tt.want, ev.Alert.Timestamp)
			}
		})
	}
}

func TestDecode_Health(t *testing.T) {
	ev, err := Decode("dhsiled", "dhsiled/grids/G01/health", []byte(`{
		"health_score": 87.5,
		"cpu_temperature": 61.2,
		"cpu_usage": {"overall": 35.1, "per_core": [30, 40]},
		"memory_usage": {"percentage": 48.0},
		"disk_usage": {"/": {"percentage": 71.3}, "io_stats": {}},
		"camera_status": {"available": true}
	}`))
	require.NoError(t, err)
	h := ev.Health
	require.NotNil(t, h)
	assert.Equal(t, 87.5, *h.HealthScore)
	assert.Equal(t, Usage{Value: 35.1, Set: true}, h.CPUUsage)
	assert.Equal(t, Usage{Value: 48.0, Set: true}, h.MemoryUsage)
	assert.Equal(t, Usage{Value: 71.3, Set: true}, h.DiskUsage)
	assert.True(t, h.CameraStatus.Up())
	assert.Nil(t, h.NetworkConnected)
}

func TestDecode_HealthPlainNumbers(t *testing.T) {
	ev, err := Decode("dhsiled", "dhsiled/grids/G01/health", []byte(`{"cpu_usage": 12.5}`))
	require.NoError(t, err)
	assert.Equal(t, 12.5, ev.Health.CPUUsage.Value)
	assert.False(t, ev.Health.MemoryUsage.Set)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		topic  string
		data   string
		schema bool
	}{
		{"not json", "dhsiled/grids/G01/status", `{"people_count": `, false},
		{"plain text", "dhsiled/grids/G01/alerts", `hello`, false},
		{"array", "dhsiled/grids/G01/status", `[1,2]`, true},
		{"negative count", "dhsiled/grids/G01/status", `{"people_count": -3}`, true},
		{"numeric severity", "dhsiled/grids/G01/alerts", `{"severity": 5}`, true},
		{"boolean timestamp", "dhsiled/grids/G01/health", `{"timestamp": true}`, true},
		{"unclassified scalar", "dhsiled/system/announce", `42`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode("dhsiled", tt.topic, []byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			if tt.schema {
				assert.ErrorIs(t, err, errors.ErrSchemaFailed)
			} else {
				assert.ErrorIs(t, err, errors.ErrParsingFailed)
			}
		})
	}
}

func TestDecode_Unclassified(t *testing.T) {
	ev, err := Decode("dhsiled", "dhsiled/system/announce", []byte(`{"msg":"maintenance"}`))
	require.NoError(t, err)
	assert.Equal(t, KindUnclassified, ev.Kind)
	assert.True(t, ev.IsSystem())
	assert.Equal(t, "maintenance", ev.Fields["msg"])
}
