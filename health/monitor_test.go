package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	assert.True(t, Aggregate("bridge", nil).IsHealthy())

	healthy := Aggregate("bridge", []Status{NewHealthy("a", ""), NewHealthy("b", "")})
	assert.True(t, healthy.IsHealthy())
	assert.Len(t, healthy.SubStatuses, 2)

	degraded := Aggregate("bridge", []Status{NewHealthy("a", ""), NewDegraded("b", "")})
	assert.True(t, degraded.IsDegraded())

	unhealthy := Aggregate("bridge", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")})
	assert.True(t, unhealthy.IsUnhealthy())
}

func TestMonitor_UpdateAndAggregate(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("subscriber", "connected")
	m.UpdateDegraded("twin-feed", "reconnecting")

	s, ok := m.Get("subscriber")
	require.True(t, ok)
	assert.Equal(t, "subscriber", s.Component)
	assert.False(t, s.Timestamp.IsZero())

	agg := m.AggregateHealth("twinbridge")
	assert.True(t, agg.IsDegraded())
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "subscriber", agg.SubStatuses[0].Component)
	assert.Equal(t, "twin-feed", agg.SubStatuses[1].Component)
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("subscriber", "connected")

	rec := httptest.NewRecorder()
	m.Handler("twinbridge").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "twinbridge", body.Component)
	assert.True(t, body.Healthy)

	m.UpdateUnhealthy("subscriber", "exhausted")
	rec = httptest.NewRecorder()
	m.Handler("twinbridge").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestFromError_Sanitizes(t *testing.T) {
	assert.True(t, FromError("x", nil).IsHealthy())

	s := FromError("twin-feed", errors.New("dial ws://10.0.0.5:8080/ws/2 failed password=hunter2"))
	assert.True(t, s.IsUnhealthy())
	assert.NotContains(t, s.Message, "10.0.0.5")
	assert.NotContains(t, s.Message, "hunter2")
	assert.Contains(t, s.Message, "[URL]")
}
