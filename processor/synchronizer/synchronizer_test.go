package synchronizer

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/twinbridge/errors"
	"github.com/c360/twinbridge/message"
	"github.com/c360/twinbridge/metric"
	"github.com/c360/twinbridge/twinstore"
)

const testNamespace = "org.dhsiled"

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeStore keeps twins in memory and records every call.
type fakeStore struct {
	mu       sync.Mutex
	twins    map[string]twinstore.Twin
	ensures  map[string]int
	upserts  []twinstore.Twin
	messages []sentMessage

	ensureErr  error
	upsertErr  error
	getErr     error
	updateErr  error
	messageErr error
}

type sentMessage struct {
	thingID string
	subject string
	payload any
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		twins:   make(map[string]twinstore.Twin),
		ensures: make(map[string]int),
	}
}

func (f *fakeStore) EnsureGridTwin(_ context.Context, gridID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensures[gridID]++
	if f.ensureErr != nil {
		return f.ensureErr
	}
	id := twinstore.ThingID(testNamespace, gridID)
	if _, ok := f.twins[id]; !ok {
		f.twins[id] = twinstore.NewGridTwin(testNamespace, gridID, fixedNow)
	}
	return nil
}

func (f *fakeStore) UpsertTwin(_ context.Context, twin twinstore.Twin) (twinstore.Twin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, twin)
	if f.upsertErr != nil {
		return twinstore.Twin{}, f.upsertErr
	}
	existing, ok := f.twins[twin.ThingID]
	if !ok {
		f.twins[twin.ThingID] = twin
		return twin, nil
	}
	for id, feature := range twin.Features {
		existing.Features[id] = feature
	}
	existing.Attributes = twin.Attributes
	f.twins[twin.ThingID] = existing
	return existing, nil
}

func (f *fakeStore) GetFeature(_ context.Context, thingID, featureID string) (twinstore.Feature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return twinstore.Feature{}, f.getErr
	}
	twin, ok := f.twins[thingID]
	if !ok {
		return twinstore.Feature{}, notFound(thingID)
	}
	feature, ok := twin.Features[featureID]
	if !ok {
		return twinstore.Feature{}, notFound(featureID)
	}
	return feature, nil
}

func (f *fakeStore) UpdateFeature(_ context.Context, thingID, featureID string, properties map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	twin, ok := f.twins[thingID]
	if !ok {
		return notFound(thingID)
	}
	twin.Features[featureID] = twinstore.Feature{Properties: properties}
	return nil
}

func (f *fakeStore) SendMessage(_ context.Context, thingID, subject string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, sentMessage{thingID: thingID, subject: subject, payload: payload})
	return f.messageErr
}

func (f *fakeStore) feature(gridID, featureID string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.twins[twinstore.ThingID(testNamespace, gridID)].Features[featureID].Properties
}

func notFound(what string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", twinstore.ErrNotFound, what), "twinstore", "fake", "lookup")
}

type published struct {
	msgType string
	gridID  string
	payload any
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(msgType, gridID string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{msgType: msgType, gridID: gridID, payload: payload})
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.msgType)
	}
	return out
}

func newTestSynchronizer(t *testing.T, store *fakeStore, pub Publisher) *Synchronizer {
	t.Helper()
	s, err := New(Config{Namespace: testNamespace}, store, pub,
		slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	require.NoError(t, err)
	s.now = func() time.Time { return fixedNow }
	return s
}

func event(t *testing.T, topic, payload string) message.InboundEvent {
	t.Helper()
	ev, err := message.Decode(message.DefaultRoot, topic, []byte(payload))
	require.NoError(t, err)
	return ev
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Namespace: testNamespace}, nil, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = New(Config{}, newFakeStore(), nil, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestHandle_StatusUpsertsPeopleCount(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	s := newTestSynchronizer(t, store, pub)

	s.Handle(context.Background(), event(t, "dhsiled/grids/G01/status", `{
		"people_count": 17,
		"crowd_density": {"level": "high", "percentage": 72.5, "threshold_status": "warning"},
		"emergency_detection": {"status": "clear", "type": null, "confidence": 0.97},
		"processing_time": 0.042,
		"zone_type": "entrance",
		"timestamp": "2026-03-01T11:59:58Z"
	}`))

	require.Len(t, store.upserts, 1)
	twin := store.upserts[0]
	assert.Equal(t, "org.dhsiled:grid-G01", twin.ThingID)
	assert.Equal(t, "org.dhsiled:grid-policy", twin.PolicyID)
	assert.Equal(t, "entrance", twin.Attributes["zoneType"])
	assert.Equal(t, "2026-03-01T11:59:58Z", twin.Attributes["lastUpdate"])

	crowd := twin.Features[twinstore.FeatureCrowdMonitoring].Properties
	assert.Equal(t, 17, crowd["peopleCount"])
	assert.Equal(t, "high", crowd["densityLevel"])
	assert.Equal(t, 72.5, crowd["densityPercentage"])
	assert.Equal(t, "warning", crowd["thresholdStatus"])
	assert.Equal(t, 0.97, twin.Features[twinstore.FeatureEmergencyDetection].Properties["confidence"])
	assert.Equal(t, 0.042, twin.Features[twinstore.FeaturePerformance].Properties["processingTime"])

	assert.Equal(t, int64(1), s.Stats().Sent())
	assert.Equal(t, int64(0), s.Stats().Errors())
	assert.Equal(t, []string{TypeGridStatus}, pub.types())
}

func TestHandle_StatusDefaults(t *testing.T) {
	store := newFakeStore()
	s := newTestSynchronizer(t, store, nil)

	s.Handle(context.Background(), event(t, "dhsiled/grids/G02/status", `{}`))

	require.Len(t, store.upserts, 1)
	features := store.upserts[0].Features
	assert.Equal(t, 0, features[twinstore.FeatureCrowdMonitoring].Properties["peopleCount"])
	assert.Equal(t, "normal", features[twinstore.FeatureCrowdMonitoring].Properties["densityLevel"])
	assert.Equal(t, "clear", features[twinstore.FeatureEmergencyDetection].Properties["status"])
	assert.Equal(t, 1.0, features[twinstore.FeatureEmergencyDetection].Properties["confidence"])
	assert.Equal(t, 1.0, features[twinstore.FeatureBehaviorAnalysis].Properties["normalBehaviorConfidence"])
	assert.NotContains(t, store.upserts[0].Attributes, "zoneType")
	assert.Equal(t, fixedNow.Format(time.RFC3339Nano), store.upserts[0].Attributes["lastUpdate"])
}

func TestHandle_TwoAlertsCountUp(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	s := newTestSynchronizer(t, store, pub)
	ctx := context.Background()

	s.Handle(ctx, event(t, "dhsiled/grids/G01/alerts", `{"id": "a1", "severity": "low", "message": "first"}`))
	s.Handle(ctx, event(t, "dhsiled/grids/G01/alerts", `{"id": "a2", "severity": "medium", "message": "second"}`))

	alerts := store.feature("G01", twinstore.FeatureAlerts)
	assert.Equal(t, 2, alerts["alertCount"])
	assert.Equal(t, map[string]any{"id": "a2", "severity": "medium", "message": "second"}, alerts["latestAlert"])
	assert.Equal(t, fixedNow.Format(time.RFC3339Nano), alerts["lastAlertTime"])
	assert.Empty(t, store.messages)
	assert.Equal(t, int64(2), s.Stats().Sent())
	assert.Equal(t, []string{TypeAlert, TypeAlert}, pub.types())
}

func TestHandle_AlertCountFromJSONNumber(t *testing.T) {
	store := newFakeStore()
	s := newTestSynchronizer(t, store, nil)
	ctx := context.Background()

	require.NoError(t, store.EnsureGridTwin(ctx, "G01"))
	store.twins["org.dhsiled:grid-G01"].Features[twinstore.FeatureAlerts] = twinstore.Feature{
		Properties: map[string]any{"alertCount": float64(41)},
	}

	s.Handle(ctx, event(t, "dhsiled/grids/G01/alerts", `{"severity": "high"}`))

	assert.Equal(t, 42, store.feature("G01", twinstore.FeatureAlerts)["alertCount"])
}

func TestHandle_AlertWithoutFeatureStartsAtOne(t *testing.T) {
	store := newFakeStore()
	s := newTestSynchronizer(t, store, nil)
	ctx := context.Background()

	require.NoError(t, store.EnsureGridTwin(ctx, "G05"))
	delete(store.twins["org.dhsiled:grid-G05"].Features, twinstore.FeatureAlerts)

	s.Handle(ctx, event(t, "dhsiled/grids/G05/alerts", `{"severity": "low"}`))

	assert.Equal(t, 1, store.feature("G05", twinstore.FeatureAlerts)["alertCount"])
	assert.Equal(t, int64(0), s.Stats().Errors())
}

func TestHandle_CriticalAlertSendsOneMessage(t *testing.T) {
	store := newFakeStore()
	s := newTestSynchronizer(t, store, nil)

	s.Handle(context.Background(), event(t, "dhsiled/grids/G03/alerts",
		`{"id": "c1", "type": "stampede", "severity": "critical"}`))

	assert.Equal(t, 1, store.feature("G03", twinstore.FeatureAlerts)["alertCount"])
	require.Len(t, store.messages, 1)
	msg := store.messages[0]
	assert.Equal(t, "org.dhsiled:grid-G03", msg.thingID)
	assert.Equal(t, DefaultCriticalSubject, msg.subject)

	payload, ok := msg.payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "G03", payload["gridId"])
	assert.NotEmpty(t, payload["correlationId"])
	assert.Equal(t, "stampede", payload["alert"].(map[string]any)["type"])
}

func TestHandle_RepeatedAlertIsWrittenOnce(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	s := newTestSynchronizer(t, store, pub)
	ctx := context.Background()

	s.Handle(ctx, event(t, "dhsiled/grids/G03/alerts", `{"id": "a1", "severity": "critical"}`))
	s.Handle(ctx, event(t, "dhsiled/grids/G03/alerts", `{"id": "a1", "severity": "critical"}`))

	assert.Equal(t, 1, store.feature("G03", twinstore.FeatureAlerts)["alertCount"])
	assert.Len(t, store.messages, 1)
	assert.Equal(t, int64(1), s.Stats().Sent())
	assert.Equal(t, []string{TypeAlert}, pub.types())

	s.Handle(ctx, event(t, "dhsiled/grids/G03/alerts", `{"id": "a2", "severity": "critical"}`))
	assert.Equal(t, 2, store.feature("G03", twinstore.FeatureAlerts)["alertCount"])
	assert.Len(t, store.messages, 2)
}

func TestHandle_CriticalMessageFailureKeepsFeature(t *testing.T) {
	store := newFakeStore()
	store.messageErr = errors.WrapTransient(twinstore.ErrUnreachable, "twinstore", "SendMessage", "send")
	pub := &fakePublisher{}
	s := newTestSynchronizer(t, store, pub)

	s.Handle(context.Background(), event(t, "dhsiled/grids/G03/alerts", `{"severity": "critical"}`))

	assert.Equal(t, 1, store.feature("G03", twinstore.FeatureAlerts)["alertCount"])
	assert.Len(t, store.messages, 1)
	assert.Equal(t, int64(1), s.Stats().Sent())
	assert.Equal(t, int64(1), s.Stats().Errors())
	assert.Equal(t, []string{TypeAlert}, pub.types())
}

func TestHandle_AlertReadFailureSkipsWrite(t *testing.T) {
	store := newFakeStore()
	store.getErr = errors.WrapTransient(twinstore.ErrUnreachable, "twinstore", "GetFeature", "get")
	s := newTestSynchronizer(t, store, nil)

	s.Handle(context.Background(), event(t, "dhsiled/grids/G01/alerts", `{"severity": "low"}`))

	assert.Equal(t, 0, store.feature("G01", twinstore.FeatureAlerts)["alertCount"])
	assert.Equal(t, int64(0), s.Stats().Sent())
	assert.Equal(t, int64(1), s.Stats().Errors())
}

func TestHandle_HealthDefaults(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	s := newTestSynchronizer(t, store, pub)

	s.Handle(context.Background(), event(t, "dhsiled/grids/G04/health", `{
		"health_score": 87.5,
		"cpu_usage": {"overall": 33.0},
		"memory_usage": 61
	}`))

	health := store.feature("G04", twinstore.FeatureDeviceHealth)
	assert.Equal(t, 87.5, health["healthScore"])
	assert.Equal(t, 33.0, health["cpuUsage"])
	assert.Equal(t, 61.0, health["memoryUsage"])
	assert.Equal(t, 0.0, health["diskUsage"])
	assert.Equal(t, 0.0, health["cpuTemperature"])
	assert.Equal(t, false, health["cameraConnected"])
	assert.Equal(t, false, health["networkConnected"])
	assert.Equal(t, []string{TypeHealth}, pub.types())
}

func TestHandle_HealthNumericTimestamp(t *testing.T) {
	store := newFakeStore()
	s := newTestSynchronizer(t, store, nil)

	s.Handle(context.Background(), event(t, "dhsiled/grids/G04/health", `{"timestamp": 1700000000}`))

	health := store.feature("G04", twinstore.FeatureDeviceHealth)
	assert.Equal(t, "2023-11-14T22:13:20Z", health["lastHealthCheck"])
	assert.Equal(t, int64(0), s.Stats().Errors())
}

func TestHandle_SystemAndUnclassifiedPassThrough(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	s := newTestSynchronizer(t, store, pub)
	ctx := context.Background()

	s.Handle(ctx, event(t, "dhsiled/system/health", `{"bridge": "up"}`))
	s.Handle(ctx, event(t, "dhsiled/grids/G01/commands", `{"cmd": "reboot"}`))

	assert.Empty(t, store.ensures)
	assert.Empty(t, store.upserts)
	assert.Equal(t, []string{TypeSystem, TypeSystem}, pub.types())
	assert.Equal(t, "G01", pub.msgs[1].gridID)
	assert.Equal(t, int64(2), s.Stats().Received())
	assert.Equal(t, int64(0), s.Stats().Sent())
}

func TestHandle_EnsuresOncePerGrid(t *testing.T) {
	store := newFakeStore()
	s := newTestSynchronizer(t, store, nil)
	ctx := context.Background()

	for range 3 {
		s.Handle(ctx, event(t, "dhsiled/grids/G01/status", `{"people_count": 1}`))
	}
	s.Handle(ctx, event(t, "dhsiled/grids/G02/health", `{}`))

	assert.Equal(t, 1, store.ensures["G01"])
	assert.Equal(t, 1, store.ensures["G02"])
}

func TestHandle_ForgetsGridWhenStoreReportsMissing(t *testing.T) {
	store := newFakeStore()
	s := newTestSynchronizer(t, store, nil)
	ctx := context.Background()

	s.Handle(ctx, event(t, "dhsiled/grids/G01/health", `{}`))
	require.Equal(t, 1, store.ensures["G01"])

	// The twin was deleted behind the bridge's back.
	delete(store.twins, "org.dhsiled:grid-G01")
	s.Handle(ctx, event(t, "dhsiled/grids/G01/health", `{}`))
	assert.Equal(t, int64(1), s.Stats().Errors())

	s.Handle(ctx, event(t, "dhsiled/grids/G01/health", `{}`))
	assert.Equal(t, 2, store.ensures["G01"])
	assert.Equal(t, int64(2), s.Stats().Sent())
}

func TestHandle_FailuresAreIsolated(t *testing.T) {
	store := newFakeStore()
	store.ensureErr = errors.WrapTransient(twinstore.ErrUnreachable, "twinstore", "EnsureGridTwin", "ensure")
	s := newTestSynchronizer(t, store, nil)
	ctx := context.Background()

	s.Handle(ctx, event(t, "dhsiled/grids/G01/status", `{}`))
	assert.Equal(t, int64(1), s.Stats().Errors())
	assert.Empty(t, store.upserts)

	store.ensureErr = nil
	s.Handle(ctx, event(t, "dhsiled/grids/G01/status", `{}`))
	assert.Equal(t, int64(1), s.Stats().Sent())
	assert.Equal(t, int64(2), s.Stats().Received())
}

func TestHandle_UpsertFailureIsCounted(t *testing.T) {
	store := newFakeStore()
	store.upsertErr = errors.WrapFatal(twinstore.ErrNotFound, "twinstore", "UpsertTwin", "create")
	pub := &fakePublisher{}
	s := newTestSynchronizer(t, store, pub)

	s.Handle(context.Background(), event(t, "dhsiled/grids/G01/status", `{}`))

	assert.Equal(t, int64(0), s.Stats().Sent())
	assert.Equal(t, int64(1), s.Stats().Errors())
	assert.Empty(t, pub.types())
	_, cached := s.ensured.Get("G01")
	assert.False(t, cached)
}

func TestMalformedPayloadsAreDroppedBeforeSync(t *testing.T) {
	store := newFakeStore()
	s := newTestSynchronizer(t, store, nil)
	ctx := context.Background()

	raw := []struct {
		topic   string
		payload string
	}{
		{"dhsiled/grids/G01/status", `{"people_count": 3}`},
		{"dhsiled/grids/G01/status", `{"people_count": `},
		{"dhsiled/grids/G01/status", `[1, 2, 3]`},
		{"dhsiled/grids/G01/status", `{"people_count": "many"}`},
		{"dhsiled/grids/G01/status", `{"people_count": 5}`},
	}

	var dropped int
	for _, r := range raw {
		ev, err := message.Decode(message.DefaultRoot, r.topic, []byte(r.payload))
		if err != nil {
			dropped++
			continue
		}
		s.Handle(ctx, ev)
	}

	assert.Equal(t, 3, dropped)
	assert.Equal(t, int64(2), s.Stats().Sent())
	assert.Equal(t, int64(0), s.Stats().Errors())
	require.Len(t, store.upserts, 2)
	assert.Equal(t, 5, store.upserts[1].Features[twinstore.FeatureCrowdMonitoring].Properties["peopleCount"])
}

func TestStatsMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	store := newFakeStore()
	s, err := New(Config{Namespace: testNamespace}, store, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)), registry)
	require.NoError(t, err)

	ctx := context.Background()
	s.Handle(ctx, event(t, "dhsiled/grids/G01/status", `{}`))
	store.upsertErr = stderrors.New("boom")
	s.Handle(ctx, event(t, "dhsiled/grids/G01/status", `{}`))

	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().EventsProcessed.WithLabelValues("status", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().EventsProcessed.WithLabelValues("status", "error")))

	count, err := testutil.GatherAndCount(registry.PrometheusRegistry(),
		"twinbridge_synchronizer_received_total",
		"twinbridge_synchronizer_sent_total",
		"twinbridge_synchronizer_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, err = New(Config{Namespace: testNamespace}, store, nil, nil, registry)
	assert.Error(t, err, "second registration on one registry must fail")
}
