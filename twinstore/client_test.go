package twinstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/twinbridge/errors"
	"github.com/c360/twinbridge/metric"
)

const grid1 = "org.dhsiled:grid-1"

func gridTwin(count int) Twin {
	return Twin{
		ThingID:    grid1,
		PolicyID:   PolicyID(testNamespace),
		Attributes: map[string]any{"gridId": "1"},
		Features: Features{
			FeatureCrowdMonitoring: {Properties: map[string]any{"peopleCount": float64(count)}},
		},
	}
}

func TestThingID(t *testing.T) {
	assert.Equal(t, "org.dhsiled:grid-42", ThingID("org.dhsiled", "42"))
	assert.Equal(t, "org.dhsiled:grid-policy", PolicyID("org.dhsiled"))

	grid, ok := GridID(ThingID("org.dhsiled", "G-7"))
	assert.True(t, ok)
	assert.Equal(t, "G-7", grid)

	for _, id := range []string{"org.dhsiled:grid-policy", "org.dhsiled:sensor-1", "grid-1", "org.dhsiled:grid-"} {
		_, ok := GridID(id)
		assert.False(t, ok, id)
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{Namespace: testNamespace}, nil, nil)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewClient(Config{Endpoint: "::bad", Namespace: testNamespace}, nil, nil)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewClient(Config{Endpoint: "http://localhost:8080"}, nil, nil)
	assert.True(t, errors.IsInvalid(err))

	c, err := NewClient(Config{Endpoint: "http://localhost:8080/", Namespace: testNamespace}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/2", c.base)
	assert.Equal(t, 10*time.Second, c.http.Timeout)
}

func TestUpsertTwin_UpdatesExisting(t *testing.T) {
	store := newFakeStore()
	store.put(gridTwin(1))
	c, _ := newTestClient(t, store)

	got, err := c.UpsertTwin(context.Background(), gridTwin(5))
	require.NoError(t, err)

	assert.Equal(t, grid1, got.ThingID)
	assert.Equal(t, 1, store.callCount("PATCH /things/"+grid1+" if-match"))
	assert.Equal(t, 0, store.callCount("PUT /things/"))

	stored, _ := store.get(grid1)
	assert.Equal(t, float64(5), stored.Features[FeatureCrowdMonitoring].Properties["peopleCount"])
}

func TestUpsertTwin_KeepsUnmentionedFeatures(t *testing.T) {
	store := newFakeStore()
	existing := gridTwin(1)
	existing.Features[FeatureAlerts] = Feature{Properties: map[string]any{"alertCount": float64(4)}}
	store.put(existing)
	c, _ := newTestClient(t, store)

	_, err := c.UpsertTwin(context.Background(), gridTwin(2))
	require.NoError(t, err)

	stored, _ := store.get(grid1)
	assert.Equal(t, float64(2), stored.Features[FeatureCrowdMonitoring].Properties["peopleCount"])
	assert.Equal(t, float64(4), stored.Features[FeatureAlerts].Properties["alertCount"])
}

func TestUpsertTwin_CreatesOnceWhenMissing(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestClient(t, store)

	got, err := c.UpsertTwin(context.Background(), gridTwin(3))
	require.NoError(t, err)

	if diff := cmp.Diff(gridTwin(3), got); diff != "" {
		t.Errorf("created twin mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, store.callCount("PATCH /things/"+grid1+" if-match"))
	assert.Equal(t, 1, store.callCount("PUT /things/"+grid1+" if-none-match"))
}

func TestUpsertTwin_NotFoundOnCreateIsFatal(t *testing.T) {
	store := newFakeStore()
	store.override = func(r *http.Request) (int, bool) {
		if r.Method == http.MethodPut && r.Header.Get("If-None-Match") == "*" {
			return http.StatusNotFound, true
		}
		return 0, false
	}
	c, _ := newTestClient(t, store)

	_, err := c.UpsertTwin(context.Background(), gridTwin(3))
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, 1, store.callCount("PATCH /things/"))
	assert.Equal(t, 1, store.callCount("PUT /things/"))
}

func TestUpsertTwin_ConcurrentCreateResolvesByUpdate(t *testing.T) {
	store := newFakeStore()
	store.override = func(r *http.Request) (int, bool) {
		if r.Method == http.MethodPut && r.Header.Get("If-None-Match") == "*" {
			// another writer wins the race
			store.things[grid1] = gridTwin(99)
			return http.StatusPreconditionFailed, true
		}
		return 0, false
	}
	c, _ := newTestClient(t, store)

	got, err := c.UpsertTwin(context.Background(), gridTwin(3))
	require.NoError(t, err)

	assert.Equal(t, grid1, got.ThingID)
	assert.Equal(t, 2, store.callCount("PATCH /things/"+grid1+" if-match"))
	assert.Equal(t, 1, store.callCount("PUT /things/"+grid1+" if-none-match"))

	stored, _ := store.get(grid1)
	assert.Equal(t, float64(3), stored.Features[FeatureCrowdMonitoring].Properties["peopleCount"])
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		sentinel  error
		transient bool
	}{
		{"not found", http.StatusNotFound, ErrNotFound, false},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized, false},
		{"forbidden", http.StatusForbidden, ErrUnauthorized, false},
		{"server error", http.StatusServiceUnavailable, ErrUnreachable, true},
		{"bad request", http.StatusBadRequest, ErrMalformed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.override = func(*http.Request) (int, bool) { return tt.status, true }
			c, _ := newTestClient(t, store)

			_, err := c.GetTwin(context.Background(), grid1)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.transient, errors.IsTransient(err))
			assert.Equal(t, "twinstore.GetTwin", errors.Operation(err))
			assert.Contains(t, err.Error(), "twinstore.GetTwin: get twin "+grid1+" failed")
		})
	}
}

func TestErrorTaxonomy_WrongCredentials(t *testing.T) {
	srv := httptest.NewServer(newFakeStore())
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, Namespace: testNamespace, Username: "x", Password: "y"}, nil, nil)
	require.NoError(t, err)

	_, err = c.GetTwin(context.Background(), grid1)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, errors.IsFatal(err))
}

func TestErrorTaxonomy_Unreachable(t *testing.T) {
	srv := httptest.NewServer(newFakeStore())
	srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, Namespace: testNamespace}, nil, nil)
	require.NoError(t, err)

	_, err = c.GetTwin(context.Background(), grid1)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.True(t, errors.IsTransient(err))
}

func TestErrorTaxonomy_MalformedBody(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>proxy error</html>"))
	}))

	_, err := c.GetTwin(context.Background(), grid1)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.True(t, errors.IsInvalid(err))
}

func TestFeatures(t *testing.T) {
	store := newFakeStore()
	store.put(gridTwin(0))
	c, _ := newTestClient(t, store)
	ctx := context.Background()

	_, err := c.GetFeature(ctx, grid1, FeatureAlerts)
	assert.ErrorIs(t, err, ErrNotFound)

	props := map[string]any{"alertCount": 1, "lastAlertTime": "2026-01-01T00:00:00Z"}
	require.NoError(t, c.UpdateFeature(ctx, grid1, FeatureAlerts, props))

	f, err := c.GetFeature(ctx, grid1, FeatureAlerts)
	require.NoError(t, err)
	assert.Equal(t, float64(1), f.Properties["alertCount"])

	err = c.UpdateFeature(ctx, "org.dhsiled:grid-missing", FeatureAlerts, props)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendMessage(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestClient(t, store)

	err := c.SendMessage(context.Background(), grid1, "criticalAlert", map[string]any{"severity": "critical"})
	require.NoError(t, err)

	require.Len(t, store.inbox, 1)
	msg := store.inbox[0]
	assert.Equal(t, grid1, msg.ThingID)
	assert.Equal(t, "criticalAlert", msg.Subject)
	assert.Equal(t, "0", msg.Timeout)
	assert.Equal(t, "critical", msg.Body["severity"])
}

func TestSearchThings_FollowsCursor(t *testing.T) {
	store := newFakeStore()
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		store.put(NewGridTwin(testNamespace, id, time.Now()))
	}
	store.put(Twin{ThingID: "other.ns:thing"})
	c, _ := newTestClient(t, store)

	twins, err := c.SearchThings(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, twins, 5)
	assert.Equal(t, "org.dhsiled:grid-1", twins[0].ThingID)
	assert.Equal(t, "org.dhsiled:grid-5", twins[4].ThingID)
	assert.Equal(t, 3, store.callCount("GET /search/things"))
}

func TestPolicy(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestClient(t, store)
	ctx := context.Background()

	_, err := c.GetPolicy(ctx, PolicyID(testNamespace))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.EnsurePolicy(ctx))
	require.NoError(t, c.EnsurePolicy(ctx))
	assert.Equal(t, 1, store.callCount("PUT /policies/"))

	p, err := c.GetPolicy(ctx, PolicyID(testNamespace))
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultPolicy(testNamespace, testUser), p); diff != "" {
		t.Errorf("policy mismatch (-want +got):\n%s", diff)
	}

	custom := DefaultPolicy(testNamespace, "operator")
	require.NoError(t, c.PutPolicy(ctx, custom))
	p, err = c.GetPolicy(ctx, custom.PolicyID)
	require.NoError(t, err)
	assert.Contains(t, p.Entries["DEFAULT"].Subjects, "nginx:operator")
}

func TestEnsurePolicy_ConcurrentCreateIsSuccess(t *testing.T) {
	store := newFakeStore()
	store.override = func(r *http.Request) (int, bool) {
		if r.Method == http.MethodPut && r.Header.Get("If-None-Match") == "*" {
			return http.StatusPreconditionFailed, true
		}
		return 0, false
	}
	c, _ := newTestClient(t, store)

	assert.NoError(t, c.EnsurePolicy(context.Background()))
}

func TestEnsureGridTwin_Bootstraps(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestClient(t, store)
	fixed := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	require.NoError(t, c.EnsureGridTwin(context.Background(), "7"))

	stored, ok := store.get("org.dhsiled:grid-7")
	require.True(t, ok)
	assert.Equal(t, PolicyID(testNamespace), stored.PolicyID)
	assert.Equal(t, "7", stored.Attributes["gridId"])

	want := asJSON(t, NewGridTwin(testNamespace, "7", fixed).Features)
	if diff := cmp.Diff(want, asJSON(t, stored.Features)); diff != "" {
		t.Errorf("default features mismatch (-want +got):\n%s", diff)
	}

	props := stored.Features[FeatureEmergencyDetection].Properties
	assert.Equal(t, "clear", props["status"])
	assert.Equal(t, float64(100), stored.Features[FeatureDeviceHealth].Properties["healthScore"])
	assert.Equal(t, float64(0), stored.Features[FeatureCrowdMonitoring].Properties["peopleCount"])

	store.mu.Lock()
	_, policyCreated := store.policies[PolicyID(testNamespace)]
	store.mu.Unlock()
	assert.True(t, policyCreated)
}

func TestEnsureGridTwin_ExistingIsUntouched(t *testing.T) {
	store := newFakeStore()
	store.put(gridTwin(8))
	c, _ := newTestClient(t, store)

	require.NoError(t, c.EnsureGridTwin(context.Background(), "1"))

	assert.Equal(t, 0, store.callCount("PUT "))
	assert.Equal(t, 0, store.callCount("PATCH "))
	stored, _ := store.get(grid1)
	assert.Equal(t, float64(8), stored.Features[FeatureCrowdMonitoring].Properties["peopleCount"])
}

func TestEnsureGridTwin_ConcurrentCallsCreateOnce(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestClient(t, store)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.EnsureGridTwin(context.Background(), "3")
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	_, ok := store.get("org.dhsiled:grid-3")
	assert.True(t, ok)
	assert.Equal(t, 1, store.callCount("PUT /things/org.dhsiled:grid-3 if-none-match"))
	assert.Equal(t, 1, store.callCount("PUT /policies/"))
}

func TestMetricsRecorded(t *testing.T) {
	store := newFakeStore()
	srv := httptest.NewServer(store)
	defer srv.Close()

	m := metric.NewMetrics()
	c, err := NewClient(Config{
		Endpoint: srv.URL, Namespace: testNamespace, Username: testUser, Password: testPassword,
	}, nil, m)
	require.NoError(t, err)

	_, _ = c.GetTwin(context.Background(), grid1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StoreRequests.WithLabelValues("GetTwin", "not_found")))
}

func asJSON(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}
